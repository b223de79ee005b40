package store

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/voxharbor/engine/internal/model"
)

// LoadChats reloads the full Chat table snapshot, used by the Chat
// Registry's reconciliation pass (§4.3).
func (g *Gateway) LoadChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := g.conn.Query(ctx, "SELECT id, name, join_string, shard, bot_index, added, type FROM chats")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		var chatType string
		if err := rows.Scan(&c.ChatID, &c.Name, &c.JoinString, &c.Shard, &c.SessionIndex, &c.AddedAt, &chatType); err != nil {
			return nil, err
		}
		c.Type = model.ChatType(chatType)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatByID fetches a single chat row, returning ok=false if absent.
func (g *Gateway) ChatByID(ctx context.Context, chatID int64) (model.Chat, bool, error) {
	row := g.conn.QueryRow(ctx,
		"SELECT id, name, join_string, shard, bot_index, added, type FROM chats WHERE id = @id LIMIT 1",
		clickhouse.Named("id", chatID))

	var c model.Chat
	var chatType string
	if err := row.Scan(&c.ChatID, &c.Name, &c.JoinString, &c.Shard, &c.SessionIndex, &c.AddedAt, &chatType); err != nil {
		if err == clickhouse.ErrNoRows {
			return model.Chat{}, false, nil
		}
		return model.Chat{}, false, err
	}
	c.Type = model.ChatType(chatType)
	return c, true, nil
}

// ChatByJoinString resolves a chat by its exact public join string, used to
// turn a /reactions_by_url channel nickname into a chat id.
func (g *Gateway) ChatByJoinString(ctx context.Context, joinString string) (model.Chat, bool, error) {
	row := g.conn.QueryRow(ctx,
		"SELECT id, name, join_string, shard, bot_index, added, type FROM chats WHERE join_string = @join_string LIMIT 1",
		clickhouse.Named("join_string", joinString))

	var c model.Chat
	var chatType string
	if err := row.Scan(&c.ChatID, &c.Name, &c.JoinString, &c.Shard, &c.SessionIndex, &c.AddedAt, &chatType); err != nil {
		if err == clickhouse.ErrNoRows {
			return model.Chat{}, false, nil
		}
		return model.Chat{}, false, err
	}
	c.Type = model.ChatType(chatType)
	return c, true, nil
}

// ChatsByNameOrJoinString matches the /chats Web UI lookup (name ILIKE or
// join_string ILIKE, prefix match).
func (g *Gateway) ChatsByNameOrJoinString(ctx context.Context, name, joinString string) ([]model.Chat, error) {
	rows, err := g.conn.Query(ctx,
		"SELECT id, name, join_string, shard, bot_index, added, type FROM chats WHERE name ILIKE @name OR join_string ILIKE @join_string",
		clickhouse.Named("name", name+"%"),
		clickhouse.Named("join_string", joinString+"%"),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		var chatType string
		if err := rows.Scan(&c.ChatID, &c.Name, &c.JoinString, &c.Shard, &c.SessionIndex, &c.AddedAt, &chatType); err != nil {
			return nil, err
		}
		c.Type = model.ChatType(chatType)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// InsertChat adds the authoritative ownership row for a newly registered
// chat (§4.3 register_new_chat). async_insert is set at the connection
// level (see Open).
func (g *Gateway) InsertChat(ctx context.Context, c model.Chat) error {
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now().UTC()
	}
	return g.conn.Exec(ctx,
		"INSERT INTO chats (id, name, join_string, shard, bot_index, added, type) VALUES (@id, @name, @join_string, @shard, @bot_index, @added, @type)",
		clickhouse.Named("id", c.ChatID),
		clickhouse.Named("name", c.Name),
		clickhouse.Named("join_string", c.JoinString),
		clickhouse.Named("shard", c.Shard),
		clickhouse.Named("bot_index", c.SessionIndex),
		clickhouse.Named("added", c.AddedAt),
		clickhouse.Named("type", string(c.Type)),
	)
}

// LatestChatUpdate reads the most recent advisory chat_updates row for a
// shard; ok=false when the table has no rows yet for it.
func (g *Gateway) LatestChatUpdate(ctx context.Context, shard int) (model.ChatUpdate, bool, error) {
	row := g.conn.QueryRow(ctx,
		"SELECT shard, bot_index, added FROM chat_updates WHERE shard = @shard ORDER BY added DESC LIMIT 1",
		clickhouse.Named("shard", shard))

	var u model.ChatUpdate
	if err := row.Scan(&u.Shard, &u.SessionIndex, &u.AddedAt); err != nil {
		if err == clickhouse.ErrNoRows {
			return model.ChatUpdate{}, false, nil
		}
		return model.ChatUpdate{}, false, err
	}
	return u, true, nil
}

// ChatMessageIDRange reads the (min, max) message id ever observed for a
// chat from the comments_range_mv projection, used to seed the two
// History Backfill arms on registry bootstrap (§4.6).
func (g *Gateway) ChatMessageIDRange(ctx context.Context, chatID int64) (min, max int64, err error) {
	row := g.conn.QueryRow(ctx,
		"SELECT min_message_id, max_message_id FROM comments_range_mv WHERE chat_id = @chat_id",
		clickhouse.Named("chat_id", chatID))

	if err := row.Scan(&min, &max); err != nil {
		if err == clickhouse.ErrNoRows {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return min, max, nil
}
