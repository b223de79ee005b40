package store

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/voxharbor/engine/internal/model"
)

// UsersByUsernamePrefix matches the /users Web UI lookup.
func (g *Gateway) UsersByUsernamePrefix(ctx context.Context, username string, limit int) ([]model.User, error) {
	rows, err := g.conn.Query(ctx,
		"SELECT user_id, username, name FROM users WHERE username ILIKE @username LIMIT @limit",
		clickhouse.Named("username", username+"%"),
		clickhouse.Named("limit", limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// UsersByUserIDs returns every observed (user_id, username, name) sighting
// row for the given ids, used to build the deduplicated usernames/names
// lists a UserInfo response carries.
func (g *Gateway) UsersByUserIDs(ctx context.Context, userIDs []int64) ([]model.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := g.conn.Query(ctx,
		"SELECT user_id, username, name FROM users WHERE user_id IN @user_ids",
		clickhouse.Named("user_ids", userIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows driverRows) ([]model.User, error) {
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.UserID, &u.Username, &u.Name); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CommentsByUserID paginates a user's comment history, oldest first
// (ordered by date; the /comments Web UI endpoint).
func (g *Gateway) CommentsByUserID(ctx context.Context, userID int64, offset, fetch int) ([]model.Comment, error) {
	rows, err := g.conn.Query(ctx,
		`SELECT user_id, date, chat_id, message_id, channel_id, post_id, bot_index, shard
		 FROM comments
		 WHERE user_id = @user_id
		 ORDER BY date
		 OFFSET @offset ROW FETCH FIRST @fetch ROWS ONLY`,
		clickhouse.Named("user_id", userID),
		clickhouse.Named("offset", offset),
		clickhouse.Named("fetch", fetch),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.UserID, &c.Date, &c.ChatID, &c.MessageID, &c.ChannelID, &c.PostID, &c.SessionIndex, &c.Shard); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommentCount returns the total number of comments observed for a user.
func (g *Gateway) CommentCount(ctx context.Context, userID int64) (int64, error) {
	row := g.conn.QueryRow(ctx,
		"SELECT count(*) FROM comments WHERE user_id = @user_id",
		clickhouse.Named("user_id", userID))

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// RandomActiveUserIDs samples user ids with more than minComments comments,
// feeding the Web UI's random-user discovery surface.
func (g *Gateway) RandomActiveUserIDs(ctx context.Context, minComments, limit int) ([]int64, error) {
	rows, err := g.conn.Query(ctx,
		`SELECT user_id FROM comments
		 GROUP BY user_id
		 HAVING count() > @min_comments
		 ORDER BY rand()
		 LIMIT @limit`,
		clickhouse.Named("min_comments", minComments),
		clickhouse.Named("limit", limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ChannelCommentCount is one row of a user's per-channel comment tally.
type ChannelCommentCount struct {
	ChannelName string
	Count       int64
}

// CommentCountsByChannel tallies a user's comments per chat, most
// active first, for the /sample Web UI summary.
func (g *Gateway) CommentCountsByChannel(ctx context.Context, userID int64) ([]ChannelCommentCount, error) {
	rows, err := g.conn.Query(ctx,
		`SELECT name AS channel_name, count() AS count
		 FROM comments
		 INNER JOIN chats ON comments.chat_id = chats.id
		 WHERE comments.user_id = @user_id
		 GROUP BY chat_id, name
		 ORDER BY count DESC`,
		clickhouse.Named("user_id", userID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelCommentCount
	for rows.Next() {
		var c ChannelCommentCount
		if err := rows.Scan(&c.ChannelName, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// driverRows is the subset of clickhouse.Rows the scan helpers need, kept
// narrow so they can be exercised without a live driver in tests.
type driverRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}
