package store

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/voxharbor/engine/internal/model"
)

// InsertDiscoveredChat appends one signed row to the discovered_chats log
// (§4.3's auto-discovery candidate feed): Sign=+1 to propose a forwarded
// source, Sign=-1 to retract it once auto-discovery has consumed it.
func (g *Gateway) InsertDiscoveredChat(ctx context.Context, d model.DiscoveredChat) error {
	return g.conn.Exec(ctx,
		"INSERT INTO discovered_chats (id, name, join_string, subscribers_count, sign) VALUES (@id, @name, @join_string, @subscribers_count, @sign)",
		clickhouse.Named("id", d.ChatID),
		clickhouse.Named("name", d.Name),
		clickhouse.Named("join_string", d.JoinString),
		clickhouse.Named("subscribers_count", d.SubscribersCount),
		clickhouse.Named("sign", d.Sign),
	)
}

// PendingDiscoveredChats returns every chat_id whose signed sum across
// discovered_chats rows is still positive, i.e. proposed but not yet
// retracted — the auto-discovery worklist.
func (g *Gateway) PendingDiscoveredChats(ctx context.Context, limit int) ([]model.DiscoveredChat, error) {
	rows, err := g.conn.Query(ctx,
		`SELECT id, any(name), any(join_string), any(subscribers_count), sum(sign) AS total
		 FROM discovered_chats
		 GROUP BY id
		 HAVING total > 0
		 ORDER BY any(subscribers_count) DESC
		 LIMIT @limit`,
		clickhouse.Named("limit", limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DiscoveredChat
	for rows.Next() {
		var d model.DiscoveredChat
		if err := rows.Scan(&d.ChatID, &d.Name, &d.JoinString, &d.SubscribersCount, &d.Sign); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
