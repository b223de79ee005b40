package store

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/voxharbor/engine/internal/model"
)

// LoadSessions reads the session table for `table` (selected by Mode, see
// config.SessionTableName), ordered by id, filtered to the given shard, and
// returns the disjoint broken-session set so the Session Pool can exclude
// it (§4.2).
func (g *Gateway) LoadSessions(ctx context.Context, table string, shard int) ([]model.Session, map[int64]struct{}, error) {
	rows, err := g.conn.Query(ctx,
		"SELECT id, shard, name, session_string FROM "+table+" WHERE shard = @shard ORDER BY id",
		clickhouse.Named("shard", shard),
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.Shard, &s.DisplayName, &s.SessionBlob); err != nil {
			return nil, nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	brokenRows, err := g.conn.Query(ctx, "SELECT id FROM broken_bots")
	if err != nil {
		return nil, nil, err
	}
	defer brokenRows.Close()

	broken := make(map[int64]struct{})
	for brokenRows.Next() {
		var id int64
		if err := brokenRows.Scan(&id); err != nil {
			return nil, nil, err
		}
		broken[id] = struct{}{}
	}
	if err := brokenRows.Err(); err != nil {
		return nil, nil, err
	}

	return sessions, broken, nil
}

// MarkSessionBroken appends an id to broken_bots (§4.8 /remove_bot).
func (g *Gateway) MarkSessionBroken(ctx context.Context, sessionID int64) error {
	return g.conn.Exec(ctx, "INSERT INTO broken_bots (id) VALUES (@id)", clickhouse.Named("id", sessionID))
}
