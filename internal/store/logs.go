package store

import (
	"context"

	"github.com/voxharbor/engine/internal/model"
)

// LogStore is the batched-insert target for the ClickHouse logging hook.
// It is split from Gateway's other concerns because the logging package
// must not import the whole of store's domain surface, only this sink.
type LogStore struct {
	gw *Gateway
}

// NewLogStore wraps a Gateway as a LogStore.
func NewLogStore(gw *Gateway) *LogStore {
	return &LogStore{gw: gw}
}

// Insert appends a batch of log records in one round trip.
func (s *LogStore) Insert(ctx context.Context, records []model.LogRecord) error {
	batch, err := s.gw.conn.PrepareBatch(ctx, "INSERT INTO logs (created, level_no, message, shard, fqdn)")
	if err != nil {
		return err
	}

	for _, r := range records {
		if err := batch.Append(r.Created, r.LevelNo, r.Message, r.Shard, r.FQDN); err != nil {
			return err
		}
	}

	return batch.Send()
}
