// Package logging sets up zerolog with a console writer for local runs,
// and adds a ClickHouse-backed sink mirroring common/logging_utils.py's
// ClickHouseHandler: log records are queued and flushed in batches instead
// of inserted one at a time.
package logging

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/store"
)

// New builds the base console logger used in development, matching the
// teacher's zerolog.ConsoleWriter setup.
func New() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Stamp,
	}).With().Timestamp().Logger()
}

// queueSize bounds the ClickHouse log sink per §5's back-pressure policy.
const queueSize = 100_000

// flushInterval matches the 5s cadence of the original ClickHouseHandler.
const flushInterval = 5 * time.Second

// ClickHouseHook is a zerolog.Hook that queues every log event for batched
// insertion into the logs table. It never blocks the caller; once the
// bounded queue is full, events are silently dropped rather than applying
// back-pressure to the logging call site.
type ClickHouseHook struct {
	shard int
	fqdn  string

	mu    sync.Mutex
	queue []model.LogRecord
}

// NewClickHouseHook constructs a hook for the given shard.
func NewClickHouseHook(shard int) *ClickHouseHook {
	hostname, _ := os.Hostname()
	return &ClickHouseHook{
		shard: shard,
		fqdn:  hostname,
		queue: make([]model.LogRecord, 0, 256),
	}
}

// Run implements zerolog.Hook.
func (h *ClickHouseHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.queue) >= queueSize {
		return
	}

	h.queue = append(h.queue, model.LogRecord{
		Created: time.Now().UTC(),
		LevelNo: int(level),
		Message: msg,
		Shard:   h.shard,
		FQDN:    h.fqdn,
	})
}

// Loop drains the queue into the store every flushInterval until ctx is
// done. All flush errors are logged and the next cycle proceeds regardless
// (per §7, the engine never terminates on a transient logging failure).
func (h *ClickHouseHook) Loop(ctx context.Context, logs *store.LogStore, log zerolog.Logger) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.flush(ctx, logs, log)
			return
		case <-ticker.C:
			h.flush(ctx, logs, log)
		}
	}
}

func (h *ClickHouseHook) flush(ctx context.Context, logs *store.LogStore, log zerolog.Logger) {
	h.mu.Lock()
	batch := h.queue
	h.queue = make([]model.LogRecord, 0, 256)
	h.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := logs.Insert(ctx, batch); err != nil {
		log.Error().Err(err).Int("count", len(batch)).Msg("failed to flush logs")
	}
}
