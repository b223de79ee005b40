// Package batcher implements the Ingest Batcher: four mutex-guarded
// accumulators flushed to the store on a fixed cadence (§4.4).
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/model"
)

// flushInterval is the fixed wake cadence for the background flush task
// (§4.4).
const flushInterval = 10 * time.Second

// Store is the persistence surface the batcher flushes into.
type Store interface {
	InsertComments(ctx context.Context, comments []model.Comment) error
	InsertUsers(ctx context.Context, users []model.User) error
	InsertDiscoveredChat(ctx context.Context, d model.DiscoveredChat) error
	InsertPostSnapshot(ctx context.Context, p model.PostSnapshot) error
}

// Batcher accumulates the four ingest streams and flushes them
// periodically via a small bounded worker pool, so the four inserts run
// concurrently without unbounded goroutine fan-out.
type Batcher struct {
	store Store
	log   zerolog.Logger
	pool  *pond.WorkerPool

	mu       sync.Mutex
	comments []model.Comment
	users    []model.User
	chats    []model.DiscoveredChat
	posts    []model.PostSnapshot
}

// New constructs a Batcher. poolSize bounds the concurrent flush workers;
// 4 is sufficient since there are exactly four accumulators.
func New(store Store, log zerolog.Logger, poolSize int) *Batcher {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Batcher{
		store: store,
		log:   log,
		pool:  pond.New(poolSize, 0),
	}
}

// AddComment appends to the comments accumulator.
func (b *Batcher) AddComment(c model.Comment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comments = append(b.comments, c)
}

// AddUser appends to the users accumulator.
func (b *Batcher) AddUser(u model.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = append(b.users, u)
}

// AddDiscoveredChat appends to the discovered-chats accumulator.
func (b *Batcher) AddDiscoveredChat(d model.DiscoveredChat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats = append(b.chats, d)
}

// AddPostSnapshot appends to the posts accumulator. The in-memory
// data:map<string,int> shape is translated into parallel data.key/
// data.value columns by store.InsertPostSnapshot, not here.
func (b *Batcher) AddPostSnapshot(p model.PostSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.posts = append(b.posts, p)
}

// Run wakes every flushInterval, snapshots and clears all four
// accumulators under one lock, then performs up to four async inserts
// (skipping empty groups). Flush errors are logged and never clear the
// next cycle's accumulation.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background())
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	comments, users, chats, posts := b.comments, b.users, b.chats, b.posts
	b.comments, b.users, b.chats, b.posts = nil, nil, nil, nil
	b.mu.Unlock()

	var wg sync.WaitGroup

	if len(comments) > 0 {
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			if err := b.store.InsertComments(ctx, comments); err != nil {
				b.log.Error().Err(err).Int("count", len(comments)).Msg("flush: comments insert failed")
			}
		})
	}

	if len(users) > 0 {
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			if err := b.store.InsertUsers(ctx, users); err != nil {
				b.log.Error().Err(err).Int("count", len(users)).Msg("flush: users insert failed")
			}
		})
	}

	if len(chats) > 0 {
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			for _, c := range chats {
				if err := b.store.InsertDiscoveredChat(ctx, c); err != nil {
					b.log.Error().Err(err).Int64("chat_id", c.ChatID).Msg("flush: discovered-chat insert failed")
				}
			}
		})
	}

	if len(posts) > 0 {
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			for _, p := range posts {
				if err := b.store.InsertPostSnapshot(ctx, p); err != nil {
					b.log.Error().Err(err).Int64("post_id", p.ID).Msg("flush: post snapshot insert failed")
				}
			}
		})
	}

	wg.Wait()
}

// Stop releases the worker pool's goroutines.
func (b *Batcher) Stop() {
	b.pool.StopAndWait()
}
