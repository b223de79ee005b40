// Package posttracker implements the Post Tracker: a decaying resample
// loop over recently observed channel posts (§4.7).
package posttracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
)

// passInterval is the outer loop's sleep between resample passes (§4.7).
const passInterval = 30 * time.Second

// recentWindow bounds how old a post can be to remain in scope at all
// (§4.7's materialized-view filter).
const recentWindow = 3 * 24 * time.Hour

// interval returns the decaying resample interval for a post of the given
// age (§4.7's table).
func interval(age time.Duration) time.Duration {
	switch {
	case age < time.Hour:
		return 60 * time.Second
	case age < 4*time.Hour:
		return 120 * time.Second
	case age < 24*time.Hour:
		return 10 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// Store is the persistence surface the tracker needs.
type Store interface {
	NewPosts(ctx context.Context, shard int, since time.Time) ([]model.PostSnapshot, error)
	LatestPostPointDate(ctx context.Context, channelID, postID int64) (time.Time, bool, error)
}

// Batcher is the subset of batcher.Batcher the tracker needs.
type Batcher interface {
	AddPostSnapshot(p model.PostSnapshot)
}

// PostFetcher fetches a post's current state by (channelID, postID),
// delegating to the owning session.
type PostFetcher interface {
	Message(ctx context.Context, chatID, messageID int64) (chatnet.Message, error)
}

type postKey struct {
	channelID int64
	postID    int64
}

type postState struct {
	sessionIndex  int
	postDate      time.Time
	lastPointDate time.Time
	gone          bool
}

// Tracker holds the per-post resample state for one shard.
type Tracker struct {
	shard   int
	store   Store
	batcher Batcher
	log     zerolog.Logger

	sessionFor func(index int) PostFetcher

	mu    sync.Mutex
	posts map[postKey]*postState
}

// Options configures a Tracker.
type Options struct {
	Shard      int
	Store      Store
	Batcher    Batcher
	SessionFor func(index int) PostFetcher
	Log        zerolog.Logger
}

// New builds an empty Tracker.
func New(opts Options) *Tracker {
	return &Tracker{
		shard:      opts.Shard,
		store:      opts.Store,
		batcher:    opts.Batcher,
		sessionFor: opts.SessionFor,
		log:        opts.Log,
		posts:      make(map[postKey]*postState),
	}
}

// Run sleeps passInterval between passes; all errors within a pass are
// logged, never abort the loop (§4.7).
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(passInterval)
	defer ticker.Stop()

	t.Pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Pass(ctx)
		}
	}
}

// Pass runs one resample iteration: discovers fresh posts, lazily
// initializes their state from the latest store snapshot, then refetches
// any post whose age-appropriate interval has elapsed.
func (t *Tracker) Pass(ctx context.Context) {
	now := time.Now().UTC()

	fresh, err := t.store.NewPosts(ctx, t.shard, now.Add(-recentWindow))
	if err != nil {
		t.log.Error().Err(err).Msg("posttracker: failed to load new posts")
	} else {
		t.ingest(ctx, fresh)
	}

	for key, state := range t.snapshot() {
		if state.gone {
			continue
		}
		if now.Sub(state.lastPointDate) < interval(now.Sub(state.postDate)) {
			continue
		}
		t.resample(ctx, key, state)
	}
}

func (t *Tracker) ingest(ctx context.Context, posts []model.PostSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range posts {
		key := postKey{channelID: p.ChannelID, postID: p.ID}
		if _, ok := t.posts[key]; ok {
			continue
		}

		lastPoint := p.PostDate
		if pd, ok, err := t.store.LatestPostPointDate(ctx, p.ChannelID, p.ID); err == nil && ok {
			lastPoint = pd
		}

		t.posts[key] = &postState{
			sessionIndex:  p.SessionIndex,
			postDate:      p.PostDate,
			lastPointDate: lastPoint,
		}
	}
}

func (t *Tracker) snapshot() map[postKey]postState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[postKey]postState, len(t.posts))
	for k, v := range t.posts {
		out[k] = *v
	}
	return out
}

func (t *Tracker) resample(ctx context.Context, key postKey, state postState) {
	fetcher := t.sessionFor(state.sessionIndex)
	if fetcher == nil {
		return
	}

	msg, err := fetcher.Message(ctx, key.channelID, key.postID)
	if err != nil {
		t.markGone(key)
		return
	}

	now := time.Now().UTC()
	t.batcher.AddPostSnapshot(model.PostSnapshot{
		ID:           key.postID,
		ChannelID:    key.channelID,
		PostDate:     state.postDate,
		PointDate:    now,
		Data:         chatnet.SnapshotData(msg),
		SessionIndex: state.sessionIndex,
		Shard:        t.shard,
	})

	t.mu.Lock()
	if s, ok := t.posts[key]; ok {
		s.lastPointDate = now
	}
	t.mu.Unlock()
}

// markGone bumps lastPointDate to suppress further fetches of a post that
// no longer exists, per §4.7.
func (t *Tracker) markGone(key postKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.posts[key]; ok {
		s.gone = true
		s.lastPointDate = time.Now().UTC()
	}
}
