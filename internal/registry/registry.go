// Package registry implements the Chat Registry: the in-memory
// chat_id -> Chat map and its reconciliation pass (§4.3).
package registry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
)

// reconcileInterval is the unconditional, authoritative reconciliation
// cadence (§4.3).
const reconcileInterval = 60 * time.Second

// chatUpdatesSubject is the advisory NATS subject published on
// registration and subscribed for early logging only; it never replaces
// the unconditional tick above.
const chatUpdatesSubject = "voxharbor.chat_updates"

// Store is the persistence surface the registry needs from the Store
// Gateway.
type Store interface {
	LoadChats(ctx context.Context) ([]model.Chat, error)
	InsertChat(ctx context.Context, c model.Chat) error
}

// SessionMember is the capability surface the registry needs from a pool
// member to join/leave and discover chats during reconciliation.
type SessionMember interface {
	Index() int
	Subscribed(chatID int64) bool
	Leave(ctx context.Context, chatID int64) error
	Join(ctx context.Context, handleOrID string) (chatnet.Chat, error)
}

// BackfillStarter kicks off History Backfill for a newly registered chat,
// without the "from earliest" arm (§4.3's register_new_chat).
type BackfillStarter interface {
	StartBackfillFromLatest(chatID int64)
}

// Registry holds the authoritative in-memory chat map for one shard.
type Registry struct {
	shard int

	store   Store
	members func() []SessionMember
	backfill BackfillStarter

	nc *nats.Conn
	log zerolog.Logger

	mu    sync.RWMutex
	chats map[int64]model.Chat
}

// Options configures a Registry.
type Options struct {
	Shard    int
	Store    Store
	Members  func() []SessionMember
	Backfill BackfillStarter
	Nats     *nats.Conn // optional; advisory pub/sub is skipped if nil
	Log      zerolog.Logger
}

// New constructs an empty Registry; call Reconcile (or Run) to
// populate it.
func New(opts Options) *Registry {
	r := &Registry{
		shard:    opts.Shard,
		store:    opts.Store,
		members:  opts.Members,
		backfill: opts.Backfill,
		nc:       opts.Nats,
		log:      opts.Log,
		chats:    make(map[int64]model.Chat),
	}

	if r.nc != nil {
		_, _ = r.nc.Subscribe(chatUpdatesSubject, func(msg *nats.Msg) {
			r.log.Debug().Str("subject", msg.Subject).Msg("advisory chat_updates signal received")
		})
	}

	return r
}

// Get looks up a chat by id.
func (r *Registry) Get(chatID int64) (model.Chat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chats[chatID]
	return c, ok
}

// Snapshot returns every known chat.
func (r *Registry) Snapshot() []model.Chat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Chat, 0, len(r.chats))
	for _, c := range r.chats {
		out = append(out, c)
	}
	return out
}

// Run ticks Reconcile every reconcileInterval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	r.Reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile performs one reconciliation pass (§4.3, exact algorithm):
//
//  1. Reload the Chat table snapshot.
//  2. For each known non-PRIVATE chat: for each local session, if the
//     session's subscribed-set contains the chat but ownership has moved
//     away (different shard or different designated session), leave it.
//  3. For each chat owned by this shard whose designated session is not
//     subscribed: join by join_string, or by "id:<n>" when the chat has
//     no join_string. This calls Join directly and does not go through
//     the discover path, so member-count floors, the approval wait and
//     linked-chat handling do not apply here.
//
// Errors are logged and swallowed; they never abort the pass.
func (r *Registry) Reconcile(ctx context.Context) {
	chats, err := r.store.LoadChats(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("reconcile: failed to reload chat snapshot")
		return
	}

	r.mu.Lock()
	r.chats = make(map[int64]model.Chat, len(chats))
	for _, c := range chats {
		r.chats[c.ChatID] = c
	}
	r.mu.Unlock()

	members := r.members()

	var leaves, joins int

	for _, c := range chats {
		if c.Type == model.ChatTypePrivate {
			continue
		}
		for _, m := range members {
			if !m.Subscribed(c.ChatID) {
				continue
			}
			if c.Shard != r.shard || c.SessionIndex != m.Index() {
				if err := m.Leave(ctx, c.ChatID); err != nil {
					r.log.Error().Err(err).Int64("chat_id", c.ChatID).Msg("reconcile: leave failed")
					continue
				}
				leaves++
			}
		}
	}

	memberByIndex := make(map[int]SessionMember, len(members))
	for _, m := range members {
		memberByIndex[m.Index()] = m
	}

	for _, c := range chats {
		if c.Shard != r.shard {
			continue
		}
		m, ok := memberByIndex[c.SessionIndex]
		if !ok {
			continue
		}
		if m.Subscribed(c.ChatID) {
			continue
		}

		target := c.JoinString
		if target == "" {
			target = formatChatIDTarget(c.ChatID)
		}
		if _, err := m.Join(ctx, target); err != nil {
			r.log.Error().Err(err).Int64("chat_id", c.ChatID).Msg("reconcile: join failed")
			continue
		}
		joins++
	}

	r.log.Debug().Int("leaves", leaves).Int("joins", joins).Msg("reconcile pass complete")
}

// RegisterNewChat is called when a session observes a chat not yet in the
// registry: persists a chat row built from chat as passed in (no further
// lookup of the chat is made), updates the in-memory
// map, publishes the advisory signal, and kicks off backfill without the
// "from earliest" arm (§4.3).
func (r *Registry) RegisterNewChat(ctx context.Context, sessionIndex int, chat chatnet.Chat) error {
	c := model.Chat{
		ChatID:       chat.ID,
		Name:         chat.Title,
		JoinString:   chat.JoinString,
		Shard:        r.shard,
		SessionIndex: sessionIndex,
		AddedAt:      time.Now().UTC(),
		Type:         model.ChatType(chat.Kind),
	}

	if err := r.store.InsertChat(ctx, c); err != nil {
		return err
	}

	r.mu.Lock()
	r.chats[c.ChatID] = c
	r.mu.Unlock()

	if r.nc != nil {
		_ = r.nc.Publish(chatUpdatesSubject, []byte(chat.Title))
	}

	if r.backfill != nil {
		r.backfill.StartBackfillFromLatest(c.ChatID)
	}

	return nil
}

func formatChatIDTarget(id int64) string {
	return "id:" + strconv.FormatInt(id, 10)
}
