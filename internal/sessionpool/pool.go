// Package sessionpool implements the Session Pool: the process-wide,
// shard-scoped singleton that bootstraps Session Client Wrappers from the
// store and routes discover/get_messages calls across them (§4.2).
package sessionpool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/voxharbor/engine/internal/apperrors"
	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/session"
)

const (
	// discoverCacheTTL is the lifetime of a discover() handle reservation
	// (§4.2).
	discoverCacheTTL = 60 * time.Second

	// discoverCacheMaxEntries caps the TTL cache size; enforcement is
	// advisory (Redis key count is not checked on the hot path) and is
	// satisfied in practice by the 60s TTL bounding total outstanding
	// reservations.
	discoverCacheMaxEntries = 500
)

// Member is one wrapped session managed by the pool. Index is promoted
// from the embedded Wrapper.
type Member struct {
	Client chatnet.Client
	*session.Wrapper
}

// discoverCache is the narrow capability DiscoverChat's TTL reservation
// needs from a Redis client: an atomic SET-if-not-exists with expiry. A
// *redis.Client satisfies it directly; tests can substitute an in-memory
// fake to exercise the 60s TTL reservation property (Testable Property 3)
// without a live or embedded Redis.
type discoverCache interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
}

// Pool is the shard-scoped singleton over every active Session Client
// Wrapper.
type Pool struct {
	mu      sync.RWMutex
	members []*Member

	redis discoverCache
	rnd   *rand.Rand
	rndMu sync.Mutex
}

// Options configures pool construction.
type Options struct {
	ActiveSessionsCount int
	WrapperOptions      session.Options
	Redis               discoverCache
}

// Bootstrap reads the session table (via the caller-supplied loader,
// typically store.Gateway.LoadSessions), filters broken ids, takes the
// first N active sessions, and wraps each with a chatnet.Client built by
// newClient. Construction fails if fewer than N non-broken sessions
// remain (§4.2).
func Bootstrap(
	sessions []model.Session,
	broken map[int64]struct{},
	newClient func(model.Session) chatnet.Client,
	opts Options,
) (*Pool, error) {
	var active []model.Session
	for _, s := range sessions {
		if _, isBroken := broken[s.ID]; isBroken {
			continue
		}
		active = append(active, s)
		if len(active) == opts.ActiveSessionsCount {
			break
		}
	}

	if len(active) < opts.ActiveSessionsCount {
		return nil, errors.Errorf("sessionpool: need %d active sessions, found %d", opts.ActiveSessionsCount, len(active))
	}

	p := &Pool{
		redis: opts.Redis,
		rnd:   rand.New(rand.NewSource(1)),
	}

	for i, s := range active {
		client := newClient(s)
		p.members = append(p.members, &Member{
			Client:  client,
			Wrapper: session.New(i, client, opts.WrapperOptions),
		})
	}

	return p, nil
}

// Members returns the pool's wrapped sessions.
func (p *Pool) Members() []*Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Member, len(p.members))
	copy(out, p.members)
	return out
}

// Member looks up a wrapped session by index.
func (p *Pool) Member(index int) (*Member, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.members {
		if m.Index() == index {
			return m, true
		}
	}
	return nil, false
}

// DiscoverChat atomically reserves handle in the 60s/500-entry TTL cache,
// then picks a session with probability inversely proportional to its
// current subscribed-set size and delegates to its Discover.
func (p *Pool) DiscoverChat(ctx context.Context, handle string, withLinked, skipOwnershipCheck bool, reconciler session.OwnershipReconciler) (chatnet.Chat, error) {
	reserved, err := p.redis.SetNX(ctx, discoverCacheKey(handle), 1, discoverCacheTTL).Result()
	if err != nil {
		return chatnet.Chat{}, err
	}
	if !reserved {
		return chatnet.Chat{}, apperrors.ErrAlreadyJoined
	}

	member := p.pickWeighted()
	if member == nil {
		return chatnet.Chat{}, errors.New("sessionpool: no sessions available")
	}

	return member.Discover(ctx, handle, withLinked, skipOwnershipCheck, reconciler)
}

// pickWeighted selects a session with probability inversely proportional
// to its subscribed-set size: weight = (total_chats_across_pool + 1) /
// own_count, or total_chats_across_pool + 1 for a session with no chats.
func (p *Pool) pickWeighted() *Member {
	members := p.Members()
	if len(members) == 0 {
		return nil
	}

	counts := make([]int, len(members))
	total := 0
	for i, m := range members {
		counts[i] = m.SubscribedCount()
		total += counts[i]
	}

	weights := make([]float64, len(members))
	sumWeights := 0.0
	for i, c := range counts {
		w := float64(total + 1)
		if c > 0 {
			w = float64(total+1) / float64(c)
		}
		weights[i] = w
		sumWeights += w
	}

	p.rndMu.Lock()
	r := p.rnd.Float64() * sumWeights
	p.rndMu.Unlock()

	for i, w := range weights {
		if r < w {
			return members[i]
		}
		r -= w
	}
	return members[len(members)-1]
}

// GetMessages routes a batch fetch to the named session's Message method.
// The result has exactly one entry per input id, in order; an id whose
// fetch failed is represented by a nil entry rather than aborting the
// whole batch, so one missing message doesn't drop every other entry in
// the group (§4.8: "drops entries whose fetch returned null").
func (p *Pool) GetMessages(ctx context.Context, sessionIndex int, chatID int64, messageIDs []int64) ([]*chatnet.Message, error) {
	member, ok := p.Member(sessionIndex)
	if !ok {
		return nil, apperrors.NotFound("session")
	}

	out := make([]*chatnet.Message, len(messageIDs))
	for i, id := range messageIDs {
		msg, err := member.Message(ctx, chatID, id)
		if err != nil {
			continue
		}
		out[i] = &msg
	}
	return out, nil
}

func discoverCacheKey(handle string) string {
	return "voxharbor:discover:" + handle
}
