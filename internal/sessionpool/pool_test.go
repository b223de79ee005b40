package sessionpool

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxharbor/engine/internal/apperrors"
	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/session"
)

// fakeDiscoverCache is an in-memory discoverCache standing in for Redis, so
// DiscoverChat's 60s TTL reservation (Testable Property 3) can be unit
// tested without a live or embedded Redis.
type fakeDiscoverCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newFakeDiscoverCache() *fakeDiscoverCache {
	return &fakeDiscoverCache{seen: make(map[string]struct{})}
}

func (f *fakeDiscoverCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.seen[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.seen[key] = struct{}{}
	cmd.SetVal(true)
	return cmd
}

func memberHandle(id int64) string {
	return "h" + strconv.FormatInt(id, 10)
}

func newClientFunc() func(model.Session) chatnet.Client {
	return func(s model.Session) chatnet.Client {
		return chatnet.NewFake()
	}
}

func TestBootstrapFiltersBrokenAndCapsAtActiveCount(t *testing.T) {
	sessions := []model.Session{
		{ID: 1, Shard: 0},
		{ID: 2, Shard: 0},
		{ID: 3, Shard: 0},
		{ID: 4, Shard: 0},
	}
	broken := map[int64]struct{}{2: {}}

	pool, err := Bootstrap(sessions, broken, newClientFunc(), Options{
		ActiveSessionsCount: 2,
		WrapperOptions:      session.Options{MaxChatsForSession: 200, MinChatMembers: 10, MinChannelMembers: 100},
	})
	require.NoError(t, err)
	assert.Len(t, pool.Members(), 2)
}

func TestBootstrapFailsWhenInsufficientActiveSessions(t *testing.T) {
	sessions := []model.Session{
		{ID: 1, Shard: 0},
		{ID: 2, Shard: 0},
	}
	broken := map[int64]struct{}{2: {}}

	_, err := Bootstrap(sessions, broken, newClientFunc(), Options{
		ActiveSessionsCount: 2,
		WrapperOptions:      session.Options{MaxChatsForSession: 200, MinChatMembers: 10, MinChannelMembers: 100},
	})
	assert.Error(t, err)
}

func TestPickWeightedFavorsLessSubscribedSession(t *testing.T) {
	sessions := []model.Session{{ID: 1, Shard: 0}, {ID: 2, Shard: 0}}
	pool, err := Bootstrap(sessions, nil, newClientFunc(), Options{
		ActiveSessionsCount: 2,
		WrapperOptions:      session.Options{MaxChatsForSession: 200, MinChatMembers: 10, MinChannelMembers: 100},
	})
	require.NoError(t, err)

	members := pool.Members()
	fakeA := members[0].Client.(*chatnet.Fake)
	for i := int64(1); i <= 50; i++ {
		fakeA.SeedPreview(memberHandle(i), chatnet.Chat{ID: i, Kind: chatnet.KindChat})
		_, err := members[0].Wrapper.Join(context.Background(), memberHandle(i))
		require.NoError(t, err)
	}

	counts := map[int]int{}
	for i := 0; i < 200; i++ {
		m := pool.pickWeighted()
		counts[m.Index()]++
	}

	assert.Greater(t, counts[1], counts[0])
}

func TestDiscoverChatReservesHandleThenJoins(t *testing.T) {
	sessions := []model.Session{{ID: 1, Shard: 0}}
	pool, err := Bootstrap(sessions, nil, newClientFunc(), Options{
		ActiveSessionsCount: 1,
		WrapperOptions:      session.Options{MaxChatsForSession: 200, MinChatMembers: 10, MinChannelMembers: 100},
		Redis:               newFakeDiscoverCache(),
	})
	require.NoError(t, err)

	fake := pool.Members()[0].Client.(*chatnet.Fake)
	fake.SeedPreview("handle", chatnet.Chat{ID: 1, Kind: chatnet.KindChat, MembersCount: 50})

	chat, err := pool.DiscoverChat(context.Background(), "handle", false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chat.ID)
}

func TestDiscoverChatRejectsRepeatReservationOfSameHandle(t *testing.T) {
	sessions := []model.Session{{ID: 1, Shard: 0}}
	cache := newFakeDiscoverCache()
	pool, err := Bootstrap(sessions, nil, newClientFunc(), Options{
		ActiveSessionsCount: 1,
		WrapperOptions:      session.Options{MaxChatsForSession: 200, MinChatMembers: 10, MinChannelMembers: 100},
		Redis:               cache,
	})
	require.NoError(t, err)

	fake := pool.Members()[0].Client.(*chatnet.Fake)
	fake.SeedPreview("handle", chatnet.Chat{ID: 1, Kind: chatnet.KindChat, MembersCount: 50})

	_, err = pool.DiscoverChat(context.Background(), "handle", false, false, nil)
	require.NoError(t, err)

	_, err = pool.DiscoverChat(context.Background(), "handle", false, false, nil)
	require.ErrorIs(t, err, apperrors.ErrAlreadyJoined)
}
