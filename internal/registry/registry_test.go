package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/session"
)

type memStore struct {
	chats   []model.Chat
	inserts []model.Chat
}

func (s *memStore) LoadChats(ctx context.Context) ([]model.Chat, error) {
	return s.chats, nil
}

func (s *memStore) InsertChat(ctx context.Context, c model.Chat) error {
	s.inserts = append(s.inserts, c)
	s.chats = append(s.chats, c)
	return nil
}

type recordingBackfill struct {
	started []int64
}

func (b *recordingBackfill) StartBackfillFromLatest(chatID int64) {
	b.started = append(b.started, chatID)
}

func newWrappedMember(t *testing.T, index int) (*session.Wrapper, *chatnet.Fake) {
	t.Helper()
	fake := chatnet.NewFake()
	w := session.New(index, fake, session.Options{MaxChatsForSession: 200, MinChatMembers: 0, MinChannelMembers: 0})
	return w, fake
}

func TestReconcileLeavesChatWhenOwnershipMovedAway(t *testing.T) {
	w, fake := newWrappedMember(t, 0)
	fake.SeedPreview("a", chatnet.Chat{ID: 100, Title: "a", Kind: chatnet.KindChat})
	_, err := w.Join(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, w.Subscribed(100))

	st := &memStore{chats: []model.Chat{
		{ChatID: 100, Shard: 1, SessionIndex: 0, Type: model.ChatTypeChat}, // owned by a different shard now
	}}

	r := New(Options{
		Shard: 0,
		Store: st,
		Members: func() []SessionMember {
			return []SessionMember{w}
		},
		Log: zerolog.Nop(),
	})

	r.Reconcile(context.Background())
	assert.False(t, w.Subscribed(100))
}

func TestReconcileJoinsOwnedChatNotYetSubscribed(t *testing.T) {
	w, fake := newWrappedMember(t, 0)
	fake.SeedPreview("owned", chatnet.Chat{ID: 200, Title: "owned", Kind: chatnet.KindChat})

	st := &memStore{chats: []model.Chat{
		{ChatID: 200, Shard: 0, SessionIndex: 0, JoinString: "owned", Type: model.ChatTypeChat},
	}}

	r := New(Options{
		Shard: 0,
		Store: st,
		Members: func() []SessionMember {
			return []SessionMember{w}
		},
		Log: zerolog.Nop(),
	})

	r.Reconcile(context.Background())
	assert.True(t, w.Subscribed(200))
}

func TestReconcileSwallowsErrorsAndContinues(t *testing.T) {
	w, _ := newWrappedMember(t, 0)
	// no preview seeded for "missing" -> join will fail

	st := &memStore{chats: []model.Chat{
		{ChatID: 300, Shard: 0, SessionIndex: 0, JoinString: "missing", Type: model.ChatTypeChat},
	}}

	r := New(Options{
		Shard: 0,
		Store: st,
		Members: func() []SessionMember {
			return []SessionMember{w}
		},
		Log: zerolog.Nop(),
	})

	assert.NotPanics(t, func() {
		r.Reconcile(context.Background())
	})
}

func TestRegisterNewChatPersistsAndStartsBackfill(t *testing.T) {
	st := &memStore{}
	bf := &recordingBackfill{}

	r := New(Options{
		Shard:    0,
		Store:    st,
		Members:  func() []SessionMember { return nil },
		Backfill: bf,
		Log:      zerolog.Nop(),
	})

	err := r.RegisterNewChat(context.Background(), 2, chatnet.Chat{ID: 400, Title: "new", Kind: chatnet.KindChat})
	require.NoError(t, err)

	c, ok := r.Get(400)
	require.True(t, ok)
	assert.Equal(t, 2, c.SessionIndex)
	require.Len(t, st.inserts, 1)
	assert.Equal(t, []int64{400}, bf.started)
}
