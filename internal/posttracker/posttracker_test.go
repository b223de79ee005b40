package posttracker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
)

func TestIntervalDecaysByAge(t *testing.T) {
	assert.Equal(t, 60*time.Second, interval(30*time.Minute))
	assert.Equal(t, 120*time.Second, interval(2*time.Hour))
	assert.Equal(t, 10*time.Minute, interval(12*time.Hour))
	assert.Equal(t, 60*time.Minute, interval(48*time.Hour))
}

type fakeStore struct {
	newPosts        []model.PostSnapshot
	latestPointDate map[[2]int64]time.Time
}

func (s *fakeStore) NewPosts(ctx context.Context, shard int, since time.Time) ([]model.PostSnapshot, error) {
	return s.newPosts, nil
}

func (s *fakeStore) LatestPostPointDate(ctx context.Context, channelID, postID int64) (time.Time, bool, error) {
	pd, ok := s.latestPointDate[[2]int64{channelID, postID}]
	return pd, ok, nil
}

type fakeBatcher struct {
	posts []model.PostSnapshot
}

func (b *fakeBatcher) AddPostSnapshot(p model.PostSnapshot) { b.posts = append(b.posts, p) }

type fakePostFetcher struct {
	msg chatnet.Message
	err error
}

func (f *fakePostFetcher) Message(ctx context.Context, chatID, messageID int64) (chatnet.Message, error) {
	return f.msg, f.err
}

func TestPassSkipsPostNotYetDueForResample(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{
		newPosts: []model.PostSnapshot{{ID: 1, ChannelID: 10, PostDate: now, SessionIndex: 0}},
	}
	bat := &fakeBatcher{}
	fetcher := &fakePostFetcher{msg: chatnet.Message{}}

	tr := New(Options{
		Shard:      0,
		Store:      store,
		Batcher:    bat,
		SessionFor: func(index int) PostFetcher { return fetcher },
		Log:        zerolog.Nop(),
	})

	tr.Pass(context.Background())
	assert.Empty(t, bat.posts, "a post just ingested should not be due yet")
}

func TestPassResamplesDuePost(t *testing.T) {
	old := time.Now().UTC().Add(-2 * time.Hour) // < 4h bucket, interval 120s
	store := &fakeStore{
		newPosts:        []model.PostSnapshot{{ID: 1, ChannelID: 10, PostDate: old, SessionIndex: 0}},
		latestPointDate: map[[2]int64]time.Time{{10, 1}: old.Add(-10 * time.Minute)},
	}
	bat := &fakeBatcher{}
	fetcher := &fakePostFetcher{msg: chatnet.Message{}}

	tr := New(Options{
		Shard:      0,
		Store:      store,
		Batcher:    bat,
		SessionFor: func(index int) PostFetcher { return fetcher },
		Log:        zerolog.Nop(),
	})

	tr.Pass(context.Background())
	require.Len(t, bat.posts, 1)
	assert.Equal(t, int64(1), bat.posts[0].ID)
}

func TestPassMarksGoneWhenFetchFails(t *testing.T) {
	old := time.Now().UTC().Add(-2 * time.Hour)
	store := &fakeStore{
		newPosts:        []model.PostSnapshot{{ID: 1, ChannelID: 10, PostDate: old, SessionIndex: 0}},
		latestPointDate: map[[2]int64]time.Time{{10, 1}: old.Add(-10 * time.Minute)},
	}
	bat := &fakeBatcher{}
	fetcher := &fakePostFetcher{err: assert.AnError}

	tr := New(Options{
		Shard:      0,
		Store:      store,
		Batcher:    bat,
		SessionFor: func(index int) PostFetcher { return fetcher },
		Log:        zerolog.Nop(),
	})

	tr.Pass(context.Background())
	assert.Empty(t, bat.posts)

	key := postKey{channelID: 10, postID: 1}
	tr.mu.Lock()
	state := tr.posts[key]
	tr.mu.Unlock()
	require.NotNil(t, state)
	assert.True(t, state.gone)

	// a second pass must not refetch a post marked gone.
	tr.Pass(context.Background())
	assert.Empty(t, bat.posts)
}

func TestPassDeduplicatesAlreadyIngestedPost(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{
		newPosts: []model.PostSnapshot{{ID: 1, ChannelID: 10, PostDate: now, SessionIndex: 0}},
	}
	bat := &fakeBatcher{}
	fetcher := &fakePostFetcher{}

	tr := New(Options{
		Shard:      0,
		Store:      store,
		Batcher:    bat,
		SessionFor: func(index int) PostFetcher { return fetcher },
		Log:        zerolog.Nop(),
	})

	tr.Pass(context.Background())
	tr.Pass(context.Background())

	assert.Len(t, tr.posts, 1)
}
