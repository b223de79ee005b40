package autodiscover

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxharbor/engine/internal/model"
)

type fakeStore struct {
	pending  []model.DiscoveredChat
	inserted []model.DiscoveredChat
}

func (s *fakeStore) PendingDiscoveredChats(ctx context.Context, limit int) ([]model.DiscoveredChat, error) {
	return s.pending, nil
}
func (s *fakeStore) InsertDiscoveredChat(ctx context.Context, d model.DiscoveredChat) error {
	s.inserted = append(s.inserted, d)
	return nil
}

type fakeDiscoverer struct {
	calledWith string
	err        error
}

func (d *fakeDiscoverer) Discover(ctx context.Context, joinString string, ignoreProtection bool) error {
	d.calledWith = joinString
	return d.err
}

func TestRunOnceSkipsWhenNoPendingChats(t *testing.T) {
	st := &fakeStore{}
	disc := &fakeDiscoverer{}
	l := New(st, disc, zerolog.Nop())

	require.NoError(t, l.runOnce(context.Background()))
	assert.Empty(t, disc.calledWith)
	assert.Empty(t, st.inserted)
}

func TestRunOnceRetractsAndDiscoversOnePendingChat(t *testing.T) {
	st := &fakeStore{pending: []model.DiscoveredChat{
		{ChatID: 1, JoinString: "chatone", SubscribersCount: 100},
	}}
	disc := &fakeDiscoverer{}
	l := New(st, disc, zerolog.Nop())

	require.NoError(t, l.runOnce(context.Background()))
	assert.Equal(t, "chatone", disc.calledWith)
	require.Len(t, st.inserted, 1)
	assert.Equal(t, -1, st.inserted[0].Sign)
}

func TestRunOnceReturnsErrorFromDiscoverer(t *testing.T) {
	st := &fakeStore{pending: []model.DiscoveredChat{{ChatID: 1, JoinString: "x"}}}
	disc := &fakeDiscoverer{err: assert.AnError}
	l := New(st, disc, zerolog.Nop())

	err := l.runOnce(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
