// Package autodiscover implements the controller's background
// auto-discovery loop: every interval it picks one pending proposed chat
// and joins it, grounded on services/auto_discover.py's AutoDiscover.
package autodiscover

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/model"
)

// runInterval mirrors the original loop's 60s sleep between attempts.
const runInterval = 60 * time.Second

// candidatePoolSize bounds how many pending rows a pass considers before
// picking one at random.
const candidatePoolSize = 500

// Store is the persistence surface the loop needs.
type Store interface {
	PendingDiscoveredChats(ctx context.Context, limit int) ([]model.DiscoveredChat, error)
	InsertDiscoveredChat(ctx context.Context, d model.DiscoveredChat) error
}

// Discoverer is the Controller RPC surface's own discover handler, called
// exactly as a Web UI request would call it.
type Discoverer interface {
	Discover(ctx context.Context, joinString string, ignoreProtection bool) error
}

// Loop is the auto-discovery background worker. It must only be started
// when config.AutoDiscover is set and config.ReadOnly is not.
type Loop struct {
	store      Store
	discoverer Discoverer
	log        zerolog.Logger
	rnd        *rand.Rand
}

// New builds a Loop.
func New(store Store, discoverer Discoverer, log zerolog.Logger) *Loop {
	return &Loop{
		store:      store,
		discoverer: discoverer,
		log:        log,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run ticks every runInterval; a failed pass is logged and never aborts
// the loop.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()

	for {
		if err := l.runOnce(ctx); err != nil {
			l.log.Error().Err(err).Msg("autodiscover: pass failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce picks one pending discovered chat at random, retracts it from the
// pending set, and attempts to join it.
func (l *Loop) runOnce(ctx context.Context) error {
	pending, err := l.store.PendingDiscoveredChats(ctx, candidatePoolSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		l.log.Info().Msg("autodiscover: no pending chats")
		return nil
	}

	chosen := pending[l.rnd.Intn(len(pending))]
	l.log.Info().Int64("chat_id", chosen.ChatID).Str("join_string", chosen.JoinString).Msg("autodiscover: starting discover")

	if err := l.store.InsertDiscoveredChat(ctx, model.DiscoveredChat{
		ChatID:           chosen.ChatID,
		Name:             chosen.Name,
		JoinString:       chosen.JoinString,
		SubscribersCount: chosen.SubscribersCount,
		Sign:             -1,
	}); err != nil {
		return err
	}

	return l.discoverer.Discover(ctx, chosen.JoinString, false)
}
