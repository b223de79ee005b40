package chatnet

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Fake is an in-memory Client used by package tests across the engine. It
// never touches a network; chats and history are seeded directly.
type Fake struct {
	mu sync.Mutex

	dialogs  map[int64]Chat
	previews map[string]Chat // keyed by handle or join string
	history  map[int64][]Message
	handlers []func(Message)
	votes    []Vote

	// RequireApproval lists chat IDs whose Join should report
	// PendingApproval instead of succeeding immediately.
	RequireApproval map[int64]struct{}
}

// NewFake builds an empty fake client.
func NewFake() *Fake {
	return &Fake{
		dialogs:         make(map[int64]Chat),
		previews:        make(map[string]Chat),
		history:         make(map[int64][]Message),
		RequireApproval: make(map[int64]struct{}),
	}
}

// SeedPreview registers a resolvable chat that is not yet joined.
func (f *Fake) SeedPreview(handle string, c Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previews[handle] = c
}

// SeedHistory registers the message backlog for a chat, oldest first.
func (f *Fake) SeedHistory(chatID int64, msgs []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[chatID] = msgs
}

// Push delivers a message to every registered handler, simulating an
// inbound update.
func (f *Fake) Push(msg Message) {
	f.mu.Lock()
	handlers := append([]func(Message){}, f.handlers...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (f *Fake) Start(ctx context.Context) error { return nil }
func (f *Fake) Stop(ctx context.Context) error  { return nil }

func (f *Fake) Dialogs(ctx context.Context) ([]Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Chat, 0, len(f.dialogs))
	for _, c := range f.dialogs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ResolvePeer(ctx context.Context, handleOrID string) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.previews[handleOrID]; ok {
		return c, nil
	}
	for _, c := range f.dialogs {
		if c.JoinString == handleOrID {
			return c, nil
		}
	}
	return Chat{}, errors.New("chatnet: no such peer")
}

func (f *Fake) Join(ctx context.Context, handleOrID string) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.previews[handleOrID]
	if !ok {
		return Chat{}, errors.New("chatnet: no such peer")
	}

	if _, pending := f.RequireApproval[c.ID]; pending {
		c.PendingApproval = true
		return c, nil
	}

	f.dialogs[c.ID] = c
	return c, nil
}

func (f *Fake) Leave(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dialogs, chatID)
	return nil
}

func (f *Fake) Message(ctx context.Context, chatID, messageID int64) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.history[chatID] {
		if m.MessageID == messageID {
			return m, nil
		}
	}
	return Message{}, errors.New("chatnet: no such message")
}

func (f *Fake) History(ctx context.Context, chatID, offsetID, minID int64, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := f.history[chatID]
	var window []Message
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if offsetID != 0 && m.MessageID >= offsetID {
			continue
		}
		if m.MessageID < minID {
			break
		}
		window = append(window, m)
		if len(window) >= limit {
			break
		}
	}
	return window, nil
}

func (f *Fake) RegisterPushHandler(handler func(Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
}

func (f *Fake) VotePoll(ctx context.Context, chatID, messageID int64, optionIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, Vote{ChatID: chatID, MessageID: messageID, OptionIndex: optionIndex})
	return nil
}

// Votes returns every VotePoll call recorded so far, for test assertions.
func (f *Fake) Votes() []Vote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Vote, len(f.votes))
	copy(out, f.votes)
	return out
}

// Vote records one VotePoll call.
type Vote struct {
	ChatID      int64
	MessageID   int64
	OptionIndex int
}

// ConfirmApproval simulates the creator/admin confirmation push that
// resolves a pending join, used by session.Wrapper tests exercising the
// 10s approval-wait path.
func (f *Fake) ConfirmApproval(c Chat) {
	f.mu.Lock()
	f.dialogs[c.ID] = c
	f.mu.Unlock()

	f.Push(Message{ChatID: c.ID, Text: c.Title})
}
