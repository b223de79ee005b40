// Package session implements the Session Client Wrapper: the capability
// surface a Chat Registry or Message Router actually calls, built on top
// of the bare chatnet.Client interface (§4.1).
package session

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/voxharbor/engine/internal/apperrors"
	"github.com/voxharbor/engine/internal/chatnet"
)

const (
	// historyRateLimit bounds get_history calls to two per second (§4.1).
	historyRateLimit = rate.Limit(2)
	historyBurst     = 2

	// approvalTimeout bounds how long discover() waits for a join's
	// creator/admin confirmation push.
	approvalTimeout = 10 * time.Second

	// messageCacheSize bounds the short LRU fronting Message lookups.
	messageCacheSize = 512
)

// OwnershipReconciler is invoked by discover() on a successful join unless
// skip_ownership_check is set, mirroring the Chat Registry's reconciliation
// hook (§4.1, §4.3). It is a capability interface, not a back-pointer, per
// the cyclic-reference note.
type OwnershipReconciler interface {
	ReconcileOwnership(ctx context.Context, chat chatnet.Chat) error
}

// Wrapper wraps one chatnet.Client with the subscribed-set cache, rate
// limiter, and approval-wait table (§4.1).
type Wrapper struct {
	SessionIndex int
	client       chatnet.Client

	maxChats int

	minChatMembers    int
	minChannelMembers int

	subscribed *chatSet
	subOnce    sync.Once

	limiter *rate.Limiter

	mu       sync.Mutex
	approval map[string]chan chatnet.Chat // keyed by preview title

	msgCacheMu sync.Mutex
	msgCache   map[[2]int64]*list.Element
	msgOrder   *list.List
}

// Options configures a Wrapper's caps, sourced from config.Config.
type Options struct {
	MaxChatsForSession int
	MinChatMembers     int
	MinChannelMembers  int
}

// New builds a Wrapper around an underlying chatnet.Client.
func New(sessionIndex int, client chatnet.Client, opts Options) *Wrapper {
	return &Wrapper{
		SessionIndex:      sessionIndex,
		client:            client,
		maxChats:          opts.MaxChatsForSession,
		minChatMembers:    opts.MinChatMembers,
		minChannelMembers: opts.MinChannelMembers,
		subscribed:        newChatSet(),
		limiter:           rate.NewLimiter(historyRateLimit, historyBurst),
		approval:          make(map[string]chan chatnet.Chat),
		msgCache:          make(map[[2]int64]*list.Element, messageCacheSize),
		msgOrder:          list.New(),
	}
}

// Index returns the session's position within its pool.
func (w *Wrapper) Index() int {
	return w.SessionIndex
}

// ensureSubscribedSet refreshes the cache from live dialogs on first
// access, per §4.1.
func (w *Wrapper) ensureSubscribedSet(ctx context.Context) error {
	var outerErr error
	w.subOnce.Do(func() {
		dialogs, err := w.client.Dialogs(ctx)
		if err != nil {
			outerErr = err
			return
		}
		ids := make([]int64, 0, len(dialogs))
		for _, c := range dialogs {
			ids = append(ids, c.ID)
		}
		w.subscribed.Replace(ids)
		w.client.RegisterPushHandler(w.onPush)
	})
	return outerErr
}

// RefreshSubscribedSet forces a reload from live dialogs on demand.
func (w *Wrapper) RefreshSubscribedSet(ctx context.Context) error {
	dialogs, err := w.client.Dialogs(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(dialogs))
	for _, c := range dialogs {
		ids = append(ids, c.ID)
	}
	w.subscribed.Replace(ids)
	return nil
}

// Subscribed reports whether chatID is in the cached subscribed-set.
func (w *Wrapper) Subscribed(chatID int64) bool {
	return w.subscribed.Contains(chatID)
}

// SubscribedCount is the cached subscribed-set size, used by the Session
// Pool's inverse-weighted selection (§4.2).
func (w *Wrapper) SubscribedCount() int {
	return w.subscribed.Len()
}

func (w *Wrapper) onPush(msg chatnet.Message) {
	w.mu.Lock()
	ch, ok := w.approval[msg.Text]
	if ok {
		delete(w.approval, msg.Text)
	}
	w.mu.Unlock()

	if ok {
		select {
		case ch <- chatnet.Chat{ID: msg.ChatID, Title: msg.Text}:
		default:
		}
	}
}

// Join rejects when the subscribed-set would exceed the configured cap;
// on success it updates the cache and returns the resolved chat.
func (w *Wrapper) Join(ctx context.Context, handleOrID string) (chatnet.Chat, error) {
	if err := w.ensureSubscribedSet(ctx); err != nil {
		return chatnet.Chat{}, err
	}

	if w.subscribed.Len() >= w.maxChats {
		return chatnet.Chat{}, apperrors.ErrMaxChatsExceeded
	}

	chat, err := w.client.Join(ctx, handleOrID)
	if err != nil {
		return chatnet.Chat{}, err
	}

	w.subscribed.Add(chat.ID)
	return chat, nil
}

// Leave delegates to the client and removes chatID from the cache.
func (w *Wrapper) Leave(ctx context.Context, chatID int64) error {
	if err := w.client.Leave(ctx, chatID); err != nil {
		return err
	}
	w.subscribed.Remove(chatID)
	return nil
}

// Discover resolves a preview, enforces the member-count floors, attempts
// a join, waits for approval if pending, and optionally triggers ownership
// reconciliation and linked-chat recursion (§4.1).
func (w *Wrapper) Discover(ctx context.Context, handleOrID string, withLinked, skipOwnershipCheck bool, reconciler OwnershipReconciler) (chatnet.Chat, error) {
	if err := w.ensureSubscribedSet(ctx); err != nil {
		return chatnet.Chat{}, err
	}

	preview, err := w.client.ResolvePeer(ctx, handleOrID)
	if err != nil {
		return chatnet.Chat{}, err
	}

	floor := w.minChatMembers
	if preview.Kind == chatnet.KindChannel {
		floor = w.minChannelMembers
	}
	if preview.MembersCount < floor {
		return chatnet.Chat{}, apperrors.BadRequest("below minimum member count")
	}

	chat := preview
	if !preview.IsFullRecord {
		chat, err = w.joinAndAwaitApproval(ctx, handleOrID, preview)
		if err != nil {
			return chatnet.Chat{}, err
		}
	}

	w.subscribed.Add(chat.ID)

	if !skipOwnershipCheck && reconciler != nil {
		if err := reconciler.ReconcileOwnership(ctx, chat); err != nil {
			return chatnet.Chat{}, err
		}
	}

	if withLinked && chat.LinkedChatID != 0 {
		linked, err := w.Discover(ctx, formatChatID(chat.LinkedChatID), false, skipOwnershipCheck, reconciler)
		if err != nil {
			return chat, err
		}
		_ = linked
	}

	return chat, nil
}

func (w *Wrapper) joinAndAwaitApproval(ctx context.Context, handleOrID string, preview chatnet.Chat) (chatnet.Chat, error) {
	chat, err := w.client.Join(ctx, handleOrID)
	if err != nil {
		return chatnet.Chat{}, err
	}
	if !chat.PendingApproval {
		return chat, nil
	}

	ch := make(chan chatnet.Chat, 1)
	w.mu.Lock()
	w.approval[preview.Title] = ch
	w.mu.Unlock()

	select {
	case confirmed := <-ch:
		return confirmed, nil
	case <-time.After(approvalTimeout):
		w.mu.Lock()
		delete(w.approval, preview.Title)
		w.mu.Unlock()
		return chatnet.Chat{}, errors.New("session: approval wait timed out")
	case <-ctx.Done():
		return chatnet.Chat{}, ctx.Err()
	}
}

// GetHistory acquires the rate-limit token and issues a reverse-paginated
// window.
func (w *Wrapper) GetHistory(ctx context.Context, chatID, start, end int64, limit int) ([]chatnet.Message, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return w.client.History(ctx, chatID, start, end, limit)
}

// Message fetches a single message, consulting the wrapper's short LRU
// before delegating to the client.
func (w *Wrapper) Message(ctx context.Context, chatID, messageID int64) (chatnet.Message, error) {
	key := [2]int64{chatID, messageID}

	w.msgCacheMu.Lock()
	if el, ok := w.msgCache[key]; ok {
		w.msgOrder.MoveToFront(el)
		msg := el.Value.(cachedMessage).msg
		w.msgCacheMu.Unlock()
		return msg, nil
	}
	w.msgCacheMu.Unlock()

	msg, err := w.client.Message(ctx, chatID, messageID)
	if err != nil {
		return chatnet.Message{}, err
	}

	w.msgCacheMu.Lock()
	el := w.msgOrder.PushFront(cachedMessage{key: key, msg: msg})
	w.msgCache[key] = el
	for w.msgOrder.Len() > messageCacheSize {
		oldest := w.msgOrder.Back()
		if oldest == nil {
			break
		}
		w.msgOrder.Remove(oldest)
		delete(w.msgCache, oldest.Value.(cachedMessage).key)
	}
	w.msgCacheMu.Unlock()

	return msg, nil
}

type cachedMessage struct {
	key [2]int64
	msg chatnet.Message
}

func formatChatID(id int64) string {
	return "id:" + strconv.FormatInt(id, 10)
}
