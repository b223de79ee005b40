// Package chatnet defines the capability surface the engine assumes of the
// underlying chat-network session client (the MTProto-level transport
// itself is out of scope; see session.Wrapper for what is built on top of
// this interface). It also ships an in-memory fake used by every other
// package's tests, standing in for a real connected client.
package chatnet

import (
	"context"
	"fmt"
	"time"
)

// ChatKind mirrors the three dialog shapes a resolved peer can report.
type ChatKind string

const (
	KindChat    ChatKind = "CHAT"
	KindChannel ChatKind = "CHANNEL"
	KindPrivate ChatKind = "PRIVATE"
)

// Chat is a resolved peer as reported by the underlying client.
type Chat struct {
	ID               int64
	Title            string
	JoinString       string
	Kind             ChatKind
	MembersCount     int
	LinkedChatID     int64 // 0 if none
	IsFullRecord     bool  // true when the preview already carries full metadata
	PendingApproval  bool  // true when join requires creator/admin approval
}

// Message is a parsed push or history item.
type Message struct {
	ChatID    int64
	MessageID int64
	UserID    int64
	Username  string
	Name      string
	Date      time.Time
	Text      string
	ReplyToID int64 // 0 if not a reply
	IsPoll    bool
	PollID    int64

	// ChannelID is non-zero when this message is itself a channel's
	// linked-discussion copy, i.e. its sender_chat is the channel
	// (§4.5 step 5's reply-to-post attribution reads this off a message
	// resolved via Client.Message(ctx, chatID, replyToID)).
	ChannelID int64

	// LinkedPostID is the original channel post's message id, populated
	// alongside ChannelID (Telegram's forward_from_message_id on the
	// linked-discussion copy).
	LinkedPostID int64

	// IsAnonymous is true when the message was sent by an anonymous group
	// admin or a channel posting as itself, i.e. there is no attributable
	// human user.
	IsAnonymous bool

	// IsChannelPost is true when this message is itself a post in a
	// channel (as opposed to a group message or a linked-discussion copy).
	IsChannelPost bool

	// Forward* fields are populated only when the message was forwarded.
	IsForwarded            bool
	ForwardFromChatID      int64
	ForwardFromIsChannel   bool
	ForwardFromMembers     int
	ForwardFromJoinString  string
	ForwardFromName        string

	// Poll* fields are populated only when IsPoll is true.
	PollIsAnonymous   bool
	PollIsClosed      bool
	PollHasVoted      bool
	PollOptionCounts  map[string]int64 // label -> voter count, only once voted/closed

	// Views is the channel post's view counter, populated for channel
	// posts only (§2, §3).
	Views int64

	// Reactions maps an emoji to its reactor count (§3's "one key per
	// emoji"), populated for channel posts only.
	Reactions map[string]int64

	// CustomEmojiReactions maps a custom emoji id to its reactor count
	// (§3's "@custom_emoji_<id>"), populated for channel posts only.
	CustomEmojiReactions map[int64]int64
}

// SnapshotData merges a channel post's view count, per-emoji reaction
// counts, custom-emoji reaction counts, and (once voted/closed) poll
// option counts into the single counter map a post snapshot's data column
// carries (§2, §3). The key conventions ("@views", the emoji itself,
// "@custom_emoji_<id>", "@option_<label>") are the store's wire format,
// not anything chosen by the caller.
func SnapshotData(msg Message) map[string]int64 {
	data := make(map[string]int64, 2+len(msg.Reactions)+len(msg.CustomEmojiReactions)+len(msg.PollOptionCounts))

	data["@views"] = msg.Views

	for emoji, count := range msg.Reactions {
		data[emoji] = count
	}
	for id, count := range msg.CustomEmojiReactions {
		data[fmt.Sprintf("@custom_emoji_%d", id)] = count
	}

	if msg.IsPoll && (msg.PollHasVoted || msg.PollIsClosed) {
		for label, count := range msg.PollOptionCounts {
			data["@option_"+label] = count
		}
	}

	return data
}

// Client is the capability surface a Session Client Wrapper is built on.
// A real implementation talks MTProto; Fake below is a deterministic
// in-memory stand-in for tests.
type Client interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Dialogs enumerates every chat the session currently belongs to.
	Dialogs(ctx context.Context) ([]Chat, error)

	// ResolvePeer resolves a handle (username or t.me invite) or numeric id
	// to a Chat preview, without joining.
	ResolvePeer(ctx context.Context, handleOrID string) (Chat, error)

	// Join joins a chat by handle or numeric id. A nil error with
	// PendingApproval set on the returned Chat means the join was
	// submitted but requires creator/admin approval.
	Join(ctx context.Context, handleOrID string) (Chat, error)

	Leave(ctx context.Context, chatID int64) error

	// Message fetches a single message. It does no caching of its own;
	// session.Wrapper.Message consults its LRU before calling it.
	Message(ctx context.Context, chatID, messageID int64) (Message, error)

	// History fetches a reverse-paginated window: offsetID is the newest
	// id already seen, minID floors the walk, limit bounds the page.
	History(ctx context.Context, chatID, offsetID, minID int64, limit int) ([]Message, error)

	// RegisterPushHandler installs a callback invoked for every inbound
	// update (new message, join confirmation, etc).
	RegisterPushHandler(handler func(Message))

	// VotePoll casts a best-effort vote for optionIndex on an anonymous
	// open poll (§4.5's auto-vote behavior).
	VotePoll(ctx context.Context, chatID, messageID int64, optionIndex int) error
}
