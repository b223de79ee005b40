// Package urlutil parses t.me message and post URLs into their chat and
// message components, including the ?comment= discussion-group redirect
// Telegram uses for channel-post comment threads.
package urlutil

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParsedMessageURL is the decomposed form of a t.me message link.
//
// ChatRef is the raw path segment identifying the chat: a join string for
// a public chat, or a decimal id for a private one. ChatID and
// HasChatID report whether ChatRef parsed as a plain integer.
type ParsedMessageURL struct {
	ChatRef   string
	ChatID    int64
	HasChatID bool
	MessageID int64
}

// Parse decodes a URL of the form https://t.me/<chat>/<msg_id> or the
// channel-post comment-thread form https://t.me/<chat>/<top_msg_id>?comment=<id>,
// where the comment query parameter, if present, overrides the path's
// trailing message id.
func Parse(raw string) (ParsedMessageURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedMessageURL{}, errors.Wrap(err, "urlutil: malformed url")
	}
	if u.Scheme == "" {
		return ParsedMessageURL{}, errors.New("urlutil: scheme must be provided")
	}
	if u.Host != "t.me" {
		return ParsedMessageURL{}, errors.New("urlutil: host must be t.me")
	}

	path := strings.Trim(u.Path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return ParsedMessageURL{}, errors.Errorf("urlutil: path %q must have at least chat and message segments", u.Path)
	}

	chatRef := parts[len(parts)-2]
	msgRaw := parts[len(parts)-1]

	if comment := u.Query().Get("comment"); comment != "" {
		msgRaw = comment
	}

	msgID, err := strconv.ParseInt(msgRaw, 10, 64)
	if err != nil {
		return ParsedMessageURL{}, errors.Wrap(err, "urlutil: message id must be an integer")
	}

	parsed := ParsedMessageURL{ChatRef: chatRef, MessageID: msgID}
	if chatID, err := strconv.ParseInt(chatRef, 10, 64); err == nil {
		parsed.ChatID = chatID
		parsed.HasChatID = true
	}

	return parsed, nil
}

// channelIDMarkOffset is the magnitude Telegram's MTProto layer subtracts
// from a channel's bare numeric id to produce its "marked" broadcast id.
const channelIDMarkOffset = 1_000_000_000_000

// MarkChannelID converts a bare channel id (as it appears in a t.me URL
// or the chats table) into its MTProto-marked form, the -100<id>
// convention dialog lookups expect.
func MarkChannelID(bareID int64) int64 {
	return -channelIDMarkOffset - bareID
}
