// Package msgrouter implements the Message Router: the per-message
// decision tree invoked from a session's push pipeline (§4.5).
package msgrouter

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
)

// channelPostWindow bounds how recent a channel post must be to receive a
// snapshot directly from the router (§4.5 step 4); older posts get no
// snapshot here, and the Post Tracker only resamples posts up to 3 days old.
const channelPostWindow = 7 * 24 * time.Hour

// Subscriber is the subset of session.Wrapper the router needs.
type Subscriber interface {
	Subscribed(chatID int64) bool
	Index() int
}

// Registry is the subset of registry.Registry the router needs.
type Registry interface {
	Get(chatID int64) (model.Chat, bool)
	RegisterNewChat(ctx context.Context, sessionIndex int, chat chatnet.Chat) error
}

// Batcher is the subset of batcher.Batcher the router needs.
type Batcher interface {
	AddComment(c model.Comment)
	AddUser(u model.User)
	AddDiscoveredChat(d model.DiscoveredChat)
	AddPostSnapshot(p model.PostSnapshot)
}

// Thresholds bounds the minimum subscriber counts a forwarded source must
// meet to be treated as a discover candidate (§4.5 step 3).
type Thresholds struct {
	MinChatMembers    int
	MinChannelMembers int
}

// Router implements the Message Router's decision sequence.
type Router struct {
	shard      int
	registry   Registry
	batcher    Batcher
	thresholds Thresholds
	log        zerolog.Logger

	// AutoVotePolls gates the best-effort auto-vote behavior (§4.5,
	// open question: off by default).
	AutoVotePolls bool
}

// Options configures a Router.
type Options struct {
	Shard      int
	Registry   Registry
	Batcher    Batcher
	Thresholds Thresholds
	Log        zerolog.Logger
}

// New builds a Router.
func New(opts Options) *Router {
	return &Router{
		shard:      opts.Shard,
		registry:   opts.Registry,
		batcher:    opts.Batcher,
		thresholds: opts.Thresholds,
		log:        opts.Log,
	}
}

// Route runs the §4.5 decision sequence for one message observed by sub,
// whose client is client (used to resolve a comment's thread top message
// and for the best-effort poll auto-vote).
func (r *Router) Route(ctx context.Context, sub Subscriber, client chatnet.Client, msg chatnet.Message) {
	// 1. Stale-delivery guard.
	if !sub.Subscribed(msg.ChatID) {
		return
	}

	// 2. Opportunistic registration.
	if _, known := r.registry.Get(msg.ChatID); !known {
		chat := chatnet.Chat{ID: msg.ChatID, Title: msg.Name}
		if err := r.registry.RegisterNewChat(ctx, sub.Index(), chat); err != nil {
			r.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("router: failed to register new chat")
		}
	}

	// 3. Forward-discovery.
	if msg.IsForwarded && r.isDiscoverableForward(msg) {
		r.batcher.AddDiscoveredChat(model.DiscoveredChat{
			ChatID:           msg.ForwardFromChatID,
			Name:             msg.ForwardFromName,
			JoinString:       msg.ForwardFromJoinString,
			SubscribersCount: msg.ForwardFromMembers,
			Sign:             1,
		})
	}

	// 4. Channel post snapshot, short-circuits the rest of the sequence.
	if msg.IsChannelPost {
		if time.Since(msg.Date) <= channelPostWindow {
			r.batcher.AddPostSnapshot(model.PostSnapshot{
				ID:           msg.MessageID,
				ChannelID:    msg.ChatID,
				PostDate:     msg.Date,
				PointDate:    time.Now().UTC(),
				Data:         chatnet.SnapshotData(msg),
				SessionIndex: sub.Index(),
				Shard:        r.shard,
			})
		}
		return
	}

	// 5. Reply-to-post attribution: resolve the linked top-message and
	// check whether its sender is a channel.
	channelID, postID := r.replyAttribution(ctx, client, msg)

	// 6. Anonymous-sender guard.
	if msg.IsAnonymous {
		r.maybeAutoVote(ctx, client, msg)
		return
	}

	// 7. Comment + user emission.
	r.batcher.AddComment(model.Comment{
		UserID:       msg.UserID,
		Date:         msg.Date,
		ChatID:       msg.ChatID,
		MessageID:    msg.MessageID,
		ChannelID:    channelID,
		PostID:       postID,
		SessionIndex: sub.Index(),
		Shard:        r.shard,
	})
	r.batcher.AddUser(model.User{
		UserID:   msg.UserID,
		Username: msg.Username,
		Name:     msg.Name,
	})

	r.maybeAutoVote(ctx, client, msg)
}

// replyAttribution resolves msg's reply-to-top-message (if any) and, when
// its sender is a channel, returns that channel's id and the original
// post's id (§4.5 step 5). Returns nil, nil when the message isn't a
// reply, the top message can't be resolved, or its sender isn't a
// channel.
func (r *Router) replyAttribution(ctx context.Context, client chatnet.Client, msg chatnet.Message) (*int64, *int64) {
	if msg.ReplyToID == 0 {
		return nil, nil
	}

	top, err := client.Message(ctx, msg.ChatID, msg.ReplyToID)
	if err != nil {
		r.log.Error().Err(err).Int64("chat_id", msg.ChatID).Int64("reply_to_id", msg.ReplyToID).Msg("router: failed to resolve reply-to top message")
		return nil, nil
	}
	if top.ChannelID == 0 {
		return nil, nil
	}

	channelID := top.ChannelID
	postID := top.LinkedPostID
	return &channelID, &postID
}

func (r *Router) isDiscoverableForward(msg chatnet.Message) bool {
	if _, known := r.registry.Get(msg.ForwardFromChatID); known {
		return false
	}
	floor := r.thresholds.MinChatMembers
	if msg.ForwardFromIsChannel {
		floor = r.thresholds.MinChannelMembers
	}
	return msg.ForwardFromMembers >= floor
}

// maybeAutoVote casts a best-effort vote for option 0 on an anonymous open
// poll with no recorded choice yet, when AutoVotePolls is enabled.
func (r *Router) maybeAutoVote(ctx context.Context, client chatnet.Client, msg chatnet.Message) {
	if !r.AutoVotePolls || !msg.IsPoll {
		return
	}
	if !msg.PollIsAnonymous || msg.PollIsClosed || msg.PollHasVoted {
		return
	}
	if err := client.VotePoll(ctx, msg.ChatID, msg.MessageID, 0); err != nil {
		r.log.Error().Err(err).Int64("chat_id", msg.ChatID).Int64("message_id", msg.MessageID).Msg("router: auto-vote failed")
	}
}
