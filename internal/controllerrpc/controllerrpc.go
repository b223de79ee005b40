// Package controllerrpc exposes the Controller's Web UI-facing HTTP
// surface: the single process a UI or admin tool talks to, which in turn
// fans requests out across shards via shardclient (§3, "Controller RPC").
package controllerrpc

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/labstack/echo/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxharbor/engine/internal/apperrors"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/shardclient"
	"github.com/voxharbor/engine/internal/shardrpc"
	"github.com/voxharbor/engine/internal/store"
	"github.com/voxharbor/engine/internal/urlutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the subset of store.Gateway the controller reads and writes.
type Store interface {
	ChatByID(ctx context.Context, chatID int64) (model.Chat, bool, error)
	ChatByJoinString(ctx context.Context, joinString string) (model.Chat, bool, error)
	ChatsByNameOrJoinString(ctx context.Context, name, joinString string) ([]model.Chat, error)
	UsersByUsernamePrefix(ctx context.Context, username string, limit int) ([]model.User, error)
	UsersByUserIDs(ctx context.Context, userIDs []int64) ([]model.User, error)
	CommentsByUserID(ctx context.Context, userID int64, offset, fetch int) ([]model.Comment, error)
	CommentCount(ctx context.Context, userID int64) (int64, error)
	CommentCountsByChannel(ctx context.Context, userID int64) ([]store.ChannelCommentCount, error)
	RandomActiveUserIDs(ctx context.Context, minComments, limit int) ([]int64, error)
	ReactionsByChannelAndPostID(ctx context.Context, channelID, postID int64) ([]model.PostSnapshot, error)
	LatestPost(ctx context.Context, channelID, postID int64) (model.PostSnapshot, bool, error)
	MarkSessionBroken(ctx context.Context, sessionID int64) error
}

// ShardClientFor resolves the RPC client for a shard number.
type ShardClientFor func(shard int) *shardclient.Client

// Server implements the Controller RPC surface over echo.
type Server struct {
	store       Store
	shardClient ShardClientFor
	shardCount  int
	log         zerolog.Logger
}

// Options configures a Server.
type Options struct {
	Store       Store
	ShardClient ShardClientFor
	ShardCount  int
	Log         zerolog.Logger
}

// New builds a Server and registers its routes on e.
func New(e *echo.Echo, opts Options) *Server {
	s := &Server{store: opts.Store, shardClient: opts.ShardClient, shardCount: opts.ShardCount, log: opts.Log}

	e.GET("/healthcheck", s.handleHealthcheck)
	e.GET("/chat", s.handleChat)
	e.GET("/chats", s.handleChats)
	e.GET("/users", s.handleUsers)
	e.GET("/user", s.handleUser)
	e.GET("/user_by_msg_url", s.handleUserByMsgURL)
	e.GET("/comments", s.handleComments)
	e.POST("/messages", s.handleMessages)
	e.GET("/messages_by_user_id", s.handleMessagesByUserID)
	e.POST("/discover", s.handleDiscover)
	e.POST("/add_bot", s.handleAddBot)
	e.POST("/remove_bot", s.handleRemoveBot)
	e.GET("/reactions", s.handleReactions)
	e.GET("/reactions_by_url", s.handleReactionsByURL)
	e.GET("/post", s.handlePost)
	e.GET("/random_users", s.handleRandomUsers)
	e.GET("/comment_count", s.handleCommentCount)
	e.GET("/sample", s.handleSample)

	return s
}

func (s *Server) handleHealthcheck(c echo.Context) error {
	return c.JSON(http.StatusOK, "OK")
}

func (s *Server) handleChat(c echo.Context) error {
	chatID, err := parseInt64Query(c, "chat_id")
	if err != nil {
		return respondError(c, err)
	}

	chat, ok, err := s.store.ChatByID(c.Request().Context(), chatID)
	if err != nil {
		return respondError(c, err)
	}
	if !ok {
		return respondError(c, apperrors.NotFound("chat"))
	}
	return c.JSON(http.StatusOK, chat)
}

func (s *Server) handleChats(c echo.Context) error {
	name := c.QueryParam("name")
	joinString := c.QueryParam("join_string")
	if name == "" && joinString == "" {
		return respondError(c, apperrors.BadRequest("either name or join_string must be provided"))
	}

	chats, err := s.store.ChatsByNameOrJoinString(c.Request().Context(), name, joinString)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, chats)
}

func (s *Server) handleUsers(c echo.Context) error {
	username := c.QueryParam("username")
	limit, err := parseIntQueryDefault(c, "limit", 10)
	if err != nil {
		return respondError(c, err)
	}

	rows, err := s.store.UsersByUsernamePrefix(c.Request().Context(), username, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, usersToUserInfos(rows))
}

func (s *Server) handleUser(c echo.Context) error {
	userID, err := parseInt64Query(c, "user_id")
	if err != nil {
		return respondError(c, err)
	}

	info, err := s.userInfoFor(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) userInfoFor(ctx context.Context, userID int64) (UserInfo, error) {
	rows, err := s.store.UsersByUserIDs(ctx, []int64{userID})
	if err != nil {
		return UserInfo{}, err
	}
	if len(rows) == 0 {
		return UserInfo{}, apperrors.NotFound("user")
	}
	infos := usersToUserInfos(rows)
	return infos[0], nil
}

// handleUserByMsgURL resolves a t.me message link to its author, forwarding
// the lookup to the owning shard when the chat is already known.
func (s *Server) handleUserByMsgURL(c echo.Context) error {
	raw := c.QueryParam("msg_url")
	parsed, err := urlutil.Parse(raw)
	if err != nil {
		return respondError(c, apperrors.BadRequest(err.Error()))
	}

	var shard, sessionIndex int
	var chatID int64
	if parsed.HasChatID {
		chatID = urlutil.MarkChannelID(parsed.ChatID)
		chat, ok, err := s.store.ChatByID(c.Request().Context(), chatID)
		if err != nil {
			return respondError(c, err)
		}
		if !ok {
			return respondError(c, apperrors.NotFound("chat"))
		}
		shard, sessionIndex = chat.Shard, chat.SessionIndex
		chatID = chat.ChatID
	} else {
		chat, ok, err := s.store.ChatByJoinString(c.Request().Context(), parsed.ChatRef)
		if err != nil {
			return respondError(c, err)
		}
		if !ok {
			return respondError(c, apperrors.NotFound("chat"))
		}
		shard, sessionIndex = chat.Shard, chat.SessionIndex
		chatID = chat.ChatID
	}

	result, err := s.shardClient(shard).UserFromComment(c.Request().Context(), chatID, parsed.MessageID)
	if err != nil {
		return respondError(c, err)
	}

	userID, _ := result["user_id"].(float64)
	if info, err := s.userInfoFor(c.Request().Context(), int64(userID)); err == nil {
		return c.JSON(http.StatusOK, info)
	}

	_ = sessionIndex
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleComments(c echo.Context) error {
	userID, err := parseInt64Query(c, "user_id")
	if err != nil {
		return respondError(c, err)
	}
	offset, err := parseIntQueryDefault(c, "offset", 0)
	if err != nil {
		return respondError(c, err)
	}
	fetch, err := parseIntQueryDefault(c, "fetch", 10)
	if err != nil {
		return respondError(c, err)
	}

	comments, err := s.store.CommentsByUserID(c.Request().Context(), userID, offset*fetch, fetch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, comments)
}

// handleMessages resolves comments to their text by grouping them by shard
// and fanning each group out to that shard's /messages, joining each
// comment with its chat's display name along the way.
func (s *Server) handleMessages(c echo.Context) error {
	var comments []model.Comment
	if err := json.NewDecoder(c.Request().Body).Decode(&comments); err != nil {
		return respondError(c, apperrors.BadRequest("malformed comments payload"))
	}

	results, err := s.resolveMessages(c.Request().Context(), comments)
	if err != nil {
		return respondError(c, err)
	}
	if len(results) == 0 {
		return respondError(c, apperrors.NotFound("messages"))
	}
	return c.JSON(http.StatusOK, results)
}

// resolveMessages fetches message batches in parallel across the shards
// that own them (§4.8), bounding fan-out so a large comment set can't open
// one shard connection per comment.
func (s *Server) resolveMessages(ctx context.Context, comments []model.Comment) ([]shardrpc.MessageResult, error) {
	byShard := make(map[int][]model.Comment)
	for _, cm := range comments {
		byShard[cm.Shard] = append(byShard[cm.Shard], cm)
	}

	var (
		mu      sync.Mutex
		results []shardrpc.MessageResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for shard, group := range byShard {
		shard, group := shard, group
		g.Go(func() error {
			payload := make([]shardrpc.Comment, 0, len(group))
			for _, cm := range group {
				name := ""
				if chat, ok, err := s.store.ChatByID(gctx, cm.ChatID); err == nil && ok {
					name = chat.Name
				}
				payload = append(payload, shardrpc.Comment{
					SessionIndex: cm.SessionIndex,
					ChatID:       cm.ChatID,
					MessageID:    cm.MessageID,
					ChatName:     name,
				})
			}

			fetched, err := s.shardClient(shard).GetMessages(gctx, payload)
			if err != nil {
				s.log.Error().Err(err).Int("shard", shard).Msg("controllerrpc: shard fetch failed")
				return nil
			}

			mu.Lock()
			results = append(results, fetched...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Comment.MessageID < results[j].Comment.MessageID
	})
	return results, nil
}

func (s *Server) handleMessagesByUserID(c echo.Context) error {
	userID, err := parseInt64Query(c, "user_id")
	if err != nil {
		return respondError(c, err)
	}
	limit, err := parseIntQueryDefault(c, "limit", 10)
	if err != nil {
		return respondError(c, err)
	}

	comments, err := s.store.CommentsByUserID(c.Request().Context(), userID, 0, limit)
	if err != nil {
		return respondError(c, err)
	}

	results, err := s.resolveMessages(c.Request().Context(), comments)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, results)
}

type discoverRequest struct {
	JoinString       string `json:"join_string"`
	IgnoreProtection bool   `json:"ignore_protection"`
}

// handleDiscover polls every shard's known-chats count, picks the least
// loaded shard, and forwards the join there.
func (s *Server) handleDiscover(c echo.Context) error {
	var req discoverRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return respondError(c, apperrors.BadRequest("malformed discover payload"))
	}

	if err := s.Discover(c.Request().Context(), req.JoinString, req.IgnoreProtection); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// Discover picks the least-loaded shard and forwards the join there. It is
// exported so the auto-discovery background loop can reuse the same
// shard-selection path a Web UI request takes.
func (s *Server) Discover(ctx context.Context, joinString string, ignoreProtection bool) error {
	lazy, err := s.leastLoadedShard(ctx)
	if err != nil {
		return err
	}
	return s.shardClient(lazy).Discover(ctx, joinString, ignoreProtection)
}

func (s *Server) leastLoadedShard(ctx context.Context) (int, error) {
	counts := make([]int, s.shardCount)
	for shard := 0; shard < s.shardCount; shard++ {
		count, err := s.shardClient(shard).KnownChatsCount(ctx)
		if err != nil {
			return 0, err
		}
		counts[shard] = count
	}

	lazy := 0
	for shard, count := range counts {
		if count < counts[lazy] {
			lazy = shard
		}
	}
	return lazy, nil
}

type addBotRequest struct {
	Name          string `json:"name"`
	SessionString string `json:"session_string"`
}

// handleAddBot is a stub: the original left session provisioning
// unimplemented (no admin flow existed to mint a new session row).
func (s *Server) handleAddBot(c echo.Context) error {
	var req addBotRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return respondError(c, apperrors.BadRequest("malformed add_bot payload"))
	}
	return c.NoContent(http.StatusNotImplemented)
}

func (s *Server) handleRemoveBot(c echo.Context) error {
	botID, err := parseInt64Query(c, "bot_id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.store.MarkSessionBroken(c.Request().Context(), botID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleReactions(c echo.Context) error {
	channelID, err := parseInt64Query(c, "channel_id")
	if err != nil {
		return respondError(c, err)
	}
	postID, err := parseInt64Query(c, "post_id")
	if err != nil {
		return respondError(c, err)
	}

	points, err := s.store.ReactionsByChannelAndPostID(c.Request().Context(), channelID, postID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, points)
}

func (s *Server) handleReactionsByURL(c echo.Context) error {
	raw := c.QueryParam("post_url")
	parsed, err := urlutil.Parse(raw)
	if err != nil {
		return respondError(c, apperrors.BadRequest(err.Error()))
	}

	chat, ok, err := s.store.ChatByJoinString(c.Request().Context(), parsed.ChatRef)
	if err != nil {
		return respondError(c, err)
	}
	if !ok {
		return respondError(c, apperrors.NotFound("chat"))
	}

	points, err := s.store.ReactionsByChannelAndPostID(c.Request().Context(), chat.ChatID, parsed.MessageID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, points)
}

// handlePost looks up the post's owning shard/session from the latest
// sampled snapshot and forwards a live fetch there.
func (s *Server) handlePost(c echo.Context) error {
	channelID, err := parseInt64Query(c, "channel_id")
	if err != nil {
		return respondError(c, err)
	}
	postID, err := parseInt64Query(c, "post_id")
	if err != nil {
		return respondError(c, err)
	}

	post, ok, err := s.store.LatestPost(c.Request().Context(), channelID, postID)
	if err != nil {
		return respondError(c, err)
	}
	if !ok {
		return respondError(c, apperrors.NotFound("post"))
	}

	text, err := s.shardClient(post.Shard).Post(c.Request().Context(), channelID, postID, post.SessionIndex)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleRandomUsers(c echo.Context) error {
	ids, err := s.store.RandomActiveUserIDs(c.Request().Context(), 20, 100)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ids)
}

func (s *Server) handleCommentCount(c echo.Context) error {
	userID, err := parseInt64Query(c, "user_id")
	if err != nil {
		return respondError(c, err)
	}
	count, err := s.store.CommentCount(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"comment_count": count})
}

// handleSample builds the Web UI's per-user activity summary: identity,
// per-channel comment tallies, and a handful of the user's most recent and
// oldest observed comments resolved to text.
func (s *Server) handleSample(c echo.Context) error {
	userID, err := parseInt64Query(c, "user_id")
	if err != nil {
		return respondError(c, err)
	}

	info, err := s.userInfoFor(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	channels, err := s.store.CommentCountsByChannel(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	comments, err := s.store.CommentsByUserID(c.Request().Context(), userID, 0, 1000)
	if err != nil {
		return respondError(c, err)
	}
	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}

	recentN := 10
	if recentN > len(comments) {
		recentN = len(comments)
	}
	recent, err := s.resolveMessages(c.Request().Context(), comments[:recentN])
	if err != nil {
		return respondError(c, err)
	}

	oldN := len(comments) - 5
	if oldN > 5 {
		oldN = 5
	}
	if oldN < 0 {
		oldN = 0
	}
	var old []shardrpc.MessageResult
	if oldN > 0 {
		old, err = s.resolveMessages(c.Request().Context(), comments[len(comments)-oldN:])
		if err != nil {
			return respondError(c, err)
		}
	}

	return c.JSON(http.StatusOK, Sample{
		User:               info,
		Channels:           channels,
		MostRecentComments: recent,
		MostOldComments:    old,
	})
}

// UserInfo is the deduplicated view of every username/display name a user
// id has been observed under.
type UserInfo struct {
	UserID    int64    `json:"user_id"`
	Usernames []string `json:"usernames"`
	Names     []string `json:"names"`
}

// Sample is the /sample Web UI summary response.
type Sample struct {
	User               UserInfo                    `json:"user"`
	Channels           []store.ChannelCommentCount `json:"channels"`
	MostRecentComments []shardrpc.MessageResult    `json:"most_recent_comments"`
	MostOldComments    []shardrpc.MessageResult    `json:"most_old_comments"`
}

func usersToUserInfos(rows []model.User) []UserInfo {
	byID := make(map[int64]*UserInfo)
	var order []int64
	for _, r := range rows {
		info, ok := byID[r.UserID]
		if !ok {
			info = &UserInfo{UserID: r.UserID}
			byID[r.UserID] = info
			order = append(order, r.UserID)
		}
		if r.Username != "" && !contains(info.Usernames, r.Username) {
			info.Usernames = append(info.Usernames, r.Username)
		}
		if r.Name != "" && !contains(info.Names, r.Name) {
			info.Names = append(info.Names, r.Name)
		}
	}

	out := make([]UserInfo, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
