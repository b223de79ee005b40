// Package shardrpc exposes the Shard RPC Surface: the HTTP/JSON endpoints
// a controller calls on a shard-local port (§4.8).
package shardrpc

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxharbor/engine/internal/apperrors"
	"github.com/voxharbor/engine/internal/sessionpool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Comment is the input shape for POST /messages: the caller already knows
// which session and chat produced it and wants the text resolved.
type Comment struct {
	SessionIndex int    `json:"session_index"`
	ChatID       int64  `json:"chat_id"`
	MessageID    int64  `json:"message_id"`
	ChatName     string `json:"chat_name"`
}

// MessageResult pairs a resolved message with its originating comment.
type MessageResult struct {
	Text     string  `json:"text"`
	ChatName string  `json:"chat_name"`
	Comment  Comment `json:"comment"`
}

// Server implements the Shard RPC Surface over echo.
type Server struct {
	pool *sessionpool.Pool
	log  zerolog.Logger
}

// New builds a Server and registers its routes on e.
func New(e *echo.Echo, pool *sessionpool.Pool, log zerolog.Logger) *Server {
	s := &Server{pool: pool, log: log}

	e.POST("/messages", s.handleMessages)
	e.GET("/known_chats_count", s.handleKnownChatsCount)
	e.POST("/discover", s.handleDiscover)
	e.GET("/user_from_comment", s.handleUserFromComment)
	e.GET("/post", s.handlePost)

	return s
}

// handleMessages groups the input comments by (session_index, chat_id),
// fetches message batches in parallel, zips each fetched message with its
// originating comment (strict equal-length), drops entries whose fetch
// returned null, and returns {text, chat_name, comment} records.
func (s *Server) handleMessages(c echo.Context) error {
	var comments []Comment
	if err := json.NewDecoder(c.Request().Body).Decode(&comments); err != nil {
		return respondError(c, apperrors.BadRequest("malformed comments payload"))
	}

	type group struct {
		sessionIndex int
		chatID       int64
		comments     []Comment
	}
	groups := make(map[[2]int64]*group)
	order := make([][2]int64, 0)
	for _, cm := range comments {
		key := [2]int64{int64(cm.SessionIndex), cm.ChatID}
		g, ok := groups[key]
		if !ok {
			g = &group{sessionIndex: cm.SessionIndex, chatID: cm.ChatID}
			groups[key] = g
			order = append(order, key)
		}
		g.comments = append(g.comments, cm)
	}

	var (
		mu      sync.Mutex
		results []MessageResult
	)

	eg, egCtx := errgroup.WithContext(c.Request().Context())
	eg.SetLimit(4)

	for _, key := range order {
		g := groups[key]
		eg.Go(func() error {
			ids := make([]int64, len(g.comments))
			for i, cm := range g.comments {
				ids[i] = cm.MessageID
			}

			msgs, err := s.pool.GetMessages(egCtx, g.sessionIndex, g.chatID, ids)
			if err != nil {
				s.log.Error().Err(err).Int("session_index", g.sessionIndex).Int64("chat_id", g.chatID).Msg("shardrpc: batch fetch failed")
				return nil
			}

			group := make([]MessageResult, 0, len(msgs))
			for i, msg := range msgs {
				if msg == nil {
					continue
				}
				group = append(group, MessageResult{
					Text:     msg.Text,
					ChatName: g.comments[i].ChatName,
					Comment:  g.comments[i],
				})
			}

			mu.Lock()
			results = append(results, group...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return c.JSON(http.StatusOK, results)
}

// handleKnownChatsCount sums cached subscribed-set sizes across sessions
// on this shard.
func (s *Server) handleKnownChatsCount(c echo.Context) error {
	total := 0
	for _, m := range s.pool.Members() {
		total += m.SubscribedCount()
	}
	return c.JSON(http.StatusOK, map[string]int{"count": total})
}

type discoverRequest struct {
	Handle           string `json:"handle"`
	IgnoreProtection bool   `json:"ignore_protection"`
}

// handleDiscover delegates to the Session Pool.
func (s *Server) handleDiscover(c echo.Context) error {
	var req discoverRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return respondError(c, apperrors.BadRequest("malformed discover payload"))
	}

	chat, err := s.pool.DiscoverChat(c.Request().Context(), req.Handle, false, req.IgnoreProtection, nil)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, chat)
}

// handleUserFromComment fetches a single message with session index 0 and
// returns its author.
func (s *Server) handleUserFromComment(c echo.Context) error {
	chatID, messageID, err := parseChatAndMessageID(c)
	if err != nil {
		return respondError(c, err)
	}

	members := s.pool.Members()
	var zero *sessionpool.Member
	for _, m := range members {
		if m.Index() == 0 {
			zero = m
			break
		}
	}
	if zero == nil {
		return respondError(c, apperrors.NotFound("session"))
	}

	msg, err := zero.Message(c.Request().Context(), chatID, messageID)
	if err != nil {
		return respondError(c, apperrors.NotFound("message"))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user_id":  msg.UserID,
		"username": msg.Username,
		"name":     msg.Name,
	})
}

// handlePost fetches the post text with the named session.
func (s *Server) handlePost(c echo.Context) error {
	channelID, postID, err := parseChatAndMessageID(c)
	if err != nil {
		return respondError(c, err)
	}

	sessionIndex, err := parseIntQuery(c, "session_index")
	if err != nil {
		return respondError(c, err)
	}

	var target *sessionpool.Member
	for _, m := range s.pool.Members() {
		if m.Index() == sessionIndex {
			target = m
			break
		}
	}
	if target == nil {
		return respondError(c, apperrors.NotFound("session"))
	}

	msg, err := target.Message(c.Request().Context(), channelID, postID)
	if err != nil {
		return respondError(c, apperrors.NotFound("post"))
	}

	return c.JSON(http.StatusOK, map[string]string{"text": msg.Text})
}
