package controllerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/shardclient"
	"github.com/voxharbor/engine/internal/store"
)

type fakeStore struct {
	chats         map[int64]model.Chat
	chatsByJoin   map[string]model.Chat
	users         map[int64][]model.User
	comments      map[int64][]model.Comment
	channelCounts []store.ChannelCommentCount
	reactions     []model.PostSnapshot
	latestPost    model.PostSnapshot
	latestPostOK  bool
	brokenIDs     []int64
}

func (s *fakeStore) ChatByID(ctx context.Context, chatID int64) (model.Chat, bool, error) {
	c, ok := s.chats[chatID]
	return c, ok, nil
}
func (s *fakeStore) ChatByJoinString(ctx context.Context, joinString string) (model.Chat, bool, error) {
	c, ok := s.chatsByJoin[joinString]
	return c, ok, nil
}
func (s *fakeStore) ChatsByNameOrJoinString(ctx context.Context, name, joinString string) ([]model.Chat, error) {
	var out []model.Chat
	for _, c := range s.chats {
		out = append(out, c)
	}
	return out, nil
}
func (s *fakeStore) UsersByUsernamePrefix(ctx context.Context, username string, limit int) ([]model.User, error) {
	var out []model.User
	for _, rows := range s.users {
		out = append(out, rows...)
	}
	return out, nil
}
func (s *fakeStore) UsersByUserIDs(ctx context.Context, userIDs []int64) ([]model.User, error) {
	var out []model.User
	for _, id := range userIDs {
		out = append(out, s.users[id]...)
	}
	return out, nil
}
func (s *fakeStore) CommentsByUserID(ctx context.Context, userID int64, offset, fetch int) ([]model.Comment, error) {
	return s.comments[userID], nil
}
func (s *fakeStore) CommentCount(ctx context.Context, userID int64) (int64, error) {
	return int64(len(s.comments[userID])), nil
}
func (s *fakeStore) CommentCountsByChannel(ctx context.Context, userID int64) ([]store.ChannelCommentCount, error) {
	return s.channelCounts, nil
}
func (s *fakeStore) RandomActiveUserIDs(ctx context.Context, minComments, limit int) ([]int64, error) {
	return []int64{1, 2, 3}, nil
}
func (s *fakeStore) ReactionsByChannelAndPostID(ctx context.Context, channelID, postID int64) ([]model.PostSnapshot, error) {
	return s.reactions, nil
}
func (s *fakeStore) LatestPost(ctx context.Context, channelID, postID int64) (model.PostSnapshot, bool, error) {
	return s.latestPost, s.latestPostOK, nil
}
func (s *fakeStore) MarkSessionBroken(ctx context.Context, sessionID int64) error {
	s.brokenIDs = append(s.brokenIDs, sessionID)
	return nil
}

func newStore() *fakeStore {
	return &fakeStore{
		chats:       map[int64]model.Chat{},
		chatsByJoin: map[string]model.Chat{},
		users:       map[int64][]model.User{},
		comments:    map[int64][]model.Comment{},
	}
}

func TestHandleChatReturnsChat(t *testing.T) {
	st := newStore()
	st.chats[7] = model.Chat{ChatID: 7, Name: "room"}

	e := echo.New()
	New(e, Options{Store: st, ShardCount: 1, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/chat?chat_id=7", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "room", got.Name)
}

func TestHandleChatNotFoundReturns404(t *testing.T) {
	st := newStore()
	e := echo.New()
	New(e, Options{Store: st, ShardCount: 1, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/chat?chat_id=404", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUserDeduplicatesUsernamesAndNames(t *testing.T) {
	st := newStore()
	st.users[5] = []model.User{
		{UserID: 5, Username: "bob", Name: "Bob"},
		{UserID: 5, Username: "bob", Name: "Bobby"},
		{UserID: 5, Username: "bobby2", Name: "Bobby"},
	}

	e := echo.New()
	New(e, Options{Store: st, ShardCount: 1, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/user?user_id=5", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got UserInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.ElementsMatch(t, []string{"bob", "bobby2"}, got.Usernames)
	assert.ElementsMatch(t, []string{"Bob", "Bobby"}, got.Names)
}

func TestHandleDiscoverPicksLeastLoadedShard(t *testing.T) {
	var calledDiscoverOn int = -1

	srv0 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/known_chats_count":
			json.NewEncoder(w).Encode(map[string]int{"count": 50})
		case "/discover":
			calledDiscoverOn = 0
		}
	}))
	defer srv0.Close()

	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/known_chats_count":
			json.NewEncoder(w).Encode(map[string]int{"count": 5})
		case "/discover":
			calledDiscoverOn = 1
		}
	}))
	defer srv1.Close()

	clients := map[int]*shardclient.Client{
		0: shardclient.New(0, srv0.URL),
		1: shardclient.New(1, srv1.URL),
	}

	e := echo.New()
	New(e, Options{
		Store:      newStore(),
		ShardCount: 2,
		ShardClient: func(shard int) *shardclient.Client { return clients[shard] },
		Log:        zerolog.Nop(),
	})

	body, _ := json.Marshal(discoverRequest{JoinString: "somechat"})
	req := httptest.NewRequest(http.MethodPost, "/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calledDiscoverOn, "shard 1 has fewer known chats and should receive the join")
}

func TestHandlePostForwardsToOwningShard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "post body"})
	}))
	defer srv.Close()

	st := newStore()
	st.latestPostOK = true
	st.latestPost = model.PostSnapshot{ID: 9, ChannelID: 42, Shard: 0, SessionIndex: 1}

	e := echo.New()
	New(e, Options{
		Store:       st,
		ShardCount:  1,
		ShardClient: func(shard int) *shardclient.Client { return shardclient.New(shard, srv.URL) },
		Log:         zerolog.Nop(),
	})

	req := httptest.NewRequest(http.MethodGet, "/post?channel_id=42&post_id=9", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "post body", out["text"])
}

func TestHandlePostNotFoundWhenNeverSampled(t *testing.T) {
	st := newStore()
	e := echo.New()
	New(e, Options{Store: st, ShardCount: 1, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/post?channel_id=42&post_id=9", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRemoveBotMarksBroken(t *testing.T) {
	st := newStore()
	e := echo.New()
	New(e, Options{Store: st, ShardCount: 1, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodPost, "/remove_bot?bot_id=3", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, st.brokenIDs, 1)
	assert.Equal(t, int64(3), st.brokenIDs[0])
}

func TestHandleChatsRequiresNameOrJoinString(t *testing.T) {
	st := newStore()
	e := echo.New()
	New(e, Options{Store: st, ShardCount: 1, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

