package shardrpc

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

	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/session"
	"github.com/voxharbor/engine/internal/sessionpool"
)

func newTestServer(t *testing.T) (*echo.Echo, *sessionpool.Pool, *chatnet.Fake) {
	t.Helper()

	fake := chatnet.NewFake()
	pool, err := sessionpool.Bootstrap(
		[]model.Session{{ID: 1, Shard: 0}},
		nil,
		func(model.Session) chatnet.Client { return fake },
		sessionpool.Options{
			ActiveSessionsCount: 1,
			WrapperOptions:      session.Options{MaxChatsForSession: 200, MinChatMembers: 10, MinChannelMembers: 100},
		},
	)
	require.NoError(t, err)

	e := echo.New()
	New(e, pool, zerolog.Nop())
	return e, pool, fake
}

func TestHandleMessagesZipsCommentsWithFetchedText(t *testing.T) {
	e, _, fake := newTestServer(t)
	fake.SeedHistory(10, []chatnet.Message{
		{ChatID: 10, MessageID: 1, Text: "hello"},
	})

	body, _ := json.Marshal([]Comment{
		{SessionIndex: 0, ChatID: 10, MessageID: 1, ChatName: "room"},
	})

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var results []MessageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Text)
	assert.Equal(t, "room", results[0].ChatName)
}

func TestHandleMessagesDropsOnlyUnresolvableEntryFromGroup(t *testing.T) {
	e, _, fake := newTestServer(t)
	fake.SeedHistory(10, []chatnet.Message{
		{ChatID: 10, MessageID: 1, Text: "first"},
		{ChatID: 10, MessageID: 3, Text: "third"},
	})

	body, _ := json.Marshal([]Comment{
		{SessionIndex: 0, ChatID: 10, MessageID: 1, ChatName: "room"},
		{SessionIndex: 0, ChatID: 10, MessageID: 2, ChatName: "room"},
		{SessionIndex: 0, ChatID: 10, MessageID: 3, ChatName: "room"},
	})

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var results []MessageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2, "the missing message_id=2 fetch must drop only its own entry")
	assert.Equal(t, int64(1), results[0].Comment.MessageID)
	assert.Equal(t, "first", results[0].Text)
	assert.Equal(t, int64(3), results[1].Comment.MessageID)
	assert.Equal(t, "third", results[1].Text)
}

func TestHandleKnownChatsCountSumsSubscribedSets(t *testing.T) {
	e, pool, fake := newTestServer(t)
	fake.SeedPreview("h1", chatnet.Chat{ID: 1, Kind: chatnet.KindChat})

	member, ok := pool.Member(0)
	require.True(t, ok)
	_, err := member.Wrapper.Join(context.Background(), "h1")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/known_chats_count", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out["count"])
}

func TestHandleUserFromCommentReturnsAuthor(t *testing.T) {
	e, _, fake := newTestServer(t)
	fake.SeedHistory(10, []chatnet.Message{
		{ChatID: 10, MessageID: 1, UserID: 5, Username: "bob", Name: "Bob"},
	})

	req := httptest.NewRequest(http.MethodGet, "/user_from_comment?chat_id=10&message_id=1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "bob", out["username"])
}

func TestHandleUserFromCommentNotFoundReturns404(t *testing.T) {
	e, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/user_from_comment?chat_id=10&message_id=99", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePostReturnsText(t *testing.T) {
	e, _, fake := newTestServer(t)
	fake.SeedHistory(42, []chatnet.Message{
		{ChatID: 42, MessageID: 99, Text: "post body"},
	})

	req := httptest.NewRequest(http.MethodGet, "/post?chat_id=42&message_id=99&session_index=0", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "post body", out["text"])
}

func TestHandlePostMalformedSessionIndexReturns400(t *testing.T) {
	e, _, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/post?chat_id=42&message_id=99&session_index=nope", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
