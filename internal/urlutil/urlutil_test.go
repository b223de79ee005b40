package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicChatURL(t *testing.T) {
	p, err := Parse("https://t.me/examplechannel/123")
	require.NoError(t, err)
	assert.Equal(t, "examplechannel", p.ChatRef)
	assert.False(t, p.HasChatID)
	assert.Equal(t, int64(123), p.MessageID)
}

func TestParsePrivateChatURLWithNumericChatID(t *testing.T) {
	p, err := Parse("https://t.me/1234567890/55")
	require.NoError(t, err)
	assert.True(t, p.HasChatID)
	assert.Equal(t, int64(1234567890), p.ChatID)
	assert.Equal(t, int64(55), p.MessageID)
}

func TestParseCommentQueryOverridesPathMessageID(t *testing.T) {
	p, err := Parse("https://t.me/examplechannel/10?comment=99")
	require.NoError(t, err)
	assert.Equal(t, int64(99), p.MessageID)
}

func TestParseRejectsWrongHost(t *testing.T) {
	_, err := Parse("https://example.com/chat/1")
	assert.Error(t, err)
}

func TestParseRejectsMissingScheme(t *testing.T) {
	_, err := Parse("t.me/chat/1")
	assert.Error(t, err)
}

func TestParseRejectsShortPath(t *testing.T) {
	_, err := Parse("https://t.me/chat")
	assert.Error(t, err)
}

func TestMarkChannelID(t *testing.T) {
	assert.Equal(t, int64(-1000000000000-42), MarkChannelID(42))
}
