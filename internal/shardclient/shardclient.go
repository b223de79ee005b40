// Package shardclient is the Controller RPC surface's fan-out HTTP client
// over each shard's Shard RPC Surface, grounded on the original
// services/shard_client.py's per-shard async context manager.
package shardclient

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/voxharbor/engine/internal/shardrpc"
)

// Client calls one shard's RPC surface by its base URL (host:port).
type Client struct {
	shard int
	rc    *resty.Client
}

// New builds a Client targeting baseURL (e.g. "http://10.0.0.4:8001").
func New(shard int, baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2)
	return &Client{shard: shard, rc: rc}
}

// Shard returns the shard number this client targets.
func (c *Client) Shard() int { return c.shard }

// GetMessages forwards a batch of comments to /messages.
func (c *Client) GetMessages(ctx context.Context, comments []shardrpc.Comment) ([]shardrpc.MessageResult, error) {
	var results []shardrpc.MessageResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(comments).
		SetResult(&results).
		Post("/messages")
	if err != nil {
		return nil, errors.Wrapf(err, "shardclient: shard %d /messages", c.shard)
	}
	if resp.IsError() {
		return nil, errors.Errorf("shardclient: shard %d /messages returned %s", c.shard, resp.Status())
	}
	return results, nil
}

// KnownChatsCount reads /known_chats_count, used by the controller's
// discover load-balancing pass.
func (c *Client) KnownChatsCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	resp, err := c.rc.R().SetContext(ctx).SetResult(&out).Get("/known_chats_count")
	if err != nil {
		return 0, errors.Wrapf(err, "shardclient: shard %d /known_chats_count", c.shard)
	}
	if resp.IsError() {
		return 0, errors.Errorf("shardclient: shard %d /known_chats_count returned %s", c.shard, resp.Status())
	}
	return out.Count, nil
}

// discoverRequest mirrors shardrpc's own request shape.
type discoverRequest struct {
	Handle           string `json:"handle"`
	IgnoreProtection bool   `json:"ignore_protection"`
}

// Discover forwards a join request to this shard's /discover.
func (c *Client) Discover(ctx context.Context, handle string, ignoreProtection bool) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(discoverRequest{Handle: handle, IgnoreProtection: ignoreProtection}).
		Post("/discover")
	if err != nil {
		return errors.Wrapf(err, "shardclient: shard %d /discover", c.shard)
	}
	if resp.IsError() {
		return errors.Errorf("shardclient: shard %d /discover returned %s", c.shard, resp.Status())
	}
	return nil
}

// UserFromComment looks up a single message's author via /user_from_comment.
func (c *Client) UserFromComment(ctx context.Context, chatID, messageID int64) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"chat_id":    itoa64(chatID),
			"message_id": itoa64(messageID),
		}).
		SetResult(&out).
		Get("/user_from_comment")
	if err != nil {
		return nil, errors.Wrapf(err, "shardclient: shard %d /user_from_comment", c.shard)
	}
	if resp.IsError() {
		return nil, errors.Errorf("shardclient: shard %d /user_from_comment returned %s", c.shard, resp.Status())
	}
	return out, nil
}

// Post fetches a single channel post's live text via /post.
func (c *Client) Post(ctx context.Context, channelID, postID int64, sessionIndex int) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"chat_id":       itoa64(channelID),
			"message_id":    itoa64(postID),
			"session_index": itoa(sessionIndex),
		}).
		SetResult(&out).
		Get("/post")
	if err != nil {
		return "", errors.Wrapf(err, "shardclient: shard %d /post", c.shard)
	}
	if resp.IsError() {
		return "", errors.Errorf("shardclient: shard %d /post returned %s", c.shard, resp.Status())
	}
	return out.Text, nil
}
