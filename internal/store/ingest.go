package store

import (
	"context"

	"github.com/voxharbor/engine/internal/model"
)

// InsertComments appends a batch of observed messages (§4.4's comments
// accumulator), mirroring BlockInserter.flush()'s "INSERT INTO comments".
func (g *Gateway) InsertComments(ctx context.Context, comments []model.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	batch, err := g.conn.PrepareBatch(ctx,
		"INSERT INTO comments (user_id, date, chat_id, message_id, channel_id, post_id, bot_index, shard)")
	if err != nil {
		return err
	}

	for _, c := range comments {
		if err := batch.Append(c.UserID, c.Date, c.ChatID, c.MessageID, c.ChannelID, c.PostID, c.SessionIndex, c.Shard); err != nil {
			return err
		}
	}

	return batch.Send()
}

// InsertUsers appends a batch of observed user sightings (§4.4's users
// accumulator). Duplicate (user_id, username, name) tuples across time are
// expected; dedup happens at query time, not insert time.
func (g *Gateway) InsertUsers(ctx context.Context, users []model.User) error {
	if len(users) == 0 {
		return nil
	}

	batch, err := g.conn.PrepareBatch(ctx, "INSERT INTO users (user_id, username, name)")
	if err != nil {
		return err
	}

	for _, u := range users {
		if err := batch.Append(u.UserID, u.Username, u.Name); err != nil {
			return err
		}
	}

	return batch.Send()
}
