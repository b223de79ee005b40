package store

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/voxharbor/engine/internal/model"
)

// InsertPostSnapshot appends one resample point for a channel post (§4.7).
// The in-memory data map is translated into the two parallel Nested
// columns data.key/data.value rather than a single Map-typed column.
func (g *Gateway) InsertPostSnapshot(ctx context.Context, p model.PostSnapshot) error {
	batch, err := g.conn.PrepareBatch(ctx,
		"INSERT INTO posts (id, channel_id, post_date, point_date, data.key, data.value, bot_index, shard)")
	if err != nil {
		return err
	}

	keys, values := splitPostData(p.Data)
	if err := batch.Append(p.ID, p.ChannelID, p.PostDate, p.PointDate, keys, values, p.SessionIndex, p.Shard); err != nil {
		return err
	}

	return batch.Send()
}

// splitPostData converts the in-memory data: map<string,int> into the two
// parallel slices the posts table's Nested data.key/data.value columns
// expect (§4.4).
func splitPostData(data map[string]int64) ([]string, []int64) {
	keys := make([]string, 0, len(data))
	values := make([]int64, 0, len(data))
	for k, v := range data {
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values
}

// joinPostData reconstructs the in-memory data map from the two parallel
// slices returned by a Nested data.key/data.value column pair.
func joinPostData(keys []string, values []int64) map[string]int64 {
	if len(keys) == 0 {
		return nil
	}
	data := make(map[string]int64, len(keys))
	for i, k := range keys {
		data[k] = values[i]
	}
	return data
}

// LatestPostPointDate returns the most recent point_date sampled for a
// post, used by the Post Tracker to compute the next resample deadline
// (§4.7, §8). ok=false when the post has never been sampled.
func (g *Gateway) LatestPostPointDate(ctx context.Context, channelID, postID int64) (time.Time, bool, error) {
	row := g.conn.QueryRow(ctx,
		"SELECT max(point_date) FROM posts WHERE channel_id = @channel_id AND id = @id",
		clickhouse.Named("channel_id", channelID),
		clickhouse.Named("id", postID),
	)

	var pointDate time.Time
	if err := row.Scan(&pointDate); err != nil {
		if err == clickhouse.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if pointDate.IsZero() {
		return time.Time{}, false, nil
	}
	return pointDate, true, nil
}

// NewPosts reads the new_posts_mv projection: channel posts observed since
// the given cursor but never yet sampled, seeding the Post Tracker's
// resample table as fresh posts are discovered.
func (g *Gateway) NewPosts(ctx context.Context, shard int, since time.Time) ([]model.PostSnapshot, error) {
	rows, err := g.conn.Query(ctx,
		"SELECT id, channel_id, post_date, bot_index FROM new_posts_mv WHERE shard = @shard AND post_date > @since ORDER BY post_date",
		clickhouse.Named("shard", shard),
		clickhouse.Named("since", since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.PostSnapshot
	for rows.Next() {
		var p model.PostSnapshot
		if err := rows.Scan(&p.ID, &p.ChannelID, &p.PostDate, &p.SessionIndex); err != nil {
			return nil, err
		}
		p.Shard = shard
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ReactionsByChannelAndPostID returns every sampled point for one post in
// chronological order, the /reactions and /reactions_by_url Web UI feed.
func (g *Gateway) ReactionsByChannelAndPostID(ctx context.Context, channelID, postID int64) ([]model.PostSnapshot, error) {
	rows, err := g.conn.Query(ctx,
		`SELECT id, channel_id, post_date, point_date, data.key, data.value, bot_index, shard
		 FROM posts
		 WHERE id = @id AND channel_id = @channel_id
		 ORDER BY point_date ASC`,
		clickhouse.Named("id", postID),
		clickhouse.Named("channel_id", channelID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPostSnapshots(rows)
}

// LatestPost returns the most recent sampled row for a post, carrying the
// shard/session_index a controller needs to forward a /post fetch to the
// owning shard's live client.
func (g *Gateway) LatestPost(ctx context.Context, channelID, postID int64) (model.PostSnapshot, bool, error) {
	row := g.conn.QueryRow(ctx,
		`SELECT id, channel_id, post_date, point_date, data.key, data.value, bot_index, shard
		 FROM posts
		 WHERE id = @id AND channel_id = @channel_id
		 ORDER BY point_date DESC
		 LIMIT 1`,
		clickhouse.Named("id", postID),
		clickhouse.Named("channel_id", channelID),
	)

	var (
		p      model.PostSnapshot
		keys   []string
		values []int64
	)
	if err := row.Scan(&p.ID, &p.ChannelID, &p.PostDate, &p.PointDate, &keys, &values, &p.SessionIndex, &p.Shard); err != nil {
		if err == clickhouse.ErrNoRows {
			return model.PostSnapshot{}, false, nil
		}
		return model.PostSnapshot{}, false, err
	}
	p.Data = joinPostData(keys, values)
	return p, true, nil
}

func scanPostSnapshots(rows driverRows) ([]model.PostSnapshot, error) {
	var out []model.PostSnapshot
	for rows.Next() {
		var (
			p      model.PostSnapshot
			keys   []string
			values []int64
		)
		if err := rows.Scan(&p.ID, &p.ChannelID, &p.PostDate, &p.PointDate, &keys, &values, &p.SessionIndex, &p.Shard); err != nil {
			return nil, err
		}
		p.Data = joinPostData(keys, values)
		out = append(out, p)
	}
	return out, rows.Err()
}
