// Package model holds the value records the engine reads from and writes to
// the store. All timestamps are UTC.
package model

import (
	"strconv"
	"time"
)

// ChatType enumerates the three shapes a Chat row can take.
type ChatType string

const (
	ChatTypeChat    ChatType = "CHAT"
	ChatTypeChannel ChatType = "CHANNEL"
	ChatTypePrivate ChatType = "PRIVATE"
)

// Mode selects which session table a process loads from.
type Mode string

const (
	ModeProd  Mode = "PROD"
	ModeDev1  Mode = "DEV_1"
	ModeDev2  Mode = "DEV_2"
)

// Session is one row of the bots table: a loaded, authenticated chat-network
// identity owned by a single shard.
type Session struct {
	ID          int64
	Shard       int
	DisplayName string
	SessionBlob string
}

// BrokenSession names a Session ID excluded at pool-load time.
type BrokenSession struct {
	ID int64
}

// Chat is the authoritative chat_id -> (shard, session) ownership record.
type Chat struct {
	ChatID        int64
	Name          string
	JoinString    string
	Shard         int
	SessionIndex  int
	AddedAt       time.Time
	Type          ChatType
}

// ChatUpdate is an advisory row signalling that the Chat table changed for a
// shard. It is consulted only for early logging; the unconditional
// reconciliation tick is the sole authority (see registry package).
type ChatUpdate struct {
	Shard        int
	SessionIndex int
	AddedAt      time.Time
}

// DiscoveredChat is one row of the append-only discovered_chats log. The
// pending set is every chat_id whose signed sum across rows is positive.
type DiscoveredChat struct {
	ChatID           int64
	Name             string
	JoinString       string
	SubscribersCount int
	Sign             int
}

// Comment is emitted for every non-anonymous human message observed in a
// group chat.
type Comment struct {
	UserID       int64
	Date         time.Time
	ChatID       int64
	MessageID    int64
	ChannelID    *int64
	PostID       *int64
	SessionIndex int
	Shard        int
}

// User is appended whenever a message is observed; duplicates across time
// are expected and deduplicated at query time.
type User struct {
	UserID   int64
	Username string
	Name     string
}

// PostSnapshot is one time-series point of reaction/view counters for a
// channel post.
type PostSnapshot struct {
	ID           int64
	ChannelID    int64
	PostDate     time.Time
	PointDate    time.Time
	Data         map[string]int64
	SessionIndex int
	Shard        int
}

// LogRecord is one batched row written to the logs table.
type LogRecord struct {
	Created time.Time
	LevelNo int
	Message string
	Shard   int
	FQDN    string
}

// BackfillTaskState is the persisted/observable shape of a backfill task;
// the engine keeps the live task table in memory (see backfill package) but
// uses this type to report status over RPC if needed.
type BackfillTaskState struct {
	ChatID        int64
	StartID       int64
	EndID         int64
	CurrentOffset int64
	Count         int64
	Retries       int
	Finished      bool
}

// ID returns the backfill task identity, "chat_id_start_end".
func (t BackfillTaskState) ID() string {
	return BackfillTaskID(t.ChatID, t.StartID, t.EndID)
}

// BackfillTaskID formats the "chat_id_start_end" task identity.
func BackfillTaskID(chatID, start, end int64) string {
	return strconv.FormatInt(chatID, 10) + "_" + strconv.FormatInt(start, 10) + "_" + strconv.FormatInt(end, 10)
}
