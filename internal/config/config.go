// Package config loads Vox Harbor's engine configuration from the
// environment (plus an optional .env file), mirroring the shape of
// common/config.py's pydantic settings object.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/voxharbor/engine/internal/model"
)

// Config is the fully resolved, validated configuration for one process.
type Config struct {
	Mode model.Mode

	ClickHouseHost     string
	ClickHousePort     int
	ClickHousePassword string

	ShardNum  int
	ShardHost string
	ShardPort int

	// ShardEndpoints is the controller's view of every shard's host:port,
	// indexed by shard number.
	ShardEndpoints []string

	ControllerHost string
	ControllerPort int

	ActiveSessionsCount int
	MaxChatsForSession  int
	MinChatMembers      int
	MinChannelMembers   int

	AutoDiscover bool
	ReadOnly     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NatsURL is optional; an empty value disables the advisory
	// chat_updates pub/sub fast path.
	NatsURL string
}

// Defaults mirror the §6 Configuration table.
const (
	defaultClickHousePort     = 9440
	defaultShardHost          = "0.0.0.0"
	defaultShardPort          = 8001
	defaultControllerHost     = "0.0.0.0"
	defaultControllerPort     = 8002
	defaultActiveSessionCount = 3
	defaultMaxChatsForSession = 200
	defaultMinChatMembers     = 300
	defaultMinChannelMembers  = 5000
	defaultRedisAddr          = "127.0.0.1:6379"
)

// Load reads configuration from the process environment, applying
// defaults and failing fast (per §7 "Fatal startup failure") on missing
// required values or an invalid MODE.
func Load() (Config, error) {
	_ = godotenv.Load() // .env is optional; ignore a missing file

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("CLICKHOUSE_PORT", defaultClickHousePort)
	v.SetDefault("SHARD_NUM", 0)
	v.SetDefault("SHARD_HOST", defaultShardHost)
	v.SetDefault("SHARD_PORT", defaultShardPort)
	v.SetDefault("CONTROLLER_HOST", defaultControllerHost)
	v.SetDefault("CONTROLLER_PORT", defaultControllerPort)
	v.SetDefault("ACTIVE_BOTS_COUNT", defaultActiveSessionCount)
	v.SetDefault("MAX_CHATS_FOR_BOT", defaultMaxChatsForSession)
	v.SetDefault("MIN_CHAT_MEMBERS_COUNT", defaultMinChatMembers)
	v.SetDefault("MIN_CHANNEL_MEMBERS_COUNT", defaultMinChannelMembers)
	v.SetDefault("AUTO_DISCOVER", false)
	v.SetDefault("READ_ONLY", false)
	v.SetDefault("REDIS_ADDR", defaultRedisAddr)
	v.SetDefault("REDIS_DB", 0)

	mode, err := parseMode(v.GetString("MODE"))
	if err != nil {
		return Config{}, err
	}

	host := v.GetString("CLICKHOUSE_HOST")
	if host == "" {
		return Config{}, errors.New("CLICKHOUSE_HOST is required")
	}

	password := v.GetString("CLICKHOUSE_PASSWORD")
	if password == "" {
		return Config{}, errors.New("CLICKHOUSE_PASSWORD is required")
	}

	endpoints, err := parseEndpoints(v.GetString("SHARD_ENDPOINTS"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:                mode,
		ClickHouseHost:      host,
		ClickHousePort:      v.GetInt("CLICKHOUSE_PORT"),
		ClickHousePassword:  password,
		ShardNum:            v.GetInt("SHARD_NUM"),
		ShardHost:           v.GetString("SHARD_HOST"),
		ShardPort:           v.GetInt("SHARD_PORT"),
		ShardEndpoints:      endpoints,
		ControllerHost:      v.GetString("CONTROLLER_HOST"),
		ControllerPort:      v.GetInt("CONTROLLER_PORT"),
		ActiveSessionsCount: v.GetInt("ACTIVE_BOTS_COUNT"),
		MaxChatsForSession:  v.GetInt("MAX_CHATS_FOR_BOT"),
		MinChatMembers:      v.GetInt("MIN_CHAT_MEMBERS_COUNT"),
		MinChannelMembers:   v.GetInt("MIN_CHANNEL_MEMBERS_COUNT"),
		AutoDiscover:        v.GetBool("AUTO_DISCOVER"),
		ReadOnly:            v.GetBool("READ_ONLY"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		NatsURL:             v.GetString("NATS_URL"),
	}, nil
}

func parseMode(raw string) (model.Mode, error) {
	switch strings.ToUpper(raw) {
	case string(model.ModeProd):
		return model.ModeProd, nil
	case string(model.ModeDev1):
		return model.ModeDev1, nil
	case string(model.ModeDev2):
		return model.ModeDev2, nil
	default:
		return "", errors.Errorf("unknown MODE %q", raw)
	}
}

func parseEndpoints(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	endpoints := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, _, err := splitHostPort(p); err != nil {
			return nil, errors.Wrapf(err, "invalid SHARD_ENDPOINTS entry %q", p)
		}
		endpoints = append(endpoints, p)
	}
	return endpoints, nil
}

func splitHostPort(hostPort string) (string, int, error) {
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return "", 0, errors.New("missing port")
	}
	port, err := strconv.Atoi(hostPort[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return hostPort[:idx], port, nil
}

// ShardURL returns the base URL the controller uses to reach shard n.
func (c Config) ShardURL(shard int) (string, error) {
	if shard < 0 || shard >= len(c.ShardEndpoints) {
		return "", errors.Errorf("no endpoint configured for shard %d", shard)
	}
	return fmt.Sprintf("http://%s", c.ShardEndpoints[shard]), nil
}

// SessionTableName returns the bots table to read for this Config's Mode.
func SessionTableName(mode model.Mode) (string, error) {
	switch mode {
	case model.ModeProd:
		return "bots", nil
	case model.ModeDev1:
		return "bots_dev_1", nil
	case model.ModeDev2:
		return "bots_dev_2", nil
	default:
		return "", errors.Errorf("unknown mode %q", mode)
	}
}
