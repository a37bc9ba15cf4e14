// Package config loads the service's environment-driven configuration
// surface once at startup. Config is immutable after Load returns; no
// component reaches into the environment directly.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full configuration surface of the presence core, per
// spec.md §6 "Configuration surface" plus the transport knobs needed to
// actually run the service.
type Config struct {
	// Presence semantics.
	HeartbeatWindow          time.Duration
	MinHeartbeatInterval     time.Duration
	ReaperPollInterval       time.Duration
	ReaperBatchSize          int
	NumShards                int
	ScoredSetKeyPrefix       string
	StateKeyPrefix           string
	StateTTL                 time.Duration
	MaxSubscriptionsPerConn  int
	GraphCacheTTL            time.Duration
	GraphCacheCapacity       int

	// Transport.
	ListenAddr  string
	BehindProxy bool

	// Backing stores.
	RedisAddr string
	RedisDB   int
}

// Load reads the configuration from the environment, applying the
// defaults named in spec.md §6. It never fails: every knob has a usable
// default, matching the teacher's getenv(key, fallback) philosophy in
// cmd/main.go.
func Load() Config {
	return Config{
		HeartbeatWindow:         seconds("HEARTBEAT_WINDOW_SECONDS", 30),
		MinHeartbeatInterval:    seconds("MIN_INTERVAL_SECONDS", 5),
		ReaperPollInterval:      secondsFloat("POLL_INTERVAL_SECONDS", 1.0),
		ReaperBatchSize:         integer("REAPER_BATCH_SIZE", 500),
		NumShards:               integer("NUM_SHARDS", 1),
		ScoredSetKeyPrefix:      str("SCORED_SET_KEY_PREFIX", "onlineUsers"),
		StateKeyPrefix:          str("STATE_KEY_PREFIX", "presence:state"),
		StateTTL:                seconds("STATE_TTL_SECONDS", 86400),
		MaxSubscriptionsPerConn: integer("MAX_SUBSCRIPTIONS_PER_SOCKET", 500),
		GraphCacheTTL:           seconds("GRAPH_CACHE_TTL_SECONDS", 60),
		GraphCacheCapacity:      integer("GRAPH_CACHE_CAPACITY", 50000),

		ListenAddr:  str("LISTEN_ADDR", ":8080"),
		BehindProxy: str("BEHIND_PROXY", "false") == "true",

		RedisAddr: str("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:   integer("REDIS_DB", 0),
	}
}

func str(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func integer(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func seconds(key string, fallback int) time.Duration {
	return time.Duration(integer(key, fallback)) * time.Second
}

func secondsFloat(key string, fallback float64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return time.Duration(fallback * float64(time.Second))
}
