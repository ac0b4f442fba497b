// Package cache provides the string key/value cache shared by the search
// service and the availability monitor.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is a TTL-bounded string cache. A miss is reported as ok=false,
// never as an error.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

const pingTimeout = 3 * time.Second

// New returns a Redis backend when redisURL is set and reachable, and a
// process-local backend otherwise. An unusable Redis is logged and never
// returned as an error.
func New(ctx context.Context, redisURL string, log *slog.Logger) Backend {
	if redisURL == "" {
		log.Info("using in-memory cache")
		return NewMemory()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("invalid redis url, using in-memory cache", "error", err)
		return NewMemory()
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Warn("redis unreachable, using in-memory cache", "addr", opts.Addr, "error", err)
		return NewMemory()
	}

	log.Info("using redis cache", "addr", opts.Addr)
	return NewRedis(client)
}

// Key builds a deterministic cache key for prefix and payload. Object keys
// are emitted in sorted order so that logically equal payloads collide.
func Key(prefix string, payload map[string]any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		// Payloads are built from plain values; fall back to fmt so a bad
		// value still yields a stable key.
		return fmt.Sprintf("finna:%s:%v", prefix, payload)
	}
	return "finna:" + prefix + ":" + string(b)
}

// AvailabilityKey is the key for an availability response, optionally
// bound to the caller's location.
func AvailabilityKey(recordID string, lat, lon *float64) string {
	return Key("availability", map[string]any{
		"record_id": recordID,
		"lat":       lat,
		"lon":       lon,
	})
}

// CoverKey is the key for a scraped cover image URL.
func CoverKey(recordID string) string {
	return Key("cover", map[string]any{"record_id": recordID})
}
