// Package config handles application configuration from environment
// variables and an optional config file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinCheckInterval is the shortest allowed availability check interval.
const MinCheckInterval = time.Minute

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	HTTPAddr     string

	RedisURL           string
	CacheTTL           time.Duration
	CoverCacheTTL      time.Duration
	DefaultSearchLimit int

	FinnaBaseURL              string
	FinnaSearchEndpoint       string
	FinnaAvailabilityBaseURL  string
	FinnaAvailabilityEndpoint string
	RequestTimeout            time.Duration
	CatalogRateLimit          int

	SchedulerEnabled  bool
	CheckInterval     time.Duration
	CheckInitialDelay time.Duration
	CheckBatchSize    int
	CheckConcurrency  int

	TelegramBotToken string
	AllowedUsers     []int64
}

var defaults = map[string]any{
	"DATABASE_PATH":                    "./data/kirjastokaveri.db",
	"LOG_LEVEL":                        "info",
	"HTTP_ADDR":                        ":8080",
	"REDIS_URL":                        "",
	"CACHE_TTL":                        "1h",
	"COVER_CACHE_TTL":                  "24h",
	"DEFAULT_SEARCH_LIMIT":             20,
	"FINNA_BASE_URL":                   "https://api.finna.fi/v1",
	"FINNA_SEARCH_ENDPOINT":            "/search",
	"FINNA_AVAILABILITY_BASE_URL":      "https://www.finna.fi",
	"FINNA_AVAILABILITY_ENDPOINT":      "/AJAX/JSON",
	"REQUEST_TIMEOUT":                  "10s",
	"CATALOG_RATE_LIMIT":               10,
	"SCHEDULER_ENABLED":                true,
	"AVAILABILITY_CHECK_INTERVAL":      "30m",
	"AVAILABILITY_CHECK_INITIAL_DELAY": "30s",
	"AVAILABILITY_CHECK_BATCH_SIZE":    50,
	"AVAILABILITY_CHECK_CONCURRENCY":   5,
	"TELEGRAM_BOT_TOKEN":               "",
	"ALLOWED_USERS":                    "",
	"CONFIG_FILE":                      "",
}

// Load reads configuration from environment variables, overlaid on the
// file named by CONFIG_FILE when set.
func Load() (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabasePath:              v.GetString("DATABASE_PATH"),
		LogLevel:                  v.GetString("LOG_LEVEL"),
		HTTPAddr:                  v.GetString("HTTP_ADDR"),
		RedisURL:                  strings.TrimSpace(v.GetString("REDIS_URL")),
		DefaultSearchLimit:        v.GetInt("DEFAULT_SEARCH_LIMIT"),
		FinnaBaseURL:              strings.TrimRight(v.GetString("FINNA_BASE_URL"), "/"),
		FinnaSearchEndpoint:       v.GetString("FINNA_SEARCH_ENDPOINT"),
		FinnaAvailabilityBaseURL:  strings.TrimRight(v.GetString("FINNA_AVAILABILITY_BASE_URL"), "/"),
		FinnaAvailabilityEndpoint: v.GetString("FINNA_AVAILABILITY_ENDPOINT"),
		CatalogRateLimit:          v.GetInt("CATALOG_RATE_LIMIT"),
		SchedulerEnabled:          v.GetBool("SCHEDULER_ENABLED"),
		CheckBatchSize:            v.GetInt("AVAILABILITY_CHECK_BATCH_SIZE"),
		CheckConcurrency:          v.GetInt("AVAILABILITY_CHECK_CONCURRENCY"),
		TelegramBotToken:          v.GetString("TELEGRAM_BOT_TOKEN"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CACHE_TTL", &cfg.CacheTTL},
		{"COVER_CACHE_TTL", &cfg.CoverCacheTTL},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"AVAILABILITY_CHECK_INTERVAL", &cfg.CheckInterval},
		{"AVAILABILITY_CHECK_INITIAL_DELAY", &cfg.CheckInitialDelay},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	users, err := parseAllowedUsers(v.GetString("ALLOWED_USERS"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedUsers = users

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.CheckInterval < MinCheckInterval:
		return fmt.Errorf("AVAILABILITY_CHECK_INTERVAL must be at least %s, got %s", MinCheckInterval, c.CheckInterval)
	case c.CheckInitialDelay < 0:
		return fmt.Errorf("AVAILABILITY_CHECK_INITIAL_DELAY must not be negative")
	case c.CheckBatchSize <= 0:
		return fmt.Errorf("AVAILABILITY_CHECK_BATCH_SIZE must be positive, got %d", c.CheckBatchSize)
	case c.CheckConcurrency <= 0:
		return fmt.Errorf("AVAILABILITY_CHECK_CONCURRENCY must be positive, got %d", c.CheckConcurrency)
	case c.DefaultSearchLimit <= 0:
		return fmt.Errorf("DEFAULT_SEARCH_LIMIT must be positive, got %d", c.DefaultSearchLimit)
	case c.CacheTTL <= 0 || c.CoverCacheTTL <= 0:
		return fmt.Errorf("cache TTLs must be positive")
	case c.RequestTimeout <= 0:
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	case c.CatalogRateLimit < 0:
		return fmt.Errorf("CATALOG_RATE_LIMIT must not be negative")
	case c.BotEnabled() && len(c.AllowedUsers) == 0:
		return fmt.Errorf("ALLOWED_USERS is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func parseAllowedUsers(raw string) ([]int64, error) {
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

// BotEnabled reports whether the operator bot should start.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// An empty list allows nobody.
func (c *Config) IsUserAllowed(userID int64) bool {
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
