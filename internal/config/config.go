/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Calendar store backend selection.
type StoreBackend string

const (
	StoreLocal  StoreBackend = "local"
	StoreRemote StoreBackend = "remote"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://cal.example.com)
	DBBackend   DatabaseBackend
	DBDSN       string
	InstanceID  string

	// Placement
	WorkingHoursStart   int // hour of day events may start at (0-23)
	WorkingHoursEnd     int // hour of day the window closes; <= start wraps to the next day
	BufferMinutes       int // minimum gap enforced between placed events
	StartJitterMinutes  int // random spread applied after the earliest start hour
	MaxEventsPerRequest int
	OwnerTag            string // tag stamped on every event so list/delete only touch our own

	// Batch execution
	BatchGroupSize int
	BatchCooldown  time.Duration

	// Content provider
	ProviderURL            string
	ProviderToken          string
	ProviderMaxRetries     int             // retry budget; 0 disables retries
	ProviderBackoff        []time.Duration // delay before each retry; aligned to the budget on load
	ProviderRatePerMinute  int
	ProviderTimeoutBase    time.Duration
	ProviderTimeoutPerItem time.Duration
	ProviderTimeoutCap     time.Duration
	ContentCacheTTL        time.Duration
	TemplatesPath          string // optional YAML overriding the built-in fallback templates

	// Calendar store
	StoreBackend StoreBackend
	StoreURL     string
	StoreToken   string

	// Redis entity cache (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LeaderElectionEnabled gates the scheduler behind a Redis leader
	// lease so only one replica fires recurring fills.
	LeaderElectionEnabled bool

	// NATS event bridge (optional)
	NATSURL string

	// Archive of completed fills
	ArchiveDir        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Webhooks notified when a fill completes
	WebhookURLs   []string
	WebhookSecret string // optional HMAC secret for signing payloads

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"SKULD_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"SKULD_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"SKULD_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"SKULD_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"SKULD_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"SKULD_DB_DSN"}, ""),
		InstanceID:  getEnvAny([]string{"SKULD_INSTANCE_ID"}, ""),

		// Placement
		WorkingHoursStart:   getEnvIntAny([]string{"SKULD_WORKING_HOURS_START"}, 8),
		WorkingHoursEnd:     getEnvIntAny([]string{"SKULD_WORKING_HOURS_END"}, 1),
		BufferMinutes:       getEnvIntAny([]string{"SKULD_BUFFER_MINUTES"}, 15),
		StartJitterMinutes:  getEnvIntAny([]string{"SKULD_START_JITTER_MINUTES"}, 120),
		MaxEventsPerRequest: getEnvIntAny([]string{"SKULD_MAX_EVENTS_PER_REQUEST"}, 30),
		OwnerTag:            getEnvAny([]string{"SKULD_OWNER_TAG"}, "skuld"),

		// Batch execution
		BatchGroupSize: getEnvIntAny([]string{"SKULD_BATCH_GROUP_SIZE"}, 3),
		BatchCooldown:  time.Duration(getEnvIntAny([]string{"SKULD_BATCH_COOLDOWN_MS"}, 2000)) * time.Millisecond,

		// Content provider
		ProviderURL:            getEnvAny([]string{"SKULD_PROVIDER_URL", "PROVIDER_URL"}, ""),
		ProviderToken:          getEnvAny([]string{"SKULD_PROVIDER_TOKEN", "PROVIDER_TOKEN"}, ""),
		ProviderMaxRetries:     getEnvIntAny([]string{"SKULD_PROVIDER_MAX_RETRIES"}, 3),
		ProviderBackoff:        getEnvDurationsMsAny([]string{"SKULD_PROVIDER_BACKOFF_MS"}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}),
		ProviderRatePerMinute:  getEnvIntAny([]string{"SKULD_PROVIDER_RATE_PER_MINUTE"}, 30),
		ProviderTimeoutBase:    time.Duration(getEnvIntAny([]string{"SKULD_PROVIDER_TIMEOUT_BASE_MS"}, 8000)) * time.Millisecond,
		ProviderTimeoutPerItem: time.Duration(getEnvIntAny([]string{"SKULD_PROVIDER_TIMEOUT_PER_ITEM_MS"}, 1500)) * time.Millisecond,
		ProviderTimeoutCap:     time.Duration(getEnvIntAny([]string{"SKULD_PROVIDER_TIMEOUT_CAP_MS"}, 45000)) * time.Millisecond,
		ContentCacheTTL:        time.Duration(getEnvIntAny([]string{"SKULD_CACHE_TTL_MS"}, 300000)) * time.Millisecond,
		TemplatesPath:          getEnvAny([]string{"SKULD_TEMPLATES_PATH"}, ""),

		// Calendar store
		StoreBackend: StoreBackend(getEnvAny([]string{"SKULD_STORE_BACKEND"}, string(StoreLocal))),
		StoreURL:     getEnvAny([]string{"SKULD_STORE_URL", "STORE_URL"}, ""),
		StoreToken:   getEnvAny([]string{"SKULD_STORE_TOKEN", "STORE_TOKEN"}, ""),

		// Redis entity cache
		RedisAddr:     getEnvAny([]string{"SKULD_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"SKULD_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"SKULD_REDIS_DB"}, 0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"SKULD_LEADER_ELECTION_ENABLED"}, false),

		// NATS event bridge
		NATSURL: getEnvAny([]string{"SKULD_NATS_URL", "NATS_URL"}, ""),

		// Archive
		ArchiveDir:        getEnvAny([]string{"SKULD_ARCHIVE_DIR"}, ""),
		S3AccessKeyID:     getEnvAny([]string{"SKULD_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"SKULD_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"SKULD_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"SKULD_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"SKULD_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"SKULD_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Webhooks
		WebhookURLs:   getEnvListAny([]string{"SKULD_WEBHOOK_URLS"}, nil),
		WebhookSecret: getEnvAny([]string{"SKULD_WEBHOOK_SECRET"}, ""),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"SKULD_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SKULD_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SKULD_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKULD_DB_DSN must be provided")
	}

	if cfg.StoreBackend != StoreLocal && cfg.StoreBackend != StoreRemote {
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}

	if cfg.StoreBackend == StoreRemote && cfg.StoreURL == "" {
		return nil, fmt.Errorf("SKULD_STORE_URL must be provided when SKULD_STORE_BACKEND=remote")
	}

	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("SKULD_REDIS_ADDR must be provided when SKULD_LEADER_ELECTION_ENABLED=true")
	}

	if cfg.WorkingHoursStart < 0 || cfg.WorkingHoursStart > 23 || cfg.WorkingHoursEnd < 0 || cfg.WorkingHoursEnd > 23 {
		return nil, fmt.Errorf("working hours must be within 0-23, got start=%d end=%d", cfg.WorkingHoursStart, cfg.WorkingHoursEnd)
	}

	if cfg.MaxEventsPerRequest < 1 {
		return nil, fmt.Errorf("SKULD_MAX_EVENTS_PER_REQUEST must be at least 1")
	}

	if cfg.BatchGroupSize < 1 {
		return nil, fmt.Errorf("SKULD_BATCH_GROUP_SIZE must be at least 1")
	}

	if cfg.ProviderMaxRetries < 0 {
		return nil, fmt.Errorf("SKULD_PROVIDER_MAX_RETRIES must not be negative")
	}

	// One backoff delay per retry: trim a longer schedule, repeat the
	// final delay when the schedule is shorter than the budget.
	for len(cfg.ProviderBackoff) < cfg.ProviderMaxRetries {
		cfg.ProviderBackoff = append(cfg.ProviderBackoff, cfg.ProviderBackoff[len(cfg.ProviderBackoff)-1])
	}
	cfg.ProviderBackoff = cfg.ProviderBackoff[:cfg.ProviderMaxRetries]

	for _, u := range cfg.WebhookURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("webhook URL %q must be absolute http(s)", u)
		}
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use SKULD_ENV",
		"PROVIDER_URL":    "use SKULD_PROVIDER_URL",
		"STORE_URL":       "use SKULD_STORE_URL",
		"NATS_URL":        "use SKULD_NATS_URL",
		"TRACING_ENABLED": "use SKULD_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use SKULD_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// WorkingWindowWraps reports whether the configured daily window crosses midnight.
func (c *Config) WorkingWindowWraps() bool {
	return c.WorkingHoursEnd <= c.WorkingHoursStart
}

// ArchiveEnabled reports whether any archive destination is configured.
func (c *Config) ArchiveEnabled() bool {
	return c != nil && (c.ArchiveDir != "" || c.S3Bucket != "")
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvListAny splits the first set environment variable on commas, or def.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return def
}

// getEnvDurationsMsAny parses the first set environment variable as a
// comma-separated list of millisecond values, or def.
func getEnvDurationsMsAny(keys []string, def []time.Duration) []time.Duration {
	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		parts := strings.Split(v, ",")
		out := make([]time.Duration, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			ms, err := strconv.Atoi(p)
			if err != nil || ms < 0 {
				out = nil
				break
			}
			out = append(out, time.Duration(ms)*time.Millisecond)
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
