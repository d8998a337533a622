package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // PANELS_DATABASE_URL (required; postgres:// or mongodb://)
	GRPCAddr    string // PANELS_GRPC_ADDR (default ":9090")
	HTTPAddr    string // PANELS_HTTP_ADDR (default ":8080")
	NATSURL     string // PANELS_NATS_URL (optional, empty = single instance, no relay)
	RedisURL    string // PANELS_REDIS_URL (optional, empty = in-memory live history)
	AuthToken   string // PANELS_AUTH_TOKEN (optional static service token)

	// Auth settings
	JWTSecret    string        // PANELS_JWT_SECRET (empty = user sign-in disabled)
	TokenTTL     time.Duration // PANELS_TOKEN_TTL (default 1h)
	CookieSecure bool          // PANELS_COOKIE_SECURE (default false)

	// Live settings
	LiveCapacity   int           // PANELS_LIVE_CAPACITY (default 200)
	AllowedOrigins []string      // PANELS_ALLOWED_ORIGINS (comma-separated; empty = any)
	DatasourceTick time.Duration // PANELS_DATASOURCE_TICK (default 5s; 0 = poller disabled)

	// Sync settings
	SyncInterval   time.Duration // PANELS_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // PANELS_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // PANELS_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // PANELS_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // PANELS_SYNC_S3_KEY (default "panels/backup.jsonl"; "{timestamp}" keeps one object per sync)
	SyncGitRepo    string        // PANELS_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // PANELS_SYNC_GIT_FILE (default "panels.jsonl")
	SyncGitBranch  string        // PANELS_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("PANELS_DATABASE_URL"),
		GRPCAddr:       envOrDefault("PANELS_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("PANELS_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("PANELS_NATS_URL"),
		RedisURL:       os.Getenv("PANELS_REDIS_URL"),
		AuthToken:      os.Getenv("PANELS_AUTH_TOKEN"),
		JWTSecret:      os.Getenv("PANELS_JWT_SECRET"),
		SyncS3Bucket:   os.Getenv("PANELS_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("PANELS_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("PANELS_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("PANELS_SYNC_S3_KEY", "panels/backup.jsonl"),
		SyncGitRepo:    os.Getenv("PANELS_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("PANELS_SYNC_GIT_FILE", "panels.jsonl"),
		SyncGitBranch:  envOrDefault("PANELS_SYNC_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("PANELS_DATABASE_URL is required")
	}

	var err error
	if c.TokenTTL, err = envDuration("PANELS_TOKEN_TTL", "1h"); err != nil {
		return nil, err
	}
	if c.DatasourceTick, err = envDuration("PANELS_DATASOURCE_TICK", "5s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("PANELS_SYNC_INTERVAL", "3m"); err != nil {
		return nil, err
	}

	capStr := envOrDefault("PANELS_LIVE_CAPACITY", "200")
	n, err := strconv.Atoi(capStr)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("PANELS_LIVE_CAPACITY: must be a positive integer, got %q", capStr)
	}
	c.LiveCapacity = n

	if v := os.Getenv("PANELS_COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("PANELS_COOKIE_SECURE: %w", err)
		}
		c.CookieSecure = b
	}

	for _, o := range strings.Split(os.Getenv("PANELS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	return c, nil
}

// UsesMongo reports whether the database URL selects the Mongo store.
func (c *Config) UsesMongo() bool {
	return strings.HasPrefix(c.DatabaseURL, "mongodb://") || strings.HasPrefix(c.DatabaseURL, "mongodb+srv://")
}

func envDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
