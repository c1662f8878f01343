package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Mail     MailConfig
	IMAP     IMAPConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type NATSConfig struct {
	URL string
}

// MailConfig configures the Gmail-style HTTP mail source.
type MailConfig struct {
	BaseURL string
	Timeout time.Duration
}

// IMAPConfig configures the IMAP mail source, used when MAIL_SOURCE=imap.
type IMAPConfig struct {
	Host string
	Port int
	TLS  bool
}

type EngineConfig struct {
	// Source selects the mailbox backend: "gmail" or "imap".
	Source            string
	BatchSize         int
	MaxRetries        int
	ContinuationDelay time.Duration
	RateLimitPerMin   int
}

var validSources = map[string]bool{
	"gmail": true,
	"imap":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("INSIGHTS_PORT", 8080),
			Env:  envString("INSIGHTS_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		NATS: NATSConfig{
			URL: envString("NATS_URL", "nats://localhost:4222"),
		},
		Mail: MailConfig{
			BaseURL: os.Getenv("MAIL_API_BASE_URL"),
			Timeout: envDuration("MAIL_API_TIMEOUT", 30*time.Second),
		},
		IMAP: IMAPConfig{
			Host: os.Getenv("IMAP_HOST"),
			Port: envInt("IMAP_PORT", 993),
			TLS:  envBool("IMAP_TLS", true),
		},
		Engine: EngineConfig{
			Source:            envString("MAIL_SOURCE", "gmail"),
			BatchSize:         envInt("SCAN_BATCH_SIZE", 100),
			MaxRetries:        envInt("BATCH_MAX_RETRIES", 3),
			ContinuationDelay: envDurationSecs("CONTINUATION_DELAY_SECS", 2*time.Second),
			RateLimitPerMin:   envInt("RATE_LIMIT_PER_MIN", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validSources[c.Engine.Source] {
		return fmt.Errorf("MAIL_SOURCE must be gmail or imap; got %q", c.Engine.Source)
	}

	switch c.Engine.Source {
	case "gmail":
		if c.Mail.BaseURL == "" {
			return fmt.Errorf("MAIL_API_BASE_URL is required when MAIL_SOURCE is gmail")
		}
		if !strings.HasPrefix(c.Mail.BaseURL, "http://") && !strings.HasPrefix(c.Mail.BaseURL, "https://") {
			return fmt.Errorf("MAIL_API_BASE_URL must start with http:// or https://, got %q", c.Mail.BaseURL)
		}
	case "imap":
		if c.IMAP.Host == "" {
			return fmt.Errorf("IMAP_HOST is required when MAIL_SOURCE is imap")
		}
	}

	if c.Engine.BatchSize < 1 || c.Engine.BatchSize > 500 {
		return fmt.Errorf("SCAN_BATCH_SIZE must be between 1 and 500; got %d", c.Engine.BatchSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
