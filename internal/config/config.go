// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// ReasoningURL is the base URL of the intent/response backend.
	ReasoningURL    string
	ReasoningAPIKey string

	// DomainBackendURL is the base URL of the supply-chain operations
	// service that actions execute against.
	DomainBackendURL string

	// RedisAddr switches rate limiting to Redis when set. Empty means
	// the in-process limiter.
	RedisAddr     string
	RedisPassword string

	RateLimit RateLimitConfig
	Context   ContextConfig

	// ConversationTTL is how long an idle conversation survives before
	// the cleanup worker removes it.
	ConversationTTL time.Duration
	// CleanupInterval is how often the cleanup worker runs.
	CleanupInterval time.Duration
}

// RateLimitConfig tunes the per-user message and token windows.
type RateLimitConfig struct {
	MessagesPerWindow int
	TokensPerWindow   int
	Window            time.Duration
}

// ContextConfig tunes conversation context compaction.
type ContextConfig struct {
	TokenBudget int
	KeepRecent  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/parley.db"),
		ReasoningURL:     getEnv("REASONING_URL", ""),
		ReasoningAPIKey:  getEnv("REASONING_API_KEY", ""),
		DomainBackendURL: getEnv("DOMAIN_BACKEND_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RateLimit: RateLimitConfig{
			MessagesPerWindow: getEnvInt("RATE_LIMIT_MESSAGES", 20),
			TokensPerWindow:   getEnvInt("RATE_LIMIT_TOKENS", 20000),
			Window:            getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Context: ContextConfig{
			TokenBudget: getEnvInt("CONTEXT_TOKEN_BUDGET", 8000),
			KeepRecent:  getEnvInt("CONTEXT_KEEP_RECENT", 10),
		},
		ConversationTTL: getEnvDuration("CONVERSATION_TTL", 30*24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ReasoningURL == "" {
		return fmt.Errorf("REASONING_URL is required")
	}
	if c.DomainBackendURL == "" {
		return fmt.Errorf("DOMAIN_BACKEND_URL is required")
	}
	if c.RateLimit.MessagesPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MESSAGES must be > 0")
	}
	if c.RateLimit.TokensPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_TOKENS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("CONTEXT_TOKEN_BUDGET must be > 0")
	}
	if c.Context.KeepRecent <= 0 {
		return fmt.Errorf("CONTEXT_KEEP_RECENT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
