// Package config provides engine configuration loaded from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable budget and limit in the engine.
type Config struct {
	// Turn engine.
	MaxIterations    int           // loop iterations per turn
	TurnBudget       time.Duration // wall clock per turn
	StreamBudget     time.Duration // wall clock per LLM stream
	LLMMaxRetries    int           // attempts per retryable LLM failure
	MalformedRetries int           // attempts before MalformedOutput is fatal

	// Tool executor.
	ToolTimeout    time.Duration
	ToolMaxRetries int
	ToolBaseDelay  time.Duration
	PostValidate   bool

	// Stream hub.
	RetentionWindow  time.Duration
	RetentionEvents  int
	SubscriberBuffer int
	HeartbeatEvery   time.Duration
	SubscriberIdle   time.Duration

	// Session store.
	SessionTTL    time.Duration
	HistoryLimit  int
	CancelOnEmpty bool

	// Validator.
	ValidateCheckpoint int // characters between incremental validation passes

	// Tool output folded back into history is capped before the next iteration.
	ToolOutputLimit int
	ToolLineLimit   int

	// Docker sandbox (optional; empty container means local execution).
	SandboxContainer string
	SandboxWorkdir   string

	// Model names the provider model the engine requests.
	Model string
}

// Default returns the built-in defaults without consulting the environment.
func Default() *Config {
	return &Config{
		MaxIterations:      8,
		TurnBudget:         180 * time.Second,
		StreamBudget:       120 * time.Second,
		LLMMaxRetries:      3,
		MalformedRetries:   2,
		ToolTimeout:        30 * time.Second,
		ToolMaxRetries:     3,
		ToolBaseDelay:      100 * time.Millisecond,
		PostValidate:       true,
		RetentionWindow:    15 * time.Minute,
		RetentionEvents:    1000,
		SubscriberBuffer:   256,
		HeartbeatEvery:     20 * time.Second,
		SubscriberIdle:     5 * time.Minute,
		SessionTTL:         60 * time.Minute,
		HistoryLimit:       1000,
		CancelOnEmpty:      false,
		ValidateCheckpoint: 512,
		ToolOutputLimit:    32 * 1024,
		ToolLineLimit:      400,
		Model:              "gpt-4o-mini",
	}
}

// Load reads configuration from environment variables, consulting a .env
// file when present.
func Load() (*Config, error) {
	// Missing .env is not an error; plain environment variables still apply.
	_ = godotenv.Load()

	cfg := Default()
	cfg.MaxIterations = getEnvInt("AGENT_MAX_ITERATIONS", cfg.MaxIterations)
	cfg.TurnBudget = getEnvDuration("AGENT_TURN_BUDGET", cfg.TurnBudget)
	cfg.StreamBudget = getEnvDuration("AGENT_STREAM_BUDGET", cfg.StreamBudget)
	cfg.LLMMaxRetries = getEnvInt("AGENT_LLM_MAX_RETRIES", cfg.LLMMaxRetries)
	cfg.MalformedRetries = getEnvInt("AGENT_MALFORMED_RETRIES", cfg.MalformedRetries)
	cfg.ToolTimeout = getEnvDuration("AGENT_TOOL_TIMEOUT", cfg.ToolTimeout)
	cfg.ToolMaxRetries = getEnvInt("AGENT_TOOL_MAX_RETRIES", cfg.ToolMaxRetries)
	cfg.ToolBaseDelay = getEnvDuration("AGENT_TOOL_BASE_DELAY", cfg.ToolBaseDelay)
	cfg.PostValidate = getEnvBool("AGENT_POST_VALIDATE", cfg.PostValidate)
	cfg.RetentionWindow = getEnvDuration("AGENT_HUB_RETENTION_WINDOW", cfg.RetentionWindow)
	cfg.RetentionEvents = getEnvInt("AGENT_HUB_RETENTION_EVENTS", cfg.RetentionEvents)
	cfg.SubscriberBuffer = getEnvInt("AGENT_HUB_SUBSCRIBER_BUFFER", cfg.SubscriberBuffer)
	cfg.HeartbeatEvery = getEnvDuration("AGENT_HUB_HEARTBEAT", cfg.HeartbeatEvery)
	cfg.SubscriberIdle = getEnvDuration("AGENT_HUB_SUBSCRIBER_IDLE", cfg.SubscriberIdle)
	cfg.SessionTTL = getEnvDuration("AGENT_SESSION_TTL", cfg.SessionTTL)
	cfg.HistoryLimit = getEnvInt("AGENT_HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.CancelOnEmpty = getEnvBool("AGENT_CANCEL_ON_EMPTY", cfg.CancelOnEmpty)
	cfg.ValidateCheckpoint = getEnvInt("AGENT_VALIDATE_CHECKPOINT", cfg.ValidateCheckpoint)
	cfg.ToolOutputLimit = getEnvInt("AGENT_TOOL_OUTPUT_LIMIT", cfg.ToolOutputLimit)
	cfg.ToolLineLimit = getEnvInt("AGENT_TOOL_LINE_LIMIT", cfg.ToolLineLimit)
	cfg.SandboxContainer = getEnv("AGENT_SANDBOX_CONTAINER", cfg.SandboxContainer)
	cfg.SandboxWorkdir = getEnv("AGENT_SANDBOX_WORKDIR", cfg.SandboxWorkdir)
	cfg.Model = getEnv("AGENT_MODEL", cfg.Model)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be > 0")
	}
	if c.TurnBudget <= 0 || c.StreamBudget <= 0 || c.ToolTimeout <= 0 {
		return fmt.Errorf("budgets must be > 0")
	}
	if c.ToolMaxRetries <= 0 {
		return fmt.Errorf("AGENT_TOOL_MAX_RETRIES must be > 0")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("AGENT_HUB_SUBSCRIBER_BUFFER must be > 0")
	}
	if c.RetentionEvents <= 0 {
		return fmt.Errorf("AGENT_HUB_RETENTION_EVENTS must be > 0")
	}
	if c.ValidateCheckpoint <= 0 {
		return fmt.Errorf("AGENT_VALIDATE_CHECKPOINT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
