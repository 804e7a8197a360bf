// Package config loads daemon configuration from config.json in the
// daemon home, with OVERSEER_* environment variables overriding the
// file. Missing file means defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"
)

// Defaults applied when neither the file nor the environment says
// otherwise.
const (
	DefaultProvider     = "anthropic"
	DefaultModel        = "claude-sonnet-4-5"
	DefaultWSAddr       = "127.0.0.1:0"
	DefaultQueueSize    = 64
	DefaultHistoryLimit = 200
)

// Config is the resolved daemon configuration.
type Config struct {
	// Provider is the default agent provider for new sessions.
	Provider string `json:"provider"`
	// Model is the default model for new sessions.
	Model string `json:"model"`

	// ApprovalTimeoutSeconds bounds how long an approval may stay
	// pending. Zero disables expiry: requests wait indefinitely.
	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds"`

	// SensitiveTools lists tool-name patterns (path.Match syntax) that
	// require human approval before execution.
	SensitiveTools []string `json:"sensitive_tools"`

	// WSAddr is the WebSocket listen address. Port 0 picks a free port,
	// recorded in the port file.
	WSAddr string `json:"ws_addr"`

	// QueueSize is the per-subscriber event queue depth.
	QueueSize int `json:"queue_size"`

	// HistoryLimit caps how many turns are replayed to the agent engine
	// when a session resumes. Zero means the full transcript.
	HistoryLimit int `json:"history_limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:       DefaultProvider,
		Model:          DefaultModel,
		SensitiveTools: []string{"delete_*", "run_command", "write_file"},
		WSAddr:         DefaultWSAddr,
		QueueSize:      DefaultQueueSize,
		HistoryLimit:   DefaultHistoryLimit,
	}
}

// Load reads config.json at configPath, applies environment overrides,
// and validates the result. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath) //nolint:gosec // G304 - path from daemon home
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to configPath.
func (c *Config) Save(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApprovalTimeout returns the configured timeout as a duration, zero
// when expiry is disabled.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutSeconds) * time.Second
}

// IsSensitive reports whether a tool name matches any sensitive-tool
// pattern and therefore needs an approval before it runs.
func (c *Config) IsSensitive(toolName string) bool {
	for _, pattern := range c.SensitiveTools {
		if ok, err := path.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OVERSEER_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("OVERSEER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("OVERSEER_APPROVAL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ApprovalTimeoutSeconds = n
		}
	}
	if v := os.Getenv("OVERSEER_WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("OVERSEER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueSize = n
		}
	}
}

func (c *Config) validate() error {
	if c.Provider == "" {
		return fmt.Errorf("config: provider must not be empty")
	}
	if c.ApprovalTimeoutSeconds < 0 {
		return fmt.Errorf("config: approval_timeout_seconds must not be negative")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("config: queue_size must be positive")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("config: history_limit must not be negative")
	}
	for _, pattern := range c.SensitiveTools {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("config: bad sensitive_tools pattern %q: %w", pattern, err)
		}
	}
	return nil
}
