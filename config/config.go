// Package config loads the YAML client configuration shared by the CLI and
// embedding applications: endpoint locations, reconnect policy, and capacity
// bounds.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML decoding from strings like "500ms"
// or "2s".
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type (
	// Config is the client configuration.
	Config struct {
		// StreamURL is the SSE stream endpoint.
		StreamURL string `yaml:"stream_url"`
		// APIURL is the REST API base used for history and approvals.
		APIURL string `yaml:"api_url"`
		// Reconnect tunes the connection backoff policy.
		Reconnect Reconnect `yaml:"reconnect"`
		// StreamingLimit bounds concurrently tracked in-progress messages.
		// Zero keeps the built-in default.
		StreamingLimit int `yaml:"streaming_limit"`
		// HistoryLimit bounds the historical batch size. Zero keeps the
		// built-in default.
		HistoryLimit int `yaml:"history_limit"`
	}

	// Reconnect is the backoff policy section.
	Reconnect struct {
		// BaseInterval is the exponential backoff base, e.g. "1s".
		BaseInterval Duration `yaml:"base_interval"`
		// MaxAttempts bounds consecutive automatic reconnect attempts.
		MaxAttempts int `yaml:"max_attempts"`
	}
)

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	if c.StreamURL == "" {
		return errors.New("stream_url is required")
	}
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.StreamingLimit < 0 {
		return errors.New("streaming_limit must not be negative")
	}
	if c.HistoryLimit < 0 {
		return errors.New("history_limit must not be negative")
	}
	return nil
}
