// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/routerchat/internal/retry"
	"github.com/jeranaias/routerchat/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// CurrentVersion is written into new config files.
const CurrentVersion = "1"

// Config is the complete routerchat configuration.
type Config struct {
	Version   string          `toml:"version" yaml:"version"`
	API       APIConfig       `toml:"api" yaml:"api"`
	Chat      ChatConfig      `toml:"chat" yaml:"chat"`
	Reconcile ReconcileConfig `toml:"reconcile" yaml:"reconcile"`
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	UI        UIConfig        `toml:"ui" yaml:"ui"`
	Events    EventsConfig    `toml:"events" yaml:"events"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// APIConfig configures the OpenRouter client. The key itself lives in the
// credential store, not here.
type APIConfig struct {
	BaseURL     string  `toml:"base_url" yaml:"base_url"`
	TimeoutSecs int     `toml:"timeout_secs" yaml:"timeout_secs"`
	RateLimit   float64 `toml:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst   int     `toml:"rate_burst" yaml:"rate_burst"`
	SiteURL     string  `toml:"site_url" yaml:"site_url"`   // HTTP-Referer attribution
	SiteName    string  `toml:"site_name" yaml:"site_name"` // X-Title attribution
}

// Timeout returns the request timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// ChatConfig configures conversations.
type ChatConfig struct {
	DefaultModel    string   `toml:"default_model" yaml:"default_model"`
	PreferredModels []string `toml:"preferred_models" yaml:"preferred_models"`
	SystemPrompt    string   `toml:"system_prompt" yaml:"system_prompt"`
	SelectionOrder  string   `toml:"selection_order" yaml:"selection_order"` // "model" or "provider"
}

// ReconcileConfig configures the usage lookup retry policy.
type ReconcileConfig struct {
	MaxAttempts int     `toml:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs int     `toml:"base_delay_ms" yaml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier" yaml:"multiplier"`
}

// Policy converts the section to a retry policy.
func (r ReconcileConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		Multiplier:  r.Multiplier,
	}
}

// StorageConfig configures the chat database.
type StorageConfig struct {
	Path     string `toml:"path" yaml:"path"` // empty = <config dir>/chats.db
	MaxChats int    `toml:"max_chats" yaml:"max_chats"`
	AutoSave bool   `toml:"auto_save" yaml:"auto_save"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"` // empty = <config dir>/routerchat.log
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	Theme     string `toml:"theme" yaml:"theme"` // auto, dark or light
	ShowUsage bool   `toml:"show_usage" yaml:"show_usage"`
	Markdown  bool   `toml:"markdown" yaml:"markdown"`
}

// EventsConfig configures publishing of usage records to Redis.
type EventsConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	RedisURL  string `toml:"redis_url" yaml:"redis_url"`
	Channel   string `toml:"channel" yaml:"channel"`
	TotalsKey string `toml:"totals_key" yaml:"totals_key"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Traces bool `toml:"traces" yaml:"traces"` // write spans to the log file
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	defaultPolicy := retry.DefaultPolicy()
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			TimeoutSecs: 30,
			RateLimit:   5,
			RateBurst:   10,
		},
		Chat: ChatConfig{
			PreferredModels: []string{"openai/gpt-4o-mini", "anthropic/claude-3.5-sonnet"},
			SelectionOrder:  "model",
		},
		Reconcile: ReconcileConfig{
			MaxAttempts: defaultPolicy.MaxAttempts,
			BaseDelayMs: int(defaultPolicy.BaseDelay / time.Millisecond),
			Multiplier:  defaultPolicy.Multiplier,
		},
		Storage: StorageConfig{
			MaxChats: 500,
			AutoSave: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			Theme:     "auto",
			ShowUsage: true,
			Markdown:  true,
		},
		Events: EventsConfig{
			RedisURL:  "redis://localhost:6379/0",
			Channel:   "routerchat:usage",
			TotalsKey: "routerchat:usage:totals",
		},
	}
}

// fillDefaults fills in values a partial file left empty.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = d.API.BaseURL
	}
	if cfg.API.TimeoutSecs == 0 {
		cfg.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if cfg.API.RateBurst == 0 {
		cfg.API.RateBurst = d.API.RateBurst
	}
	if cfg.Chat.SelectionOrder == "" {
		cfg.Chat.SelectionOrder = d.Chat.SelectionOrder
	}
	if cfg.Reconcile.MaxAttempts == 0 {
		cfg.Reconcile.MaxAttempts = d.Reconcile.MaxAttempts
	}
	if cfg.Reconcile.BaseDelayMs == 0 {
		cfg.Reconcile.BaseDelayMs = d.Reconcile.BaseDelayMs
	}
	if cfg.Reconcile.Multiplier == 0 {
		cfg.Reconcile.Multiplier = d.Reconcile.Multiplier
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = d.UI.Theme
	}
	if cfg.Events.Channel == "" {
		cfg.Events.Channel = d.Events.Channel
	}
	if cfg.Events.TotalsKey == "" {
		cfg.Events.TotalsKey = d.Events.TotalsKey
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the routerchat directory, ~/.routerchat unless
// ROUTERCHAT_HOME is set.
func Dir() (string, error) {
	if dir := os.Getenv("ROUTERCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".routerchat"), nil
}

// PathTOML returns the path of the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathYAML returns the path of the YAML config file.
func PathYAML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// StoragePath returns the chat database path.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chats.db"), nil
}

// LogPath returns the log file path.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "routerchat.log"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the configuration. An explicit path is loaded by extension;
// otherwise config.toml, then config.yaml in Dir, falling back to
// defaults. Environment overrides are applied last, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []func() (string, error){PathTOML, PathYAML} {
			p, err := candidate()
			if err != nil {
				return nil, err
			}
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes one file without env overrides or validation.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Keys missing from the file keep their defaults.
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}
	fillDefaults(cfg)
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration. The format follows the extension (TOML
// unless .yaml/.yml); an empty path means the default TOML file.
// SECURITY: config files are written 0600.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := PathTOML()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		buf.WriteString("# routerchat configuration\n")
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		buf.WriteString("# routerchat configuration\n")
		buf.WriteString("# The API key is stored separately; run `routerchat key set`.\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every section and returns ValidateErrors listing all
// problems, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 600 {
		add("api.timeout_secs", "must be between 1 and 600, got %d", c.API.TimeoutSecs)
	}
	if c.API.RateLimit < 0 {
		add("api.rate_limit", "must not be negative")
	}
	if c.API.RateBurst < 1 {
		add("api.rate_burst", "must be at least 1")
	}

	switch c.Chat.SelectionOrder {
	case "model", "provider":
	default:
		add("chat.selection_order", "must be model or provider, got %q", c.Chat.SelectionOrder)
	}

	if err := c.Reconcile.Policy().Validate(); err != nil {
		add("reconcile", "%v", err)
	}

	if c.Storage.MaxChats < 0 {
		add("storage.max_chats", "must not be negative")
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	switch c.UI.Theme {
	case "auto", "dark", "light":
	default:
		add("ui.theme", "must be auto, dark or light, got %q", c.UI.Theme)
	}

	if c.Events.Enabled {
		if u, err := url.Parse(c.Events.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			add("events.redis_url", "must be a redis:// URL, got %q", c.Events.RedisURL)
		}
		if c.Events.Channel == "" {
			add("events.channel", "must not be empty")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - ROUTERCHAT_MODEL: overrides chat.default_model
//   - ROUTERCHAT_BASE_URL: overrides api.base_url
//   - ROUTERCHAT_LOG_LEVEL: overrides log.level
//   - ROUTERCHAT_REDIS_URL: overrides events.redis_url and enables events
//   - ROUTERCHAT_TRACES: "1" or "true" enables span logging
//
// OPENROUTER_API_KEY is read by the credential store.
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("ROUTERCHAT_MODEL"); model != "" {
		c.Chat.DefaultModel = model
	}
	if base := os.Getenv("ROUTERCHAT_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if level := os.Getenv("ROUTERCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if redisURL := os.Getenv("ROUTERCHAT_REDIS_URL"); redisURL != "" {
		c.Events.RedisURL = redisURL
		c.Events.Enabled = true
	}
	if traces := os.Getenv("ROUTERCHAT_TRACES"); traces != "" {
		enabled, err := strconv.ParseBool(traces)
		c.Telemetry.Traces = err == nil && enabled
	}
}
