// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/ragchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config is the root ragchat configuration.
type Config struct {
	Backend     BackendConfig     `toml:"backend" json:"backend"`
	Glossary    GlossaryConfig    `toml:"glossary" json:"glossary"`
	Render      RenderConfig      `toml:"render" json:"render"`
	Images      ImagesConfig      `toml:"images" json:"images"`
	Persistence PersistenceConfig `toml:"persistence" json:"persistence"`
	Log         LogConfig         `toml:"log" json:"log"`
	UI          UIConfig          `toml:"ui" json:"ui"`
	DevServer   DevServerConfig   `toml:"devserver" json:"devserver"`
}

// BackendConfig locates the query, document-context, glossary and
// conversation endpoints.
type BackendConfig struct {
	BaseURL           string   `toml:"base_url" json:"base_url"`
	QueryPath         string   `toml:"query_path" json:"query_path"`
	DocumentsPath     string   `toml:"documents_path" json:"documents_path"`
	GlossaryPath      string   `toml:"glossary_path" json:"glossary_path"`
	ConversationsPath string   `toml:"conversations_path" json:"conversations_path"`
	RequestTimeout    Duration `toml:"request_timeout" json:"request_timeout"`
	DocumentsCacheTTL Duration `toml:"documents_cache_ttl" json:"documents_cache_ttl"`
	Tags              []string `toml:"tags" json:"tags,omitempty"`
}

// GlossaryConfig selects where facility definitions come from.
type GlossaryConfig struct {
	// File is a local .json, .yaml or .toml glossary. Takes precedence over Remote.
	File string `toml:"file" json:"file"`
	// Remote fetches the glossary from the backend glossary endpoint.
	Remote bool `toml:"remote" json:"remote"`
	// Watch reloads File when it changes on disk.
	Watch bool `toml:"watch" json:"watch"`
}

// RenderConfig tunes the typewriter renderer.
type RenderConfig struct {
	TickInterval    Duration `toml:"tick_interval" json:"tick_interval"`
	TypesetInterval Duration `toml:"typeset_interval" json:"typeset_interval"`
	DrainTimeout    Duration `toml:"drain_timeout" json:"drain_timeout"`
	WithImages      bool     `toml:"with_images" json:"with_images"`
}

// ImagesConfig describes the same-origin image proxy.
type ImagesConfig struct {
	ProxyPath  string `toml:"proxy_path" json:"proxy_path"`
	ProxyParam string `toml:"proxy_param" json:"proxy_param"`
}

// PersistenceConfig controls where conversations are saved and the save
// cycle timing.
type PersistenceConfig struct {
	// Backend is one of "http", "file", "sqlite".
	Backend       string   `toml:"backend" json:"backend"`
	Dir           string   `toml:"dir" json:"dir"`
	SQLitePath    string   `toml:"sqlite_path" json:"sqlite_path"`
	Debounce      Duration `toml:"debounce" json:"debounce"`
	SaveTimeout   Duration `toml:"save_timeout" json:"save_timeout"`
	RetryBase     Duration `toml:"retry_base" json:"retry_base"`
	RetryMax      Duration `toml:"retry_max" json:"retry_max"`
	MaxAttempts   int      `toml:"max_attempts" json:"max_attempts"`
	FollowUpDelay Duration `toml:"follow_up_delay" json:"follow_up_delay"`
}

// LogConfig configures the zerolog sinks.
type LogConfig struct {
	Level   string `toml:"level" json:"level"`
	File    string `toml:"file" json:"file"`
	Console bool   `toml:"console" json:"console"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	Locale string `toml:"locale" json:"locale"`
	Theme  string `toml:"theme" json:"theme"`
}

// DevServerConfig configures the local fake backend.
type DevServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// RedisAddr stores conversations in redis instead of memory.
	RedisAddr string `toml:"redis_addr" json:"redis_addr"`
	// Corpus is a YAML file of canned answers.
	Corpus string `toml:"corpus" json:"corpus"`
	// ChunkRunes is how many characters each streamed frame carries.
	ChunkRunes int      `toml:"chunk_runes" json:"chunk_runes"`
	ChunkDelay Duration `toml:"chunk_delay" json:"chunk_delay"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a Go duration string ("2s", "30ms")
// in config files.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:           "http://localhost:8080",
			QueryPath:         "/api/query",
			DocumentsPath:     "/api/documents",
			GlossaryPath:      "/api/glossary",
			ConversationsPath: "/api/conversations",
			RequestTimeout:    D(5 * time.Minute),
			DocumentsCacheTTL: D(10 * time.Minute),
		},
		Glossary: GlossaryConfig{
			Remote: true,
			Watch:  true,
		},
		Render: RenderConfig{
			TickInterval:    D(30 * time.Millisecond),
			TypesetInterval: D(500 * time.Millisecond),
			DrainTimeout:    D(3 * time.Second),
			WithImages:      true,
		},
		Images: ImagesConfig{
			ProxyPath:  "/api/image-proxy",
			ProxyParam: "path",
		},
		Persistence: PersistenceConfig{
			Backend:       "http",
			Debounce:      D(2 * time.Second),
			SaveTimeout:   D(15 * time.Second),
			RetryBase:     D(time.Second),
			RetryMax:      D(30 * time.Second),
			MaxAttempts:   5,
			FollowUpDelay: D(300 * time.Millisecond),
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		UI: UIConfig{
			Locale: "ko",
			Theme:  "dark",
		},
		DevServer: DevServerConfig{
			Addr:       "127.0.0.1:8080",
			ChunkRunes: 4,
			ChunkDelay: D(40 * time.Millisecond),
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ragchat configuration directory (~/.ragchat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.ragchat/config.toml, falling back to config.json and then to
// the built-in defaults. A .env file in the working directory is loaded
// before environment overrides are applied.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err == nil && fileExists(tomlPath) {
		if err := LoadTOML(cfg, tomlPath); err != nil {
			return nil, fmt.Errorf("failed to load TOML config: %w", err)
		}
		return finish(cfg)
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil && fileExists(jsonPath) {
		if err := LoadJSON(cfg, jsonPath); err != nil {
			return nil, fmt.Errorf("failed to load JSON config: %w", err)
		}
	}

	return finish(cfg)
}

// LoadFromPath loads a specific file; ".json" selects JSON, anything else TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	loadDotEnv()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory when present. Existing
// environment variables win.
func loadDotEnv() {
	if fileExists(".env") {
		_ = godotenv.Load(".env")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML path.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# ragchat configuration file\n")
	sb.WriteString("# Durations use Go syntax: \"30ms\", \"2s\", \"5m\"\n\n")

	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WritePrivateFile(path, []byte(sb.String())); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ErrNoBaseURL is returned when a component needs the backend but no base
// URL is configured.
var ErrNoBaseURL = errors.New("backend base_url is not configured")

// ValidationError represents a configuration validation error.
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

// Validate checks the configuration and returns ValidateErrors when any
// field is out of range.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Backend.BaseURL),
			})
		}
	}
	for field, p := range map[string]string{
		"backend.query_path":         c.Backend.QueryPath,
		"backend.documents_path":     c.Backend.DocumentsPath,
		"backend.glossary_path":      c.Backend.GlossaryPath,
		"backend.conversations_path": c.Backend.ConversationsPath,
		"images.proxy_path":          c.Images.ProxyPath,
	} {
		if p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("path '%s' must start with '/'", p)})
		}
	}

	if c.Render.TickInterval.Duration < time.Millisecond || c.Render.TickInterval.Duration > time.Second {
		errs = append(errs, ValidationError{
			Field:   "render.tick_interval",
			Message: fmt.Sprintf("%s out of range, must be between 1ms and 1s", c.Render.TickInterval),
		})
	}
	if c.Render.TypesetInterval.Duration < 0 {
		errs = append(errs, ValidationError{Field: "render.typeset_interval", Message: "must not be negative"})
	}

	switch strings.ToLower(c.Persistence.Backend) {
	case "http", "file", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field:   "persistence.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: http, file, sqlite", c.Persistence.Backend),
		})
	}
	if c.Persistence.MaxAttempts < 1 || c.Persistence.MaxAttempts > 20 {
		errs = append(errs, ValidationError{
			Field:   "persistence.max_attempts",
			Message: fmt.Sprintf("%d out of range, must be between 1 and 20", c.Persistence.MaxAttempts),
		})
	}
	if c.Persistence.RetryMax.Duration < c.Persistence.RetryBase.Duration {
		errs = append(errs, ValidationError{
			Field:   "persistence.retry_max",
			Message: "must be greater than or equal to retry_base",
		})
	}
	if c.Persistence.Debounce.Duration < 0 {
		errs = append(errs, ValidationError{Field: "persistence.debounce", Message: "must not be negative"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}

	switch c.UI.Locale {
	case "ko", "en":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.locale",
			Message: fmt.Sprintf("unsupported locale '%s', must be one of: ko, en", c.UI.Locale),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Backend.QueryPath == "" {
		c.Backend.QueryPath = d.Backend.QueryPath
	}
	if c.Backend.DocumentsPath == "" {
		c.Backend.DocumentsPath = d.Backend.DocumentsPath
	}
	if c.Backend.GlossaryPath == "" {
		c.Backend.GlossaryPath = d.Backend.GlossaryPath
	}
	if c.Backend.ConversationsPath == "" {
		c.Backend.ConversationsPath = d.Backend.ConversationsPath
	}
	if c.Backend.RequestTimeout.Duration == 0 {
		c.Backend.RequestTimeout = d.Backend.RequestTimeout
	}
	if c.Backend.DocumentsCacheTTL.Duration == 0 {
		c.Backend.DocumentsCacheTTL = d.Backend.DocumentsCacheTTL
	}
	if c.Render.TickInterval.Duration == 0 {
		c.Render.TickInterval = d.Render.TickInterval
	}
	if c.Render.TypesetInterval.Duration == 0 {
		c.Render.TypesetInterval = d.Render.TypesetInterval
	}
	if c.Images.ProxyPath == "" {
		c.Images.ProxyPath = d.Images.ProxyPath
	}
	if c.Images.ProxyParam == "" {
		c.Images.ProxyParam = d.Images.ProxyParam
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = d.Persistence.Backend
	}
	if c.Persistence.Dir == "" || c.Persistence.SQLitePath == "" {
		if dir, err := ConfigDir(); err == nil {
			if c.Persistence.Dir == "" {
				c.Persistence.Dir = filepath.Join(dir, "conversations")
			}
			if c.Persistence.SQLitePath == "" {
				c.Persistence.SQLitePath = filepath.Join(dir, "conversations.db")
			}
		}
	}
	if c.Persistence.Debounce.Duration == 0 {
		c.Persistence.Debounce = d.Persistence.Debounce
	}
	if c.Persistence.SaveTimeout.Duration == 0 {
		c.Persistence.SaveTimeout = d.Persistence.SaveTimeout
	}
	if c.Persistence.RetryBase.Duration == 0 {
		c.Persistence.RetryBase = d.Persistence.RetryBase
	}
	if c.Persistence.RetryMax.Duration == 0 {
		c.Persistence.RetryMax = d.Persistence.RetryMax
	}
	if c.Persistence.MaxAttempts == 0 {
		c.Persistence.MaxAttempts = d.Persistence.MaxAttempts
	}
	if c.Persistence.FollowUpDelay.Duration == 0 {
		c.Persistence.FollowUpDelay = d.Persistence.FollowUpDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.UI.Locale == "" {
		c.UI.Locale = d.UI.Locale
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.DevServer.Addr == "" {
		c.DevServer.Addr = d.DevServer.Addr
	}
	if c.DevServer.ChunkRunes <= 0 {
		c.DevServer.ChunkRunes = d.DevServer.ChunkRunes
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RAGCHAT_BASE_URL: overrides backend.base_url
//   - RAGCHAT_TAGS: comma-separated backend.tags
//   - RAGCHAT_GLOSSARY_FILE: overrides glossary.file
//   - RAGCHAT_PERSISTENCE: overrides persistence.backend
//   - RAGCHAT_DEBOUNCE: overrides persistence.debounce ("2s")
//   - RAGCHAT_MAX_ATTEMPTS: overrides persistence.max_attempts
//   - RAGCHAT_LOG_LEVEL: overrides log.level
//   - RAGCHAT_LOG_FILE: overrides log.file
//   - RAGCHAT_LOCALE: overrides ui.locale
//   - RAGCHAT_REDIS_ADDR: overrides devserver.redis_addr
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RAGCHAT_BASE_URL"); v != "" {
		c.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("RAGCHAT_TAGS"); v != "" {
		c.Backend.Tags = nil
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				c.Backend.Tags = append(c.Backend.Tags, tag)
			}
		}
	}
	if v := os.Getenv("RAGCHAT_GLOSSARY_FILE"); v != "" {
		c.Glossary.File = v
	}
	if v := os.Getenv("RAGCHAT_PERSISTENCE"); v != "" {
		c.Persistence.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RAGCHAT_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Persistence.Debounce = D(d)
		}
	}
	if v := os.Getenv("RAGCHAT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Persistence.MaxAttempts = n
		}
	}
	if v := os.Getenv("RAGCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RAGCHAT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("RAGCHAT_LOCALE"); v != "" {
		c.UI.Locale = v
	}
	if v := os.Getenv("RAGCHAT_REDIS_ADDR"); v != "" {
		c.DevServer.RedisAddr = v
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Endpoint joins the backend base URL with one of the configured paths.
func (c *Config) Endpoint(path string) (string, error) {
	if c.Backend.BaseURL == "" {
		return "", ErrNoBaseURL
	}
	return strings.TrimRight(c.Backend.BaseURL, "/") + path, nil
}
