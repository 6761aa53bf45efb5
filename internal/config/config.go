// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/scout/internal/accuracy"
	"github.com/jeranaias/scout/internal/audit"
	"github.com/jeranaias/scout/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCOUT_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete scout configuration.
type Config struct {
	Audit    AuditConfig     `toml:"audit" yaml:"audit" json:"audit" envPrefix:"AUDIT_"`
	Session  SessionConfig   `toml:"session" yaml:"session" json:"session" envPrefix:"SESSION_"`
	Spend    SpendConfig     `toml:"spend" yaml:"spend" json:"spend" envPrefix:"SPEND_"`
	Accuracy accuracy.Config `toml:"accuracy" yaml:"accuracy" json:"accuracy" envPrefix:"ACCURACY_"`
	Git      GitConfig       `toml:"git" yaml:"git" json:"git" envPrefix:"GIT_"`
	Server   ServerConfig    `toml:"server" yaml:"server" json:"server" envPrefix:"SERVER_"`
	Log      LogConfig       `toml:"log" yaml:"log" json:"log" envPrefix:"LOG_"`

	// Sources lists the files that were applied, in order.
	Sources []string `toml:"-" yaml:"-" json:"-"`
}

// AuditConfig controls the segmented audit log.
type AuditConfig struct {
	// Dir is the log directory. Empty means ~/.scout/audit.
	Dir string `toml:"dir" yaml:"dir" json:"dir" env:"DIR"`

	// Rotation thresholds; zero disables a threshold. With all three zero
	// the log rotates at 4 MiB.
	MaxSegmentBytes   int64 `toml:"max_segment_bytes" yaml:"max_segment_bytes" json:"max_segment_bytes" env:"MAX_SEGMENT_BYTES"`
	MaxSegmentEvents  int   `toml:"max_segment_events" yaml:"max_segment_events" json:"max_segment_events" env:"MAX_SEGMENT_EVENTS"`
	MaxSegmentAgeSecs int   `toml:"max_segment_age_secs" yaml:"max_segment_age_secs" json:"max_segment_age_secs" env:"MAX_SEGMENT_AGE_SECS"`

	DisableRedaction bool `toml:"disable_redaction" yaml:"disable_redaction" json:"disable_redaction" env:"DISABLE_REDACTION"`

	// LockWaitSecs bounds how long CLI commands retry a held writer lock.
	LockWaitSecs int `toml:"lock_wait_secs" yaml:"lock_wait_secs" json:"lock_wait_secs" env:"LOCK_WAIT_SECS"`
}

// SessionConfig controls the persisted active session.
type SessionConfig struct {
	// StatePath is the session file. Empty means <audit dir>/session.json.
	StatePath string `toml:"state_path" yaml:"state_path" json:"state_path" env:"STATE_PATH"`
}

// Spend cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// SpendConfig controls the derived spend cache.
type SpendConfig struct {
	Cache     string `toml:"cache" yaml:"cache" json:"cache" env:"CACHE"`
	CachePath string `toml:"cache_path" yaml:"cache_path" json:"cache_path" env:"CACHE_PATH"`
	Currency  string `toml:"currency" yaml:"currency" json:"currency" env:"CURRENCY"`
}

// GitConfig configures the git collaborator.
type GitConfig struct {
	Binary      string `toml:"binary" yaml:"binary" json:"binary" env:"BINARY"`
	TimeoutSecs int    `toml:"timeout_secs" yaml:"timeout_secs" json:"timeout_secs" env:"TIMEOUT_SECS"`
	MinVersion  string `toml:"min_version" yaml:"min_version" json:"min_version" env:"MIN_VERSION"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Addr      string  `toml:"addr" yaml:"addr" json:"addr" env:"ADDR"`
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `toml:"rate_burst" yaml:"rate_burst" json:"rate_burst" env:"RATE_BURST"`

	// Token, when set, is required as a bearer token on every request.
	Token string `toml:"token" yaml:"token" json:"token" env:"TOKEN"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level" env:"LEVEL"`
	Format string `toml:"format" yaml:"format" json:"format" env:"FORMAT"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audit: AuditConfig{
			MaxSegmentBytes: audit.DefaultMaxSegmentBytes,
			LockWaitSecs:    10,
		},
		Spend: SpendConfig{
			Cache:    CacheSQLite,
			Currency: "USD",
		},
		Accuracy: accuracy.DefaultConfig(),
		Git: GitConfig{
			Binary:      "git",
			TimeoutSecs: 5,
			MinVersion:  "2.20.0",
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:7717",
			RateLimit: 20,
			RateBurst: 40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults fills derived paths. It is applied after every layer.
func (c *Config) SetDefaults() error {
	if c.Audit.Dir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		c.Audit.Dir = filepath.Join(dir, "audit")
	}
	c.Audit.Dir = expandHome(c.Audit.Dir)

	if c.Session.StatePath == "" {
		c.Session.StatePath = filepath.Join(c.Audit.Dir, "session.json")
	}
	c.Session.StatePath = expandHome(c.Session.StatePath)

	if c.Spend.CachePath == "" {
		c.Spend.CachePath = filepath.Join(c.Audit.Dir, "spend-cache.db")
	}
	c.Spend.CachePath = expandHome(c.Spend.CachePath)
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// Policy returns the rotation policy described by the thresholds.
func (a AuditConfig) Policy() audit.RotationPolicy {
	return audit.PolicyFor(a.MaxSegmentBytes, a.MaxSegmentEvents, time.Duration(a.MaxSegmentAgeSecs)*time.Second)
}

// LockWait returns the lock retry budget.
func (a AuditConfig) LockWait() time.Duration {
	return time.Duration(a.LockWaitSecs) * time.Second
}

// Timeout returns the per-invocation git timeout.
func (g GitConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the scout configuration directory (~/.scout).
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".scout"), nil
}

// userFiles and projectFiles are tried in order; the first existing one of
// each group is applied.
var (
	userFiles    = []string{"config.toml", "config.yaml", "config.yml"}
	projectFiles = []string{".scout.toml", ".scout.yaml", ".scout.yml"}
)

// =============================================================================
// LOAD
// =============================================================================

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// UserDir defaults to ConfigDir().
	UserDir string
	// ProjectDir defaults to the working directory.
	ProjectDir string
	// File is applied after the project file when set.
	File string
	// Environ replaces the process environment (tests).
	Environ map[string]string
}

// Load reads configuration with default options.
func Load() (*Config, error) {
	return LoadWith(LoadOptions{})
}

// LoadWith reads every layer and returns the merged, sanity-checked result.
func LoadWith(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.UserDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		opts.UserDir = dir
	}
	if opts.ProjectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not determine working directory: %w", err)
		}
		opts.ProjectDir = wd
	}

	if err := cfg.applyFirst(opts.UserDir, userFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyFirst(opts.ProjectDir, projectFiles); err != nil {
		return nil, err
	}
	if opts.File != "" {
		if err := cfg.LoadFile(opts.File); err != nil {
			return nil, err
		}
	}

	environ, err := mergedEnviron(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}

	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFirst(dir string, names []string) error {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return c.LoadFile(path)
	}
	return nil
}

// LoadFile decodes one TOML, YAML or JSON file over c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".json":
		err = json.Unmarshal(data, c)
	default:
		_, err = toml.Decode(string(data), c)
	}
	if err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	c.Sources = append(c.Sources, path)
	log.WithField("path", path).Debug("config file applied")
	return nil
}

// mergedEnviron returns the environment with .env values underneath the
// real environment, so exported variables win.
func mergedEnviron(opts LoadOptions) (map[string]string, error) {
	merged := make(map[string]string)

	dotenv := filepath.Join(opts.ProjectDir, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		vals, err := godotenv.Read(dotenv)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dotenv, err)
		}
		for k, v := range vals {
			merged[k] = v
		}
	}

	if opts.Environ != nil {
		for k, v := range opts.Environ {
			merged[k] = v
		}
		return merged, nil
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	return merged, nil
}

// ApplyEnv applies SCOUT_* overrides from environ.
func (c *Config) ApplyEnv(environ map[string]string) error {
	if err := env.ParseWithOptions(c, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// SaveTOML writes c to path atomically with owner-only permissions.
func SaveTOML(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# scout configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one failed check.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every failed check.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate applies basic sanity checks.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Audit.MaxSegmentBytes < 0 {
		add("audit.max_segment_bytes", "must not be negative")
	}
	if c.Audit.MaxSegmentEvents < 0 {
		add("audit.max_segment_events", "must not be negative")
	}
	if c.Audit.MaxSegmentAgeSecs < 0 {
		add("audit.max_segment_age_secs", "must not be negative")
	}
	if c.Audit.LockWaitSecs < 0 {
		add("audit.lock_wait_secs", "must not be negative")
	}
	if c.Accuracy.LocationHalfMeters <= 0 {
		add("accuracy.location_half_meters", "must be positive")
	}
	if c.Accuracy.NumericHalfDistance <= 0 {
		add("accuracy.numeric_half_distance", "must be positive")
	}
	switch c.Spend.Cache {
	case CacheNone, CacheMemory, CacheSQLite:
	default:
		add("spend.cache", "must be one of none, memory, sqlite (got %q)", c.Spend.Cache)
	}
	if c.Git.TimeoutSecs <= 0 {
		add("git.timeout_secs", "must be positive")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1 when rate_limit is set")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", "must be text or json (got %q)", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET (DOT NOTATION)
// =============================================================================

// ErrUnknownKey is returned by Get and Set for keys that name no setting.
var ErrUnknownKey = errors.New("unknown config key")

// lookup walks c by toml tag names ("audit.max_segment_bytes").
func (c *Config) lookup(key string) (reflect.Value, error) {
	v := reflect.ValueOf(c).Elem()
	parts := strings.Split(key, ".")
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%w: %s is not a section", ErrUnknownKey, strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s is a section", ErrUnknownKey, key)
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag != "" && tag != "-" && tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Get returns the value at key.
func (c *Config) Get(key string) (any, error) {
	v, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Set parses value into the setting at key.
func (c *Config) Set(key, value string) error {
	v, err := c.lookup(key)
	if err != nil {
		return err
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, value)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", key, value)
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", key, value)
		}
		v.SetBool(b)
	default:
		return fmt.Errorf("%s: unsupported type %s", key, v.Type())
	}
	return nil
}

// Keys returns every settable key in dot notation, sorted.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
			if tag == "" || tag == "-" {
				continue
			}
			if t.Field(i).Type.Kind() == reflect.Struct {
				walk(t.Field(i).Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	sort.Strings(keys)
	return keys
}
