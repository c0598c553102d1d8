// Package config loads the exporter settings from an INI file.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/export"
	"github.com/Sternrassler/mit-registry-export/pkg/logging"
	"gopkg.in/ini.v1"
)

// DefaultUserAgent is sent when app.user_agent is not set.
const DefaultUserAgent = "mit-registry-export/0.1"

var (
	// ErrMissingKey is returned when a required key is absent.
	ErrMissingKey = errors.New("missing configuration key")

	// ErrInvalidValue is returned when a key cannot be parsed or is out of range.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config holds the exporter configuration. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	// BaseURL is the registry listing endpoint (mit.url). Detail records
	// live at BaseURL + "/" + id.
	BaseURL string

	// OutputFile is the spreadsheet path (mit.output_filename).
	OutputFile string

	// Delay is slept before every request (app.delay).
	Delay time.Duration

	// CountAttempts bounds the retries of the initial count query (mit.attempts).
	CountAttempts int

	Timeout   time.Duration
	UserAgent string
	PageSize  int
	Sort      string

	// RetryBackoff and RetryBackoffMax add an exponential wait between
	// failed attempts on top of Delay. Zero disables it.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	LogLevel  logging.LogLevel
	LogPretty bool

	Cache CacheConfig

	// MetricsAddr enables the /metrics endpoint when non-empty.
	MetricsAddr string
}

// CacheConfig configures the optional response cache.
type CacheConfig struct {
	Enabled       bool
	MemorySize    int
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns the optional settings at their defaults. The
// required keys are left empty and must come from the file.
func DefaultConfig() *Config {
	return &Config{
		CountAttempts: 10,
		Timeout:       30 * time.Second,
		UserAgent:     DefaultUserAgent,
		PageSize:      100,
		Sort:          "number asc",
		LogLevel:      logging.LevelInfo,
		Cache: CacheConfig{
			MemorySize: 1024,
			TTL:        24 * time.Hour,
		},
	}
}

// Load reads and validates the INI file at path.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses the INI file at path without validating the result, for
// callers that apply overrides first and call Validate afterwards.
// Required keys must still be present and well-typed.
func Read(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return fromFile(file)
}

// Parse reads and validates INI content held in memory.
func Parse(data []byte) (*Config, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg, err := fromFile(file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(file *ini.File) (*Config, error) {
	cfg := DefaultConfig()
	app := file.Section("app")
	mit := file.Section("mit")
	retry := file.Section("retry")
	cache := file.Section("cache")
	metrics := file.Section("metrics")

	var err error

	// Required keys, in the order an operator would fix them.
	if cfg.Delay, err = requiredSeconds(app, "delay"); err != nil {
		return nil, err
	}
	if cfg.BaseURL, err = requiredString(mit, "url"); err != nil {
		return nil, err
	}
	if cfg.CountAttempts, err = requiredInt(mit, "attempts"); err != nil {
		return nil, err
	}
	if cfg.OutputFile, err = requiredString(mit, "output_filename"); err != nil {
		return nil, err
	}

	if app.HasKey("timeout") {
		if cfg.Timeout, err = requiredSeconds(app, "timeout"); err != nil {
			return nil, err
		}
	}
	if app.HasKey("user_agent") {
		cfg.UserAgent = strings.TrimSpace(app.Key("user_agent").String())
	}
	if app.HasKey("log_level") {
		level, err := logging.ParseLevel(app.Key("log_level").String())
		if err != nil {
			return nil, invalid(app, "log_level", err)
		}
		cfg.LogLevel = level
	}
	if app.HasKey("log_pretty") {
		if cfg.LogPretty, err = app.Key("log_pretty").Bool(); err != nil {
			return nil, invalid(app, "log_pretty", err)
		}
	}

	if mit.HasKey("page_size") {
		if cfg.PageSize, err = requiredInt(mit, "page_size"); err != nil {
			return nil, err
		}
	}
	if mit.HasKey("sort") {
		cfg.Sort = strings.TrimSpace(mit.Key("sort").String())
	}

	if retry.HasKey("backoff") {
		if cfg.RetryBackoff, err = requiredSeconds(retry, "backoff"); err != nil {
			return nil, err
		}
	}
	if retry.HasKey("backoff_max") {
		if cfg.RetryBackoffMax, err = requiredSeconds(retry, "backoff_max"); err != nil {
			return nil, err
		}
	}

	if cache.HasKey("enabled") {
		if cfg.Cache.Enabled, err = cache.Key("enabled").Bool(); err != nil {
			return nil, invalid(cache, "enabled", err)
		}
	}
	if cache.HasKey("memory_size") {
		if cfg.Cache.MemorySize, err = requiredInt(cache, "memory_size"); err != nil {
			return nil, err
		}
	}
	if cache.HasKey("ttl") {
		if cfg.Cache.TTL, err = cache.Key("ttl").Duration(); err != nil {
			return nil, invalid(cache, "ttl", err)
		}
	}
	cfg.Cache.RedisAddr = strings.TrimSpace(cache.Key("redis_addr").String())
	cfg.Cache.RedisPassword = cache.Key("redis_password").String()
	if cache.HasKey("redis_db") {
		if cfg.Cache.RedisDB, err = requiredInt(cache, "redis_db"); err != nil {
			return nil, err
		}
	}

	cfg.MetricsAddr = strings.TrimSpace(metrics.Key("addr").String())
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: mit.url", ErrMissingKey)
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: mit.url: %v", ErrInvalidValue, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: mit.url must be an http(s) URL", ErrInvalidValue)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: mit.url must include a host", ErrInvalidValue)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("%w: mit.output_filename", ErrMissingKey)
	}
	if _, err := export.FormatForPath(c.OutputFile); err != nil {
		return fmt.Errorf("%w: mit.output_filename: %v", ErrInvalidValue, err)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: app.delay cannot be negative", ErrInvalidValue)
	}
	if c.CountAttempts < 1 {
		return fmt.Errorf("%w: mit.attempts must be at least 1", ErrInvalidValue)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: app.timeout must be positive", ErrInvalidValue)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("%w: app.user_agent cannot be empty", ErrInvalidValue)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("%w: mit.page_size must be at least 1", ErrInvalidValue)
	}
	if c.RetryBackoff < 0 || c.RetryBackoffMax < 0 {
		return fmt.Errorf("%w: retry backoff cannot be negative", ErrInvalidValue)
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("%w: retry.backoff (%s) cannot exceed retry.backoff_max (%s)",
			ErrInvalidValue, c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.Cache.Enabled {
		if c.Cache.MemorySize < 0 {
			return fmt.Errorf("%w: cache.memory_size cannot be negative", ErrInvalidValue)
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("%w: cache.ttl must be positive", ErrInvalidValue)
		}
		if c.Cache.MemorySize == 0 && c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: cache enabled without memory_size or redis_addr", ErrInvalidValue)
		}
	}
	return nil
}

func requiredString(sec *ini.Section, name string) (string, error) {
	if !sec.HasKey(name) {
		return "", missing(sec, name)
	}
	value := strings.TrimSpace(sec.Key(name).String())
	if value == "" {
		return "", missing(sec, name)
	}
	return value, nil
}

func requiredInt(sec *ini.Section, name string) (int, error) {
	if !sec.HasKey(name) {
		return 0, missing(sec, name)
	}
	value, err := sec.Key(name).Int()
	if err != nil {
		return 0, invalid(sec, name, err)
	}
	return value, nil
}

// requiredSeconds parses a fractional number of seconds.
func requiredSeconds(sec *ini.Section, name string) (time.Duration, error) {
	if !sec.HasKey(name) {
		return 0, missing(sec, name)
	}
	value, err := sec.Key(name).Float64()
	if err != nil {
		return 0, invalid(sec, name, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, invalid(sec, name, fmt.Errorf("not a finite number"))
	}
	return time.Duration(value * float64(time.Second)), nil
}

func missing(sec *ini.Section, name string) error {
	return fmt.Errorf("%w: %s.%s", ErrMissingKey, sec.Name(), name)
}

func invalid(sec *ini.Section, name string, err error) error {
	return fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, sec.Name(), name, err)
}
