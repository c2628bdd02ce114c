package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for the ICS sync service.
type Config struct {
	Listen      string `json:"listen,omitempty"`
	DatabaseURL string `json:"database_url,omitempty"`
	JWTSecret   string `json:"jwt_secret,omitempty"`

	// Timezone is the IANA zone every feed timestamp is normalized into
	// for storage and matching (e.g. "Europe/Copenhagen").
	Timezone string `json:"timezone,omitempty"`

	// FetchTimeoutSeconds bounds the feed HTTP request.
	FetchTimeoutSeconds int `json:"fetch_timeout_seconds,omitempty"`

	// RefreshCron, when non-empty, enables periodic sync of all enabled
	// calendars on a cron schedule (e.g. "*/15 * * * *").
	RefreshCron string `json:"refresh_cron,omitempty"`

	// Sync tunables.
	GraceHours           int     `json:"grace_hours,omitempty"`
	MaxMissCount         int     `json:"max_miss_count,omitempty"`
	FuzzyThreshold       float64 `json:"fuzzy_threshold,omitempty"`
	TitleOverlapFloor    float64 `json:"title_overlap_floor,omitempty"`
	TimeToleranceSeconds int     `json:"time_tolerance_seconds,omitempty"`
	RespectCancellation  *bool   `json:"respect_cancellation,omitempty"`
}

// Flags carries command-line overrides for LoadConfig. Empty fields are
// treated as "not set".
type Flags struct {
	Listen      string
	DatabaseURL string
	JWTSecret   string
	Timezone    string
	RefreshCron string
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if listen := os.Getenv("LISTEN_ADDR"); listen != "" {
		config.Listen = listen
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.DatabaseURL = dbURL
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.JWTSecret = secret
	}
	if tz := os.Getenv("SYNC_TIMEZONE"); tz != "" {
		config.Timezone = tz
	}
	if cronExpr := os.Getenv("REFRESH_CRON"); cronExpr != "" {
		config.RefreshCron = cronExpr
	}
	if timeout := os.Getenv("FETCH_TIMEOUT_SECONDS"); timeout != "" {
		n, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid FETCH_TIMEOUT_SECONDS %q: %w", timeout, err)
		}
		config.FetchTimeoutSeconds = n
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.Listen != "" {
		config.Listen = flags.Listen
	}
	if flags.DatabaseURL != "" {
		config.DatabaseURL = flags.DatabaseURL
	}
	if flags.JWTSecret != "" {
		config.JWTSecret = flags.JWTSecret
	}
	if flags.Timezone != "" {
		config.Timezone = flags.Timezone
	}
	if flags.RefreshCron != "" {
		config.RefreshCron = flags.RefreshCron
	}

	// Step 4: Apply defaults and validate required fields
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url must be provided via --database-url flag, DATABASE_URL environment variable, or config file")
	}
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret must be provided via --jwt-secret flag, JWT_SECRET environment variable, or config file")
	}

	config.applyDefaults()

	// Fail fast on an unknown timezone rather than at first sync.
	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Copenhagen"
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 30
	}
	if c.GraceHours <= 0 {
		c.GraceHours = 6
	}
	if c.MaxMissCount <= 0 {
		c.MaxMissCount = 3
	}
	if c.FuzzyThreshold <= 0 {
		c.FuzzyThreshold = 0.65
	}
	if c.TitleOverlapFloor <= 0 {
		c.TitleOverlapFloor = 0.6
	}
	if c.TimeToleranceSeconds <= 0 {
		c.TimeToleranceSeconds = 900
	}
	if c.RespectCancellation == nil {
		t := true
		c.RespectCancellation = &t
	}
}

// FetchTimeout returns the feed fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone. LoadConfig has already
// validated it, so failures here indicate a hand-built Config.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
