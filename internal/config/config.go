package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBPath    string `envconfig:"SENTINEL_DB_PATH" default:"data/sentinel.db"`
	RulesPath string `envconfig:"SENTINEL_RULES_PATH" default:"config/rules.yaml"`

	DedupWindowDays         int `envconfig:"DEDUP_WINDOW_DAYS" default:"7"`
	MaxConcurrentCollectors int `envconfig:"MAX_CONCURRENT_COLLECTORS" default:"3"`
	SchedulerCheckSeconds   int `envconfig:"SCHEDULER_CHECK_INTERVAL_SECONDS" default:"60"`
	RetentionDays           int `envconfig:"RETENTION_DAYS" default:"30"`

	Learning    LearningConfig
	Aggregation AggregationConfig
	QuietHours  QuietHoursConfig
}

type LearningConfig struct {
	Enabled              bool    `envconfig:"LEARNING_ENABLED" default:"true"`
	LearningRate         float64 `envconfig:"LEARNING_RATE" default:"0.1"`
	DecayHalfLifeDays    float64 `envconfig:"LEARNING_DECAY_HALF_LIFE_DAYS" default:"30"`
	MinActionsRequired   int     `envconfig:"LEARNING_MIN_ACTIONS" default:"20"`
	MaxPreferenceScore   float64 `envconfig:"LEARNING_MAX_PREFERENCE_SCORE" default:"25"`
	MaxFeaturesPerAction int     `envconfig:"LEARNING_MAX_FEATURES_PER_ACTION" default:"10"`
}

type AggregationConfig struct {
	Enabled            bool `envconfig:"ALERT_AGGREGATION_ENABLED" default:"true"`
	WindowMinutes      int  `envconfig:"ALERT_WINDOW_MINUTES" default:"15"`
	MaxAlertsPerWindow int  `envconfig:"ALERT_MAX_PER_WINDOW" default:"10"`
}

// Window is the aggregation window length.
func (a AggregationConfig) Window() time.Duration {
	return time.Duration(a.WindowMinutes) * time.Minute
}

type QuietHoursConfig struct {
	Enabled           bool   `envconfig:"QUIET_HOURS_ENABLED" default:"false"`
	Start             string `envconfig:"QUIET_HOURS_START" default:"22:00"`
	End               string `envconfig:"QUIET_HOURS_END" default:"07:00"`
	BypassForCritical bool   `envconfig:"QUIET_HOURS_BYPASS_CRITICAL" default:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("SENTINEL_DB_PATH is required")
	}
	if c.DedupWindowDays < 1 {
		return fmt.Errorf("DEDUP_WINDOW_DAYS must be >= 1")
	}
	if c.MaxConcurrentCollectors < 1 {
		return fmt.Errorf("MAX_CONCURRENT_COLLECTORS must be >= 1")
	}
	if c.SchedulerCheckSeconds < 1 {
		return fmt.Errorf("SCHEDULER_CHECK_INTERVAL_SECONDS must be >= 1")
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be >= 1")
	}
	if c.Learning.LearningRate <= 0 || c.Learning.LearningRate > 1 {
		return fmt.Errorf("LEARNING_RATE must be in (0, 1]")
	}
	if c.Learning.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("LEARNING_DECAY_HALF_LIFE_DAYS must be > 0")
	}
	if c.Learning.MinActionsRequired < 0 {
		return fmt.Errorf("LEARNING_MIN_ACTIONS must be >= 0")
	}
	if c.Learning.MaxFeaturesPerAction < 1 {
		return fmt.Errorf("LEARNING_MAX_FEATURES_PER_ACTION must be >= 1")
	}
	if c.Aggregation.WindowMinutes < 1 {
		return fmt.Errorf("ALERT_WINDOW_MINUTES must be >= 1")
	}
	if c.Aggregation.MaxAlertsPerWindow < 1 {
		return fmt.Errorf("ALERT_MAX_PER_WINDOW must be >= 1")
	}
	if _, err := ParseClock(c.QuietHours.Start); err != nil {
		return fmt.Errorf("QUIET_HOURS_START: %w", err)
	}
	if _, err := ParseClock(c.QuietHours.End); err != nil {
		return fmt.Errorf("QUIET_HOURS_END: %w", err)
	}
	return nil
}

// SchedulerCheckInterval is the cadence at which the orchestrator wakes up
// to look for due sources.
func (c *Config) SchedulerCheckInterval() time.Duration {
	return time.Duration(c.SchedulerCheckSeconds) * time.Second
}

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// Minutes returns the clock as minutes after midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClock parses an "HH:MM" time-of-day string.
func ParseClock(raw string) (Clock, error) {
	trimmed := strings.TrimSpace(raw)
	parts := strings.SplitN(trimmed, ":", 2)
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("clock %q must be HH:MM", raw)
	}

	var c Clock
	if _, err := fmt.Sscanf(trimmed, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", raw, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("clock %q out of range", raw)
	}
	return c, nil
}
