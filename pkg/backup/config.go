// Copyright 2024-2026 Aiku AI

package backup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the userbot credentials and session location.
type TelegramConfig struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	Phone       string `yaml:"phone"`
	SessionFile string `yaml:"session_file"`
}

// RouteConfig is one source-to-destination mapping from the config file.
type RouteConfig struct {
	SourceChatID int64  `yaml:"source_chat_id"`
	TargetChatID int64  `yaml:"target_chat_id"`
	DisplayName  string `yaml:"display_name"`
	Tag          string `yaml:"tag"`
}

// RetentionConfig holds the retention knobs in days, as users write them.
type RetentionConfig struct {
	MappingRetentionDays int `yaml:"mapping_retention_days"`
	// AutoDeleteIgnoreDays mirrors the platform's own edit-window ceiling:
	// recalls of messages older than this cannot be tagged in place.
	AutoDeleteIgnoreDays int `yaml:"auto_delete_ignore_days"`
}

// ArchiveConfig controls daily/weekly export output.
type ArchiveConfig struct {
	Dir          string `yaml:"dir"`
	UploadChatID int64  `yaml:"upload_chat_id"`
	DailyHour    int    `yaml:"daily_hour"`
	WeeklyDay    string `yaml:"weekly_day"`
	WeeklyHour   int    `yaml:"weekly_hour"`
}

// Config is the full groupbackup configuration. The core treats it as an
// immutable snapshot per run; reload means restart.
type Config struct {
	Telegram            TelegramConfig  `yaml:"telegram"`
	Routes              []RouteConfig   `yaml:"routes"`
	DisplayTimezone     string          `yaml:"display_timezone"`
	Retention           RetentionConfig `yaml:"retention"`
	FooterWindowSeconds int             `yaml:"footer_window_seconds"`
	Archive             ArchiveConfig   `yaml:"archive"`
	StorePath           string          `yaml:"store_path"`
	Workers             int             `yaml:"workers"`
	LogLevel            string          `yaml:"log_level"`

	loc       *time.Location `yaml:"-"`
	weeklyDay time.Weekday   `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies defaults and validates the snapshot.
func (c *Config) PostProcess() error {
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		return fmt.Errorf("telegram api_id and api_hash are required")
	}
	if c.Telegram.SessionFile == "" {
		c.Telegram.SessionFile = "groupbackup.session"
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	if c.StorePath == "" {
		c.StorePath = "groupbackup.db"
	}
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = "UTC"
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return fmt.Errorf("invalid display_timezone %q: %w", c.DisplayTimezone, err)
	}
	c.loc = loc

	if c.Retention.MappingRetentionDays <= 0 {
		c.Retention.MappingRetentionDays = 90
	}
	if c.Retention.AutoDeleteIgnoreDays <= 0 {
		c.Retention.AutoDeleteIgnoreDays = 30
	}
	if c.FooterWindowSeconds <= 0 {
		c.FooterWindowSeconds = 300
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "archives"
	}
	if c.Archive.WeeklyDay == "" {
		c.Archive.WeeklyDay = "monday"
	}
	c.weeklyDay, err = parseWeekday(c.Archive.WeeklyDay)
	if err != nil {
		return err
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// Location returns the parsed display timezone.
func (c *Config) Location() *time.Location { return c.loc }

// WeeklyDay returns the parsed weekly export day.
func (c *Config) WeeklyDay() time.Weekday { return c.weeklyDay }

// FooterWindow returns the header-suppression window as a duration.
func (c *Config) FooterWindow() time.Duration {
	return time.Duration(c.FooterWindowSeconds) * time.Second
}

// RetentionPolicy converts the day-based config values to durations.
func (c *Config) RetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MappingRetention: time.Duration(c.Retention.MappingRetentionDays) * 24 * time.Hour,
		AutoDeleteIgnore: time.Duration(c.Retention.AutoDeleteIgnoreDays) * 24 * time.Hour,
	}
}

// RoutingEntries converts the configured routes to router input.
func (c *Config) RoutingEntries() []RoutingEntry {
	entries := make([]RoutingEntry, 0, len(c.Routes))
	for _, route := range c.Routes {
		entries = append(entries, RoutingEntry{
			SourceChatID: route.SourceChatID,
			TargetChatID: route.TargetChatID,
			DisplayName:  route.DisplayName,
			Tag:          route.Tag,
		})
	}
	return entries
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func parseWeekday(value string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid weekly_day %q", value)
	}
}
