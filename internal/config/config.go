// Package config handles application configuration from a YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	DiscordToken    string `yaml:"discord_token"`
	GuildID         string `yaml:"guild_id"`
	PromptChannelID string `yaml:"prompt_channel_id"`

	DatabaseDriver string `yaml:"database_driver"`
	DatabaseDSN    string `yaml:"database_dsn"`

	SourceURL      string        `yaml:"source_url"`
	SourceKind     string        `yaml:"source_kind"`
	RelevantMarker string        `yaml:"relevant_marker"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`

	PromptInterval   time.Duration `yaml:"prompt_interval"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	ScrapeInterval   time.Duration `yaml:"scrape_interval"`
	DeliveryRate     float64       `yaml:"delivery_rate"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	AllowedUsers []string `yaml:"allowed_users"`

	OperatorTelegramToken  string `yaml:"operator_telegram_token"`
	OperatorTelegramChatID int64  `yaml:"operator_telegram_chat_id"`
}

func defaults() *Config {
	return &Config{
		DatabaseDriver:   "sqlite",
		DatabaseDSN:      "./data/bot.db",
		SourceURL:        "https://www.metrotas.com.au/alerts/",
		SourceKind:       "html",
		RelevantMarker:   "Service Update",
		FetchTimeout:     10 * time.Second,
		PromptInterval:   15 * time.Second,
		DispatchInterval: 15 * time.Second,
		ScrapeInterval:   2 * time.Minute,
		DeliveryRate:     5,
		LogLevel:         "info",
	}
}

// Load reads the optional YAML file named by CONFIG_FILE, then applies
// environment variable overrides and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overrideFromEnv() error {
	strs := map[string]*string{
		"DISCORD_BOT_TOKEN":         &c.DiscordToken,
		"DISCORD_GUILD_ID":          &c.GuildID,
		"DISCORD_PROMPT_CHANNEL_ID": &c.PromptChannelID,
		"DATABASE_DRIVER":           &c.DatabaseDriver,
		"DATABASE_DSN":              &c.DatabaseDSN,
		"SOURCE_URL":                &c.SourceURL,
		"SOURCE_KIND":               &c.SourceKind,
		"RELEVANT_MARKER":           &c.RelevantMarker,
		"LOG_LEVEL":                 &c.LogLevel,
		"METRICS_ADDR":              &c.MetricsAddr,
		"OPERATOR_TELEGRAM_TOKEN":   &c.OperatorTelegramToken,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FETCH_TIMEOUT":     &c.FetchTimeout,
		"PROMPT_INTERVAL":   &c.PromptInterval,
		"DISPATCH_INTERVAL": &c.DispatchInterval,
		"SCRAPE_INTERVAL":   &c.ScrapeInterval,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}

	if v := os.Getenv("DELIVERY_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid DELIVERY_RATE %q: %w", v, err)
		}
		c.DeliveryRate = rate
	}

	if v := os.Getenv("OPERATOR_TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid OPERATOR_TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		c.OperatorTelegramChatID = id
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		c.AllowedUsers = nil
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.AllowedUsers = append(c.AllowedUsers, s)
			}
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.GuildID == "" {
		return fmt.Errorf("DISCORD_GUILD_ID is required")
	}

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q, use: sqlite, postgres", c.DatabaseDriver)
	}
	switch c.SourceKind {
	case "html", "feed":
	default:
		return fmt.Errorf("unsupported SOURCE_KIND %q, use: html, feed", c.SourceKind)
	}

	for name, d := range map[string]time.Duration{
		"FETCH_TIMEOUT":     c.FetchTimeout,
		"PROMPT_INTERVAL":   c.PromptInterval,
		"DISPATCH_INTERVAL": c.DispatchInterval,
		"SCRAPE_INTERVAL":   c.ScrapeInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.DeliveryRate < 0 {
		return fmt.Errorf("DELIVERY_RATE must not be negative")
	}

	for _, id := range c.AllowedUsers {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return fmt.Errorf("invalid user ID %q in ALLOWED_USERS", id)
		}
	}

	if c.OperatorTelegramToken != "" && c.OperatorTelegramChatID == 0 {
		return fmt.Errorf("OPERATOR_TELEGRAM_CHAT_ID is required with OPERATOR_TELEGRAM_TOKEN")
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
