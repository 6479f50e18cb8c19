// Package config loads chainwatch configuration from an optional YAML
// file overlaid with CHAINWATCH_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cultivate-labs/chainwatch/internal/ledger"
)

// MinPollingInterval is the enforced floor for the poll cadence.
const MinPollingInterval = 10 * time.Second

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Polling    PollingConfig    `koanf:"polling"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Cache      CacheConfig      `koanf:"cache"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Discord    DiscordConfig    `koanf:"discord"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// store (state does not survive restarts).
	Path string `koanf:"path"`
}

type LedgerConfig struct {
	NodeURL     string               `koanf:"node_url"`
	Network     string               `koanf:"network"`
	ExplorerURL string               `koanf:"explorer_url"`
	BatchSize   int                  `koanf:"batch_size"`
	Accounts    []string             `koanf:"accounts"`
	Handles     []ledger.EventHandle `koanf:"handles"`
}

type PollingConfig struct {
	Interval    time.Duration `koanf:"interval"`
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`
}

type ClassifierConfig struct {
	Threshold    float64     `koanf:"threshold"`
	AmountCutoff uint64      `koanf:"amount_cutoff"`
	AmountBoost  float64     `koanf:"amount_boost"`
	WatchBoost   float64     `koanf:"watch_boost"`
	Watch        WatchConfig `koanf:"watch"`
}

type WatchConfig struct {
	Accounts    []string `koanf:"accounts"`
	Tokens      []string `koanf:"tokens"`
	Collections []string `koanf:"collections"`
}

type DedupConfig struct {
	Capacity int `koanf:"capacity"`
}

type CacheConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

type EnrichmentConfig struct {
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

type DiscordConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	Username   string        `koanf:"username"`
	Interval   time.Duration `koanf:"interval"`
}

// Load reads configuration from path (skipped when empty or absent) and
// the environment, then applies defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Double underscore separates nesting levels so snake_case keys
	// survive: CHAINWATCH_DISCORD__WEBHOOK_URL -> discord.webhook_url.
	if err := k.Load(env.Provider("CHAINWATCH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHAINWATCH_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5001
	}
	if c.Ledger.NodeURL == "" {
		c.Ledger.NodeURL = "https://fullnode.mainnet.aptoslabs.com/v1"
	}
	if c.Ledger.Network == "" {
		c.Ledger.Network = "mainnet"
	}
	if c.Ledger.ExplorerURL == "" {
		c.Ledger.ExplorerURL = "https://explorer.aptoslabs.com"
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = 60 * time.Second
	}
	if c.Polling.BackoffBase == 0 {
		c.Polling.BackoffBase = 10 * time.Second
	}
	if c.Polling.BackoffMax == 0 {
		c.Polling.BackoffMax = 2 * time.Minute
	}
	if c.Classifier.Threshold == 0 {
		c.Classifier.Threshold = 0.6
	}
	if c.Classifier.AmountCutoff == 0 {
		c.Classifier.AmountCutoff = 10000
	}
	if c.Classifier.AmountBoost == 0 {
		c.Classifier.AmountBoost = 0.2
	}
	if c.Classifier.WatchBoost == 0 {
		c.Classifier.WatchBoost = 0.15
	}
	if c.Dedup.Capacity == 0 {
		c.Dedup.Capacity = 1000
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 256
	}
	if c.Enrichment.BaseURL == "" {
		c.Enrichment.BaseURL = "https://api.x.ai/v1"
	}
	if c.Enrichment.Model == "" {
		c.Enrichment.Model = "grok-2-latest"
	}
	if c.Enrichment.Temperature == 0 {
		c.Enrichment.Temperature = 0.7
	}
	if c.Enrichment.Timeout == 0 {
		c.Enrichment.Timeout = 30 * time.Second
	}
	if c.Discord.Interval == 0 {
		c.Discord.Interval = time.Second
	}
}

func (c *Config) validate() error {
	if c.Polling.Interval < MinPollingInterval {
		return fmt.Errorf("polling interval %s below minimum %s", c.Polling.Interval, MinPollingInterval)
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier threshold %f outside [0,1]", c.Classifier.Threshold)
	}
	if c.Dedup.Capacity < 0 {
		return fmt.Errorf("dedup capacity must be positive, got %d", c.Dedup.Capacity)
	}
	return nil
}

// MissingCritical lists the settings without which notifications or
// enrichment cannot work. The process still starts; degraded components
// show up in status instead.
func (c *Config) MissingCritical() []string {
	var missing []string
	if c.Discord.WebhookURL == "" {
		missing = append(missing, "discord.webhook_url")
	}
	if c.Enrichment.APIKey == "" {
		missing = append(missing, "enrichment.api_key")
	}
	return missing
}
