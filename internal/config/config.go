// Package config loads the YAML configuration shared by the broker, agents
// and requesters.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gian-ai/recommendations/internal/sink"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Broker Broker      `yaml:"broker"`
	Topics sink.Topics `yaml:"topics"`
	Sinks  Sinks       `yaml:"sinks"`
	Client Client      `yaml:"client"`
}

// Broker holds the listener and cache settings.
type Broker struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	CacheDir     string        `yaml:"cache_dir"`
	CacheLength  int           `yaml:"cache_length"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Sinks selects where sent traffic is recorded.
type Sinks struct {
	Files  bool   `yaml:"files"`
	SQLite string `yaml:"sqlite"` // database path, relative to cache_dir
	NATS   NATS   `yaml:"nats"`
}

// NATS configures the traffic mirror.
type NATS struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
}

// Client holds the connect retry policy.
type Client struct {
	Attempts      int           `yaml:"attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	BackoffFactor int           `yaml:"backoff_factor"`
}

// Default returns a Config with the stock ports, topics and retry policy.
func Default() Config {
	return Config{
		Broker: Broker{
			Host:         "localhost",
			Port:         7777,
			CacheDir:     ".cache",
			CacheLength:  100,
			WriteTimeout: 10 * time.Second,
		},
		Topics: sink.DefaultTopics(),
		Sinks: Sinks{
			Files: true,
			NATS:  NATS{Prefix: "mq"},
		},
		Client: Client{
			Attempts:      3,
			BaseDelay:     time.Second,
			BackoffFactor: 2,
		},
	}
}

// Load reads the file at path over the defaults. An empty or missing path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Broker.Host == "" {
		c.Broker.Host = d.Broker.Host
	}
	if c.Broker.CacheDir == "" {
		c.Broker.CacheDir = d.Broker.CacheDir
	}
	if c.Broker.CacheLength == 0 {
		c.Broker.CacheLength = d.Broker.CacheLength
	}
	if c.Topics.Query == "" {
		c.Topics.Query = d.Topics.Query
	}
	if c.Topics.Solve == "" {
		c.Topics.Solve = d.Topics.Solve
	}
	if c.Topics.Observe == "" {
		c.Topics.Observe = d.Topics.Observe
	}
	if c.Sinks.NATS.Prefix == "" {
		c.Sinks.NATS.Prefix = d.Sinks.NATS.Prefix
	}
	if c.Client.Attempts == 0 {
		c.Client.Attempts = d.Client.Attempts
	}
	if c.Client.BaseDelay == 0 {
		c.Client.BaseDelay = d.Client.BaseDelay
	}
	if c.Client.BackoffFactor == 0 {
		c.Client.BackoffFactor = d.Client.BackoffFactor
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.Port < 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", c.Broker.Port)
	}
	if c.Broker.CacheLength < 1 {
		return fmt.Errorf("broker.cache_length must be at least 1")
	}
	if c.Broker.WriteTimeout < 0 {
		return fmt.Errorf("broker.write_timeout cannot be negative")
	}
	if c.Topics.Query == c.Topics.Solve {
		return fmt.Errorf("topics.query and topics.solve must differ")
	}
	if c.Client.Attempts < 1 {
		return fmt.Errorf("client.attempts must be at least 1")
	}
	if c.Client.BaseDelay < 0 {
		return fmt.Errorf("client.base_delay cannot be negative")
	}
	if c.Client.BackoffFactor < 1 {
		return fmt.Errorf("client.backoff_factor must be at least 1")
	}
	return nil
}

// Addr returns the broker address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Broker.Host, strconv.Itoa(c.Broker.Port))
}

// SQLitePath returns the ledger database path, or "" when the ledger is off.
func (c *Config) SQLitePath() string {
	if c.Sinks.SQLite == "" {
		return ""
	}
	if filepath.IsAbs(c.Sinks.SQLite) {
		return c.Sinks.SQLite
	}
	return filepath.Join(c.Broker.CacheDir, c.Sinks.SQLite)
}
