// Package config provides configuration loading for the relay and viewer.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the relay and viewer configuration.
type Config struct {
	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Broadcast hub settings
	Hub HubConfig `yaml:"hub"`

	// Upstream odds feed
	Feed FeedConfig `yaml:"feed"`

	// Update journal
	Storage StorageConfig `yaml:"storage"`

	// Snapshot cache
	Redis RedisConfig `yaml:"redis"`

	// Client-side sync channel
	Channel ChannelConfig `yaml:"channel"`

	// Bet slip settings
	BetSlip BetSlipConfig `yaml:"betslip"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`

	// Periodic maintenance jobs
	Cron CronConfig `yaml:"cron"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Listen address, e.g. ":8080"
	Addr string `yaml:"addr"`

	// Gin mode: debug, release or test
	Mode string `yaml:"mode"`

	// How long to wait for in-flight requests on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HubConfig contains broadcast hub settings.
type HubConfig struct {
	// How often to pull the upstream feed
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// How often to ping subscribers
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// How long a send may wait for room in a subscriber's buffer
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Outbound buffer per subscriber, in messages
	SendBuffer int `yaml:"send_buffer"`

	// Events not reported upstream for this long are dropped
	Retention time.Duration `yaml:"retention"`

	// How often to look for stale events
	EvictInterval time.Duration `yaml:"evict_interval"`
}

// FeedConfig contains upstream feed settings.
type FeedConfig struct {
	// Feed type: "http" or "simulator"
	Type string `yaml:"type"`

	// Provider URL for the http feed
	URL string `yaml:"url"`

	// Payload format: "native" or "oddsapi"
	Format string `yaml:"format"`

	// Request timeout
	Timeout time.Duration `yaml:"timeout"`

	// Simulator: seed for odds drift, 0 picks one from the clock
	Seed int64 `yaml:"seed"`

	// Simulator: interval between pushed live deltas, 0 disables push
	PushInterval time.Duration `yaml:"push_interval"`
}

// StorageConfig contains update journal settings.
type StorageConfig struct {
	// Storage type: "file" or "none"
	Type string `yaml:"type"`

	// Output directory for file storage
	OutputDir string `yaml:"output_dir"`

	// File rotation interval
	RotationInterval time.Duration `yaml:"rotation_interval"`

	// Compress journal files
	Gzip bool `yaml:"gzip"`
}

// RedisConfig contains snapshot cache settings.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// ChannelConfig contains sync channel settings.
type ChannelConfig struct {
	// WebSocket URL of the relay
	URL string `yaml:"url"`

	// Polling URL, e.g. http://localhost:8080/api/events?isLive=true
	PollURL string `yaml:"poll_url"`

	// Interval between polls
	PollInterval time.Duration `yaml:"poll_interval"`

	// Keep polling while the websocket is connected
	KeepPolling bool `yaml:"keep_polling"`

	// Initial reconnection backoff
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// Maximum reconnection backoff
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// Backoff multiplier
	BackoffFactor float64 `yaml:"backoff_factor"`

	// Sports to request from the relay, empty means all
	Sports []string `yaml:"sports"`
}

// BetSlipConfig contains bet slip settings.
type BetSlipConfig struct {
	// Currency code attached to submitted tickets
	Currency string `yaml:"currency"`

	// Settlement endpoint; empty means dry run
	SettlementURL string `yaml:"settlement_url"`

	// Settlement request timeout
	SettlementTimeout time.Duration `yaml:"settlement_timeout"`

	// Starting balance for the interactive viewer
	Balance float64 `yaml:"balance"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `yaml:"level"`

	// Log encoding: json or console
	Encoding string `yaml:"encoding"`

	// Sample repeated entries
	Sampling bool `yaml:"sampling"`
}

// CronConfig contains periodic job schedules.
type CronConfig struct {
	// Schedule for persisting the store snapshot to Redis
	Snapshot string `yaml:"snapshot"`

	// Schedule for the hub status log line
	Status string `yaml:"status"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Hub: HubConfig{
			RefreshInterval:   15 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			SendTimeout:       2 * time.Second,
			SendBuffer:        32,
			Retention:         10 * time.Minute,
			EvictInterval:     1 * time.Minute,
		},
		Feed: FeedConfig{
			Type:    "simulator",
			Format:  "native",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Type:             "none",
			OutputDir:        "data",
			RotationInterval: 1 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			Key:  "oddsrelay:snapshot",
			TTL:  15 * time.Minute,
		},
		Channel: ChannelConfig{
			URL:            "ws://localhost:8080/ws",
			PollURL:        "http://localhost:8080/api/events?isLive=true",
			PollInterval:   10 * time.Second,
			KeepPolling:    true,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		},
		BetSlip: BetSlipConfig{
			Currency:          "USD",
			SettlementTimeout: 10 * time.Second,
			Balance:           100,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Cron: CronConfig{
			Snapshot: "@every 30s",
			Status:   "@every 1m",
		},
	}
}

// Load loads configuration from a YAML file, then applies overrides from the
// environment and an optional .env file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.ApplyEnv()
	return config, nil
}

// ApplyEnv overrides deployment-specific fields from the environment.
// A .env file in the working directory is loaded first if present.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("ODDS_LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ODDS_FEED_URL"); v != "" {
		c.Feed.URL = v
		c.Feed.Type = "http"
	}
	if v := os.Getenv("ODDS_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("ODDS_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ODDS_SETTLEMENT_URL"); v != "" {
		c.BetSlip.SettlementURL = v
	}
	if v := os.Getenv("ODDS_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.Type != "file" && c.Storage.Type != "none" {
		return fmt.Errorf("invalid storage type: %s", c.Storage.Type)
	}
	if c.Storage.Type == "file" && c.Storage.OutputDir == "" {
		return fmt.Errorf("output_dir required for file storage")
	}
	switch c.Feed.Type {
	case "simulator":
	case "http":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed url required for http feed")
		}
		if c.Feed.Format != "native" && c.Feed.Format != "oddsapi" {
			return fmt.Errorf("invalid feed format: %s", c.Feed.Format)
		}
	default:
		return fmt.Errorf("invalid feed type: %s", c.Feed.Type)
	}
	if c.Hub.RefreshInterval <= 0 {
		return fmt.Errorf("hub refresh_interval must be positive")
	}
	if c.Hub.HeartbeatInterval <= 0 {
		return fmt.Errorf("hub heartbeat_interval must be positive")
	}
	if c.Channel.BackoffFactor < 1 {
		return fmt.Errorf("channel backoff_factor must be at least 1, got %v", c.Channel.BackoffFactor)
	}
	if c.Channel.MaxBackoff < c.Channel.InitialBackoff {
		return fmt.Errorf("channel max_backoff %v is below initial_backoff %v",
			c.Channel.MaxBackoff, c.Channel.InitialBackoff)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr required when redis is enabled")
	}
	return nil
}
