// Package config loads cti-radar configuration from an optional YAML file and
// CTI_RADAR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CTI_RADAR_DATABASE_URL.
const EnvPrefix = "CTI_RADAR"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	GeoIP     GeoIPConfig     `mapstructure:"geoip"`
	Intel     IntelConfig     `mapstructure:"intel"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the HTTP/websocket listener settings
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	MaxClients int    `mapstructure:"max_clients"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the lookup cache settings. An empty URL disables redis.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig holds the threat fan-out settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// GeoIPConfig points at a MaxMind city database.
type GeoIPConfig struct {
	Path string `mapstructure:"path"`
}

// IntelConfig holds provider API keys.
type IntelConfig struct {
	VirusTotalKey string        `mapstructure:"virustotal_key"`
	AbuseIPDBKey  string        `mapstructure:"abuseipdb_key"`
	ThreatFoxKey  string        `mapstructure:"threatfox_key"`
	PulseDiveKey  string        `mapstructure:"pulsedive_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PollerConfig drives the live threat feed. Zero interval disables it.
type PollerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Watchlist []string      `mapstructure:"watchlist"`
}

// SimulatorConfig drives synthetic traffic. Zero tick disables it.
type SimulatorConfig struct {
	Tick      time.Duration `mapstructure:"tick"`
	SeedCount int           `mapstructure:"seed_count"`
}

// TelegramConfig holds high-severity notification settings
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// DashboardConfig configures the headless dashboard client.
type DashboardConfig struct {
	ServerURL     string        `mapstructure:"server_url"`
	Skin          string        `mapstructure:"skin"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (optional) and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Poller.Watchlist = splitList(cfg.Poller.Watchlist)

	return &cfg, nil
}

// splitList flattens comma separated entries coming from the environment.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.max_clients", 100)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "1h")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "cti.threats")

	v.SetDefault("geoip.path", "")

	v.SetDefault("intel.virustotal_key", "")
	v.SetDefault("intel.abuseipdb_key", "")
	v.SetDefault("intel.threatfox_key", "")
	v.SetDefault("intel.pulsedive_key", "")
	v.SetDefault("intel.timeout", "10s")

	v.SetDefault("poller.interval", "30s")
	v.SetDefault("poller.watchlist", []string{
		"185.220.101.4", "91.219.29.55", "198.54.117.199",
		"172.67.139.117", "104.21.23.149", "195.133.40.25",
	})

	v.SetDefault("simulator.tick", "0s")
	v.SetDefault("simulator.seed_count", 250)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)

	v.SetDefault("dashboard.server_url", "http://localhost:5000")
	v.SetDefault("dashboard.skin", "operations")
	v.SetDefault("dashboard.stats_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxClients < 1 {
		return fmt.Errorf("server.max_clients must be at least 1")
	}
	if c.Intel.Timeout <= 0 {
		return fmt.Errorf("intel.timeout must be positive")
	}
	if c.Poller.Interval < 0 {
		return fmt.Errorf("poller.interval must not be negative")
	}
	if c.Poller.Interval > 0 && len(c.Poller.Watchlist) == 0 {
		return fmt.Errorf("poller.watchlist must not be empty when the poller is enabled")
	}
	if c.Simulator.Tick < 0 {
		return fmt.Errorf("simulator.tick must not be negative")
	}
	if c.Simulator.SeedCount < 0 {
		return fmt.Errorf("simulator.seed_count must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validSkins := map[string]bool{"operations": true, "overview": true}
	if !validSkins[c.Dashboard.Skin] {
		return fmt.Errorf("dashboard.skin must be one of: operations, overview")
	}
	if c.Dashboard.ServerURL == "" {
		return fmt.Errorf("dashboard.server_url is required")
	}
	if c.Dashboard.StatsInterval <= 0 {
		return fmt.Errorf("dashboard.stats_interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
