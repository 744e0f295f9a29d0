package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Source    SourceConfig    `mapstructure:"source"`
	Report    ReportConfig    `mapstructure:"report"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines listener addresses
type ServerConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// LedgerConfig defines the ledger backend and retry policy
type LedgerConfig struct {
	Backend       string `mapstructure:"backend"` // "memory", "redis", or "sheets"
	RetryAttempts int    `mapstructure:"retry_attempts"`
	RetryDelay    string `mapstructure:"retry_delay"`
}

// RedisConfig defines the Redis connection shared by the redis ledger
// backend, the presence event source, and the redis report sink
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// SheetsConfig defines the Google Sheets ledger backend
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Worksheet       string `mapstructure:"worksheet"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// TrackerConfig defines session tracking behavior
type TrackerConfig struct {
	FlushInterval string `mapstructure:"flush_interval"`
}

// SourceConfig defines the presence event source
type SourceConfig struct {
	Channel string `mapstructure:"channel"`
}

// ReportConfig defines daily report behavior
type ReportConfig struct {
	Time     string `mapstructure:"time"`     // "HH:MM" time of day
	Timezone string `mapstructure:"timezone"` // IANA zone name or "Local"
	Sink     string `mapstructure:"sink"`     // "log" or "redis"
	Channel  string `mapstructure:"channel"`  // redis sink channel
}

// DirectoryConfig defines username resolution
type DirectoryConfig struct {
	Users        map[string]string `mapstructure:"users"`
	FallbackToID bool              `mapstructure:"fallback_to_id"`
	CacheSize    int               `mapstructure:"cache_size"`
	CacheTTL     string            `mapstructure:"cache_ttl"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PRESENCED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Ledger defaults
	v.SetDefault("ledger.backend", "redis")
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_delay", "2s")

	// Redis defaults
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Sheets defaults
	v.SetDefault("sheets.worksheet", "Tracker")
	v.SetDefault("sheets.credentials_file", "/etc/presenced/credentials.json")

	// Tracker defaults
	v.SetDefault("tracker.flush_interval", "2m")

	// Source defaults
	v.SetDefault("source.channel", "presence.events")

	// Report defaults
	v.SetDefault("report.time", "23:55")
	v.SetDefault("report.timezone", "Local")
	v.SetDefault("report.sink", "log")
	v.SetDefault("report.channel", "presence.reports")

	// Directory defaults
	v.SetDefault("directory.fallback_to_id", true)
	v.SetDefault("directory.cache_size", 1024)
	v.SetDefault("directory.cache_ttl", "10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Ledger.Backend {
	case "memory", "redis", "sheets":
	default:
		return fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}

	if cfg.Ledger.Backend == "sheets" && cfg.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sheets.spreadsheet_id is required for the sheets backend")
	}

	if cfg.Ledger.RetryAttempts <= 0 {
		return fmt.Errorf("ledger.retry_attempts must be positive")
	}

	for name, value := range map[string]string{
		"ledger.retry_delay":     cfg.Ledger.RetryDelay,
		"tracker.flush_interval": cfg.Tracker.FlushInterval,
		"directory.cache_ttl":    cfg.Directory.CacheTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if _, err := time.Parse("15:04", cfg.Report.Time); err != nil {
		return fmt.Errorf("invalid report.time (want HH:MM): %w", err)
	}

	if cfg.Report.Timezone != "Local" {
		if _, err := time.LoadLocation(cfg.Report.Timezone); err != nil {
			return fmt.Errorf("invalid report.timezone: %w", err)
		}
	}

	switch cfg.Report.Sink {
	case "log", "redis":
	default:
		return fmt.Errorf("unknown report sink: %q", cfg.Report.Sink)
	}

	return nil
}
