// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load is given no path.
const ConfigPath = "config.yaml"

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string  `yaml:"port"`
	LogLevel                  string  `yaml:"logLevel"`
	ServiceName               string  `yaml:"serviceName"`
	Store                     string  `yaml:"store"`
	DatabaseURL               string  `yaml:"databaseURL"`
	SQLitePath                string  `yaml:"sqlitePath"`
	JournalEnabled            bool    `yaml:"journalEnabled"`
	RedisAddr                 string  `yaml:"redisAddr"`
	RedisPassword             string  `yaml:"redisPassword"`
	RelayStream               string  `yaml:"relayStream"`
	OTLPEndpoint              string  `yaml:"otlpEndpoint"`
	RateLimit                 float64 `yaml:"rateLimit"`
	RateBurst                 int     `yaml:"rateBurst"`
	BreakerFailures           int     `yaml:"breakerFailures"`
	BreakerOpenTimeoutSeconds int     `yaml:"breakerOpenTimeoutSeconds"`
	LoanPeriodDays            int     `yaml:"loanPeriodDays"`
	DueSoonWindowDays         int     `yaml:"dueSoonWindowDays"`
	DueSweepIntervalSeconds   int     `yaml:"dueSweepIntervalSeconds"`
}

// Default returns the configuration used when no file is present.
func Default() FileConfig {
	return FileConfig{
		Port:                      "8080",
		LogLevel:                  "info",
		ServiceName:               "lendingdesk",
		Store:                     StoreMemory,
		SQLitePath:                "data/lendingdesk.db",
		RelayStream:               "lendingdesk:notifications",
		RateLimit:                 50,
		RateBurst:                 100,
		BreakerFailures:           3,
		BreakerOpenTimeoutSeconds: 10,
		LoanPeriodDays:            14,
		DueSoonWindowDays:         3,
		DueSweepIntervalSeconds:   3600,
	}
}

// Load reads config from path (defaults to config.yaml). A missing file is
// not an error; defaults and environment overrides still apply.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("LENDINGDESK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LENDINGDESK_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("LENDINGDESK_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("LENDINGDESK_RELAY_STREAM"); v != "" {
		cfg.RelayStream = v
	}
	if v := os.Getenv("LENDINGDESK_JOURNAL_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.JournalEnabled = enabled
		}
	}
	if v := os.Getenv("LENDINGDESK_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = n
		}
	}
	if v := os.Getenv("LENDINGDESK_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateBurst = n
		}
	}
	if v := os.Getenv("LENDINGDESK_LOAN_PERIOD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoanPeriodDays = n
		}
	}
	if v := os.Getenv("LENDINGDESK_DUE_SOON_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DueSoonWindowDays = n
		}
	}
	if v := os.Getenv("LENDINGDESK_DUE_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DueSweepIntervalSeconds = n
		}
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return errors.New("config: sqlitePath is required when store=sqlite")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required when store=postgres (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown store %q (want memory, sqlite or postgres)", cfg.Store)
	}
	if cfg.JournalEnabled && cfg.DatabaseURL == "" {
		return errors.New("config: journalEnabled requires databaseURL")
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return errors.New("config: rateLimit and rateBurst must be >= 0")
	}
	if cfg.BreakerFailures < 0 || cfg.BreakerOpenTimeoutSeconds < 0 {
		return errors.New("config: breaker settings must be >= 0")
	}
	if cfg.LoanPeriodDays <= 0 {
		return errors.New("config: loanPeriodDays must be > 0")
	}
	if cfg.DueSoonWindowDays < 0 {
		return errors.New("config: dueSoonWindowDays must be >= 0")
	}
	if cfg.DueSweepIntervalSeconds < 0 {
		return errors.New("config: dueSweepIntervalSeconds must be >= 0")
	}
	return nil
}

func (c FileConfig) LoanPeriod() time.Duration {
	return time.Duration(c.LoanPeriodDays) * 24 * time.Hour
}

func (c FileConfig) DueSoonWindow() time.Duration {
	return time.Duration(c.DueSoonWindowDays) * 24 * time.Hour
}

// DueSweepInterval is zero when the due-soon sweeper is disabled.
func (c FileConfig) DueSweepInterval() time.Duration {
	return time.Duration(c.DueSweepIntervalSeconds) * time.Second
}

func (c FileConfig) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.BreakerOpenTimeoutSeconds) * time.Second
}
