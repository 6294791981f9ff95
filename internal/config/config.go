package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"5"`

	// Quiet hours are evaluated in this zone ("Local" = process zone).
	Timezone string `env:"TIMEZONE" envDefault:"Local"`

	// Channel adapter
	TelegramBaseURL    string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	ChannelTimeout     time.Duration `env:"CHANNEL_TIMEOUT" envDefault:"10s"`
	ChannelMaxAttempts int           `env:"CHANNEL_MAX_ATTEMPTS" envDefault:"3"`
	ChannelBaseDelay   time.Duration `env:"CHANNEL_BASE_DELAY" envDefault:"500ms"`
	ChannelRateLimit   int           `env:"CHANNEL_RATE_LIMIT" envDefault:"25"`

	// Retry worker
	RetryInterval      time.Duration `env:"RETRY_INTERVAL" envDefault:"30s"`
	RetryBatchSize     int           `env:"RETRY_BATCH_SIZE" envDefault:"10"`
	RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryFallbackDelay time.Duration `env:"RETRY_FALLBACK_DELAY" envDefault:"5m"`

	// Optional YAML settings file, re-applied whenever it changes.
	SettingsFile string `env:"SETTINGS_FILE"`

	// Notification settings used when none are stored yet.
	Defaults DefaultSettings
}

type DefaultSettings struct {
	Enabled         bool     `env:"NOTIFY_ENABLED" envDefault:"false"`
	BotToken        string   `env:"TELEGRAM_BOT_TOKEN"`
	CooldownMinutes int      `env:"NOTIFY_COOLDOWN_MINUTES" envDefault:"60"`
	QuietHours      string   `env:"NOTIFY_QUIET_HOURS"`
	Targets         []string `env:"NOTIFY_TARGETS" envSeparator:","`
}

// Load reads the optional env files (".env" when none are given) and parses
// the environment into a Config. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ChannelMaxAttempts < 1 {
		return errors.New("CHANNEL_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryBatchSize < 1 {
		return errors.New("RETRY_BATCH_SIZE must be at least 1")
	}
	if c.RetryInterval < time.Second {
		return errors.New("RETRY_INTERVAL must be at least 1s")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DefaultNotificationSettings converts the NOTIFY_* variables into Settings.
func (c *Config) DefaultNotificationSettings() domain.Settings {
	s := domain.Settings{
		Enabled:         c.Defaults.Enabled,
		BotToken:        c.Defaults.BotToken,
		CooldownMinutes: c.Defaults.CooldownMinutes,
		QuietHours:      c.Defaults.QuietHours,
	}
	for _, dest := range c.Defaults.Targets {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}
		s.Targets = append(s.Targets, domain.Target{Destination: dest, Enabled: true})
	}
	return s
}
