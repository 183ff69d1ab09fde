package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
}

// ScannerConfig controls the deadline scanner loop.
type ScannerConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// WarningDays is the look-ahead window for approaching deadlines.
	WarningDays int `mapstructure:"warning_days" yaml:"warning_days"`
}

// DispatcherConfig controls the notification dispatch loop.
type DispatcherConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
	BatchSize   int `mapstructure:"batch_size" yaml:"batch_size"`

	// MaxRetries stops delivery attempts once a notification has failed
	// this many times. Zero retries forever.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// SendTimeoutSec bounds a single email or Telegram call.
	SendTimeoutSec int `mapstructure:"send_timeout_sec" yaml:"send_timeout_sec"`
}

// ArchiveConfig enables copying delivered mail into an IMAP mailbox.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    string `mapstructure:"port" yaml:"port"`
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// EmailConfig holds SMTP settings. The password is read from the
// environment or the system keyring under PasswordKey.
type EmailConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Host        string        `mapstructure:"host" yaml:"host"`
	Port        string        `mapstructure:"port" yaml:"port"`
	Username    string        `mapstructure:"username" yaml:"username"`
	From        string        `mapstructure:"from" yaml:"from"`
	TLS         bool          `mapstructure:"tls" yaml:"tls"`
	PasswordKey string        `mapstructure:"password_key" yaml:"password_key"`
	Archive     ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

// TelegramConfig holds Bot API settings. The token is read from the
// environment or the system keyring under TokenKey.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	APIURL   string `mapstructure:"api_url" yaml:"api_url"`
	TokenKey string `mapstructure:"token_key" yaml:"token_key"`
}

// RoutingConfig selects how approval-stage tasks are routed to users.
type RoutingConfig struct {
	// Strategy is "first_active" or "static".
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	// Static maps a stage name to a fixed user id.
	Static map[string]string `mapstructure:"static" yaml:"static"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Timezone   string           `mapstructure:"timezone" yaml:"timezone"`
	Scanner    ScannerConfig    `mapstructure:"scanner" yaml:"scanner"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Email      EmailConfig      `mapstructure:"email" yaml:"email"`
	Telegram   TelegramConfig   `mapstructure:"telegram" yaml:"telegram"`
	Routing    RoutingConfig    `mapstructure:"routing" yaml:"routing"`
}

// Location resolves the configured timezone, defaulting to time.Local.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/signoff/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "signoff", "config.yaml")
}

// defaultDatabasePath returns ~/.local/share/signoff/signoff.db.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "signoff.db")
	}
	return filepath.Join(home, ".local", "share", "signoff", "signoff.db")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		Log:      LogConfig{Level: "info"},
		Scanner: ScannerConfig{
			IntervalSec: 3600,
			WarningDays: 3,
		},
		Dispatcher: DispatcherConfig{
			IntervalSec:    300,
			BatchSize:      50,
			MaxRetries:     0,
			SendTimeoutSec: 30,
		},
		Email: EmailConfig{
			Port:        "587",
			PasswordKey: "smtp-password",
			Archive:     ArchiveConfig{Port: "993", Mailbox: "Sent"},
		},
		Telegram: TelegramConfig{
			APIURL:   "https://api.telegram.org",
			TokenKey: "telegram-bot-token",
		},
		Routing: RoutingConfig{
			Strategy: "first_active",
			Static:   map[string]string{},
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := DefaultAppConfig()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("scanner.interval_sec", def.Scanner.IntervalSec)
	v.SetDefault("scanner.warning_days", def.Scanner.WarningDays)
	v.SetDefault("dispatcher.interval_sec", def.Dispatcher.IntervalSec)
	v.SetDefault("dispatcher.batch_size", def.Dispatcher.BatchSize)
	v.SetDefault("dispatcher.max_retries", def.Dispatcher.MaxRetries)
	v.SetDefault("dispatcher.send_timeout_sec", def.Dispatcher.SendTimeoutSec)
	v.SetDefault("email.port", def.Email.Port)
	v.SetDefault("email.password_key", def.Email.PasswordKey)
	v.SetDefault("email.archive.port", def.Email.Archive.Port)
	v.SetDefault("email.archive.mailbox", def.Email.Archive.Mailbox)
	v.SetDefault("telegram.api_url", def.Telegram.APIURL)
	v.SetDefault("telegram.token_key", def.Telegram.TokenKey)
	v.SetDefault("routing.strategy", def.Routing.Strategy)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Scanner.IntervalSec <= 0 {
		cfg.Scanner.IntervalSec = def.Scanner.IntervalSec
	}
	if cfg.Dispatcher.IntervalSec <= 0 {
		cfg.Dispatcher.IntervalSec = def.Dispatcher.IntervalSec
	}
	if cfg.Dispatcher.BatchSize <= 0 {
		cfg.Dispatcher.BatchSize = def.Dispatcher.BatchSize
	}
	if cfg.Routing.Static == nil {
		cfg.Routing.Static = map[string]string{}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("log", cfg.Log)
	v.Set("timezone", cfg.Timezone)
	v.Set("scanner", cfg.Scanner)
	v.Set("dispatcher", cfg.Dispatcher)
	v.Set("email", cfg.Email)
	v.Set("telegram", cfg.Telegram)
	v.Set("routing", cfg.Routing)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
