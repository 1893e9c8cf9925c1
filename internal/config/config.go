package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultDownloadDir    = "downloads"
	DefaultFetchTimeout   = 600
	DefaultSessionTTL     = 15
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "clipfetch"
	DefaultPGSSLMode      = "disable"
	DefaultBroadcastPause = 100
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Download DownloadConfig `toml:"download"`
	Session  SessionConfig  `toml:"session"`
	Postgres PostgresConfig `toml:"postgres"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token" validate:"required"`
	// AdminID is the single owner account allowed to use the admin console.
	AdminID int64 `toml:"admin_id" validate:"required"`
	// Channel is the mandatory channel, either @username or a numeric chat ID.
	Channel string `toml:"channel" validate:"required"`
	// BroadcastPauseMillis is the pause between broadcast deliveries.
	BroadcastPauseMillis int `toml:"broadcast_pause_millis"`
}

type DownloadConfig struct {
	// Dir holds in-flight temp files. Created on startup if missing.
	Dir string `toml:"dir"`
	// FetchTimeoutSeconds bounds a single metadata probe or download.
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds" validate:"gt=0"`
}

type SessionConfig struct {
	TTLMinutes int `toml:"ttl_minutes" validate:"gt=0"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pool connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			BroadcastPauseMillis: DefaultBroadcastPause,
		},
		Download: DownloadConfig{
			Dir:                 DefaultDownloadDir,
			FetchTimeoutSeconds: DefaultFetchTimeout,
		},
		Session: SessionConfig{
			TTLMinutes: DefaultSessionTTL,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration for missing required values.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
