package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ClientID    string `envconfig:"CLIENT_ID" default:"main"`
	MetadataURI string `envconfig:"METADATA_URI" required:"true"`
	FeedToken   string `envconfig:"FEED_TOKEN"`

	DictDir  string `envconfig:"DICT_DIR" required:"true"`
	SpoolDir string `envconfig:"SPOOL_DIR"`
	DBPath   string `envconfig:"DB_PATH" default:"dictpack.db"`

	UpdateInterval  time.Duration `envconfig:"UPDATE_INTERVAL" default:"24h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	CleanupMinAge   time.Duration `envconfig:"CLEANUP_MIN_AGE" default:"1h"`
	MaxParallel     int           `envconfig:"MAX_PARALLEL" default:"2"`

	AllowOverMetered bool `envconfig:"ALLOW_OVER_METERED" default:"false"`
	AllowOverRoaming bool `envconfig:"ALLOW_OVER_ROAMING" default:"false"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"dictpack"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
