// Package config loads transfer settings from the environment, an optional
// .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL    = "https://api.notion.com/v1"
	DefaultAPIVersion = "2022-06-28"
)

// Config holds every externally supplied setting.
type Config struct {
	OriginToken      string        `mapstructure:"ORIGIN_NOTION_TOKEN"`
	DestToken        string        `mapstructure:"DEST_NOTION_TOKEN"`
	OriginDatabaseID string        `mapstructure:"ORIGIN_DATABASE_ID"`
	DestDatabaseID   string        `mapstructure:"DEST_DATABASE_ID"`
	BaseURL          string        `mapstructure:"NOTION_BASE_URL"`
	APIVersion       string        `mapstructure:"NOTION_API_VERSION"`
	MaxRetries       int           `mapstructure:"MAX_RETRIES"`
	RetryDelay       time.Duration `mapstructure:"RETRY_DELAY"`
	RateLimitDelay   time.Duration `mapstructure:"RATE_LIMIT_DELAY"`
	HTTPTimeout      time.Duration `mapstructure:"HTTP_TIMEOUT"`
	ProgressBackend  string        `mapstructure:"PROGRESS_BACKEND"`
	ProgressDir      string        `mapstructure:"PROGRESS_DIR"`
	ProgressFormat   string        `mapstructure:"PROGRESS_FORMAT"`
	SQLitePath       string        `mapstructure:"SQLITE_PATH"`
	MongoURI         string        `mapstructure:"MONGO_URI"`
	MongoDatabase    string        `mapstructure:"MONGO_DATABASE"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogFile          string        `mapstructure:"LOG_FILE"`
	NotifyEvery      int           `mapstructure:"NOTIFY_EVERY"`
	Workers          int           `mapstructure:"WORKERS"`
	ForwardChildren  bool          `mapstructure:"FORWARD_CHILDREN"`
	SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
}

var keys = []string{
	"ORIGIN_NOTION_TOKEN", "DEST_NOTION_TOKEN", "ORIGIN_DATABASE_ID", "DEST_DATABASE_ID",
	"NOTION_BASE_URL", "NOTION_API_VERSION", "MAX_RETRIES", "RETRY_DELAY", "RATE_LIMIT_DELAY",
	"HTTP_TIMEOUT", "PROGRESS_BACKEND", "PROGRESS_DIR", "PROGRESS_FORMAT", "SQLITE_PATH",
	"MONGO_URI", "MONGO_DATABASE", "LOG_LEVEL", "LOG_FILE", "NOTIFY_EVERY", "WORKERS",
	"FORWARD_CHILDREN", "SESSION_TTL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NOTION_BASE_URL", DefaultBaseURL)
	v.SetDefault("NOTION_API_VERSION", DefaultAPIVersion)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_DELAY", time.Second)
	v.SetDefault("RATE_LIMIT_DELAY", 5*time.Second)
	v.SetDefault("HTTP_TIMEOUT", time.Duration(0))
	v.SetDefault("PROGRESS_BACKEND", "file")
	v.SetDefault("PROGRESS_DIR", ".")
	v.SetDefault("PROGRESS_FORMAT", "json")
	v.SetDefault("SQLITE_PATH", "transfer_progress.db")
	v.SetDefault("MONGO_DATABASE", "notion_transfer")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "logs/notion_transfer.log")
	v.SetDefault("NOTIFY_EVERY", 10)
	v.SetDefault("WORKERS", 3)
	v.SetDefault("FORWARD_CHILDREN", false)
	v.SetDefault("SESSION_TTL", 30*time.Minute)
}

// Load reads .env (if present), then an optional config file, then the
// environment. Environment values win over the file.
func Load(configFile string) (*Config, error) {
	// A missing .env is the normal case in production.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ProgressBackend = strings.ToLower(cfg.ProgressBackend)
	cfg.ProgressFormat = strings.ToLower(cfg.ProgressFormat)
	return cfg, nil
}

// Validate checks the settings the transfer cannot run without. Credentials
// and database ids are checked separately by ValidateTransferInputs because
// the chat front end collects them interactively.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("NOTION_BASE_URL is empty"))
	}
	if c.APIVersion == "" {
		errs = append(errs, errors.New("NOTION_API_VERSION is empty"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 || c.RateLimitDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY and RATE_LIMIT_DELAY must not be negative"))
	}
	switch c.ProgressBackend {
	case "file":
		if c.ProgressFormat != "json" && c.ProgressFormat != "yaml" {
			errs = append(errs, fmt.Errorf("PROGRESS_FORMAT must be json or yaml, got %q", c.ProgressFormat))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case "mongo":
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROGRESS_BACKEND %q", c.ProgressBackend))
	}
	return errors.Join(errs...)
}

// ValidateTransferInputs reports which of the four transfer inputs are missing.
func (c *Config) ValidateTransferInputs() error {
	required := []struct{ name, value string }{
		{"ORIGIN_NOTION_TOKEN", c.OriginToken},
		{"DEST_NOTION_TOKEN", c.DestToken},
		{"ORIGIN_DATABASE_ID", c.OriginDatabaseID},
		{"DEST_DATABASE_ID", c.DestDatabaseID},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s (create a .env file from .env.example)", strings.Join(missing, ", "))
	}
	return nil
}

// Warnings returns non-fatal format problems with the transfer inputs.
func (c *Config) Warnings() []string {
	var warnings []string
	if !ValidToken(c.OriginToken) || !ValidToken(c.DestToken) {
		warnings = append(warnings, "token format does not look like a Notion integration token")
	}
	if !ValidDatabaseID(c.OriginDatabaseID) || !ValidDatabaseID(c.DestDatabaseID) {
		warnings = append(warnings, "database id format does not look like a Notion database id")
	}
	return warnings
}

// ValidToken is a rough shape check of an integration token.
func ValidToken(token string) bool {
	if !strings.HasPrefix(token, "secret_") && !strings.HasPrefix(token, "ntn_") {
		return false
	}
	return len(token) > 50
}

// ValidDatabaseID is a rough length check of a database id.
func ValidDatabaseID(id string) bool {
	return len(id) > 30
}
