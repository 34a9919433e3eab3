package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// StorageBackend selects where read state is persisted.
type StorageBackend string

const (
	StorageSQLite StorageBackend = "sqlite"
	StorageRedis  StorageBackend = "redis"

	DefaultAPIBaseURL  = "http://localhost:8000"
	DefaultRealtimeURL = "ws://localhost:8001"
	DefaultKeyPrefix   = "roomsync:"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvAPIURL   = "ROOMSYNC_API_URL"
	EnvWSURL    = "ROOMSYNC_WS_URL"
	EnvRedisURL = "ROOMSYNC_REDIS_URL"
	EnvLogLevel = "ROOMSYNC_LOG_LEVEL"
)

// ServerConfig points at the chat server.
type ServerConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	RealtimeURL string `json:"realtime_url"`
}

// StorageConfig defines where read cursors and unread counters live.
type StorageConfig struct {
	Backend   StorageBackend `json:"backend"`
	RedisURL  string         `json:"redis_url"`
	KeyPrefix string         `json:"key_prefix"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
	Format    string `json:"format"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled         bool `json:"enabled"`
	IncomingMessage bool `json:"incoming_message"`
}

// UIConfig stores persistent presentation preferences.
type UIConfig struct {
	LastSelectedRoom int64 `json:"last_selected_room"`
}

// AppConfig is the root persisted application configuration. The bearer
// credential is deliberately absent.
type AppConfig struct {
	Server        ServerConfig       `json:"server"`
	Storage       StorageConfig      `json:"storage"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
	UI            UIConfig           `json:"ui"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			APIBaseURL:  DefaultAPIBaseURL,
			RealtimeURL: DefaultRealtimeURL,
		},
		Storage: StorageConfig{
			Backend:   StorageSQLite,
			KeyPrefix: DefaultKeyPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: LogFormatText,
		},
		Notifications: NotificationConfig{
			Enabled:         true,
			IncomingMessage: true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if strings.TrimSpace(c.Server.APIBaseURL) == "" {
		c.Server.APIBaseURL = DefaultAPIBaseURL
	}
	if strings.TrimSpace(c.Server.RealtimeURL) == "" {
		c.Server.RealtimeURL = DefaultRealtimeURL
	}
	switch StorageBackend(strings.ToLower(string(c.Storage.Backend))) {
	case StorageRedis:
		c.Storage.Backend = StorageRedis
	default:
		c.Storage.Backend = StorageSQLite
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = DefaultKeyPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format != LogFormatJSON {
		c.Logging.Format = LogFormatText
	}
	if c.UI.LastSelectedRoom < 0 {
		c.UI.LastSelectedRoom = 0
	}
}

// ApplyEnv overrides fields from environment variables read through getenv.
func ApplyEnv(c *AppConfig, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvAPIURL)); v != "" {
		c.Server.APIBaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvWSURL)); v != "" {
		c.Server.RealtimeURL = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisURL)); v != "" {
		c.Storage.Backend = StorageRedis
		c.Storage.RedisURL = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
}

func (c AppConfig) Validate() error {
	if err := validateURL(c.Server.APIBaseURL, "api base url", "http", "https"); err != nil {
		return err
	}
	if err := validateURL(c.Server.RealtimeURL, "realtime url", "ws", "wss", "http", "https"); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case StorageSQLite:
	case StorageRedis:
		if strings.TrimSpace(c.Storage.RedisURL) == "" {
			return errors.New("redis url is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}

	return nil
}

func validateURL(raw, name string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host", name, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return fmt.Errorf("%s %q must use one of %s", name, raw, strings.Join(schemes, ", "))
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
