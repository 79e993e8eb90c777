package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Server defaults.
const (
	DefaultPort             = "8080"
	DefaultSQLitePath       = "chatlet.db"
	DefaultNicknameTTL      = 2 * time.Minute
	DefaultHistoryLimit     = 50
	DefaultMessageRetention = 7 * 24 * time.Hour
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultMaxMessageLength = 2000
	DefaultSendBuffer       = 256
)

// Server holds the chat server's configuration.
type Server struct {
	Port     string
	Env      string
	LogLevel string

	StoreDriver string // memory, sqlite, postgres or redis
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	NicknameBackend string // memory or redis
	NicknameTTL     time.Duration

	HistoryLimit     int
	MessageRetention time.Duration
	CleanupInterval  time.Duration
	MaxMessageLength int
	SendBuffer       int
	AllowedOrigins   []string

	// Accounts maps session tokens to display names. Only the config file
	// can set it.
	Accounts map[string]string
}

// ServerFile is the layout of the optional TOML config file.
type ServerFile struct {
	Server   ServerSection     `toml:"server"`
	Accounts map[string]string `toml:"accounts"`
}

type ServerSection struct {
	Port             string   `toml:"port"`
	Env              string   `toml:"env"`
	LogLevel         string   `toml:"log_level"`
	StoreDriver      string   `toml:"store_driver"`
	DatabaseURL      string   `toml:"database_url"`
	SQLitePath       string   `toml:"sqlite_path"`
	RedisURL         string   `toml:"redis_url"`
	NicknameBackend  string   `toml:"nickname_backend"`
	NicknameTTL      string   `toml:"nickname_ttl"`
	HistoryLimit     int      `toml:"history_limit"`
	MessageRetention string   `toml:"message_retention"`
	CleanupInterval  string   `toml:"cleanup_interval"`
	MaxMessageLength int      `toml:"max_message_length"`
	SendBuffer       int      `toml:"send_buffer"`
	AllowedOrigins   []string `toml:"allowed_origins"`
}

// LoadServer reads configuration with the following priority:
// 1. Environment variables (a .env file in the working directory is loaded first)
// 2. The TOML file at path, if path is not empty
// 3. Hardcoded defaults
func LoadServer(path string) (*Server, error) {
	_ = godotenv.Load()

	var file ServerFile
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(content, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	f := file.Server

	cfg := &Server{
		Port:            getEnv("PORT", f.Port, DefaultPort),
		Env:             getEnv("ENV", f.Env, "development"),
		LogLevel:        getEnv("LOG_LEVEL", f.LogLevel, "info"),
		StoreDriver:     getEnv("STORE_DRIVER", f.StoreDriver, "memory"),
		DatabaseURL:     getEnv("DATABASE_URL", f.DatabaseURL, ""),
		SQLitePath:      getEnv("SQLITE_PATH", f.SQLitePath, DefaultSQLitePath),
		RedisURL:        getEnv("REDIS_URL", f.RedisURL, ""),
		NicknameBackend: getEnv("NICKNAME_BACKEND", f.NicknameBackend, "memory"),
		Accounts:        file.Accounts,
	}

	var err error
	if cfg.NicknameTTL, err = getEnvDuration("NICKNAME_TTL", f.NicknameTTL, DefaultNicknameTTL); err != nil {
		return nil, err
	}
	if cfg.MessageRetention, err = getEnvDuration("MESSAGE_RETENTION", f.MessageRetention, DefaultMessageRetention); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = getEnvDuration("CLEANUP_INTERVAL", f.CleanupInterval, DefaultCleanupInterval); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getEnvIntBounded("HISTORY_LIMIT", f.HistoryLimit, DefaultHistoryLimit, 1, 50); err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength, err = getEnvIntBounded("MAX_MESSAGE_LENGTH", f.MaxMessageLength, DefaultMaxMessageLength, 1, 64*1024); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = getEnvIntBounded("SEND_BUFFER", f.SendBuffer, DefaultSendBuffer, 1, 1<<16); err != nil {
		return nil, err
	}

	cfg.AllowedOrigins = f.AllowedOrigins
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every selected backend has what it needs.
func (c *Server) Validate() error {
	switch c.StoreDriver {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("STORE_DRIVER=sqlite requires SQLITE_PATH")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("STORE_DRIVER=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.NicknameBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("NICKNAME_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown NICKNAME_BACKEND %q", c.NicknameBackend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Server) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Server) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fileValue, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

func getEnvDuration(key, fileValue string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, fileValue, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// getEnvIntBounded clamps the configured value into [lo, hi].
func getEnvIntBounded(key string, fileValue, defaultValue, lo, hi int) (int, error) {
	n := defaultValue
	if fileValue != 0 {
		n = fileValue
	}
	if raw := os.Getenv(key); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		n = v
	}
	return max(lo, min(n, hi)), nil
}
