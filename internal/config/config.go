package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServerPort       string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBConnectRetries uint64
	DBConnectDelay   time.Duration
	RedisURL         string
	JWTSecret        string
	MessageKey       []byte
	AdminUsernames   []string
	Store            string
	ClientURL        string
	RateLimitPerMin  int
	LogLevel         string
}

// Load reads the configuration from the environment. Variables from a .env
// file in the working directory are loaded first and never override values
// already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "lobby"),
		DBPassword:     getEnv("DB_PASSWORD", "lobby_dev_password"),
		DBName:         getEnv("DB_NAME", "lobby"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		AdminUsernames: splitList(getEnv("ADMIN_USERNAMES", "")),
		Store:          getEnv("STORE", StorePostgres),
		ClientURL:      getEnv("CLIENT_URL", "http://localhost:3000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.DBConnectRetries, err = strconv.ParseUint(getEnv("DB_CONNECT_RETRIES", "20"), 10, 64); err != nil {
		return nil, fmt.Errorf("DB_CONNECT_RETRIES: %w", err)
	}
	if cfg.DBConnectDelay, err = time.ParseDuration(getEnv("DB_CONNECT_DELAY", "5s")); err != nil {
		return nil, fmt.Errorf("DB_CONNECT_DELAY: %w", err)
	}
	if cfg.RateLimitPerMin, err = strconv.Atoi(getEnv("RATE_LIMIT_PER_MIN", "60")); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MIN: %w", err)
	}
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("STORE: unknown store %q", cfg.Store)
	}

	key, ok := os.LookupEnv("MESSAGE_KEY")
	if !ok || key == "" {
		return nil, errors.New("MESSAGE_KEY is required")
	}
	if cfg.MessageKey, err = DecodeKey(key); err != nil {
		return nil, fmt.Errorf("MESSAGE_KEY: %w", err)
	}

	return cfg, nil
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// IsAdmin reports whether username is listed in ADMIN_USERNAMES.
func (c *Config) IsAdmin(username string) bool {
	for _, name := range c.AdminUsernames {
		if strings.EqualFold(name, username) {
			return true
		}
	}
	return false
}

// DecodeKey accepts a 32-byte key in hex or standard base64.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, errors.New("key must be 32 bytes, hex or base64 encoded")
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
