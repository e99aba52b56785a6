package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Config struct {
	HTTPAddr        string `yaml:"http_addr"`
	StorageBackend  string `yaml:"storage_backend"`
	DataDir         string `yaml:"data_dir"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	BlockJournalDSN string `yaml:"block_journal_dsn"`
	LogLevel        string `yaml:"log_level"`

	AdminAPIKey        string `yaml:"admin_api_key"`
	IssuancePolicyPath string `yaml:"issuance_policy_path"`

	RateLimitRequests      int  `yaml:"rate_limit_requests"`
	RateLimitWindowSeconds int  `yaml:"rate_limit_window_seconds"`
	RateLimitFailClosed    bool `yaml:"rate_limit_fail_closed"`
	RateLimitMaxKeys       int  `yaml:"rate_limit_max_keys"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:               ":8080",
		StorageBackend:         StorageMemory,
		DataDir:                ".",
		LogLevel:               "info",
		RateLimitWindowSeconds: 60,
		RateLimitMaxKeys:       10000,
	}
}

// Load reads .env and .env.local when present, applies the YAML file named by
// CREDLEDGER_CONFIG and then the process environment. Variables already set in
// the environment win over the dotenv files.
func Load() (Config, error) {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", name, err)
		}
	}
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CREDLEDGER_CONFIG")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv returns the defaults overridden by the process environment only.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envDefault("HTTP_ADDR", c.HTTPAddr)
	c.StorageBackend = strings.ToLower(envDefault("STORAGE_BACKEND", c.StorageBackend))
	c.DataDir = envDefault("DATA_DIR", c.DataDir)
	c.PostgresDSN = envDefault("POSTGRES_DSN", c.PostgresDSN)
	c.BlockJournalDSN = envDefault("BLOCK_JOURNAL_DSN", c.BlockJournalDSN)
	c.LogLevel = envDefault("LOG_LEVEL", c.LogLevel)
	c.AdminAPIKey = envDefault("ADMIN_API_KEY", c.AdminAPIKey)
	c.IssuancePolicyPath = envDefault("ISSUANCE_POLICY_PATH", c.IssuancePolicyPath)
	c.RateLimitRequests = envIntDefault("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindowSeconds = envIntDefault("RATE_LIMIT_WINDOW_SECONDS", c.RateLimitWindowSeconds)
	c.RateLimitFailClosed = envBoolDefault("RATE_LIMIT_FAIL_CLOSED", c.RateLimitFailClosed)
	c.RateLimitMaxKeys = envIntDefault("RATE_LIMIT_MAX_KEYS", c.RateLimitMaxKeys)
	c.RedisAddr = envDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envDefault("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envIntDefault("REDIS_DB", c.RedisDB)
}

func (c Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageFile:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("storage backend %q requires POSTGRES_DSN", c.StorageBackend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.RateLimitRequests < 0 || c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("invalid rate limit %d/%ds", c.RateLimitRequests, c.RateLimitWindowSeconds)
	}
	return nil
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
