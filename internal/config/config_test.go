package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "STORAGE_BACKEND", "RATE_LIMIT_WINDOW_SECONDS", "REDIS_DB"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" || cfg.StorageBackend != StorageMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimitWindow().Seconds() != 60 {
		t.Fatalf("expected 60s window, got %s", cfg.RateLimitWindow())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("STORAGE_BACKEND", "FILE")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_FAIL_CLOSED", "yes")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := FromEnv()
	if cfg.HTTPAddr != ":9999" || cfg.StorageBackend != StorageFile {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RateLimitRequests != 5 || !cfg.RateLimitFailClosed {
		t.Fatalf("unexpected rate limit config: %+v", cfg)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected invalid int to fall back, got %d", cfg.RedisDB)
	}
}

func TestLoadYAMLOverlayBelowEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credledger.yaml")
	content := "http_addr: \":7000\"\nstorage_backend: file\ndata_dir: /var/lib/credledger\nrate_limit_requests: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CREDLEDGER_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":7001")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("RATE_LIMIT_REQUESTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7001" {
		t.Fatalf("expected env to win, got %q", cfg.HTTPAddr)
	}
	if cfg.StorageBackend != StorageFile || cfg.DataDir != "/var/lib/credledger" || cfg.RateLimitRequests != 3 {
		t.Fatalf("expected yaml values, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.StorageBackend = "s3" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageBackend = StoragePostgres }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.StorageBackend = StoragePostgres
			c.PostgresDSN = "postgres://localhost/credledger"
		}},
		{name: "zero window", mutate: func(c *Config) { c.RateLimitWindowSeconds = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("validate err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
