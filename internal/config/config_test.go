package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.Security.TokenTTL)
	}
	if cfg.Security.ResetTokenTTL != time.Hour {
		t.Fatalf("expected 1h reset ttl, got %s", cfg.Security.ResetTokenTTL)
	}
	if cfg.Database.Driver != "mysql" || cfg.Storage.Driver != "local" {
		t.Fatalf("unexpected drivers: %s %s", cfg.Database.Driver, cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFileWithDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"app": {"env": "local", "http_addr": ":8080"},
		"database": {"driver": "sqlite", "dsn": "data/blog.db"},
		"security": {"jwt_secret": "file-secret", "token_ttl": "2h", "reset_token_ttl": "15m"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.App.HTTPAddr)
	}
	if cfg.Security.TokenTTL != 2*time.Hour || cfg.Security.ResetTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl %s / %s", cfg.Security.TokenTTL, cfg.Security.ResetTokenTTL)
	}
	if cfg.Security.BcryptCost != 10 {
		t.Fatalf("expected default bcrypt cost, got %d", cfg.Security.BcryptCost)
	}
	if cfg.Database.DSN != "data/blog.db" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"security": {"token_ttl": "soon"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_HTTP_ADDR", ":9999")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "blog_test")
	t.Setenv("STORAGE_DRIVER", "minio")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":9999" {
		t.Fatalf("unexpected addr %q", cfg.App.HTTPAddr)
	}
	if cfg.Security.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.Security.TokenTTL)
	}
	if !strings.Contains(cfg.Database.DSN, "tcp(db.internal:3306)/blog_test") {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Storage.Driver != "minio" {
		t.Fatalf("unexpected storage driver %q", cfg.Storage.Driver)
	}
}

func TestValidateProdSecret(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.App.Env = "prod"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected dev secret to be rejected in prod")
	}

	cfg.Security.JWTSecret = "too-short"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected short secret to be rejected in prod")
	}

	cfg.Security.JWTSecret = strings.Repeat("k", 32)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid prod config: %v", err)
	}
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}
