package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("DB_AUTO_MIGRATE", "")
	t.Setenv("RATE_LIMIT_PER_MIN", "")
	cfg := Load()
	if cfg.HTTPPort != "8081" {
		t.Fatalf("port = %q", cfg.HTTPPort)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("rate limit = %d", cfg.RateLimitPerMin)
	}
	if !cfg.AutoMigrate {
		t.Fatal("auto migrate should default on")
	}
	if cfg.Production() {
		t.Fatal("dev env reported as production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("DEVICE_TTL", "30m")
	t.Setenv("RATE_LIMIT_PER_MIN", "7")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	cfg := Load()
	if !cfg.Production() {
		t.Fatal("expected production")
	}
	if cfg.DeviceTTL != 30*time.Minute {
		t.Fatalf("device ttl = %s", cfg.DeviceTTL)
	}
	if cfg.RateLimitPerMin != 7 {
		t.Fatalf("rate limit = %d", cfg.RateLimitPerMin)
	}
	if cfg.AutoMigrate {
		t.Fatal("auto migrate should be off")
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Fatalf("origins = %v", cfg.CORSOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("STAFF_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("DB_AUTO_MIGRATE", "maybe")
	cfg := Load()
	if cfg.StaffTTL != 8*time.Hour {
		t.Fatalf("staff ttl = %s", cfg.StaffTTL)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("rate limit = %d", cfg.RateLimitPerMin)
	}
	if !cfg.AutoMigrate {
		t.Fatal("invalid bool should fall back to true")
	}
}
