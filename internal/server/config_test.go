package server_test

import (
	"testing"
	"time"

	"github.com/haventalk/haven/internal/server"
)

// TestNewConfigDefaults verifies the built-in defaults.
func TestNewConfigDefaults(t *testing.T) {
	cfg := server.NewConfig()

	if cfg.TCPAddr != ":3000" || cfg.HTTPAddr != ":8080" {
		t.Errorf("addrs = %q, %q", cfg.TCPAddr, cfg.HTTPAddr)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
}

// TestNewConfigFromEnv verifies environment overrides and that junk values
// fall back to defaults instead of disabling limits.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("TCP_ADDR", ":4000")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, https://admin.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("SHUTDOWN_TIMEOUT", "-5")

	cfg := server.NewConfigFromEnv()

	if cfg.Env != "prod" || cfg.TCPAddr != ":4000" || cfg.HTTPAddr != ":9090" {
		t.Errorf("basic fields = %q, %q, %q", cfg.Env, cfg.TCPAddr, cfg.HTTPAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Errorf("Burst fell through to %d, want default 5", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("RefillInterval = %v", cfg.RateLimit.RefillInterval)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want default", cfg.ShutdownTimeout)
	}
}
