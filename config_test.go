package pinflow

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnvMatchesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("env defaults drifted from DefaultConfig:\n%+v\n%+v", cfg, DefaultConfig())
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("PINFLOW_SESSION_TTL", "10m")
	t.Setenv("PINFLOW_PIN_MAX_ATTEMPTS", "3")
	t.Setenv("PINFLOW_TRANSPORT_RETRY_DELAY", "1s")
	t.Setenv("PINFLOW_AUTHAPI_BASE_URL", "https://auth.example.com")
	t.Setenv("PINFLOW_OTP_TTL", "2m")
	t.Setenv("PINFLOW_AUDIT_ENABLED", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Session.TTL != 10*time.Minute || cfg.PIN.MaxAttempts != 3 || cfg.Transport.RetryDelay != time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.AuthAPI.BaseURL != "https://auth.example.com" || cfg.Flow.OTPTTL != 2*time.Minute || !cfg.Audit.Enabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnvRejects(t *testing.T) {
	t.Setenv("PINFLOW_SESSION_TTL", "soon")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unparsable duration, got %v", err)
	}

	t.Setenv("PINFLOW_SESSION_TTL", "0s")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero TTL, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }, "Session TTL"},
		{"no attempts", func(c *Config) { c.PIN.MaxAttempts = 0 }, "MaxAttempts"},
		{"too many attempts", func(c *Config) { c.PIN.MaxAttempts = 21 }, "MaxAttempts"},
		{"zero lock", func(c *Config) { c.PIN.LockDuration = 0 }, "LockDuration"},
		{"short pin", func(c *Config) { c.PIN.MinLength = 3 }, "MinLength"},
		{"max below min", func(c *Config) { c.PIN.MaxLength = 3 }, "MaxLength"},
		{"weak argon", func(c *Config) { c.PIN.Memory = 1024 }, "Memory"},
		{"negative buffer", func(c *Config) { c.Token.ExpiryBuffer = -time.Second }, "ExpiryBuffer"},
		{"unknown method", func(c *Config) { c.Token.SigningMethod = "rs256" }, "SigningMethod"},
		{"method without key", func(c *Config) { c.Token.SigningMethod = "hs256" }, "VerifyKey"},
		{"too many retries", func(c *Config) { c.Transport.MaxRetries = 11 }, "MaxRetries"},
		{"negative delay", func(c *Config) { c.Transport.RetryDelay = -1 }, "RetryDelay"},
		{"bad ratio", func(c *Config) { c.AuthAPI.BreakerFailureRatio = 0 }, "BreakerFailureRatio"},
		{"bad channel", func(c *Config) { c.Flow.OTPChannel = "pigeon" }, "OTPChannel"},
		{"bad prefix", func(c *Config) { c.Storage.KeyPrefix = "a:b" }, "KeyPrefix"},
		{"bad key", func(c *Config) { c.Storage.EncryptionKey = "zz" }, "EncryptionKey"},
		{"short key", func(c *Config) { c.Storage.EncryptionKey = "abcd" }, "32 bytes"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "Log Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LogConfig{})
	if err != nil || l == nil {
		t.Fatalf("NewLogger(disabled): %v", err)
	}
	l, err = NewLogger(LogConfig{Enabled: true, Level: "debug", Development: true})
	if err != nil || !l.Core().Enabled(levelFromString("debug")) {
		t.Fatalf("development logger should enable debug: %v", err)
	}
	l, err = NewLogger(LogConfig{Enabled: true, Level: "warn"})
	if err != nil || l.Core().Enabled(levelFromString("info")) {
		t.Fatalf("production logger should respect level: %v", err)
	}
}
