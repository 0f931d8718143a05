package pinflow

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix is prepended to every environment variable read by [LoadConfigFromEnv].
const EnvPrefix = "PINFLOW_"

// Config is the complete engine configuration. Treat it as immutable once passed to
// [Builder.WithConfig].
type Config struct {
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	PIN       PINConfig       `envPrefix:"PIN_"`
	Token     TokenConfig     `envPrefix:"TOKEN_"`
	Transport TransportConfig `envPrefix:"TRANSPORT_"`
	AuthAPI   AuthAPIConfig   `envPrefix:"AUTHAPI_"`
	Flow      FlowConfig
	Audit     AuditConfig   `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig `envPrefix:"METRICS_"`
	Log       LogConfig     `envPrefix:"LOG_"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig selects the secure key-value backend.
type StorageConfig struct {
	// KeyPrefix namespaces every persisted key.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"pinflow"`
	// RedisAddr is used by Build when no store or client was supplied.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	// EncryptionKey is a hex-encoded 32-byte key. When set, values are sealed before storage.
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

/*
====================================
SESSION / PIN CONFIG
====================================
*/

// SessionConfig controls the device session lifetime.
type SessionConfig struct {
	TTL time.Duration `env:"TTL" envDefault:"5m"`
}

// PINConfig controls lockout and hashing.
type PINConfig struct {
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	LockDuration time.Duration `env:"LOCK_DURATION" envDefault:"5m"`
	MinLength    int           `env:"MIN_LENGTH" envDefault:"4"`
	MaxLength    int           `env:"MAX_LENGTH" envDefault:"6"`

	Memory      uint32 `env:"ARGON_MEMORY" envDefault:"19456"` // KiB
	Time        uint32 `env:"ARGON_TIME" envDefault:"2"`
	Parallelism uint8  `env:"ARGON_PARALLELISM" envDefault:"1"`
	SaltLength  uint32 `env:"ARGON_SALT_LENGTH" envDefault:"16"`
	KeyLength   uint32 `env:"ARGON_KEY_LENGTH" envDefault:"32"`
}

/*
====================================
TOKEN / TRANSPORT CONFIG
====================================
*/

// TokenConfig controls access token validity checks.
type TokenConfig struct {
	// ExpiryBuffer treats a token as expired this long before its exp claim.
	ExpiryBuffer time.Duration `env:"EXPIRY_BUFFER" envDefault:"30s"`
	// SigningMethod is "", "hs256" or "ed25519". Empty decodes without verifying signatures.
	SigningMethod string `env:"SIGNING_METHOD"`
	// VerifyKey is the HS256 secret or the Ed25519 public key (raw or PEM).
	VerifyKey string `env:"VERIFY_KEY"`
	Issuer    string `env:"ISSUER"`
	Audience  string `env:"AUDIENCE"`
}

// TransportConfig controls the refreshing HTTP transport.
type TransportConfig struct {
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"1"`
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"250ms"`
	// RequestTimeout bounds each call made through [Engine.HTTPClient].
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

/*
====================================
AUTH API / FLOW CONFIG
====================================
*/

// AuthAPIConfig configures the HTTP auth service client.
type AuthAPIConfig struct {
	BaseURL             string        `env:"BASE_URL"`
	Timeout             time.Duration `env:"TIMEOUT" envDefault:"15s"`
	OTPResendCooldown   time.Duration `env:"OTP_RESEND_COOLDOWN" envDefault:"30s"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerMinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	// LogoutTimeout bounds the best-effort server logout fired by [Engine.Logout].
	LogoutTimeout time.Duration `env:"LOGOUT_TIMEOUT" envDefault:"10s"`
}

// FlowConfig controls step handler defaults.
type FlowConfig struct {
	OTPTTL time.Duration `env:"OTP_TTL" envDefault:"5m"`
	// OTPChannel is used for phone OTPs when the caller names none: sms or whatsapp.
	OTPChannel string `env:"OTP_CHANNEL" envDefault:"sms"`
}

/*
====================================
AMBIENT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED" envDefault:"false"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"1024"`
	DropIfFull bool `env:"DROP_IF_FULL" envDefault:"true"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED" envDefault:"false"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS" envDefault:"false"`
}

// LogConfig controls the logger built when none is supplied.
type LogConfig struct {
	Enabled     bool   `env:"ENABLED" envDefault:"false"`
	Level       string `env:"LEVEL" envDefault:"info"`
	Development bool   `env:"DEVELOPMENT" envDefault:"false"`
}

// DefaultConfig returns a working configuration. It matches [LoadConfigFromEnv] with no
// variables set.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			KeyPrefix: "pinflow",
		},
		Session: SessionConfig{
			TTL: 5 * time.Minute,
		},
		PIN: PINConfig{
			MaxAttempts:  5,
			LockDuration: 5 * time.Minute,
			MinLength:    4,
			MaxLength:    6,
			Memory:       19456,
			Time:         2,
			Parallelism:  1,
			SaltLength:   16,
			KeyLength:    32,
		},
		Token: TokenConfig{
			ExpiryBuffer: 30 * time.Second,
		},
		Transport: TransportConfig{
			MaxRetries:     1,
			RetryDelay:     250 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
		},
		AuthAPI: AuthAPIConfig{
			Timeout:             15 * time.Second,
			OTPResendCooldown:   30 * time.Second,
			BreakerTimeout:      30 * time.Second,
			BreakerMinRequests:  5,
			BreakerFailureRatio: 0.5,
			LogoutTimeout:       10 * time.Second,
		},
		Flow: FlowConfig{
			OTPTTL:     5 * time.Minute,
			OTPChannel: "sms",
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfigFromEnv reads PINFLOW_* variables over the defaults and validates the result.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints. Every error wraps [ErrConfig].
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.KeyPrefix) == "" {
		return configError("Storage KeyPrefix must not be empty")
	}
	if strings.Contains(c.Storage.KeyPrefix, ":") {
		return configError("Storage KeyPrefix must not contain ':'")
	}
	if c.Storage.EncryptionKey != "" {
		if _, err := c.Storage.encryptionKey(); err != nil {
			return err
		}
	}

	if c.Session.TTL <= 0 {
		return configError("Session TTL must be > 0")
	}

	if c.PIN.MaxAttempts < 1 || c.PIN.MaxAttempts > 20 {
		return configError("PIN MaxAttempts must be between 1 and 20")
	}
	if c.PIN.LockDuration <= 0 {
		return configError("PIN LockDuration must be > 0")
	}
	if c.PIN.MinLength < 4 {
		return configError("PIN MinLength must be >= 4")
	}
	if c.PIN.MaxLength < c.PIN.MinLength || c.PIN.MaxLength > 12 {
		return configError("PIN MaxLength must be between MinLength and 12")
	}
	if c.PIN.Memory < 8*1024 {
		return configError("PIN Argon2 Memory must be >= 8192 KiB")
	}
	if c.PIN.Time < 1 || c.PIN.Parallelism < 1 {
		return configError("PIN Argon2 Time and Parallelism must be >= 1")
	}
	if c.PIN.SaltLength < 16 || c.PIN.KeyLength < 16 {
		return configError("PIN Argon2 SaltLength and KeyLength must be >= 16")
	}

	if c.Token.ExpiryBuffer < 0 {
		return configError("Token ExpiryBuffer must be >= 0")
	}
	switch strings.ToLower(c.Token.SigningMethod) {
	case "":
	case "hs256", "ed25519":
		if c.Token.VerifyKey == "" {
			return configError("Token VerifyKey is required when SigningMethod is set")
		}
	default:
		return configError("Token SigningMethod must be empty, 'hs256' or 'ed25519'")
	}

	if c.Transport.MaxRetries < 0 || c.Transport.MaxRetries > 10 {
		return configError("Transport MaxRetries must be between 0 and 10")
	}
	if c.Transport.RetryDelay < 0 {
		return configError("Transport RetryDelay must be >= 0")
	}
	if c.Transport.RequestTimeout <= 0 {
		return configError("Transport RequestTimeout must be > 0")
	}

	if c.AuthAPI.Timeout <= 0 {
		return configError("AuthAPI Timeout must be > 0")
	}
	if c.AuthAPI.OTPResendCooldown < 0 {
		return configError("AuthAPI OTPResendCooldown must be >= 0")
	}
	if c.AuthAPI.BreakerFailureRatio <= 0 || c.AuthAPI.BreakerFailureRatio > 1 {
		return configError("AuthAPI BreakerFailureRatio must be in (0, 1]")
	}
	if c.AuthAPI.LogoutTimeout <= 0 {
		return configError("AuthAPI LogoutTimeout must be > 0")
	}

	if c.Flow.OTPTTL <= 0 {
		return configError("Flow OTPTTL must be > 0")
	}
	switch c.Flow.OTPChannel {
	case "sms", "whatsapp":
	default:
		return configError("Flow OTPChannel must be 'sms' or 'whatsapp'")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configError("Audit BufferSize must be > 0 when enabled")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return configError("Log Level must be debug, info, warn or error")
	}
	return nil
}

func (s StorageConfig) encryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, configError("Storage EncryptionKey must be hex encoded")
	}
	if len(key) != 32 {
		return nil, configError("Storage EncryptionKey must decode to 32 bytes")
	}
	return key, nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfig, msg)
}
