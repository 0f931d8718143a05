package security

import "time"

type Argon2Report struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SigningAlgorithm  string
	SignatureVerified bool
	SealedStorage     bool
	SessionTTL        time.Duration
	PINMaxAttempts    int
	PINLockDuration   time.Duration
	PINMinLength      int
	PINMaxLength      int
	Argon2            Argon2Report
	RefreshMaxRetries int
	OTPThrottleActive bool
	AuditActive       bool
	Warnings          []string
}

type ReportInput struct {
	SigningMethod     string
	EncryptionKeySet  bool
	SessionTTL        time.Duration
	PINMaxAttempts    int
	PINLockDuration   time.Duration
	PINMinLength      int
	PINMaxLength      int
	Argon2            Argon2Report
	RefreshMaxRetries int
	OTPResendCooldown time.Duration
	AuditEnabled      bool
}

// Thresholds past which BuildReport adds a warning.
const (
	longSessionTTL  = 30 * time.Minute
	weakArgonMemory = 19 * 1024
)

func BuildReport(input ReportInput) Report {
	alg := input.SigningMethod
	if alg == "" {
		alg = "none"
	}

	r := Report{
		SigningAlgorithm:  alg,
		SignatureVerified: input.SigningMethod != "",
		SealedStorage:     input.EncryptionKeySet,
		SessionTTL:        input.SessionTTL,
		PINMaxAttempts:    input.PINMaxAttempts,
		PINLockDuration:   input.PINLockDuration,
		PINMinLength:      input.PINMinLength,
		PINMaxLength:      input.PINMaxLength,
		Argon2:            input.Argon2,
		RefreshMaxRetries: input.RefreshMaxRetries,
		OTPThrottleActive: input.OTPResendCooldown > 0,
		AuditActive:       input.AuditEnabled,
	}

	if !r.SignatureVerified {
		r.Warnings = append(r.Warnings, "access token signatures are not verified")
	}
	if !r.SealedStorage {
		r.Warnings = append(r.Warnings, "stored values are not encrypted")
	}
	if r.SessionTTL > longSessionTTL {
		r.Warnings = append(r.Warnings, "session TTL exceeds 30m")
	}
	if r.Argon2.Memory < weakArgonMemory {
		r.Warnings = append(r.Warnings, "argon2 memory below 19 MiB")
	}
	if r.PINMinLength < 6 {
		r.Warnings = append(r.Warnings, "PINs shorter than 6 digits are allowed")
	}
	return r
}
