package security

import (
	"slices"
	"testing"
	"time"
)

func TestBuildReportHardened(t *testing.T) {
	r := BuildReport(ReportInput{
		SigningMethod:     "ed25519",
		EncryptionKeySet:  true,
		SessionTTL:        5 * time.Minute,
		PINMaxAttempts:    5,
		PINLockDuration:   5 * time.Minute,
		PINMinLength:      6,
		PINMaxLength:      6,
		Argon2:            Argon2Report{Memory: 64 * 1024, Time: 3, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		OTPResendCooldown: 30 * time.Second,
	})

	if !r.SignatureVerified || !r.SealedStorage || !r.OTPThrottleActive {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	r := BuildReport(ReportInput{
		SessionTTL:   time.Hour,
		PINMinLength: 4,
		Argon2:       Argon2Report{Memory: 8 * 1024},
	})

	if r.SigningAlgorithm != "none" || r.SignatureVerified {
		t.Fatalf("expected unverified tokens, got %+v", r)
	}
	for _, want := range []string{
		"access token signatures are not verified",
		"stored values are not encrypted",
		"session TTL exceeds 30m",
		"argon2 memory below 19 MiB",
		"PINs shorter than 6 digits are allowed",
	} {
		if !slices.Contains(r.Warnings, want) {
			t.Fatalf("missing warning %q in %v", want, r.Warnings)
		}
	}
}
