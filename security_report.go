package pinflow

import (
	"strings"

	"github.com/MrEthical07/pinflow/internal/security"
)

// SecurityReport summarizes the engine's security posture.
type SecurityReport = security.Report

// SecurityReport derives a posture summary from the engine configuration, including
// warnings for weak settings.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		SigningMethod:    strings.ToLower(c.Token.SigningMethod),
		EncryptionKeySet: c.Storage.EncryptionKey != "",
		SessionTTL:       c.Session.TTL,
		PINMaxAttempts:   c.PIN.MaxAttempts,
		PINLockDuration:  c.PIN.LockDuration,
		PINMinLength:     c.PIN.MinLength,
		PINMaxLength:     c.PIN.MaxLength,
		Argon2: security.Argon2Report{
			Memory:      c.PIN.Memory,
			Time:        c.PIN.Time,
			Parallelism: c.PIN.Parallelism,
			SaltLength:  c.PIN.SaltLength,
			KeyLength:   c.PIN.KeyLength,
		},
		RefreshMaxRetries: c.Transport.MaxRetries,
		OTPResendCooldown: c.AuthAPI.OTPResendCooldown,
		AuditEnabled:      c.Audit.Enabled,
	})
}
