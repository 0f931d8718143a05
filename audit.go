package pinflow

import (
	"io"

	"github.com/MrEthical07/pinflow/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events on a channel.
type ChannelSink = audit.ChannelSink

// Audit event types.
const (
	AuditFlowInitiated        = audit.FlowInitiated
	AuditFlowTransition       = audit.FlowTransition
	AuditFlowCompleted        = audit.FlowCompleted
	AuditPinValidationSuccess = audit.PinValidationSuccess
	AuditPinValidationFailure = audit.PinValidationFailure
	AuditPinLocked            = audit.PinLocked
	AuditPinSet               = audit.PinSet
	AuditSessionCreated       = audit.SessionCreated
	AuditSessionLocked        = audit.SessionLocked
	AuditSessionVoided        = audit.SessionVoided
	AuditSessionExpired       = audit.SessionExpired
	AuditTokenRefreshSuccess  = audit.TokenRefreshSuccess
	AuditTokenRefreshFailure  = audit.TokenRefreshFailure
	AuditLogout               = audit.LogoutCompleted
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs audit events through logger.
func NewZapSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}
