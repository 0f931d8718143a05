package pinflow

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/internal/audit"
	"github.com/MrEthical07/pinflow/pin"
	"github.com/MrEthical07/pinflow/session"
)

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, event)
}

// observeFlow maps orchestrator events onto metrics and the audit trail.
func (e *Engine) observeFlow(ctx context.Context, ev flow.Event) {
	var kind string
	switch ev.Kind {
	case flow.EventInitiated:
		kind = audit.FlowInitiated
		e.metrics.Inc(MetricFlowInitiated)
	case flow.EventCompleted:
		kind = audit.FlowCompleted
		e.metrics.Inc(MetricFlowCompleted)
	default:
		kind = audit.FlowTransition
		e.metrics.Inc(MetricFlowTransition)
	}
	if ev.Rejected {
		e.metrics.Inc(MetricFlowRejected)
	}

	meta := map[string]string{"outcome": ev.Outcome.String()}
	if ev.From != "" {
		meta["from"] = string(ev.From)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: kind,
		FlowID:    ev.FlowID,
		FlowType:  string(ev.Type),
		Step:      string(ev.To),
		DeviceID:  ev.DeviceID,
		Success:   !ev.Rejected,
		Metadata:  meta,
	})
}

func (e *Engine) observePin(ctx context.Context, kind pin.EventKind, res pin.Result) {
	event := AuditEvent{Metadata: map[string]string{"attempts_remaining": strconv.Itoa(res.AttemptsRemaining)}}
	switch kind {
	case pin.EventSuccess:
		event.EventType = audit.PinValidationSuccess
		event.Success = true
		e.metrics.Inc(MetricPinValidationSuccess)
	case pin.EventFailure:
		event.EventType = audit.PinValidationFailure
		e.metrics.Inc(MetricPinValidationFailure)
	case pin.EventLocked:
		event.EventType = audit.PinLocked
		if res.LockUntil != nil {
			event.Metadata["lock_until"] = res.LockUntil.UTC().Format(time.RFC3339)
		}
		e.metrics.Inc(MetricPinLocked)
	case pin.EventSet:
		event.EventType = audit.PinSet
		event.Success = true
		event.Metadata = nil
		e.metrics.Inc(MetricPinSet)
	default:
		return
	}
	e.emitAudit(ctx, event)
}

func (e *Engine) observeSession(ctx context.Context, kind session.EventKind) {
	switch kind {
	case session.EventCreated:
		e.metrics.Inc(MetricSessionCreated)
		e.emitAudit(ctx, AuditEvent{EventType: audit.SessionCreated, Success: true})
	case session.EventLocked:
		e.metrics.Inc(MetricSessionLocked)
		e.emitAudit(ctx, AuditEvent{EventType: audit.SessionLocked, Success: true})
	case session.EventVoided:
		e.metrics.Inc(MetricSessionVoided)
		e.emitAudit(ctx, AuditEvent{EventType: audit.SessionVoided, Success: true})
	case session.EventExpired:
		e.metrics.Inc(MetricSessionExpired)
		e.emitAudit(ctx, AuditEvent{EventType: audit.SessionExpired, Success: true})
	case session.EventCorrupt:
		e.metrics.Inc(MetricSessionCorrupt)
		e.emitAudit(ctx, AuditEvent{EventType: audit.SessionVoided, Error: "corrupt record"})
	}
}

func (e *Engine) observeRefresh(ctx context.Context, took time.Duration, err error) {
	e.metrics.Observe(MetricRefreshLatency, took)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditEvent{EventType: audit.TokenRefreshFailure, Error: err.Error()})
		return
	}
	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{EventType: audit.TokenRefreshSuccess, Success: true})
}
