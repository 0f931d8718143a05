package pinflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/pinflow/authapi"
	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/internal/audit"
	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/pin"
	"github.com/MrEthical07/pinflow/session"
	"github.com/MrEthical07/pinflow/token"
	"github.com/MrEthical07/pinflow/transport"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the client authentication core. It is safe for concurrent use.
type Engine struct {
	config       Config
	clock        clockwork.Clock
	logger       *zap.Logger
	store        kv.Store
	ownedRedis   *redis.Client
	pins         *pin.Service
	sessions     *session.Service
	manager      *token.Manager
	creds        *transport.Credentials
	auth         authapi.Service
	transport    *transport.Transport
	httpClient   *http.Client
	orchestrator *flow.Orchestrator
	audit        *audit.Dispatcher
	metrics      *Metrics

	background sync.WaitGroup
	closed     atomic.Bool
}

func (e *Engine) ready() error {
	if e == nil || e.orchestrator == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

/*
====================================
FLOWS
====================================
*/

// InitiateFlow starts a flow of typ and reports its first pending step.
func (e *Engine) InitiateFlow(ctx context.Context, typ flow.Type, initial flow.StepData) (flow.Instance, error) {
	if err := e.ready(); err != nil {
		return flow.Instance{}, err
	}
	return e.orchestrator.Initiate(ctx, typ, initial)
}

// DetermineNextStep applies payload at steps[currentIndex] and returns the next pending step.
func (e *Engine) DetermineNextStep(ctx context.Context, steps []flow.FlowStep, currentIndex int, data flow.StepData, payload flow.Payload) (flow.Transition, error) {
	if err := e.ready(); err != nil {
		return flow.Transition{}, err
	}
	return e.orchestrator.DetermineNextStep(ctx, steps, currentIndex, data, payload)
}

// Advance is DetermineNextStep over inst with audit and metrics.
func (e *Engine) Advance(ctx context.Context, inst flow.Instance, currentIndex int, data flow.StepData, payload flow.Payload) (flow.Transition, error) {
	if err := e.ready(); err != nil {
		return flow.Transition{}, err
	}
	return e.orchestrator.Advance(ctx, inst, currentIndex, data, payload)
}

// BuildFlowContext returns the facts the step conditions are evaluated against.
func (e *Engine) BuildFlowContext(ctx context.Context, data flow.StepData) (flow.Ctx, error) {
	if err := e.ready(); err != nil {
		return flow.Ctx{}, err
	}
	return e.orchestrator.BuildContext(ctx, data), nil
}

/*
====================================
SESSION
====================================
*/

// SessionStatus loads the persisted session and derives its status. An expired session is
// removed as a side effect.
func (e *Engine) SessionStatus(ctx context.Context) (session.Status, error) {
	if err := e.ready(); err != nil {
		return session.StatusInactive, err
	}
	sess, err := e.sessions.Load(ctx)
	if err != nil {
		return session.StatusInactive, err
	}
	return e.sessions.Status(sess), nil
}

// InitializeSession reconciles the session with the stored token: without a valid token
// the session is voided, with one a live session is kept or created.
func (e *Engine) InitializeSession(ctx context.Context) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.sessions.Initialize(ctx, e.tokenValid(ctx))
}

func (e *Engine) LoadSession(ctx context.Context) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.sessions.Load(ctx)
}

func (e *Engine) CreateSession(ctx context.Context) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.sessions.Create(ctx)
}

// LockSession locks sess, or the persisted session when sess is nil.
func (e *Engine) LockSession(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sess == nil {
		return e.sessions.LockCurrent(ctx)
	}
	return e.sessions.Lock(ctx, sess)
}

// OnBackground locks the current session so the next foreground requires the PIN.
func (e *Engine) OnBackground(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.sessions.LockCurrent(ctx)
	return err
}

// RecordActivity slides the expiry of an active session.
func (e *Engine) RecordActivity(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return sess, err
	}
	return e.sessions.RefreshActivity(ctx, sess)
}

/*
====================================
PIN
====================================
*/

func (e *Engine) ValidatePin(ctx context.Context, candidate string) (pin.Result, error) {
	if err := e.ready(); err != nil {
		return pin.Result{}, err
	}
	return e.pins.Validate(ctx, candidate)
}

// ValidatePinAndCreateSession checks candidate and starts a session when it is correct.
func (e *Engine) ValidatePinAndCreateSession(ctx context.Context, candidate string) session.PinSessionResult {
	if err := e.ready(); err != nil {
		return session.PinSessionResult{Error: "PIN verification is unavailable.", Err: err}
	}
	return e.sessions.ValidatePinAndCreate(ctx, candidate)
}

// ChangePin replaces the PIN after verifying current. A wrong current PIN counts as a
// failed attempt.
func (e *Engine) ChangePin(ctx context.Context, current, next string) (pin.Result, error) {
	if err := e.ready(); err != nil {
		return pin.Result{}, err
	}
	return e.pins.Change(ctx, current, next)
}

// PinState reports attempts and lock status without consuming an attempt.
func (e *Engine) PinState(ctx context.Context) (pin.Result, error) {
	if err := e.ready(); err != nil {
		return pin.Result{}, err
	}
	return e.pins.State(ctx)
}

/*
====================================
TOKENS / LOGOUT
====================================
*/

// TokenValid reports whether the stored access token is usable.
func (e *Engine) TokenValid(ctx context.Context) bool {
	if e.ready() != nil {
		return false
	}
	return e.tokenValid(ctx)
}

func (e *Engine) tokenValid(ctx context.Context) bool {
	pair, err := e.creds.Current(ctx)
	if err != nil {
		return false
	}
	return e.manager.Valid(pair.AccessToken)
}

// Logout revokes tokens server-side in the background, then clears them locally and voids
// the session. The PIN stays on the device unless wipePin is set.
func (e *Engine) Logout(ctx context.Context, wipePin bool) error {
	if err := e.ready(); err != nil {
		return err
	}

	pair, err := e.creds.Current(ctx)
	if err == nil && pair.AccessToken != "" {
		e.background.Add(1)
		go e.serverLogout(transport.WithPinnedToken(context.WithoutCancel(ctx), pair.AccessToken))
	}

	var errs []error
	if err := e.creds.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	e.sessions.Void(ctx)
	if wipePin {
		if err := e.pins.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{
		EventType: audit.LogoutCompleted,
		Success:   len(errs) == 0,
		Metadata:  map[string]string{"wipe_pin": strconv.FormatBool(wipePin)},
	})
	return errors.Join(errs...)
}

func (e *Engine) serverLogout(ctx context.Context) {
	defer e.background.Done()
	ctx, cancel := context.WithTimeout(ctx, e.config.AuthAPI.LogoutTimeout)
	defer cancel()
	if err := e.auth.Logout(ctx); err != nil {
		e.logger.Debug("server logout failed", zap.Error(err))
	}
}

// onRefreshFailure ends the local login: the user has to authenticate again.
func (e *Engine) onRefreshFailure(ctx context.Context, err error) {
	e.logger.Warn("refresh failed; clearing credentials", zap.Error(err))
	if cerr := e.creds.Clear(ctx); cerr != nil {
		e.logger.Warn("credentials not cleared", zap.Error(cerr))
	}
	e.sessions.Void(ctx)
}

/*
====================================
HTTP
====================================
*/

// HTTPClient returns a client that authenticates requests with the stored access token and
// refreshes it on 401/403. A failed refresh surfaces as [ErrSessionExpired].
func (e *Engine) HTTPClient() *http.Client {
	if e == nil {
		return nil
	}
	return e.httpClient
}

// Transport returns the underlying refreshing round tripper.
func (e *Engine) Transport() *transport.Transport {
	if e == nil {
		return nil
	}
	return e.transport
}

type expiredSessionTransport struct {
	next http.RoundTripper
}

func (t expiredSessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil && errors.Is(err, transport.ErrRefreshFailed) {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return resp, err
}

/*
====================================
INTROSPECTION / LIFECYCLE
====================================
*/

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close waits for background logouts, drains the audit dispatcher and closes a Redis
// client the engine created itself.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.background.Wait()
	e.audit.Close()
	if e.ownedRedis != nil {
		_ = e.ownedRedis.Close()
	}
}
