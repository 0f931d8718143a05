package pinflow

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/session"
)

func TestBuildRequiresStorageAndAuthService(t *testing.T) {
	cfg := testConfig()
	cfg.AuthAPI.BaseURL = "http://127.0.0.1:1"
	if _, err := New().WithConfig(cfg).Build(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without storage, got %v", err)
	}

	cfg.AuthAPI.BaseURL = ""
	if _, err := New().WithConfig(cfg).WithStore(kv.NewMemoryStore()).Build(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without auth service, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	cfg := testConfig()
	cfg.AuthAPI.BaseURL = "http://127.0.0.1:1"
	b := New().WithConfig(cfg).WithStore(kv.NewMemoryStore())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestClosedEngineNotReady(t *testing.T) {
	h := newHarness(t)
	h.engine.Close()
	if _, err := h.engine.InitiateFlow(context.Background(), flow.TypeSignIn, flow.StepData{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	var nilEngine *Engine
	if _, err := nilEngine.SessionStatus(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady on nil engine, got %v", err)
	}
}

func TestSignUpThenCallAPI(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tr := h.signUp(t)
	if !tr.Ctx.TokenValid || !tr.Ctx.PinSet || !tr.Ctx.SessionActive {
		t.Fatalf("unexpected final context %+v", tr.Ctx)
	}
	status, err := h.engine.SessionStatus(ctx)
	if err != nil || status != session.StatusActive {
		t.Fatalf("status = %v err=%v", status, err)
	}

	resp, err := h.engine.HTTPClient().Get(h.server.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricFlowCompleted] != 1 || snap.Counters[MetricPinSet] != 1 || snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}

	types := h.drainAudit()
	for _, want := range []string{AuditFlowInitiated, AuditFlowTransition, AuditPinSet, AuditSessionCreated, AuditFlowCompleted} {
		if !slices.Contains(types, want) {
			t.Fatalf("audit trail missing %s: %v", want, types)
		}
	}
	if types[0] != AuditFlowInitiated || types[len(types)-1] != AuditFlowCompleted {
		t.Fatalf("audit trail out of order: %v", types)
	}
}

func TestRevokedAccessIsRefreshedOnce(t *testing.T) {
	h := newHarness(t)
	h.signUp(t)
	h.server.RevokeAccess()

	resp, err := h.engine.HTTPClient().Get(h.server.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after refresh = %d", resp.StatusCode)
	}
	if h.server.RefreshCalls() != 1 {
		t.Fatalf("refresh calls = %d", h.server.RefreshCalls())
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricRefreshSuccess]; got != 1 {
		t.Fatalf("refresh success metric = %d", got)
	}
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t)
	h.server.RevokeAccess()
	h.server.FailRefresh(true)

	_, err := h.engine.HTTPClient().Get(h.server.URL + "/api/me")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if h.engine.TokenValid(ctx) {
		t.Fatal("tokens should be cleared after a failed refresh")
	}
	status, err := h.engine.SessionStatus(ctx)
	if err != nil || status != session.StatusInactive {
		t.Fatalf("status = %v err=%v", status, err)
	}

	c, err := h.engine.BuildFlowContext(ctx, flow.StepData{})
	if err != nil {
		t.Fatalf("BuildFlowContext: %v", err)
	}
	if c.TokenValid || !c.PinSet {
		t.Fatalf("expected signed-out device with PIN kept, got %+v", c)
	}

	types := h.drainAudit()
	if !slices.Contains(types, AuditTokenRefreshFailure) || !slices.Contains(types, AuditSessionVoided) {
		t.Fatalf("audit trail missing refresh failure: %v", types)
	}
}

func TestBackgroundLocksUntilPin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t)

	if err := h.engine.OnBackground(ctx); err != nil {
		t.Fatalf("OnBackground: %v", err)
	}
	if status, _ := h.engine.SessionStatus(ctx); status != session.StatusLocked {
		t.Fatalf("status = %v", status)
	}

	inst, err := h.engine.InitiateFlow(ctx, flow.TypeSignIn, flow.StepData{})
	if err != nil {
		t.Fatalf("InitiateFlow: %v", err)
	}
	if inst.InitialStep != flow.StepPINEntryPending {
		t.Fatalf("expected pin entry, got %s", inst.InitialStep)
	}

	res := h.engine.ValidatePinAndCreateSession(ctx, "9999")
	if res.Valid || res.Error != "Incorrect PIN. 4 attempts remaining." {
		t.Fatalf("unexpected result %+v", res)
	}
	res = h.engine.ValidatePinAndCreateSession(ctx, testPIN)
	if !res.Valid || res.Session == nil {
		t.Fatalf("expected session, got %+v", res)
	}
	if status, _ := h.engine.SessionStatus(ctx); status != session.StatusActive {
		t.Fatalf("status = %v", status)
	}
	state, err := h.engine.PinState(ctx)
	if err != nil || state.AttemptsRemaining != 5 {
		t.Fatalf("attempts not reset: %+v err=%v", state, err)
	}
}

func TestChangePin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t)

	if _, err := h.engine.ChangePin(ctx, "0000", "2468"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := h.engine.ChangePin(ctx, testPIN, "2468"); err != nil {
		t.Fatalf("ChangePin: %v", err)
	}
	res, err := h.engine.ValidatePin(ctx, "2468")
	if err != nil || !res.Valid {
		t.Fatalf("new PIN rejected: %+v err=%v", res, err)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t)

	if err := h.engine.Logout(ctx, false); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.engine.TokenValid(ctx) {
		t.Fatal("tokens should be cleared")
	}
	c, _ := h.engine.BuildFlowContext(ctx, flow.StepData{})
	if c.SessionActive || !c.PinSet {
		t.Fatalf("expected PIN kept and session gone, got %+v", c)
	}

	if err := h.engine.Logout(ctx, true); err != nil {
		t.Fatalf("Logout(wipe): %v", err)
	}
	c, _ = h.engine.BuildFlowContext(ctx, flow.StepData{})
	if c.PinSet {
		t.Fatal("PIN should be wiped")
	}

	types := h.drainAudit()
	if h.server.LogoutCalls() != 1 {
		t.Fatalf("server logout calls = %d", h.server.LogoutCalls())
	}
	if !slices.Contains(types, AuditLogout) {
		t.Fatalf("audit trail missing logout: %v", types)
	}
}

func TestInitializeSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.engine.InitializeSession(ctx)
	if err != nil || sess != nil {
		t.Fatalf("expected no session without a token, got %+v err=%v", sess, err)
	}

	h.signUp(t)
	if _, err := h.engine.LockSession(ctx, nil); err != nil {
		t.Fatalf("LockSession: %v", err)
	}
	sess, err = h.engine.InitializeSession(ctx)
	if err != nil || sess == nil || sess.IsActive {
		t.Fatalf("expected the locked session to be kept, got %+v err=%v", sess, err)
	}
}

func TestSealedStorageHidesValues(t *testing.T) {
	h := newHarness(t)
	h.engine.Close()

	mem := kv.NewMemoryStore()
	cfg := testConfig()
	cfg.AuthAPI.BaseURL = h.server.URL
	cfg.Storage.EncryptionKey = strings.Repeat("ab", 32)
	e, err := New().WithConfig(cfg).WithStore(mem).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	if _, err := e.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	raw, err := mem.Get(ctx, kv.Key(cfg.Storage.KeyPrefix, "session"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(raw, "isActive") {
		t.Fatal("session stored in clear text")
	}
	if status, _ := e.SessionStatus(ctx); status != session.StatusActive {
		t.Fatalf("status = %v", status)
	}
}
