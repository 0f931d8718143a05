package pinflow

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/internal/authtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testOTP   = "246810"
	testPhone = "+1234567890"
	testEmail = "ada@example.com"
	testPIN   = "1357"
)

// testConfig keeps Argon2 cheap and retries fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PIN.Memory = 8 * 1024
	cfg.PIN.Time = 1
	cfg.Transport.RetryDelay = 10 * time.Millisecond
	cfg.AuthAPI.OTPResendCooldown = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type harness struct {
	engine *Engine
	server *authtest.Server
	redis  *miniredis.Miniredis
	sink   *ChannelSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv, err := authtest.New(authtest.Options{FixedOTP: testOTP})
	if err != nil {
		t.Fatalf("authtest.New: %v", err)
	}
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.AuthAPI.BaseURL = srv.URL

	sink := NewChannelSink(512)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAuditSink(sink).
		WithDeviceProbe(func(context.Context) (string, string, string) { return "Pixel 8", "14", "android" }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{engine: engine, server: srv, redis: mr, sink: sink}
}

// signUp drives a SIGNUP flow to the authenticated step.
func (h *harness) signUp(t *testing.T) flow.Transition {
	t.Helper()
	ctx := context.Background()

	inst, err := h.engine.InitiateFlow(ctx, flow.TypeSignUp, flow.StepData{})
	if err != nil {
		t.Fatalf("InitiateFlow: %v", err)
	}
	payloads := []flow.Payload{
		flow.PhoneEntry{Phone: testPhone},
		flow.PhoneOTP{Code: testOTP},
		flow.EmailEntry{Email: testEmail},
		flow.EmailOTP{Code: testOTP},
		flow.TokenAcquisition{},
		flow.Profile{FirstName: "Ada", LastName: "Lovelace"},
		flow.PINSetup{PIN: testPIN, Confirm: testPIN},
	}

	index, data := inst.InitialIndex, inst.InitialData
	var tr flow.Transition
	for _, p := range payloads {
		tr, err = h.engine.Advance(ctx, inst, index, data, p)
		if err != nil {
			t.Fatalf("Advance(%s): %v", p.Step(), err)
		}
		if tr.Rejection != nil {
			t.Fatalf("Advance(%s) rejected: %s", p.Step(), tr.Rejection.Message)
		}
		index, data = tr.Index, tr.Data
	}
	if tr.Step != flow.StepAuthenticated {
		t.Fatalf("expected authenticated, got %s", tr.Step)
	}
	return tr
}

// drainAudit closes the engine and returns every audit event type in order.
func (h *harness) drainAudit() []string {
	h.engine.Close()
	var types []string
	for {
		select {
		case ev := <-h.sink.Events():
			types = append(types, ev.EventType)
		default:
			return types
		}
	}
}
