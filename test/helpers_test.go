//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/pinflow"
	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/internal/authtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	fixedOTP = "135790"
	userPIN  = "8642"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes always includes miniredis. Real Redis is added when REDIS_ADDR is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				mr := miniredis.RunT(t)
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = rdb.Close() })
				return rdb
			},
		},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "redis",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				if err := rdb.Ping(context.Background()).Err(); err != nil {
					t.Skipf("redis at %s unavailable: %v", addr, err)
				}
				t.Cleanup(func() { _ = rdb.Close() })
				return rdb
			},
		})
	}
	return modes
}

type rig struct {
	rdb    redis.UniversalClient
	server *authtest.Server
	clock  clockwork.Clock
	prefix string
}

func newRig(t *testing.T, rdb redis.UniversalClient, clock clockwork.Clock) *rig {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	srv, err := authtest.New(authtest.Options{FixedOTP: fixedOTP, Clock: clock})
	if err != nil {
		t.Fatalf("authtest.New: %v", err)
	}
	t.Cleanup(srv.Close)

	// A per-test prefix keeps runs against a shared Redis apart.
	return &rig{rdb: rdb, server: srv, clock: clock, prefix: "it-" + uuid.NewString()[:8]}
}

func (r *rig) config() pinflow.Config {
	cfg := pinflow.DefaultConfig()
	cfg.Storage.KeyPrefix = r.prefix
	cfg.PIN.Memory = 8 * 1024
	cfg.PIN.Time = 1
	cfg.Transport.RetryDelay = 5 * time.Millisecond
	cfg.AuthAPI.OTPResendCooldown = 0
	cfg.AuthAPI.BaseURL = r.server.URL
	cfg.Metrics.Enabled = true
	return cfg
}

func (r *rig) build(t *testing.T, cfg pinflow.Config) *pinflow.Engine {
	t.Helper()
	engine, err := pinflow.New().
		WithConfig(cfg).
		WithRedis(r.rdb).
		WithClock(r.clock).
		WithDeviceProbe(func(context.Context) (string, string, string) { return "Pixel 8", "14", "android" }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func signUp(t *testing.T, engine *pinflow.Engine) flow.Transition {
	t.Helper()
	ctx := context.Background()

	inst, err := engine.InitiateFlow(ctx, flow.TypeSignUp, flow.StepData{})
	if err != nil {
		t.Fatalf("InitiateFlow: %v", err)
	}
	payloads := []flow.Payload{
		flow.PhoneEntry{Phone: "+15550123"},
		flow.PhoneOTP{Code: fixedOTP},
		flow.EmailEntry{Email: "grace@example.com"},
		flow.EmailOTP{Code: fixedOTP},
		flow.TokenAcquisition{},
		flow.Profile{FirstName: "Grace", LastName: "Hopper"},
		flow.PINSetup{PIN: userPIN, Confirm: userPIN},
	}

	index, data := inst.InitialIndex, inst.InitialData
	var tr flow.Transition
	for _, p := range payloads {
		tr, err = engine.Advance(ctx, inst, index, data, p)
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
