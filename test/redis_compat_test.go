//go:build integration
// +build integration

package test

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/session"
	"github.com/jonboulle/clockwork"
)

func TestSignUpPersistsUnderPrefix(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			r := newRig(t, mode.setup(t), nil)
			engine := r.build(t, r.config())

			signUp(t, engine)

			keys := []string{
				kv.Key(r.prefix, "session"),
				kv.Key(r.prefix, "pin:hash"),
				kv.Key(r.prefix, "token:access"),
				kv.Key(r.prefix, "token:refresh"),
			}
			n, err := r.rdb.Exists(ctx, keys...).Result()
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if n != int64(len(keys)) {
				t.Fatalf("expected %d keys under %s, found %d", len(keys), r.prefix, n)
			}

			if err := engine.Logout(ctx, true); err != nil {
				t.Fatalf("Logout: %v", err)
			}
			n, err = r.rdb.Exists(ctx, keys...).Result()
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if n != 0 {
				t.Fatalf("expected every key removed after wiping logout, %d left", n)
			}
		})
	}
}

func TestSessionSurvivesRestartUntilExpiry(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(time.Now())
			r := newRig(t, mode.setup(t), clock)

			first := r.build(t, r.config())
			signUp(t, first)
			first.Close()

			second := r.build(t, r.config())
			inst, err := second.InitiateFlow(ctx, flow.TypeSignIn, flow.StepData{})
			if err != nil {
				t.Fatalf("InitiateFlow: %v", err)
			}
			if inst.InitialStep != flow.StepAuthenticated {
				t.Fatalf("expected restored session to be authenticated, got %s", inst.InitialStep)
			}

			clock.Advance(6 * time.Minute)

			status, err := second.SessionStatus(ctx)
			if err != nil {
				t.Fatalf("SessionStatus: %v", err)
			}
			if status != session.StatusInactive {
				t.Fatalf("expected expired session to be removed, got %s", status)
			}

			inst, err = second.InitiateFlow(ctx, flow.TypeSignIn, flow.StepData{})
			if err != nil {
				t.Fatalf("InitiateFlow: %v", err)
			}
			if inst.InitialStep != flow.StepPINEntryPending {
				t.Fatalf("expected pin entry after expiry, got %s", inst.InitialStep)
			}

			tr, err := second.Advance(ctx, inst, inst.InitialIndex, inst.InitialData, flow.PINEntry{PIN: userPIN})
			if err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if tr.Rejection != nil || tr.Step != flow.StepAuthenticated {
				t.Fatalf("expected authenticated after PIN, got %s (rejection %v)", tr.Step, tr.Rejection)
			}
		})
	}
}

func TestLockoutPersistsAcrossRestart(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(time.Now())
			r := newRig(t, mode.setup(t), clock)

			cfg := r.config()
			cfg.PIN.MaxAttempts = 3
			first := r.build(t, cfg)
			signUp(t, first)
			for i := 0; i < 3; i++ {
				if res := first.ValidatePinAndCreateSession(ctx, "0000"); res.Valid {
					t.Fatal("wrong PIN accepted")
				}
			}
			first.Close()

			second := r.build(t, cfg)
			res, err := second.ValidatePin(ctx, userPIN)
			if err != nil {
				t.Fatalf("ValidatePin: %v", err)
			}
			if res.Valid || !res.Locked {
				t.Fatalf("expected lockout to survive restart, got %+v", res)
			}

			clock.Advance(cfg.PIN.LockDuration + time.Second)
			res, err = second.ValidatePin(ctx, userPIN)
			if err != nil {
				t.Fatalf("ValidatePin: %v", err)
			}
			if !res.Valid || res.AttemptsRemaining != cfg.PIN.MaxAttempts {
				t.Fatalf("expected correct PIN after lock window to reset attempts, got %+v", res)
			}
		})
	}
}
