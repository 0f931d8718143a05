//go:build integration
// +build integration

package test

import (
	"context"
	"testing"

	"github.com/MrEthical07/pinflow/flow"
)

const authtestKey = "authtest-signing-key-authtest-signing"

func TestVerifiedTokensAcceptMatchingKey(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			r := newRig(t, mode.setup(t), nil)
			cfg := r.config()
			cfg.Token.SigningMethod = "hs256"
			cfg.Token.VerifyKey = authtestKey
			engine := r.build(t, cfg)

			signUp(t, engine)
			if !engine.TokenValid(context.Background()) {
				t.Fatal("expected token signed with the configured key to be valid")
			}
		})
	}
}

func TestForeignSignatureKeepsTokenStepPending(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			r := newRig(t, mode.setup(t), nil)
			cfg := r.config()
			cfg.Token.SigningMethod = "hs256"
			cfg.Token.VerifyKey = "some-other-key-some-other-key-0000"
			engine := r.build(t, cfg)

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

			if tr.Step != flow.StepTokenAcquisition || tr.Outcome != flow.OutcomeStayed {
				t.Fatalf("expected token step to stay pending, got %s (%s)", tr.Step, tr.Outcome)
			}
			if engine.TokenValid(ctx) {
				t.Fatal("token with a foreign signature must not be valid")
			}
		})
	}
}
