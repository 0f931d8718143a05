package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned for a flow type with no step table.
	ErrUnknownType = errors.New("unknown flow type")
	// ErrNoSteps is returned when a flow type's step table is empty.
	ErrNoSteps = errors.New("flow has no steps")
)

// Condition reports whether a step is still pending for c.
type Condition func(c Ctx) bool

// FlowStep pairs a step with the condition under which it is pending.
type FlowStep struct {
	Step      Step
	Condition Condition
	// Accepts gates payload submission at this step. Nil means the step takes a payload only
	// while Condition holds.
	Accepts Condition
}

// accepting reports whether fs takes a payload in c.
func (fs FlowStep) accepting(c Ctx) bool {
	if fs.Accepts != nil {
		return fs.Accepts(c)
	}
	return fs.Condition(c)
}

// Definitions maps each flow type to its ordered step table.
type Definitions map[Type][]FlowStep

// StepsFor returns the table for typ.
func (d Definitions) StepsFor(typ Type) ([]FlowStep, error) {
	steps, ok := d[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSteps, typ)
	}
	return steps, nil
}

// DefaultDefinitions returns the standard SIGNIN, SIGNUP and FORGOT_PIN tables.
func DefaultDefinitions() Definitions {
	return Definitions{
		TypeSignIn: identitySteps(requireNoToken,
			FlowStep{Step: StepTokenAcquisition, Condition: tokenAcquisition},
			FlowStep{Step: StepPINSetupPending, Condition: pinSetup},
			FlowStep{Step: StepPINEntryPending, Condition: pinEntry},
			FlowStep{Step: StepAuthenticated, Condition: authenticated},
		),
		TypeSignUp: identitySteps(requireNoToken,
			FlowStep{Step: StepTokenAcquisition, Condition: tokenAcquisition},
			FlowStep{Step: StepProfilePending, Condition: profileIncomplete},
			FlowStep{Step: StepPINSetupPending, Condition: pinSetup},
			FlowStep{Step: StepPINEntryPending, Condition: pinEntry},
			FlowStep{Step: StepAuthenticated, Condition: authenticated},
		),
		TypeForgotPIN: identitySteps(ignoreToken,
			FlowStep{Step: StepTokenAcquisition, Condition: tokenAcquisition},
			FlowStep{Step: StepPINSetupPending, Condition: pinReset},
			FlowStep{Step: StepAuthenticated, Condition: pinResetDone},
		),
	}
}

// identitySteps prefixes rest with the phone and email verification steps. An OTP step keeps
// accepting codes after its OTP lapses so the handler can report the expiry.
func identitySteps(g gate, rest ...FlowStep) []FlowStep {
	steps := []FlowStep{
		{Step: StepPhoneEntry, Condition: phoneEntry(g)},
		{Step: StepPhoneOTPPending, Condition: phoneOTP(g), Accepts: phoneUnverified(g)},
		{Step: StepEmailEntryPending, Condition: emailEntry(g)},
		{Step: StepEmailOTPPending, Condition: emailOTP(g), Accepts: emailUnverified(g)},
	}
	return append(steps, rest...)
}

// gate decides whether identity verification steps apply at all.
type gate func(c Ctx) bool

func requireNoToken(c Ctx) bool { return !c.TokenValid }

// Forgot-PIN re-verifies identity even when a token is still valid.
func ignoreToken(c Ctx) bool { return true }

func phoneUnverified(g gate) Condition {
	return func(c Ctx) bool { return g(c) && !c.PhoneValidated }
}

func emailUnverified(g gate) Condition {
	return func(c Ctx) bool { return g(c) && c.PhoneValidated && !c.EmailVerified }
}

func phoneEntry(g gate) Condition {
	return func(c Ctx) bool { return phoneUnverified(g)(c) && !c.PhoneOTPActive }
}

func phoneOTP(g gate) Condition {
	return func(c Ctx) bool { return phoneUnverified(g)(c) && c.PhoneOTPActive }
}

func emailEntry(g gate) Condition {
	return func(c Ctx) bool { return emailUnverified(g)(c) && !c.EmailOTPActive }
}

func emailOTP(g gate) Condition {
	return func(c Ctx) bool { return emailUnverified(g)(c) && c.EmailOTPActive }
}

func tokenAcquisition(c Ctx) bool {
	return c.PhoneValidated && c.EmailVerified && !c.TokenValid
}

func profileIncomplete(c Ctx) bool {
	return c.TokenValid && (c.FirstName == "" || c.LastName == "")
}

func pinSetup(c Ctx) bool {
	return c.TokenValid && !c.PinSet
}

func pinEntry(c Ctx) bool {
	return c.TokenValid && c.PinSet && !c.PinVerified && !c.SessionActive
}

func authenticated(c Ctx) bool {
	return c.TokenValid && c.PinSet && (c.PinVerified || c.SessionActive)
}

// A reset is only offered once both identities were re-verified in this flow.
func pinReset(c Ctx) bool {
	return c.TokenValid && c.PhoneValidated && c.EmailVerified && !c.PinVerified
}

func pinResetDone(c Ctx) bool {
	return c.TokenValid && c.PinVerified
}
