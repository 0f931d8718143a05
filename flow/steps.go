package flow

// Step identifies one screen of an auth flow. Values are stable and exposed to the UI layer.
type Step string

const (
	StepPhoneEntry        Step = "phone-entry"
	StepPhoneOTPPending   Step = "phone-otp-pending"
	StepEmailEntryPending Step = "email-entry-pending"
	StepEmailOTPPending   Step = "email-otp-pending"
	StepTokenAcquisition  Step = "token-acquisition"
	StepProfilePending    Step = "user-profile-pending"
	StepPINSetupPending   Step = "pin-setup-pending"
	StepPINEntryPending   Step = "pin-entry-pending"
	StepAuthenticated     Step = "authenticated"
)

// AllSteps lists every step. A handler registry must cover all of them.
var AllSteps = []Step{
	StepPhoneEntry,
	StepPhoneOTPPending,
	StepEmailEntryPending,
	StepEmailOTPPending,
	StepTokenAcquisition,
	StepProfilePending,
	StepPINSetupPending,
	StepPINEntryPending,
	StepAuthenticated,
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	for _, known := range AllSteps {
		if s == known {
			return true
		}
	}
	return false
}

// Type selects a step table.
type Type string

const (
	TypeSignIn    Type = "SIGNIN"
	TypeSignUp    Type = "SIGNUP"
	TypeForgotPIN Type = "FORGOT_PIN"
)

// Outcome classifies a [Transition].
type Outcome uint8

const (
	// OutcomeAdvanced means a different step than the current one is now pending.
	OutcomeAdvanced Outcome = iota + 1
	// OutcomeStayed means the current step is still pending.
	OutcomeStayed
	// OutcomeComplete means no step condition holds; the flow has nothing left to ask.
	OutcomeComplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeStayed:
		return "stayed"
	case OutcomeComplete:
		return "complete"
	default:
		return "unknown"
	}
}
