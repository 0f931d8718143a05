package flow

import "github.com/MrEthical07/pinflow/authapi"

// Payload is the user input submitted at one step. Step names the step it belongs to.
type Payload interface {
	Step() Step
}

// PhoneEntry submits a phone number and requests an OTP.
type PhoneEntry struct {
	Phone   string          `validate:"required,e164"`
	Channel authapi.Channel `validate:"omitempty,oneof=sms whatsapp"`
}

// PhoneOTP submits the phone OTP, or asks for it to be resent. Code is required unless Resend
// is set.
type PhoneOTP struct {
	Code   string `validate:"omitempty,numeric,min=4,max=10"`
	Resend bool
}

// EmailEntry submits an email address and requests an OTP.
type EmailEntry struct {
	Email string `validate:"required,email,max=254"`
}

// EmailOTP submits the email OTP, or asks for it to be resent.
type EmailOTP struct {
	Code   string `validate:"omitempty,numeric,min=4,max=10"`
	Resend bool
}

// TokenAcquisition exchanges the verified phone and email for tokens.
type TokenAcquisition struct{}

// Profile completes the user's name.
type Profile struct {
	FirstName string `validate:"required,max=64"`
	LastName  string `validate:"required,max=64"`
}

// PINSetup sets a new PIN. Confirm must repeat PIN.
type PINSetup struct {
	PIN     string `validate:"required,numeric"`
	Confirm string `validate:"required,eqfield=PIN"`
}

// PINEntry unlocks with the existing PIN.
type PINEntry struct {
	PIN string `validate:"required,numeric"`
}

// Authenticated acknowledges the final step.
type Authenticated struct{}

func (PhoneEntry) Step() Step       { return StepPhoneEntry }
func (PhoneOTP) Step() Step         { return StepPhoneOTPPending }
func (EmailEntry) Step() Step       { return StepEmailEntryPending }
func (EmailOTP) Step() Step         { return StepEmailOTPPending }
func (TokenAcquisition) Step() Step { return StepTokenAcquisition }
func (Profile) Step() Step          { return StepProfilePending }
func (PINSetup) Step() Step         { return StepPINSetupPending }
func (PINEntry) Step() Step         { return StepPINEntryPending }
func (Authenticated) Step() Step    { return StepAuthenticated }
