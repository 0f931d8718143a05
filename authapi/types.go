package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrOTPThrottled is returned when an OTP is requested again inside the resend cooldown.
	ErrOTPThrottled = errors.New("otp resend throttled")
	// ErrCircuitOpen is returned while the breaker rejects calls to the auth service.
	ErrCircuitOpen = errors.New("auth service circuit open")
)

// Medium is the identity an OTP is sent to.
type Medium string

const (
	MediumPhone Medium = "phone"
	MediumEmail Medium = "email"
)

// Channel is the delivery channel for an OTP.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Envelope is the response shape shared by every auth service endpoint.
type Envelope[T any] struct {
	StatusCode int    `json:"statusCode"`
	Data       *T     `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
}

// OTPInitiation describes a sent OTP.
type OTPInitiation struct {
	ExpiresAt   time.Time
	Channel     Channel
	ResendAfter time.Duration
}

// Error is a business or server error reported by the auth service.
type Error struct {
	StatusCode int
	Message    string
	Code       string
	TraceID    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth service %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth service %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether e is a 401 or 403.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Request and response bodies as sent on the wire.

type SendOTPRequest struct {
	Medium  Medium  `json:"medium"`
	Value   string  `json:"value"`
	Channel Channel `json:"channel"`
}

type OTPInitiationBody struct {
	ExpiresAt          time.Time `json:"expiresAt"`
	Channel            Channel   `json:"channel"`
	ResendAfterSeconds int       `json:"resendAfterSeconds,omitempty"`
}

type VerifyOTPRequest struct {
	Medium Medium `json:"medium"`
	Value  string `json:"value"`
	OTP    string `json:"otp"`
}

type VerifyOTPBody struct {
	Verified bool `json:"verified"`
}

type AcquireTokenRequest struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}
