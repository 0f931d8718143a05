package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/pinflow/authapi"
	"github.com/MrEthical07/pinflow/pin"
	"github.com/MrEthical07/pinflow/session"
	"github.com/MrEthical07/pinflow/token"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	// ErrMissingHandler is returned when a registry does not cover every step.
	ErrMissingHandler = errors.New("missing step handler")
	// ErrPayloadMismatch is returned when a payload is submitted at the wrong step.
	ErrPayloadMismatch = errors.New("payload does not match step")
	// ErrInvalidPayload marks a payload rejected by validation.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrOTPInvalid marks a wrong OTP.
	ErrOTPInvalid = errors.New("otp invalid")
	// ErrOTPExpired marks an OTP submitted after its expiry.
	ErrOTPExpired = errors.New("otp expired")
	// ErrPINRejected marks a failed PIN entry. The Rejection carries the attempt state.
	ErrPINRejected = errors.New("pin rejected")
	// ErrPINAlreadySet marks a PIN setup over an existing PIN without re-verified identity.
	ErrPINAlreadySet = errors.New("pin already set")
)

// Rejection is a user-actionable failure. The step data returned alongside it is still
// applied, so an expired OTP moves the flow back to the entry step.
type Rejection struct {
	Reason  error
	Message string
	Pin     *pin.Result
}

func (r *Rejection) Error() string {
	return r.Reason.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Reason
}

func reject(reason error, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

// Handler applies the payload for one step and returns the updated step data.
type Handler interface {
	Step() Step
	Handle(ctx context.Context, data StepData, payload Payload) (StepData, error)
}

type typedHandler[P Payload] struct {
	step     Step
	validate *validator.Validate
	fn       func(ctx context.Context, data StepData, p P) (StepData, error)
}

// Typed adapts fn into a [Handler] for the step its payload type names. Payloads are validated
// with validate before fn runs; a nil validate skips validation.
func Typed[P Payload](validate *validator.Validate, fn func(ctx context.Context, data StepData, p P) (StepData, error)) Handler {
	var zero P
	return &typedHandler[P]{step: zero.Step(), validate: validate, fn: fn}
}

func (h *typedHandler[P]) Step() Step { return h.step }

func (h *typedHandler[P]) Handle(ctx context.Context, data StepData, payload Payload) (StepData, error) {
	p, ok := payload.(P)
	if !ok {
		got := Step("<nil>")
		if payload != nil {
			got = payload.Step()
		}
		return data, fmt.Errorf("%w: %s payload at %s", ErrPayloadMismatch, got, h.step)
	}
	if h.validate != nil {
		if err := h.validate.Struct(p); err != nil {
			return data, invalidPayload(err)
		}
	}
	return h.fn(ctx, data, p)
}

// Registry maps every step to its handler.
type Registry struct {
	handlers map[Step]Handler
}

// NewRegistry builds a registry. It fails with ErrMissingHandler naming every uncovered step.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[Step]Handler, len(AllSteps))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, dup := r.handlers[h.Step()]; dup {
			return nil, fmt.Errorf("duplicate handler for step %s", h.Step())
		}
		r.handlers[h.Step()] = h
	}
	var missing []string
	for _, step := range AllSteps {
		if _, ok := r.handlers[step]; !ok {
			missing = append(missing, string(step))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingHandler, strings.Join(missing, ", "))
	}
	return r, nil
}

// Handler returns the handler for step.
func (r *Registry) Handler(step Step) (Handler, error) {
	h, ok := r.handlers[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingHandler, step)
	}
	return h, nil
}

// TokenWriter stores a newly acquired token pair.
type TokenWriter interface {
	Update(ctx context.Context, p token.Pair) error
}

// PinSetter stores a new PIN.
type PinSetter interface {
	Set(ctx context.Context, pin string) error
	IsSet(ctx context.Context) (bool, error)
}

// PinSessions validates a PIN and opens sessions.
type PinSessions interface {
	ValidatePinAndCreate(ctx context.Context, candidate string) session.PinSessionResult
	Create(ctx context.Context) (*session.Session, error)
}

// HandlerDeps are the collaborators of the default handlers.
type HandlerDeps struct {
	Auth        authapi.Service
	Credentials TokenWriter
	Pins        PinSetter
	Sessions    PinSessions
	Validator   *validator.Validate
	Clock       clockwork.Clock
	Logger      *zap.Logger
	// OTPTTL is assumed when the auth service omits an OTP expiry.
	OTPTTL time.Duration
	// DefaultChannel is used for phone OTPs when the payload names none.
	DefaultChannel authapi.Channel
}

// NewValidator returns the payload validator used by the default handlers.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// DefaultHandlers returns one handler per step.
func DefaultHandlers(deps HandlerDeps) ([]Handler, error) {
	if deps.Auth == nil || deps.Credentials == nil || deps.Pins == nil || deps.Sessions == nil {
		return nil, errors.New("flow handlers require auth service, credentials, pins and sessions")
	}
	if deps.Validator == nil {
		deps.Validator = NewValidator()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.OTPTTL <= 0 {
		deps.OTPTTL = 5 * time.Minute
	}
	if deps.DefaultChannel == "" {
		deps.DefaultChannel = authapi.ChannelSMS
	}

	h := &handlers{deps: deps}
	v := deps.Validator
	return []Handler{
		Typed(v, h.phoneEntry),
		Typed(v, h.phoneOTP),
		Typed(v, h.emailEntry),
		Typed(v, h.emailOTP),
		Typed(v, h.tokenAcquisition),
		Typed(v, h.profile),
		Typed(v, h.pinSetup),
		Typed(v, h.pinEntry),
		Typed(v, h.authenticated),
	}, nil
}

type handlers struct {
	deps HandlerDeps
}

func (h *handlers) phoneEntry(ctx context.Context, data StepData, p PhoneEntry) (StepData, error) {
	channel := p.Channel
	if channel == "" {
		channel = h.deps.DefaultChannel
	}
	expiry, used, err := h.send(ctx, authapi.MediumPhone, p.Phone, channel)
	if err != nil {
		return data, err
	}
	if data.Phone != p.Phone {
		data.EmailVerified = false
		data.EmailOTPExpiry = nil
	}
	data.Phone = p.Phone
	data.OTPChannel = used
	data.PhoneValidated = false
	data.OTPExpiry = expiry
	return data, nil
}

func (h *handlers) phoneOTP(ctx context.Context, data StepData, p PhoneOTP) (StepData, error) {
	if data.Phone == "" {
		return data, reject(ErrInvalidPayload, "Enter your phone number first.")
	}
	if p.Resend {
		expiry, used, err := h.send(ctx, authapi.MediumPhone, data.Phone, data.OTPChannel)
		if err != nil {
			return data, err
		}
		data.OTPChannel = used
		data.OTPExpiry = expiry
		return data, nil
	}
	if p.Code == "" {
		return data, reject(ErrInvalidPayload, "Enter the code you received.")
	}
	if !h.outstanding(data.OTPExpiry) {
		data.OTPExpiry = nil
		return data, reject(ErrOTPExpired, "The code has expired. Request a new one.")
	}
	ok, err := h.deps.Auth.VerifyOTP(ctx, authapi.MediumPhone, data.Phone, p.Code)
	if err != nil {
		return data, err
	}
	if !ok {
		return data, reject(ErrOTPInvalid, "The code is incorrect.")
	}
	data.PhoneValidated = true
	data.OTPExpiry = nil
	return data, nil
}

func (h *handlers) emailEntry(ctx context.Context, data StepData, p EmailEntry) (StepData, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	expiry, _, err := h.send(ctx, authapi.MediumEmail, email, authapi.ChannelEmail)
	if err != nil {
		return data, err
	}
	data.Email = email
	data.EmailVerified = false
	data.EmailOTPExpiry = expiry
	return data, nil
}

func (h *handlers) emailOTP(ctx context.Context, data StepData, p EmailOTP) (StepData, error) {
	if data.Email == "" {
		return data, reject(ErrInvalidPayload, "Enter your email address first.")
	}
	if p.Resend {
		expiry, _, err := h.send(ctx, authapi.MediumEmail, data.Email, authapi.ChannelEmail)
		if err != nil {
			return data, err
		}
		data.EmailOTPExpiry = expiry
		return data, nil
	}
	if p.Code == "" {
		return data, reject(ErrInvalidPayload, "Enter the code you received.")
	}
	if !h.outstanding(data.EmailOTPExpiry) {
		data.EmailOTPExpiry = nil
		return data, reject(ErrOTPExpired, "The code has expired. Request a new one.")
	}
	ok, err := h.deps.Auth.VerifyOTP(ctx, authapi.MediumEmail, data.Email, p.Code)
	if err != nil {
		return data, err
	}
	if !ok {
		return data, reject(ErrOTPInvalid, "The code is incorrect.")
	}
	data.EmailVerified = true
	data.EmailOTPExpiry = nil
	return data, nil
}

func (h *handlers) tokenAcquisition(ctx context.Context, data StepData, _ TokenAcquisition) (StepData, error) {
	if !data.PhoneValidated || !data.EmailVerified || data.Phone == "" || data.Email == "" {
		return data, reject(ErrInvalidPayload, "Verify your phone and email first.")
	}
	pair, err := h.deps.Auth.AcquireToken(ctx, data.Phone, data.Email)
	if err != nil {
		return data, err
	}
	if err := h.deps.Credentials.Update(ctx, pair); err != nil {
		return data, err
	}
	return data, nil
}

func (h *handlers) profile(_ context.Context, data StepData, p Profile) (StepData, error) {
	first, last := strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	if first == "" || last == "" {
		return data, reject(ErrInvalidPayload, "First and last name are required.")
	}
	data.FirstName = first
	data.LastName = last
	return data, nil
}

// pinSetup replaces an existing PIN only after phone and email were verified in this flow.
func (h *handlers) pinSetup(ctx context.Context, data StepData, p PINSetup) (StepData, error) {
	set, err := h.deps.Pins.IsSet(ctx)
	if err != nil {
		return data, err
	}
	if set && !(data.PhoneValidated && data.EmailVerified) {
		return data, reject(ErrPINAlreadySet, "A PIN is already set. Use Forgot PIN to reset it.")
	}
	if err := h.deps.Pins.Set(ctx, p.PIN); err != nil {
		if errors.Is(err, pin.ErrPolicy) {
			return data, reject(fmt.Errorf("%w: %w", ErrInvalidPayload, err), "Choose a PIN that meets the length requirement.")
		}
		return data, err
	}
	if _, err := h.deps.Sessions.Create(ctx); err != nil {
		h.deps.Logger.Warn("session not created after pin setup", zap.Error(err))
	}
	data.PinVerified = true
	return data, nil
}

func (h *handlers) pinEntry(ctx context.Context, data StepData, p PINEntry) (StepData, error) {
	res := h.deps.Sessions.ValidatePinAndCreate(ctx, p.PIN)
	if res.Valid {
		data.PinVerified = true
		return data, nil
	}
	reason := ErrPINRejected
	if res.Err != nil {
		reason = fmt.Errorf("%w: %w", ErrPINRejected, res.Err)
	}
	pinRes := res.Pin
	return data, &Rejection{Reason: reason, Message: res.Error, Pin: &pinRes}
}

func (h *handlers) authenticated(_ context.Context, data StepData, _ Authenticated) (StepData, error) {
	return data, nil
}

// send requests an OTP and returns its expiry and the channel actually used.
func (h *handlers) send(ctx context.Context, medium authapi.Medium, value string, channel authapi.Channel) (*time.Time, authapi.Channel, error) {
	init, err := h.deps.Auth.SendOTP(ctx, medium, value, channel)
	if err != nil {
		if errors.Is(err, authapi.ErrOTPThrottled) {
			return nil, channel, reject(err, "Please wait before requesting another code.")
		}
		return nil, channel, err
	}
	expiry := init.ExpiresAt
	if expiry.IsZero() {
		expiry = h.deps.Clock.Now().Add(h.deps.OTPTTL)
	}
	if init.Channel != "" {
		channel = init.Channel
	}
	return &expiry, channel, nil
}

func (h *handlers) outstanding(expiry *time.Time) bool {
	return outstanding(expiry, h.deps.Clock.Now())
}

func invalidPayload(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return reject(fmt.Errorf("%w: %v", ErrInvalidPayload, err), "The submitted details are invalid.")
	}
	fe := verrs[0]
	return reject(fmt.Errorf("%w: %v", ErrInvalidPayload, err), messageFor(fe))
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required."
	case "e164":
		return "Enter the phone number in international format, e.g. +14155550123."
	case "email":
		return "Enter a valid email address."
	case "numeric":
		return fe.Field() + " must contain digits only."
	case "eqfield":
		return "PINs do not match."
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", fe.Field(), fe.Param())
	case "min", "max":
		return fe.Field() + " has an invalid length."
	default:
		return fmt.Sprintf("%s failed %s validation.", fe.Field(), fe.Tag())
	}
}
