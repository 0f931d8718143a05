package flow

import (
	"context"
	"time"

	"github.com/MrEthical07/pinflow/authapi"
	"github.com/MrEthical07/pinflow/session"
	"github.com/MrEthical07/pinflow/token"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Ctx is the snapshot of security facts a step condition is evaluated against. It is rebuilt
// on every transition and never persisted.
type Ctx struct {
	TokenValid     bool
	PhoneValidated bool
	EmailVerified  bool
	PinSet         bool
	PinVerified    bool
	SessionActive  bool
	OTPExpiry      *time.Time
	EmailOTPExpiry *time.Time
	FirstName      string
	LastName       string
	// PhoneOTPActive and EmailOTPActive report an outstanding OTP at build time, so
	// conditions stay pure and equal inputs build equal contexts.
	PhoneOTPActive bool
	EmailOTPActive bool
}

// StepData carries the transient facts of one flow instance that the stores do not persist.
// Handlers return an updated copy; the caller passes it back on the next transition.
type StepData struct {
	Phone          string
	Email          string
	OTPChannel     authapi.Channel
	PhoneValidated bool
	EmailVerified  bool
	PinVerified    bool
	OTPExpiry      *time.Time
	EmailOTPExpiry *time.Time
	FirstName      string
	LastName       string
}

// SessionReader reads the persisted session without modifying it.
type SessionReader interface {
	Peek(ctx context.Context) (*session.Session, error)
}

// PinReader reports whether a PIN has been set.
type PinReader interface {
	IsSet(ctx context.Context) (bool, error)
}

// TokenReader returns the current token pair.
type TokenReader interface {
	Current(ctx context.Context) (token.Pair, error)
}

// TokenValidator decides whether an access token is usable.
type TokenValidator interface {
	Valid(access string) bool
}

// ContextBuilder assembles a [Ctx]. Any read failure degrades the matching fact to false.
type ContextBuilder struct {
	sessions SessionReader
	pins     PinReader
	tokens   TokenReader
	validity TokenValidator
	clock    clockwork.Clock
	logger   *zap.Logger
}

// BuilderOptions configures a [ContextBuilder]. Nil readers yield false facts.
type BuilderOptions struct {
	Sessions SessionReader
	Pins     PinReader
	Tokens   TokenReader
	Validity TokenValidator
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// NewContextBuilder creates a builder.
func NewContextBuilder(opts BuilderOptions) *ContextBuilder {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ContextBuilder{
		sessions: opts.Sessions,
		pins:     opts.Pins,
		tokens:   opts.Tokens,
		validity: opts.Validity,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// Build reads the stores and overlays data. It never fails and has no side effects.
func (b *ContextBuilder) Build(ctx context.Context, data StepData) Ctx {
	now := b.clock.Now()
	c := Ctx{
		PhoneValidated: data.PhoneValidated,
		EmailVerified:  data.EmailVerified,
		PinVerified:    data.PinVerified,
		OTPExpiry:      data.OTPExpiry,
		EmailOTPExpiry: data.EmailOTPExpiry,
		FirstName:      data.FirstName,
		LastName:       data.LastName,
		PhoneOTPActive: outstanding(data.OTPExpiry, now),
		EmailOTPActive: outstanding(data.EmailOTPExpiry, now),
	}

	if b.tokens != nil && b.validity != nil {
		pair, err := b.tokens.Current(ctx)
		if err != nil {
			b.logger.Debug("token read failed", zap.Error(err))
		} else {
			c.TokenValid = b.validity.Valid(pair.AccessToken)
		}
	}

	if b.pins != nil {
		set, err := b.pins.IsSet(ctx)
		if err != nil {
			b.logger.Debug("pin read failed", zap.Error(err))
		}
		c.PinSet = err == nil && set
	}

	if b.sessions != nil {
		sess, err := b.sessions.Peek(ctx)
		if err != nil {
			b.logger.Debug("session read failed", zap.Error(err))
		} else {
			c.SessionActive = session.StatusOf(sess, now) == session.StatusActive
		}
	}

	return c
}

func outstanding(expiry *time.Time, now time.Time) bool {
	return expiry != nil && expiry.After(now)
}
