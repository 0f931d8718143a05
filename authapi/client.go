package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/pinflow/token"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

const (
	pathSendOTP      = "/auth/otp/send"
	pathVerifyOTP    = "/auth/otp/verify"
	pathAcquireToken = "/auth/token"
	pathRefreshToken = "/auth/token/refresh"
	pathLogout       = "/auth/logout"
)

// Service is the remote auth service consumed by the flow handlers and the refresh transport.
type Service interface {
	SendOTP(ctx context.Context, medium Medium, value string, channel Channel) (OTPInitiation, error)
	VerifyOTP(ctx context.Context, medium Medium, value, otp string) (bool, error)
	AcquireToken(ctx context.Context, phone, email string) (token.Pair, error)
	RefreshToken(ctx context.Context, refreshToken string) (token.Pair, error)
	Logout(ctx context.Context) error
}

// Options configures a [Client].
type Options struct {
	BaseURL string
	// HTTPClient sends unauthenticated calls. When nil a client with Timeout is created.
	HTTPClient *http.Client
	Timeout    time.Duration
	// ResendCooldown is the minimum spacing between OTP sends to the same medium and value.
	// Zero disables throttling.
	ResendCooldown time.Duration

	BreakerTimeout      time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Client is the HTTP implementation of [Service].
type Client struct {
	base     string
	http     *http.Client
	authed   atomic.Pointer[http.Client]
	breaker  *gobreaker.CircuitBreaker[*rawResponse]
	cooldown time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type rawResponse struct {
	status int
	body   []byte
}

// New creates a client for the auth service at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("auth service base URL required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.BreakerMinRequests == 0 {
		opts.BreakerMinRequests = 5
	}
	if opts.BreakerFailureRatio <= 0 {
		opts.BreakerFailureRatio = 0.5
	}

	logger := opts.Logger
	minRequests := opts.BreakerMinRequests
	ratio := opts.BreakerFailureRatio
	settings := gobreaker.Settings{
		Name:        "authapi",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		base:     base,
		http:     opts.HTTPClient,
		breaker:  gobreaker.NewCircuitBreaker[*rawResponse](settings),
		cooldown: opts.ResendCooldown,
		clock:    opts.Clock,
		logger:   opts.Logger,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// SetAuthenticatedClient installs the client used for calls that need a bearer token. It is
// normally an *http.Client wrapping the refresh transport and must be set before Logout.
func (c *Client) SetAuthenticatedClient(hc *http.Client) {
	c.authed.Store(hc)
}

// BreakerState reports the breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// SendOTP requests an OTP for value over channel.
func (c *Client) SendOTP(ctx context.Context, medium Medium, value string, channel Channel) (OTPInitiation, error) {
	// The cooldown starts when the token is taken, before the call, and is forgotten if the
	// send fails.
	lim := c.limiter(medium, value)
	if lim != nil && !lim.AllowN(c.clock.Now(), 1) {
		return OTPInitiation{}, ErrOTPThrottled
	}

	body, err := call[OTPInitiationBody](ctx, c, c.http, pathSendOTP, SendOTPRequest{Medium: medium, Value: value, Channel: channel})
	if err != nil {
		if lim != nil {
			c.forgetLimiter(medium, value, lim)
		}
		return OTPInitiation{}, err
	}

	out := OTPInitiation{
		ExpiresAt:   body.ExpiresAt,
		Channel:     body.Channel,
		ResendAfter: time.Duration(body.ResendAfterSeconds) * time.Second,
	}
	if out.Channel == "" {
		out.Channel = channel
	}
	return out, nil
}

// VerifyOTP reports whether otp is the code last sent to value.
func (c *Client) VerifyOTP(ctx context.Context, medium Medium, value, otp string) (bool, error) {
	body, err := call[VerifyOTPBody](ctx, c, c.http, pathVerifyOTP, VerifyOTPRequest{Medium: medium, Value: value, OTP: otp})
	if err != nil {
		return false, err
	}
	return body.Verified, nil
}

// AcquireToken exchanges verified identities for a token pair.
func (c *Client) AcquireToken(ctx context.Context, phone, email string) (token.Pair, error) {
	pair, err := call[token.Pair](ctx, c, c.http, pathAcquireToken, AcquireTokenRequest{Phone: phone, Email: email})
	if err != nil {
		return token.Pair{}, err
	}
	if pair.AccessToken == "" {
		return token.Pair{}, errors.New("auth service returned empty access token")
	}
	return pair, nil
}

// RefreshToken exchanges refreshToken for a new pair. It never goes through the refresh
// transport.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (token.Pair, error) {
	if refreshToken == "" {
		return token.Pair{}, token.ErrNoToken
	}
	pair, err := call[token.Pair](ctx, c, c.http, pathRefreshToken, RefreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return token.Pair{}, err
	}
	if pair.AccessToken == "" {
		return token.Pair{}, errors.New("auth service returned empty access token")
	}
	return pair, nil
}

// Logout revokes the current tokens server-side.
func (c *Client) Logout(ctx context.Context) error {
	hc := c.authed.Load()
	if hc == nil {
		hc = c.http
	}
	_, err := call[struct{}](ctx, c, hc, pathLogout, struct{}{})
	return err
}

func (c *Client) limiter(medium Medium, value string) *rate.Limiter {
	if c.cooldown <= 0 {
		return nil
	}
	key := string(medium) + ":" + value
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.cooldown), 1)
		c.limiters[key] = lim
	}
	return lim
}

// forgetLimiter drops lim unless another send already replaced it.
func (c *Client) forgetLimiter(medium Medium, value string, lim *rate.Limiter) {
	key := string(medium) + ":" + value
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limiters[key] == lim {
		delete(c.limiters, key)
	}
}

func call[T any](ctx context.Context, c *Client, hc *http.Client, path string, in any) (T, error) {
	var zero T

	payload, err := json.Marshal(in)
	if err != nil {
		return zero, fmt.Errorf("encode %s request: %w", path, err)
	}

	raw, err := c.breaker.Execute(func() (*rawResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		raw := &rawResponse{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 {
			return nil, decodeError(raw)
		}
		return raw, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		c.logger.Debug("auth service call failed", zap.String("path", path), zap.Error(err))
		return zero, err
	}

	var env Envelope[T]
	if err := json.Unmarshal(raw.body, &env); err != nil {
		if raw.status < 200 || raw.status > 299 {
			return zero, decodeError(raw)
		}
		return zero, fmt.Errorf("decode %s response: %w", path, err)
	}
	if raw.status < 200 || raw.status > 299 || env.Error != "" {
		return zero, envelopeError(raw.status, env.StatusCode, env.Error, env.ErrorCode, env.TraceID)
	}
	if env.Data == nil {
		return zero, nil
	}
	return *env.Data, nil
}

func decodeError(raw *rawResponse) error {
	var env Envelope[json.RawMessage]
	if json.Unmarshal(raw.body, &env) == nil {
		return envelopeError(raw.status, env.StatusCode, env.Error, env.ErrorCode, env.TraceID)
	}
	return &Error{StatusCode: raw.status, Message: http.StatusText(raw.status)}
}

func envelopeError(httpStatus, bodyStatus int, message, code, traceID string) *Error {
	status := bodyStatus
	if status == 0 || (httpStatus >= 300 && status < 300) {
		status = httpStatus
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{StatusCode: status, Message: message, Code: code, TraceID: traceID}
}
