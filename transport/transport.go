package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/pinflow/token"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrRefreshFailed wraps the cause of a failed refresh. Every request waiting on that
	// refresh receives it.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoCredentials is returned when a refresh is needed but no refresh token is held.
	ErrNoCredentials = errors.New("no refresh token")
)

// Refresher exchanges a refresh token for a new pair. [authapi.Client] satisfies it.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (token.Pair, error)
}

// State reports whether a refresh is in flight.
type State uint8

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// Options configures a [Transport].
type Options struct {
	Base        http.RoundTripper
	Credentials *Credentials
	Refresher   Refresher
	MaxRetries  int
	RetryDelay  time.Duration
	Clock       clockwork.Clock
	Logger      *zap.Logger

	// OnRefresh is called after every refresh attempt with its latency and outcome.
	OnRefresh func(ctx context.Context, took time.Duration, err error)
	// OnRefreshFailure is called once per failed refresh cycle.
	OnRefreshFailure func(ctx context.Context, err error)
}

// Transport is an http.RoundTripper with single-flight token refresh.
type Transport struct {
	base       http.RoundTripper
	creds      *Credentials
	refresher  Refresher
	maxRetries int
	retryDelay time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger

	onRefresh        func(ctx context.Context, took time.Duration, err error)
	onRefreshFailure func(ctx context.Context, err error)

	group    singleflight.Group
	inflight atomic.Int32
	failed   atomic.Pointer[failure]
}

// failure remembers the outcome of the last failed cycle so late waiters on the same stale
// token get the same error instead of starting another refresh.
type failure struct {
	stale string
	err   error
}

// New creates a transport.
func New(opts Options) (*Transport, error) {
	if opts.Credentials == nil {
		return nil, errors.New("transport credentials required")
	}
	if opts.Refresher == nil {
		return nil, errors.New("transport refresher required")
	}
	if opts.MaxRetries < 0 {
		return nil, errors.New("transport max retries must be >= 0")
	}
	if opts.RetryDelay < 0 {
		return nil, errors.New("transport retry delay must be >= 0")
	}
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Transport{
		base:             opts.Base,
		creds:            opts.Credentials,
		refresher:        opts.Refresher,
		maxRetries:       opts.MaxRetries,
		retryDelay:       opts.RetryDelay,
		clock:            opts.Clock,
		logger:           opts.Logger,
		onRefresh:        opts.OnRefresh,
		onRefreshFailure: opts.OnRefreshFailure,
	}, nil
}

// State reports StateRefreshing while any refresh is in flight.
func (t *Transport) State() State {
	if t.inflight.Load() > 0 {
		return StateRefreshing
	}
	return StateIdle
}

// Client returns an *http.Client using t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

type pinnedKey struct{}

// WithPinnedToken makes requests sent with the returned context carry access verbatim.
// Pinned requests never read the credential holder and are never refreshed or retried.
func WithPinnedToken(ctx context.Context, access string) context.Context {
	return context.WithValue(ctx, pinnedKey{}, access)
}

// RoundTrip sends req with the current bearer token, refreshing and retrying on 401/403.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if access, ok := ctx.Value(pinnedKey{}).(string); ok {
		out, err := authorize(req, access, 0)
		if err != nil {
			return nil, err
		}
		return t.base.RoundTrip(out)
	}
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	pair, err := t.creds.Current(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		out, err := authorize(req, pair.AccessToken, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if !unauthorized(resp.StatusCode) || attempt >= t.maxRetries || !replayable {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()

		t.logger.Debug("auth rejected request; refreshing",
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
		)
		pair, err = t.refresh(ctx, pair.AccessToken)
		if err != nil {
			return nil, err
		}
		if err := t.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// refresh returns a pair newer than stale, running at most one refresh per stale token.
func (t *Transport) refresh(ctx context.Context, stale string) (token.Pair, error) {
	cur, err := t.creds.Current(ctx)
	if err != nil {
		return token.Pair{}, err
	}
	if cur.AccessToken != "" && cur.AccessToken != stale {
		return cur, nil
	}
	if f := t.failed.Load(); f != nil && f.stale == stale {
		return token.Pair{}, f.err
	}

	v, err, _ := t.group.Do(stale, func() (interface{}, error) {
		cur, err := t.creds.Current(ctx)
		if err != nil {
			return token.Pair{}, err
		}
		if cur.AccessToken != "" && cur.AccessToken != stale {
			return cur, nil
		}
		if f := t.failed.Load(); f != nil && f.stale == stale {
			return token.Pair{}, f.err
		}
		pair, err := t.doRefresh(context.WithoutCancel(ctx), cur.RefreshToken)
		if err != nil {
			t.failed.Store(&failure{stale: stale, err: err})
			return token.Pair{}, err
		}
		t.failed.Store(nil)
		return pair, nil
	})
	if err != nil {
		return token.Pair{}, err
	}
	return v.(token.Pair), nil
}

func (t *Transport) doRefresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	t.inflight.Add(1)
	defer t.inflight.Add(-1)

	start := t.clock.Now()
	var (
		pair token.Pair
		err  error
	)
	if refreshToken == "" {
		err = ErrNoCredentials
	} else {
		pair, err = t.refresher.RefreshToken(ctx, refreshToken)
	}
	took := t.clock.Since(start)
	if t.onRefresh != nil {
		t.onRefresh(ctx, took, err)
	}

	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		t.logger.Warn("token refresh failed", zap.Error(err), zap.Duration("took", took))
		if t.onRefreshFailure != nil {
			t.onRefreshFailure(ctx, wrapped)
		}
		return token.Pair{}, wrapped
	}

	if err := t.creds.Update(ctx, pair); err != nil {
		t.logger.Warn("refreshed token not persisted", zap.Error(err))
	}
	t.logger.Debug("token refreshed", zap.Duration("took", took))
	return pair, nil
}

func (t *Transport) wait(ctx context.Context) error {
	if t.retryDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(t.retryDelay):
		return nil
	}
}

func authorize(req *http.Request, access string, attempt int) (*http.Request, error) {
	out := req.Clone(req.Context())
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	} else {
		out.Header.Del("Authorization")
	}
	return out, nil
}

func unauthorized(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
