package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/pinflow/pin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// PinValidator checks a PIN candidate with lockout bookkeeping. [pin.Service] satisfies it.
type PinValidator interface {
	Validate(ctx context.Context, candidate string) (pin.Result, error)
}

// EventKind classifies lifecycle notifications emitted by [Service].
type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventLocked
	EventRefreshed
	EventVoided
	EventExpired
	EventCorrupt
)

// Observer receives lifecycle notifications. It must not block.
type Observer func(ctx context.Context, kind EventKind)

// Options configures a [Service].
type Options struct {
	TTL      time.Duration
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Pins     PinValidator
	Observer Observer
}

// PinSessionResult is returned by [Service.ValidatePinAndCreate]. Error carries a
// user-facing message whenever Valid is false; Err carries the underlying failure when the
// check could not be performed at all.
type PinSessionResult struct {
	Valid   bool
	Session *Session
	Pin     pin.Result
	Error   string
	Err     error
}

// Service performs every mutation of the persisted session. Mutations are serialized so a
// stale copy held by one caller cannot re-activate a session another caller just locked.
type Service struct {
	store    *Store
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
	pins     PinValidator
	observer Observer

	mu sync.Mutex
}

// NewService creates a session service over store.
func NewService(store *Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("session TTL must be > 0")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		ttl:      opts.TTL,
		clock:    opts.Clock,
		logger:   opts.Logger,
		pins:     opts.Pins,
		observer: opts.Observer,
	}, nil
}

// Status derives the status of sess at the service clock's current time.
func (s *Service) Status(sess *Session) Status {
	return StatusOf(sess, s.clock.Now())
}

// Create persists and returns a fresh active, PIN-verified session.
func (s *Service) Create(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx)
}

func (s *Service) createLocked(ctx context.Context) (*Session, error) {
	now := s.clock.Now()
	sess := &Session{
		IsActive:     true,
		PinVerified:  true,
		LastActivity: now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.notify(ctx, EventCreated)
	return sess, nil
}

// Lock marks sess inactive and unverified, keeping its timestamps, and persists it.
func (s *Service) Lock(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked(ctx, sess)
}

func (s *Service) lockLocked(ctx context.Context, sess *Session) (*Session, error) {
	locked := *sess
	locked.IsActive = false
	locked.PinVerified = false
	if err := s.store.Save(ctx, &locked); err != nil {
		return nil, err
	}
	s.notify(ctx, EventLocked)
	return &locked, nil
}

// LockCurrent locks whatever session is persisted. It is the app-backgrounding hook and
// returns (nil, nil) when there is nothing to lock.
func (s *Service) LockCurrent(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadLocked(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	return s.lockLocked(ctx, sess)
}

// RefreshActivity slides the expiry window of an active session. A session that is not
// active (or no longer active in storage) is returned unchanged without any write.
func (s *Service) RefreshActivity(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil || !sess.IsActive {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !sess.ExpiresAt.After(now) {
		return sess, nil
	}
	current, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.corrupt(ctx)
			return sess, nil
		}
		return sess, err
	}
	if current == nil || !current.IsActive {
		return sess, nil
	}

	refreshed := *current
	refreshed.LastActivity = now
	refreshed.ExpiresAt = now.Add(s.ttl)
	if err := s.store.Save(ctx, &refreshed); err != nil {
		return sess, err
	}
	s.notify(ctx, EventRefreshed)
	return &refreshed, nil
}

// Void deletes the persisted session. It reports false instead of failing when storage is
// unavailable.
func (s *Service) Void(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voidLocked(ctx)
}

func (s *Service) voidLocked(ctx context.Context) bool {
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("session void failed", zap.Error(err))
		return false
	}
	s.notify(ctx, EventVoided)
	return true
}

// Load returns the persisted session, deleting and hiding it once expired. A corrupt record
// is cleared and treated as absent.
func (s *Service) Load(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Service) loadLocked(ctx context.Context) (*Session, error) {
	sess, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.corrupt(ctx)
			return nil, nil
		}
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if StatusOf(sess, s.clock.Now()) == StatusExpired {
		s.notify(ctx, EventExpired)
		s.voidLocked(ctx)
		return nil, nil
	}
	return sess, nil
}

// Initialize reconciles the persisted session with the caller's authentication state. An
// unauthenticated caller loses any session; an authenticated caller keeps a live one or
// receives a new one.
func (s *Service) Initialize(ctx context.Context, isAuthenticated bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isAuthenticated {
		s.voidLocked(ctx)
		return nil, nil
	}
	sess, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return s.createLocked(ctx)
}

// ValidatePinAndCreate checks candidate and, when correct, starts a new session.
func (s *Service) ValidatePinAndCreate(ctx context.Context, candidate string) PinSessionResult {
	if s.pins == nil {
		return PinSessionResult{Error: "PIN verification is unavailable.", Err: errors.New("pin validator not configured")}
	}

	res, err := s.pins.Validate(ctx, candidate)
	if err != nil {
		s.logger.Warn("pin validation failed", zap.Error(err))
		msg := "Unable to verify PIN. Please try again."
		if errors.Is(err, pin.ErrNotSet) {
			msg = "No PIN is set on this device."
		}
		return PinSessionResult{Error: msg, Err: err}
	}
	if !res.Valid {
		return PinSessionResult{Pin: res, Error: invalidPinMessage(res)}
	}

	sess, err := s.Create(ctx)
	if err != nil {
		s.logger.Warn("session creation after pin validation failed", zap.Error(err))
		return PinSessionResult{Pin: res, Error: "Unable to start a session. Please try again.", Err: err}
	}
	return PinSessionResult{Valid: true, Session: sess, Pin: res}
}

func invalidPinMessage(res pin.Result) string {
	if res.Locked && res.LockUntil != nil {
		return fmt.Sprintf("Too many attempts. Try again after %s.", res.LockUntil.UTC().Format(time.RFC3339))
	}
	if res.AttemptsRemaining == 1 {
		return "Incorrect PIN. 1 attempt remaining."
	}
	return fmt.Sprintf("Incorrect PIN. %d attempts remaining.", res.AttemptsRemaining)
}

func (s *Service) corrupt(ctx context.Context) {
	s.logger.Warn("malformed session record cleared")
	s.notify(ctx, EventCorrupt)
}

func (s *Service) notify(ctx context.Context, kind EventKind) {
	if s.observer != nil {
		s.observer(ctx, kind)
	}
}
