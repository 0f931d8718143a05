package pin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/pinflow/pinhash"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	// ErrPolicy is returned by Set and Change when the new PIN is rejected by the policy.
	ErrPolicy = pinhash.ErrPolicy
	// ErrMismatch is returned by Change when the current PIN is wrong.
	ErrMismatch = errors.New("current pin mismatch")
)

// Hasher hashes and verifies PINs. [pinhash.Argon2] satisfies it.
type Hasher interface {
	Hash(pin string) (string, error)
	Verify(pin, encoded string) (bool, error)
}

// EventKind classifies notifications emitted by [Service].
type EventKind uint8

const (
	EventSuccess EventKind = iota + 1
	EventFailure
	EventLocked
	EventSet
)

// Observer receives validation notifications. It must not block.
type Observer func(ctx context.Context, kind EventKind, res Result)

// Options configures a [Service].
type Options struct {
	MaxAttempts  int
	LockDuration time.Duration
	Hasher       Hasher
	Clock        clockwork.Clock
	Logger       *zap.Logger
	Observer     Observer
}

// Result describes the outcome of a validation.
type Result struct {
	Valid             bool
	AttemptsRemaining int
	Locked            bool
	LockUntil         *time.Time
}

// Service validates PINs with attempt counting and lockout.
type Service struct {
	store        *Store
	maxAttempts  int
	lockDuration time.Duration
	hasher       Hasher
	clock        clockwork.Clock
	logger       *zap.Logger
	observer     Observer

	mu sync.Mutex
}

// NewService creates a PIN service over store.
func NewService(store *Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("pin store required")
	}
	if opts.Hasher == nil {
		return nil, errors.New("pin hasher required")
	}
	if opts.MaxAttempts <= 0 {
		return nil, errors.New("pin max attempts must be > 0")
	}
	if opts.LockDuration <= 0 {
		return nil, errors.New("pin lock duration must be > 0")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		maxAttempts:  opts.MaxAttempts,
		lockDuration: opts.LockDuration,
		hasher:       opts.Hasher,
		clock:        opts.Clock,
		logger:       opts.Logger,
		observer:     opts.Observer,
	}, nil
}

// MaxAttempts returns the configured attempt cap.
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// Validate checks candidate against the stored hash. While locked it returns a locked result
// without comparing. A wrong PIN is reported through Result, not as an error.
func (s *Service) Validate(ctx context.Context, candidate string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked(ctx, candidate)
}

func (s *Service) validateLocked(ctx context.Context, candidate string) (Result, error) {
	now := s.clock.Now()

	rec, err := s.store.Load(ctx)
	if errors.Is(err, ErrCorrupt) {
		return s.failClosed(ctx, now)
	}
	if err != nil {
		return Result{}, err
	}
	if rec.Hash == "" {
		return Result{}, ErrNotSet
	}

	if rec.LockUntil != nil && now.Before(*rec.LockUntil) {
		res := Result{Locked: true, LockUntil: rec.LockUntil, AttemptsRemaining: s.remaining(rec.Attempts)}
		s.notify(ctx, EventLocked, res)
		return res, nil
	}

	ok, err := s.hasher.Verify(candidate, rec.Hash)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if ok {
		if rec.Attempts != 0 || rec.LockUntil != nil {
			if err := s.store.SaveAttempts(ctx, 0, nil); err != nil {
				return Result{}, err
			}
		}
		res := Result{Valid: true, AttemptsRemaining: s.maxAttempts}
		s.notify(ctx, EventSuccess, res)
		return res, nil
	}

	attempts := min(rec.Attempts+1, s.maxAttempts)
	if attempts >= s.maxAttempts {
		until := now.Add(s.lockDuration)
		if err := s.store.SaveAttempts(ctx, attempts, &until); err != nil {
			return Result{}, err
		}
		s.logger.Warn("pin locked", zap.Int("attempts", attempts), zap.Time("lock_until", until))
		res := Result{Locked: true, LockUntil: &until}
		s.notify(ctx, EventLocked, res)
		return res, nil
	}

	if err := s.store.SaveAttempts(ctx, attempts, nil); err != nil {
		return Result{}, err
	}
	res := Result{AttemptsRemaining: s.remaining(attempts)}
	s.notify(ctx, EventFailure, res)
	return res, nil
}

// failClosed treats an unreadable counter as exhausted and rewrites a clean locked record.
func (s *Service) failClosed(ctx context.Context, now time.Time) (Result, error) {
	s.logger.Warn("malformed pin counters; locking")
	until := now.Add(s.lockDuration)
	if err := s.store.SaveAttempts(ctx, s.maxAttempts, &until); err != nil {
		return Result{}, err
	}
	res := Result{Locked: true, LockUntil: &until}
	s.notify(ctx, EventLocked, res)
	return res, nil
}

// Set hashes and stores pin, resetting the attempt counter and any lock.
func (s *Service) Set(ctx context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, pin)
}

func (s *Service) setLocked(ctx context.Context, pin string) error {
	hash, err := s.hasher.Hash(pin)
	if err != nil {
		if errors.Is(err, ErrPolicy) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.store.SaveHash(ctx, hash); err != nil {
		return err
	}
	s.notify(ctx, EventSet, Result{Valid: true, AttemptsRemaining: s.maxAttempts})
	return nil
}

// Change replaces the PIN after validating current through the lockout path. A wrong current
// PIN returns ErrMismatch alongside the validation result.
func (s *Service) Change(ctx context.Context, current, next string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.validateLocked(ctx, current)
	if err != nil {
		return res, err
	}
	if !res.Valid {
		return res, ErrMismatch
	}
	if err := s.setLocked(ctx, next); err != nil {
		return res, err
	}
	return res, nil
}

// IsSet reports whether a PIN hash is stored.
func (s *Service) IsSet(ctx context.Context) (bool, error) {
	return s.store.HasHash(ctx)
}

// State reports the current lock state without consuming an attempt. Valid is always false.
func (s *Service) State(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Load(ctx)
	if errors.Is(err, ErrCorrupt) {
		return Result{Locked: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if rec.Hash == "" {
		return Result{}, ErrNotSet
	}
	now := s.clock.Now()
	if rec.LockUntil != nil && now.Before(*rec.LockUntil) {
		return Result{Locked: true, LockUntil: rec.LockUntil}, nil
	}
	return Result{AttemptsRemaining: s.remaining(rec.Attempts)}, nil
}

// Clear removes the PIN and its counters.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear(ctx)
}

func (s *Service) remaining(attempts int) int {
	return max(s.maxAttempts-attempts, 0)
}

func (s *Service) notify(ctx context.Context, kind EventKind, res Result) {
	if s.observer != nil {
		s.observer(ctx, kind, res)
	}
}
