package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/pinflow/kv"
)

var (
	// ErrCorrupt is returned by Store.Load when the persisted record could not be decoded.
	// The record has already been removed when this error is returned.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrNotFound is returned by operations that need an existing session.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("session storage unavailable")
)

// Store persists one [Session] as JSON under a fixed key.
type Store struct {
	kv  kv.Store
	key string
}

// NewStore creates a session store writing under "<prefix>:session".
func NewStore(store kv.Store, prefix string) *Store {
	return &Store{kv: store, key: kv.Key(prefix, "session")}
}

// Load returns the persisted session, or nil when none exists. A malformed record is removed
// and reported as ErrCorrupt.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	sess, err := s.Peek(ctx)
	if errors.Is(err, ErrCorrupt) {
		return nil, s.dropCorrupt(ctx)
	}
	return sess, err
}

// Peek decodes the persisted session without modifying storage. A malformed record is
// reported as ErrCorrupt and left in place.
func (s *Store) Peek(ctx context.Context) (*Session, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, kv.ErrCorruptValue) {
			return nil, ErrCorrupt
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, ErrCorrupt
	}
	if sess.ExpiresAt.IsZero() {
		return nil, ErrCorrupt
	}
	return &sess, nil
}

// Save replaces the persisted session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear removes the persisted session. Clearing an absent session succeeds.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) dropCorrupt(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ErrCorrupt
}
