package pin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/pinflow/kv"
)

var (
	// ErrNotSet is returned when no PIN hash has been stored.
	ErrNotSet = errors.New("pin not set")
	// ErrCorrupt is returned when the attempt counter or lock timestamp cannot be parsed.
	ErrCorrupt = errors.New("pin record corrupt")
	// ErrUnavailable wraps storage and hashing failures.
	ErrUnavailable = errors.New("pin storage unavailable")
)

// Record is the persisted PIN state.
type Record struct {
	Hash      string
	Attempts  int
	LockUntil *time.Time
}

// Store persists a [Record] under three keys: hash, attempt counter and lock-until (unix ms).
type Store struct {
	kv        kv.Store
	hashKey   string
	attemptsK string
	lockKey   string
}

// NewStore creates a PIN store under "<prefix>:pin:*".
func NewStore(store kv.Store, prefix string) *Store {
	return &Store{
		kv:        store,
		hashKey:   kv.Key(prefix, "pin:hash"),
		attemptsK: kv.Key(prefix, "pin:attempts"),
		lockKey:   kv.Key(prefix, "pin:lock_until"),
	}
}

// Load reads the record. A missing hash yields a zero Hash; missing counters read as zero.
func (s *Store) Load(ctx context.Context) (Record, error) {
	var rec Record

	hash, err := s.get(ctx, s.hashKey)
	if err != nil {
		return Record{}, err
	}
	rec.Hash = hash

	attempts, err := s.get(ctx, s.attemptsK)
	if err != nil {
		return Record{}, err
	}
	if attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n < 0 {
			return rec, ErrCorrupt
		}
		rec.Attempts = n
	}

	lock, err := s.get(ctx, s.lockKey)
	if err != nil {
		return Record{}, err
	}
	if lock != "" {
		ms, err := strconv.ParseInt(lock, 10, 64)
		if err != nil {
			return rec, ErrCorrupt
		}
		t := time.UnixMilli(ms)
		rec.LockUntil = &t
	}
	return rec, nil
}

// HasHash reports whether a PIN hash is stored.
func (s *Store) HasHash(ctx context.Context) (bool, error) {
	hash, err := s.get(ctx, s.hashKey)
	if err != nil {
		return false, err
	}
	return hash != "", nil
}

// SaveHash stores a new hash and resets the counters.
func (s *Store) SaveHash(ctx context.Context, hash string) error {
	if err := s.set(ctx, s.hashKey, hash); err != nil {
		return err
	}
	return s.SaveAttempts(ctx, 0, nil)
}

// SaveAttempts writes the counter and lock window. The lock is written first so an
// interrupted write can only leave the record stricter than intended.
func (s *Store) SaveAttempts(ctx context.Context, attempts int, lockUntil *time.Time) error {
	if lockUntil != nil {
		if err := s.set(ctx, s.lockKey, strconv.FormatInt(lockUntil.UnixMilli(), 10)); err != nil {
			return err
		}
	} else if err := s.remove(ctx, s.lockKey); err != nil {
		return err
	}
	if attempts == 0 {
		return s.remove(ctx, s.attemptsK)
	}
	return s.set(ctx, s.attemptsK, strconv.Itoa(attempts))
}

// Clear removes every PIN key.
func (s *Store) Clear(ctx context.Context) error {
	for _, key := range []string{s.hashKey, s.attemptsK, s.lockKey} {
		if err := s.remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		if errors.Is(err, kv.ErrCorruptValue) {
			return "", ErrCorrupt
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string) error {
	if err := s.kv.Remove(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
