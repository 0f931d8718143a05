package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/pinflow/kv"
)

var (
	// ErrNoToken is returned when no access token is stored or the token string is empty.
	ErrNoToken = errors.New("no token")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("token storage unavailable")
)

// Pair holds the bearer and refresh tokens as issued by the auth service.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether p carries no access token.
func (p Pair) Empty() bool {
	return p.AccessToken == ""
}

// Store persists a [Pair] under "<prefix>:token:access" and "<prefix>:token:refresh".
type Store struct {
	kv         kv.Store
	accessKey  string
	refreshKey string
}

// NewStore creates a token store.
func NewStore(store kv.Store, prefix string) *Store {
	return &Store{
		kv:         store,
		accessKey:  kv.Key(prefix, "token:access"),
		refreshKey: kv.Key(prefix, "token:refresh"),
	}
}

// Load returns the stored pair. Missing keys read as empty strings.
func (s *Store) Load(ctx context.Context) (Pair, error) {
	access, err := s.get(ctx, s.accessKey)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.get(ctx, s.refreshKey)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Save writes both tokens. An empty refresh token removes the stored one.
func (s *Store) Save(ctx context.Context, p Pair) error {
	if p.AccessToken == "" {
		return ErrNoToken
	}
	if err := s.kv.Set(ctx, s.accessKey, p.AccessToken); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if p.RefreshToken == "" {
		return s.remove(ctx, s.refreshKey)
	}
	if err := s.kv.Set(ctx, s.refreshKey, p.RefreshToken); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear removes both tokens.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.remove(ctx, s.accessKey); err != nil {
		return err
	}
	return s.remove(ctx, s.refreshKey)
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, kv.ErrNotFound) || errors.Is(err, kv.ErrCorruptValue) {
		return "", nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Store) remove(ctx context.Context, key string) error {
	if err := s.kv.Remove(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
