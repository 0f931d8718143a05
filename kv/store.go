package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("kv: backend unavailable")
	// ErrCorruptValue is returned when a stored value cannot be opened.
	ErrCorruptValue = errors.New("kv: corrupt value")
)

// Store is the asynchronous secure storage primitive consumed by the session, PIN and token
// stores. Get returns ErrNotFound for absent keys; Remove of an absent key succeeds.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Key joins a namespace prefix and a record name.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}
