package kv

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedStore encrypts values before handing them to the wrapped store. The storage key is
// bound as associated data, so a value copied under another key fails to open.
type SealedStore struct {
	inner Store
	key   []byte
}

// Sealed wraps inner with XChaCha20-Poly1305 value encryption. key must be 32 bytes.
func Sealed(inner Store, key []byte) (*SealedStore, error) {
	if inner == nil {
		return nil, errors.New("kv: sealed store requires an inner store")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("kv: sealing key must be %d bytes", chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &SealedStore{inner: inner, key: k}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrCorruptValue
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", ErrCorruptValue
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", ErrCorruptValue
	}
	return string(plain), nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(ctx, key, base64.RawURLEncoding.EncodeToString(sealed))
}

func (s *SealedStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}
