package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// ErrInvalid is returned when a token cannot be decoded, fails verification, or lacks exp.
var ErrInvalid = errors.New("token invalid")

// SigningMethod selects the JWT algorithm for verification and issuance.
type SigningMethod string

const (
	MethodNone    SigningMethod = ""
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Config configures a [Manager]. With MethodNone the manager decodes tokens without checking
// signatures and cannot issue.
type Config struct {
	SigningMethod SigningMethod
	// SigningKey is the HMAC secret or an Ed25519 private key (raw or PEM).
	SigningKey []byte
	// VerifyKey is an Ed25519 public key (raw or PEM). HS256 verifies with SigningKey.
	VerifyKey    []byte
	Issuer       string
	Audience     string
	ExpiryBuffer time.Duration
	Clock        clockwork.Clock
}

// Claims are the access-token claims understood by the client.
type Claims struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Manager decodes and issues access tokens.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager validates cfg and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ExpiryBuffer < 0 {
		return nil, errors.New("invalid expiry buffer")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	switch cfg.SigningMethod {
	case MethodNone:
	case MethodHS256:
		if len(cfg.SigningKey) == 0 {
			return nil, errors.New("hs256 requires signing key")
		}
	case MethodEd25519:
		if len(cfg.SigningKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.SigningKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKey) == 0 {
			if len(cfg.SigningKey) == 0 {
				return nil, errors.New("ed25519 requires verify key")
			}
			priv, _ := parseEdPrivateKey(cfg.SigningKey)
			cfg.VerifyKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.VerifyKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	options := []jwt.ParserOption{
		jwt.WithTimeFunc(cfg.Clock.Now),
		jwt.WithExpirationRequired(),
	}
	if cfg.SigningMethod != MethodNone {
		options = append(options, jwt.WithValidMethods([]string{methodFor(cfg.SigningMethod).Alg()}))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// Decode parses access and returns its claims. Expiry is not checked here.
func (m *Manager) Decode(access string) (*Claims, error) {
	if access == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	if m.config.SigningMethod == MethodNone {
		if _, _, err := m.parser.ParseUnverified(access, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	} else {
		_, err := m.parser.ParseWithClaims(access, claims, m.keyFunc)
		if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalid)
	}
	return claims, nil
}

// Valid reports whether access decodes and expires strictly after now plus the expiry buffer.
func (m *Manager) Valid(access string) bool {
	claims, err := m.Decode(access)
	if err != nil {
		return false
	}
	deadline := m.config.Clock.Now().Add(m.config.ExpiryBuffer)
	return claims.ExpiresAt.Time.After(deadline)
}

// ExpiresAt returns the exp claim of access.
func (m *Manager) ExpiresAt(access string) (time.Time, error) {
	claims, err := m.Decode(access)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

// Issue signs a token for subject valid for ttl. It is used by fake auth servers and tests.
func (m *Manager) Issue(subject string, claims Claims, ttl time.Duration) (string, error) {
	if m.config.SigningMethod == MethodNone {
		return "", errors.New("token issuance requires a signing method")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be > 0")
	}
	now := m.config.Clock.Now()
	claims.Subject = subject
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if m.config.Issuer != "" {
		claims.Issuer = m.config.Issuer
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(methodFor(m.config.SigningMethod), claims).SignedString(signKey)
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != methodFor(m.config.SigningMethod).Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.SigningKey, nil
	default:
		return parseEdPublicKey(m.config.VerifyKey)
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.SigningKey, nil
	default:
		if len(m.config.SigningKey) == 0 {
			return nil, errors.New("ed25519 issuance requires private key")
		}
		return parseEdPrivateKey(m.config.SigningKey)
	}
}

func methodFor(method SigningMethod) jwt.SigningMethod {
	if method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
