package pinhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrPolicy is returned when a PIN does not satisfy the configured [Policy].
var ErrPolicy = errors.New("pin does not satisfy policy")

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds the accepted PIN length. PINs are ASCII digits only.
type Policy struct {
	MinLength int
	MaxLength int
}

// Check reports whether pin satisfies p.
func (p Policy) Check(pin string) error {
	if len(pin) < p.MinLength || len(pin) > p.MaxLength {
		return fmt.Errorf("%w: length must be between %d and %d digits", ErrPolicy, p.MinLength, p.MaxLength)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return fmt.Errorf("%w: digits only", ErrPolicy)
		}
	}
	return nil
}

// Argon2 hashes PINs into PHC strings.
type Argon2 struct {
	config Config
	policy Policy
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2 validates cfg and policy and returns a hasher.
func NewArgon2(cfg Config, policy Policy) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if policy.MinLength < 4 || policy.MaxLength < policy.MinLength {
		return nil, errors.New("pin policy requires 4 <= MinLength <= MaxLength")
	}
	return &Argon2{config: cfg, policy: policy}, nil
}

// Policy returns the PIN policy enforced by Hash.
func (a *Argon2) Policy() Policy {
	return a.policy
}

// Hash checks pin against the policy and returns its PHC encoding.
func (a *Argon2) Hash(pin string) (string, error) {
	if err := a.policy.Check(pin); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(pin), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares pin against encoded in constant time. The stored parameters are used, so
// hashes made under older settings keep verifying.
func (a *Argon2) Verify(pin string, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(pin), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	out := &parsedPHC{}
	for _, pair := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, errors.New("invalid parameter value")
		}
		switch name {
		case "m":
			out.memory = uint32(n)
		case "t":
			out.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("invalid parallelism parameter")
			}
			out.parallelism = uint8(n)
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if out.memory < minMemoryKB || out.time < minTimeCost || out.parallelism < minParallelism {
		return nil, errors.New("missing or weak parameters")
	}

	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	if out.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.hash) < int(minKeyLength) {
		return nil, errors.New("invalid hash")
	}
	return out, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("pin hash memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("pin hash time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("pin hash parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("pin hash salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("pin hash key length must be >= 16")
	}
	return nil
}
