package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes the non-empty parts into a stable hex identifier. Part order matters.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
