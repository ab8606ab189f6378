// File: internal/secrets/generate.go
// Brief: Cryptographically strong secret generation for service credentials.

// Package secrets produces random credential material for the services
// stackup provisions. Every value is drawn from crypto/rand and restricted
// to character classes that survive shell, env-file, and URI contexts.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Class selects the alphabet a generated secret is drawn from.
type Class int

const (
	// Alphanumeric is upper+lower letters and digits. Safe in env files,
	// YAML scalars, and connection URIs without quoting.
	Alphanumeric Class = iota
	// LowerAlphanumeric matches MinIO access-key constraints.
	LowerAlphanumeric
	// Hex is lowercase hexadecimal, used for key material consumed as
	// raw entropy (SECRET_KEY_BASE and friends).
	Hex
)

const (
	alnumAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	lowerAlnumAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Alphabet returns the allowed character set for the class.
func (c Class) Alphabet() string {
	switch c {
	case LowerAlphanumeric:
		return lowerAlnumAlphabet
	case Hex:
		return "0123456789abcdef"
	default:
		return alnumAlphabet
	}
}

// Generate returns a random string of exactly length characters drawn
// from the class alphabet. Lengths outside [1, 256] are rejected.
func Generate(length int, class Class) (string, error) {
	if length < 1 || length > 256 {
		return "", fmt.Errorf("secret length %d out of range [1, 256]", length)
	}
	if class == Hex {
		// Hex secrets are generated byte-wise so the entropy is uniform.
		if length%2 != 0 {
			return "", fmt.Errorf("hex secret length %d must be even", length)
		}
		buf := make([]byte, length/2)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		return hex.EncodeToString(buf), nil
	}
	alphabet := class.Alphabet()
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random index: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// MustGenerate is Generate for lengths known valid at compile time.
// It panics only on random-source failure.
func MustGenerate(length int, class Class) string {
	s, err := Generate(length, class)
	if err != nil {
		panic(err)
	}
	return s
}
