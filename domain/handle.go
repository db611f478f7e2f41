package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// HandleGenerator produces the raw opaque handles handed to clients as bearer
// codes and tokens. Implementations must be cryptographically unguessable.
type HandleGenerator interface {
	Generate() (string, error)
}

// CryptoHandleGenerator generates URL-safe handles from crypto/rand.
// The default 32 bytes give 256 bits of entropy.
type CryptoHandleGenerator struct {
	// Bytes is the number of random bytes per handle. Zero means 32.
	Bytes int
}

func (g CryptoHandleGenerator) Generate() (string, error) {
	n := g.Bytes
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random handle: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
