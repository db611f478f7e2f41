package grantd

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pilab-dev/grantd/domain"
)

// keySeparator is mixed between the raw handle and the grant type so the
// concatenation is unambiguous.
const keySeparator = ":"

// HashGrantKey derives the storage key for a raw handle and grant type.
// The derivation is deterministic and one-way: the persisted key never
// reveals the bearer handle, and the same handle hashes differently for
// different grant types.
func HashGrantKey(rawHandle string, grantType domain.GrantType) string {
	hasher := sha256.New()
	hasher.Write([]byte(rawHandle))
	hasher.Write([]byte(keySeparator))
	hasher.Write([]byte(grantType))
	return hex.EncodeToString(hasher.Sum(nil))
}
