package grantd

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pilab-dev/grantd/domain"
)

func TestHashGrantKeyDeterministic(t *testing.T) {
	a := HashGrantKey("handle-1", domain.GrantTypeRefreshToken)
	b := HashGrantKey("handle-1", domain.GrantTypeRefreshToken)
	assert.Equal(t, a, b)

	sum := sha256.Sum256([]byte("handle-1:refresh_token"))
	assert.Equal(t, hex.EncodeToString(sum[:]), a)
}

func TestHashGrantKeySeparatesTypes(t *testing.T) {
	refresh := HashGrantKey("handle-1", domain.GrantTypeRefreshToken)
	access := HashGrantKey("handle-1", domain.GrantTypeReferenceToken)
	assert.NotEqual(t, refresh, access)
}

func TestHashGrantKeySeparatesHandles(t *testing.T) {
	a := HashGrantKey("handle-1", domain.GrantTypeRefreshToken)
	b := HashGrantKey("handle-2", domain.GrantTypeRefreshToken)
	assert.NotEqual(t, a, b)
}
