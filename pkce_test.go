package grantd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyCodeVerifierS256(t *testing.T) {
	// Worked example from RFC 7636 appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, VerifyCodeVerifier(challenge, CodeChallengeMethodS256, verifier))
	assert.False(t, VerifyCodeVerifier(challenge, CodeChallengeMethodS256, verifier+"x"))
	assert.False(t, VerifyCodeVerifier(challenge, CodeChallengeMethodPlain, verifier))
}

func TestVerifyCodeVerifierPlain(t *testing.T) {
	verifier := strings.Repeat("a", 43)

	assert.True(t, VerifyCodeVerifier(verifier, CodeChallengeMethodPlain, verifier))
	// An empty method defaults to plain.
	assert.True(t, VerifyCodeVerifier(verifier, "", verifier))
	assert.False(t, VerifyCodeVerifier(verifier, CodeChallengeMethodPlain, strings.Repeat("b", 43)))
}

func TestVerifyCodeVerifierRejectsEmptyAndUnknown(t *testing.T) {
	assert.False(t, VerifyCodeVerifier("", CodeChallengeMethodPlain, "verifier"))
	assert.False(t, VerifyCodeVerifier("challenge", CodeChallengeMethodPlain, ""))
	assert.False(t, VerifyCodeVerifier("challenge", "S512", "challenge"))
}

func TestIsSupportedChallengeMethod(t *testing.T) {
	assert.True(t, IsSupportedChallengeMethod(CodeChallengeMethodPlain))
	assert.True(t, IsSupportedChallengeMethod(CodeChallengeMethodS256))
	assert.False(t, IsSupportedChallengeMethod("s256"))
	assert.False(t, IsSupportedChallengeMethod(""))
}
