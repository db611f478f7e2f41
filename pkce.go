package grantd

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code_challenge_method transforms supported by the server.
const (
	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// Bounds for code_challenge and code_verifier length per RFC 7636 section 4.1.
const (
	CodeChallengeMinLength = 43
	CodeChallengeMaxLength = 128
)

// IsSupportedChallengeMethod reports whether the transform is one the server
// implements.
func IsSupportedChallengeMethod(method string) bool {
	return method == CodeChallengeMethodPlain || method == CodeChallengeMethodS256
}

// S256Challenge computes the S256 transform of a code verifier:
// base64url(sha256(verifier)) without padding.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeVerifier checks a token-endpoint code_verifier against the
// challenge captured at authorize time. Comparison is constant time so the
// verifier cannot be probed byte by byte.
func VerifyCodeVerifier(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	var derived string
	switch method {
	case CodeChallengeMethodS256:
		derived = S256Challenge(verifier)
	case CodeChallengeMethodPlain, "":
		derived = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(derived)) == 1
}
