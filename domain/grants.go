package domain

import "time"

// AuthorizationCode is the payload behind an authorization_code grant.
// The PKCE challenge is captured at authorize time and verified when the
// code is exchanged at the token endpoint.
type AuthorizationCode struct {
	ClientID            string        `json:"client_id"`
	SubjectID           string        `json:"subject_id"`
	SessionID           string        `json:"session_id,omitempty"`
	RedirectURI         string        `json:"redirect_uri"`
	RequestedScopes     []string      `json:"requested_scopes"`
	Nonce               string        `json:"nonce,omitempty"`
	State               string        `json:"state,omitempty"`
	CodeChallenge       string        `json:"code_challenge,omitempty"`
	CodeChallengeMethod string        `json:"code_challenge_method,omitempty"`
	IsOpenID            bool          `json:"is_open_id"`
	CreationTime        time.Time     `json:"creation_time"`
	Lifetime            time.Duration `json:"lifetime"`
}

// RefreshToken is the payload behind a refresh_token grant. Rotation marks
// the old record consumed instead of deleting it, so replay of a rotated
// handle is detectable.
type RefreshToken struct {
	ClientID     string        `json:"client_id"`
	SubjectID    string        `json:"subject_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Scopes       []string      `json:"scopes"`
	CreationTime time.Time     `json:"creation_time"`
	Lifetime     time.Duration `json:"lifetime"`
}

// ReferenceToken is the payload behind an opaque access token. The bearer
// value is the raw handle; the store only ever sees its hash.
type ReferenceToken struct {
	ClientID     string        `json:"client_id"`
	SubjectID    string        `json:"subject_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Scopes       []string      `json:"scopes"`
	TokenType    string        `json:"token_type"`
	CreationTime time.Time     `json:"creation_time"`
	Lifetime     time.Duration `json:"lifetime"`
}

// Consent records a subject's remembered scope grant for a client.
type Consent struct {
	ClientID      string    `json:"client_id"`
	SubjectID     string    `json:"subject_id"`
	GrantedScopes []string  `json:"granted_scopes"`
	CreationTime  time.Time `json:"creation_time"`
}

// Covers reports whether the consent covers every requested scope.
func (c *Consent) Covers(scopes []string) bool {
	granted := make(map[string]struct{}, len(c.GrantedScopes))
	for _, s := range c.GrantedScopes {
		granted[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// ErrorReference is the payload persisted for errors that must not be leaked
// to a client redirect URI. The user agent only ever carries the opaque
// reference handle; the error-display surface resolves it server side.
type ErrorReference struct {
	ErrorCode    string    `json:"error"`
	Description  string    `json:"error_description,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	RedirectURI  string    `json:"redirect_uri,omitempty"`
	CreationTime time.Time `json:"creation_time"`
}
