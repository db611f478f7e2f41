package grantd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// Well-known scopes the engine gives meaning to.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// Default token lifetimes.
const (
	DefaultAccessTokenLifetime  = time.Hour
	DefaultRefreshTokenLifetime = 30 * 24 * time.Hour
)

// TokenResponse is the RFC 6749 section 5.1 token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenService mints and redeems the reference tokens backing the code,
// implicit, refresh and device grants. Access tokens are opaque handles; the
// hashed record is all the server keeps.
type TokenService struct {
	accessTokens  *GrantStore[domain.ReferenceToken]
	refreshTokens *GrantStore[domain.RefreshToken]
	authCodes     *GrantStore[domain.AuthorizationCode]
	clock         domain.Clock
	logger        log.Logger

	accessTokenLifetime  time.Duration
	refreshTokenLifetime time.Duration
}

// NewTokenService creates the token engine.
func NewTokenService(
	accessTokens *GrantStore[domain.ReferenceToken],
	refreshTokens *GrantStore[domain.RefreshToken],
	authCodes *GrantStore[domain.AuthorizationCode],
	clock domain.Clock,
	logger log.Logger,
	accessTokenLifetime, refreshTokenLifetime time.Duration,
) *TokenService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if accessTokenLifetime <= 0 {
		accessTokenLifetime = DefaultAccessTokenLifetime
	}
	if refreshTokenLifetime <= 0 {
		refreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	return &TokenService{
		accessTokens:         accessTokens,
		refreshTokens:        refreshTokens,
		authCodes:            authCodes,
		clock:                clock,
		logger:               logger,
		accessTokenLifetime:  accessTokenLifetime,
		refreshTokenLifetime: refreshTokenLifetime,
	}
}

// IssueTokens mints a fresh access token, and a refresh token when
// withRefresh is set, for the given subject and client.
func (t *TokenService) IssueTokens(ctx context.Context, clientID, subjectID, sessionID string, scopes []string, withRefresh bool) (*TokenResponse, error) {
	now := t.clock.Now()

	access := &domain.ReferenceToken{
		ClientID:     clientID,
		SubjectID:    subjectID,
		SessionID:    sessionID,
		Scopes:       scopes,
		TokenType:    "Bearer",
		CreationTime: now,
		Lifetime:     t.accessTokenLifetime,
	}
	meta := GrantMeta{
		ClientID:  clientID,
		SubjectID: subjectID,
		SessionID: sessionID,
		Lifetime:  t.accessTokenLifetime,
	}
	accessHandle, err := t.accessTokens.Create(ctx, access, meta)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: accessHandle,
		TokenType:   "Bearer",
		ExpiresIn:   int(t.accessTokenLifetime.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if withRefresh {
		refresh := &domain.RefreshToken{
			ClientID:     clientID,
			SubjectID:    subjectID,
			SessionID:    sessionID,
			Scopes:       scopes,
			CreationTime: now,
			Lifetime:     t.refreshTokenLifetime,
		}
		refreshMeta := meta
		refreshMeta.Lifetime = t.refreshTokenLifetime
		refreshHandle, err := t.refreshTokens.Create(ctx, refresh, refreshMeta)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refreshHandle
	}

	t.logger.Debug(ctx, "tokens issued", map[string]interface{}{
		"client_id":    clientID,
		"subject_id":   subjectID,
		"with_refresh": withRefresh,
	})
	return resp, nil
}

// ExchangeAuthorizationCode redeems an authorization code for tokens. The
// code is bound to the client, the redirect URI and, when a PKCE challenge
// was recorded, the presented verifier. The code is deleted before tokens are
// minted so a replay can never obtain a second set.
func (t *TokenService) ExchangeAuthorizationCode(ctx context.Context, clientID, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	payload, _, err := t.authCodes.GetRecord(ctx, code)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil, serrors.NewInvalidGrant("authorization code is invalid or expired")
		}
		return nil, err
	}

	if payload.ClientID != clientID {
		return nil, serrors.NewInvalidGrant("authorization code was issued to another client")
	}
	if payload.RedirectURI != redirectURI {
		return nil, serrors.NewInvalidGrant("redirect_uri does not match the authorization request")
	}
	if payload.CodeChallenge != "" {
		if !VerifyCodeVerifier(payload.CodeChallenge, payload.CodeChallengeMethod, codeVerifier) {
			return nil, serrors.NewInvalidGrant("PKCE verification failed")
		}
	} else if codeVerifier != "" {
		return nil, serrors.NewInvalidGrant("code_verifier without a recorded challenge")
	}

	// One-time use: the code dies before tokens exist.
	if err := t.authCodes.Remove(ctx, code); err != nil {
		return nil, err
	}

	withRefresh := containsScope(payload.RequestedScopes, ScopeOfflineAccess)
	return t.IssueTokens(ctx, clientID, payload.SubjectID, payload.SessionID, payload.RequestedScopes, withRefresh)
}

// RedeemRefreshToken rotates a refresh token: the presented handle is marked
// consumed and a fresh access/refresh pair is minted. Presenting an already
// consumed handle is treated as replay and refused.
func (t *TokenService) RedeemRefreshToken(ctx context.Context, clientID, refreshToken string) (*TokenResponse, error) {
	payload, record, err := t.refreshTokens.GetRecord(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil, serrors.NewInvalidGrant("refresh token is invalid or expired")
		}
		return nil, err
	}

	if payload.ClientID != clientID {
		return nil, serrors.NewInvalidGrant("refresh token was issued to another client")
	}
	if record.IsConsumed() {
		t.logger.Warn(ctx, "consumed refresh token presented again, possible replay", map[string]interface{}{
			"client_id":  clientID,
			"subject_id": payload.SubjectID,
		})
		return nil, serrors.NewInvalidGrant("refresh token has already been used")
	}

	if err := t.refreshTokens.MarkConsumed(ctx, refreshToken); err != nil {
		return nil, err
	}

	return t.IssueTokens(ctx, clientID, payload.SubjectID, payload.SessionID, payload.Scopes, true)
}

// ValidateAccessToken resolves an opaque access token to its payload.
// Unknown, expired and mistyped handles read as errors.ErrGrantNotFound.
func (t *TokenService) ValidateAccessToken(ctx context.Context, accessToken string) (*domain.ReferenceToken, error) {
	return t.accessTokens.Get(ctx, accessToken)
}

// RevokeToken removes the grant behind a presented token handle. Both access
// and refresh tokens are tried; per RFC 7009 an unknown token is not an
// error.
func (t *TokenService) RevokeToken(ctx context.Context, token string) error {
	if err := t.accessTokens.Remove(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	if err := t.refreshTokens.Remove(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeSubjectTokens removes every token grant for the subject, optionally
// narrowed to one client. Used when an account is disabled or a session is
// force-closed.
func (t *TokenService) RevokeSubjectTokens(ctx context.Context, subjectID, clientID string) error {
	if err := t.accessTokens.RemoveAll(ctx, subjectID, clientID); err != nil {
		return err
	}
	return t.refreshTokens.RemoveAll(ctx, subjectID, clientID)
}

// ParseScopes splits a space separated scope string into its scopes.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
