package grantd

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

type responderFixture struct {
	records   *fakeRecordStore
	clock     *fakeClock
	responder *AuthorizeResponder
	tokens    *TokenService
}

func newResponderFixture(t *testing.T) *responderFixture {
	t.Helper()
	records := newFakeRecordStore()
	clock := newFakeClock()
	tokens := newTestTokenService(records, clock)
	responder := NewAuthorizeResponder(
		tokens.authCodes,
		tokens,
		newTestStore[domain.ErrorReference](domain.GrantTypeErrorReference, records, clock),
		clock, nil, "https://sso.example.com/oauth2/error", 5*time.Minute,
	)
	return &responderFixture{records: records, clock: clock, responder: responder, tokens: tokens}
}

func codeRequest() *ValidatedAuthorizeRequest {
	return &ValidatedAuthorizeRequest{
		Client:       testClient(),
		ClientID:     "client-1",
		RedirectURI:  "https://app.example.com/cb",
		ResponseType: ResponseTypeCode,
		ResponseMode: ResponseModeQuery,
		Scopes:       []string{"openid"},
		State:        "xyz",
	}
}

func TestCompleteCodeQuery(t *testing.T) {
	f := newResponderFixture(t)
	ctx := context.Background()

	resp, err := f.responder.Complete(ctx, codeRequest(), authenticatedSession())
	require.NoError(t, err)
	assert.False(t, resp.IsError)

	target, err := url.Parse(resp.RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", target.Host)
	code := target.Query().Get("code")
	assert.NotEmpty(t, code)
	assert.Equal(t, "xyz", target.Query().Get("state"))

	// The minted code is redeemable.
	tokens, err := f.tokens.ExchangeAuthorizationCode(ctx, "client-1", code, "https://app.example.com/cb", "")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
}

func TestCompleteCodeCarriesPKCEBinding(t *testing.T) {
	f := newResponderFixture(t)
	ctx := context.Background()

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	req := codeRequest()
	req.CodeChallenge = S256Challenge(verifier)
	req.CodeChallengeMethod = CodeChallengeMethodS256

	resp, err := f.responder.Complete(ctx, req, authenticatedSession())
	require.NoError(t, err)
	target, err := url.Parse(resp.RedirectURI)
	require.NoError(t, err)
	code := target.Query().Get("code")

	_, err = f.tokens.ExchangeAuthorizationCode(ctx, "client-1", code, "https://app.example.com/cb", "wrong-verifier-wrong-verifier-wrong-verifier")
	var oerr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
}

func TestCompleteTokenFragment(t *testing.T) {
	f := newResponderFixture(t)

	req := codeRequest()
	req.ResponseType = ResponseTypeToken
	req.ResponseMode = ResponseModeFragment

	resp, err := f.responder.Complete(context.Background(), req, authenticatedSession())
	require.NoError(t, err)

	idx := strings.Index(resp.RedirectURI, "#")
	require.Positive(t, idx)
	assert.Equal(t, "https://app.example.com/cb", resp.RedirectURI[:idx])

	params, err := url.ParseQuery(resp.RedirectURI[idx+1:])
	require.NoError(t, err)
	assert.NotEmpty(t, params.Get("access_token"))
	assert.Equal(t, "Bearer", params.Get("token_type"))
	assert.Equal(t, "xyz", params.Get("state"))
	// No refresh token ever rides the front channel.
	assert.Empty(t, params.Get("refresh_token"))
}

func TestCompleteFormPost(t *testing.T) {
	f := newResponderFixture(t)

	req := codeRequest()
	req.ResponseMode = ResponseModeFormPost

	resp, err := f.responder.Complete(context.Background(), req, authenticatedSession())
	require.NoError(t, err)
	assert.Empty(t, resp.RedirectURI)
	assert.Contains(t, resp.FormPostHTML, `action="https://app.example.com/cb"`)
	assert.Contains(t, resp.FormPostHTML, `name="code"`)
	assert.Contains(t, resp.FormPostHTML, `name="state"`)
	assert.Contains(t, resp.FormPostHTML, `value="xyz"`)
}

func TestCompleteWithErrorSafeCodeRedirects(t *testing.T) {
	f := newResponderFixture(t)

	denied := serrors.NewAccessDenied("the user denied the authorization request")
	resp, err := f.responder.CompleteWithError(context.Background(), codeRequest(), denied)
	require.NoError(t, err)
	assert.True(t, resp.IsError)

	target, err := url.Parse(resp.RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", target.Host)
	assert.Equal(t, serrors.AccessDenied, target.Query().Get("error"))
	assert.Equal(t, "xyz", target.Query().Get("state"))
	// Query-mode error redirects always carry the placeholder fragment.
	assert.Equal(t, "_=_", target.Fragment)

	// The delivered error carries the request state for correlation; the
	// caller's error value is left untouched.
	assert.Equal(t, "xyz", resp.Error.State)
	assert.Empty(t, denied.State)
}

func TestCompleteWithErrorUnsafeCodeGoesInternal(t *testing.T) {
	f := newResponderFixture(t)
	ctx := context.Background()

	resp, err := f.responder.CompleteWithError(ctx, codeRequest(), serrors.NewServerError("boom"))
	require.NoError(t, err)
	assert.True(t, resp.IsError)

	target, err := url.Parse(resp.RedirectURI)
	require.NoError(t, err)
	// The client's redirect URI never sees a server_error.
	assert.Equal(t, "sso.example.com", target.Host)
	handle := target.Query().Get("errorId")
	require.NotEmpty(t, handle)

	ref, err := f.responder.LookupError(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, serrors.ServerError, ref.ErrorCode)
	assert.Equal(t, "boom", ref.Description)
}

func TestCompleteWithErrorUnknownRedirectGoesInternal(t *testing.T) {
	f := newResponderFixture(t)

	// Validation failed before the redirect URI was trusted.
	resp, err := f.responder.CompleteWithError(context.Background(), nil,
		serrors.NewInvalidClient("unknown client"))
	require.NoError(t, err)

	target, err := url.Parse(resp.RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "sso.example.com", target.Host)
	assert.NotEmpty(t, target.Query().Get("errorId"))
}

func TestErrorReferenceExpires(t *testing.T) {
	f := newResponderFixture(t)
	ctx := context.Background()

	resp, err := f.responder.CompleteWithError(ctx, nil, serrors.NewServerError("boom"))
	require.NoError(t, err)
	target, err := url.Parse(resp.RedirectURI)
	require.NoError(t, err)
	handle := target.Query().Get("errorId")

	f.clock.Advance(DefaultErrorReferenceLifetime + time.Second)
	_, err = f.responder.LookupError(ctx, handle)
	assert.ErrorIs(t, err, serrors.ErrGrantNotFound)
}

func TestCompleteWithErrorFragmentMode(t *testing.T) {
	f := newResponderFixture(t)

	req := codeRequest()
	req.ResponseType = ResponseTypeToken
	req.ResponseMode = ResponseModeFragment

	resp, err := f.responder.CompleteWithError(context.Background(), req,
		serrors.NewAccessDenied("the user denied the authorization request"))
	require.NoError(t, err)

	idx := strings.Index(resp.RedirectURI, "#")
	require.Positive(t, idx)
	params, err := url.ParseQuery(resp.RedirectURI[idx+1:])
	require.NoError(t, err)
	assert.Equal(t, serrors.AccessDenied, params.Get("error"))
}
