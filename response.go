package grantd

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// Default lifetimes for artifacts minted by the responder.
const (
	DefaultAuthorizationCodeLifetime = 5 * time.Minute
	DefaultErrorReferenceLifetime    = 5 * time.Minute
)

// AuthorizeResponse is the rendered outcome of an authorize request: a
// redirect target for the query and fragment modes, or a self-submitting
// HTML document for form_post.
type AuthorizeResponse struct {
	ResponseMode string
	// RedirectURI is the fully encoded target for query/fragment responses,
	// and for the internal error surface on unsafe errors.
	RedirectURI string
	// FormPostHTML carries the auto-submitting form for form_post responses.
	FormPostHTML string
	IsError      bool
	Error        *serrors.OAuth2Error
}

// formPostTemplate renders the form_post response mode: an auto-submitting
// POST back to the client's redirect URI.
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><meta http-equiv="cache-control" content="no-store"/><title>Submitting…</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $values := .Params}}{{range $values}}
<input type="hidden" name="{{$name}}" value="{{.}}"/>
{{- end}}{{end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

// AuthorizeResponder turns an issuance decision or a validation error into
// the final protocol response. Safe errors are encoded into the client's
// redirect URI exactly like a success; everything else is persisted under an
// opaque reference and routed to the internal error surface.
type AuthorizeResponder struct {
	authCodes *GrantStore[domain.AuthorizationCode]
	tokens    *TokenService
	errorRefs *GrantStore[domain.ErrorReference]
	clock     domain.Clock
	logger    log.Logger

	errorPageURL     string
	authCodeLifetime time.Duration
	errorRefLifetime time.Duration
}

// NewAuthorizeResponder creates the responder. errorPageURL is the internal
// error-display surface unsafe errors are redirected to.
func NewAuthorizeResponder(
	authCodes *GrantStore[domain.AuthorizationCode],
	tokens *TokenService,
	errorRefs *GrantStore[domain.ErrorReference],
	clock domain.Clock,
	logger log.Logger,
	errorPageURL string,
	authCodeLifetime time.Duration,
) *AuthorizeResponder {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if authCodeLifetime <= 0 {
		authCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	return &AuthorizeResponder{
		authCodes:        authCodes,
		tokens:           tokens,
		errorRefs:        errorRefs,
		clock:            clock,
		logger:           logger,
		errorPageURL:     errorPageURL,
		authCodeLifetime: authCodeLifetime,
		errorRefLifetime: DefaultErrorReferenceLifetime,
	}
}

// Complete mints the artifact for a request the interaction engine cleared
// for issuance and renders the success response.
func (r *AuthorizeResponder) Complete(ctx context.Context, req *ValidatedAuthorizeRequest, session *domain.Session) (*AuthorizeResponse, error) {
	params := url.Values{}

	switch req.ResponseType {
	case ResponseTypeCode:
		code, err := r.mintAuthorizationCode(ctx, req, session)
		if err != nil {
			return nil, err
		}
		params.Set("code", code)

	case ResponseTypeToken:
		resp, err := r.tokens.IssueTokens(ctx, req.ClientID, session.SubjectID, session.ID, req.Scopes, false)
		if err != nil {
			return nil, err
		}
		params.Set("access_token", resp.AccessToken)
		params.Set("token_type", resp.TokenType)
		params.Set("expires_in", strconv.Itoa(resp.ExpiresIn))
		if resp.Scope != "" {
			params.Set("scope", resp.Scope)
		}

	default:
		return nil, fmt.Errorf("unsupported response type %q reached the responder", req.ResponseType)
	}

	if req.State != "" {
		params.Set("state", req.State)
	}
	return r.render(req.RedirectURI, req.ResponseMode, params, false, nil)
}

// CompleteWithError renders a protocol error. Safe errors go to the client's
// redirect URI; unsafe ones, and errors raised before the redirect URI was
// validated, are persisted and routed to the internal error page.
func (r *AuthorizeResponder) CompleteWithError(ctx context.Context, req *ValidatedAuthorizeRequest, oerr *serrors.OAuth2Error) (*AuthorizeResponse, error) {
	redirectKnown := req != nil && req.Client != nil && req.RedirectURI != ""
	if !redirectKnown || !serrors.IsSafeRedirect(oerr.Code) {
		return r.internalError(ctx, req, oerr)
	}

	if req.State != "" {
		oerr = oerr.WithState(req.State)
	}
	params := url.Values{}
	params.Set("error", oerr.Code)
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	if oerr.State != "" {
		params.Set("state", oerr.State)
	}
	return r.render(req.RedirectURI, req.ResponseMode, params, true, oerr)
}

// LookupError resolves a persisted error reference for the error-display
// surface.
func (r *AuthorizeResponder) LookupError(ctx context.Context, reference string) (*domain.ErrorReference, error) {
	return r.errorRefs.Get(ctx, reference)
}

func (r *AuthorizeResponder) mintAuthorizationCode(ctx context.Context, req *ValidatedAuthorizeRequest, session *domain.Session) (string, error) {
	now := r.clock.Now()
	payload := &domain.AuthorizationCode{
		ClientID:            req.ClientID,
		SubjectID:           session.SubjectID,
		SessionID:           session.ID,
		RedirectURI:         req.RedirectURI,
		RequestedScopes:     req.Scopes,
		Nonce:               req.Nonce,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IsOpenID:            req.IsOpenID,
		CreationTime:        now,
		Lifetime:            r.authCodeLifetime,
	}
	meta := GrantMeta{
		ClientID:  req.ClientID,
		SubjectID: session.SubjectID,
		SessionID: session.ID,
		Lifetime:  r.authCodeLifetime,
	}
	return r.authCodes.Create(ctx, payload, meta)
}

// internalError persists the error under an opaque reference and redirects
// the user agent to the error page. The client-controlled redirect URI never
// sees the error detail.
func (r *AuthorizeResponder) internalError(ctx context.Context, req *ValidatedAuthorizeRequest, oerr *serrors.OAuth2Error) (*AuthorizeResponse, error) {
	ref := &domain.ErrorReference{
		ErrorCode:    oerr.Code,
		Description:  oerr.Description,
		CreationTime: r.clock.Now(),
	}
	meta := GrantMeta{Lifetime: r.errorRefLifetime}
	if req != nil {
		ref.ClientID = req.ClientID
		ref.RedirectURI = req.RedirectURI
		meta.ClientID = req.ClientID
	}

	handle, err := r.errorRefs.Create(ctx, ref, meta)
	if err != nil {
		return nil, err
	}
	r.logger.Error(ctx, "authorize request failed, routing to error surface", oerr,
		map[string]interface{}{"error_id": handle})

	target := r.errorPageURL
	if strings.Contains(target, "?") {
		target += "&errorId=" + url.QueryEscape(handle)
	} else {
		target += "?errorId=" + url.QueryEscape(handle)
	}
	return &AuthorizeResponse{
		ResponseMode: ResponseModeQuery,
		RedirectURI:  target,
		IsError:      true,
		Error:        oerr,
	}, nil
}

// render encodes the response parameters into the redirect URI according to
// the response mode.
func (r *AuthorizeResponder) render(redirectURI, mode string, params url.Values, isError bool, oerr *serrors.OAuth2Error) (*AuthorizeResponse, error) {
	resp := &AuthorizeResponse{
		ResponseMode: mode,
		IsError:      isError,
		Error:        oerr,
	}

	switch mode {
	case ResponseModeQuery:
		target, err := url.Parse(redirectURI)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect URI: %w", err)
		}
		query := target.Query()
		for name, values := range params {
			for _, v := range values {
				query.Add(name, v)
			}
		}
		target.RawQuery = query.Encode()
		if isError && target.Fragment == "" {
			// Placeholder fragment so a fragment-less error redirect cannot
			// inherit an attacker-supplied fragment downstream.
			target.Fragment = "_=_"
		}
		resp.RedirectURI = target.String()

	case ResponseModeFragment:
		base := redirectURI
		if idx := strings.Index(base, "#"); idx >= 0 {
			base = base[:idx]
		}
		resp.RedirectURI = base + "#" + params.Encode()

	case ResponseModeFormPost:
		var buf bytes.Buffer
		err := formPostTemplate.Execute(&buf, map[string]interface{}{
			"Action": redirectURI,
			"Params": params,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render form_post response: %w", err)
		}
		resp.FormPostHTML = buf.String()

	default:
		return nil, fmt.Errorf("unsupported response mode %q", mode)
	}

	return resp, nil
}
