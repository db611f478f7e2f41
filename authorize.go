package grantd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// Response types and modes supported at the authorize endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"

	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// ValidatedAuthorizeRequest is the transient product of request validation.
// It lives for a single request: the interaction engine decides what to do
// with it and the responder turns it into a wire response.
type ValidatedAuthorizeRequest struct {
	Client              *domain.Client
	ClientID            string
	RedirectURI         string
	ResponseType        string
	ResponseMode        string
	Scopes              []string
	IsOpenID            bool
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Raw                 url.Values
}

// AuthorizeValidator checks raw authorize request parameters against client
// configuration and protocol rules. It never returns a Go error to the
// transport: every failure is a structured OAuth2 error pair.
type AuthorizeValidator struct {
	clients domain.ClientRepository
	logger  log.Logger
}

func NewAuthorizeValidator(clients domain.ClientRepository, logger log.Logger) *AuthorizeValidator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &AuthorizeValidator{clients: clients, logger: logger}
}

// Validate resolves the client and checks response_type, response_mode,
// scopes, redirect_uri and the PKCE parameters. On failure the returned
// request is nil except when the redirect URI itself already validated; in
// that case the partially validated request is returned alongside the error
// so the responder can decide whether the error is safe to redirect.
func (v *AuthorizeValidator) Validate(ctx context.Context, params url.Values) (*ValidatedAuthorizeRequest, *serrors.OAuth2Error) {
	req := &ValidatedAuthorizeRequest{
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		ResponseType:        params.Get("response_type"),
		ResponseMode:        params.Get("response_mode"),
		Scopes:              ParseScopes(params.Get("scope")),
		State:               params.Get("state"),
		Nonce:               params.Get("nonce"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
		Raw:                 params,
	}
	req.IsOpenID = containsScope(req.Scopes, ScopeOpenID)

	// Client and redirect URI come first: until both check out, nothing may
	// be sent back to the redirect target.
	if req.ClientID == "" {
		return nil, serrors.NewInvalidRequest("client_id is required")
	}
	client, err := v.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		v.logger.Debug(ctx, "authorize request for unknown client", map[string]interface{}{
			"client_id": req.ClientID,
		})
		return nil, serrors.NewInvalidClient("unknown client")
	}
	if !client.IsActive {
		return nil, serrors.NewInvalidClient("client is disabled")
	}
	req.Client = client

	if req.RedirectURI == "" {
		return nil, serrors.NewInvalidRequest("redirect_uri is required")
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		// Exact-match only. Echoing anything to an unregistered URI is an
		// open redirect.
		return nil, serrors.NewInvalidRequest("redirect_uri is not registered for this client")
	}

	// From here on the redirect URI is trusted; validation failures may be
	// returned to it when their code is safe.
	if oerr := v.validateProtocol(req); oerr != nil {
		return req, oerr
	}
	if oerr := v.validatePKCE(req); oerr != nil {
		return req, oerr
	}
	return req, nil
}

func (v *AuthorizeValidator) validateProtocol(req *ValidatedAuthorizeRequest) *serrors.OAuth2Error {
	switch req.ResponseType {
	case ResponseTypeCode:
		if !req.Client.HasGrantType("authorization_code") {
			return serrors.NewUnauthorizedClient("client may not use the authorization code flow")
		}
	case ResponseTypeToken:
		if !req.Client.HasGrantType("implicit") {
			return serrors.NewUnauthorizedClient("client may not use the implicit flow")
		}
	default:
		return serrors.NewUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported", req.ResponseType))
	}

	switch req.ResponseMode {
	case "":
		// Default response mode per response type.
		if req.ResponseType == ResponseTypeToken {
			req.ResponseMode = ResponseModeFragment
		} else {
			req.ResponseMode = ResponseModeQuery
		}
	case ResponseModeQuery:
		// Tokens must never land in a query string where proxies and
		// browser history can see them.
		if req.ResponseType == ResponseTypeToken {
			return serrors.NewInvalidRequest("response_mode query is not allowed for token responses")
		}
	case ResponseModeFragment, ResponseModeFormPost:
	default:
		return serrors.NewInvalidRequest(fmt.Sprintf("response_mode %q is not supported", req.ResponseMode))
	}

	if len(req.Scopes) == 0 {
		return serrors.NewInvalidScope("scope is required")
	}
	if scope, ok := req.Client.AllowsScopes(req.Scopes); !ok {
		return serrors.NewInvalidScope(fmt.Sprintf("scope %q is not allowed for this client", scope))
	}
	return nil
}

func (v *AuthorizeValidator) validatePKCE(req *ValidatedAuthorizeRequest) *serrors.OAuth2Error {
	if req.CodeChallenge == "" {
		if req.Client.RequirePKCE && req.ResponseType == ResponseTypeCode {
			return serrors.NewPKCERequired()
		}
		if req.CodeChallengeMethod != "" {
			return serrors.NewInvalidRequest("code_challenge_method without code_challenge")
		}
		return nil
	}

	if n := len(req.CodeChallenge); n < CodeChallengeMinLength || n > CodeChallengeMaxLength {
		return serrors.NewInvalidPKCE(fmt.Sprintf("code_challenge length must be between %d and %d characters",
			CodeChallengeMinLength, CodeChallengeMaxLength))
	}

	method := req.CodeChallengeMethod
	if method == "" {
		method = CodeChallengeMethodPlain
		req.CodeChallengeMethod = method
	}
	if !IsSupportedChallengeMethod(method) {
		return serrors.NewInvalidPKCE(fmt.Sprintf("transform %q is not supported", method))
	}
	if req.Client.RequirePKCES256 && method != CodeChallengeMethodS256 {
		return serrors.NewInvalidPKCE("client requires the S256 transform")
	}
	return nil
}
