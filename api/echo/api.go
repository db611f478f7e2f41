package echo

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/pilab-dev/grantd"
	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// SessionResolver extracts the authenticated browser session from a request.
// Implementations live in the surrounding application (cookie store, SSO
// proxy header); the grant engine only consumes the result.
type SessionResolver interface {
	Resolve(c echo.Context) (*domain.Session, error)
}

// OAuth2API exposes the grant engine over HTTP.
type OAuth2API struct {
	provider *grantd.Provider
	clients  domain.ClientRepository
	sessions SessionResolver
	logger   log.Logger

	issuer     string
	loginURL   string
	consentURL string
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(
	provider *grantd.Provider,
	clients domain.ClientRepository,
	sessions SessionResolver,
	logger log.Logger,
	issuer, loginURL, consentURL string,
) *OAuth2API {
	if logger == nil {
		logger = log.NewNop()
	}
	if loginURL == "" {
		loginURL = "/login"
	}
	if consentURL == "" {
		consentURL = "/consent"
	}
	return &OAuth2API{
		provider:   provider,
		clients:    clients,
		sessions:   sessions,
		logger:     logger,
		issuer:     issuer,
		loginURL:   loginURL,
		consentURL: consentURL,
	}
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/token", oa.TokenHandler)
	e.POST("/oauth2/revoke", oa.RevokeHandler)
	e.POST("/oauth2/device_authorization", oa.DeviceAuthorizationHandler)
	e.GET("/device", oa.DeviceQueryHandler)
	e.POST("/device", oa.DeviceVerificationHandler)
	e.GET("/oauth2/error", oa.ErrorPageHandler)

	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
}

// AuthorizeHandler drives the authorize pipeline: validation, the
// interaction decision, then response generation. UI outcomes (login,
// consent) are returned as redirects to the configured pages with the
// original request preserved in return_url.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	params := url.Values(c.QueryParams())
	if c.Request().Method == http.MethodPost {
		formParams, err := c.FormParams()
		if err != nil {
			return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed request body"))
		}
		params = url.Values(formParams)
	}

	req, oerr := oa.provider.Validator.Validate(ctx, params)
	if oerr != nil {
		return oa.completeWithError(c, req, oerr)
	}

	session, err := oa.sessions.Resolve(c)
	if err != nil {
		oa.logger.Error(ctx, "failed to resolve session", err)
		return oa.completeWithError(c, req, serrors.NewServerError("session resolution failed"))
	}

	result, err := oa.provider.Interaction.Decide(ctx, req, session, consentDecisionFrom(params))
	if err != nil {
		oa.logger.Error(ctx, "interaction decision failed", err)
		return oa.completeWithError(c, req, serrors.NewServerError("interaction decision failed"))
	}

	switch result.Kind {
	case grantd.InteractionLogin:
		return c.Redirect(http.StatusFound, oa.uiRedirect(oa.loginURL, c))
	case grantd.InteractionConsent:
		return c.Redirect(http.StatusFound, oa.uiRedirect(oa.consentURL, c))
	case grantd.InteractionRedirect:
		return c.Redirect(http.StatusFound, result.RedirectURL)
	case grantd.InteractionError:
		return oa.completeWithError(c, req, result.Error)
	}

	resp, err := oa.provider.Responder.Complete(ctx, req, session)
	if err != nil {
		oa.logger.Error(ctx, "failed to build authorize response", err)
		return oa.completeWithError(c, req, serrors.NewServerError("failed to complete the request"))
	}
	return oa.deliver(c, resp)
}

// consentDecisionFrom reads an explicit consent answer posted back from the
// consent page, if any.
func consentDecisionFrom(params url.Values) *grantd.ConsentDecision {
	switch params.Get("consent_action") {
	case "grant":
		return &grantd.ConsentDecision{
			Granted:       true,
			GrantedScopes: grantd.ParseScopes(params.Get("granted_scopes")),
			Remember:      params.Get("remember") == "true",
		}
	case "deny":
		return &grantd.ConsentDecision{Granted: false}
	default:
		return nil
	}
}

func (oa *OAuth2API) uiRedirect(page string, c echo.Context) string {
	return page + "?return_url=" + url.QueryEscape(c.Request().URL.RequestURI())
}

func (oa *OAuth2API) completeWithError(c echo.Context, req *grantd.ValidatedAuthorizeRequest, oerr *serrors.OAuth2Error) error {
	resp, err := oa.provider.Responder.CompleteWithError(c.Request().Context(), req, oerr)
	if err != nil {
		oa.logger.Error(c.Request().Context(), "failed to build error response", err)
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
	}
	return oa.deliver(c, resp)
}

func (oa *OAuth2API) deliver(c echo.Context, resp *grantd.AuthorizeResponse) error {
	if resp.FormPostHTML != "" {
		return c.HTML(http.StatusOK, resp.FormPostHTML)
	}
	return c.Redirect(http.StatusFound, resp.RedirectURI)
}

// authenticateClient resolves the requesting client from the form and, for
// confidential clients, verifies the presented secret.
func (oa *OAuth2API) authenticateClient(c echo.Context) (*domain.Client, error) {
	client, err := oa.clients.GetClient(c.Request().Context(), c.FormValue("client_id"))
	if err != nil {
		return nil, err
	}
	if client.Type == domain.ClientTypeConfidential && !client.CheckSecret(c.FormValue("client_secret")) {
		return nil, serrors.ErrInvalidClientCredentials
	}
	return client, nil
}

// clientAuthError renders a failed client authentication. Both outcomes
// answer invalid_client; a bad secret is logged distinctly from an unknown
// client so operators can tell credential rot from misconfiguration.
func (oa *OAuth2API) clientAuthError(c echo.Context, err error) error {
	if errors.Is(err, serrors.ErrInvalidClientCredentials) {
		oa.logger.Warn(c.Request().Context(), "client presented invalid credentials", map[string]interface{}{
			"client_id": c.FormValue("client_id"),
		})
		return c.JSON(http.StatusUnauthorized, serrors.NewInvalidClient("client authentication failed"))
	}
	return c.JSON(http.StatusUnauthorized, serrors.NewInvalidClient("unknown client"))
}

// TokenHandler serves the token endpoint for the authorization_code,
// refresh_token and device code grants.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID := c.FormValue("client_id")
	client, err := oa.authenticateClient(c)
	if err != nil {
		return oa.clientAuthError(c, err)
	}

	var resp *grantd.TokenResponse
	switch grantType := c.FormValue("grant_type"); grantType {
	case "authorization_code":
		resp, err = oa.provider.Tokens.ExchangeAuthorizationCode(ctx, clientID,
			c.FormValue("code"), c.FormValue("redirect_uri"), c.FormValue("code_verifier"))

	case "refresh_token":
		resp, err = oa.provider.Tokens.RedeemRefreshToken(ctx, clientID, c.FormValue("refresh_token"))

	case grantd.DeviceGrantType:
		if !client.HasGrantType(grantd.DeviceGrantType) {
			return c.JSON(http.StatusBadRequest, serrors.NewUnauthorizedClient("client may not use the device flow"))
		}
		resp, err = oa.provider.DeviceFlow.Exchange(ctx, clientID, c.FormValue("device_code"))

	default:
		return c.JSON(http.StatusBadRequest, serrors.NewUnsupportedGrantType())
	}

	if err != nil {
		return oa.tokenError(c, err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, resp)
}

// tokenError maps engine errors onto token endpoint responses. Protocol
// errors pass through; everything else is hidden behind server_error.
func (oa *OAuth2API) tokenError(c echo.Context, err error) error {
	var oerr *serrors.OAuth2Error
	if errors.As(err, &oerr) {
		return c.JSON(http.StatusBadRequest, oerr)
	}
	oa.logger.Error(c.Request().Context(), "token request failed", err)
	return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
}

// RevokeHandler serves RFC 7009 token revocation.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := oa.authenticateClient(c); err != nil {
		return oa.clientAuthError(c, err)
	}

	if err := oa.provider.Tokens.RevokeToken(ctx, c.FormValue("token")); err != nil {
		oa.logger.Error(ctx, "token revocation failed", err)
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
	}
	return c.NoContent(http.StatusOK)
}

// DeviceAuthorizationHandler serves RFC 8628 section 3.1/3.2: a device asks
// for a device/user code pair to start the flow.
func (oa *OAuth2API) DeviceAuthorizationHandler(c echo.Context) error {
	ctx := c.Request().Context()

	client, err := oa.authenticateClient(c)
	if err != nil {
		return oa.clientAuthError(c, err)
	}
	if !client.HasGrantType(grantd.DeviceGrantType) {
		return c.JSON(http.StatusBadRequest, serrors.NewUnauthorizedClient("client may not use the device flow"))
	}

	scopes := grantd.ParseScopes(c.FormValue("scope"))
	if scope, ok := client.AllowsScopes(scopes); !ok {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidScope("scope "+scope+" is not allowed for this client"))
	}

	resp, err := oa.provider.DeviceFlow.RequestAuthorization(ctx, client.ID, scopes)
	if err != nil {
		oa.logger.Error(ctx, "device authorization request failed", err)
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, resp)
}

// DeviceQueryHandler lets the verification UI look up what a user code is
// asking for before the user approves it.
func (oa *OAuth2API) DeviceQueryHandler(c echo.Context) error {
	ctx := c.Request().Context()

	auth, err := oa.provider.DeviceFlow.FindByUserCode(ctx, c.QueryParam("user_code"))
	if err != nil {
		if errors.Is(err, serrors.ErrUserCodeNotFound) {
			return c.JSON(http.StatusNotFound, serrors.NewInvalidRequest("unknown or expired user code"))
		}
		oa.logger.Error(ctx, "user code lookup failed", err)
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"client_id":        auth.ClientID,
		"requested_scopes": auth.RequestedScopes,
		"is_authorized":    auth.IsAuthorized,
	})
}

// DeviceVerificationHandler records the user's approve/deny decision for a
// user code. Requires an authenticated session.
func (oa *OAuth2API) DeviceVerificationHandler(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := oa.sessions.Resolve(c)
	if err != nil || !session.IsAuthenticated(oa.provider.Clock.Now()) {
		return c.JSON(http.StatusUnauthorized, serrors.NewInvalidRequest("authentication required"))
	}

	userCode := c.FormValue("user_code")
	switch c.FormValue("action") {
	case "deny":
		err = oa.provider.DeviceFlow.Deny(ctx, userCode, session.SubjectID)
	default:
		err = oa.provider.DeviceFlow.Approve(ctx, userCode, session.SubjectID)
	}

	if err != nil {
		if errors.Is(err, serrors.ErrUserCodeNotFound) {
			return c.JSON(http.StatusNotFound, serrors.NewInvalidRequest("unknown or expired user code"))
		}
		oa.logger.Error(ctx, "device verification failed", err)
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorPageHandler resolves a persisted error reference for the internal
// error surface.
func (oa *OAuth2API) ErrorPageHandler(c echo.Context) error {
	ref, err := oa.provider.Responder.LookupError(c.Request().Context(), c.QueryParam("errorId"))
	if err != nil {
		return c.JSON(http.StatusNotFound, serrors.NewInvalidRequest("unknown error reference"))
	}
	return c.JSON(http.StatusOK, ref)
}

// OpenIDConfigurationHandler serves a minimal discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"issuer":                        oa.issuer,
		"authorization_endpoint":        oa.issuer + "/oauth2/authorize",
		"token_endpoint":                oa.issuer + "/oauth2/token",
		"revocation_endpoint":           oa.issuer + "/oauth2/revoke",
		"device_authorization_endpoint": oa.issuer + "/oauth2/device_authorization",
		"response_types_supported":      []string{grantd.ResponseTypeCode, grantd.ResponseTypeToken},
		"response_modes_supported":      []string{grantd.ResponseModeQuery, grantd.ResponseModeFragment, grantd.ResponseModeFormPost},
		"grant_types_supported":         []string{"authorization_code", "refresh_token", "implicit", grantd.DeviceGrantType},
		"code_challenge_methods_supported": []string{
			grantd.CodeChallengeMethodPlain, grantd.CodeChallengeMethodS256,
		},
	})
}
