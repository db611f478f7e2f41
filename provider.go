package grantd

import (
	"time"

	"github.com/pilab-dev/grantd/domain"
	"github.com/pilab-dev/grantd/log"
)

// Options configures a Provider. Records is the only mandatory dependency;
// everything else has a production default.
type Options struct {
	Records domain.GrantRecordStore
	Clients domain.ClientRepository

	Serializer GrantSerializer
	Handles    domain.HandleGenerator
	Clock      domain.Clock
	Logger     log.Logger

	// Hook is the optional custom interaction step consulted after login
	// and consent.
	Hook CustomInteractionHook

	// ErrorPageURL is the internal surface unsafe errors redirect to.
	ErrorPageURL string

	AuthorizationCodeLifetime time.Duration
	AccessTokenLifetime       time.Duration
	RefreshTokenLifetime      time.Duration

	DeviceFlow DeviceFlowOptions
}

// Provider bundles the typed grant stores and the protocol engines behind a
// single constructor, so binaries and tests wire one thing.
type Provider struct {
	AuthorizationCodes *GrantStore[domain.AuthorizationCode]
	RefreshTokens      *GrantStore[domain.RefreshToken]
	ReferenceTokens    *GrantStore[domain.ReferenceToken]
	Consents           *GrantStore[domain.Consent]
	DeviceCodes        *GrantStore[domain.DeviceAuthorization]
	UserCodes          *GrantStore[domain.UserCodeReference]
	DevicePolls        *GrantStore[domain.DevicePollMarker]
	ErrorReferences    *GrantStore[domain.ErrorReference]

	Validator   *AuthorizeValidator
	Interaction *InteractionEngine
	Responder   *AuthorizeResponder
	Tokens      *TokenService
	DeviceFlow  *DeviceFlowService

	// Clock is the time source every engine was wired with. Transports use
	// it too, so session expiry decisions stay deterministic under test.
	Clock domain.Clock
}

// NewProvider wires the full grant engine on top of the given record store.
func NewProvider(opts Options) *Provider {
	if opts.Serializer == nil {
		opts.Serializer = JSONSerializer{}
	}
	if opts.Handles == nil {
		opts.Handles = domain.CryptoHandleGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.ErrorPageURL == "" {
		opts.ErrorPageURL = "/oauth2/error"
	}

	p := &Provider{
		AuthorizationCodes: NewGrantStore[domain.AuthorizationCode](
			domain.GrantTypeAuthorizationCode, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		RefreshTokens: NewGrantStore[domain.RefreshToken](
			domain.GrantTypeRefreshToken, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		ReferenceTokens: NewGrantStore[domain.ReferenceToken](
			domain.GrantTypeReferenceToken, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		Consents: NewGrantStore[domain.Consent](
			domain.GrantTypeUserConsent, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		DeviceCodes: NewGrantStore[domain.DeviceAuthorization](
			domain.GrantTypeDeviceCode, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		UserCodes: NewGrantStore[domain.UserCodeReference](
			domain.GrantTypeUserCode, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		DevicePolls: NewGrantStore[domain.DevicePollMarker](
			domain.GrantTypeDevicePoll, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
		ErrorReferences: NewGrantStore[domain.ErrorReference](
			domain.GrantTypeErrorReference, opts.Records, opts.Serializer, opts.Handles, opts.Clock, opts.Logger),
	}

	p.Tokens = NewTokenService(p.ReferenceTokens, p.RefreshTokens, p.AuthorizationCodes,
		opts.Clock, opts.Logger, opts.AccessTokenLifetime, opts.RefreshTokenLifetime)
	p.Validator = NewAuthorizeValidator(opts.Clients, opts.Logger)
	p.Interaction = NewInteractionEngine(p.Consents, opts.Hook, opts.Clock, opts.Logger)
	p.Responder = NewAuthorizeResponder(p.AuthorizationCodes, p.Tokens, p.ErrorReferences,
		opts.Clock, opts.Logger, opts.ErrorPageURL, opts.AuthorizationCodeLifetime)
	p.DeviceFlow = NewDeviceFlowService(p.DeviceCodes, p.UserCodes, p.DevicePolls, p.Tokens,
		opts.Handles, opts.Clock, opts.Logger, opts.DeviceFlow)
	p.Clock = opts.Clock

	return p
}
