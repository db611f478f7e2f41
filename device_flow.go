package grantd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// DeviceGrantType is the token endpoint grant_type for the device flow.
const DeviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Defaults for the device authorization flow (RFC 8628).
const (
	DefaultDeviceCodeLifetime = 10 * time.Minute
	DefaultPollInterval       = 5 * time.Second

	// maxUserCodeAttempts bounds collision retries during user code
	// generation. Hitting the bound means the code space is too small for
	// the number of live codes and must fail loudly.
	maxUserCodeAttempts = 5
)

// DeviceFlowOptions tunes the device authorization flow.
type DeviceFlowOptions struct {
	// Lifetime of the device/user code pair. Defaults to 10 minutes.
	Lifetime time.Duration
	// PollInterval the device must respect between token requests.
	PollInterval time.Duration
	// VerificationURI shown to the user, e.g. "https://sso.example.com/device".
	VerificationURI string
	// UserCodeType selects the registered user code generator.
	UserCodeType string
}

// DeviceAuthorizationResponse is the RFC 8628 section 3.2 wire payload.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// DeviceFlowService implements the two-legged device authorization flow: the
// device polls with its device code while the user approves or denies the
// paired user code from a browser. The canonical state lives in a single
// device_code grant; the user_code grant is only a pointer at it, so there is
// exactly one record to mutate and both handles resolve to the same state.
type DeviceFlowService struct {
	deviceCodes *GrantStore[domain.DeviceAuthorization]
	userCodes   *GrantStore[domain.UserCodeReference]
	pollMarkers *GrantStore[domain.DevicePollMarker]
	tokens      *TokenService
	handles     domain.HandleGenerator
	generators  map[string]UserCodeGenerator
	clock       domain.Clock
	logger      log.Logger
	opts        DeviceFlowOptions
}

// NewDeviceFlowService creates the device flow engine. The numeric and
// charset user code generators are registered out of the box; additional
// formats can be added with RegisterUserCodeGenerator.
func NewDeviceFlowService(
	deviceCodes *GrantStore[domain.DeviceAuthorization],
	userCodes *GrantStore[domain.UserCodeReference],
	pollMarkers *GrantStore[domain.DevicePollMarker],
	tokens *TokenService,
	handles domain.HandleGenerator,
	clock domain.Clock,
	logger log.Logger,
	opts DeviceFlowOptions,
) *DeviceFlowService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultDeviceCodeLifetime
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.UserCodeType == "" {
		opts.UserCodeType = UserCodeTypeNumeric
	}
	return &DeviceFlowService{
		deviceCodes: deviceCodes,
		userCodes:   userCodes,
		pollMarkers: pollMarkers,
		tokens:      tokens,
		handles:     handles,
		generators: map[string]UserCodeGenerator{
			UserCodeTypeNumeric: NumericUserCodeGenerator{},
			UserCodeTypeCharset: CharsetUserCodeGenerator{},
		},
		clock:  clock,
		logger: logger,
		opts:   opts,
	}
}

// RegisterUserCodeGenerator adds or replaces a user code generator for the
// given user code type.
func (s *DeviceFlowService) RegisterUserCodeGenerator(codeType string, gen UserCodeGenerator) {
	s.generators[codeType] = gen
}

// RequestAuthorization starts a device flow for the client: it mints a
// device/user code pair, persists the pending authorization and returns the
// payload the device relays to the user.
func (s *DeviceFlowService) RequestAuthorization(ctx context.Context, clientID string, scopes []string) (*DeviceAuthorizationResponse, error) {
	deviceCode, err := s.handles.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device code: %w", err)
	}

	displayCode, userCode, err := s.generateUserCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	auth := &domain.DeviceAuthorization{
		ClientID:        clientID,
		RequestedScopes: scopes,
		IsOpenID:        containsScope(scopes, ScopeOpenID),
		UserCode:        userCode,
		CreationTime:    now,
		Lifetime:        s.opts.Lifetime,
	}

	meta := GrantMeta{ClientID: clientID, Lifetime: s.opts.Lifetime}
	if err := s.deviceCodes.CreateWithHandle(ctx, deviceCode, auth, meta); err != nil {
		return nil, err
	}
	ref := &domain.UserCodeReference{DeviceCodeKey: s.deviceCodes.HashedKey(deviceCode)}
	if err := s.userCodes.CreateWithHandle(ctx, userCode, ref, meta); err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "device authorization started", map[string]interface{}{
		"client_id": clientID,
	})

	verificationURIComplete := ""
	if s.opts.VerificationURI != "" {
		verificationURIComplete = s.opts.VerificationURI + "?user_code=" + url.QueryEscape(displayCode)
	}

	return &DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                displayCode,
		VerificationURI:         s.opts.VerificationURI,
		VerificationURIComplete: verificationURIComplete,
		ExpiresIn:               int(s.opts.Lifetime.Seconds()),
		Interval:                int(s.opts.PollInterval.Seconds()),
	}, nil
}

// generateUserCode draws codes from the configured generator until one does
// not collide with a live code, within the bounded retry budget.
func (s *DeviceFlowService) generateUserCode(ctx context.Context) (display, normalized string, err error) {
	gen, ok := s.generators[s.opts.UserCodeType]
	if !ok {
		return "", "", fmt.Errorf("unknown user code type %q", s.opts.UserCodeType)
	}

	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		display, err = gen.Generate()
		if err != nil {
			return "", "", fmt.Errorf("failed to generate user code: %w", err)
		}
		normalized = NormalizeUserCode(display)

		_, lookupErr := s.userCodes.Get(ctx, normalized)
		if errors.Is(lookupErr, serrors.ErrGrantNotFound) {
			return display, normalized, nil
		}
		if lookupErr != nil {
			return "", "", lookupErr
		}
		s.logger.Warn(ctx, "user code collision, retrying", map[string]interface{}{
			"attempt": attempt + 1,
		})
	}

	s.logger.Error(ctx, "user code generation exhausted retries", serrors.ErrUserCodeExhausted,
		map[string]interface{}{"attempts": maxUserCodeAttempts})
	return "", "", serrors.ErrUserCodeExhausted
}

// FindByUserCode resolves a user code to the pending authorization. Expired
// and unknown codes read as errors.ErrUserCodeNotFound.
func (s *DeviceFlowService) FindByUserCode(ctx context.Context, userCode string) (*domain.DeviceAuthorization, error) {
	auth, _, err := s.resolveUserCode(ctx, userCode)
	return auth, err
}

// FindByDeviceCode resolves a device code to its authorization state.
func (s *DeviceFlowService) FindByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceAuthorization, error) {
	auth, _, err := s.deviceCodes.GetRecord(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil, serrors.ErrDeviceCodeNotFound
		}
		return nil, err
	}
	return auth, nil
}

func (s *DeviceFlowService) resolveUserCode(ctx context.Context, userCode string) (*domain.DeviceAuthorization, string, error) {
	ref, _, err := s.userCodes.GetRecord(ctx, NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil, "", serrors.ErrUserCodeNotFound
		}
		return nil, "", err
	}

	auth, _, err := s.deviceCodes.GetByKey(ctx, ref.DeviceCodeKey)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			// The canonical record is gone while the pointer survived;
			// treat the code as dead.
			return nil, "", serrors.ErrUserCodeNotFound
		}
		return nil, "", err
	}
	return auth, ref.DeviceCodeKey, nil
}

// Approve records the authenticated subject's approval of the user code.
// The transition happens at most once; approving an already authorized code
// is a no-op. The requested scopes become the authorized scopes; a future
// consent surface may narrow them before approval.
func (s *DeviceFlowService) Approve(ctx context.Context, userCode, subjectID string) error {
	if subjectID == "" {
		return fmt.Errorf("an authenticated subject is required to approve a device authorization")
	}

	auth, key, err := s.resolveUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if auth.IsDenied {
		return serrors.ErrDeviceFlowDenied
	}
	if auth.IsAuthorized {
		// Idempotent: a second approval changes nothing.
		return nil
	}

	auth.IsAuthorized = true
	auth.Subject = subjectID
	auth.AuthorizedScopes = append([]string(nil), auth.RequestedScopes...)

	if err := s.deviceCodes.UpdateByKey(ctx, key, auth); err != nil {
		return err
	}
	s.logger.Info(ctx, "device authorization approved", map[string]interface{}{
		"client_id":  auth.ClientID,
		"subject_id": subjectID,
	})
	return nil
}

// Deny records the subject's rejection; the next poll answers access_denied.
func (s *DeviceFlowService) Deny(ctx context.Context, userCode, subjectID string) error {
	if subjectID == "" {
		return fmt.Errorf("an authenticated subject is required to deny a device authorization")
	}

	auth, key, err := s.resolveUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if auth.IsAuthorized {
		return fmt.Errorf("device authorization has already been approved")
	}

	auth.IsDenied = true
	auth.Subject = subjectID
	return s.deviceCodes.UpdateByKey(ctx, key, auth)
}

// Exchange resolves a device poll at the token endpoint. The outcome follows
// the RFC 8628 policy: unknown or expired codes answer expired_token, polling
// faster than the interval answers slow_down, pending codes answer
// authorization_pending, denied codes answer access_denied, and authorized
// codes are redeemed for tokens exactly once, after which both handles are
// removed.
func (s *DeviceFlowService) Exchange(ctx context.Context, clientID, deviceCode string) (*TokenResponse, error) {
	auth, _, err := s.deviceCodes.GetRecord(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil, serrors.NewExpiredToken()
		}
		return nil, err
	}

	if auth.ClientID != clientID {
		return nil, serrors.NewInvalidGrant("device code was issued to another client")
	}

	if s.recordPoll(ctx, auth.ClientID, deviceCode) {
		return nil, serrors.NewSlowDown()
	}

	switch {
	case auth.IsDenied:
		if err := s.removeBoth(ctx, deviceCode, auth.UserCode); err != nil {
			return nil, err
		}
		return nil, serrors.NewAccessDenied("the user denied the authorization request")

	case !auth.IsAuthorized:
		return nil, serrors.NewAuthorizationPending()
	}

	resp, err := s.tokens.IssueTokens(ctx, clientID, auth.Subject, "",
		auth.AuthorizedScopes, containsScope(auth.AuthorizedScopes, ScopeOfflineAccess))
	if err != nil {
		return nil, err
	}

	// Both handles must die together or the pending pointer would leak and
	// the code could be redeemed again.
	if err := s.removeBoth(ctx, deviceCode, auth.UserCode); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "device code exchanged for tokens", map[string]interface{}{
		"client_id":  clientID,
		"subject_id": auth.Subject,
	})
	return resp, nil
}

// recordPoll reads and refreshes the throttle marker for the device code and
// reports whether the poll came in under the interval. The marker lives in its
// own grant record, so this write can never clobber a concurrent state
// transition on the authorization itself: a poll that loses the race simply
// reads the pre-transition state and answers authorization_pending. A failed
// marker write is logged and swallowed, it only loosens throttling.
func (s *DeviceFlowService) recordPoll(ctx context.Context, clientID, deviceCode string) (tooFast bool) {
	now := s.clock.Now()

	marker, err := s.pollMarkers.Get(ctx, deviceCode)
	if err == nil {
		tooFast = now.Sub(marker.LastPolledAt) < s.opts.PollInterval
	} else if !errors.Is(err, serrors.ErrGrantNotFound) {
		s.logger.Warn(ctx, "failed to read device poll marker", map[string]interface{}{
			"client_id": clientID,
		})
	}

	meta := GrantMeta{ClientID: clientID, Lifetime: s.opts.Lifetime}
	if err := s.pollMarkers.CreateWithHandle(ctx, deviceCode, &domain.DevicePollMarker{LastPolledAt: now}, meta); err != nil {
		s.logger.Warn(ctx, "failed to record device poll time", map[string]interface{}{
			"client_id": clientID,
		})
	}
	return tooFast
}

func (s *DeviceFlowService) removeBoth(ctx context.Context, deviceCode, userCode string) error {
	if err := s.deviceCodes.Remove(ctx, deviceCode); err != nil {
		return err
	}
	if err := s.userCodes.Remove(ctx, userCode); err != nil {
		return err
	}
	return s.pollMarkers.Remove(ctx, deviceCode)
}
