package grantd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

// fixedUserCodeGenerator returns queued codes in order.
type fixedUserCodeGenerator struct {
	codes []string
}

func (g *fixedUserCodeGenerator) Generate() (string, error) {
	code := g.codes[0]
	if len(g.codes) > 1 {
		g.codes = g.codes[1:]
	}
	return code, nil
}

type deviceFlowFixture struct {
	records *fakeRecordStore
	clock   *fakeClock
	svc     *DeviceFlowService
}

func newDeviceFlowFixture(t *testing.T, opts DeviceFlowOptions) *deviceFlowFixture {
	t.Helper()
	records := newFakeRecordStore()
	clock := newFakeClock()
	tokens := newTestTokenService(records, clock)

	svc := NewDeviceFlowService(
		newTestStore[domain.DeviceAuthorization](domain.GrantTypeDeviceCode, records, clock),
		newTestStore[domain.UserCodeReference](domain.GrantTypeUserCode, records, clock),
		newTestStore[domain.DevicePollMarker](domain.GrantTypeDevicePoll, records, clock),
		tokens,
		domain.CryptoHandleGenerator{},
		clock, nil, opts,
	)
	return &deviceFlowFixture{records: records, clock: clock, svc: svc}
}

func TestDeviceFlowHappyPath(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{
		VerificationURI: "https://sso.example.com/device",
		PollInterval:    5 * time.Second,
	})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid", "offline_access"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.DeviceCode)
	assert.NotEmpty(t, resp.UserCode)
	assert.Equal(t, "https://sso.example.com/device", resp.VerificationURI)
	assert.Contains(t, resp.VerificationURIComplete, "user_code=")
	assert.Equal(t, 600, resp.ExpiresIn)
	assert.Equal(t, 5, resp.Interval)

	// First poll: pending.
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	var oerr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.AuthorizationPending, oerr.Code)

	// The user approves from their browser.
	require.NoError(t, f.svc.Approve(ctx, resp.UserCode, "bob"))

	// Wait out the interval and poll again: tokens.
	f.clock.Advance(6 * time.Second)
	tokens, err := f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	// Both handles died with the exchange.
	f.clock.Advance(6 * time.Second)
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.ExpiredToken, oerr.Code)
	_, err = f.svc.FindByUserCode(ctx, resp.UserCode)
	assert.ErrorIs(t, err, serrors.ErrUserCodeNotFound)
}

func TestDeviceFlowSlowDown(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{PollInterval: 5 * time.Second})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	var oerr *serrors.OAuth2Error
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.AuthorizationPending, oerr.Code)

	// Second poll inside the interval.
	f.clock.Advance(2 * time.Second)
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.SlowDown, oerr.Code)

	// Respecting the interval goes back to pending.
	f.clock.Advance(6 * time.Second)
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.AuthorizationPending, oerr.Code)
}

func TestDeviceFlowApprovalDuringPollSurvives(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{PollInterval: 5 * time.Second})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	// The user approves right after a poll has read the pending state and
	// before the poll's throttle bookkeeping is written.
	deviceKey := f.svc.deviceCodes.HashedKey(resp.DeviceCode)
	f.records.afterGet = func(key string) {
		if key != deviceKey {
			return
		}
		f.records.afterGet = nil
		require.NoError(t, f.svc.Approve(ctx, resp.UserCode, "bob"))
	}

	// The racing poll saw the pre-approval state and answers pending.
	var oerr *serrors.OAuth2Error
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.AuthorizationPending, oerr.Code)

	// The approval survives the poll.
	auth, err := f.svc.FindByDeviceCode(ctx, resp.DeviceCode)
	require.NoError(t, err)
	assert.True(t, auth.IsAuthorized)
	assert.Equal(t, "bob", auth.Subject)

	// The next interval-respecting poll redeems the code.
	f.clock.Advance(6 * time.Second)
	tokens, err := f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
}

func TestDeviceFlowDeny(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{PollInterval: time.Second})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Deny(ctx, resp.UserCode, "bob"))

	var oerr *serrors.OAuth2Error
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.AccessDenied, oerr.Code)

	// Denial consumed both handles.
	f.clock.Advance(2 * time.Second)
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.ExpiredToken, oerr.Code)

	// Approving a denied code is refused before removal happens.
	resp2, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Deny(ctx, resp2.UserCode, "bob"))
	assert.ErrorIs(t, f.svc.Approve(ctx, resp2.UserCode, "bob"), serrors.ErrDeviceFlowDenied)
}

func TestDeviceFlowExpiry(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{Lifetime: 10 * time.Minute, PollInterval: time.Second})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)

	var oerr *serrors.OAuth2Error
	_, err = f.svc.Exchange(ctx, "client-1", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.ExpiredToken, oerr.Code)

	_, err = f.svc.FindByUserCode(ctx, resp.UserCode)
	assert.ErrorIs(t, err, serrors.ErrUserCodeNotFound)
}

func TestDeviceFlowClientBinding(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{PollInterval: time.Second})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	var oerr *serrors.OAuth2Error
	_, err = f.svc.Exchange(ctx, "client-2", resp.DeviceCode)
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
}

func TestDeviceFlowApproveIsIdempotent(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{PollInterval: time.Second})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid", "profile"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(ctx, resp.UserCode, "bob"))
	require.NoError(t, f.svc.Approve(ctx, resp.UserCode, "bob"))

	auth, err := f.svc.FindByUserCode(ctx, resp.UserCode)
	require.NoError(t, err)
	assert.True(t, auth.IsAuthorized)
	assert.Equal(t, "bob", auth.Subject)
	assert.Equal(t, []string{"openid", "profile"}, auth.AuthorizedScopes)
}

func TestDeviceFlowApproveRequiresSubject(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	assert.Error(t, f.svc.Approve(ctx, resp.UserCode, ""))
	assert.Error(t, f.svc.Deny(ctx, resp.UserCode, ""))
}

func TestDeviceFlowUserCodeNormalization(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{UserCodeType: UserCodeTypeCharset})
	ctx := context.Background()

	resp, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	// The user types it without the dash and with stray whitespace.
	sloppy := " " + NormalizeUserCode(resp.UserCode) + " "
	require.NoError(t, f.svc.Approve(ctx, sloppy, "bob"))

	auth, err := f.svc.FindByUserCode(ctx, resp.UserCode)
	require.NoError(t, err)
	assert.True(t, auth.IsAuthorized)
}

func TestDeviceFlowUserCodeCollisionRetry(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{})
	f.svc.RegisterUserCodeGenerator("fixed", &fixedUserCodeGenerator{
		codes: []string{"111-111-111", "111-111-111", "222-222-222"},
	})
	f.svc.opts.UserCodeType = "fixed"
	ctx := context.Background()

	first, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)
	assert.Equal(t, "111-111-111", first.UserCode)

	// The generator repeats the live code once, then yields a fresh one.
	second, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)
	assert.Equal(t, "222-222-222", second.UserCode)
}

func TestDeviceFlowUserCodeExhaustion(t *testing.T) {
	f := newDeviceFlowFixture(t, DeviceFlowOptions{})
	f.svc.RegisterUserCodeGenerator("fixed", &fixedUserCodeGenerator{codes: []string{"333-333-333"}})
	f.svc.opts.UserCodeType = "fixed"
	ctx := context.Background()

	_, err := f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	require.NoError(t, err)

	// Every retry collides with the live code.
	_, err = f.svc.RequestAuthorization(ctx, "client-1", []string{"openid"})
	assert.ErrorIs(t, err, serrors.ErrUserCodeExhausted)
}
