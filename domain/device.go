package domain

import "time"

// DeviceAuthorization is the payload behind a device_code grant (RFC 8628).
// It is addressed by two independent raw handles: the device code held by the
// polling device, and the short user code entered by the human. The user code
// record only carries a pointer at the canonical device code record, so state
// transitions mutate a single payload in place.
type DeviceAuthorization struct {
	ClientID         string        `json:"client_id"`
	Subject          string        `json:"subject,omitempty"`
	IsAuthorized     bool          `json:"is_authorized"`
	IsDenied         bool          `json:"is_denied,omitempty"`
	RequestedScopes  []string      `json:"requested_scopes"`
	AuthorizedScopes []string      `json:"authorized_scopes,omitempty"`
	IsOpenID         bool          `json:"is_open_id"`
	UserCode         string        `json:"user_code"`
	CreationTime     time.Time     `json:"creation_time"`
	Lifetime         time.Duration `json:"lifetime"`
}

// Expiry returns the instant both handles stop being redeemable.
func (d *DeviceAuthorization) Expiry() time.Time {
	return d.CreationTime.Add(d.Lifetime)
}

// UserCodeReference is the payload behind a user_code grant. It points at the
// hashed storage key of the canonical device authorization record.
type UserCodeReference struct {
	DeviceCodeKey string `json:"device_code_key"`
}

// DevicePollMarker is the payload behind a device_poll grant. It holds the
// poll throttle timestamp for a device code in its own record, so recording a
// poll never writes the authorization state back and cannot race an approval.
type DevicePollMarker struct {
	LastPolledAt time.Time `json:"last_polled_at"`
}
