package errors

import "errors"

// Sentinel errors shared by the grant stores and flow engines. Callers are
// expected to match these with errors.Is and map them onto protocol errors at
// the transport boundary.
var (
	// ErrGrantNotFound is returned when a grant record does not exist, has
	// expired, belongs to a different grant type, or could not be decoded.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrStoreConflict signals an optimistic concurrency failure in a grant
	// record backend. It is recoverable: another writer's version already won.
	ErrStoreConflict = errors.New("grant store conflict")

	ErrDeviceCodeNotFound = errors.New("device code not found")
	ErrUserCodeNotFound   = errors.New("user code not found")

	// ErrDeviceFlowDenied is returned when the user rejected the device
	// authorization.
	ErrDeviceFlowDenied = errors.New("device authorization denied")

	// ErrUserCodeExhausted is returned when user code generation keeps
	// colliding with live codes. It indicates an undersized code space and
	// must surface loudly instead of being retried forever.
	ErrUserCodeExhausted = errors.New("user code space exhausted")

	ErrClientNotFound           = errors.New("client not found")
	ErrInvalidClientCredentials = errors.New("invalid client credentials")
)
