package domain

import (
	"context"
	"time"
)

// GrantType tags the category a persisted grant belongs to. The tag is mixed
// into the storage key derivation, so two grant types can reuse the same raw
// handle without colliding.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeReferenceToken    GrantType = "reference_token"
	GrantTypeUserConsent       GrantType = "user_consent"
	GrantTypeDeviceCode        GrantType = "device_code"
	GrantTypeUserCode          GrantType = "user_code"
	GrantTypeDevicePoll        GrantType = "device_poll"
	GrantTypeErrorReference    GrantType = "error_reference"
)

// GrantRecord is the universal persisted unit for every grant category.
// Key is always a one-way hash of the raw bearer handle and the grant type,
// never the handle itself: a leaked store does not yield redeemable handles.
//
//nolint:tagliatelle
type GrantRecord struct {
	Key          string     `bson:"_id"                     json:"key"`
	Type         GrantType  `bson:"type"                    json:"type"`
	ClientID     string     `bson:"client_id,omitempty"     json:"client_id,omitempty"`
	SubjectID    string     `bson:"subject_id,omitempty"    json:"subject_id,omitempty"`
	SessionID    string     `bson:"session_id,omitempty"    json:"session_id,omitempty"`
	Description  string     `bson:"description,omitempty"   json:"description,omitempty"`
	CreationTime time.Time  `bson:"creation_time"           json:"creation_time"`
	Expiration   *time.Time `bson:"expiration,omitempty"    json:"expiration,omitempty"`
	ConsumedTime *time.Time `bson:"consumed_time,omitempty" json:"consumed_time,omitempty"`
	Data         string     `bson:"data"                    json:"data"`
}

// IsExpired reports whether the record's expiration has passed at the given
// instant. Records without an expiration never expire by time.
func (r *GrantRecord) IsExpired(now time.Time) bool {
	return r.Expiration != nil && now.After(*r.Expiration)
}

// IsConsumed reports whether the record has been marked as used.
func (r *GrantRecord) IsConsumed() bool {
	return r.ConsumedTime != nil
}

// GrantFilter selects records for bulk removal. SubjectID is mandatory,
// ClientID and Type narrow the selection when set.
type GrantFilter struct {
	SubjectID string
	ClientID  string
	Type      GrantType
}

// GrantRecordStore is the persistence contract for grant records. Backends
// must provide at-least-once durability and must not corrupt concurrent
// writes to distinct keys. A concurrency conflict on the same key is reported
// as errors.ErrStoreConflict; callers treat it as a soft failure.
//
//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type GrantRecordStore interface {
	// Store inserts or replaces the record under record.Key.
	Store(ctx context.Context, record *GrantRecord) error

	// Get retrieves the record stored under key, or errors.ErrGrantNotFound.
	Get(ctx context.Context, key string) (*GrantRecord, error)

	// Remove deletes the record stored under key. Removing a missing key is
	// not an error.
	Remove(ctx context.Context, key string) error

	// RemoveAll deletes every record matching the filter.
	RemoveAll(ctx context.Context, filter GrantFilter) error
}
