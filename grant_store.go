package grantd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
	"github.com/pilab-dev/grantd/log"
)

// GrantMeta carries the correlation metadata recorded next to a grant
// payload at creation time.
type GrantMeta struct {
	ClientID    string
	SubjectID   string
	SessionID   string
	Description string
	// Lifetime is the time-based expiry of the grant. Zero means the grant
	// does not expire by time and its lifetime is caller managed.
	Lifetime time.Duration
}

// GrantStore gives one grant type a typed create/get/remove contract on top
// of the record store. All lookups go through the hashed key, the raw handle
// is only ever held by the caller. One GrantStore instance serves exactly one
// grant type; records of any other type are invisible to it.
type GrantStore[T any] struct {
	grantType  domain.GrantType
	records    domain.GrantRecordStore
	serializer GrantSerializer
	handles    domain.HandleGenerator
	clock      domain.Clock
	logger     log.Logger
}

// NewGrantStore creates a typed grant store. It panics when grantType is
// empty: that is a programmer error, not a runtime condition.
func NewGrantStore[T any](
	grantType domain.GrantType,
	records domain.GrantRecordStore,
	serializer GrantSerializer,
	handles domain.HandleGenerator,
	clock domain.Clock,
	logger log.Logger,
) *GrantStore[T] {
	if grantType == "" {
		panic("grantd: grant type must not be empty")
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &GrantStore[T]{
		grantType:  grantType,
		records:    records,
		serializer: serializer,
		handles:    handles,
		clock:      clock,
		logger:     logger.With(map[string]interface{}{"grant_type": string(grantType)}),
	}
}

// GrantType returns the grant type this store serves.
func (s *GrantStore[T]) GrantType() domain.GrantType {
	return s.grantType
}

// HashedKey derives the storage key for a raw handle under this store's
// grant type.
func (s *GrantStore[T]) HashedKey(rawHandle string) string {
	return HashGrantKey(rawHandle, s.grantType)
}

// Create generates a fresh opaque handle, serializes the payload and persists
// it under the hashed key. The returned handle is the bearer credential and
// is never stored anywhere.
func (s *GrantStore[T]) Create(ctx context.Context, item *T, meta GrantMeta) (string, error) {
	handle, err := s.handles.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate grant handle: %w", err)
	}
	if err := s.CreateWithHandle(ctx, handle, item, meta); err != nil {
		return "", err
	}
	return handle, nil
}

// CreateWithHandle persists the payload under a caller-supplied raw handle.
// The device flow uses this to bind its externally generated device and user
// codes.
func (s *GrantStore[T]) CreateWithHandle(ctx context.Context, rawHandle string, item *T, meta GrantMeta) error {
	data, err := s.serializer.Serialize(item)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	record := &domain.GrantRecord{
		Key:          s.HashedKey(rawHandle),
		Type:         s.grantType,
		ClientID:     meta.ClientID,
		SubjectID:    meta.SubjectID,
		SessionID:    meta.SessionID,
		Description:  meta.Description,
		CreationTime: now,
		Data:         data,
	}
	if meta.Lifetime > 0 {
		expiration := now.Add(meta.Lifetime)
		record.Expiration = &expiration
	}

	if err := s.records.Store(ctx, record); err != nil {
		return fmt.Errorf("failed to store %s grant: %w", s.grantType, err)
	}
	return nil
}

// Get retrieves the payload stored under the raw handle. Missing, expired,
// mistyped and undecodable records all read as errors.ErrGrantNotFound.
func (s *GrantStore[T]) Get(ctx context.Context, rawHandle string) (*T, error) {
	item, _, err := s.GetRecord(ctx, rawHandle)
	return item, err
}

// GetRecord is Get plus the surrounding record, for callers that need the
// stored metadata (expiration, consumption marker).
func (s *GrantStore[T]) GetRecord(ctx context.Context, rawHandle string) (*T, *domain.GrantRecord, error) {
	return s.GetByKey(ctx, s.HashedKey(rawHandle))
}

// GetByKey retrieves a payload by its already-hashed storage key.
func (s *GrantStore[T]) GetByKey(ctx context.Context, key string) (*T, *domain.GrantRecord, error) {
	record, err := s.records.Get(ctx, key)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil, nil, serrors.ErrGrantNotFound
		}
		return nil, nil, fmt.Errorf("failed to fetch %s grant: %w", s.grantType, err)
	}

	// A store that serves any-typed keys must not leak records across grant
	// categories.
	if record.Type != s.grantType {
		return nil, nil, serrors.ErrGrantNotFound
	}
	if record.IsExpired(s.clock.Now()) {
		return nil, nil, serrors.ErrGrantNotFound
	}

	item := new(T)
	if err := s.serializer.Deserialize(record.Data, item); err != nil {
		// Corrupted payloads read as a miss, not an outage.
		s.logger.Error(ctx, "failed to deserialize grant payload, treating as not found", err,
			map[string]interface{}{"key": key})
		return nil, nil, serrors.ErrGrantNotFound
	}
	return item, record, nil
}

// Update re-serializes the payload into the existing record, keeping its
// creation time and expiration. A storage conflict is logged and swallowed:
// the concurrent writer's version is assumed authoritative.
func (s *GrantStore[T]) Update(ctx context.Context, rawHandle string, item *T) error {
	return s.UpdateByKey(ctx, s.HashedKey(rawHandle), item)
}

// UpdateByKey is Update addressed by the hashed storage key.
func (s *GrantStore[T]) UpdateByKey(ctx context.Context, key string, item *T) error {
	_, record, err := s.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	data, err := s.serializer.Serialize(item)
	if err != nil {
		return err
	}
	record.Data = data
	return s.storeSoft(ctx, record)
}

// MarkConsumed stamps the record's consumption time. Used for one-time-use
// semantics such as refresh token rotation.
func (s *GrantStore[T]) MarkConsumed(ctx context.Context, rawHandle string) error {
	_, record, err := s.GetRecord(ctx, rawHandle)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	record.ConsumedTime = &now
	return s.storeSoft(ctx, record)
}

// Remove deletes the record stored under the raw handle.
func (s *GrantStore[T]) Remove(ctx context.Context, rawHandle string) error {
	return s.RemoveByKey(ctx, s.HashedKey(rawHandle))
}

// RemoveByKey deletes the record stored under the hashed key.
func (s *GrantStore[T]) RemoveByKey(ctx context.Context, key string) error {
	if err := s.records.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to remove %s grant: %w", s.grantType, err)
	}
	return nil
}

// RemoveAll deletes every grant of this store's type for the given subject,
// optionally narrowed to one client.
func (s *GrantStore[T]) RemoveAll(ctx context.Context, subjectID, clientID string) error {
	filter := domain.GrantFilter{
		SubjectID: subjectID,
		ClientID:  clientID,
		Type:      s.grantType,
	}
	if err := s.records.RemoveAll(ctx, filter); err != nil {
		return fmt.Errorf("failed to remove %s grants: %w", s.grantType, err)
	}
	return nil
}

// storeSoft writes the record back, degrading an optimistic concurrency
// conflict to a logged no-op.
func (s *GrantStore[T]) storeSoft(ctx context.Context, record *domain.GrantRecord) error {
	err := s.records.Store(ctx, record)
	if err == nil {
		return nil
	}
	if errors.Is(err, serrors.ErrStoreConflict) {
		s.logger.Warn(ctx, "concurrent grant update lost, keeping stored version",
			map[string]interface{}{"key": record.Key})
		return nil
	}
	return fmt.Errorf("failed to update %s grant: %w", s.grantType, err)
}
