package grantd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

// fakeRecordStore is an in-memory GrantRecordStore with injectable conflicts.
// afterGet, when set, runs after every read and lets a test interleave a
// competing write between a caller's read and its follow-up write.
type fakeRecordStore struct {
	mu           sync.Mutex
	records      map[string]*domain.GrantRecord
	conflictNext bool
	afterGet     func(key string)
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: map[string]*domain.GrantRecord{}}
}

func (s *fakeRecordStore) Store(_ context.Context, record *domain.GrantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictNext {
		s.conflictNext = false
		return serrors.ErrStoreConflict
	}
	clone := *record
	s.records[record.Key] = &clone
	return nil
}

func (s *fakeRecordStore) Get(_ context.Context, key string) (*domain.GrantRecord, error) {
	s.mu.Lock()
	record, ok := s.records[key]
	var clone *domain.GrantRecord
	if ok {
		c := *record
		clone = &c
	}
	hook := s.afterGet
	s.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if !ok {
		return nil, serrors.ErrGrantNotFound
	}
	return clone, nil
}

func (s *fakeRecordStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *fakeRecordStore) RemoveAll(_ context.Context, filter domain.GrantFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.records {
		if filter.SubjectID != "" && record.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ClientID != "" && record.ClientID != filter.ClientID {
			continue
		}
		if filter.Type != "" && record.Type != filter.Type {
			continue
		}
		delete(s.records, key)
	}
	return nil
}

func (s *fakeRecordStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeClock is a settable Clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedHandleGenerator returns queued handles, then falls through to random.
type fixedHandleGenerator struct {
	mu      sync.Mutex
	handles []string
}

func (g *fixedHandleGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.handles) > 0 {
		h := g.handles[0]
		g.handles = g.handles[1:]
		return h, nil
	}
	return domain.CryptoHandleGenerator{}.Generate()
}

func newTestStore[T any](grantType domain.GrantType, records domain.GrantRecordStore, clock domain.Clock) *GrantStore[T] {
	return NewGrantStore[T](grantType, records, nil, domain.CryptoHandleGenerator{}, clock, nil)
}

func TestGrantStoreRoundTrip(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.RefreshToken](domain.GrantTypeRefreshToken, records, clock)

	ctx := context.Background()
	payload := &domain.RefreshToken{
		ClientID:  "client-1",
		SubjectID: "alice",
		Scopes:    []string{"openid", "profile"},
	}
	handle, err := store.Create(ctx, payload, GrantMeta{
		ClientID:  "client-1",
		SubjectID: "alice",
		Lifetime:  time.Hour,
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	got, record, err := store.GetRecord(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, payload.Scopes, got.Scopes)
	assert.Equal(t, "alice", record.SubjectID)
	assert.Equal(t, domain.GrantTypeRefreshToken, record.Type)
	require.NotNil(t, record.Expiration)
	assert.Equal(t, clock.Now().Add(time.Hour), *record.Expiration)

	// The raw handle never appears as a storage key.
	_, rawStored := records.records[handle]
	assert.False(t, rawStored)
	assert.Contains(t, records.records, store.HashedKey(handle))
}

func TestGrantStoreTypeIsolation(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	refresh := newTestStore[domain.RefreshToken](domain.GrantTypeRefreshToken, records, clock)
	access := newTestStore[domain.ReferenceToken](domain.GrantTypeReferenceToken, records, clock)

	ctx := context.Background()
	handle, err := refresh.Create(ctx, &domain.RefreshToken{ClientID: "c"}, GrantMeta{ClientID: "c"})
	require.NoError(t, err)

	// The same raw handle hashes to a different key under another type.
	_, err = access.Get(ctx, handle)
	assert.ErrorIs(t, err, serrors.ErrGrantNotFound)

	// Even a direct key probe across types reads as a miss.
	_, _, err = access.GetByKey(ctx, refresh.HashedKey(handle))
	assert.ErrorIs(t, err, serrors.ErrGrantNotFound)
}

func TestGrantStoreExpiration(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.AuthorizationCode](domain.GrantTypeAuthorizationCode, records, clock)

	ctx := context.Background()
	handle, err := store.Create(ctx, &domain.AuthorizationCode{ClientID: "c"}, GrantMeta{Lifetime: 5 * time.Minute})
	require.NoError(t, err)

	_, err = store.Get(ctx, handle)
	require.NoError(t, err)

	clock.Advance(5*time.Minute + time.Second)
	_, err = store.Get(ctx, handle)
	assert.ErrorIs(t, err, serrors.ErrGrantNotFound)
}

func TestGrantStoreNoLifetimeNeverExpires(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.Consent](domain.GrantTypeUserConsent, records, clock)

	ctx := context.Background()
	require.NoError(t, store.CreateWithHandle(ctx, "alice|client-1", &domain.Consent{SubjectID: "alice"}, GrantMeta{}))

	clock.Advance(365 * 24 * time.Hour)
	got, err := store.Get(ctx, "alice|client-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.SubjectID)
}

func TestGrantStoreCorruptPayloadReadsAsMiss(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.RefreshToken](domain.GrantTypeRefreshToken, records, clock)

	ctx := context.Background()
	handle, err := store.Create(ctx, &domain.RefreshToken{ClientID: "c"}, GrantMeta{})
	require.NoError(t, err)

	records.records[store.HashedKey(handle)].Data = "{not json"

	_, err = store.Get(ctx, handle)
	assert.ErrorIs(t, err, serrors.ErrGrantNotFound)
}

func TestGrantStoreMarkConsumed(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.RefreshToken](domain.GrantTypeRefreshToken, records, clock)

	ctx := context.Background()
	handle, err := store.Create(ctx, &domain.RefreshToken{ClientID: "c"}, GrantMeta{})
	require.NoError(t, err)

	_, record, err := store.GetRecord(ctx, handle)
	require.NoError(t, err)
	assert.False(t, record.IsConsumed())

	require.NoError(t, store.MarkConsumed(ctx, handle))

	_, record, err = store.GetRecord(ctx, handle)
	require.NoError(t, err)
	assert.True(t, record.IsConsumed())
	assert.Equal(t, clock.Now(), *record.ConsumedTime)
}

func TestGrantStoreUpdateConflictIsSwallowed(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.RefreshToken](domain.GrantTypeRefreshToken, records, clock)

	ctx := context.Background()
	handle, err := store.Create(ctx, &domain.RefreshToken{ClientID: "c", SubjectID: "alice"}, GrantMeta{})
	require.NoError(t, err)

	records.conflictNext = true
	err = store.Update(ctx, handle, &domain.RefreshToken{ClientID: "c", SubjectID: "bob"})
	require.NoError(t, err)

	// The concurrent writer's version stayed authoritative.
	got, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.SubjectID)
}

func TestGrantStoreRemoveAllFiltering(t *testing.T) {
	records := newFakeRecordStore()
	clock := newFakeClock()
	store := newTestStore[domain.RefreshToken](domain.GrantTypeRefreshToken, records, clock)
	other := newTestStore[domain.ReferenceToken](domain.GrantTypeReferenceToken, records, clock)

	ctx := context.Background()
	mk := func(s *GrantStore[domain.RefreshToken], subject, client string) {
		t.Helper()
		_, err := s.Create(ctx, &domain.RefreshToken{SubjectID: subject, ClientID: client},
			GrantMeta{SubjectID: subject, ClientID: client})
		require.NoError(t, err)
	}
	mk(store, "s1", "c1")
	mk(store, "s1", "c2")
	mk(store, "s2", "c1")
	_, err := other.Create(ctx, &domain.ReferenceToken{SubjectID: "s1", ClientID: "c1"},
		GrantMeta{SubjectID: "s1", ClientID: "c1"})
	require.NoError(t, err)

	require.NoError(t, store.RemoveAll(ctx, "s1", "c1"))
	// Only the one refresh token for s1/c1 went away.
	assert.Equal(t, 3, records.count())

	require.NoError(t, store.RemoveAll(ctx, "s1", ""))
	// s1/c2 is gone too, s2 and the reference token survive.
	assert.Equal(t, 2, records.count())
}

func TestNewGrantStorePanicsOnEmptyType(t *testing.T) {
	assert.Panics(t, func() {
		NewGrantStore[domain.RefreshToken]("", newFakeRecordStore(), nil, nil, nil, nil)
	})
}
