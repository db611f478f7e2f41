package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

// MemoryGrantStore implements domain.GrantRecordStore on top of ttlcache.
// Records with an expiration ride the cache TTL; records without one stay
// until removed. Intended for development, single-node deployments and tests.
type MemoryGrantStore struct {
	cache *ttlcache.Cache[string, *domain.GrantRecord]
}

// NewMemoryGrantStore creates an in-memory grant store with automatic
// expiry cleanup.
func NewMemoryGrantStore() *MemoryGrantStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.GrantRecord](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryGrantStore{cache: cache}
}

// Store implements domain.GrantRecordStore.Store.
func (s *MemoryGrantStore) Store(_ context.Context, record *domain.GrantRecord) error {
	ttl := ttlcache.NoTTL
	if record.Expiration != nil {
		ttl = time.Until(*record.Expiration)
		if ttl <= 0 {
			// Already expired on arrival: storing it would only create a
			// record the next Get has to reject.
			s.cache.Delete(record.Key)
			return nil
		}
	}

	clone := *record
	s.cache.Set(record.Key, &clone, ttl)
	return nil
}

// Get implements domain.GrantRecordStore.Get.
func (s *MemoryGrantStore) Get(_ context.Context, key string) (*domain.GrantRecord, error) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, serrors.ErrGrantNotFound
	}

	clone := *item.Value()
	return &clone, nil
}

// Remove implements domain.GrantRecordStore.Remove.
func (s *MemoryGrantStore) Remove(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// RemoveAll implements domain.GrantRecordStore.RemoveAll.
func (s *MemoryGrantStore) RemoveAll(_ context.Context, filter domain.GrantFilter) error {
	var keys []string
	s.cache.Range(func(item *ttlcache.Item[string, *domain.GrantRecord]) bool {
		record := item.Value()
		if filter.SubjectID != "" && record.SubjectID != filter.SubjectID {
			return true
		}
		if filter.ClientID != "" && record.ClientID != filter.ClientID {
			return true
		}
		if filter.Type != "" && record.Type != filter.Type {
			return true
		}
		keys = append(keys, item.Key())
		return true
	})
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

// Count returns the number of live records. Used by tests and diagnostics.
func (s *MemoryGrantStore) Count() int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine.
func (s *MemoryGrantStore) Close() error {
	s.cache.Stop()
	return nil
}
