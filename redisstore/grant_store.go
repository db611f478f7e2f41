// Package redisstore provides a Redis-backed grant record store, suitable
// for multi-node deployments where grants must be shared and expire
// server side.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

const (
	recordKeyPrefix  = "grant:"
	subjectKeyPrefix = "grant:idx:subject:"
)

// GrantStore implements domain.GrantRecordStore on Redis. Records live under
// "grant:<key>" with a TTL matching their expiration; a per-subject set
// indexes the keys so filtered bulk removal does not require a scan.
type GrantStore struct {
	rdb redis.UniversalClient
}

func NewGrantStore(rdb redis.UniversalClient) *GrantStore {
	return &GrantStore{rdb: rdb}
}

func recordKey(key string) string {
	return recordKeyPrefix + key
}

func subjectKey(subjectID string) string {
	return subjectKeyPrefix + subjectID
}

// Store implements domain.GrantRecordStore.Store.
func (s *GrantStore) Store(ctx context.Context, record *domain.GrantRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode grant record: %w", err)
	}

	var ttl time.Duration
	if record.Expiration != nil {
		ttl = time.Until(*record.Expiration)
		if ttl <= 0 {
			return s.Remove(ctx, record.Key)
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(record.Key), data, ttl)
	if record.SubjectID != "" {
		pipe.SAdd(ctx, subjectKey(record.SubjectID), record.Key)
		if ttl > 0 {
			// The index only needs to outlive its newest member.
			pipe.ExpireGT(ctx, subjectKey(record.SubjectID), ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store grant record: %w", err)
	}
	return nil
}

// Get implements domain.GrantRecordStore.Get.
func (s *GrantStore) Get(ctx context.Context, key string) (*domain.GrantRecord, error) {
	data, err := s.rdb.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, serrors.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to fetch grant record: %w", err)
	}

	var record domain.GrantRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode grant record: %w", err)
	}
	return &record, nil
}

// Remove implements domain.GrantRecordStore.Remove.
func (s *GrantStore) Remove(ctx context.Context, key string) error {
	record, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, serrors.ErrGrantNotFound) {
			return nil
		}
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, recordKey(key))
	if record.SubjectID != "" {
		pipe.SRem(ctx, subjectKey(record.SubjectID), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove grant record: %w", err)
	}
	return nil
}

// RemoveAll implements domain.GrantRecordStore.RemoveAll.
func (s *GrantStore) RemoveAll(ctx context.Context, filter domain.GrantFilter) error {
	keys, err := s.rdb.SMembers(ctx, subjectKey(filter.SubjectID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read subject grant index: %w", err)
	}

	for _, key := range keys {
		record, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, serrors.ErrGrantNotFound) {
				// The record expired out from under its index entry.
				s.rdb.SRem(ctx, subjectKey(filter.SubjectID), key)
				continue
			}
			return err
		}
		if filter.ClientID != "" && record.ClientID != filter.ClientID {
			continue
		}
		if filter.Type != "" && record.Type != filter.Type {
			continue
		}
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
