package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pilab-dev/grantd/domain"
	serrors "github.com/pilab-dev/grantd/errors"
)

// GrantRepository implements domain.GrantRecordStore on a MongoDB
// collection. Records are keyed by _id; a TTL index on the expiration field
// reaps expired grants server side.
type GrantRepository struct {
	grants *mongo.Collection
}

func NewGrantRepository(db *mongo.Database) *GrantRepository {
	return &GrantRepository{
		grants: db.Collection(GrantsCollection),
	}
}

// EnsureIndexes creates the TTL and bulk-removal indexes. Call once at
// startup.
func (r *GrantRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.grants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiration", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetSparse(true),
		},
		{
			Keys: bson.D{
				{Key: "subject_id", Value: 1},
				{Key: "client_id", Value: 1},
				{Key: "type", Value: 1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create grant indexes: %w", err)
	}
	return nil
}

// Store implements domain.GrantRecordStore.Store.
func (r *GrantRepository) Store(ctx context.Context, record *domain.GrantRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.grants.ReplaceOne(ctx, bson.M{"_id": record.Key}, record, opts)
	if err != nil {
		// Two concurrent upserts of the same fresh key race into a duplicate
		// key error. The other writer's version won.
		if mongo.IsDuplicateKeyError(err) {
			return serrors.ErrStoreConflict
		}
		return fmt.Errorf("failed to store grant record: %w", err)
	}
	return nil
}

// Get implements domain.GrantRecordStore.Get.
func (r *GrantRepository) Get(ctx context.Context, key string) (*domain.GrantRecord, error) {
	var record domain.GrantRecord
	err := r.grants.FindOne(ctx, bson.M{"_id": key}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to fetch grant record: %w", err)
	}
	return &record, nil
}

// Remove implements domain.GrantRecordStore.Remove.
func (r *GrantRepository) Remove(ctx context.Context, key string) error {
	_, err := r.grants.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("failed to remove grant record: %w", err)
	}
	return nil
}

// RemoveAll implements domain.GrantRecordStore.RemoveAll.
func (r *GrantRepository) RemoveAll(ctx context.Context, filter domain.GrantFilter) error {
	query := bson.M{"subject_id": filter.SubjectID}
	if filter.ClientID != "" {
		query["client_id"] = filter.ClientID
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}

	_, err := r.grants.DeleteMany(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to remove grant records: %w", err)
	}
	return nil
}
