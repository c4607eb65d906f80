package opstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// duplicateKeyCode is the MongoDB server error code for a unique-index
// violation (E11000).
const duplicateKeyCode = 11000

// MongoOperationStore implements OperationStore against a MongoDB
// collection, the way a bulk oplog replay or a Kafka sink would: an
// unordered InsertMany so one bad document never blocks the rest of the
// batch, with duplicate-key results classified out of the error path.
type MongoOperationStore struct {
	collection *mongo.Collection
}

// NewMongoOperationStore wraps an existing collection handle.
func NewMongoOperationStore(collection *mongo.Collection) *MongoOperationStore {
	return &MongoOperationStore{collection: collection}
}

// InsertMany implements OperationStore.
func (s *MongoOperationStore) InsertMany(ctx context.Context, docs []any) error {
	if len(docs) == 0 {
		return nil
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	if allDuplicateKey(err) {
		return fmt.Errorf("insert %d operations: %w", len(docs), ErrDuplicateKey)
	}
	return fmt.Errorf("insert %d operations: %w", len(docs), err)
}

// Close implements OperationStore.
func (s *MongoOperationStore) Close(ctx context.Context) error {
	return s.collection.Database().Client().Disconnect(ctx)
}

// MongoContentStore implements ContentStore against a MongoDB
// collection keyed by (tenantId, documentId).
type MongoContentStore struct {
	collection *mongo.Collection
}

// NewMongoContentStore wraps an existing collection handle.
func NewMongoContentStore(collection *mongo.Collection) *MongoContentStore {
	return &MongoContentStore{collection: collection}
}

// UpdateSequenceNumber implements ContentStore.
func (s *MongoContentStore) UpdateSequenceNumber(ctx context.Context, tenantID, documentID string, sequenceNumber int64) error {
	filter := bson.D{
		{Key: "tenantId", Value: tenantID},
		{Key: "documentId", Value: documentID},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "sequenceNumber", Value: sequenceNumber}}},
	}

	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err == nil {
		return nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("update sequence number for %s/%s: %w", tenantID, documentID, ErrDuplicateKey)
	}
	return fmt.Errorf("update sequence number for %s/%s: %w", tenantID, documentID, err)
}

// allDuplicateKey reports whether err is a BulkWriteException whose
// write errors are entirely duplicate-key violations (E11000). A mixed
// batch (some duplicates, some other failures) is treated as a hard
// failure so the caller does not silently drop a real error.
func allDuplicateKey(err error) bool {
	var bwe mongo.BulkWriteException
	if !asBulkWriteException(err, &bwe) {
		return mongo.IsDuplicateKeyError(err)
	}
	if len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

func asBulkWriteException(err error, target *mongo.BulkWriteException) bool {
	bwe, ok := err.(mongo.BulkWriteException)
	if !ok {
		return false
	}
	*target = bwe
	return true
}
