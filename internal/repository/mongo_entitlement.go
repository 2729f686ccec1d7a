package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEntitlementRepository implements domain.EntitlementRepository
type MongoEntitlementRepository struct {
	collection *mongo.Collection
}

// NewMongoEntitlementRepository creates a new entitlement repository. The
// unique index on (user_id, course_id) is what makes the grant upsert safe
// under concurrent callers.
func NewMongoEntitlementRepository(db *mongo.Database) *MongoEntitlementRepository {
	coll := db.Collection("entitlements")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "active", Value: 1}},
	})

	return &MongoEntitlementRepository{collection: coll}
}

// Grant upserts the (user, course) entitlement.
//
// Two conditional writes, both idempotent, cover every interleaving:
//  1. an upsert whose update is entirely $setOnInsert — creates the row when
//     missing, touches nothing when present (first-grant-wins provenance);
//  2. a re-activation update filtered on active=false — flips a revoked row
//     back on and re-points provenance at the new invoice.
//
// Calling Grant twice with the same invoice, or from two goroutines at once,
// converges on a single active row.
func (r *MongoEntitlementRepository) Grant(ctx context.Context, ent *domain.Entitlement) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"user_id":   ent.UserID,
		"course_id": ent.CourseID,
	}

	insert := bson.M{
		"$setOnInsert": bson.M{
			"_id":        ulid.Make().String(),
			"user_id":    ent.UserID,
			"course_id":  ent.CourseID,
			"active":     true,
			"invoice_id": ent.InvoiceID,
			"reason":     ent.Reason,
			"granted_at": now,
			"expires_at": ent.ExpiresAt,
			"created_at": now,
			"updated_at": now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, insert, options.Update().SetUpsert(true))
	if err != nil {
		// A concurrent grant may have inserted between our filter evaluation
		// and the upsert; the unique index reports that as a duplicate key.
		// The row exists now, so fall through to the re-activation attempt.
		if !mongo.IsDuplicateKeyError(err) {
			return false, fmt.Errorf("failed to grant entitlement: %w", err)
		}
	} else if result.UpsertedCount == 1 {
		return true, nil
	}

	reactivate := bson.M{
		"$set": bson.M{
			"active":     true,
			"invoice_id": ent.InvoiceID,
			"reason":     ent.Reason,
			"granted_at": now,
			"expires_at": ent.ExpiresAt,
			"updated_at": now,
		},
		"$unset": bson.M{"revoked_at": ""},
	}
	reactivateFilter := bson.M{
		"user_id":   ent.UserID,
		"course_id": ent.CourseID,
		"active":    false,
	}
	if _, err := r.collection.UpdateOne(ctx, reactivateFilter, reactivate); err != nil {
		return false, fmt.Errorf("failed to re-activate entitlement: %w", err)
	}
	return false, nil
}

// Revoke flips the entitlement off, keeping the row as an audit record.
func (r *MongoEntitlementRepository) Revoke(ctx context.Context, userID, courseID string) error {
	now := time.Now().UTC()
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "course_id": courseID, "active": true},
		bson.M{"$set": bson.M{
			"active":     false,
			"revoked_at": now,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to revoke entitlement: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoEntitlementRepository) GetByUserAndCourse(ctx context.Context, userID, courseID string) (*domain.Entitlement, error) {
	var ent domain.Entitlement
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "course_id": courseID}).Decode(&ent)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return &ent, nil
}

func (r *MongoEntitlementRepository) ListActiveByUserID(ctx context.Context, userID string) ([]*domain.Entitlement, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"user_id": userID,
		"active":  true,
		"$or": []bson.M{
			{"expires_at": nil},
			{"expires_at": bson.M{"$exists": false}},
			{"expires_at": bson.M{"$gt": now}},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer cursor.Close(ctx)

	var ents []*domain.Entitlement
	for cursor.Next(ctx) {
		var ent domain.Entitlement
		if err := cursor.Decode(&ent); err != nil {
			return nil, err
		}
		ents = append(ents, &ent)
	}
	return ents, cursor.Err()
}

func (r *MongoEntitlementRepository) HasActive(ctx context.Context, userID, courseID string) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"user_id":   userID,
		"course_id": courseID,
		"active":    true,
		"$or": []bson.M{
			{"expires_at": nil},
			{"expires_at": bson.M{"$exists": false}},
			{"expires_at": bson.M{"$gt": now}},
		},
	}

	count, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check entitlement: %w", err)
	}
	return count > 0, nil
}
