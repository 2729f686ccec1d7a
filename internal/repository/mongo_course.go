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

// MongoCourseRepository implements domain.CourseRepository
type MongoCourseRepository struct {
	collection *mongo.Collection
}

// NewMongoCourseRepository creates a new course repository
func NewMongoCourseRepository(db *mongo.Database) *MongoCourseRepository {
	coll := db.Collection("courses")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return &MongoCourseRepository{collection: coll}
}

func (r *MongoCourseRepository) Create(ctx context.Context, course *domain.Course) error {
	now := time.Now().UTC()
	course.ID = ulid.Make().String()
	course.CreatedAt = now
	course.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, course); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

func (r *MongoCourseRepository) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	var course domain.Course
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&course); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

func (r *MongoCourseRepository) GetBySlug(ctx context.Context, slug string) (*domain.Course, error) {
	var course domain.Course
	if err := r.collection.FindOne(ctx, bson.M{"slug": slug}).Decode(&course); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course by slug: %w", err)
	}
	return &course, nil
}

func (r *MongoCourseRepository) ListPublished(ctx context.Context) ([]*domain.Course, error) {
	return r.list(ctx, bson.M{"published": true})
}

func (r *MongoCourseRepository) ListAll(ctx context.Context) ([]*domain.Course, error) {
	return r.list(ctx, bson.M{})
}

func (r *MongoCourseRepository) list(ctx context.Context, filter bson.M) ([]*domain.Course, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer cursor.Close(ctx)

	var courses []*domain.Course
	for cursor.Next(ctx) {
		var course domain.Course
		if err := cursor.Decode(&course); err != nil {
			return nil, err
		}
		courses = append(courses, &course)
	}
	return courses, cursor.Err()
}

func (r *MongoCourseRepository) Update(ctx context.Context, course *domain.Course) error {
	course.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"title":       course.Title,
			"slug":        course.Slug,
			"description": course.Description,
			"price":       course.Price,
			"currency":    course.Currency,
			"cover_url":   course.CoverURL,
			"published":   course.Published,
			"updated_at":  course.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": course.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update course: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoCourseRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete course: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
