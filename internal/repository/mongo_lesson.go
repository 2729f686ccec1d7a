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

// MongoLessonRepository implements domain.LessonRepository
type MongoLessonRepository struct {
	collection *mongo.Collection
}

// NewMongoLessonRepository creates a new lesson repository
func NewMongoLessonRepository(db *mongo.Database) *MongoLessonRepository {
	coll := db.Collection("lessons")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "position", Value: 1}},
	})

	return &MongoLessonRepository{collection: coll}
}

func (r *MongoLessonRepository) Create(ctx context.Context, lesson *domain.Lesson) error {
	now := time.Now().UTC()
	lesson.ID = ulid.Make().String()
	lesson.CreatedAt = now
	lesson.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, lesson); err != nil {
		return fmt.Errorf("failed to create lesson: %w", err)
	}
	return nil
}

func (r *MongoLessonRepository) GetByID(ctx context.Context, id string) (*domain.Lesson, error) {
	var lesson domain.Lesson
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&lesson); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return &lesson, nil
}

func (r *MongoLessonRepository) ListByCourseID(ctx context.Context, courseID string) ([]*domain.Lesson, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"course_id": courseID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer cursor.Close(ctx)

	var lessons []*domain.Lesson
	for cursor.Next(ctx) {
		var lesson domain.Lesson
		if err := cursor.Decode(&lesson); err != nil {
			return nil, err
		}
		lessons = append(lessons, &lesson)
	}
	return lessons, cursor.Err()
}

func (r *MongoLessonRepository) Update(ctx context.Context, lesson *domain.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"title":        lesson.Title,
			"position":     lesson.Position,
			"duration_sec": lesson.DurationSec,
			"video_key":    lesson.VideoKey,
			"preview":      lesson.Preview,
			"updated_at":   lesson.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": lesson.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update lesson: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoLessonRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete lesson: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
