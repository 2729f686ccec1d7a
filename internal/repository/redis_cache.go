package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	publishedCoursesKey  = "catalog:published"
	courseDetailKeyPfx   = "catalog:course:"
	publishedCoursesTTL  = 5 * time.Minute
	courseDetailCacheTTL = 5 * time.Minute
)

// RedisCacheRepository caches catalog reads in Redis. All methods treat cache
// trouble as a miss; the catalog service falls back to Mongo.
type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisCacheRepository creates a new Redis cache repository
func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{client: client}
}

// SetPublishedCourses caches the published-catalog listing
func (r *RedisCacheRepository) SetPublishedCourses(ctx context.Context, courses []*domain.Course) error {
	data, err := json.Marshal(courses)
	if err != nil {
		return fmt.Errorf("failed to marshal courses: %w", err)
	}
	if err := r.client.Set(ctx, publishedCoursesKey, data, publishedCoursesTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache courses: %w", err)
	}
	return nil
}

// GetPublishedCourses returns the cached listing, or nil on a miss
func (r *RedisCacheRepository) GetPublishedCourses(ctx context.Context) ([]*domain.Course, error) {
	data, err := r.client.Get(ctx, publishedCoursesKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read course cache: %w", err)
	}

	var courses []*domain.Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached courses: %w", err)
	}
	return courses, nil
}

// SetCourseDetail caches one course keyed by slug
func (r *RedisCacheRepository) SetCourseDetail(ctx context.Context, slug string, course *domain.Course) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("failed to marshal course: %w", err)
	}
	if err := r.client.Set(ctx, courseDetailKeyPfx+slug, data, courseDetailCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache course: %w", err)
	}
	return nil
}

// GetCourseDetail returns a cached course by slug, or nil on a miss
func (r *RedisCacheRepository) GetCourseDetail(ctx context.Context, slug string) (*domain.Course, error) {
	data, err := r.client.Get(ctx, courseDetailKeyPfx+slug).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read course cache: %w", err)
	}

	var course domain.Course
	if err := json.Unmarshal(data, &course); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached course: %w", err)
	}
	return &course, nil
}

// InvalidateCatalog drops all catalog cache entries after an admin write
func (r *RedisCacheRepository) InvalidateCatalog(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, courseDetailKeyPfx+"*", 100).Iterator()
	keys := []string{publishedCoursesKey}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan catalog cache keys: %w", err)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}
	return nil
}
