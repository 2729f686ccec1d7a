package service

import (
	"context"
	"fmt"
	"log"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/repository"
)

// CatalogService serves course listings and owns admin catalog writes. Public
// reads go through the Redis cache; the cache is advisory, Mongo is truth.
type CatalogService struct {
	courses domain.CourseRepository
	lessons domain.LessonRepository
	cache   *repository.RedisCacheRepository
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	courses domain.CourseRepository,
	lessons domain.LessonRepository,
	cache *repository.RedisCacheRepository,
) *CatalogService {
	return &CatalogService{
		courses: courses,
		lessons: lessons,
		cache:   cache,
	}
}

// ListPublished returns the public catalog, cache-first.
func (s *CatalogService) ListPublished(ctx context.Context) ([]*domain.Course, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetPublishedCourses(ctx); err != nil {
			log.Printf("[Catalog] cache read failed: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	courses, err := s.courses.ListPublished(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetPublishedCourses(ctx, courses); err != nil {
			log.Printf("[Catalog] cache write failed: %v", err)
		}
	}
	return courses, nil
}

// CourseDetail is a course joined with its lesson list.
type CourseDetail struct {
	Course  *domain.Course   `json:"course"`
	Lessons []*domain.Lesson `json:"lessons"`
}

// GetBySlug returns one published course with its lessons.
func (s *CatalogService) GetBySlug(ctx context.Context, slug string) (*CourseDetail, error) {
	var course *domain.Course
	if s.cache != nil {
		if cached, err := s.cache.GetCourseDetail(ctx, slug); err == nil && cached != nil {
			course = cached
		}
	}

	if course == nil {
		found, err := s.courses.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		course = found
		if s.cache != nil {
			if err := s.cache.SetCourseDetail(ctx, slug, course); err != nil {
				log.Printf("[Catalog] cache write failed: %v", err)
			}
		}
	}

	if !course.Published {
		return nil, domain.ErrNotFound
	}

	lessons, err := s.lessons.ListByCourseID(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	return &CourseDetail{Course: course, Lessons: lessons}, nil
}

// CreateCourse adds a catalog entry (admin only).
func (s *CatalogService) CreateCourse(ctx context.Context, course *domain.Course) error {
	if course.Currency == "" {
		course.Currency = "IDR"
	}
	if course.Price <= 0 {
		return fmt.Errorf("course price must be positive")
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UpdateCourse rewrites a catalog entry (admin only).
func (s *CatalogService) UpdateCourse(ctx context.Context, course *domain.Course) error {
	if course.Price <= 0 {
		return fmt.Errorf("course price must be positive")
	}
	if err := s.courses.Update(ctx, course); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeleteCourse removes a catalog entry (admin only). Entitlements and
// invoices referencing it stay behind as audit records.
func (s *CatalogService) DeleteCourse(ctx context.Context, id string) error {
	if err := s.courses.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AddLesson appends a lesson to a course (admin only).
func (s *CatalogService) AddLesson(ctx context.Context, lesson *domain.Lesson) error {
	if _, err := s.courses.GetByID(ctx, lesson.CourseID); err != nil {
		return err
	}
	if err := s.lessons.Create(ctx, lesson); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UpdateLesson rewrites a lesson (admin only).
func (s *CatalogService) UpdateLesson(ctx context.Context, lesson *domain.Lesson) error {
	if err := s.lessons.Update(ctx, lesson); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeleteLesson removes a lesson (admin only).
func (s *CatalogService) DeleteLesson(ctx context.Context, id string) error {
	if err := s.lessons.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCatalog(ctx); err != nil {
		log.Printf("[Catalog] cache invalidation failed: %v", err)
	}
}
