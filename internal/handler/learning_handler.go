package handler

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/service"
)

// MediaPresigner mints short-lived playback URLs for video objects.
type MediaPresigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// LearningHandler serves the logged-in student's learning surface
type LearningHandler struct {
	entitlements *service.EntitlementService
	lessons      domain.LessonRepository
	media        MediaPresigner
}

// NewLearningHandler creates a new learning handler
func NewLearningHandler(
	entitlements *service.EntitlementService,
	lessons domain.LessonRepository,
	media MediaPresigner,
) *LearningHandler {
	return &LearningHandler{
		entitlements: entitlements,
		lessons:      lessons,
		media:        media,
	}
}

// MyCourses handles GET /api/my/courses
// Returns the courses the student owns via active entitlements.
func (h *LearningHandler) MyCourses(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	owned, err := h.entitlements.ListOwned(c.UserContext(), userID)
	if err != nil {
		log.Printf("[Learning] Error listing owned courses: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch courses",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    owned,
	})
}

// PlaybackResponse carries a short-lived signed video URL
type PlaybackResponse struct {
	LessonID string `json:"lesson_id"`
	URL      string `json:"url"`
}

// LessonPlayback handles GET /api/my/lessons/:id/playback
// Mints a presigned video URL. Preview lessons are open to any logged-in
// user; everything else requires an active entitlement for the lesson's
// course.
func (h *LearningHandler) LessonPlayback(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	lessonID := c.Params("id")
	if lessonID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "lesson ID is required",
		})
	}

	ctx := c.UserContext()

	lesson, err := h.lessons.GetByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "lesson not found",
			})
		}
		log.Printf("[Learning] Error fetching lesson %s: %v", lessonID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch lesson",
		})
	}

	if !lesson.Preview {
		entitled, err := h.entitlements.HasActive(ctx, userID, lesson.CourseID)
		if err != nil {
			log.Printf("[Learning] Error checking entitlement: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "failed to check access",
			})
		}
		if !entitled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "course not owned",
			})
		}
	}

	if lesson.VideoKey == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "lesson has no video",
		})
	}

	url, err := h.media.PresignGet(ctx, lesson.VideoKey)
	if err != nil {
		log.Printf("[Learning] Error presigning video %s: %v", lesson.VideoKey, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to generate playback URL",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": PlaybackResponse{
			LessonID: lesson.ID,
			URL:      url,
		},
	})
}
