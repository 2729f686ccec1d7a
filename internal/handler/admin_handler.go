package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/service"
)

// AdminHandler handles the admin catalog and entitlement endpoints.
// All routes are behind the admin role middleware.
type AdminHandler struct {
	catalog      *service.CatalogService
	entitlements *service.EntitlementService
	users        domain.UserRepository
	courses      domain.CourseRepository
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	catalog *service.CatalogService,
	entitlements *service.EntitlementService,
	users domain.UserRepository,
	courses domain.CourseRepository,
) *AdminHandler {
	return &AdminHandler{
		catalog:      catalog,
		entitlements: entitlements,
		users:        users,
		courses:      courses,
	}
}

// ListAllCourses handles GET /api/admin/courses
// Returns the full catalog including unpublished drafts.
func (h *AdminHandler) ListAllCourses(c *fiber.Ctx) error {
	courses, err := h.courses.ListAll(c.UserContext())
	if err != nil {
		log.Printf("[Admin] Error listing courses: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch courses",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    courses,
	})
}

// CreateCourse handles POST /api/admin/courses
func (h *AdminHandler) CreateCourse(c *fiber.Ctx) error {
	var course domain.Course
	if err := c.BodyParser(&course); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	if course.Title == "" || course.Slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "title and slug are required",
		})
	}

	if err := h.catalog.CreateCourse(c.UserContext(), &course); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "slug already in use",
			})
		}
		log.Printf("[Admin] Error creating course: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    course,
	})
}

// UpdateCourse handles PUT /api/admin/courses/:id
func (h *AdminHandler) UpdateCourse(c *fiber.Ctx) error {
	var course domain.Course
	if err := c.BodyParser(&course); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	course.ID = c.Params("id")

	if err := h.catalog.UpdateCourse(c.UserContext(), &course); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "course not found",
			})
		}
		log.Printf("[Admin] Error updating course: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    course,
	})
}

// DeleteCourse handles DELETE /api/admin/courses/:id
func (h *AdminHandler) DeleteCourse(c *fiber.Ctx) error {
	if err := h.catalog.DeleteCourse(c.UserContext(), c.Params("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "course not found",
			})
		}
		log.Printf("[Admin] Error deleting course: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to delete course",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "course deleted",
	})
}

// CreateLesson handles POST /api/admin/courses/:id/lessons
func (h *AdminHandler) CreateLesson(c *fiber.Ctx) error {
	var lesson domain.Lesson
	if err := c.BodyParser(&lesson); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	lesson.CourseID = c.Params("id")
	if lesson.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "title is required",
		})
	}

	if err := h.catalog.AddLesson(c.UserContext(), &lesson); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "course not found",
			})
		}
		log.Printf("[Admin] Error creating lesson: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to create lesson",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    lesson,
	})
}

// UpdateLesson handles PUT /api/admin/lessons/:id
func (h *AdminHandler) UpdateLesson(c *fiber.Ctx) error {
	var lesson domain.Lesson
	if err := c.BodyParser(&lesson); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	lesson.ID = c.Params("id")

	if err := h.catalog.UpdateLesson(c.UserContext(), &lesson); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "lesson not found",
			})
		}
		log.Printf("[Admin] Error updating lesson: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to update lesson",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    lesson,
	})
}

// DeleteLesson handles DELETE /api/admin/lessons/:id
func (h *AdminHandler) DeleteLesson(c *fiber.Ctx) error {
	if err := h.catalog.DeleteLesson(c.UserContext(), c.Params("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "lesson not found",
			})
		}
		log.Printf("[Admin] Error deleting lesson: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to delete lesson",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "lesson deleted",
	})
}

// ListUsers handles GET /api/admin/users
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.users.GetAll(c.UserContext())
	if err != nil {
		log.Printf("[Admin] Error listing users: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch users",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    users,
	})
}

// GrantEntitlementRequest represents the manual grant request body
type GrantEntitlementRequest struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// GrantEntitlement handles POST /api/admin/entitlements
// Manual grant, e.g. refund resolution or promo access. Runs through the
// same idempotent primitive the paid flow uses, so granting twice or
// granting over a purchase never produces a duplicate.
func (h *AdminHandler) GrantEntitlement(c *fiber.Ctx) error {
	var req GrantEntitlementRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	if req.UserID == "" || req.CourseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "user_id and course_id are required",
		})
	}

	ctx := c.UserContext()

	if _, err := h.users.GetByID(ctx, req.UserID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "user not found",
		})
	}

	if err := h.entitlements.Grant(ctx, req.UserID, req.CourseID, "", domain.GrantReasonAdminGrant); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "course not found",
			})
		}
		log.Printf("[Admin] Error granting entitlement: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to grant entitlement",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "entitlement granted",
	})
}

// RevokeEntitlement handles DELETE /api/admin/entitlements
func (h *AdminHandler) RevokeEntitlement(c *fiber.Ctx) error {
	var req GrantEntitlementRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	if req.UserID == "" || req.CourseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "user_id and course_id are required",
		})
	}

	if err := h.entitlements.Revoke(c.UserContext(), req.UserID, req.CourseID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "entitlement not found",
			})
		}
		log.Printf("[Admin] Error revoking entitlement: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to revoke entitlement",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "entitlement revoked",
	})
}
