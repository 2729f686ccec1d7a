package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/service"
)

// CatalogHandler serves the public course catalog
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListCourses handles GET /api/courses
func (h *CatalogHandler) ListCourses(c *fiber.Ctx) error {
	courses, err := h.catalog.ListPublished(c.UserContext())
	if err != nil {
		log.Printf("[Catalog] Error listing courses: %v", err)
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

// GetCourse handles GET /api/courses/:slug
func (h *CatalogHandler) GetCourse(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "slug is required",
		})
	}

	detail, err := h.catalog.GetBySlug(c.UserContext(), slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "course not found",
			})
		}
		log.Printf("[Catalog] Error fetching course %s: %v", slug, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch course",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    detail,
	})
}
