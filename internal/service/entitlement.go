package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kelasku/kelasku/internal/domain"
)

// EntitlementService owns the single grant primitive. Every path that makes a
// course accessible, purchase reconciliation and administrative grants alike,
// goes through Grant so the one-row-per-(user, course) invariant holds.
type EntitlementService struct {
	entitlements domain.EntitlementRepository
	courses      domain.CourseRepository
}

// NewEntitlementService creates a new entitlement service
func NewEntitlementService(entitlements domain.EntitlementRepository, courses domain.CourseRepository) *EntitlementService {
	return &EntitlementService{
		entitlements: entitlements,
		courses:      courses,
	}
}

// Grant makes the course accessible to the user, recording which invoice (if
// any) caused it. Safe to call any number of times with the same invoice.
func (s *EntitlementService) Grant(ctx context.Context, userID, courseID, invoiceID string, reason domain.GrantReason) error {
	created, err := s.entitlements.Grant(ctx, &domain.Entitlement{
		UserID:    userID,
		CourseID:  courseID,
		InvoiceID: invoiceID,
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	if created {
		log.Printf("[Entitlement] granted: user=%s course=%s invoice=%s reason=%s", userID, courseID, invoiceID, reason)
	}
	return nil
}

// EnsureGranted repairs a missing grant for a settled purchase: a paid
// invoice whose winner crashed between the paid write and the grant. A row
// that already exists is left alone, active or not, so a status poll can
// never undo an administrative revocation.
func (s *EntitlementService) EnsureGranted(ctx context.Context, userID, courseID, invoiceID string) error {
	_, err := s.entitlements.GetByUserAndCourse(ctx, userID, courseID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	log.Printf("[Entitlement] repairing lost grant: user=%s course=%s invoice=%s", userID, courseID, invoiceID)
	return s.Grant(ctx, userID, courseID, invoiceID, domain.GrantReasonPurchase)
}

// Revoke withdraws access without deleting the audit record.
func (s *EntitlementService) Revoke(ctx context.Context, userID, courseID string) error {
	if err := s.entitlements.Revoke(ctx, userID, courseID); err != nil {
		return err
	}
	log.Printf("[Entitlement] revoked: user=%s course=%s", userID, courseID)
	return nil
}

// HasActive reports whether the user currently holds access to the course.
func (s *EntitlementService) HasActive(ctx context.Context, userID, courseID string) (bool, error) {
	return s.entitlements.HasActive(ctx, userID, courseID)
}

// OwnedCourse pairs an entitlement with its catalog entry for the
// my-courses listing.
type OwnedCourse struct {
	Course      *domain.Course      `json:"course"`
	Entitlement *domain.Entitlement `json:"entitlement"`
}

// ListOwned returns the user's active entitlements joined with the catalog.
// Courses that were deleted from the catalog are skipped, not errors.
func (s *EntitlementService) ListOwned(ctx context.Context, userID string) ([]*OwnedCourse, error) {
	ents, err := s.entitlements.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}

	now := time.Now().UTC()
	owned := make([]*OwnedCourse, 0, len(ents))
	for _, ent := range ents {
		if !ent.IsActiveAt(now) {
			continue
		}
		course, err := s.courses.GetByID(ctx, ent.CourseID)
		if err != nil {
			if err == domain.ErrNotFound {
				continue
			}
			return nil, err
		}
		owned = append(owned, &OwnedCourse{Course: course, Entitlement: ent})
	}
	return owned, nil
}
