package domain

import (
	"context"
	"time"
)

// GrantReason records how an entitlement came to be.
type GrantReason string

const (
	GrantReasonPurchase   GrantReason = "purchase"
	GrantReasonAdminGrant GrantReason = "admin_grant"
)

// Entitlement is the record that a user may access a course. At most one row
// exists per (user, course); repeated grants update the same row. Revocation
// flips the active flag instead of deleting, so the trail stays intact.
type Entitlement struct {
	ID        string      `bson:"_id,omitempty" json:"id"`
	UserID    string      `bson:"user_id" json:"user_id"`
	CourseID  string      `bson:"course_id" json:"course_id"`
	Active    bool        `bson:"active" json:"active"`
	InvoiceID string      `bson:"invoice_id,omitempty" json:"invoice_id,omitempty"`
	Reason    GrantReason `bson:"reason" json:"reason"`
	GrantedAt time.Time   `bson:"granted_at" json:"granted_at"`
	ExpiresAt *time.Time  `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	RevokedAt *time.Time  `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// IsActiveAt reports whether the entitlement actually grants access at now.
func (e *Entitlement) IsActiveAt(now time.Time) bool {
	if !e.Active {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// EntitlementRepository defines operations for managing entitlements.
type EntitlementRepository interface {
	// Grant upserts the (user, course) row. A missing row is inserted active
	// with the given provenance; an existing active row keeps its original
	// provenance (first grant wins); an existing inactive row is re-activated
	// with the new provenance. Safe to call repeatedly with the same invoice.
	// Returns true when this call created the row.
	Grant(ctx context.Context, ent *Entitlement) (bool, error)
	// Revoke sets active=false and records the revocation time.
	Revoke(ctx context.Context, userID, courseID string) error
	GetByUserAndCourse(ctx context.Context, userID, courseID string) (*Entitlement, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]*Entitlement, error)
	HasActive(ctx context.Context, userID, courseID string) (bool, error)
}
