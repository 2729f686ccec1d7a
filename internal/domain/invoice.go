package domain

import (
	"context"
	"time"
)

// InvoiceStatus is the lifecycle state of a payment invoice.
type InvoiceStatus string

const (
	// InvoiceStatusCreated means the local row exists but the provider-side
	// invoice has not been confirmed yet (creation pending or failed mid-way).
	InvoiceStatusCreated InvoiceStatus = "created"
	// InvoiceStatusAwaitingPayment means the provider issued payment
	// instructions and we are waiting for the buyer to pay.
	InvoiceStatusAwaitingPayment InvoiceStatus = "awaiting_payment"
	InvoiceStatusPaid            InvoiceStatus = "paid"
	InvoiceStatusExpired         InvoiceStatus = "expired"
	InvoiceStatusCancelled       InvoiceStatus = "cancelled"
	InvoiceStatusFailed          InvoiceStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled, InvoiceStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the fixed partial order allows s -> to.
// created -> awaiting_payment | cancelled | failed
// awaiting_payment -> paid | expired | cancelled
// Everything else is rejected; paid is absorbing.
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	switch s {
	case InvoiceStatusCreated:
		return to == InvoiceStatusAwaitingPayment || to == InvoiceStatusCancelled || to == InvoiceStatusFailed
	case InvoiceStatusAwaitingPayment:
		return to == InvoiceStatusPaid || to == InvoiceStatusExpired || to == InvoiceStatusCancelled
	}
	return false
}

// StatusChange is one entry in the invoice's transition audit trail.
type StatusChange struct {
	Status InvoiceStatus `bson:"status" json:"status"`
	At     time.Time     `bson:"at" json:"at"`
}

// Invoice represents a payment request for one (buyer, course) pair, tracked
// both locally and at the payment provider. Rows are never deleted; terminal
// rows stay behind as an audit trail.
type Invoice struct {
	ID                string         `bson:"_id,omitempty" json:"id"`
	UserID            string         `bson:"user_id" json:"user_id"`
	CourseID          string         `bson:"course_id" json:"course_id"`
	Amount            int64          `bson:"amount" json:"amount"` // smallest currency unit
	Currency          string         `bson:"currency" json:"currency"`
	Status            InvoiceStatus  `bson:"status" json:"status"`
	Open              bool           `bson:"open" json:"-"` // true while status is non-terminal
	Provider          string         `bson:"provider" json:"provider"`
	ProviderRef       string         `bson:"provider_ref,omitempty" json:"provider_ref,omitempty"`
	ProviderPaymentID string         `bson:"provider_payment_id,omitempty" json:"provider_payment_id,omitempty"`
	PaidAmount        int64          `bson:"paid_amount,omitempty" json:"paid_amount,omitempty"`
	PaymentMethod     string         `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
	PaymentURL        string         `bson:"payment_url,omitempty" json:"payment_url,omitempty"`
	VANumber          string         `bson:"va_number,omitempty" json:"va_number,omitempty"`
	IdempotencyKey    string         `bson:"idempotency_key" json:"-"`
	ExpiryDate        time.Time      `bson:"expiry_date,omitempty" json:"expiry_date,omitempty"`
	LastReconciledAt  time.Time      `bson:"last_reconciled_at,omitempty" json:"last_reconciled_at,omitempty"`
	StatusHistory     []StatusChange `bson:"status_history,omitempty" json:"-"`
	CreatedAt         time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at" json:"updated_at"`
}

// HasProviderData reports whether the provider-side invoice was created and
// the buyer has something to pay against.
func (i *Invoice) HasProviderData() bool {
	return i.ProviderRef != ""
}

// ExpiredAt reports whether the payment window has passed at time now.
func (i *Invoice) ExpiredAt(now time.Time) bool {
	return !i.ExpiryDate.IsZero() && now.After(i.ExpiryDate)
}

// ProviderData is the provider-side payment material backfilled onto a
// created invoice once the gateway call succeeds.
type ProviderData struct {
	Ref        string
	PaymentURL string
	VANumber   string
	ExpiresAt  time.Time
}

// PaidData records the provider-verified payment applied by the winning
// reconciliation caller.
type PaidData struct {
	ProviderPaymentID string
	PaidAmount        int64
}

// InvoiceRepository defines operations for managing invoices.
//
// Transition, AttachProviderData and MarkPaid are conditional writes: they
// apply only while the invoice is still in the expected prior status, and
// report whether this caller's write took effect. That single-document
// compare-and-swap is the concurrency-control primitive of the payment flow.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetByProviderRef(ctx context.Context, ref string) (*Invoice, error)
	GetOpenByUserAndCourse(ctx context.Context, userID, courseID string) (*Invoice, error)
	ListByUserID(ctx context.Context, userID string) ([]*Invoice, error)

	// Transition moves the invoice from one of the expected statuses to the
	// target status. Returns true when this call applied the change.
	Transition(ctx context.Context, id string, from []InvoiceStatus, to InvoiceStatus) (bool, error)
	// AttachProviderData moves a created invoice to awaiting_payment and
	// stores the provider payment material, conditional on status=created.
	AttachProviderData(ctx context.Context, id string, data ProviderData) (bool, error)
	// MarkPaid moves an awaiting_payment invoice to paid and records the
	// provider payment id and amount, conditional on status=awaiting_payment.
	MarkPaid(ctx context.Context, id string, data PaidData) (bool, error)

	// ListOpenExpiredBefore returns open invoices whose payment window closed
	// before the given time, for the expiry sweep.
	ListOpenExpiredBefore(ctx context.Context, t time.Time, limit int64) ([]*Invoice, error)
}
