package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/gateway"
)

// ErrPaymentUnavailable is returned when the provider cannot be reached while
// creating an invoice. The local row stays in created, so the same request
// can simply be retried.
var ErrPaymentUnavailable = errors.New("payment provider unavailable, try again")

// InvoiceRequest is one purchase intent from an authenticated buyer.
type InvoiceRequest struct {
	UserID        string
	CourseID      string
	PaymentMethod string // bank channel for VA payments
	ForceNew      bool   // cancel an existing open invoice and issue a fresh one
}

// LifecycleManager orchestrates invoice creation, reuse, supersession and
// expiry. Status reconciliation is the Reconciler's job; the two meet only at
// the invoice store's conditional writes.
type LifecycleManager struct {
	invoices     domain.InvoiceRepository
	entitlements *EntitlementService
	courses      domain.CourseRepository
	users        domain.UserRepository
	gateway      gateway.PaymentGateway
	expiry       time.Duration

	// collapses concurrent requests for the same (buyer, course) into one
	// check-then-create sequence; the partial unique index on open invoices
	// backs this across instances.
	group singleflight.Group
}

// NewLifecycleManager creates a new invoice lifecycle manager.
func NewLifecycleManager(
	invoices domain.InvoiceRepository,
	entitlements *EntitlementService,
	courses domain.CourseRepository,
	users domain.UserRepository,
	gw gateway.PaymentGateway,
	expiry time.Duration,
) *LifecycleManager {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &LifecycleManager{
		invoices:     invoices,
		entitlements: entitlements,
		courses:      courses,
		users:        users,
		gateway:      gw,
		expiry:       expiry,
	}
}

// RequestInvoice returns a payable invoice for the buyer and course, creating
// one only when no open invoice exists. Reloading the checkout page, double
// clicks and concurrent tabs all land on the same invoice.
func (m *LifecycleManager) RequestInvoice(ctx context.Context, req InvoiceRequest) (*domain.Invoice, error) {
	// Owners don't get billed twice: rejected before any provider work.
	owned, err := m.entitlements.HasActive(ctx, req.UserID, req.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to check entitlement: %w", err)
	}
	if owned {
		return nil, domain.ErrAlreadyOwned
	}

	course, err := m.courses.GetByID(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !course.Published {
		return nil, domain.ErrNotFound
	}

	key := req.UserID + "|" + req.CourseID
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.requestInvoice(ctx, req, course)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Invoice), nil
}

func (m *LifecycleManager) requestInvoice(ctx context.Context, req InvoiceRequest, course *domain.Course) (*domain.Invoice, error) {
	existing, err := m.invoices.GetOpenByUserAndCourse(ctx, req.UserID, req.CourseID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if req.ForceNew {
			if err := m.cancel(ctx, existing); err != nil {
				return nil, err
			}
		} else {
			switch {
			case existing.Status == domain.InvoiceStatusAwaitingPayment && existing.ExpiredAt(time.Now().UTC()):
				// Past the payment window but not swept yet; close it out
				// and fall through to a fresh invoice.
				if _, err := m.invoices.Transition(ctx, existing.ID,
					[]domain.InvoiceStatus{domain.InvoiceStatusAwaitingPayment},
					domain.InvoiceStatusExpired); err != nil {
					return nil, err
				}
			case existing.HasProviderData():
				// Idempotent re-request: hand back the live invoice untouched.
				return existing, nil
			default:
				// A prior attempt died between local-create and
				// provider-create; finish the job.
				return m.ensureProviderInvoice(ctx, existing, course)
			}
		}
	}

	invoice := &domain.Invoice{
		UserID:         req.UserID,
		CourseID:       req.CourseID,
		Amount:         course.Price, // catalog price is authoritative, never client input
		Currency:       course.Currency,
		Status:         domain.InvoiceStatusCreated,
		Provider:       m.gateway.Name(),
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: invoiceIdempotencyKey(req.UserID, req.CourseID, ulid.Make().String()),
	}

	if err := m.invoices.Create(ctx, invoice); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Another writer (other instance, or a raced force-new) inserted
			// the open invoice first; adopt theirs.
			adopted, err := m.invoices.GetOpenByUserAndCourse(ctx, req.UserID, req.CourseID)
			if err != nil {
				return nil, err
			}
			if adopted.HasProviderData() {
				return adopted, nil
			}
			return m.ensureProviderInvoice(ctx, adopted, course)
		}
		return nil, err
	}

	return m.ensureProviderInvoice(ctx, invoice, course)
}

// ensureProviderInvoice creates the provider-side invoice for a local row in
// created status and backfills the payment material.
//
// A transient failure (including a timeout where the provider may or may not
// have created its side) leaves the row in created: the next RequestInvoice
// lands back here and retries with the same idempotency key, so the provider
// can de-duplicate. Only a definitive provider rejection moves the row to
// failed.
func (m *LifecycleManager) ensureProviderInvoice(ctx context.Context, invoice *domain.Invoice, course *domain.Course) (*domain.Invoice, error) {
	user, err := m.users.GetByID(ctx, invoice.UserID)
	if err != nil {
		return nil, err
	}

	created, err := m.gateway.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		Reference:  invoice.IdempotencyKey,
		Amount:     invoice.Amount,
		Currency:   invoice.Currency,
		Method:     invoice.PaymentMethod,
		BuyerName:  user.Name,
		BuyerEmail: user.Email,
		BuyerPhone: user.Phone,
	})
	if err != nil {
		if gateway.IsPermanent(err) {
			if _, terr := m.invoices.Transition(ctx, invoice.ID,
				[]domain.InvoiceStatus{domain.InvoiceStatusCreated},
				domain.InvoiceStatusFailed); terr != nil {
				return nil, terr
			}
			return nil, err
		}
		log.Printf("[Invoice] provider create unresolved, will retry: invoice=%s err=%v", invoice.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	expiresAt := created.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(m.expiry)
	}

	applied, err := m.invoices.AttachProviderData(ctx, invoice.ID, domain.ProviderData{
		Ref:        created.Ref,
		PaymentURL: created.PaymentURL,
		VANumber:   created.VANumber,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// Someone else already attached (or cancelled); the store wins.
		return m.invoices.GetByID(ctx, invoice.ID)
	}

	log.Printf("[Invoice] issued: id=%s user=%s course=%s ref=%s", invoice.ID, invoice.UserID, invoice.CourseID, created.Ref)
	return m.invoices.GetByID(ctx, invoice.ID)
}

// cancel supersedes an open invoice: best-effort cancellation at the
// provider, authoritative cancellation locally.
func (m *LifecycleManager) cancel(ctx context.Context, invoice *domain.Invoice) error {
	if invoice.HasProviderData() {
		if err := m.gateway.CancelInvoice(ctx, invoice.ProviderRef); err != nil {
			// Local state decides whether we honor this invoice again.
			log.Printf("[Invoice] provider cancel failed (continuing): invoice=%s err=%v", invoice.ID, err)
		}
	}

	_, err := m.invoices.Transition(ctx, invoice.ID,
		[]domain.InvoiceStatus{domain.InvoiceStatusCreated, domain.InvoiceStatusAwaitingPayment},
		domain.InvoiceStatusCancelled)
	return err
}

// ExpireOverdue sweeps open invoices whose payment window has closed. Invoked
// periodically in-process and by the expire_invoices tool. The conditional
// transition makes concurrent sweeps and in-flight reconciliations safe: a
// payment that lands in the same instant wins or loses atomically, never both.
func (m *LifecycleManager) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := m.invoices.ListOpenExpiredBefore(ctx, time.Now().UTC(), 500)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, invoice := range overdue {
		won, err := m.invoices.Transition(ctx, invoice.ID,
			[]domain.InvoiceStatus{domain.InvoiceStatusAwaitingPayment},
			domain.InvoiceStatusExpired)
		if err != nil {
			return expired, err
		}
		if won {
			expired++
		}
	}
	if expired > 0 {
		log.Printf("[Invoice] expiry sweep closed %d invoices", expired)
	}
	return expired, nil
}

// ListForUser returns the buyer's invoice history, newest first.
func (m *LifecycleManager) ListForUser(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	return m.invoices.ListByUserID(ctx, userID)
}

// invoiceIdempotencyKey derives the provider-facing reference from the buyer,
// the course and a per-attempt nonce.
func invoiceIdempotencyKey(userID, courseID, nonce string) string {
	sum := sha256.Sum256([]byte(userID + "|" + courseID + "|" + nonce))
	return "inv-" + hex.EncodeToString(sum[:])[:32]
}
