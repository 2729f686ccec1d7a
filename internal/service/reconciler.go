package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/gateway"
)

// ReconcileSource tags who asked for reconciliation. Purely for logging and
// metrics: both sources run the identical state transition.
type ReconcileSource string

const (
	SourceWebhook ReconcileSource = "webhook"
	SourcePoll    ReconcileSource = "poll"
)

// ReconcileOutcome classifies the result of one reconciliation attempt.
type ReconcileOutcome string

const (
	// OutcomePaid: this caller won the conditional update and granted the
	// entitlement.
	OutcomePaid ReconcileOutcome = "paid"
	// OutcomeAlreadyPaid: the invoice was paid before this attempt started.
	OutcomeAlreadyPaid ReconcileOutcome = "already_paid"
	// OutcomeRaceLost: another caller applied the paid transition between our
	// read and our conditional write. Treated as success by callers.
	OutcomeRaceLost ReconcileOutcome = "race_lost"
	// OutcomePending: the provider has not confirmed payment yet.
	OutcomePending ReconcileOutcome = "pending"
	// OutcomeStale: the invoice is terminal and not paid; nothing to do.
	OutcomeStale ReconcileOutcome = "stale"
)

// Settled reports whether the attempt ended with the invoice paid.
func (o ReconcileOutcome) Settled() bool {
	return o == OutcomePaid || o == OutcomeAlreadyPaid || o == OutcomeRaceLost
}

// ReconcileResult is the answer to one reconcile call.
type ReconcileResult struct {
	Outcome ReconcileOutcome
	Invoice *domain.Invoice
}

// Reconciler decides whether an invoice is newly paid and applies that fact
// exactly once. Both the provider webhook and the buyer's status poll funnel
// into Reconcile; processing them in either order, or at the same instant,
// converges on one paid invoice and one entitlement.
type Reconciler struct {
	invoices     domain.InvoiceRepository
	entitlements *EntitlementService
	gateway      gateway.PaymentGateway
	now          func() time.Time
}

// NewReconciler creates the reconciliation engine.
func NewReconciler(
	invoices domain.InvoiceRepository,
	entitlements *EntitlementService,
	gw gateway.PaymentGateway,
) *Reconciler {
	return &Reconciler{
		invoices:     invoices,
		entitlements: entitlements,
		gateway:      gw,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileByProviderRef resolves the provider's correlation id to a local
// invoice and reconciles it. Used by the webhook path.
func (r *Reconciler) ReconcileByProviderRef(ctx context.Context, ref string, source ReconcileSource) (*ReconcileResult, error) {
	invoice, err := r.invoices.GetByProviderRef(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no invoice for provider ref %s: %w", ref, err)
		}
		return nil, err
	}
	return r.reconcile(ctx, invoice, source)
}

// Reconcile loads the invoice and runs one reconciliation attempt.
func (r *Reconciler) Reconcile(ctx context.Context, invoiceID string, source ReconcileSource) (*ReconcileResult, error) {
	invoice, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return r.reconcile(ctx, invoice, source)
}

func (r *Reconciler) reconcile(ctx context.Context, invoice *domain.Invoice, source ReconcileSource) (*ReconcileResult, error) {
	// Fast idempotent exit: the first defense against duplicate webhook
	// deliveries and webhook/poll races. The grant is re-asserted here so a
	// winner that died between its paid write and the grant cannot strand a
	// paid invoice without access; later deliveries and polls land on this
	// path and repair it.
	if invoice.Status == domain.InvoiceStatusPaid {
		if err := r.entitlements.EnsureGranted(ctx, invoice.UserID, invoice.CourseID, invoice.ID); err != nil {
			return nil, fmt.Errorf("invoice %s paid but entitlement missing: %w", invoice.ID, err)
		}
		return &ReconcileResult{Outcome: OutcomeAlreadyPaid, Invoice: invoice}, nil
	}
	if invoice.Status.Terminal() {
		// Never resurrect an expired/cancelled/failed invoice.
		return &ReconcileResult{Outcome: OutcomeStale, Invoice: invoice}, nil
	}
	if invoice.Status == domain.InvoiceStatusCreated {
		// Provider-side invoice was never confirmed; nothing to verify yet.
		return &ReconcileResult{Outcome: OutcomePending, Invoice: invoice}, nil
	}

	now := r.now()
	if invoice.ExpiredAt(now) {
		// Lazy expiry on the reconcile path. Losing this race to a
		// concurrent paid transition is fine: the conditional update
		// refuses to touch a row that left awaiting_payment.
		if _, err := r.invoices.Transition(ctx, invoice.ID,
			[]domain.InvoiceStatus{domain.InvoiceStatusAwaitingPayment},
			domain.InvoiceStatusExpired); err != nil {
			return nil, err
		}
		return r.reloadAfterTransition(ctx, invoice.ID)
	}

	// Always verify against the provider. A webhook payload is a trigger,
	// never proof: spoofed or replayed notifications buy nothing here.
	status, err := r.gateway.CheckPaid(ctx, invoice.ProviderRef)
	if err != nil {
		// Provider trouble is invisible to the buyer: report pending and let
		// the next webhook delivery or poll try again.
		log.Printf("[Reconcile] check failed: invoice=%s source=%s err=%v", invoice.ID, source, err)
		return &ReconcileResult{Outcome: OutcomePending, Invoice: invoice}, nil
	}

	if !status.Paid {
		return &ReconcileResult{Outcome: OutcomePending, Invoice: invoice}, nil
	}
	if status.PaidAmount < invoice.Amount {
		// Partial payment never settles the invoice.
		log.Printf("[Reconcile] partial payment ignored: invoice=%s paid=%d want=%d",
			invoice.ID, status.PaidAmount, invoice.Amount)
		return &ReconcileResult{Outcome: OutcomePending, Invoice: invoice}, nil
	}

	// The race-deciding write. Exactly one concurrent caller sees won=true,
	// no matter how many webhooks and polls arrive in the same instant.
	won, err := r.invoices.MarkPaid(ctx, invoice.ID, domain.PaidData{
		ProviderPaymentID: status.ProviderPaymentID,
		PaidAmount:        status.PaidAmount,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return r.reloadAfterTransition(ctx, invoice.ID)
	}

	// Only the winner grants. The grant primitive is idempotent anyway, but
	// gating it here keeps one writer per invoice.
	if err := r.entitlements.Grant(ctx, invoice.UserID, invoice.CourseID, invoice.ID, domain.GrantReasonPurchase); err != nil {
		return nil, fmt.Errorf("invoice %s paid but entitlement grant failed: %w", invoice.ID, err)
	}

	log.Printf("[Reconcile] invoice paid: id=%s user=%s course=%s source=%s",
		invoice.ID, invoice.UserID, invoice.CourseID, source)

	updated, err := r.invoices.GetByID(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Outcome: OutcomePaid, Invoice: updated}, nil
}

// reloadAfterTransition re-reads the invoice after a lost or lazy transition
// and classifies what actually happened.
func (r *Reconciler) reloadAfterTransition(ctx context.Context, id string) (*ReconcileResult, error) {
	invoice, err := r.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case invoice.Status == domain.InvoiceStatusPaid:
		// The winner normally granted already; re-assert in case it did not
		// survive long enough to.
		if err := r.entitlements.EnsureGranted(ctx, invoice.UserID, invoice.CourseID, invoice.ID); err != nil {
			return nil, fmt.Errorf("invoice %s paid but entitlement missing: %w", invoice.ID, err)
		}
		return &ReconcileResult{Outcome: OutcomeRaceLost, Invoice: invoice}, nil
	case invoice.Status.Terminal():
		return &ReconcileResult{Outcome: OutcomeStale, Invoice: invoice}, nil
	default:
		return &ReconcileResult{Outcome: OutcomePending, Invoice: invoice}, nil
	}
}
