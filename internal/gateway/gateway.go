// Package gateway abstracts the external payment provider. The rest of the
// system talks to the PaymentGateway interface only; a concrete provider is
// selected once at invoice-creation time and recorded on the invoice.
package gateway

import (
	"context"
	"time"
)

// CreateInvoiceRequest carries everything a provider needs to issue payment
// instructions for one invoice.
type CreateInvoiceRequest struct {
	// Reference is our idempotency key for the invoice; it is echoed back in
	// webhooks and status checks as the correlation id.
	Reference  string
	Amount     int64 // smallest currency unit
	Currency   string
	Method     string // payment channel, e.g. a bank code for VA payments
	BuyerName  string
	BuyerEmail string
	BuyerPhone string
}

// ProviderInvoice is the provider-side payment material for a created invoice.
type ProviderInvoice struct {
	Ref        string // provider's id for the invoice (session/transaction id)
	PaymentURL string
	VANumber   string
	ExpiresAt  time.Time
}

// PaymentStatus is the provider's answer to "has this invoice been paid".
type PaymentStatus struct {
	Paid              bool
	PaidAmount        int64
	ProviderPaymentID string
}

// PaymentGateway is the capability contract against the external provider.
//
// CreateInvoice is NOT safe to retry blindly: a timeout may mean the provider
// created the invoice anyway, so callers must treat transient creation
// failures as "unknown, reconcile later" rather than "failed". CheckPaid and
// CancelInvoice are idempotent at the provider and may be retried freely.
type PaymentGateway interface {
	Name() string
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error)
	CancelInvoice(ctx context.Context, ref string) error
	CheckPaid(ctx context.Context, ref string) (*PaymentStatus, error)
}
