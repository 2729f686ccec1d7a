package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Mock is an in-memory PaymentGateway for development and tests. Invoices
// start unpaid; SettlePayment flips one to paid so webhook/poll flows can be
// exercised without provider credentials.
type Mock struct {
	mu       sync.Mutex
	invoices map[string]*mockInvoice
}

type mockInvoice struct {
	amount     int64
	paid       bool
	paidAmount int64
	paidAt     time.Time
	cancelled  bool
}

// NewMock creates an empty mock gateway.
func NewMock() *Mock {
	return &Mock{invoices: make(map[string]*mockInvoice)}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := ulid.Make().String()
	m.invoices[ref] = &mockInvoice{amount: req.Amount}

	return &ProviderInvoice{
		Ref:        ref,
		VANumber:   fmt.Sprintf("8888-MOCK-%s-%s", req.Method, ref[:8]),
		PaymentURL: "https://pay.invalid/mock/" + ref,
		ExpiresAt:  time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

func (m *Mock) CancelInvoice(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[ref]
	if !ok {
		return NewPermanent("cancel", fmt.Errorf("unknown invoice ref %s", ref))
	}
	inv.cancelled = true
	return nil
}

func (m *Mock) CheckPaid(ctx context.Context, ref string) (*PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[ref]
	if !ok {
		return nil, NewPermanent("check", fmt.Errorf("unknown invoice ref %s", ref))
	}
	if !inv.paid {
		return &PaymentStatus{Paid: false}, nil
	}
	return &PaymentStatus{
		Paid:              true,
		PaidAmount:        inv.paidAmount,
		ProviderPaymentID: "mockpay-" + ref,
	}, nil
}

// SettlePayment marks a provider invoice as paid with the given amount.
// Amount 0 settles the full invoice amount.
func (m *Mock) SettlePayment(ref string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[ref]
	if !ok {
		return fmt.Errorf("unknown invoice ref %s", ref)
	}
	inv.paidAmount = inv.amount
	if amount > 0 {
		inv.paidAmount = amount
	}
	inv.paid = true
	inv.paidAt = time.Now().UTC()
	return nil
}
