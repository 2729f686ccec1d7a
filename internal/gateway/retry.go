package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier decorates a PaymentGateway with exponential-backoff retries for
// the idempotent operations (CheckPaid, CancelInvoice). CreateInvoice is
// deliberately passed through untouched: creation is not idempotent at the
// provider, so a failed attempt is handed back to the lifecycle manager,
// which keeps the local row in created and retries through its own path.
type Retrier struct {
	next            PaymentGateway
	maxRetries      uint64
	initialInterval time.Duration
}

// WithRetry wraps gw with a bounded retry policy. maxRetries counts the
// attempts after the first one; 3 retries means at most 4 calls.
func WithRetry(gw PaymentGateway, maxRetries uint64) *Retrier {
	return &Retrier{
		next:            gw,
		maxRetries:      maxRetries,
		initialInterval: 250 * time.Millisecond,
	}
}

func (r *Retrier) Name() string { return r.next.Name() }

func (r *Retrier) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error) {
	return r.next.CreateInvoice(ctx, req)
}

func (r *Retrier) CancelInvoice(ctx context.Context, ref string) error {
	_, err := backoff.RetryWithData(func() (struct{}, error) {
		if err := r.next.CancelInvoice(ctx, ref); err != nil {
			if IsPermanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, r.policy(ctx))
	return err
}

func (r *Retrier) CheckPaid(ctx context.Context, ref string) (*PaymentStatus, error) {
	return backoff.RetryWithData(func() (*PaymentStatus, error) {
		status, err := r.next.CheckPaid(ctx, ref)
		if err != nil {
			if IsPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return status, nil
	}, r.policy(ctx))
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)
}
