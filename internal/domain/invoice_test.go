package domain

import (
	"testing"
	"time"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from InvoiceStatus
		to   InvoiceStatus
		want bool
	}{
		{"created to awaiting", InvoiceStatusCreated, InvoiceStatusAwaitingPayment, true},
		{"created to cancelled", InvoiceStatusCreated, InvoiceStatusCancelled, true},
		{"created to failed", InvoiceStatusCreated, InvoiceStatusFailed, true},
		{"created to paid skips awaiting", InvoiceStatusCreated, InvoiceStatusPaid, false},
		{"created to expired", InvoiceStatusCreated, InvoiceStatusExpired, false},
		{"awaiting to paid", InvoiceStatusAwaitingPayment, InvoiceStatusPaid, true},
		{"awaiting to expired", InvoiceStatusAwaitingPayment, InvoiceStatusExpired, true},
		{"awaiting to cancelled", InvoiceStatusAwaitingPayment, InvoiceStatusCancelled, true},
		{"awaiting to failed", InvoiceStatusAwaitingPayment, InvoiceStatusFailed, false},
		{"awaiting back to created", InvoiceStatusAwaitingPayment, InvoiceStatusCreated, false},
		{"paid is absorbing", InvoiceStatusPaid, InvoiceStatusExpired, false},
		{"paid to cancelled", InvoiceStatusPaid, InvoiceStatusCancelled, false},
		{"expired stays expired", InvoiceStatusExpired, InvoiceStatusAwaitingPayment, false},
		{"expired to paid", InvoiceStatusExpired, InvoiceStatusPaid, false},
		{"cancelled to paid", InvoiceStatusCancelled, InvoiceStatusPaid, false},
		{"failed to awaiting", InvoiceStatusFailed, InvoiceStatusAwaitingPayment, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []InvoiceStatus{InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled, InvoiceStatusFailed}
	open := []InvoiceStatus{InvoiceStatusCreated, InvoiceStatusAwaitingPayment}

	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestInvoiceExpiredAt(t *testing.T) {
	now := time.Now().UTC()

	inv := &Invoice{ExpiryDate: now.Add(time.Hour)}
	if inv.ExpiredAt(now) {
		t.Error("invoice with future expiry should not be expired")
	}
	if !inv.ExpiredAt(now.Add(2 * time.Hour)) {
		t.Error("invoice past expiry should be expired")
	}

	// Created rows carry no expiry date yet; they never count as expired.
	blank := &Invoice{}
	if blank.ExpiredAt(now) {
		t.Error("invoice without expiry date should never be expired")
	}
}

func TestEntitlementIsActiveAt(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		ent  Entitlement
		want bool
	}{
		{"active without expiry", Entitlement{Active: true}, true},
		{"active with future expiry", Entitlement{Active: true, ExpiresAt: &future}, true},
		{"active but lapsed", Entitlement{Active: true, ExpiresAt: &past}, false},
		{"revoked", Entitlement{Active: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ent.IsActiveAt(now); got != tt.want {
				t.Errorf("IsActiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}
