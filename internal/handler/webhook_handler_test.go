package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/gateway"
	"github.com/kelasku/kelasku/internal/service"
)

const (
	testAPIKey = "SANDBOX-TEST-KEY"
	testVA     = "0000001234567890"
)

// stubInvoiceRepo is just enough invoice storage for the webhook flow:
// lookup by provider ref and the paid conditional write.
type stubInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice // by id
}

func newStubInvoiceRepo(invoices ...*domain.Invoice) *stubInvoiceRepo {
	r := &stubInvoiceRepo{invoices: make(map[string]*domain.Invoice)}
	for _, inv := range invoices {
		r.invoices[inv.ID] = inv
	}
	return r
}

func (r *stubInvoiceRepo) Create(ctx context.Context, invoice *domain.Invoice) error { return nil }

func (r *stubInvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *stubInvoiceRepo) GetByProviderRef(ctx context.Context, ref string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.ProviderRef == ref {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubInvoiceRepo) GetOpenByUserAndCourse(ctx context.Context, userID, courseID string) (*domain.Invoice, error) {
	return nil, domain.ErrNotFound
}

func (r *stubInvoiceRepo) ListByUserID(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	return nil, nil
}

func (r *stubInvoiceRepo) Transition(ctx context.Context, id string, from []domain.InvoiceStatus, to domain.InvoiceStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if !f.CanTransition(to) {
			return false, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
		if inv.Status == f {
			inv.Status = to
			inv.Open = !to.Terminal()
			return true, nil
		}
	}
	return false, nil
}

func (r *stubInvoiceRepo) AttachProviderData(ctx context.Context, id string, data domain.ProviderData) (bool, error) {
	return false, nil
}

func (r *stubInvoiceRepo) MarkPaid(ctx context.Context, id string, data domain.PaidData) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.Status != domain.InvoiceStatusAwaitingPayment {
		return false, nil
	}
	inv.Status = domain.InvoiceStatusPaid
	inv.Open = false
	inv.ProviderPaymentID = data.ProviderPaymentID
	inv.PaidAmount = data.PaidAmount
	return true, nil
}

func (r *stubInvoiceRepo) ListOpenExpiredBefore(ctx context.Context, t time.Time, limit int64) ([]*domain.Invoice, error) {
	return nil, nil
}

// stubEntitlementRepo is an in-memory entitlement store keyed by
// userID|courseID; grants counts row creations only.
type stubEntitlementRepo struct {
	mu     sync.Mutex
	rows   map[string]*domain.Entitlement
	grants int
}

func newStubEntitlementRepo() *stubEntitlementRepo {
	return &stubEntitlementRepo{rows: make(map[string]*domain.Entitlement)}
}

func (r *stubEntitlementRepo) Grant(ctx context.Context, ent *domain.Entitlement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ent.UserID + "|" + ent.CourseID
	if existing, ok := r.rows[key]; ok {
		existing.Active = true
		return false, nil
	}
	cp := *ent
	cp.Active = true
	cp.GrantedAt = time.Now().UTC()
	r.rows[key] = &cp
	r.grants++
	return true, nil
}

func (r *stubEntitlementRepo) Revoke(ctx context.Context, userID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.rows[userID+"|"+courseID]
	if !ok {
		return domain.ErrNotFound
	}
	ent.Active = false
	return nil
}

func (r *stubEntitlementRepo) GetByUserAndCourse(ctx context.Context, userID, courseID string) (*domain.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.rows[userID+"|"+courseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ent
	return &cp, nil
}

func (r *stubEntitlementRepo) ListActiveByUserID(ctx context.Context, userID string) ([]*domain.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Entitlement
	for _, ent := range r.rows {
		if ent.UserID == userID && ent.Active {
			cp := *ent
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubEntitlementRepo) HasActive(ctx context.Context, userID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.rows[userID+"|"+courseID]
	return ok && ent.Active, nil
}

type webhookEnv struct {
	app      *fiber.App
	mock     *gateway.Mock
	invoices *stubInvoiceRepo
	ents     *stubEntitlementRepo
}

func newWebhookEnv(t *testing.T, invoices ...*domain.Invoice) *webhookEnv {
	t.Helper()

	repo := newStubInvoiceRepo(invoices...)
	ents := newStubEntitlementRepo()
	mock := gateway.NewMock()
	reconciler := service.NewReconciler(repo, service.NewEntitlementService(ents, nil), mock)

	app := fiber.New()
	h := NewWebhookHandler(reconciler, testAPIKey)
	app.Post("/api/webhooks/ipaymu", h.IPAYMUWebhook)

	return &webhookEnv{app: app, mock: mock, invoices: repo, ents: ents}
}

func signWebhook(sid, status string) string {
	mac := hmac.New(sha256.New, []byte(testAPIKey))
	mac.Write([]byte(testVA + "." + sid + "." + status))
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, app *fiber.App, payload map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/webhooks/ipaymu", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(respBody, &decoded))
	return resp.StatusCode, decoded
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newWebhookEnv(t)

	status, body := postWebhook(t, env.app, map[string]interface{}{
		"sid":       "sess-1",
		"va":        testVA,
		"status":    "berhasil",
		"signature": "deadbeef",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, 0, env.ents.grants)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	env := newWebhookEnv(t)

	req := httptest.NewRequest("POST", "/api/webhooks/ipaymu", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWebhookRequiresSID(t *testing.T) {
	env := newWebhookEnv(t)

	status, _ := postWebhook(t, env.app, map[string]interface{}{
		"sid":       "",
		"va":        testVA,
		"status":    "berhasil",
		"signature": signWebhook("", "berhasil"),
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestWebhookAcknowledgesUnknownSession(t *testing.T) {
	env := newWebhookEnv(t)

	status, body := postWebhook(t, env.app, map[string]interface{}{
		"sid":       "sess-unknown",
		"va":        testVA,
		"status":    "berhasil",
		"signature": signWebhook("sess-unknown", "berhasil"),
	})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "acknowledged", body["message"])
}

func TestWebhookSettlesPaidInvoice(t *testing.T) {
	env := newWebhookEnv(t)

	inv, err := env.mock.CreateInvoice(context.Background(), gateway.CreateInvoiceRequest{
		Reference: "inv-1", Amount: 299000, Method: "BCA",
	})
	require.NoError(t, err)
	require.NoError(t, env.mock.SettlePayment(inv.Ref, 0))

	env.invoices.invoices["inv-1"] = &domain.Invoice{
		ID:          "inv-1",
		UserID:      "user-1",
		CourseID:    "course-1",
		Amount:      299000,
		Status:      domain.InvoiceStatusAwaitingPayment,
		Open:        true,
		ProviderRef: inv.Ref,
		ExpiryDate:  time.Now().UTC().Add(24 * time.Hour),
	}

	status, body := postWebhook(t, env.app, map[string]interface{}{
		"sid":       inv.Ref,
		"va":        testVA,
		"status":    "berhasil",
		"signature": signWebhook(inv.Ref, "berhasil"),
	})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "paid", body["message"])
	assert.Equal(t, 1, env.ents.grants)

	stored, err := env.invoices.GetByID(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, stored.Status)

	// Duplicate delivery: same payload again is a no-op acknowledged 200.
	status, body = postWebhook(t, env.app, map[string]interface{}{
		"sid":       inv.Ref,
		"va":        testVA,
		"status":    "berhasil",
		"signature": signWebhook(inv.Ref, "berhasil"),
	})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "already_paid", body["message"])
	assert.Equal(t, 1, env.ents.grants)
}

func TestWebhookUnpaidSessionStaysPending(t *testing.T) {
	env := newWebhookEnv(t)

	inv, err := env.mock.CreateInvoice(context.Background(), gateway.CreateInvoiceRequest{
		Reference: "inv-1", Amount: 299000, Method: "BCA",
	})
	require.NoError(t, err)

	env.invoices.invoices["inv-1"] = &domain.Invoice{
		ID:          "inv-1",
		UserID:      "user-1",
		CourseID:    "course-1",
		Amount:      299000,
		Status:      domain.InvoiceStatusAwaitingPayment,
		Open:        true,
		ProviderRef: inv.Ref,
		ExpiryDate:  time.Now().UTC().Add(24 * time.Hour),
	}

	// A forged "berhasil" status in the payload proves nothing: the provider
	// still reports unpaid, so the invoice stays pending.
	status, body := postWebhook(t, env.app, map[string]interface{}{
		"sid":       inv.Ref,
		"va":        testVA,
		"status":    "berhasil",
		"signature": signWebhook(inv.Ref, "berhasil"),
	})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pending", body["message"])
	assert.Equal(t, 0, env.ents.grants)

	stored, err := env.invoices.GetByID(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusAwaitingPayment, stored.Status)
}
