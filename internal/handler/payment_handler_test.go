package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/gateway"
	"github.com/kelasku/kelasku/internal/service"
)

type paymentEnv struct {
	app      *fiber.App
	mock     *gateway.Mock
	invoices *stubInvoiceRepo
	ents     *stubEntitlementRepo
}

func newPaymentEnv(t *testing.T, userID string) *paymentEnv {
	t.Helper()

	repo := newStubInvoiceRepo()
	ents := newStubEntitlementRepo()
	mock := gateway.NewMock()
	entSvc := service.NewEntitlementService(ents, nil)
	reconciler := service.NewReconciler(repo, entSvc, mock)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", userID)
		return c.Next()
	})
	h := NewPaymentHandler(nil, reconciler, entSvc)
	app.Get("/api/invoices/:id/status", h.GetInvoiceStatus)

	return &paymentEnv{app: app, mock: mock, invoices: repo, ents: ents}
}

// payableInvoice registers a provider-side session and stores the matching
// awaiting_payment row.
func (e *paymentEnv) payableInvoice(t *testing.T, id, userID string) *domain.Invoice {
	t.Helper()

	created, err := e.mock.CreateInvoice(context.Background(), gateway.CreateInvoiceRequest{
		Reference: id, Amount: 299000, Method: "BCA",
	})
	require.NoError(t, err)

	inv := &domain.Invoice{
		ID:          id,
		UserID:      userID,
		CourseID:    "course-1",
		Amount:      299000,
		Status:      domain.InvoiceStatusAwaitingPayment,
		Open:        true,
		ProviderRef: created.Ref,
		ExpiryDate:  time.Now().UTC().Add(24 * time.Hour),
	}
	e.invoices.invoices[id] = inv
	return inv
}

func pollStatus(t *testing.T, app *fiber.App, id string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest("GET", "/api/invoices/"+id+"/status", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	return resp.StatusCode, decoded
}

func TestInvoiceStatusPendingInvoice(t *testing.T) {
	env := newPaymentEnv(t, "user-1")
	env.payableInvoice(t, "inv-1", "user-1")

	status, body := pollStatus(t, env.app, "inv-1")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "awaiting_payment", data["status"])
	assert.Equal(t, false, data["entitlement_active"])
}

func TestInvoiceStatusConfirmsEntitlement(t *testing.T) {
	env := newPaymentEnv(t, "user-1")
	inv := env.payableInvoice(t, "inv-1", "user-1")
	require.NoError(t, env.mock.SettlePayment(inv.ProviderRef, 0))

	status, body := pollStatus(t, env.app, "inv-1")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "paid", data["status"])
	assert.Equal(t, true, data["entitlement_active"])
	assert.Equal(t, 1, env.ents.grants)
}

func TestInvoiceStatusRepairsStrandedPaidInvoice(t *testing.T) {
	env := newPaymentEnv(t, "user-1")

	// A paid row with no entitlement: the granting caller died after its
	// conditional paid write.
	env.invoices.invoices["inv-1"] = &domain.Invoice{
		ID:       "inv-1",
		UserID:   "user-1",
		CourseID: "course-1",
		Amount:   299000,
		Status:   domain.InvoiceStatusPaid,
	}

	status, body := pollStatus(t, env.app, "inv-1")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "paid", data["status"])
	assert.Equal(t, true, data["entitlement_active"])

	owned, err := env.ents.HasActive(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestInvoiceStatusForeignInvoiceDenied(t *testing.T) {
	env := newPaymentEnv(t, "user-2")
	env.payableInvoice(t, "inv-1", "user-1")

	status, body := pollStatus(t, env.app, "inv-1")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, false, body["success"])
}
