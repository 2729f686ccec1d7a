package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/service"
)

// PaymentHandler handles the buyer-facing checkout and invoice endpoints
type PaymentHandler struct {
	lifecycle    *service.LifecycleManager
	reconciler   *service.Reconciler
	entitlements *service.EntitlementService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	lifecycle *service.LifecycleManager,
	reconciler *service.Reconciler,
	entitlements *service.EntitlementService,
) *PaymentHandler {
	return &PaymentHandler{
		lifecycle:    lifecycle,
		reconciler:   reconciler,
		entitlements: entitlements,
	}
}

// CheckoutRequest represents the request body for checkout
type CheckoutRequest struct {
	CourseID      string `json:"course_id"`
	PaymentMethod string `json:"payment_method"` // BCA, Mandiri, BNI
	ForceNew      bool   `json:"force_new"`      // cancel an open invoice and start over
}

// InvoiceResponse represents an invoice for the frontend
type InvoiceResponse struct {
	ID            string `json:"id"`
	CourseID      string `json:"course_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
	VANumber      string `json:"va_number,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"` // ISO 8601
	CreatedAt     string `json:"created_at"`
}

func toInvoiceResponse(inv *domain.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:            inv.ID,
		CourseID:      inv.CourseID,
		Amount:        inv.Amount,
		Currency:      inv.Currency,
		Status:        string(inv.Status),
		PaymentMethod: inv.PaymentMethod,
		PaymentURL:    inv.PaymentURL,
		VANumber:      inv.VANumber,
		CreatedAt:     inv.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if !inv.ExpiryDate.IsZero() {
		resp.ExpiryDate = inv.ExpiryDate.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// Checkout handles POST /api/invoices
// Creates a payable invoice for a course, or returns the buyer's existing
// open one.
func (h *PaymentHandler) Checkout(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.CourseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "course_id is required",
		})
	}

	validMethods := map[string]bool{"BCA": true, "Mandiri": true, "BNI": true}
	if !validMethods[req.PaymentMethod] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid payment_method, must be BCA, Mandiri, or BNI",
		})
	}

	ctx := c.UserContext()

	invoice, err := h.lifecycle.RequestInvoice(ctx, service.InvoiceRequest{
		UserID:        userID,
		CourseID:      req.CourseID,
		PaymentMethod: req.PaymentMethod,
		ForceNew:      req.ForceNew,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "course not found",
			})
		case errors.Is(err, domain.ErrAlreadyOwned):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "course already owned",
			})
		case errors.Is(err, service.ErrPaymentUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"error":   "payment service unavailable, please try again later",
			})
		}
		log.Printf("[Checkout] Error requesting invoice: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to create invoice",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    toInvoiceResponse(invoice),
	})
}

// InvoiceStatusResponse is the poll answer: the invoice plus, once paid,
// whether the entitlement is actually in place.
type InvoiceStatusResponse struct {
	InvoiceResponse
	EntitlementActive bool `json:"entitlement_active"`
}

// GetInvoiceStatus handles GET /api/invoices/:id/status
// Runs a poll-side reconciliation against the provider and returns the
// resulting invoice state, so a buyer refreshing the payment page settles
// even if the webhook never arrives. A paid answer carries the entitlement
// check too: "you paid" means nothing to the buyer unless access exists.
func (h *PaymentHandler) GetInvoiceStatus(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	invoiceID := c.Params("id")
	if invoiceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invoice ID is required",
		})
	}

	ctx := c.UserContext()

	result, err := h.reconciler.Reconcile(ctx, invoiceID, service.SourcePoll)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "invoice not found",
			})
		}
		log.Printf("[GetInvoiceStatus] Error reconciling invoice: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch invoice",
		})
	}

	if result.Invoice.UserID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "access denied",
		})
	}

	response := InvoiceStatusResponse{InvoiceResponse: toInvoiceResponse(result.Invoice)}
	if result.Outcome.Settled() {
		active, err := h.entitlements.HasActive(ctx, userID, result.Invoice.CourseID)
		if err != nil {
			log.Printf("[GetInvoiceStatus] Error checking entitlement: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "failed to check entitlement",
			})
		}
		response.EntitlementActive = active
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    response,
	})
}

// ListInvoices handles GET /api/invoices
// Returns the buyer's invoice history, newest first.
func (h *PaymentHandler) ListInvoices(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	ctx := c.UserContext()

	invoices, err := h.lifecycle.ListForUser(ctx, userID)
	if err != nil {
		log.Printf("[ListInvoices] Error fetching invoices: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch invoices",
		})
	}

	response := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		response = append(response, toInvoiceResponse(inv))
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    response,
	})
}
