package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/gateway/ipaymu"
	"github.com/kelasku/kelasku/internal/service"
)

// WebhookHandler handles external payment provider callbacks
type WebhookHandler struct {
	reconciler *service.Reconciler
	apiKey     string
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(reconciler *service.Reconciler, apiKey string) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		apiKey:     apiKey,
	}
}

// IPAYMUWebhookRequest represents the webhook payload from iPaymu
type IPAYMUWebhookRequest struct {
	SID         string `json:"sid"`          // Session ID (our provider_ref)
	VA          string `json:"va"`           // Virtual Account number
	Status      string `json:"status"`       // "berhasil", "pending", "expired"
	ReferenceID string `json:"reference_id"` // Our invoice ID
	TrxID       int64  `json:"trx_id"`       // iPaymu transaction ID
	Amount      int64  `json:"amount"`       // Payment amount
	Signature   string `json:"signature"`    // HMAC signature for verification
}

// IPAYMUWebhook handles POST /api/webhooks/ipaymu
// Public endpoint, authenticated by HMAC signature. The payload is only a
// hint: it triggers a reconciliation that re-verifies payment with the
// provider, so a forged or replayed body can never mark an invoice paid by
// itself. Invoice-state conditions are acknowledged with 200 so the provider
// stops retrying; only transport and infrastructure failures return an error
// status.
func (h *WebhookHandler) IPAYMUWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req IPAYMUWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("[Webhook] Failed to parse body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	log.Printf("[Webhook] Received callback: sid=%s, status=%s, va=%s, amount=%d",
		req.SID, req.Status, req.VA, req.Amount)

	if !ipaymu.VerifyWebhookSignature(h.apiKey, req.VA, req.SID, req.Status, req.Signature) {
		log.Printf("[Webhook] Signature verification failed for sid=%s", req.SID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid signature",
		})
	}

	if req.SID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "sid is required",
		})
	}

	result, err := h.reconciler.ReconcileByProviderRef(ctx, req.SID, service.SourceWebhook)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown session: acknowledge so the provider does not retry forever
			log.Printf("[Webhook] No invoice for sid=%s", req.SID)
			return c.JSON(fiber.Map{
				"success": true,
				"message": "acknowledged",
			})
		}
		log.Printf("[Webhook] Reconciliation failed for sid=%s: %v", req.SID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "reconciliation failed",
		})
	}

	log.Printf("[Webhook] Reconciled sid=%s: outcome=%s, invoice=%s",
		req.SID, result.Outcome, result.Invoice.ID)

	return c.JSON(fiber.Map{
		"success": true,
		"message": string(result.Outcome),
	})
}
