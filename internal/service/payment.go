package service

import (
	"log"

	"github.com/kelasku/kelasku/internal/config"
	"github.com/kelasku/kelasku/internal/gateway"
	"github.com/kelasku/kelasku/internal/gateway/ipaymu"
)

// NewPaymentGateway returns the payment gateway to use based on config.
// If no iPaymu credentials are configured, returns an in-memory mock so the
// stack runs end to end in development. Idempotent operations are wrapped
// with retry either way.
func NewPaymentGateway(cfg config.PaymentConfig, baseURL string) gateway.PaymentGateway {
	if cfg.IPaymuAPIKey == "" || cfg.IPaymuVA == "" {
		log.Println("[Payment] Using mock payment gateway (no iPaymu credentials configured)")
		return gateway.WithRetry(gateway.NewMock(), uint64(cfg.MaxRetries))
	}

	ipaymuBase := cfg.IPaymuBaseURL
	if ipaymuBase == "" {
		ipaymuBase = "https://sandbox.ipaymu.com"
	}

	notifyURL := ""
	if baseURL != "" {
		notifyURL = baseURL + "/api/webhooks/ipaymu"
	}

	log.Printf("[Payment] Using iPaymu gateway (base: %s, notify: %s)", ipaymuBase, notifyURL)
	client := ipaymu.NewClient(ipaymu.Config{
		VA:        cfg.IPaymuVA,
		APIKey:    cfg.IPaymuAPIKey,
		BaseURL:   ipaymuBase,
		NotifyURL: notifyURL,
	})
	return gateway.WithRetry(client, uint64(cfg.MaxRetries))
}
