// Package ipaymu implements the payment gateway against the iPaymu v2 API.
package ipaymu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kelasku/kelasku/internal/gateway"
)

// BankCode represents supported bank codes for VA
type BankCode string

const (
	BankBCA     BankCode = "bca"
	BankMandiri BankCode = "mandiri"
	BankBNI     BankCode = "bni"
	BankBRI     BankCode = "bri"
	BankCIMB    BankCode = "cimb"
)

// Config holds iPaymu API configuration
type Config struct {
	VA        string // merchant Virtual Account number
	APIKey    string // API Key from iPaymu
	BaseURL   string // Base URL (sandbox or production)
	NotifyURL string // Webhook URL for payment notifications
}

// Client is the iPaymu API client. It implements gateway.PaymentGateway.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new iPaymu client
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "ipaymu" }

// directPaymentRequest is the request body for direct VA payment
type directPaymentRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Amount         int64  `json:"amount"`
	NotifyURL      string `json:"notifyUrl"`
	Expired        int    `json:"expired"` // expiry in hours
	Comments       string `json:"comments"`
	ReferenceID    string `json:"referenceId"`
	PaymentMethod  string `json:"paymentMethod"`
	PaymentChannel string `json:"paymentChannel"`
}

// directPaymentResponse is the iPaymu API response for VA creation
type directPaymentResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		SessionID     string `json:"SessionId"`
		TransactionID int64  `json:"TransactionId"`
		ReferenceID   string `json:"ReferenceId"`
		Via           string `json:"Via"`
		Channel       string `json:"Channel"`
		PaymentNo     string `json:"PaymentNo"` // the VA number
		PaymentName   string `json:"PaymentName"`
		Total         int64  `json:"Total"`
		Fee           int64  `json:"Fee"`
		Expired       string `json:"Expired"` // ISO date string
	} `json:"Data"`
}

// transactionResponse is the iPaymu API response for a status check
type transactionResponse struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
	Data    struct {
		SessionID     string `json:"SessionId"`
		TransactionID int64  `json:"TransactionId"`
		ReferenceID   string `json:"ReferenceId"`
		Status        int    `json:"Status"`     // numeric payment state
		StatusDesc    string `json:"StatusDesc"` // "berhasil", "pending", ...
		Amount        int64  `json:"Amount"`
	} `json:"Data"`
}

const statusPaid = "berhasil"

// CreateInvoice creates a Virtual Account for direct payment.
func (c *Client) CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.ProviderInvoice, error) {
	body := directPaymentRequest{
		Name:           req.BuyerName,
		Phone:          req.BuyerPhone,
		Email:          req.BuyerEmail,
		Amount:         req.Amount,
		NotifyURL:      c.config.NotifyURL,
		Expired:        24,
		Comments:       fmt.Sprintf("Invoice: %s", req.Reference),
		ReferenceID:    req.Reference,
		PaymentMethod:  "va",
		PaymentChannel: string(MapBankCode(req.Method)),
	}

	var apiResp directPaymentResponse
	if err := c.post(ctx, "create", "/api/v2/payment/direct", body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != 200 {
		return nil, gateway.NewPermanent("create", fmt.Errorf("ipaymu rejected request: %s", apiResp.Message))
	}

	expiresAt, _ := time.Parse(time.RFC3339, apiResp.Data.Expired)
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(24 * time.Hour)
	}

	return &gateway.ProviderInvoice{
		Ref:        apiResp.Data.SessionID,
		VANumber:   apiResp.Data.PaymentNo,
		PaymentURL: "",
		ExpiresAt:  expiresAt,
	}, nil
}

// CancelInvoice asks iPaymu to void the payment session. Best-effort: local
// state stays authoritative even when this fails.
func (c *Client) CancelInvoice(ctx context.Context, ref string) error {
	body := map[string]string{"sessionId": ref}

	var apiResp struct {
		Status  int    `json:"Status"`
		Message string `json:"Message"`
	}
	if err := c.post(ctx, "cancel", "/api/v2/payment/cancel", body, &apiResp); err != nil {
		return err
	}
	if apiResp.Status != 200 {
		return gateway.NewPermanent("cancel", fmt.Errorf("ipaymu rejected cancel: %s", apiResp.Message))
	}
	return nil
}

// CheckPaid queries the transaction status for a payment session. Read-only
// at the provider, safe to call any number of times.
func (c *Client) CheckPaid(ctx context.Context, ref string) (*gateway.PaymentStatus, error) {
	body := map[string]string{"sessionId": ref}

	var apiResp transactionResponse
	if err := c.post(ctx, "check", "/api/v2/transaction", body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != 200 {
		return nil, gateway.NewPermanent("check", fmt.Errorf("ipaymu rejected status check: %s", apiResp.Message))
	}

	if !strings.EqualFold(apiResp.Data.StatusDesc, statusPaid) {
		return &gateway.PaymentStatus{Paid: false}, nil
	}
	return &gateway.PaymentStatus{
		Paid:              true,
		PaidAmount:        apiResp.Data.Amount,
		ProviderPaymentID: fmt.Sprintf("%d", apiResp.Data.TransactionID),
	}, nil
}

// post signs and executes one API call, decoding the JSON response into out.
// Network failures and 5xx responses come back transient; 4xx permanent.
func (c *Client) post(ctx context.Context, op, endpoint string, body interface{}, out interface{}) error {
	url := c.config.BaseURL + endpoint

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return gateway.NewPermanent(op, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return gateway.NewPermanent(op, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("va", c.config.VA)
	req.Header.Set("signature", c.generateSignature(jsonBody, http.MethodPost))
	req.Header.Set("timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	log.Printf("[iPaymu] %s %s", op, url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gateway.NewTransient(op, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.NewTransient(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return gateway.NewTransient(op, fmt.Errorf("ipaymu API error: status %d, body: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		return gateway.NewPermanent(op, fmt.Errorf("ipaymu API error: status %d, body: %s", resp.StatusCode, string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return gateway.NewTransient(op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// generateSignature creates the HMAC-SHA256 signature for iPaymu API
// Step 1: bodyHash = lowercase(sha256(jsonBody))
// Step 2: stringToSign = METHOD + ":" + va + ":" + bodyHash + ":" + apiKey
// Step 3: signature = lowercase(hmacSha256(apiKey, stringToSign))
func (c *Client) generateSignature(jsonBody []byte, method string) string {
	bodyHashBytes := sha256.Sum256(jsonBody)
	bodyHash := strings.ToLower(hex.EncodeToString(bodyHashBytes[:]))

	stringToSign := fmt.Sprintf("%s:%s:%s:%s", method, c.config.VA, bodyHash, c.config.APIKey)

	h := hmac.New(sha256.New, []byte(c.config.APIKey))
	h.Write([]byte(stringToSign))
	return strings.ToLower(hex.EncodeToString(h.Sum(nil)))
}

// VerifyWebhookSignature validates the HMAC-SHA256 signature iPaymu sends on
// payment notifications.
// Formula: hmac_sha256(apiKey, va + "." + sid + "." + status)
func VerifyWebhookSignature(apiKey, va, sid, status, providedSig string) bool {
	if providedSig == "" {
		return false
	}

	stringToSign := va + "." + sid + "." + status
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(stringToSign))
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(providedSig))
}

// MapBankCode converts a frontend bank name to an iPaymu bank code
func MapBankCode(bank string) BankCode {
	switch strings.ToUpper(bank) {
	case "BCA":
		return BankBCA
	case "MANDIRI":
		return BankMandiri
	case "BNI":
		return BankBNI
	case "BRI":
		return BankBRI
	case "CIMB":
		return BankCIMB
	default:
		return BankBCA
	}
}
