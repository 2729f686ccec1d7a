package ipaymu

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasku/kelasku/internal/gateway"
)

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		VA:        "0000001234567890",
		APIKey:    "SANDBOX-TEST-KEY",
		BaseURL:   serverURL,
		NotifyURL: "https://kelasku.test/api/webhooks/ipaymu",
	})
}

func TestCreateInvoiceParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/payment/direct", r.URL.Path)
		assert.Equal(t, "0000001234567890", r.Header.Get("va"))
		assert.NotEmpty(t, r.Header.Get("signature"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Status": 200,
			"Message": "Success",
			"Data": {
				"SessionId": "sess-abc123",
				"TransactionId": 118000,
				"ReferenceId": "inv-1",
				"Via": "va",
				"Channel": "bca",
				"PaymentNo": "1234567890123456",
				"PaymentName": "Budi Santoso",
				"Total": 299000,
				"Expired": "2026-09-02T10:00:00Z"
			}
		}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	inv, err := client.CreateInvoice(context.Background(), gateway.CreateInvoiceRequest{
		Reference:  "inv-1",
		Amount:     299000,
		Currency:   "IDR",
		Method:     "BCA",
		BuyerName:  "Budi Santoso",
		BuyerEmail: "budi@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-abc123", inv.Ref)
	assert.Equal(t, "1234567890123456", inv.VANumber)
	assert.Equal(t, 2026, inv.ExpiresAt.Year())
}

func TestCreateInvoiceRejectedByProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Status": 400, "Message": "invalid payment channel"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.CreateInvoice(context.Background(), gateway.CreateInvoiceRequest{Reference: "inv-1", Amount: 100, Method: "BCA"})
	require.Error(t, err)
	assert.True(t, gateway.IsPermanent(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.CheckPaid(context.Background(), "sess-abc123")
	require.Error(t, err)
	assert.True(t, gateway.IsTransient(err))
	assert.False(t, gateway.IsPermanent(err))
}

func TestClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.CheckPaid(context.Background(), "sess-abc123")
	require.Error(t, err)
	assert.True(t, gateway.IsPermanent(err))
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := newTestClient(srv.URL)
	_, err := client.CheckPaid(context.Background(), "sess-abc123")
	require.Error(t, err)
	assert.True(t, gateway.IsTransient(err))
}

func TestCheckPaidStatusMapping(t *testing.T) {
	tests := []struct {
		statusDesc string
		wantPaid   bool
	}{
		{"berhasil", true},
		{"Berhasil", true},
		{"pending", false},
		{"expired", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run("desc="+tt.statusDesc, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{
					"Status": 200,
					"Message": "Success",
					"Data": {
						"SessionId": "sess-abc123",
						"TransactionId": 118001,
						"StatusDesc": "` + tt.statusDesc + `",
						"Amount": 299000
					}
				}`))
			}))
			defer srv.Close()

			client := newTestClient(srv.URL)
			status, err := client.CheckPaid(context.Background(), "sess-abc123")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaid, status.Paid)
			if tt.wantPaid {
				assert.EqualValues(t, 299000, status.PaidAmount)
				assert.Equal(t, "118001", status.ProviderPaymentID)
			}
		})
	}
}

func TestCancelInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/payment/cancel", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Status": 200, "Message": "Success"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	require.NoError(t, client.CancelInvoice(context.Background(), "sess-abc123"))
}

func webhookSig(apiKey, va, sid, status string) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(va + "." + sid + "." + status))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	apiKey := "SANDBOX-TEST-KEY"
	va := "0000001234567890"
	sid := "sess-abc123"

	valid := webhookSig(apiKey, va, sid, "berhasil")
	assert.True(t, VerifyWebhookSignature(apiKey, va, sid, "berhasil", valid))

	// Status is part of the signed string: a replayed signature with a
	// different status must not verify.
	assert.False(t, VerifyWebhookSignature(apiKey, va, sid, "pending", valid))
	assert.False(t, VerifyWebhookSignature(apiKey, va, "sess-other", "berhasil", valid))
	assert.False(t, VerifyWebhookSignature("wrong-key", va, sid, "berhasil", valid))
	assert.False(t, VerifyWebhookSignature(apiKey, va, sid, "berhasil", ""))
	assert.False(t, VerifyWebhookSignature(apiKey, va, sid, "berhasil", "deadbeef"))
}

func TestMapBankCode(t *testing.T) {
	assert.Equal(t, BankBCA, MapBankCode("BCA"))
	assert.Equal(t, BankBCA, MapBankCode("bca"))
	assert.Equal(t, BankMandiri, MapBankCode("Mandiri"))
	assert.Equal(t, BankBNI, MapBankCode("BNI"))
	assert.Equal(t, BankBCA, MapBankCode("unknown"))
}
