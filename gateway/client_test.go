package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	return &Client{
		baseURL:    srv.URL,
		merchantID: "test-merchant",
		httpClient: srv.Client(),
		logger:     zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)),
	}
}

func TestClient_RequestPayment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/request" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req paymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.MerchantID != "test-merchant" || req.Amount != 100000 {
			t.Errorf("Unexpected request payload: %+v", req)
		}
		json.NewEncoder(w).Encode(paymentRequestResponse{
			Status:    100,
			Authority: "A0001",
			URL:       "https://gateway.example.com/pay/A0001",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	url, authority, err := c.RequestPayment(context.Background(), 100000, "order #1", "https://shop.example.com/callback")
	if err != nil {
		t.Fatalf("RequestPayment failed: %v", err)
	}
	if authority != "A0001" {
		t.Errorf("Expected authority A0001, got %s", authority)
	}
	if url != "https://gateway.example.com/pay/A0001" {
		t.Errorf("Unexpected redirect URL %s", url)
	}
}

func TestClient_RequestPayment_GatewayRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(paymentRequestResponse{Status: -9, Message: "invalid merchant"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, _, err := c.RequestPayment(context.Background(), 100000, "order #1", "https://shop.example.com/callback"); err == nil {
		t.Fatal("Expected error for rejected request")
	}
}

func TestClient_RequestPayment_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, _, err := c.RequestPayment(context.Background(), 100000, "order #1", "https://shop.example.com/callback"); err == nil {
		t.Fatal("Expected error for upstream 500")
	}
}

func TestClient_VerifyPayment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Authority != "A0001" {
			t.Errorf("Unexpected authority %s", req.Authority)
		}
		json.NewEncoder(w).Encode(verifyResponse{Status: 100, RefID: "R777"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	refID, err := c.VerifyPayment(context.Background(), "A0001", 100000)
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if refID != "R777" {
		t.Errorf("Expected ref id R777, got %s", refID)
	}
}

func TestClient_VerifyPayment_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Status: -21, Message: "not paid"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.VerifyPayment(context.Background(), "A0001", 100000); err != ErrDeclined {
		t.Fatalf("Expected ErrDeclined, got %v", err)
	}
}
