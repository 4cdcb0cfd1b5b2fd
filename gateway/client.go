package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// ErrDeclined means the gateway answered but did not approve the payment;
// anything else returned from this package is an upstream failure.
var ErrDeclined = errors.New("payment declined by gateway")

const statusOK = 100

// Client talks to the external payment gateway over HTTP JSON. The gateway
// issues an opaque authority token on request creation and confirms a
// payment server-side on verification.
type Client struct {
	baseURL    string
	merchantID string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	return &Client{
		baseURL:    getEnv("PAYMENT_API_URL", "https://gateway.example.com/pg/v4"),
		merchantID: getEnv("PAYMENT_MERCHANT_ID", ""),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type paymentRequest struct {
	MerchantID  string  `json:"merchant_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	CallbackURL string  `json:"callback_url"`
}

type paymentRequestResponse struct {
	Status    int    `json:"status"`
	Authority string `json:"authority"`
	URL       string `json:"url"`
	Message   string `json:"message,omitempty"`
}

type verifyRequest struct {
	MerchantID string  `json:"merchant_id"`
	Authority  string  `json:"authority"`
	Amount     float64 `json:"amount"`
}

type verifyResponse struct {
	Status  int    `json:"status"`
	RefID   string `json:"ref_id"`
	Message string `json:"message,omitempty"`
}

// RequestPayment asks the gateway for a redirect URL. The returned authority
// token correlates the later callback with this request and must be persisted
// by the caller.
func (c *Client) RequestPayment(ctx context.Context, amount float64, description, callbackURL string) (redirectURL, authority string, err error) {
	req := paymentRequest{
		MerchantID:  c.merchantID,
		Amount:      amount,
		Description: description,
		CallbackURL: callbackURL,
	}

	var resp paymentRequestResponse
	if err := c.post(ctx, c.baseURL+"/request", req, &resp); err != nil {
		return "", "", err
	}

	if resp.Status != statusOK {
		return "", "", fmt.Errorf("gateway rejected payment request (status %d): %s", resp.Status, resp.Message)
	}
	if resp.URL == "" || resp.Authority == "" {
		return "", "", errors.New("gateway returned empty redirect URL or authority")
	}

	c.logger.Info("Payment request created", zap.String("authority", resp.Authority))
	return resp.URL, resp.Authority, nil
}

// VerifyPayment re-checks a completed payment with the gateway and returns the
// gateway's reference id. ErrDeclined means the gateway did not confirm it.
func (c *Client) VerifyPayment(ctx context.Context, authority string, amount float64) (refID string, err error) {
	req := verifyRequest{
		MerchantID: c.merchantID,
		Authority:  authority,
		Amount:     amount,
	}

	var resp verifyResponse
	if err := c.post(ctx, c.baseURL+"/verify", req, &resp); err != nil {
		return "", err
	}

	if resp.Status != statusOK {
		c.logger.Warn("Payment verification declined",
			zap.String("authority", authority),
			zap.Int("gateway_status", resp.Status),
		)
		return "", ErrDeclined
	}

	c.logger.Info("Payment verified",
		zap.String("authority", authority),
		zap.String("ref_id", resp.RefID),
	)
	return resp.RefID, nil
}

func (c *Client) post(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
