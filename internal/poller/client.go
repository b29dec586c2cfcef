// internal/poller/client.go
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/validation"
)

// APIError is a non-2xx answer from the payment service.
type APIError struct {
	StatusCode int      `json:"-"`
	Message    string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Details    []string `json:"details,omitempty"`
	ResetTime  string   `json:"resetTime,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("payment service returned %d: %s", e.StatusCode, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// Purchase is a recorded token purchase as the service renders it.
type Purchase struct {
	ID            string    `json:"id"`
	PaymentMethod string    `json:"paymentMethod"`
	USDAmount     float64   `json:"usdAmount"`
	TokenAmount   float64   `json:"tokenAmount"`
	TokenPrice    float64   `json:"tokenPrice"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transactionId"`
	UserAddress   string    `json:"userAddress"`
	Timestamp     time.Time `json:"timestamp"`
}

// Client calls the payment service HTTP API.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

// WithAdminToken sets the bearer token sent on administrative calls.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Initiate(ctx context.Context, in validation.PaymentInput) (*domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/payment/initiate", in, false, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) Status(ctx context.Context, checkoutRequestID string) (*domain.PaymentStatus, error) {
	var status domain.PaymentStatus
	path := "/payment/status?checkoutRequestId=" + url.QueryEscape(checkoutRequestID)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) UpdateStatus(ctx context.Context, in validation.StatusUpdateInput) (*domain.PaymentStatus, error) {
	var status domain.PaymentStatus
	if err := c.do(ctx, http.MethodPost, "/payment/status", in, true, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) CompletePurchase(ctx context.Context, in validation.PurchaseInput) (*Purchase, error) {
	var p Purchase
	if err := c.do(ctx, http.MethodPost, "/tokens/purchase", in, false, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) PurchaseHistory(ctx context.Context, userAddress, phoneNumber string) ([]Purchase, error) {
	q := url.Values{}
	if userAddress != "" {
		q.Set("userAddress", userAddress)
	}
	if phoneNumber != "" {
		q.Set("phoneNumber", phoneNumber)
	}
	var out []Purchase
	if err := c.do(ctx, http.MethodGet, "/tokens/purchase?"+q.Encode(), nil, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, admin bool, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call payment service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("payment service error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("error", apiErr.Message))
		return apiErr
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
