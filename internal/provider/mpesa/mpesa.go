// internal/provider/mpesa/mpesa.go
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/internal/provider"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

const (
	transactionType = "CustomerPayBillOnline"
	transactionDesc = "Token Purchase"
	maxResponseSize = 1 << 20
	tokenSkew       = time.Minute
)

// ErrNetwork marks failures where the gateway could not be reached at all.
var ErrNetwork = errors.New("network error")

// errNotSent marks network failures that happened before the request left
// this host, so the gateway cannot have acted on it.
var errNotSent = errors.New("request not sent")

// GatewayError is a rejection reported by the gateway itself.
type GatewayError struct {
	Op           string
	StatusCode   int
	ResponseCode string
	Description  string
	Temporary    bool
}

func (e *GatewayError) Error() string {
	if e.ResponseCode != "" {
		return fmt.Sprintf("mpesa %s: code %s: %s", e.Op, e.ResponseCode, e.Description)
	}
	return fmt.Sprintf("mpesa %s: http %d: %s", e.Op, e.StatusCode, e.Description)
}

func (e *GatewayError) Code() string {
	return "GATEWAY_ERROR"
}

// Client talks to the Daraja API.
type Client struct {
	config     config.MpesaConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ provider.Gateway = (*Client)(nil)

func NewClient(cfg config.MpesaConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &Client{
		config:     cfg,
		baseURL:    cfg.APIBaseURL(),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		tracer:     otel.Tracer("github.com/ggbundi/Nomatoken/internal/provider/mpesa"),
		now:        time.Now,
	}
}

// STKPushRequest is the Lipa Na M-Pesa Online request body.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush initiates an STK push. The amount is rounded to whole shillings.
func (c *Client) STKPush(ctx context.Context, req domain.PaymentRequest, callbackURL string) (*domain.CheckoutSession, error) {
	ctx, span := c.tracer.Start(ctx, "mpesa.stk_push")
	defer span.End()
	start := time.Now()

	session, err := c.stkPush(ctx, req, callbackURL)
	c.observe(span, "stk_push", start, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", session.CheckoutRequestID))
	return session, nil
}

func (c *Client) stkPush(ctx context.Context, req domain.PaymentRequest, callbackURL string) (*domain.CheckoutSession, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	timestamp := security.MpesaTimestamp(c.now())
	ref := req.AccountReference
	if len(ref) > domain.MaxAccountReferenceLen {
		ref = ref[:domain.MaxAccountReferenceLen]
	}

	body := STKPushRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          security.MpesaPassword(c.config.ShortCode, c.config.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            int64(math.Round(req.Amount)),
		PartyA:            req.PhoneNumber,
		PartyB:            c.config.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       callbackURL,
		AccountReference:  ref,
		TransactionDesc:   transactionDesc,
	}

	c.logger.Info("sending STK push",
		zap.Any("request", security.MaskSensitiveData(body)))

	var resp STKPushResponse
	if err := c.doJSON(ctx, "stk_push", canResend, http.MethodPost, c.baseURL+"/mpesa/stkpush/v1/processrequest", "Bearer "+token, body, &resp); err != nil {
		c.dropTokenOnAuthError(err)
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, &GatewayError{
			Op:           "stk_push",
			StatusCode:   http.StatusOK,
			ResponseCode: resp.ResponseCode,
			Description:  resp.ResponseDescription,
		}
	}

	return &domain.CheckoutSession{
		MerchantRequestID:   resp.MerchantRequestID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// STKQuery asks the gateway for the result of an earlier push. While the
// customer has not answered, the gateway reports an error and no result.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (*provider.QueryResult, error) {
	ctx, span := c.tracer.Start(ctx, "mpesa.stk_query",
		trace.WithAttributes(attribute.String("mpesa.checkout_request_id", checkoutRequestID)))
	defer span.End()
	start := time.Now()

	res, err := c.stkQuery(ctx, checkoutRequestID)
	c.observe(span, "stk_query", start, err)
	return res, err
}

func (c *Client) stkQuery(ctx context.Context, checkoutRequestID string) (*provider.QueryResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	timestamp := security.MpesaTimestamp(c.now())
	body := stkQueryRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          security.MpesaPassword(c.config.ShortCode, c.config.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp STKQueryResponse
	if err := c.doJSON(ctx, "stk_query", isTransient, http.MethodPost, c.baseURL+"/mpesa/stkpushquery/v1/query", "Bearer "+token, body, &resp); err != nil {
		c.dropTokenOnAuthError(err)
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, &GatewayError{
			Op:           "stk_query",
			StatusCode:   http.StatusOK,
			ResponseCode: resp.ResponseCode,
			Description:  resp.ResponseDescription,
		}
	}
	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("mpesa stk_query: unexpected result code %q", resp.ResultCode)
	}

	return &provider.QueryResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        resp.ResultDesc,
	}, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// AccessToken returns a bearer token, reusing the cached one until shortly
// before it expires.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.tokenExpiry) {
		return c.token, nil
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))

	var resp tokenResponse
	if err := c.doJSON(ctx, "oauth", isTransient, http.MethodGet, c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", "Basic "+auth, nil, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &GatewayError{Op: "oauth", StatusCode: http.StatusOK, Description: "empty access token"}
	}

	ttl := time.Hour
	if secs, err := resp.ExpiresIn.Int64(); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = resp.AccessToken
	c.tokenExpiry = now.Add(ttl - tokenSkew)

	return c.token, nil
}

func (c *Client) dropTokenOnAuthError(err error) {
	var gerr *GatewayError
	if errors.As(err, &gerr) && gerr.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
}

// doJSON performs one gateway call, retrying the failures retryable accepts
// with exponential backoff. Everything else is returned immediately.
func (c *Client) doJSON(ctx context.Context, op string, retryable func(error) bool, method, url, authorization string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("mpesa %s: encode request: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-2))
			c.logger.Warn("retrying M-Pesa request",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := c.roundTrip(ctx, op, method, url, authorization, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, op, method, url, authorization string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("mpesa %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if notSent(err) {
			return fmt.Errorf("mpesa %s: %w: %w: %v", op, ErrNetwork, errNotSent, err)
		}
		return fmt.Errorf("mpesa %s: %w: %v", op, ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("mpesa %s: %w: read response: %v", op, ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		gerr := &GatewayError{
			Op:          op,
			StatusCode:  resp.StatusCode,
			Temporary:   resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Description: http.StatusText(resp.StatusCode),
		}
		var apiErr struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.ErrorMessage != "" {
			gerr.ResponseCode = apiErr.ErrorCode
			gerr.Description = apiErr.ErrorMessage
		}
		return gerr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mpesa %s: failed to parse response: %w", op, err)
	}
	return nil
}

// notSent reports transport failures that happen before any request bytes
// are written: DNS lookups and refused or unreachable dials.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// canResend limits STK push retries to failures the gateway never saw or
// explicitly throttled. A 5xx or a timeout after sending may still have
// prompted the customer, and a second push would prompt them again.
func canResend(err error) bool {
	if errors.Is(err, errNotSent) {
		return true
	}
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.StatusCode == http.StatusTooManyRequests
}

func isTransient(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Temporary
}

func (c *Client) observe(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	metrics.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
