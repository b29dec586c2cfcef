package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

type fakeDaraja struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32
	queryCalls atomic.Int32

	// pushStatus lets a test fail the first N push calls with a status code.
	pushFailures  int32
	pushStatus    int
	pushDelay     time.Duration
	pushBody      STKPushRequest
	pushResponse  STKPushResponse
	queryFailures int32
	queryResp     STKQueryResponse
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
		if r.Header.Get("Authorization") != want || r.URL.Query().Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		n := f.pushCalls.Add(1)
		time.Sleep(f.pushDelay)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if n <= f.pushFailures {
			w.WriteHeader(f.pushStatus)
			json.NewEncoder(w).Encode(map[string]string{"errorCode": "500.001.1001", "errorMessage": "Internal error"})
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.pushBody); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		json.NewEncoder(w).Encode(f.pushResponse)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		if f.queryCalls.Add(1) <= f.queryFailures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(f.queryResp)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(config.MpesaConfig{
		Environment:    config.EnvSandbox,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   time.Millisecond,
	}, zaptest.NewLogger(t))
	c.now = func() time.Time { return time.Date(2024, 3, 5, 9, 7, 1, 0, time.Local) }
	return c
}

func acceptedPush() STKPushResponse {
	return STKPushResponse{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_191220191020363925",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
}

func TestSTKPush(t *testing.T) {
	f := &fakeDaraja{pushResponse: acceptedPush()}
	c := newTestClient(t, f)

	session, err := c.STKPush(context.Background(), domain.PaymentRequest{
		PhoneNumber:      "254712345678",
		Amount:           100.6,
		AccountReference: "NomaToken",
	}, "https://pay.example.com/payment/callback")
	if err != nil {
		t.Fatalf("STKPush: %v", err)
	}
	if session.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("session = %+v", session)
	}

	got := f.pushBody
	if got.Amount != 101 {
		t.Errorf("Amount = %d, want rounded 101", got.Amount)
	}
	if got.TransactionType != "CustomerPayBillOnline" || got.TransactionDesc != "Token Purchase" {
		t.Errorf("transaction fields = %+v", got)
	}
	if got.Timestamp != "20240305090701" {
		t.Errorf("Timestamp = %s", got.Timestamp)
	}
	if got.Password != security.MpesaPassword("174379", "passkey", "20240305090701") {
		t.Errorf("Password = %s", got.Password)
	}
	if got.PartyA != "254712345678" || got.PartyB != "174379" || got.PhoneNumber != "254712345678" {
		t.Errorf("parties = %+v", got)
	}

	// token reused
	if _, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 10, AccountReference: "NomaToken"}, "cb"); err != nil {
		t.Fatalf("second STKPush: %v", err)
	}
	if n := f.tokenCalls.Load(); n != 1 {
		t.Errorf("token calls = %d, want 1", n)
	}
}

func TestSTKPushRetriesThrottling(t *testing.T) {
	f := &fakeDaraja{pushResponse: acceptedPush(), pushFailures: 2, pushStatus: http.StatusTooManyRequests}
	c := newTestClient(t, f)

	if _, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 50, AccountReference: "NomaToken"}, "cb"); err != nil {
		t.Fatalf("STKPush: %v", err)
	}
	if n := f.pushCalls.Load(); n != 3 {
		t.Fatalf("push calls = %d, want 3", n)
	}
}

func TestSTKPushDoesNotResendAfterServerError(t *testing.T) {
	f := &fakeDaraja{pushResponse: acceptedPush(), pushFailures: 1, pushStatus: http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	_, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 50, AccountReference: "NomaToken"}, "cb")
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v", err)
	}
	if n := f.pushCalls.Load(); n != 1 {
		t.Fatalf("push calls = %d, want 1", n)
	}
}

func TestSTKPushDoesNotResendAfterTimeout(t *testing.T) {
	f := &fakeDaraja{pushResponse: acceptedPush(), pushDelay: 300 * time.Millisecond}
	c := newTestClient(t, f)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 50, AccountReference: "NomaToken"}, "cb")
	if !errors.Is(err, ErrNetwork) || errors.Is(err, errNotSent) {
		t.Fatalf("err = %v", err)
	}
	if n := f.pushCalls.Load(); n != 1 {
		t.Fatalf("push calls = %d, want 1", n)
	}
}

func TestSTKPushDoesNotRetryRejections(t *testing.T) {
	f := &fakeDaraja{pushResponse: acceptedPush(), pushFailures: 5, pushStatus: http.StatusBadRequest}
	c := newTestClient(t, f)

	_, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 50, AccountReference: "NomaToken"}, "cb")
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if n := f.pushCalls.Load(); n != 1 {
		t.Fatalf("push calls = %d, want 1", n)
	}
}

func TestSTKPushNonZeroResponseCode(t *testing.T) {
	resp := acceptedPush()
	resp.ResponseCode = "1"
	resp.ResponseDescription = "Insufficient funds in utility account"
	c := newTestClient(t, &fakeDaraja{pushResponse: resp})

	_, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 50, AccountReference: "NomaToken"}, "cb")
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.ResponseCode != "1" {
		t.Fatalf("err = %v", err)
	}
	if safe := security.SanitizeError(err); safe.Message != "Insufficient funds" || safe.Code != "GATEWAY_ERROR" {
		t.Fatalf("sanitized = %+v", safe)
	}
}

func TestSTKPushNetworkError(t *testing.T) {
	c := NewClient(config.MpesaConfig{
		ConsumerKey:  "key",
		BaseURL:      "http://127.0.0.1:1",
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))

	_, err := c.STKPush(context.Background(), domain.PaymentRequest{PhoneNumber: "254712345678", Amount: 50}, "cb")
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, errNotSent) {
		t.Fatalf("err = %v", err)
	}
	if safe := security.SanitizeError(err); safe.Message != "Network error" {
		t.Fatalf("sanitized = %+v", safe)
	}
}

func TestSTKQuery(t *testing.T) {
	f := &fakeDaraja{queryResp: STKQueryResponse{
		ResponseCode:      "0",
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResultCode:        "1032",
		ResultDesc:        "Request cancelled by user",
	}}
	c := newTestClient(t, f)

	res, err := c.STKQuery(context.Background(), "ws_CO_191220191020363925")
	if err != nil {
		t.Fatalf("STKQuery: %v", err)
	}
	if res.ResultCode != 1032 || res.Status() != domain.StatusCancelled {
		t.Fatalf("result = %+v", res)
	}
}

func TestSTKQueryRetriesServerErrors(t *testing.T) {
	f := &fakeDaraja{queryFailures: 2, queryResp: STKQueryResponse{
		ResponseCode:      "0",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResultCode:        "0",
		ResultDesc:        "The service request is processed successfully.",
	}}
	c := newTestClient(t, f)

	res, err := c.STKQuery(context.Background(), "ws_CO_191220191020363925")
	if err != nil || res.Status() != domain.StatusCompleted {
		t.Fatalf("STKQuery = %+v, %v", res, err)
	}
	if n := f.queryCalls.Load(); n != 3 {
		t.Fatalf("query calls = %d, want 3", n)
	}
}
