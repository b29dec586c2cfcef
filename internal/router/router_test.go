package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/handler"
	"github.com/ggbundi/Nomatoken/internal/notifier"
	"github.com/ggbundi/Nomatoken/internal/poller"
	"github.com/ggbundi/Nomatoken/internal/provider"
	"github.com/ggbundi/Nomatoken/internal/provider/pricefeed"
	"github.com/ggbundi/Nomatoken/internal/ratelimit"
	"github.com/ggbundi/Nomatoken/internal/repository"
	"github.com/ggbundi/Nomatoken/internal/usecase"
	"github.com/ggbundi/Nomatoken/internal/validation"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

const (
	checkoutID = "ws_CO_191220191020363925"
	merchantID = "29115-34620561-1"
	receipt    = "NLJ7RT61SV"
)

type sandboxGateway struct{}

func (sandboxGateway) STKPush(context.Context, domain.PaymentRequest, string) (*domain.CheckoutSession, error) {
	return &domain.CheckoutSession{
		MerchantRequestID:   merchantID,
		CheckoutRequestID:   checkoutID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (sandboxGateway) STKQuery(context.Context, string) (*provider.QueryResult, error) {
	return nil, errors.New("query not available")
}

func newTestServer(t *testing.T) (*httptest.Server, *security.ServiceTokens) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.MpesaConfig{
		Environment:    config.EnvSandbox,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://pay.example.com/payment/callback",
	}
	payments := repository.NewMemoryPaymentStatusRepo()
	hub := notifier.NewHub()

	paymentUC := usecase.NewPaymentUsecase(cfg, sandboxGateway{}, payments, nil, hub, logger)
	callbackUC := usecase.NewCallbackUsecase("", payments, nil, hub, logger)
	purchaseUC := usecase.NewPurchaseUsecase(payments, repository.NewMemoryPurchaseRepo(), nil, 0.0245, logger)
	prices := usecase.NewPriceService(time.Minute, logger, pricefeed.NewStatic())

	gate := func(p ratelimit.Policy, fallback string) handler.RateGate {
		return handler.NewRateGate(p, ratelimit.NewMemoryLimiter(p), fallback)
	}
	bounds := validation.DefaultBounds()
	h := Handlers{
		Payment:  handler.NewPaymentHandler(paymentUC, bounds, gate(ratelimit.InitiatePolicy, "unknown"), gate(ratelimit.StatusPolicy, "unknown"), logger),
		Callback: handler.NewCallbackHandler(callbackUC, gate(ratelimit.CallbackPolicy, "safaricom"), logger),
		Purchase: handler.NewPurchaseHandler(purchaseUC, bounds, gate(ratelimit.PurchasePolicy, "unknown"), logger),
		Price:    handler.NewPriceHandler(prices, 0.0245),
		Stream:   handler.NewStreamHandler(paymentUC, hub, gate(ratelimit.StatusPolicy, "unknown"), nil, logger),
	}

	tokens := security.NewServiceTokens("test-signing-secret", "nomatoken-test")
	srv := httptest.NewServer(SetupRoutes(h, Options{ServiceTokens: tokens}, logger))
	t.Cleanup(srv.Close)
	return srv, tokens
}

const completedCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"` + merchantID + `","CheckoutRequestID":"` + checkoutID + `","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":100},{"Name":"MpesaReceiptNumber","Value":"` + receipt + `"},{"Name":"TransactionDate","Value":20191219102115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

func postCallback(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/payment/callback", "application/json", strings.NewReader(completedCallback))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}
}

func TestPaymentFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	client := poller.NewClient(srv.URL, zaptest.NewLogger(t))
	ctx := context.Background()

	session, err := client.Initiate(ctx, validation.PaymentInput{PhoneNumber: "0712345678", Amount: 100, AccountReference: "NOMA"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if session.CheckoutRequestID != checkoutID {
		t.Fatalf("session = %+v", session)
	}

	type result struct {
		status *domain.PaymentStatus
		err    error
	}
	done := make(chan result, 1)
	go func() {
		st, err := poller.Poll(ctx, client, checkoutID, poller.Options{
			InitialDelay: 10 * time.Millisecond,
			Interval:     10 * time.Millisecond,
			Timeout:      5 * time.Second,
		})
		done <- result{st, err}
	}()

	time.Sleep(30 * time.Millisecond)
	postCallback(t, srv)

	res := <-done
	if res.err != nil || res.status == nil {
		t.Fatalf("Poll = %+v, %v", res.status, res.err)
	}
	if res.status.Status != domain.StatusCompleted || res.status.MpesaReceiptNumber != receipt {
		t.Fatalf("status = %+v", res.status)
	}
	if res.status.PhoneNumber != "254****5678" {
		t.Fatalf("phone number not masked: %q", res.status.PhoneNumber)
	}

	purchase, err := client.CompletePurchase(ctx, validation.PurchaseInput{
		PaymentMethod:      domain.PaymentMethodMpesa,
		Amount:             100,
		PhoneNumber:        "254712345678",
		MpesaReceiptNumber: res.status.MpesaReceiptNumber,
		CheckoutRequestID:  checkoutID,
		MerchantRequestID:  res.status.MerchantRequestID,
	})
	if err != nil {
		t.Fatalf("CompletePurchase: %v", err)
	}
	if purchase.TransactionID != receipt || purchase.TokenAmount != 4081.632653 {
		t.Fatalf("purchase = %+v", purchase)
	}

	history, err := client.PurchaseHistory(ctx, "", "0712345678")
	if err != nil || len(history) != 1 || history[0].ID != purchase.ID {
		t.Fatalf("history = %+v, %v", history, err)
	}
}

func TestStatusStream(t *testing.T) {
	srv, _ := newTestServer(t)
	client := poller.NewClient(srv.URL, zaptest.NewLogger(t))
	if _, err := client.Initiate(context.Background(), validation.PaymentInput{PhoneNumber: "0712345678", Amount: 100}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/payment/status/stream?checkoutRequestId=" + checkoutID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type string               `json:"type"`
		Data domain.PaymentStatus `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Data.Status != domain.StatusPending {
		t.Fatalf("first message = %+v, %v", msg, err)
	}

	postCallback(t, srv)

	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "status" || msg.Data.Status != domain.StatusCompleted {
		t.Fatalf("update = %+v, %v", msg, err)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestStatusStreamUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/payment/status/stream?checkoutRequestId=ws_CO_0000000000"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial = %v, %+v", err, resp)
	}
}

func TestAdminStatusUpdateRequiresToken(t *testing.T) {
	srv, tokens := newTestServer(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	if _, err := poller.NewClient(srv.URL, logger).Initiate(ctx, validation.PaymentInput{PhoneNumber: "0712345678", Amount: 100}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	update := validation.StatusUpdateInput{CheckoutRequestID: checkoutID, Status: "failed", ResultDesc: "Reconciled manually"}

	_, err := poller.NewClient(srv.URL, logger).UpdateStatus(ctx, update)
	var apiErr *poller.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous update err = %v", err)
	}

	viewer, _ := tokens.Issue("dashboard", "viewer", time.Minute)
	_, err = poller.NewClient(srv.URL, logger, poller.WithAdminToken(viewer)).UpdateStatus(ctx, update)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer update err = %v", err)
	}

	admin, err := tokens.Issue("ops", "admin", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	status, err := poller.NewClient(srv.URL, logger, poller.WithAdminToken(admin)).UpdateStatus(ctx, update)
	if err != nil || status.Status != domain.StatusFailed {
		t.Fatalf("admin update = %+v, %v", status, err)
	}
}

func TestHealthAndPrices(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %v, %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/prices?symbols=bnb")
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			TokenPrice float64                    `json:"tokenPrice"`
			Prices     map[string]pricefeed.Quote `json:"prices"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Data.TokenPrice != 0.0245 || body.Data.Prices["BNB"].Price != 300 || len(body.Data.Prices) != 1 {
		t.Fatalf("body = %+v", body)
	}
}
