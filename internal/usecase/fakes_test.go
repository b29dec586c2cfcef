package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/provider"
)

const (
	testCheckoutID = "ws_CO_191220191020363925"
	testMerchantID = "29115-34620561-1"
	testReceipt    = "NLJ7RT61SV"
	testPhone      = "254712345678"
)

var testNow = time.Date(2024, 3, 5, 9, 7, 1, 0, time.UTC)

func testMpesaConfig() config.MpesaConfig {
	return config.MpesaConfig{
		Environment:    config.EnvSandbox,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://pay.example.com/payment/callback",
		MaxAttempts:    1,
	}
}

type fakeGateway struct {
	mu          sync.Mutex
	pushes      []domain.PaymentRequest
	callbackURL string
	pushErr     error
	query       map[string]*provider.QueryResult
	queryErr    error
	queries     int
}

func (g *fakeGateway) STKPush(_ context.Context, req domain.PaymentRequest, callbackURL string) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, req)
	g.callbackURL = callbackURL
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return &domain.CheckoutSession{
		MerchantRequestID:   testMerchantID,
		CheckoutRequestID:   testCheckoutID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) STKQuery(_ context.Context, checkoutRequestID string) (*provider.QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if res, ok := g.query[checkoutRequestID]; ok {
		return res, nil
	}
	return nil, context.DeadlineExceeded
}

type recordingPublisher struct {
	mu        sync.Mutex
	statuses  []events.StatusChanged
	purchases []events.PurchaseCompleted
}

func (p *recordingPublisher) StatusChanged(_ context.Context, e events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, e)
	return nil
}

func (p *recordingPublisher) PurchaseCompleted(_ context.Context, e events.PurchaseCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purchases = append(p.purchases, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statusCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.statuses)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []*domain.PaymentStatus
}

func (n *recordingNotifier) Publish(p *domain.PaymentStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, p)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func successCallback(checkoutID string) []byte {
	return []byte(`{"Body":{"stkCallback":{
		"MerchantRequestID":"` + testMerchantID + `",
		"CheckoutRequestID":"` + checkoutID + `",
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":100},
			{"Name":"MpesaReceiptNumber","Value":"` + testReceipt + `"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`)
}

func failedCallback(checkoutID string, code int, desc string) []byte {
	return []byte(`{"Body":{"stkCallback":{
		"MerchantRequestID":"` + testMerchantID + `",
		"CheckoutRequestID":"` + checkoutID + `",
		"ResultCode":` + strconv.Itoa(code) + `,
		"ResultDesc":"` + desc + `"}}}`)
}
