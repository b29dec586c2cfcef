package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/provider"
	"github.com/ggbundi/Nomatoken/internal/repository"
)

func seedPending(t *testing.T, repo repository.PaymentStatusRepository, id string, created time.Time) {
	t.Helper()
	p := &domain.PaymentStatus{
		CheckoutRequestID: id,
		MerchantRequestID: testMerchantID,
		Status:            domain.StatusPending,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

func TestExpiryWorkerSweep(t *testing.T) {
	repo := repository.NewMemoryPaymentStatusRepo()
	ttl := 3 * time.Minute

	seedPending(t, repo, "ws_CO_fresh000001", testNow.Add(-time.Minute))
	seedPending(t, repo, "ws_CO_cancelled01", testNow.Add(-4*time.Minute))
	seedPending(t, repo, "ws_CO_processing1", testNow.Add(-4*time.Minute))
	seedPending(t, repo, "ws_CO_abandoned01", testNow.Add(-7*time.Minute))

	gw := &fakeGateway{query: map[string]*provider.QueryResult{
		"ws_CO_cancelled01": {CheckoutRequestID: "ws_CO_cancelled01", ResultCode: 1032, ResultDesc: "Request cancelled by user"},
	}}
	pub := &recordingPublisher{}
	w := NewExpiryWorker(config.SessionConfig{TTL: ttl}, testMpesaConfig(), gw, repo, pub, nil, zaptest.NewLogger(t))
	w.now = fixedClock(testNow)

	resolved, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if resolved != 2 {
		t.Fatalf("resolved = %d", resolved)
	}

	want := map[string]domain.Status{
		"ws_CO_fresh000001": domain.StatusPending,
		"ws_CO_cancelled01": domain.StatusCancelled,
		"ws_CO_processing1": domain.StatusPending,
		"ws_CO_abandoned01": domain.StatusExpired,
	}
	for id, status := range want {
		got, _ := repo.Get(context.Background(), id)
		if got.Status != status {
			t.Errorf("%s: status = %s, want %s", id, got.Status, status)
		}
	}
	if gw.queries != 3 {
		t.Fatalf("queries = %d", gw.queries)
	}

	sources := map[string]bool{}
	for _, e := range pub.statuses {
		sources[e.Source] = true
	}
	if !sources[SourceQuery] || !sources[SourceExpiry] {
		t.Fatalf("event sources = %v", sources)
	}
}

func TestExpiryWorkerPrunes(t *testing.T) {
	repo := repository.NewMemoryPaymentStatusRepo()
	day := -25 * time.Hour
	for _, p := range []*domain.PaymentStatus{
		{CheckoutRequestID: "ws_CO_failed00001", Status: domain.StatusFailed},
		{CheckoutRequestID: "ws_CO_expired0001", Status: domain.StatusExpired},
		{
			CheckoutRequestID:  testCheckoutID,
			MerchantRequestID:  testMerchantID,
			Status:             domain.StatusCompleted,
			MpesaReceiptNumber: testReceipt,
			PhoneNumber:        testPhone,
			Amount:             100,
		},
	} {
		p.CreatedAt = testNow.Add(day)
		p.UpdatedAt = testNow.Add(day)
		if err := repo.Create(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}

	w := NewExpiryWorker(config.SessionConfig{TTL: time.Minute, Retention: 24 * time.Hour}, testMpesaConfig(), &fakeGateway{}, repo, nil, nil, zaptest.NewLogger(t))
	w.now = fixedClock(testNow)
	if _, err := w.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"ws_CO_failed00001", "ws_CO_expired0001"} {
		if _, err := repo.Get(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s not pruned: %v", id, err)
		}
	}

	// An unclaimed completed payment outlives the retention window and can
	// still be turned into tokens.
	uc := NewPurchaseUsecase(repo, repository.NewMemoryPurchaseRepo(), nil, 0.0245, zaptest.NewLogger(t))
	if _, created, err := uc.Complete(context.Background(), purchaseRequest()); err != nil || !created {
		t.Fatalf("Complete after sweep = %v, %v", created, err)
	}
}

func TestExpiryWorkerWithoutCredentials(t *testing.T) {
	repo := repository.NewMemoryPaymentStatusRepo()
	ttl := 3 * time.Minute
	seedPending(t, repo, "ws_CO_processing1", testNow.Add(-4*time.Minute))
	seedPending(t, repo, "ws_CO_abandoned01", testNow.Add(-7*time.Minute))

	cfg := testMpesaConfig()
	cfg.Passkey = ""
	gw := &fakeGateway{}
	w := NewExpiryWorker(config.SessionConfig{TTL: ttl}, cfg, gw, repo, nil, nil, zaptest.NewLogger(t))
	w.now = fixedClock(testNow)

	resolved, err := w.Sweep(context.Background())
	if err != nil || resolved != 1 {
		t.Fatalf("Sweep = %d, %v", resolved, err)
	}
	if gw.queries != 0 {
		t.Fatalf("queries = %d, want none", gw.queries)
	}
	if got, _ := repo.Get(context.Background(), "ws_CO_abandoned01"); got.Status != domain.StatusExpired {
		t.Fatalf("abandoned status = %s", got.Status)
	}
	if got, _ := repo.Get(context.Background(), "ws_CO_processing1"); got.Status != domain.StatusPending {
		t.Fatalf("processing status = %s", got.Status)
	}
}

func TestExpiryWorkerRunStops(t *testing.T) {
	w := NewExpiryWorker(config.SessionConfig{TTL: time.Minute, SweepInterval: 10 * time.Millisecond},
		testMpesaConfig(), &fakeGateway{}, repository.NewMemoryPaymentStatusRepo(), nil, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
