package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/provider/mpesa"
	"github.com/ggbundi/Nomatoken/internal/repository"
)

func newPaymentUsecase(t *testing.T, cfg config.MpesaConfig, gw *fakeGateway) (*PaymentUsecase, *repository.MemoryPaymentStatusRepo, *recordingPublisher) {
	t.Helper()
	repo := repository.NewMemoryPaymentStatusRepo()
	pub := &recordingPublisher{}
	uc := NewPaymentUsecase(cfg, gw, repo, pub, nil, zaptest.NewLogger(t))
	uc.now = fixedClock(testNow)
	return uc, repo, pub
}

func TestInitiate(t *testing.T) {
	cfg := testMpesaConfig()
	cfg.CallbackSecret = "s3cret"
	gw := &fakeGateway{}
	uc, repo, pub := newPaymentUsecase(t, cfg, gw)

	req := domain.PaymentRequest{PhoneNumber: testPhone, Amount: 100, AccountReference: "NomaToken"}
	session, err := uc.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if session.CheckoutRequestID != testCheckoutID {
		t.Fatalf("session = %+v", session)
	}
	if !strings.HasSuffix(gw.callbackURL, "/payment/callback?token=s3cret") {
		t.Fatalf("callback URL = %s", gw.callbackURL)
	}

	stored, err := repo.Get(context.Background(), testCheckoutID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.StatusPending || stored.Amount != 100 || stored.PhoneNumber != testPhone {
		t.Fatalf("stored = %+v", stored)
	}
	if pub.statusCount() != 1 || pub.statuses[0].Source != SourceInitiate {
		t.Fatalf("events = %+v", pub.statuses)
	}
}

func TestInitiateFailsClosedWithoutConfig(t *testing.T) {
	cfg := testMpesaConfig()
	cfg.Passkey = ""
	gw := &fakeGateway{}
	uc, _, _ := newPaymentUsecase(t, cfg, gw)

	_, err := uc.Initiate(context.Background(), domain.PaymentRequest{PhoneNumber: testPhone, Amount: 100})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
	if len(gw.pushes) != 0 {
		t.Fatal("gateway called without configuration")
	}
}

func TestInitiateGatewayError(t *testing.T) {
	gw := &fakeGateway{pushErr: &mpesa.GatewayError{Op: "stk_push", ResponseCode: "1", Description: "Insufficient funds"}}
	uc, repo, pub := newPaymentUsecase(t, testMpesaConfig(), gw)

	if _, err := uc.Initiate(context.Background(), domain.PaymentRequest{PhoneNumber: testPhone, Amount: 100}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := repo.Get(context.Background(), testCheckoutID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("session stored after failed push: %v", err)
	}
	if pub.statusCount() != 0 {
		t.Fatal("event published after failed push")
	}
}

func TestGetAndUpdateStatus(t *testing.T) {
	uc, _, pub := newPaymentUsecase(t, testMpesaConfig(), &fakeGateway{})
	ctx := context.Background()
	if _, err := uc.Initiate(ctx, domain.PaymentRequest{PhoneNumber: testPhone, Amount: 100}); err != nil {
		t.Fatal(err)
	}

	got, err := uc.GetStatus(ctx, domain.StatusQuery{MerchantRequestID: testMerchantID})
	if err != nil || got.CheckoutRequestID != testCheckoutID {
		t.Fatalf("GetStatus = %+v, %v", got, err)
	}
	if _, err := uc.GetStatus(ctx, domain.StatusQuery{CheckoutRequestID: "ws_CO_unknown00"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}

	updated, err := uc.UpdateStatus(ctx, domain.StatusUpdate{
		MerchantRequestID:  testMerchantID,
		Status:             domain.StatusCompleted,
		MpesaReceiptNumber: testReceipt,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != domain.StatusCompleted || updated.MpesaReceiptNumber != testReceipt || updated.CompletedAt == nil {
		t.Fatalf("updated = %+v", updated)
	}

	_, err = uc.UpdateStatus(ctx, domain.StatusUpdate{CheckoutRequestID: testCheckoutID, Status: domain.StatusFailed})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("terminal overwrite err = %v", err)
	}

	// initiate + one admin change
	if n := pub.statusCount(); n != 2 {
		t.Fatalf("events = %d", n)
	}
}
