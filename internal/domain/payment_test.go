package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPending, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusExpired, StatusPending, false},
		{StatusPending, Status("settled"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusForResultCode(t *testing.T) {
	tests := map[int]Status{
		0:    StatusCompleted,
		1032: StatusCancelled,
		1037: StatusExpired,
		1:    StatusFailed,
		2001: StatusFailed,
	}
	for code, want := range tests {
		if got := StatusForResultCode(code); got != want {
			t.Errorf("StatusForResultCode(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestApplyCallback(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	p := NewPendingStatus(CheckoutSession{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
	}, PaymentRequest{PhoneNumber: "254712345678", Amount: 100, AccountReference: "NomaToken"}, now)

	res := &CallbackResult{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Metadata: &CallbackMetadata{
			Amount:             100,
			MpesaReceiptNumber: "NLJ7RT61SV",
			TransactionDate:    "20191219102115",
			PhoneNumber:        "254712345678",
		},
	}

	changed, err := p.ApplyCallback(res, now.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("ApplyCallback = %v, %v", changed, err)
	}
	if p.Status != StatusCompleted || p.MpesaReceiptNumber != "NLJ7RT61SV" {
		t.Fatalf("unexpected record %+v", p)
	}
	if p.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	// duplicate delivery
	changed, err = p.ApplyCallback(res, now.Add(2*time.Minute))
	if err != nil || changed {
		t.Fatalf("duplicate ApplyCallback = %v, %v", changed, err)
	}

	failed := *res
	failed.ResultCode = 1
	if _, err := p.ApplyCallback(&failed, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if p.Status != StatusCompleted {
		t.Fatalf("terminal status overwritten: %s", p.Status)
	}
}

func TestApplyCallbackFillsQueryCompletedSession(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	p := &PaymentStatus{CheckoutRequestID: "ws_CO_191220191020363925", Status: StatusPending, CreatedAt: now}
	if _, err := p.Transition(StatusCompleted, "", now); err != nil {
		t.Fatal(err)
	}

	res := &CallbackResult{
		CheckoutRequestID: "ws_CO_191220191020363925",
		Metadata:          &CallbackMetadata{Amount: 100, MpesaReceiptNumber: "NLJ7RT61SV", PhoneNumber: "254712345678"},
	}
	changed, err := p.ApplyCallback(res, now.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("ApplyCallback = %v, %v", changed, err)
	}
	if p.MpesaReceiptNumber != "NLJ7RT61SV" || !p.CompletedAt.Equal(now) {
		t.Fatalf("unexpected record %+v", p)
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("completed"); err != nil {
		t.Fatalf("ParseStatus(completed): %v", err)
	}
	if _, err := ParseStatus("done"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}
