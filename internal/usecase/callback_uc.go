// internal/usecase/callback_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/internal/provider/mpesa"
	"github.com/ggbundi/Nomatoken/internal/repository"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

// CallbackOutcome describes what happened to one callback delivery.
type CallbackOutcome string

const (
	CallbackApplied    CallbackOutcome = "applied"
	CallbackDuplicate  CallbackOutcome = "duplicate"
	CallbackConflict   CallbackOutcome = "conflict"
	CallbackUnverified CallbackOutcome = "unverified"
	CallbackMalformed  CallbackOutcome = "malformed"
	CallbackIncomplete CallbackOutcome = "incomplete"
	CallbackError      CallbackOutcome = "error"
)

// CallbackDelivery is one raw callback as received over HTTP.
type CallbackDelivery struct {
	Payload   []byte
	Signature string
	Token     string
}

type CallbackUsecase struct {
	secret   string
	payments repository.PaymentStatusRepository
	recorder changeRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewCallbackUsecase(
	callbackSecret string,
	payments repository.PaymentStatusRepository,
	publisher events.Publisher,
	notifier StatusNotifier,
	logger *zap.Logger,
) *CallbackUsecase {
	return &CallbackUsecase{
		secret:   callbackSecret,
		payments: payments,
		recorder: newChangeRecorder(publisher, notifier, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Verify accepts a delivery carrying either a body signature or the token we
// registered in the callback URL. Without a configured secret every delivery
// is accepted.
func (uc *CallbackUsecase) Verify(d CallbackDelivery) bool {
	if uc.secret == "" {
		return true
	}
	if d.Signature != "" && security.ValidateCallbackSignature(d.Payload, d.Signature, uc.secret) {
		return true
	}
	return d.Token != "" && security.ConstantTimeEqual(d.Token, uc.secret)
}

// Process applies one callback delivery. The error is informational only: a
// delivery is always acknowledged to the gateway.
func (uc *CallbackUsecase) Process(ctx context.Context, d CallbackDelivery) (CallbackOutcome, error) {
	outcome, err := uc.process(ctx, d)
	metrics.CallbacksReceived.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (uc *CallbackUsecase) process(ctx context.Context, d CallbackDelivery) (CallbackOutcome, error) {
	if !uc.Verify(d) {
		uc.logger.Warn("rejected unverified M-Pesa callback",
			zap.Int("payload_size", len(d.Payload)))
		return CallbackUnverified, nil
	}

	res, err := mpesa.ParseSTKCallback(d.Payload)
	if err != nil {
		uc.logger.Warn("failed to parse M-Pesa callback", zap.Error(err))
		return CallbackMalformed, err
	}

	log := uc.logger.With(
		zap.String("checkout_request_id", res.CheckoutRequestID),
		zap.String("merchant_request_id", res.MerchantRequestID),
		zap.Int("result_code", res.ResultCode))

	if res.CheckoutRequestID == "" {
		log.Warn("M-Pesa callback without checkout request ID")
		return CallbackIncomplete, nil
	}
	if res.Succeeded() {
		if !res.Metadata.Complete() {
			log.Warn("successful M-Pesa callback missing amount, receipt or phone")
			return CallbackIncomplete, nil
		}
	} else if res.MerchantRequestID == "" {
		log.Warn("failed M-Pesa callback without merchant request ID")
		return CallbackIncomplete, nil
	}

	now := uc.now()
	var previous domain.Status
	updated, changed, err := uc.payments.Mutate(ctx, res.CheckoutRequestID,
		func() *domain.PaymentStatus { return domain.StatusFromCallback(res, now) },
		func(p *domain.PaymentStatus) (bool, error) {
			previous = p.Status
			return p.ApplyCallback(res, now)
		})
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Warn("conflicting M-Pesa callback ignored",
			zap.String("recorded_status", string(previous)),
			zap.String("callback_status", string(res.Status())))
		return CallbackConflict, nil
	case err != nil:
		log.Error("failed to apply M-Pesa callback", zap.Error(err))
		return CallbackError, err
	case !changed:
		log.Info("duplicate M-Pesa callback", zap.String("status", string(updated.Status)))
		return CallbackDuplicate, nil
	}

	if res.Succeeded() {
		log.Info("M-Pesa payment completed",
			zap.Float64("amount", res.Metadata.Amount),
			zap.String("phone", security.MaskPhone(res.Metadata.PhoneNumber)))
	} else {
		log.Info("M-Pesa payment not completed",
			zap.String("status", string(updated.Status)),
			zap.String("result_desc", res.ResultDesc))
	}

	uc.recorder.record(ctx, updated, previous, SourceCallback)
	return CallbackApplied, nil
}
