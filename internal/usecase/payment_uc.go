// internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/internal/provider"
	"github.com/ggbundi/Nomatoken/internal/repository"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

// ErrNotConfigured is returned before any gateway call when credentials are missing.
var ErrNotConfigured = errors.New("payment gateway not configured")

type PaymentUsecase struct {
	cfg      config.MpesaConfig
	gateway  provider.Gateway
	payments repository.PaymentStatusRepository
	recorder changeRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewPaymentUsecase(
	cfg config.MpesaConfig,
	gateway provider.Gateway,
	payments repository.PaymentStatusRepository,
	publisher events.Publisher,
	notifier StatusNotifier,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		cfg:      cfg,
		gateway:  gateway,
		payments: payments,
		recorder: newChangeRecorder(publisher, notifier, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// CheckConfig fails closed when a required gateway setting is absent. The
// names of the missing settings are logged, never returned.
func (uc *PaymentUsecase) CheckConfig() error {
	if missing := uc.cfg.Missing(); len(missing) > 0 {
		uc.logger.Error("M-Pesa configuration incomplete",
			zap.String("missing", strings.Join(missing, ",")))
		return ErrNotConfigured
	}
	return nil
}

// Initiate sends an STK push and records the pending session.
func (uc *PaymentUsecase) Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.CheckoutSession, error) {
	if err := uc.CheckConfig(); err != nil {
		metrics.PaymentsInitiated.WithLabelValues("misconfigured").Inc()
		return nil, err
	}

	uc.logger.Info("initiating STK push",
		zap.Any("request", security.MaskSensitiveData(req)))

	session, err := uc.gateway.STKPush(ctx, req, uc.cfg.CallbackEndpoint())
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues("rejected").Inc()
		uc.logger.Error("STK push failed",
			zap.String("phone", security.MaskPhone(req.PhoneNumber)),
			zap.Float64("amount", req.Amount),
			zap.Error(err))
		return nil, err
	}
	metrics.PaymentsInitiated.WithLabelValues("accepted").Inc()

	status := domain.NewPendingStatus(*session, req, uc.now())
	if err := uc.payments.Create(ctx, status); err != nil {
		// The callback seeds the record if this write was lost.
		uc.logger.Error("failed to store pending payment",
			zap.String("checkout_request_id", session.CheckoutRequestID),
			zap.Error(err))
	} else {
		uc.recorder.record(ctx, status, "", SourceInitiate)
	}

	uc.logger.Info("STK push accepted",
		zap.String("checkout_request_id", session.CheckoutRequestID),
		zap.String("merchant_request_id", session.MerchantRequestID))
	return session, nil
}

// GetStatus looks a session up by checkout request ID, or by merchant request ID.
func (uc *PaymentUsecase) GetStatus(ctx context.Context, q domain.StatusQuery) (*domain.PaymentStatus, error) {
	if q.CheckoutRequestID != "" {
		return uc.payments.Get(ctx, q.CheckoutRequestID)
	}
	return uc.payments.GetByMerchantRequestID(ctx, q.MerchantRequestID)
}

// UpdateStatus applies an operator-driven change under the normal transition rules.
func (uc *PaymentUsecase) UpdateStatus(ctx context.Context, u domain.StatusUpdate) (*domain.PaymentStatus, error) {
	checkoutID := u.CheckoutRequestID
	if checkoutID == "" {
		current, err := uc.payments.GetByMerchantRequestID(ctx, u.MerchantRequestID)
		if err != nil {
			return nil, err
		}
		checkoutID = current.CheckoutRequestID
	}

	var previous domain.Status
	updated, changed, err := uc.payments.Mutate(ctx, checkoutID, nil, func(p *domain.PaymentStatus) (bool, error) {
		if u.MerchantRequestID != "" && p.MerchantRequestID != u.MerchantRequestID {
			return false, fmt.Errorf("%w: merchant request mismatch", domain.ErrNotFound)
		}
		previous = p.Status
		changed, err := p.Transition(u.Status, u.ResultDesc, uc.now())
		if err != nil {
			return false, err
		}
		if changed && u.MpesaReceiptNumber != "" {
			p.MpesaReceiptNumber = u.MpesaReceiptNumber
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		uc.logger.Info("payment status updated by operator",
			zap.String("checkout_request_id", checkoutID),
			zap.String("from", string(previous)),
			zap.String("to", string(updated.Status)))
		uc.recorder.record(ctx, updated, previous, SourceAdmin)
	}
	return updated, nil
}
