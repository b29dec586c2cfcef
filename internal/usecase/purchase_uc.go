// internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/internal/repository"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

const (
	tokenDecimals       = 6
	purchaseHistorySize = 100
)

// CalculateTokenAmount converts a USD amount into tokens at price, rounded to
// six decimal places.
func CalculateTokenAmount(usd, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return decimal.NewFromFloat(usd).
		Div(decimal.NewFromFloat(price)).
		Round(tokenDecimals).
		InexactFloat64()
}

type PurchaseUsecase struct {
	payments   repository.PaymentStatusRepository
	purchases  repository.PurchaseRepository
	publisher  events.Publisher
	tokenPrice float64
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewPurchaseUsecase(
	payments repository.PaymentStatusRepository,
	purchases repository.PurchaseRepository,
	publisher events.Publisher,
	tokenPrice float64,
	logger *zap.Logger,
) *PurchaseUsecase {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &PurchaseUsecase{
		payments:   payments,
		purchases:  purchases,
		publisher:  publisher,
		tokenPrice: tokenPrice,
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return ulid.Make().String() },
	}
}

func (uc *PurchaseUsecase) TokenPrice() float64 {
	return uc.tokenPrice
}

// Complete records the tokens bought with a settled payment. Replaying the
// same receipt returns the purchase already recorded.
func (uc *PurchaseUsecase) Complete(ctx context.Context, req domain.PurchaseRequest) (*domain.TokenPurchase, bool, error) {
	payment, err := uc.payments.Get(ctx, req.CheckoutRequestID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.TokenPurchases.WithLabelValues("unpaid").Inc()
		return nil, false, fmt.Errorf("%w: unknown checkout request", domain.ErrPaymentNotCompleted)
	}
	if err != nil {
		return nil, false, err
	}
	if payment.Status != domain.StatusCompleted ||
		payment.MpesaReceiptNumber != req.MpesaReceiptNumber ||
		payment.MerchantRequestID != req.MerchantRequestID {
		metrics.TokenPurchases.WithLabelValues("unpaid").Inc()
		uc.logger.Warn("token purchase against unsettled payment",
			zap.String("checkout_request_id", req.CheckoutRequestID),
			zap.String("payment_status", string(payment.Status)))
		return nil, false, domain.ErrPaymentNotCompleted
	}

	if err := reconcile(payment, req); err != nil {
		metrics.TokenPurchases.WithLabelValues("mismatch").Inc()
		uc.logger.Warn("token purchase does not match payment",
			zap.String("checkout_request_id", req.CheckoutRequestID),
			zap.Error(err))
		return nil, false, err
	}

	purchase := &domain.TokenPurchase{
		ID:                 uc.newID(),
		PaymentMethod:      domain.PaymentMethodMpesa,
		USDAmount:          payment.Amount,
		TokenAmount:        CalculateTokenAmount(payment.Amount, uc.tokenPrice),
		TokenPrice:         uc.tokenPrice,
		PhoneNumber:        req.PhoneNumber,
		MpesaReceiptNumber: req.MpesaReceiptNumber,
		CheckoutRequestID:  req.CheckoutRequestID,
		MerchantRequestID:  req.MerchantRequestID,
		UserAddress:        req.UserAddress,
		Status:             string(domain.StatusCompleted),
		CreatedAt:          uc.now(),
	}

	stored, created, err := uc.purchases.Create(ctx, purchase)
	if err != nil {
		metrics.TokenPurchases.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("failed to record token purchase: %w", err)
	}
	if !created {
		if stored.CheckoutRequestID != req.CheckoutRequestID {
			metrics.TokenPurchases.WithLabelValues("conflict").Inc()
			return nil, false, domain.ErrPurchaseExists
		}
		metrics.TokenPurchases.WithLabelValues("replayed").Inc()
		return stored, false, nil
	}

	metrics.TokenPurchases.WithLabelValues("recorded").Inc()
	uc.logger.Info("token purchase recorded",
		zap.String("purchase_id", stored.ID),
		zap.String("checkout_request_id", stored.CheckoutRequestID),
		zap.Float64("usd_amount", stored.USDAmount),
		zap.Float64("token_amount", stored.TokenAmount),
		zap.String("phone", security.MaskPhone(stored.PhoneNumber)))

	if err := uc.publisher.PurchaseCompleted(ctx, events.NewPurchaseCompleted(stored)); err != nil {
		uc.logger.Error("failed to publish purchase", zap.String("purchase_id", stored.ID), zap.Error(err))
	}
	return stored, true, nil
}

// reconcile checks the claimed amount and phone against what the payment
// actually settled. Tokens are always computed from the payment amount, so a
// payment with no recorded amount cannot back a purchase.
func reconcile(payment *domain.PaymentStatus, req domain.PurchaseRequest) error {
	var fields []string
	if payment.Amount <= 0 || !decimal.NewFromFloat(req.Amount).Equal(decimal.NewFromFloat(payment.Amount)) {
		fields = append(fields, "amount")
	}
	if payment.PhoneNumber != "" && req.PhoneNumber != payment.PhoneNumber {
		fields = append(fields, "phoneNumber")
	}
	if len(fields) > 0 {
		return &domain.PurchaseMismatchError{Fields: fields}
	}
	return nil
}

// History lists purchases for a wallet or phone number, newest first.
func (uc *PurchaseUsecase) History(ctx context.Context, q domain.PurchaseQuery) ([]*domain.TokenPurchase, error) {
	return uc.purchases.List(ctx, q, purchaseHistorySize)
}
