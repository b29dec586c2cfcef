// internal/handler/purchase_handler.go
package handler

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/usecase"
	"github.com/ggbundi/Nomatoken/internal/validation"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

// purchaseView is the client rendering of a recorded purchase.
type purchaseView struct {
	ID            string    `json:"id,omitempty"`
	PaymentMethod string    `json:"paymentMethod"`
	USDAmount     float64   `json:"usdAmount"`
	TokenAmount   float64   `json:"tokenAmount"`
	TokenPrice    float64   `json:"tokenPrice"`
	Status        string    `json:"status,omitempty"`
	TransactionID string    `json:"transactionId"`
	UserAddress   string    `json:"userAddress,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func newPurchaseView(p *domain.TokenPurchase) purchaseView {
	return purchaseView{
		ID:            p.ID,
		PaymentMethod: p.PaymentMethod,
		USDAmount:     p.USDAmount,
		TokenAmount:   p.TokenAmount,
		TokenPrice:    p.TokenPrice,
		Status:        p.Status,
		TransactionID: p.MpesaReceiptNumber,
		UserAddress:   p.UserAddress,
		Timestamp:     p.CreatedAt,
	}
}

type PurchaseHandler struct {
	purchaseUC *usecase.PurchaseUsecase
	bounds     validation.Bounds
	gate       RateGate
	logger     *zap.Logger
}

func NewPurchaseHandler(purchaseUC *usecase.PurchaseUsecase, bounds validation.Bounds, gate RateGate, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseUC: purchaseUC,
		bounds:     bounds,
		gate:       gate,
		logger:     logger,
	}
}

// Complete handles POST /tokens/purchase
func (h *PurchaseHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.gate.allow(w, r, h.logger); !ok {
		sendRateLimited(w, d, "Too many purchase requests. Please try again later.")
		return
	}

	var in validation.PurchaseInput
	if err := decodeSanitized(r, &in); err != nil {
		sendValidationError(w, "Invalid request data", validation.Errors{{Field: "body", Message: "Request body must be a JSON object"}})
		return
	}
	req, errs := validation.ValidateTokenPurchase(in, h.bounds)
	if len(errs) > 0 {
		sendValidationError(w, "Invalid request data", errs)
		return
	}

	purchase, created, err := h.purchaseUC.Complete(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		sendError(w, http.StatusConflict, "Payment not completed")
		return
	case errors.Is(err, domain.ErrPurchaseExists):
		sendError(w, http.StatusConflict, "Purchase already recorded")
		return
	case errors.Is(err, domain.ErrPurchaseMismatch):
		var details validation.Errors
		var mismatch *domain.PurchaseMismatchError
		if errors.As(err, &mismatch) {
			for _, f := range mismatch.Fields {
				details.Add(f, "does not match the settled payment")
			}
		}
		sendValidationError(w, "Purchase does not match payment", details)
		return
	case err != nil:
		h.logger.Error("token purchase failed",
			zap.Any("request", security.MaskSensitiveData(req)),
			zap.Error(err))
		sendInternalError(w, err)
		return
	}

	message := "Token purchase completed successfully"
	if !created {
		message = "Token purchase already completed"
	}
	sendSuccess(w, message, newPurchaseView(purchase))
}

// History handles GET /tokens/purchase
func (h *PurchaseHandler) History(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.gate.allow(w, r, h.logger); !ok {
		sendRateLimited(w, d, "Too many purchase requests. Please try again later.")
		return
	}

	q, errs := validation.ValidatePurchaseHistoryQuery(
		r.URL.Query().Get("userAddress"),
		r.URL.Query().Get("phoneNumber"))
	if len(errs) > 0 {
		sendValidationError(w, "User address or phone number is required", errs)
		return
	}

	purchases, err := h.purchaseUC.History(r.Context(), q)
	if err != nil {
		h.logger.Error("purchase history lookup failed", zap.Error(err))
		sendInternalError(w, err)
		return
	}

	views := make([]purchaseView, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, newPurchaseView(p))
	}
	sendSuccess(w, "", views)
}
