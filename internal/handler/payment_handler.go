// internal/handler/payment_handler.go
package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/usecase"
	"github.com/ggbundi/Nomatoken/internal/validation"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

type PaymentHandler struct {
	paymentUC    *usecase.PaymentUsecase
	bounds       validation.Bounds
	initiateGate RateGate
	statusGate   RateGate
	logger       *zap.Logger
}

func NewPaymentHandler(
	paymentUC *usecase.PaymentUsecase,
	bounds validation.Bounds,
	initiateGate RateGate,
	statusGate RateGate,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentUC:    paymentUC,
		bounds:       bounds,
		initiateGate: initiateGate,
		statusGate:   statusGate,
		logger:       logger,
	}
}

// Initiate handles POST /payment/initiate
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	if err := h.paymentUC.CheckConfig(); err != nil {
		sendError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if d, ok := h.initiateGate.allow(w, r, h.logger); !ok {
		sendRateLimited(w, d, "Too many payment attempts. Please try again later.")
		return
	}

	var in validation.PaymentInput
	if err := decodeSanitized(r, &in); err != nil {
		h.logger.Warn("invalid initiation body", zap.Error(err))
		sendValidationError(w, "Invalid request data", validation.Errors{{Field: "body", Message: "Request body must be a JSON object"}})
		return
	}
	req, errs := validation.ValidatePaymentRequest(in, h.bounds)
	if len(errs) > 0 {
		h.logger.Info("payment request rejected",
			zap.Any("input", security.MaskSensitiveData(in)),
			zap.Strings("details", errs.Details()))
		sendValidationError(w, "Invalid request data", errs)
		return
	}

	session, err := h.paymentUC.Initiate(r.Context(), req)
	if err != nil {
		sendInternalError(w, err)
		return
	}

	sendSuccess(w, "STK Push initiated successfully", session)
}

// GetStatus handles GET /payment/status
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.statusGate.allow(w, r, h.logger); !ok {
		sendRateLimited(w, d, "Too many status check requests. Please try again later.")
		return
	}

	q, errs := validation.ValidateStatusQuery(
		r.URL.Query().Get("checkoutRequestId"),
		r.URL.Query().Get("merchantRequestId"))
	if len(errs) > 0 {
		sendValidationError(w, "Invalid request parameters", errs)
		return
	}

	status, err := h.paymentUC.GetStatus(r.Context(), q)
	if errors.Is(err, domain.ErrNotFound) {
		sendError(w, http.StatusNotFound, "Payment not found")
		return
	}
	if err != nil {
		h.logger.Error("payment status lookup failed", zap.Error(err))
		sendInternalError(w, err)
		return
	}

	sendSuccess(w, "", maskedStatus(status))
}

// UpdateStatus handles POST /payment/status. Callers are authenticated by
// the router.
func (h *PaymentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.statusGate.allow(w, r, h.logger); !ok {
		sendRateLimited(w, d, "Too many update requests. Please try again later.")
		return
	}

	var in validation.StatusUpdateInput
	if err := decodeSanitized(r, &in); err != nil {
		sendValidationError(w, "Invalid request parameters", validation.Errors{{Field: "body", Message: "Request body must be a JSON object"}})
		return
	}
	update, errs := validation.ValidateStatusUpdate(in)
	if len(errs) > 0 {
		sendValidationError(w, "Invalid request parameters", errs)
		return
	}

	status, err := h.paymentUC.UpdateStatus(r.Context(), update)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sendError(w, http.StatusNotFound, "Payment not found")
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		sendError(w, http.StatusConflict, "Invalid status transition")
		return
	case err != nil:
		h.logger.Error("payment status update failed", zap.Error(err))
		sendInternalError(w, err)
		return
	}

	sendSuccess(w, "Payment status updated successfully", maskedStatus(status))
}
