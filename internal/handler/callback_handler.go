// internal/handler/callback_handler.go
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/usecase"
)

// SignatureHeader carries the hex HMAC-SHA256 of a callback body.
const SignatureHeader = "X-Callback-Signature"

var callbackMessages = map[usecase.CallbackOutcome]string{
	usecase.CallbackApplied:    "Callback processed",
	usecase.CallbackDuplicate:  "Callback processed",
	usecase.CallbackConflict:   "Callback processed",
	usecase.CallbackUnverified: "Callback received",
	usecase.CallbackMalformed:  "Invalid data",
	usecase.CallbackIncomplete: "Incomplete data",
	usecase.CallbackError:      "Callback received",
}

type CallbackHandler struct {
	callbackUC *usecase.CallbackUsecase
	gate       RateGate
	logger     *zap.Logger
}

func NewCallbackHandler(callbackUC *usecase.CallbackUsecase, gate RateGate, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbackUC: callbackUC,
		gate:       gate,
		logger:     logger,
	}
}

// HandleSTKCallback handles POST /payment/callback. The gateway always gets a
// 200 acknowledgement so it does not redeliver.
func (h *CallbackHandler) HandleSTKCallback(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while processing M-Pesa callback", zap.Any("panic", rec))
			sendCallbackAck(w, "Callback received")
		}
	}()

	h.logger.Info("received M-Pesa STK callback",
		zap.String("remote_addr", r.RemoteAddr))

	if _, ok := h.gate.allow(w, r, h.logger); !ok {
		sendCallbackAck(w, "Rate limited")
		return
	}

	payload, err := readBody(r)
	if err != nil {
		h.logger.Error("failed to read callback payload", zap.Error(err))
		sendCallbackAck(w, "Invalid data")
		return
	}

	outcome, err := h.callbackUC.Process(r.Context(), usecase.CallbackDelivery{
		Payload:   payload,
		Signature: r.Header.Get(SignatureHeader),
		Token:     r.URL.Query().Get("token"),
	})
	if err != nil {
		h.logger.Error("failed to process M-Pesa STK callback",
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}

	h.logger.Info("M-Pesa STK callback acknowledged", zap.String("outcome", string(outcome)))
	sendCallbackAck(w, callbackMessages[outcome])
}

// Liveness handles GET /payment/callback
func (h *CallbackHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "M-Pesa callback endpoint is active",
	})
}

func sendCallbackAck(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
	})
}
