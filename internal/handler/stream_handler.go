// internal/handler/stream_handler.go
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/notifier"
	"github.com/ggbundi/Nomatoken/internal/usecase"
	"github.com/ggbundi/Nomatoken/internal/validation"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type streamMessage struct {
	Type string                `json:"type"`
	Data *domain.PaymentStatus `json:"data"`
}

type StreamHandler struct {
	paymentUC *usecase.PaymentUsecase
	hub       *notifier.Hub
	gate      RateGate
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewStreamHandler(paymentUC *usecase.PaymentUsecase, hub *notifier.Hub, gate RateGate, allowedOrigins []string, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		paymentUC: paymentUC,
		hub:       hub,
		gate:      gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Stream handles GET /payment/status/stream. It sends the current status and
// every later change, and closes after a terminal status.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if d, ok := h.gate.allow(w, r, h.logger); !ok {
		sendRateLimited(w, d, "Too many status check requests. Please try again later.")
		return
	}

	checkoutID := r.URL.Query().Get("checkoutRequestId")
	if !validation.ValidateCheckoutRequestID(checkoutID) {
		sendValidationError(w, "Invalid request parameters", validation.Errors{{Field: "checkoutRequestId", Message: "Invalid checkout request ID"}})
		return
	}

	updates, cancel := h.hub.Subscribe(checkoutID)
	defer cancel()

	current, err := h.paymentUC.GetStatus(r.Context(), domain.StatusQuery{CheckoutRequestID: checkoutID})
	if errors.Is(err, domain.ErrNotFound) {
		sendError(w, http.StatusNotFound, "Payment not found")
		return
	}
	if err != nil {
		sendInternalError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("checkout_request_id", checkoutID))
	log.Debug("status stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(p *domain.PaymentStatus) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(streamMessage{Type: "status", Data: maskedStatus(p)}); err != nil {
			log.Debug("status stream write failed", zap.Error(err))
			return false
		}
		if p.Status.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(p.Status)),
				time.Now().Add(writeWait))
			return false
		}
		return true
	}

	if !send(current) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case p := <-updates:
			if !send(p) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Debug("status stream closed by client")
			return
		case <-r.Context().Done():
			return
		}
	}
}
