// internal/events/events.go
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

const (
	TypeStatusChanged     = "payment.status.changed"
	TypePurchaseCompleted = "token.purchase.completed"
)

// Envelope wraps every published event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// StatusChanged is emitted whenever a session moves to a new status.
type StatusChanged struct {
	CheckoutRequestID  string        `json:"checkoutRequestId"`
	MerchantRequestID  string        `json:"merchantRequestId"`
	Status             domain.Status `json:"status"`
	PreviousStatus     domain.Status `json:"previousStatus,omitempty"`
	Amount             float64       `json:"amount,omitempty"`
	MpesaReceiptNumber string        `json:"mpesaReceiptNumber,omitempty"`
	PhoneNumber        string        `json:"phoneNumber,omitempty"`
	ResultCode         *int          `json:"resultCode,omitempty"`
	Source             string        `json:"source"`
}

func NewStatusChanged(p *domain.PaymentStatus, previous domain.Status, source string) StatusChanged {
	var phone string
	if p.PhoneNumber != "" {
		phone = security.MaskPhone(p.PhoneNumber)
	}
	return StatusChanged{
		CheckoutRequestID:  p.CheckoutRequestID,
		MerchantRequestID:  p.MerchantRequestID,
		Status:             p.Status,
		PreviousStatus:     previous,
		Amount:             p.Amount,
		MpesaReceiptNumber: p.MpesaReceiptNumber,
		PhoneNumber:        phone,
		ResultCode:         p.ResultCode,
		Source:             source,
	}
}

// PurchaseCompleted is emitted once per recorded token purchase.
type PurchaseCompleted struct {
	PurchaseID         string  `json:"purchaseId"`
	CheckoutRequestID  string  `json:"checkoutRequestId"`
	MpesaReceiptNumber string  `json:"mpesaReceiptNumber"`
	USDAmount          float64 `json:"usdAmount"`
	TokenAmount        float64 `json:"tokenAmount"`
	TokenPrice         float64 `json:"tokenPrice"`
	UserAddress        string  `json:"userAddress,omitempty"`
}

func NewPurchaseCompleted(p *domain.TokenPurchase) PurchaseCompleted {
	return PurchaseCompleted{
		PurchaseID:         p.ID,
		CheckoutRequestID:  p.CheckoutRequestID,
		MpesaReceiptNumber: p.MpesaReceiptNumber,
		USDAmount:          p.USDAmount,
		TokenAmount:        p.TokenAmount,
		TokenPrice:         p.TokenPrice,
		UserAddress:        p.UserAddress,
	}
}

func newEnvelope(eventType string, data any) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	StatusChanged(ctx context.Context, e StatusChanged) error
	PurchaseCompleted(ctx context.Context, e PurchaseCompleted) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) StatusChanged(context.Context, StatusChanged) error         { return nil }
func (NopPublisher) PurchaseCompleted(context.Context, PurchaseCompleted) error { return nil }
func (NopPublisher) Close() error                                               { return nil }
