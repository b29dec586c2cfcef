package domain

import (
	"errors"
	"strings"
	"time"
)

const PaymentMethodMpesa = "mpesa"

var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrPurchaseExists      = errors.New("purchase already recorded")
	ErrPurchaseMismatch    = errors.New("purchase does not match the settled payment")
)

// PurchaseMismatchError lists the request fields that disagree with the
// payment being claimed. It matches ErrPurchaseMismatch under errors.Is.
type PurchaseMismatchError struct {
	Fields []string
}

func (e *PurchaseMismatchError) Error() string {
	return ErrPurchaseMismatch.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *PurchaseMismatchError) Is(target error) bool {
	return target == ErrPurchaseMismatch
}

// TokenPurchase records tokens granted against a settled M-Pesa payment.
type TokenPurchase struct {
	ID                 string    `json:"id"`
	PaymentMethod      string    `json:"paymentMethod"`
	USDAmount          float64   `json:"usdAmount"`
	TokenAmount        float64   `json:"tokenAmount"`
	TokenPrice         float64   `json:"tokenPrice"`
	PhoneNumber        string    `json:"phoneNumber"`
	MpesaReceiptNumber string    `json:"mpesaReceiptNumber"`
	CheckoutRequestID  string    `json:"checkoutRequestId"`
	MerchantRequestID  string    `json:"merchantRequestId"`
	UserAddress        string    `json:"userAddress,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"createdAt"`
}

// PurchaseRequest is a validated request to record a token purchase.
type PurchaseRequest struct {
	PaymentMethod      string
	Amount             float64
	PhoneNumber        string
	MpesaReceiptNumber string
	CheckoutRequestID  string
	MerchantRequestID  string
	UserAddress        string
}

// PurchaseQuery selects purchase history by wallet or by phone.
type PurchaseQuery struct {
	UserAddress string
	PhoneNumber string
}
