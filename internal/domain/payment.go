// internal/domain/payment.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a checkout session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Result codes the gateway uses for outcomes we map to something other than "failed".
const (
	ResultCodeSuccess     = 0
	ResultCodeCancelled   = 1032
	ResultCodeUnreachable = 1037
)

const (
	DefaultAccountReference = "NomaToken"
	MaxAccountReferenceLen  = 12
)

var (
	ErrInvalidStatus     = errors.New("invalid payment status")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrNotFound          = errors.New("payment not found")
)

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s.Valid() && s != StatusPending
}

// IsUnsuccessful reports a terminal status that moved no money.
func (s Status) IsUnsuccessful() bool {
	return s.IsTerminal() && s != StatusCompleted
}

// CanTransitionTo reports whether a session in s may move to next.
// Pending moves anywhere; terminal states only accept themselves.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == StatusPending {
		return true
	}
	return s == next
}

// PaymentRequest is a validated STK push request.
type PaymentRequest struct {
	PhoneNumber      string  `json:"phoneNumber"`
	Amount           float64 `json:"amount"`
	AccountReference string  `json:"accountReference"`
}

// CheckoutSession is the correlation handle the gateway returns for a push.
type CheckoutSession struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// CallbackMetadata holds the settled-payment fields of a successful callback.
type CallbackMetadata struct {
	Amount             float64 `json:"amount"`
	MpesaReceiptNumber string  `json:"mpesaReceiptNumber"`
	TransactionDate    string  `json:"transactionDate"`
	PhoneNumber        string  `json:"phoneNumber"`
}

// Complete reports whether the metadata carries everything a completed payment needs.
func (m *CallbackMetadata) Complete() bool {
	return m != nil && m.Amount > 0 && m.MpesaReceiptNumber != "" && m.PhoneNumber != ""
}

// CallbackResult is the parsed outcome of an asynchronous gateway callback.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          *CallbackMetadata
}

func (c *CallbackResult) Succeeded() bool {
	return c.ResultCode == ResultCodeSuccess
}

// Status maps the gateway result code onto a session status.
func (c *CallbackResult) Status() Status {
	return StatusForResultCode(c.ResultCode)
}

func StatusForResultCode(code int) Status {
	switch code {
	case ResultCodeSuccess:
		return StatusCompleted
	case ResultCodeCancelled:
		return StatusCancelled
	case ResultCodeUnreachable:
		return StatusExpired
	default:
		return StatusFailed
	}
}

// PaymentStatus is the read model for a checkout session, keyed by CheckoutRequestID.
type PaymentStatus struct {
	CheckoutRequestID  string     `json:"checkoutRequestId"`
	MerchantRequestID  string     `json:"merchantRequestId"`
	Status             Status     `json:"status"`
	Amount             float64    `json:"amount,omitempty"`
	MpesaReceiptNumber string     `json:"mpesaReceiptNumber,omitempty"`
	TransactionDate    string     `json:"transactionDate,omitempty"`
	PhoneNumber        string     `json:"phoneNumber,omitempty"`
	AccountReference   string     `json:"accountReference,omitempty"`
	ResultCode         *int       `json:"resultCode,omitempty"`
	ResultDesc         string     `json:"resultDesc,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// NewPendingStatus builds the record written right after a successful push.
func NewPendingStatus(session CheckoutSession, req PaymentRequest, now time.Time) *PaymentStatus {
	return &PaymentStatus{
		CheckoutRequestID: session.CheckoutRequestID,
		MerchantRequestID: session.MerchantRequestID,
		Status:            StatusPending,
		Amount:            req.Amount,
		PhoneNumber:       req.PhoneNumber,
		AccountReference:  req.AccountReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// StatusFromCallback builds the record a callback would produce for an unseen session.
func StatusFromCallback(res *CallbackResult, now time.Time) *PaymentStatus {
	return &PaymentStatus{
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ApplyCallback folds a callback result into p. It returns false when the
// callback is a duplicate of the state already recorded. A session completed
// from a gateway query has no receipt yet; the late callback fills it in.
func (p *PaymentStatus) ApplyCallback(res *CallbackResult, now time.Time) (bool, error) {
	next := res.Status()
	if p.Status == next {
		if next != StatusCompleted || p.MpesaReceiptNumber != "" || !res.Metadata.Complete() {
			return false, nil
		}
	} else if !p.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}

	code := res.ResultCode
	p.Status = next
	p.ResultCode = &code
	p.ResultDesc = res.ResultDesc
	if p.MerchantRequestID == "" {
		p.MerchantRequestID = res.MerchantRequestID
	}
	if md := res.Metadata; md != nil {
		if md.Amount > 0 {
			p.Amount = md.Amount
		}
		if md.MpesaReceiptNumber != "" {
			p.MpesaReceiptNumber = md.MpesaReceiptNumber
		}
		if md.TransactionDate != "" {
			p.TransactionDate = md.TransactionDate
		}
		if md.PhoneNumber != "" {
			p.PhoneNumber = md.PhoneNumber
		}
	}
	p.touch(now)
	return true, nil
}

// Transition moves p to next, as an operator or the expiry worker would.
func (p *PaymentStatus) Transition(next Status, resultDesc string, now time.Time) (bool, error) {
	if p.Status == next {
		return false, nil
	}
	if !p.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	if resultDesc != "" {
		p.ResultDesc = resultDesc
	}
	p.touch(now)
	return true, nil
}

func (p *PaymentStatus) touch(now time.Time) {
	p.UpdatedAt = now
	if p.Status.IsTerminal() && p.CompletedAt == nil {
		t := now
		p.CompletedAt = &t
	}
}

// StatusQuery addresses a session by either of its gateway identifiers.
type StatusQuery struct {
	CheckoutRequestID string
	MerchantRequestID string
}

// StatusUpdate is an operator-driven change to a session.
type StatusUpdate struct {
	CheckoutRequestID  string
	MerchantRequestID  string
	Status             Status
	ResultDesc         string
	MpesaReceiptNumber string
}
