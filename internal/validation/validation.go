// internal/validation/validation.go
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

var (
	phoneStrip     = regexp.MustCompile(`[\s\-+]`)
	phonePattern   = regexp.MustCompile(`^(254|0)\d{9}$`)
	receiptPattern = regexp.MustCompile(`^[A-Z0-9]+$`)
	referenceStrip = regexp.MustCompile(`[^A-Za-z0-9 ]`)
)

const (
	checkoutIDPrefix    = "ws_CO_"
	minCheckoutIDLen    = 10
	minMerchantIDLen    = 5
	minReceiptLen       = 8
	maxReceiptLen       = 15
	DefaultMinAmount    = 10.0
	DefaultMaxAmount    = 10000.0
	msgInvalidPhone     = "Invalid phone number format. Use 254XXXXXXXXX or 0XXXXXXXXX"
	msgInvalidAmount    = "Invalid amount"
	msgInvalidReceipt   = "Invalid M-Pesa receipt number"
	msgInvalidCheckout  = "Invalid checkout request ID"
	msgInvalidMerchant  = "Invalid merchant request ID"
	msgRequiredIdentity = "checkoutRequestId or merchantRequestId is required"
)

// FieldError is one failed rule, rendered as "field: message".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// Errors collects every failed rule of one request.
type Errors []FieldError

func (e *Errors) Add(field, message string) {
	*e = append(*e, FieldError{Field: field, Message: message})
}

// Details renders the errors for a 400 response body.
func (e Errors) Details() []string {
	out := make([]string, len(e))
	for i, fe := range e {
		out[i] = fe.String()
	}
	return out
}

func (e Errors) Error() string {
	return "validation failed: " + strings.Join(e.Details(), "; ")
}

// Bounds is the inclusive purchase amount range.
type Bounds struct {
	Min float64
	Max float64
}

func DefaultBounds() Bounds {
	return Bounds{Min: DefaultMinAmount, Max: DefaultMaxAmount}
}

type PhoneResult struct {
	IsValid   bool
	Formatted string
	Error     string
}

// ValidatePhoneNumber accepts 0XXXXXXXXX or 254XXXXXXXXX (spaces, hyphens and
// plus signs ignored) and returns the canonical 254XXXXXXXXX form.
func ValidatePhoneNumber(raw string) PhoneResult {
	cleaned := phoneStrip.ReplaceAllString(raw, "")
	if !phonePattern.MatchString(cleaned) {
		return PhoneResult{Error: msgInvalidPhone}
	}
	if strings.HasPrefix(cleaned, "0") {
		cleaned = "254" + cleaned[1:]
	}
	return PhoneResult{IsValid: true, Formatted: cleaned}
}

type AmountResult struct {
	IsValid bool
	Value   float64
	Error   string
}

// ValidateAmount accepts numbers or numeric strings within b.
func ValidateAmount(raw any, b Bounds) AmountResult {
	v, ok := toFloat(raw)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return AmountResult{Error: msgInvalidAmount}
	}
	if v < b.Min {
		return AmountResult{Error: fmt.Sprintf("Minimum purchase amount is %s", formatAmount(b.Min))}
	}
	if v > b.Max {
		return AmountResult{Error: fmt.Sprintf("Maximum purchase amount is %s", formatAmount(b.Max))}
	}
	return AmountResult{IsValid: true, Value: v}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(raw any) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		v, err := t.Float64()
		return v, err == nil
	case string:
		v, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return v, err == nil
	}
	return 0, false
}

// NormalizeAccountReference strips punctuation, defaults empty references and
// truncates to the gateway's 12 character limit.
func NormalizeAccountReference(raw string) string {
	ref := strings.TrimSpace(referenceStrip.ReplaceAllString(raw, ""))
	if ref == "" {
		return domain.DefaultAccountReference
	}
	if r := []rune(ref); len(r) > domain.MaxAccountReferenceLen {
		ref = strings.TrimSpace(string(r[:domain.MaxAccountReferenceLen]))
	}
	return ref
}

func ValidateReceiptNumber(receipt string) bool {
	return len(receipt) >= minReceiptLen && len(receipt) <= maxReceiptLen && receiptPattern.MatchString(receipt)
}

func ValidateCheckoutRequestID(id string) bool {
	return len(id) >= minCheckoutIDLen && strings.HasPrefix(id, checkoutIDPrefix)
}

func ValidateMerchantRequestID(id string) bool {
	return len(id) >= minMerchantIDLen
}
