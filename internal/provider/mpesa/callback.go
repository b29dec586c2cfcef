package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

// ErrMalformedCallback is returned for payloads that are not an STK callback.
var ErrMalformedCallback = errors.New("malformed stk callback")

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// STKCallbackRequest is the envelope the gateway posts to the callback URL.
type STKCallbackRequest struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID *string         `json:"MerchantRequestID"`
			CheckoutRequestID *string         `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback validates the envelope shape and converts the metadata
// item list into a typed record. Unknown item names are ignored.
func ParseSTKCallback(payload []byte) (*domain.CallbackResult, error) {
	var envelope STKCallbackRequest
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if envelope.Body == nil || envelope.Body.StkCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	cb := envelope.Body.StkCallback
	if cb.MerchantRequestID == nil || cb.CheckoutRequestID == nil {
		return nil, fmt.Errorf("%w: missing request identifiers", ErrMalformedCallback)
	}
	code, err := parseResultCode(cb.ResultCode)
	if err != nil {
		return nil, err
	}

	result := &domain.CallbackResult{
		MerchantRequestID: *cb.MerchantRequestID,
		CheckoutRequestID: *cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}

	if cb.CallbackMetadata != nil {
		md := &domain.CallbackMetadata{}
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if v, err := strconv.ParseFloat(scalar(item.Value), 64); err == nil {
					md.Amount = v
				}
			case "MpesaReceiptNumber":
				md.MpesaReceiptNumber = scalar(item.Value)
			case "TransactionDate":
				md.TransactionDate = scalar(item.Value)
			case "PhoneNumber":
				md.PhoneNumber = scalar(item.Value)
			}
		}
		result.Metadata = md
	}

	return result, nil
}

func parseResultCode(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || string(raw) == "null" {
		return 0, fmt.Errorf("%w: ResultCode must be a number", ErrMalformedCallback)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: ResultCode must be a number", ErrMalformedCallback)
	}
	code, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: ResultCode must be an integer", ErrMalformedCallback)
	}
	return int(code), nil
}

// scalar renders a string or number item value as text. Numbers keep their
// literal form, so 254712345678 does not turn into 2.54712345678e+11.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
