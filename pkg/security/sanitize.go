package security

import (
	"errors"
	"strings"
)

const GenericErrorMessage = "Payment processing failed. Please try again."

// safeMessages are the only error phrases allowed to reach a client.
var safeMessages = []string{
	"Invalid phone number",
	"Invalid amount",
	"Payment failed",
	"Payment timeout",
	"Insufficient funds",
	"Transaction cancelled",
	"Network error",
}

var stripper = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "&", "")

// SanitizeString removes markup and quoting characters.
func SanitizeString(s string) string {
	return stripper.Replace(s)
}

// SanitizeRequestData strips markup characters from every string leaf of v.
func SanitizeRequestData(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = SanitizeRequestData(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = SanitizeRequestData(val)
		}
		return out
	default:
		return v
	}
}

// SafeError is the client-facing rendering of an internal error.
type SafeError struct {
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

type coder interface {
	Code() string
}

// SanitizeError maps err onto an allow-listed phrase, or the generic message.
func SanitizeError(err error) SafeError {
	if err == nil {
		return SafeError{Message: GenericErrorMessage}
	}

	var code string
	var c coder
	if errors.As(err, &c) {
		code = c.Code()
	}

	msg := strings.ToLower(err.Error())
	for _, safe := range safeMessages {
		if strings.Contains(msg, strings.ToLower(safe)) {
			return SafeError{Message: safe, Code: code}
		}
	}
	return SafeError{Message: GenericErrorMessage, Code: code}
}
