// pkg/security/mask.go
package security

import (
	"encoding/json"
	"strings"
)

const Masked = "***MASKED***"

// phone-shaped fields keep a prefix and suffix so operators can still correlate logs.
var phoneFields = map[string]bool{
	"phonenumber": true,
	"phone":       true,
	"partya":      true,
	"msisdn":      true,
}

var secretFields = map[string]bool{
	"password":           true,
	"passkey":            true,
	"consumerkey":        true,
	"consumersecret":     true,
	"accesstoken":        true,
	"authorization":      true,
	"securitycredential": true,
	"mpesareceiptnumber": true,
}

func normalizeField(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// IsSensitiveField reports whether values under name must never reach a log line.
func IsSensitiveField(name string) bool {
	n := normalizeField(name)
	return phoneFields[n] || secretFields[n]
}

// MaskPhone keeps the first 3 and last 4 characters: 254712345678 -> 254****5678.
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return Masked
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}

// MaskSensitiveData returns a copy of v with every sensitive field masked, at any depth.
// Structs are walked through their JSON representation.
func MaskSensitiveData(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = maskField(k, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = MaskSensitiveData(val)
		}
		return out
	case string, bool, float64, int, int64, json.Number:
		return t
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Masked
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return Masked
		}
		return MaskSensitiveData(generic)
	}
}

func maskField(key string, val any) any {
	n := normalizeField(key)
	switch {
	case phoneFields[n]:
		if s, ok := scalarString(val); ok {
			return MaskPhone(s)
		}
		return Masked
	case secretFields[n]:
		return Masked
	default:
		return MaskSensitiveData(val)
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		raw, _ := json.Marshal(t)
		return string(raw), true
	}
	return "", false
}
