// pkg/security/signature.go
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"
)

const mpesaTimestampLayout = "20060102150405"

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateCallbackSignature checks a hex HMAC-SHA256 signature in constant time.
func ValidateCallbackSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ConstantTimeEqual compares two shared secrets without leaking their length of match.
func ConstantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MpesaTimestamp formats t the way the gateway expects (YYYYMMDDHHmmss, local clock).
func MpesaTimestamp(t time.Time) string {
	return t.Format(mpesaTimestampLayout)
}

// MpesaPassword derives the STK push password for a shortcode, passkey and timestamp.
func MpesaPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
