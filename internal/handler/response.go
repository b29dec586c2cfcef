// internal/handler/response.go
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/validation"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

const maxBodySize = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func sendSuccess(w http.ResponseWriter, message string, data any) {
	resp := map[string]any{"success": true}
	if message != "" {
		resp["message"] = message
	}
	if data != nil {
		resp["data"] = data
	}
	writeJSON(w, http.StatusOK, resp)
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   message,
	})
}

func sendValidationError(w http.ResponseWriter, message string, errs validation.Errors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   message,
		"details": errs.Details(),
	})
}

// sendInternalError renders err through the allow-list; nothing upstream
// reaches the client verbatim.
func sendInternalError(w http.ResponseWriter, err error) {
	safe := security.SanitizeError(err)
	resp := map[string]any{
		"success": false,
		"error":   safe.Message,
	}
	if safe.Code != "" {
		resp["code"] = safe.Code
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodySize {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// decodeSanitized reads a JSON object, strips markup from every string in it
// and decodes the result into dst. Numbers keep their literal form.
func decodeSanitized(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	clean, err := json.Marshal(security.SanitizeRequestData(raw))
	if err != nil {
		return err
	}
	dec = json.NewDecoder(bytes.NewReader(clean))
	dec.UseNumber()
	return dec.Decode(dst)
}

// maskedStatus is the client view of a session: the phone number is partially
// hidden, the receipt stays readable for purchase completion.
func maskedStatus(p *domain.PaymentStatus) *domain.PaymentStatus {
	c := *p
	if c.PhoneNumber != "" {
		c.PhoneNumber = security.MaskPhone(c.PhoneNumber)
	}
	return &c
}
