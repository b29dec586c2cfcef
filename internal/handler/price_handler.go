package handler

import (
	"net/http"
	"strings"

	"github.com/ggbundi/Nomatoken/internal/usecase"
)

type PriceHandler struct {
	prices     *usecase.PriceService
	tokenPrice float64
}

func NewPriceHandler(prices *usecase.PriceService, tokenPrice float64) *PriceHandler {
	return &PriceHandler{prices: prices, tokenPrice: tokenPrice}
}

// GetPrices handles GET /prices?symbols=BNB,USDT
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbols = strings.Split(raw, ",")
	}

	sendSuccess(w, "", map[string]any{
		"tokenPrice": h.tokenPrice,
		"prices":     h.prices.Prices(r.Context(), symbols),
	})
}
