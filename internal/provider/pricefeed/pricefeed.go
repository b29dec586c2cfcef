// internal/provider/pricefeed/pricefeed.go
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Supported symbols.
const (
	BNB  = "BNB"
	USDC = "USDC"
	USDT = "USDT"
)

var Symbols = []string{BNB, USDC, USDT}

var ErrUnavailable = errors.New("price feed unavailable")

// Quote is a USD price for one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change24h"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"lastUpdated"`
}

// Source fetches quotes. It may return fewer symbols than asked for.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) (map[string]Quote, error)
}

func IsSupported(symbol string) bool {
	for _, s := range Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

var coinGeckoIDs = map[string]string{
	BNB:  "binancecoin",
	USDC: "usd-coin",
	USDT: "tether",
}

// CoinGecko reads the simple price endpoint.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewCoinGecko(baseURL string) *CoinGecko {
	return &CoinGecko{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(), now: time.Now}
}

func (c *CoinGecko) Name() string { return "coingecko" }

func (c *CoinGecko) Fetch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	var ids []string
	for _, s := range symbols {
		if id, ok := coinGeckoIDs[s]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]Quote{}, nil
	}

	var data map[string]struct {
		USD       float64 `json:"usd"`
		USD24hChg float64 `json:"usd_24h_change"`
	}
	url := c.baseURL + "/simple/price?ids=" + strings.Join(ids, ",") + "&vs_currencies=usd&include_24hr_change=true"
	if err := getJSON(ctx, c.client, url, &data); err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}

	now := c.now()
	out := make(map[string]Quote, len(symbols))
	for _, s := range symbols {
		d, ok := data[coinGeckoIDs[s]]
		if !ok || d.USD <= 0 {
			continue
		}
		out[s] = Quote{Symbol: s, Price: d.USD, Change24h: d.USD24hChg, Source: c.Name(), UpdatedAt: now}
	}
	return out, nil
}

// Binance reads the 24h ticker for BNB and pins stablecoins to one dollar.
type Binance struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewBinance(baseURL string) *Binance {
	return &Binance{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(), now: time.Now}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Fetch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	now := b.now()
	out := make(map[string]Quote, len(symbols))
	for _, s := range symbols {
		switch s {
		case USDC, USDT:
			out[s] = Quote{Symbol: s, Price: 1.0, Source: b.Name(), UpdatedAt: now}
		case BNB:
			var ticker struct {
				LastPrice          string `json:"lastPrice"`
				PriceChangePercent string `json:"priceChangePercent"`
			}
			if err := getJSON(ctx, b.client, b.baseURL+"/ticker/24hr?symbol=BNBUSDT", &ticker); err != nil {
				return out, fmt.Errorf("binance: %w", err)
			}
			price, err := strconv.ParseFloat(ticker.LastPrice, 64)
			if err != nil || price <= 0 {
				return out, fmt.Errorf("binance: %w: bad lastPrice %q", ErrUnavailable, ticker.LastPrice)
			}
			change, _ := strconv.ParseFloat(ticker.PriceChangePercent, 64)
			out[s] = Quote{Symbol: s, Price: price, Change24h: change, Source: b.Name(), UpdatedAt: now}
		}
	}
	return out, nil
}

// Static returns fixed prices and never fails.
type Static struct {
	now func() time.Time
}

func NewStatic() *Static {
	return &Static{now: time.Now}
}

var staticPrices = map[string]float64{
	BNB:  300,
	USDC: 1.0,
	USDT: 1.0,
}

func (s *Static) Name() string { return "static" }

func (s *Static) Fetch(_ context.Context, symbols []string) (map[string]Quote, error) {
	now := s.now()
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		if p, ok := staticPrices[sym]; ok {
			out[sym] = Quote{Symbol: sym, Price: p, Source: s.Name(), UpdatedAt: now}
		}
	}
	return out, nil
}
