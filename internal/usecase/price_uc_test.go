package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ggbundi/Nomatoken/internal/provider/pricefeed"
)

type stubSource struct {
	name   string
	quotes map[string]float64
	err    error

	mu    sync.Mutex
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, symbols []string) (map[string]pricefeed.Quote, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]pricefeed.Quote)
	for _, sym := range symbols {
		if p, ok := s.quotes[sym]; ok {
			out[sym] = pricefeed.Quote{Symbol: sym, Price: p, Source: s.name, UpdatedAt: testNow}
		}
	}
	return out, nil
}

func TestPriceServiceFallbackChain(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("rate limited")}
	fallback := &stubSource{name: "fallback", quotes: map[string]float64{pricefeed.BNB: 610}}
	static := &stubSource{name: "static", quotes: map[string]float64{pricefeed.BNB: 300, pricefeed.USDC: 1, pricefeed.USDT: 1}}

	s := NewPriceService(time.Minute, zaptest.NewLogger(t), primary, fallback, static)
	s.now = fixedClock(testNow)

	got := s.Prices(context.Background(), nil)
	if got[pricefeed.BNB].Price != 610 || got[pricefeed.BNB].Source != "fallback" {
		t.Fatalf("BNB = %+v", got[pricefeed.BNB])
	}
	if got[pricefeed.USDC].Source != "static" || got[pricefeed.USDT].Price != 1 {
		t.Fatalf("stablecoins = %+v", got)
	}
}

func TestPriceServiceCache(t *testing.T) {
	src := &stubSource{name: "primary", quotes: map[string]float64{pricefeed.BNB: 600, pricefeed.USDT: 1}}
	s := NewPriceService(time.Minute, zaptest.NewLogger(t), src)
	now := testNow
	s.now = func() time.Time { return now }

	s.Prices(context.Background(), []string{"bnb"})
	s.Prices(context.Background(), []string{"BNB", "DOGE"})
	if src.calls != 1 {
		t.Fatalf("calls within ttl = %d", src.calls)
	}

	now = now.Add(time.Minute)
	got := s.Prices(context.Background(), []string{"BNB"})
	if src.calls != 2 || len(got) != 1 {
		t.Fatalf("calls after ttl = %d, quotes = %+v", src.calls, got)
	}
}
