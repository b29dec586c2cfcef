// internal/usecase/price_uc.go
package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ggbundi/Nomatoken/internal/metrics"
	"github.com/ggbundi/Nomatoken/internal/provider/pricefeed"
)

// PriceService caches USD quotes for the supported symbols. Misses are filled
// from each source in order until every symbol has a quote.
type PriceService struct {
	sources []pricefeed.Source
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]pricefeed.Quote
}

func NewPriceService(ttl time.Duration, logger *zap.Logger, sources ...pricefeed.Source) *PriceService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceService{
		sources: sources,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]pricefeed.Quote, len(pricefeed.Symbols)),
	}
}

// Prices returns quotes for the requested symbols. Unsupported symbols are
// dropped; an empty request means every supported symbol.
func (s *PriceService) Prices(ctx context.Context, symbols []string) map[string]pricefeed.Quote {
	symbols = normalizeSymbols(symbols)
	out := make(map[string]pricefeed.Quote, len(symbols))

	var stale []string
	s.mu.RLock()
	now := s.now()
	for _, sym := range symbols {
		if q, ok := s.cache[sym]; ok && now.Sub(q.UpdatedAt) < s.ttl {
			out[sym] = q
		} else {
			stale = append(stale, sym)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return out
	}

	v, _, _ := s.group.Do(strings.Join(stale, ","), func() (any, error) {
		return s.refill(ctx, stale), nil
	})
	for sym, q := range v.(map[string]pricefeed.Quote) {
		out[sym] = q
	}
	return out
}

func (s *PriceService) refill(ctx context.Context, symbols []string) map[string]pricefeed.Quote {
	fetched := make(map[string]pricefeed.Quote, len(symbols))
	missing := symbols

	for _, src := range s.sources {
		if len(missing) == 0 {
			break
		}
		quotes, err := src.Fetch(ctx, missing)
		if err != nil {
			s.logger.Warn("price source failed",
				zap.String("source", src.Name()),
				zap.Strings("symbols", missing),
				zap.Error(err))
		}
		var next []string
		for _, sym := range missing {
			if q, ok := quotes[sym]; ok && q.Price > 0 {
				fetched[sym] = q
				metrics.PriceSourceUsed.WithLabelValues(src.Name()).Inc()
			} else {
				next = append(next, sym)
			}
		}
		missing = next
	}

	s.mu.Lock()
	for sym, q := range fetched {
		s.cache[sym] = q
	}
	s.mu.Unlock()
	return fetched
}

func normalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return append([]string(nil), pricefeed.Symbols...)
	}
	seen := make(map[string]bool, len(symbols))
	var out []string
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if pricefeed.IsSupported(sym) && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
