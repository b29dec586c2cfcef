// internal/notifier/hub.go
package notifier

import (
	"sync"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/metrics"
)

const subscriberBuffer = 4

// Hub fans status changes out to subscribers of one checkout request. It is
// process local: subscribers only see changes applied by this instance.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan *domain.PaymentStatus]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan *domain.PaymentStatus]struct{})}
}

// Subscribe registers interest in checkoutRequestID. The returned cancel
// function must be called once the subscriber is done.
func (h *Hub) Subscribe(checkoutRequestID string) (<-chan *domain.PaymentStatus, func()) {
	ch := make(chan *domain.PaymentStatus, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[checkoutRequestID]
	if !ok {
		set = make(map[chan *domain.PaymentStatus]struct{})
		h.subs[checkoutRequestID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	metrics.StreamSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[checkoutRequestID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, checkoutRequestID)
				}
			}
			h.mu.Unlock()
			metrics.StreamSubscribers.Dec()
		})
	}
	return ch, cancel
}

// Publish delivers p to every subscriber of its checkout request. Slow
// subscribers miss intermediate updates rather than blocking the caller.
func (h *Hub) Publish(p *domain.PaymentStatus) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[p.CheckoutRequestID] {
		snapshot := *p
		select {
		case ch <- &snapshot:
		default:
		}
	}
}

// Subscribers is the number of open subscriptions for checkoutRequestID.
func (h *Hub) Subscribers(checkoutRequestID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[checkoutRequestID])
}
