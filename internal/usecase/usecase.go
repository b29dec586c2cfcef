// internal/usecase/usecase.go
package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/metrics"
)

// Sources of a status change, as reported in events and metrics.
const (
	SourceInitiate = "initiate"
	SourceCallback = "callback"
	SourceAdmin    = "admin"
	SourceQuery    = "query"
	SourceExpiry   = "expiry"
)

// StatusNotifier pushes a changed session to live subscribers.
type StatusNotifier interface {
	Publish(p *domain.PaymentStatus)
}

type nopNotifier struct{}

func (nopNotifier) Publish(*domain.PaymentStatus) {}

// changeRecorder fans a status change out to the event stream, live
// subscribers and metrics. Publishing failures are logged, never returned.
type changeRecorder struct {
	publisher events.Publisher
	notifier  StatusNotifier
	logger    *zap.Logger
}

func newChangeRecorder(publisher events.Publisher, notifier StatusNotifier, logger *zap.Logger) changeRecorder {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return changeRecorder{publisher: publisher, notifier: notifier, logger: logger}
}

func (r changeRecorder) record(ctx context.Context, p *domain.PaymentStatus, previous domain.Status, source string) {
	metrics.StatusTransitions.WithLabelValues(string(p.Status), source).Inc()
	r.notifier.Publish(p)

	if err := r.publisher.StatusChanged(ctx, events.NewStatusChanged(p, previous, source)); err != nil {
		r.logger.Error("failed to publish status change",
			zap.String("checkout_request_id", p.CheckoutRequestID),
			zap.String("status", string(p.Status)),
			zap.Error(err))
	}
}
