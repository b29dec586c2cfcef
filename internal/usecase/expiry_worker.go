// internal/usecase/expiry_worker.go
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/provider"
	"github.com/ggbundi/Nomatoken/internal/repository"
)

const expiryBatchSize = 100

const expiredDesc = "Session expired without a result"

// ExpiryWorker resolves sessions whose callback never arrived. It asks the
// gateway first and expires the session once twice the TTL has passed. With
// incomplete M-Pesa credentials it skips the gateway and only expires.
type ExpiryWorker struct {
	cfg      config.SessionConfig
	missing  []string
	gateway  provider.Gateway
	payments repository.PaymentStatusRepository
	recorder changeRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewExpiryWorker(
	cfg config.SessionConfig,
	mpesa config.MpesaConfig,
	gateway provider.Gateway,
	payments repository.PaymentStatusRepository,
	publisher events.Publisher,
	notifier StatusNotifier,
	logger *zap.Logger,
) *ExpiryWorker {
	return &ExpiryWorker{
		cfg:      cfg,
		missing:  mpesa.Missing(),
		gateway:  gateway,
		payments: payments,
		recorder: newChangeRecorder(publisher, notifier, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on every interval until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	interval := w.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("session expiry worker started",
		zap.Duration("interval", interval),
		zap.Duration("ttl", w.cfg.TTL))
	if len(w.missing) > 0 {
		w.logger.Warn("M-Pesa configuration incomplete, overdue sessions expire without a status query",
			zap.String("missing", strings.Join(w.missing, ",")))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("session sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep resolves overdue pending sessions and prunes old unsuccessful ones. It
// returns the number of sessions it moved to a terminal status.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	overdue, err := w.payments.ListPending(ctx, now.Add(-w.cfg.TTL), expiryBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, p := range overdue {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if w.resolve(ctx, p, now) {
			resolved++
		}
	}

	if w.cfg.Retention > 0 {
		pruned, err := w.payments.PruneUnsuccessful(ctx, now.Add(-w.cfg.Retention))
		if err != nil {
			return resolved, err
		}
		if pruned > 0 {
			w.logger.Info("pruned unsuccessful sessions", zap.Int64("count", pruned))
		}
	}
	return resolved, nil
}

func (w *ExpiryWorker) resolve(ctx context.Context, p *domain.PaymentStatus, now time.Time) bool {
	log := w.logger.With(zap.String("checkout_request_id", p.CheckoutRequestID))

	var (
		source string
		apply  func(*domain.PaymentStatus) (bool, error)
	)
	res, err := w.query(ctx, p.CheckoutRequestID)
	switch {
	case err == nil:
		source = SourceQuery
		cb := &domain.CallbackResult{
			MerchantRequestID: res.MerchantRequestID,
			CheckoutRequestID: p.CheckoutRequestID,
			ResultCode:        res.ResultCode,
			ResultDesc:        res.ResultDesc,
		}
		apply = func(cur *domain.PaymentStatus) (bool, error) { return cur.ApplyCallback(cb, now) }
	case now.Sub(p.CreatedAt) >= 2*w.cfg.TTL:
		source = SourceExpiry
		log.Info("expiring unanswered session", zap.Error(err))
		apply = func(cur *domain.PaymentStatus) (bool, error) {
			return cur.Transition(domain.StatusExpired, expiredDesc, now)
		}
	default:
		log.Debug("session still unresolved", zap.Error(err))
		return false
	}

	var previous domain.Status
	updated, changed, err := w.payments.Mutate(ctx, p.CheckoutRequestID, nil, func(cur *domain.PaymentStatus) (bool, error) {
		previous = cur.Status
		if cur.Status != domain.StatusPending {
			return false, nil
		}
		return apply(cur)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error("failed to resolve session", zap.Error(err))
		}
		return false
	}
	if !changed {
		return false
	}

	log.Info("session resolved",
		zap.String("status", string(updated.Status)),
		zap.String("source", source))
	w.recorder.record(ctx, updated, previous, source)
	return true
}

func (w *ExpiryWorker) query(ctx context.Context, checkoutRequestID string) (*provider.QueryResult, error) {
	if len(w.missing) > 0 {
		return nil, ErrNotConfigured
	}
	return w.gateway.STKQuery(ctx, checkoutRequestID)
}
