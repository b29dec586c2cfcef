package poller

import (
	"context"
	"time"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

// StatusFetcher reads the current status of a checkout session.
type StatusFetcher interface {
	Status(ctx context.Context, checkoutRequestID string) (*domain.PaymentStatus, error)
}

type Options struct {
	// InitialDelay gives the customer time to answer the prompt before the
	// first query.
	InitialDelay time.Duration
	Interval     time.Duration
	// Timeout is measured from the end of InitialDelay.
	Timeout time.Duration
	// OnCheck, when set, sees every successful status read.
	OnCheck func(*domain.PaymentStatus)
}

func DefaultOptions() Options {
	return Options{
		InitialDelay: 5 * time.Second,
		Interval:     3 * time.Second,
		Timeout:      120 * time.Second,
	}
}

// Poll waits for checkoutRequestID to leave pending. It returns the first
// non-pending status, or nil with a nil error once Timeout passes. Failed
// reads count as still pending. Only one read is in flight at a time.
func Poll(ctx context.Context, f StatusFetcher, checkoutRequestID string, opts Options) (*domain.PaymentStatus, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}

	if err := sleep(ctx, opts.InitialDelay); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(opts.Timeout)

	for {
		status, err := f.Status(ctx, checkoutRequestID)
		if err == nil {
			if opts.OnCheck != nil {
				opts.OnCheck(status)
			}
			if status.Status != domain.StatusPending {
				return status, nil
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := opts.Interval
		if wait > remaining {
			wait = remaining
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
