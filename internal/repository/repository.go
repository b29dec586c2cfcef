// internal/repository/repository.go
package repository

import (
	"context"
	"time"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

// MutateFunc edits a record in place and reports whether it changed.
type MutateFunc func(p *domain.PaymentStatus) (bool, error)

type PaymentStatusRepository interface {
	// Create stores a new record. It returns ErrAlreadyExists when the
	// checkout request is already known.
	Create(ctx context.Context, p *domain.PaymentStatus) error
	Get(ctx context.Context, checkoutRequestID string) (*domain.PaymentStatus, error)
	GetByMerchantRequestID(ctx context.Context, merchantRequestID string) (*domain.PaymentStatus, error)

	// Mutate applies fn to the record for checkoutRequestID atomically. When
	// the record does not exist and seed is non-nil, seed() is stored first and
	// the call reports a change even when fn leaves the seed as is.
	// The returned record is the state after fn.
	Mutate(ctx context.Context, checkoutRequestID string, seed func() *domain.PaymentStatus, fn MutateFunc) (*domain.PaymentStatus, bool, error)

	// ListPending returns pending sessions created before cutoff, oldest first.
	ListPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentStatus, error)

	// PruneUnsuccessful deletes failed, expired and cancelled records last
	// updated before cutoff. Completed payments are kept so they can still be
	// claimed as token purchases.
	PruneUnsuccessful(ctx context.Context, cutoff time.Time) (int64, error)
}

type PurchaseRepository interface {
	// Create stores p unless a purchase with the same receipt exists, in which
	// case the stored purchase is returned with created == false.
	Create(ctx context.Context, p *domain.TokenPurchase) (stored *domain.TokenPurchase, created bool, err error)
	GetByReceipt(ctx context.Context, receipt string) (*domain.TokenPurchase, error)
	List(ctx context.Context, q domain.PurchaseQuery, limit int) ([]*domain.TokenPurchase, error)
}
