package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

var ErrAlreadyExists = errors.New("record already exists")

// MemoryPaymentStatusRepo keeps sessions in process memory. It is used when no
// database is configured and in tests.
type MemoryPaymentStatusRepo struct {
	mu      sync.Mutex
	records map[string]*domain.PaymentStatus
}

func NewMemoryPaymentStatusRepo() *MemoryPaymentStatusRepo {
	return &MemoryPaymentStatusRepo{records: make(map[string]*domain.PaymentStatus)}
}

func clonePayment(p *domain.PaymentStatus) *domain.PaymentStatus {
	c := *p
	if p.ResultCode != nil {
		code := *p.ResultCode
		c.ResultCode = &code
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (r *MemoryPaymentStatusRepo) Create(_ context.Context, p *domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[p.CheckoutRequestID]; ok {
		return ErrAlreadyExists
	}
	r.records[p.CheckoutRequestID] = clonePayment(p)
	return nil
}

func (r *MemoryPaymentStatusRepo) Get(_ context.Context, checkoutRequestID string) (*domain.PaymentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.records[checkoutRequestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayment(p), nil
}

func (r *MemoryPaymentStatusRepo) GetByMerchantRequestID(_ context.Context, merchantRequestID string) (*domain.PaymentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.records {
		if p.MerchantRequestID == merchantRequestID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryPaymentStatusRepo) Mutate(_ context.Context, checkoutRequestID string, seed func() *domain.PaymentStatus, fn MutateFunc) (*domain.PaymentStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[checkoutRequestID]
	if !ok {
		if seed == nil {
			return nil, false, domain.ErrNotFound
		}
		current = seed()
	}

	working := clonePayment(current)
	changed, err := fn(working)
	if err != nil {
		return clonePayment(current), false, err
	}
	changed = changed || !ok
	if changed {
		r.records[checkoutRequestID] = working
	}
	return clonePayment(working), changed, nil
}

func (r *MemoryPaymentStatusRepo) ListPending(_ context.Context, cutoff time.Time, limit int) ([]*domain.PaymentStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.PaymentStatus
	for _, p := range r.records {
		if p.Status == domain.StatusPending && p.CreatedAt.Before(cutoff) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryPaymentStatusRepo) PruneUnsuccessful(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, p := range r.records {
		if p.Status.IsUnsuccessful() && p.UpdatedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// MemoryPurchaseRepo keeps token purchases in process memory.
type MemoryPurchaseRepo struct {
	mu        sync.Mutex
	byReceipt map[string]*domain.TokenPurchase
	order     []string
}

func NewMemoryPurchaseRepo() *MemoryPurchaseRepo {
	return &MemoryPurchaseRepo{byReceipt: make(map[string]*domain.TokenPurchase)}
}

func (r *MemoryPurchaseRepo) Create(_ context.Context, p *domain.TokenPurchase) (*domain.TokenPurchase, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byReceipt[p.MpesaReceiptNumber]; ok {
		c := *existing
		return &c, false, nil
	}
	stored := *p
	r.byReceipt[p.MpesaReceiptNumber] = &stored
	r.order = append(r.order, p.MpesaReceiptNumber)
	c := stored
	return &c, true, nil
}

func (r *MemoryPurchaseRepo) GetByReceipt(_ context.Context, receipt string) (*domain.TokenPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byReceipt[receipt]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

// List returns matching purchases, newest first.
func (r *MemoryPurchaseRepo) List(_ context.Context, q domain.PurchaseQuery, limit int) ([]*domain.TokenPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.TokenPurchase
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.byReceipt[r.order[i]]
		if q.UserAddress != "" && p.UserAddress != q.UserAddress {
			continue
		}
		if q.PhoneNumber != "" && p.PhoneNumber != q.PhoneNumber {
			continue
		}
		c := *p
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
