// internal/repository/payment_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

const paymentColumns = `
	checkout_request_id, merchant_request_id, status, amount,
	mpesa_receipt_number, transaction_date, phone_number, account_reference,
	result_code, result_desc, created_at, updated_at, completed_at`

type paymentStatusRepo struct {
	db *pgxpool.Pool
}

func NewPaymentStatusRepository(db *pgxpool.Pool) PaymentStatusRepository {
	return &paymentStatusRepo{db: db}
}

func scanPayment(row pgx.Row) (*domain.PaymentStatus, error) {
	var p domain.PaymentStatus
	err := row.Scan(
		&p.CheckoutRequestID,
		&p.MerchantRequestID,
		&p.Status,
		&p.Amount,
		&p.MpesaReceiptNumber,
		&p.TransactionDate,
		&p.PhoneNumber,
		&p.AccountReference,
		&p.ResultCode,
		&p.ResultDesc,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPayment(ctx context.Context, db execer, p *domain.PaymentStatus) (bool, error) {
	query := `
		INSERT INTO payment_status (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (checkout_request_id) DO NOTHING
	`
	tag, err := db.Exec(ctx, query,
		p.CheckoutRequestID,
		p.MerchantRequestID,
		p.Status,
		p.Amount,
		p.MpesaReceiptNumber,
		p.TransactionDate,
		p.PhoneNumber,
		p.AccountReference,
		p.ResultCode,
		p.ResultDesc,
		p.CreatedAt,
		p.UpdatedAt,
		p.CompletedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentStatusRepo) Create(ctx context.Context, p *domain.PaymentStatus) error {
	inserted, err := insertPayment(ctx, r.db, p)
	if err != nil {
		return fmt.Errorf("insert payment status: %w", err)
	}
	if !inserted {
		return ErrAlreadyExists
	}
	return nil
}

func (r *paymentStatusRepo) Get(ctx context.Context, checkoutRequestID string) (*domain.PaymentStatus, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_status WHERE checkout_request_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, checkoutRequestID))
}

func (r *paymentStatusRepo) GetByMerchantRequestID(ctx context.Context, merchantRequestID string) (*domain.PaymentStatus, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_status
		WHERE merchant_request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, merchantRequestID))
}

func (r *paymentStatusRepo) Mutate(ctx context.Context, checkoutRequestID string, seed func() *domain.PaymentStatus, fn MutateFunc) (*domain.PaymentStatus, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + paymentColumns + ` FROM payment_status WHERE checkout_request_id = $1 FOR UPDATE`

	var seeded bool
	current, err := scanPayment(tx.QueryRow(ctx, lockQuery, checkoutRequestID))
	if errors.Is(err, domain.ErrNotFound) && seed != nil {
		if seeded, err = insertPayment(ctx, tx, seed()); err != nil {
			return nil, false, fmt.Errorf("seed payment status: %w", err)
		}
		current, err = scanPayment(tx.QueryRow(ctx, lockQuery, checkoutRequestID))
	}
	if err != nil {
		return nil, false, err
	}

	changed, err := fn(current)
	if err != nil {
		return nil, false, err
	}
	if changed {
		query := `
			UPDATE payment_status SET
				merchant_request_id = $2,
				status = $3,
				amount = $4,
				mpesa_receipt_number = $5,
				transaction_date = $6,
				phone_number = $7,
				result_code = $8,
				result_desc = $9,
				updated_at = $10,
				completed_at = $11
			WHERE checkout_request_id = $1
		`
		if _, err := tx.Exec(ctx, query,
			current.CheckoutRequestID,
			current.MerchantRequestID,
			current.Status,
			current.Amount,
			current.MpesaReceiptNumber,
			current.TransactionDate,
			current.PhoneNumber,
			current.ResultCode,
			current.ResultDesc,
			current.UpdatedAt,
			current.CompletedAt,
		); err != nil {
			return nil, false, fmt.Errorf("update payment status: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return current, changed || seeded, nil
}

func (r *paymentStatusRepo) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentStatus, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_status
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PaymentStatus
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentStatusRepo) PruneUnsuccessful(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM payment_status
		WHERE status IN ('failed', 'expired', 'cancelled')
		  AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
