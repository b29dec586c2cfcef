package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ggbundi/Nomatoken/internal/domain"
	"github.com/ggbundi/Nomatoken/migrations"
)

const purchaseColumns = `
	id, payment_method, usd_amount, token_amount, token_price, phone_number,
	mpesa_receipt_number, checkout_request_id, merchant_request_id, user_address,
	status, created_at`

type purchaseRepo struct {
	db *pgxpool.Pool
}

func NewPurchaseRepository(db *pgxpool.Pool) PurchaseRepository {
	return &purchaseRepo{db: db}
}

func scanPurchase(row pgx.Row) (*domain.TokenPurchase, error) {
	var p domain.TokenPurchase
	err := row.Scan(
		&p.ID,
		&p.PaymentMethod,
		&p.USDAmount,
		&p.TokenAmount,
		&p.TokenPrice,
		&p.PhoneNumber,
		&p.MpesaReceiptNumber,
		&p.CheckoutRequestID,
		&p.MerchantRequestID,
		&p.UserAddress,
		&p.Status,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *purchaseRepo) Create(ctx context.Context, p *domain.TokenPurchase) (*domain.TokenPurchase, bool, error) {
	query := `
		INSERT INTO token_purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (mpesa_receipt_number) DO NOTHING
		RETURNING ` + purchaseColumns

	stored, err := scanPurchase(r.db.QueryRow(ctx, query,
		p.ID,
		p.PaymentMethod,
		p.USDAmount,
		p.TokenAmount,
		p.TokenPrice,
		p.PhoneNumber,
		p.MpesaReceiptNumber,
		p.CheckoutRequestID,
		p.MerchantRequestID,
		p.UserAddress,
		p.Status,
		p.CreatedAt,
	))
	if errors.Is(err, domain.ErrNotFound) {
		existing, err := r.GetByReceipt(ctx, p.MpesaReceiptNumber)
		if err != nil {
			return nil, false, fmt.Errorf("load existing purchase: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert purchase: %w", err)
	}
	return stored, true, nil
}

func (r *purchaseRepo) GetByReceipt(ctx context.Context, receipt string) (*domain.TokenPurchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM token_purchases WHERE mpesa_receipt_number = $1`
	return scanPurchase(r.db.QueryRow(ctx, query, receipt))
}

func (r *purchaseRepo) List(ctx context.Context, q domain.PurchaseQuery, limit int) ([]*domain.TokenPurchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM token_purchases
		WHERE ($1 = '' OR user_address = $1)
		  AND ($2 = '' OR phone_number = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, q.UserAddress, q.PhoneNumber, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TokenPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		sql, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(sql)) == "" {
			continue
		}
		if _, err := db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
