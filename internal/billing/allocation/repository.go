package allocation

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed allocation repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// ListPayerTargets locks and returns the payer's non-cancelled invoices
// in allocation order. Row locks keep concurrent lifecycle transitions
// from interleaving with the rewrite.
func (r *repository) ListPayerTargets(ctx context.Context, memberID int64) ([]Target, error) {
	const query = `
		SELECT id, amount::text, paid_amount::text FROM invoices
		WHERE member_id = $1 AND state <> 'canceled'
		ORDER BY created_at ASC, id ASC
		FOR UPDATE`
	rows, err := r.db.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var (
			t            Target
			amount, paid string
		)
		if err := rows.Scan(&t.InvoiceID, &amount, &paid); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if t.Paid, err = decimal.NewFromString(paid); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) TotalPayments(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)::text FROM payments WHERE member_id = $1`
	var raw string
	if err := r.db.QueryRow(ctx, query, memberID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *repository) SetPaidAmount(ctx context.Context, invoiceID int64, paid decimal.Decimal) error {
	const query = `UPDATE invoices SET paid_amount = $2::numeric WHERE id = $1`
	_, err := r.db.Exec(ctx, query, invoiceID, paid.String())
	return err
}
