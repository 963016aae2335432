package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) (int64, error)
	Get(ctx context.Context, id int64) (*Payment, error)
	ListByMember(ctx context.Context, memberID int64) ([]*Payment, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed payment repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Create(ctx context.Context, p *Payment) (int64, error) {
	const query = `
		INSERT INTO payments (member_id, amount, date, origin, reference, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6)
		RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query,
		p.MemberID, p.Amount.String(), p.Date, string(p.Origin), p.Reference, p.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Payment, error) {
	const query = `
		SELECT id, member_id, amount::text, date, origin, reference, created_at
		FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

func (r *repository) ListByMember(ctx context.Context, memberID int64) ([]*Payment, error) {
	const query = `
		SELECT id, member_id, amount::text, date, origin, reference, created_at
		FROM payments WHERE member_id = $1
		ORDER BY date DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		amount string
		origin string
	)
	err := row.Scan(&p.ID, &p.MemberID, &amount, &p.Date, &origin, &p.Reference, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	p.Origin = Origin(origin)
	return &p, nil
}
