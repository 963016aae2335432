package members

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("member record not found")
)

// Repository provides member and membership read models. The derived
// share-count write lives with the billing repository so it joins the
// lifecycle transactions.
type Repository interface {
	GetMember(ctx context.Context, id int64) (*Member, error)
	GetMembership(ctx context.Context, id int64) (*Membership, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetMember(ctx context.Context, id int64) (*Member, error) {
	const query = `
		SELECT id, name, emails, billing_email, language, shares_number,
		       iban, sepa_mandate_id, sepa_mandate_signed_on, created_at
		FROM members WHERE id = $1`
	var m Member
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Name, &m.Emails, &m.BillingEmail, &m.Language, &m.SharesNumber,
		&m.IBAN, &m.MandateID, &m.MandateSigned, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) GetMembership(ctx context.Context, id int64) (*Membership, error) {
	const query = `
		SELECT id, member_id, fiscal_year, price, started_on, ended_on
		FROM memberships WHERE id = $1`
	var ms Membership
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ms.ID, &ms.MemberID, &ms.FiscalYear, &ms.Price, &ms.StartedOn, &ms.EndedOn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ms, nil
}
