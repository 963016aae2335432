package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/platform/db"
	"github.com/harvestbill/harvestbill/internal/sepa"
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

// NewRepository builds the pgx-backed invoice repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		// Already inside a transaction; nest logically, not physically.
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// Monetary columns travel as text so they never pass through float64.
const invoiceColumns = `
	id, member_id, entity_kind, entity_id,
	amount::text, amount_before_percentage::text, amount_percentage::text,
	vat_rate::text, vat_amount::text, paid_amount::text,
	memberships_amount::text, memberships_amount_description,
	paid_memberships_amount::text, remaining_memberships_amount::text,
	membership_amount_fraction, shares_number,
	missing_activity_participations_count, missing_activity_participations_fiscal_year,
	support_amount::text, state, sent_at, canceled_at, stamped_at,
	overdue_notices_count, sepa_metadata, sepa_direct_debit_order_id,
	sepa_direct_debit_order_uploaded_at, created_at`

func (r *repository) Create(ctx context.Context, inv *Invoice) (int64, error) {
	var sepaJSON []byte
	if inv.SEPAMetadata != nil {
		var err error
		sepaJSON, err = json.Marshal(inv.SEPAMetadata)
		if err != nil {
			return 0, fmt.Errorf("marshal sepa metadata: %w", err)
		}
	}

	const query = `
		INSERT INTO invoices (
			member_id, entity_kind, entity_id,
			amount, amount_before_percentage, amount_percentage,
			vat_rate, vat_amount, paid_amount,
			memberships_amount, memberships_amount_description,
			paid_memberships_amount, remaining_memberships_amount,
			membership_amount_fraction, shares_number,
			missing_activity_participations_count, missing_activity_participations_fiscal_year,
			support_amount, state, overdue_notices_count, sepa_metadata, created_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, 0,
			$9::numeric, $10, $11::numeric, $12::numeric, $13, $14, $15, $16, $17::numeric,
			$18, 0, $19, $20
		) RETURNING id`

	fraction := inv.MembershipAmountFraction
	if fraction == 0 {
		fraction = 1
	}
	var id int64
	err := r.db.QueryRow(ctx, query,
		inv.MemberID, string(inv.Kind), inv.EntityID,
		inv.Amount().String(), decPtr(inv.AmountBeforePercentage), decPtr(inv.AmountPercentage),
		decPtr(inv.VATRate), decPtr(inv.VATAmount),
		decPtr(inv.MembershipsAmount), inv.MembershipsAmountDescription,
		decPtr(inv.PaidMembershipsAmount), decPtr(inv.RemainingMembershipsAmount),
		fraction, inv.SharesNumber,
		inv.MissingActivityParticipationsCount, inv.MissingActivityParticipationsFiscalYear,
		decPtr(inv.SupportAmount), string(inv.State), sepaJSON, inv.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (r *repository) List(ctx context.Context, req ListInvoicesRequest) ([]*Invoice, int, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM invoices WHERE 1=1`
	var args []any
	if req.MemberID != nil {
		args = append(args, *req.MemberID)
		cond := fmt.Sprintf(" AND member_id = $%d", len(args))
		query += cond
		countQuery += cond
	}
	if req.State != nil {
		args = append(args, string(*req.State))
		cond := fmt.Sprintf(" AND state = $%d", len(args))
		query += cond
		countQuery += cond
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (r *repository) ListByMember(ctx context.Context, memberID int64) ([]*Invoice, error) {
	rows, err := r.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE member_id = $1 ORDER BY created_at ASC, id ASC`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetState(ctx context.Context, id int64, state State) error {
	return r.execOne(ctx, `UPDATE invoices SET state = $2 WHERE id = $1`, id, string(state))
}

func (r *repository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE invoices SET sent_at = $2 WHERE id = $1`, id, at)
}

func (r *repository) Cancel(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE invoices SET state = 'canceled', canceled_at = $2 WHERE id = $1`, id, at)
}

func (r *repository) Uncancel(ctx context.Context, id int64, state State) error {
	return r.execOne(ctx, `UPDATE invoices SET state = $2, canceled_at = NULL, stamped_at = NULL WHERE id = $1`, id, string(state))
}

func (r *repository) Stamp(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE invoices SET stamped_at = $2 WHERE id = $1`, id, at)
}

func (r *repository) SetPaidAmount(ctx context.Context, id int64, paid decimal.Decimal) error {
	return r.execOne(ctx, `UPDATE invoices SET paid_amount = $2::numeric WHERE id = $1`, id, paid.String())
}

func (r *repository) SumMembershipBilled(ctx context.Context, membershipID int64) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(memberships_amount), 0)::text FROM invoices
		WHERE entity_kind = 'membership' AND entity_id = $1 AND state <> 'canceled'`
	var raw string
	if err := r.db.QueryRow(ctx, query, membershipID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *repository) LatestInvoiceID(ctx context.Context, kind EntityKind, entityID int64) (int64, error) {
	const query = `
		SELECT id FROM invoices WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`
	var id int64
	if err := r.db.QueryRow(ctx, query, string(kind), entityID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) HasPayments(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT paid_amount <> 0 FROM invoices WHERE id = $1`
	var has bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&has); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return has, nil
}

func (r *repository) RefreshMemberShareCount(ctx context.Context, memberID int64) error {
	const query = `
		UPDATE members SET shares_number = COALESCE((
			SELECT SUM(shares_number) FROM invoices
			WHERE member_id = $1 AND entity_kind = 'share' AND state <> 'canceled'
		), 0)
		WHERE id = $1`
	_, err := r.db.Exec(ctx, query, memberID)
	return err
}

func (r *repository) SetDirectDebitOrder(ctx context.Context, id int64, orderID string, at time.Time) error {
	return r.execOne(ctx, `
		UPDATE invoices
		SET sepa_direct_debit_order_id = $2, sepa_direct_debit_order_uploaded_at = $3
		WHERE id = $1`, id, orderID, at)
}

func (r *repository) IncrementOverdueNotices(ctx context.Context, id int64) (int, error) {
	const query = `
		UPDATE invoices SET overdue_notices_count = overdue_notices_count + 1
		WHERE id = $1 RETURNING overdue_notices_count`
	var count int
	if err := r.db.QueryRow(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (r *repository) ListOverdueCandidates(ctx context.Context, sentBefore time.Time) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE state = 'open' AND sent_at IS NOT NULL AND sent_at <= $1
		ORDER BY sent_at ASC`
	rows, err := r.db.Query(ctx, query, sentBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *repository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv       Invoice
		kind      string
		state     string
		amount    string
		paid      string
		beforePct *string
		pct       *string
		vatRate   *string
		vatAmount *string
		msAmount  *string
		msPaid    *string
		msRemain  *string
		support   *string
		sepaJSON  []byte
	)
	err := row.Scan(
		&inv.ID, &inv.MemberID, &kind, &inv.EntityID,
		&amount, &beforePct, &pct,
		&vatRate, &vatAmount, &paid,
		&msAmount, &inv.MembershipsAmountDescription,
		&msPaid, &msRemain,
		&inv.MembershipAmountFraction, &inv.SharesNumber,
		&inv.MissingActivityParticipationsCount, &inv.MissingActivityParticipationsFiscalYear,
		&support, &state, &inv.SentAt, &inv.CanceledAt, &inv.StampedAt,
		&inv.OverdueNoticesCount, &sepaJSON, &inv.DirectDebitOrderID,
		&inv.DirectDebitUploadedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Kind = EntityKind(kind)
	inv.State = State(state)

	amountDec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	paidDec, err := decimal.NewFromString(paid)
	if err != nil {
		return nil, fmt.Errorf("parse paid amount: %w", err)
	}
	inv.restoreAmounts(amountDec, paidDec)

	for _, f := range []struct {
		raw  *string
		dest **decimal.Decimal
	}{
		{beforePct, &inv.AmountBeforePercentage},
		{pct, &inv.AmountPercentage},
		{vatRate, &inv.VATRate},
		{vatAmount, &inv.VATAmount},
		{msAmount, &inv.MembershipsAmount},
		{msPaid, &inv.PaidMembershipsAmount},
		{msRemain, &inv.RemainingMembershipsAmount},
		{support, &inv.SupportAmount},
	} {
		if f.raw == nil {
			continue
		}
		d, err := decimal.NewFromString(*f.raw)
		if err != nil {
			return nil, fmt.Errorf("parse decimal column: %w", err)
		}
		*f.dest = &d
	}

	if len(sepaJSON) > 0 {
		var mandate sepa.Mandate
		if err := json.Unmarshal(sepaJSON, &mandate); err != nil {
			return nil, fmt.Errorf("unmarshal sepa metadata: %w", err)
		}
		inv.SEPAMetadata = &mandate
	}
	return &inv, nil
}
