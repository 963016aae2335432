package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines data access for invoices. State transitions only
// touch the columns they own; no method writes the frozen amount columns
// after Create, and SetPaidAmount exists solely for the payment allocator.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	Create(ctx context.Context, inv *Invoice) (int64, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	List(ctx context.Context, req ListInvoicesRequest) ([]*Invoice, int, error)
	// ListByMember returns every invoice of one payer, oldest first.
	ListByMember(ctx context.Context, memberID int64) ([]*Invoice, error)
	Delete(ctx context.Context, id int64) error

	SetState(ctx context.Context, id int64, state State) error
	MarkSent(ctx context.Context, id int64, at time.Time) error
	Cancel(ctx context.Context, id int64, at time.Time) error
	Uncancel(ctx context.Context, id int64, state State) error
	Stamp(ctx context.Context, id int64, at time.Time) error

	// SetPaidAmount is the allocator's single write path for paid_amount.
	SetPaidAmount(ctx context.Context, id int64, paid decimal.Decimal) error

	// SumMembershipBilled totals memberships_amount over the non-cancelled
	// invoices referencing a membership.
	SumMembershipBilled(ctx context.Context, membershipID int64) (decimal.Decimal, error)
	// LatestInvoiceID returns the most recent invoice referencing an
	// entity, or ErrNotFound.
	LatestInvoiceID(ctx context.Context, kind EntityKind, entityID int64) (int64, error)
	HasPayments(ctx context.Context, id int64) (bool, error)

	// RefreshMemberShareCount re-derives the member's association share
	// count from their non-cancelled share invoices, inside the caller's
	// transaction.
	RefreshMemberShareCount(ctx context.Context, memberID int64) error

	SetDirectDebitOrder(ctx context.Context, id int64, orderID string, at time.Time) error
	IncrementOverdueNotices(ctx context.Context, id int64) (int, error)
	// ListOverdueCandidates returns open invoices sent before the cutoff.
	ListOverdueCandidates(ctx context.Context, sentBefore time.Time) ([]*Invoice, error)
}
