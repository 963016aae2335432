// Package allocation owns the payment side of the invoice ledger: it is
// the only writer of paid_amount. Settle recomputes the full allocation
// of a payer's payments across that payer's non-cancelled invoices, so
// the result depends on the current payment total and invoice set alone,
// never on the order past settlements ran in.
package allocation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/billing"
)

// Target is one invoice from the allocator's point of view: what was
// billed and what is currently allocated to it.
type Target struct {
	InvoiceID int64
	Amount    decimal.Decimal
	Paid      decimal.Decimal
}

// Repository is the allocator's private data surface: the payer's
// invoice set ordered oldest first, the payer's payment total, and the
// paid_amount write path. Nothing else in the system writes paid_amount.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	ListPayerTargets(ctx context.Context, memberID int64) ([]Target, error)
	TotalPayments(ctx context.Context, memberID int64) (decimal.Decimal, error)
	SetPaidAmount(ctx context.Context, invoiceID int64, paid decimal.Decimal) error
}

// Allocator implements the settlement contract behind a per-payer lock.
type Allocator struct {
	logger *slog.Logger
	repo   Repository
	lock   *PayerLock
}

// New builds the allocator. The lock may be nil in tests.
func New(logger *slog.Logger, repo Repository, lock *PayerLock) *Allocator {
	return &Allocator{logger: logger, repo: repo, lock: lock}
}

// Settle recomputes every paid_amount of the payer from scratch. It is
// idempotent: running it twice with no new payments writes nothing the
// second time.
func (a *Allocator) Settle(ctx context.Context, memberID int64) error {
	release, err := a.lock.Acquire(ctx, memberID)
	if err != nil {
		return fmt.Errorf("acquire settle lock for member %d: %w", memberID, err)
	}
	defer release()

	return a.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		targets, err := repo.ListPayerTargets(ctx, memberID)
		if err != nil {
			return err
		}
		total, err := repo.TotalPayments(ctx, memberID)
		if err != nil {
			return err
		}

		paid, err := distribute(targets, total)
		if err != nil {
			return err
		}

		for i, t := range targets {
			if paid[i].Equal(t.Paid) {
				continue
			}
			if err := repo.SetPaidAmount(ctx, t.InvoiceID, paid[i]); err != nil {
				return err
			}
			a.logger.Debug("allocated payment",
				slog.Int64("invoice_id", t.InvoiceID),
				slog.String("paid", paid[i].StringFixed(2)))
		}
		return nil
	})
}

// distribute is the allocation rule: fill invoices oldest first, whole
// amounts until the payment total runs out; any surplus lands on the
// newest invoice carrying a positive amount. Negative-amount invoices
// (share buy-backs) never receive an allocation; their balance already
// owes the payer, not the organisation.
func distribute(targets []Target, total decimal.Decimal) ([]decimal.Decimal, error) {
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: payment total %s is negative",
			billing.ErrAllocatorInconsistency, total)
	}

	paid := make([]decimal.Decimal, len(targets))
	lastPositive := -1
	for i, t := range targets {
		paid[i] = decimal.Zero
		if t.Amount.IsPositive() {
			lastPositive = i
		}
	}

	remaining := total
	for i, t := range targets {
		if !t.Amount.IsPositive() {
			continue
		}
		p := decimal.Min(remaining, t.Amount)
		paid[i] = p
		remaining = remaining.Sub(p)
	}
	if remaining.IsPositive() && lastPositive >= 0 {
		paid[lastPositive] = paid[lastPositive].Add(remaining)
	}

	for i := range paid {
		if paid[i].IsNegative() {
			return nil, fmt.Errorf("%w: allocation for invoice %d is %s",
				billing.ErrAllocatorInconsistency, targets[i].InvoiceID, paid[i])
		}
	}
	return paid, nil
}
