package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/money"
	"github.com/harvestbill/harvestbill/internal/sepa"
)

// State enumerates the invoice lifecycle states.
type State string

const (
	StateProcessing State = "processing"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateCanceled   State = "canceled"
)

// EntityKind tags the chargeable entity an invoice references. At most one
// kind is active per invoice.
type EntityKind string

const (
	KindMembership            EntityKind = "membership"
	KindShare                 EntityKind = "share"
	KindActivityParticipation EntityKind = "activity_participation"
	KindShopOrder             EntityKind = "shop_order"
	KindAnnualFee             EntityKind = "annual_fee"
	KindNewMemberFee          EntityKind = "new_member_fee"
	KindOther                 EntityKind = "other"
)

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindMembership, KindShare, KindActivityParticipation, KindShopOrder,
		KindAnnualFee, KindNewMemberFee, KindOther:
		return true
	}
	return false
}

// EntityLinked reports whether invoices of this kind reference a row of
// another table; those participate in the "most recent invoice for its
// entity" guards.
func (k EntityKind) EntityLinked() bool {
	switch k {
	case KindMembership, KindShopOrder:
		return true
	}
	return false
}

// TransitionError is raised on every guard violation. It names the
// attempted operation and the state the invoice was in; callers never get
// a silent no-op where they expected success.
type TransitionError struct {
	Op     string
	State  State
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("billing: cannot %s invoice in state %q: %s", e.Op, e.State, e.Reason)
	}
	return fmt.Sprintf("billing: cannot %s invoice in state %q", e.Op, e.State)
}

// ValidationError is a field-level creation failure, e.g. over-billing a
// membership. It blocks persistence entirely.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("billing: %s %s", e.Field, e.Message)
}

var (
	// ErrAmountFrozen is returned on any attempt to set the billed amount
	// after creation. The amount is written exactly once.
	ErrAmountFrozen = errors.New("billing: amount is frozen after creation")
	// ErrAllocatorInconsistency indicates the payment allocator produced
	// paid amounts that violate the closed invariant. A programming error:
	// it raises, it is never clamped.
	ErrAllocatorInconsistency = errors.New("billing: settlement produced inconsistent paid amounts")
	ErrNotFound               = errors.New("billing: invoice not found")
)

// Invoice is the central entity: what a member owes for a period, how much
// has been paid against it, and where it stands in its lifecycle.
//
// amount and paidAmount are deliberately unexported: amount is written
// exactly once by the creation-time calculator, paidAmount only through
// Repository.SetPaidAmount, which the payment allocator alone calls.
type Invoice struct {
	ID       int64      `json:"id"`
	MemberID int64      `json:"member_id"`
	Kind     EntityKind `json:"entity_kind"`
	EntityID *int64     `json:"entity_id,omitempty"`

	amount    decimal.Decimal
	amountSet bool

	AmountBeforePercentage *decimal.Decimal `json:"amount_before_percentage,omitempty"`
	AmountPercentage       *decimal.Decimal `json:"amount_percentage,omitempty"`
	VATRate                *decimal.Decimal `json:"vat_rate,omitempty"`
	VATAmount              *decimal.Decimal `json:"vat_amount,omitempty"`

	paidAmount decimal.Decimal

	// Membership billing fields.
	MembershipsAmount            *decimal.Decimal `json:"memberships_amount,omitempty"`
	MembershipsAmountDescription *string          `json:"memberships_amount_description,omitempty"`
	PaidMembershipsAmount        *decimal.Decimal `json:"paid_memberships_amount,omitempty"`
	RemainingMembershipsAmount   *decimal.Decimal `json:"remaining_memberships_amount,omitempty"`
	MembershipAmountFraction     int              `json:"membership_amount_fraction,omitempty"`

	SharesNumber *int `json:"shares_number,omitempty"`

	MissingActivityParticipationsCount      *int `json:"missing_activity_participations_count,omitempty"`
	MissingActivityParticipationsFiscalYear *int `json:"missing_activity_participations_fiscal_year,omitempty"`

	// Annual membership support fee; may combine with a membership share
	// on one invoice.
	SupportAmount *decimal.Decimal `json:"support_amount,omitempty"`

	State               State      `json:"state"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	CanceledAt          *time.Time `json:"canceled_at,omitempty"`
	StampedAt           *time.Time `json:"stamped_at,omitempty"`
	OverdueNoticesCount int        `json:"overdue_notices_count"`

	SEPAMetadata          *sepa.Mandate `json:"sepa_metadata,omitempty"`
	DirectDebitOrderID    *string       `json:"sepa_direct_debit_order_id,omitempty"`
	DirectDebitUploadedAt *time.Time    `json:"sepa_direct_debit_order_uploaded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Amount is the final billed total, frozen at creation.
func (i *Invoice) Amount() decimal.Decimal {
	return i.amount
}

// PaidAmount is derived by the payment allocator; no other path assigns it.
func (i *Invoice) PaidAmount() decimal.Decimal {
	return i.paidAmount
}

// setAmount writes the billed total exactly once. Any later attempt fails.
func (i *Invoice) setAmount(d decimal.Decimal) error {
	if i.amountSet {
		return ErrAmountFrozen
	}
	i.amount = d
	i.amountSet = true
	return nil
}

// restoreAmounts hydrates the frozen monetary fields from storage.
func (i *Invoice) restoreAmounts(amount, paid decimal.Decimal) {
	i.amount = amount
	i.amountSet = true
	i.paidAmount = paid
}

// Balance is paid_amount − amount.
func (i *Invoice) Balance() decimal.Decimal {
	return i.paidAmount.Sub(i.amount)
}

// MissingAmount is how much is still owed.
func (i *Invoice) MissingAmount() decimal.Decimal {
	return money.Max(decimal.Zero, i.Balance().Neg())
}

// OverpaidAmount is how much was paid beyond the billed total.
func (i *Invoice) OverpaidAmount() decimal.Decimal {
	return money.Max(decimal.Zero, i.Balance())
}

// Sent reports whether the invoice has been delivered or marked as such.
func (i *Invoice) Sent() bool {
	return i.SentAt != nil
}

// Canceled reports the terminal cancellation flag.
func (i *Invoice) Canceled() bool {
	return i.State == StateCanceled
}

// checkClosedInvariant verifies state = closed ⇔ missing_amount = 0,
// enforced only outside processing and canceled.
func (i *Invoice) checkClosedInvariant() error {
	if i.State == StateProcessing || i.State == StateCanceled {
		return nil
	}
	if i.paidAmount.IsNegative() {
		return fmt.Errorf("%w: invoice %d has negative paid amount", ErrAllocatorInconsistency, i.ID)
	}
	if i.State == StateClosed && !i.MissingAmount().IsZero() {
		return fmt.Errorf("%w: invoice %d closed with missing amount %s", ErrAllocatorInconsistency, i.ID, i.MissingAmount())
	}
	// Open with nothing missing is resolved by CloseOrOpen, not an
	// allocator fault.
	return nil
}

// derivedState is what CloseOrOpen persists: closed when nothing is owed.
func (i *Invoice) derivedState() State {
	if i.MissingAmount().IsZero() {
		return StateClosed
	}
	return StateOpen
}
