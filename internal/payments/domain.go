// Package payments records incoming member payments. A payment is never
// tied to one invoice: recording it triggers a settlement that
// redistributes the member's whole payment total across their invoices.
package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("payments: payment not found")

// Origin says how a payment reached the organisation.
type Origin string

const (
	OriginBankTransfer Origin = "bank_transfer"
	OriginDirectDebit  Origin = "direct_debit"
	OriginManual       Origin = "manual"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginBankTransfer, OriginDirectDebit, OriginManual:
		return true
	}
	return false
}

// Payment is one received amount from one member. Negative amounts
// record refunds.
type Payment struct {
	ID        int64           `json:"id"`
	MemberID  int64           `json:"member_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Origin    Origin          `json:"origin"`
	Reference *string         `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreatePaymentRequest carries a payment to record; the amount travels
// as a decimal string.
type CreatePaymentRequest struct {
	MemberID  int64   `json:"member_id" validate:"required,gt=0"`
	Amount    string  `json:"amount" validate:"required"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	Origin    string  `json:"origin" validate:"required,oneof=bank_transfer direct_debit manual"`
	Reference *string `json:"reference,omitempty"`
}
