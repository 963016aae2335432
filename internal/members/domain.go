package members

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/sepa"
)

// Member is a payer of the farm-share organisation.
type Member struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Emails       []string   `json:"emails" db:"emails"`
	BillingEmail *string    `json:"billing_email,omitempty" db:"billing_email"`
	Language     string     `json:"language" db:"language"`
	SharesNumber int        `json:"shares_number" db:"shares_number"`
	IBAN         *string    `json:"iban,omitempty" db:"iban"`
	MandateID    *string    `json:"sepa_mandate_id,omitempty" db:"sepa_mandate_id"`
	MandateSigned *time.Time `json:"sepa_mandate_signed_on,omitempty" db:"sepa_mandate_signed_on"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// BillingEmails returns the billing-specific address when set, otherwise
// the member's general addresses.
func (m *Member) BillingEmails() []string {
	if m == nil {
		return nil
	}
	if m.BillingEmail != nil && *m.BillingEmail != "" {
		return []string{*m.BillingEmail}
	}
	return m.Emails
}

// Billable reports whether the member has at least one deliverable billing
// address.
func (m *Member) Billable() bool {
	return len(m.BillingEmails()) > 0
}

// Mandate returns the member's current SEPA mandate, or nil when none is
// signed. Callers snapshot it; they never hold a live reference.
func (m *Member) Mandate() *sepa.Mandate {
	if m == nil || m.IBAN == nil || m.MandateID == nil {
		return nil
	}
	return &sepa.Mandate{
		Name:     m.Name,
		IBAN:     *m.IBAN,
		ID:       *m.MandateID,
		SignedOn: m.MandateSigned,
	}
}

// Membership is a member's subscription for one fiscal year with its
// computed total price.
type Membership struct {
	ID         int64           `json:"id" db:"id"`
	MemberID   int64           `json:"member_id" db:"member_id"`
	FiscalYear int             `json:"fiscal_year" db:"fiscal_year"`
	Price      decimal.Decimal `json:"price" db:"price"`
	StartedOn  time.Time       `json:"started_on" db:"started_on"`
	EndedOn    time.Time       `json:"ended_on" db:"ended_on"`
}
