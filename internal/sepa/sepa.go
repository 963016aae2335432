// Package sepa builds SEPA direct-debit orders (pain.008 payloads) and
// talks to the bank upload endpoint.
package sepa

import "time"

// Creditor identifies the organisation collecting the direct debits.
type Creditor struct {
	Name string
	IBAN string
	// ID is the SEPA creditor identifier issued by the bank.
	ID string
}

// Mandate is a member's signed direct-debit mandate. A snapshot of it is
// captured onto each invoice at creation time so later mandate changes do
// not affect orders already in flight.
type Mandate struct {
	Name     string     `json:"name"`
	IBAN     string     `json:"iban"`
	ID       string     `json:"mandate_id"`
	SignedOn *time.Time `json:"signed_on,omitempty"`
}

// Valid reports whether the mandate carries everything a collection needs.
func (m *Mandate) Valid() bool {
	return m != nil && m.IBAN != "" && m.ID != "" && m.SignedOn != nil
}
