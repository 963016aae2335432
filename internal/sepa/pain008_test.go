package sepa

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testMandate() Mandate {
	signed := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	return Mandate{
		Name:     "Jane Farmer",
		IBAN:     "CH9300762011623852957",
		ID:       "MANDATE-42",
		SignedOn: &signed,
	}
}

func TestBuildPain008(t *testing.T) {
	creditor := Creditor{Name: "Harvest Coop", IBAN: "CH5604835012345678009", ID: "CH12ZZZ000000001"}
	order := Order{
		CollectionDate: time.Date(2026, time.September, 10, 0, 0, 0, 0, time.UTC),
		Debits: []Debit{
			{
				EndToEndID: "invoice-7",
				Amount:     decimal.RequireFromString("300.00"),
				Currency:   "CHF",
				Mandate:    testMandate(),
				Remittance: "Invoice 7",
			},
			{
				EndToEndID: "invoice-8",
				Amount:     decimal.RequireFromString("12.15"),
				Currency:   "CHF",
				Mandate:    testMandate(),
				Remittance: "Invoice 8",
			},
		},
	}

	payload, err := BuildPain008(creditor, order, time.Now())
	require.NoError(t, err)

	var doc document
	require.NoError(t, xml.Unmarshal(payload, &doc))
	require.Equal(t, 2, doc.Initiation.Header.TxCount)
	require.Equal(t, "312.15", doc.Initiation.Header.ControlSum)
	require.Equal(t, "DD", doc.Initiation.Payment.Method)
	require.Equal(t, "SEPA", doc.Initiation.Payment.ServiceLevel)
	require.Equal(t, "2026-09-10", doc.Initiation.Payment.CollectionDate)
	require.Equal(t, "MANDATE-42", doc.Initiation.Payment.Transactions[0].MandateID)
	require.True(t, strings.HasPrefix(string(payload), xml.Header))
}

func TestBuildPain008RejectsInvalidInput(t *testing.T) {
	creditor := Creditor{Name: "Harvest Coop", IBAN: "CH5604835012345678009", ID: "CH12ZZZ000000001"}

	_, err := BuildPain008(creditor, Order{}, time.Now())
	require.Error(t, err, "empty order")

	noMandate := Debit{EndToEndID: "x", Amount: decimal.NewFromInt(10), Currency: "CHF"}
	_, err = BuildPain008(creditor, Order{CollectionDate: time.Now(), Debits: []Debit{noMandate}}, time.Now())
	require.Error(t, err, "missing mandate")

	_, err = BuildPain008(Creditor{}, Order{CollectionDate: time.Now(), Debits: []Debit{{Mandate: testMandate()}}}, time.Now())
	require.Error(t, err, "unconfigured creditor")
}

func TestMandateValid(t *testing.T) {
	m := testMandate()
	require.True(t, m.Valid())

	m.SignedOn = nil
	require.False(t, m.Valid())
	require.False(t, (*Mandate)(nil).Valid())
}
