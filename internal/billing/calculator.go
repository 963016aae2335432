package billing

import (
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/money"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	minPercentage = decimal.NewFromInt(-100)
	maxPercentage = decimal.NewFromInt(200)
)

// AmountCalculator turns a resolver's base amount into the frozen billed
// total: it combines the annual support fee, applies an optional percentage
// adjustment and derives the VAT split. It runs exactly once, inside the
// creation transaction; amount and vat_amount never change afterwards.
type AmountCalculator struct {
	vatRateFor func(kind EntityKind) *decimal.Decimal
}

// NewAmountCalculator builds a calculator reading per-kind VAT rates from
// organisation configuration.
func NewAmountCalculator(vatRateFor func(kind EntityKind) *decimal.Decimal) *AmountCalculator {
	if vatRateFor == nil {
		vatRateFor = func(EntityKind) *decimal.Decimal { return nil }
	}
	return &AmountCalculator{vatRateFor: vatRateFor}
}

// Finalize derives and freezes the invoice amount. Order matters:
// support fee first, then percentage, then the VAT split of the already
// gross result.
func (c *AmountCalculator) Finalize(inv *Invoice, base decimal.Decimal, req CreateInvoiceRequest) error {
	if req.SupportAmount != nil && inv.Kind == KindMembership {
		support, err := decimal.NewFromString(*req.SupportAmount)
		if err != nil {
			return ValidationError{Field: "support_amount", Message: "must be a decimal amount"}
		}
		inv.SupportAmount = &support
		base = base.Add(support)
	}

	if req.AmountPercentage != nil {
		pct, err := decimal.NewFromString(*req.AmountPercentage)
		if err != nil {
			return ValidationError{Field: "amount_percentage", Message: "must be a decimal percentage"}
		}
		if pct.LessThan(minPercentage) || pct.GreaterThan(maxPercentage) {
			return ValidationError{Field: "amount_percentage", Message: "must be between -100 and 200"}
		}
		before := base
		inv.AmountBeforePercentage = &before
		inv.AmountPercentage = &pct
		base = money.RoundToCent(base.Mul(one.Add(pct.Div(hundred))))
	}

	if err := inv.setAmount(base); err != nil {
		return err
	}

	rate, err := c.rateFor(inv, req)
	if err != nil {
		return err
	}
	if rate != nil && rate.IsPositive() {
		gross := c.grossBase(inv)
		net := gross.Div(one.Add(rate.Div(hundred)))
		vat := gross.Sub(money.RoundToCent(net))
		inv.VATRate = rate
		inv.VATAmount = &vat
	}
	return nil
}

// rateFor picks the VAT rate: explicit on the other kind, organisation
// configuration everywhere else.
func (c *AmountCalculator) rateFor(inv *Invoice, req CreateInvoiceRequest) (*decimal.Decimal, error) {
	if inv.Kind == KindOther && req.VATRate != nil {
		rate, err := decimal.NewFromString(*req.VATRate)
		if err != nil {
			return nil, ValidationError{Field: "vat_rate", Message: "must be a decimal rate"}
		}
		return &rate, nil
	}
	return c.vatRateFor(inv.Kind), nil
}

// grossBase is the kind-specific gross amount the VAT split applies to,
// falling back to the full billed amount. The annual support fee is not
// subject to VAT when combined with a membership share.
func (c *AmountCalculator) grossBase(inv *Invoice) decimal.Decimal {
	if inv.Kind == KindMembership && inv.SupportAmount != nil {
		return inv.Amount().Sub(*inv.SupportAmount)
	}
	return inv.Amount()
}
