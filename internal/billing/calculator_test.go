package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFinalizePercentageAdjustment(t *testing.T) {
	calc := NewAmountCalculator(nil)

	inv := &Invoice{Kind: KindOther}
	err := calc.Finalize(inv, dec("100"), CreateInvoiceRequest{AmountPercentage: strPtr("-10")})
	require.NoError(t, err)
	require.True(t, inv.Amount().Equal(dec("90")))
	require.True(t, inv.AmountBeforePercentage.Equal(dec("100")))
	require.True(t, inv.AmountPercentage.Equal(dec("-10")))

	inv = &Invoice{Kind: KindOther}
	require.NoError(t, calc.Finalize(inv, dec("100"), CreateInvoiceRequest{AmountPercentage: strPtr("200")}))
	require.True(t, inv.Amount().Equal(dec("300")))
}

func TestFinalizePercentageBounds(t *testing.T) {
	calc := NewAmountCalculator(nil)

	for _, pct := range []string{"-100.01", "200.01", "abc"} {
		inv := &Invoice{Kind: KindOther}
		err := calc.Finalize(inv, dec("100"), CreateInvoiceRequest{AmountPercentage: strPtr(pct)})
		var verr ValidationError
		require.ErrorAs(t, err, &verr, pct)
		require.Equal(t, "amount_percentage", verr.Field)
	}
}

func TestFinalizePercentageRoundsToCents(t *testing.T) {
	calc := NewAmountCalculator(nil)
	inv := &Invoice{Kind: KindOther}

	// 33.33 * 1.075 = 35.82975, rounded half away from zero.
	require.NoError(t, calc.Finalize(inv, dec("33.33"), CreateInvoiceRequest{AmountPercentage: strPtr("7.5")}))
	require.True(t, inv.Amount().Equal(dec("35.83")), inv.Amount().String())
}

func TestFinalizeVATSplitFromConfiguration(t *testing.T) {
	rate := dec("7.7")
	calc := NewAmountCalculator(func(kind EntityKind) *decimal.Decimal {
		if kind == KindShopOrder {
			return &rate
		}
		return nil
	})

	inv := &Invoice{Kind: KindShopOrder}
	require.NoError(t, calc.Finalize(inv, dec("107.70"), CreateInvoiceRequest{}))
	require.True(t, inv.Amount().Equal(dec("107.70")))
	require.NotNil(t, inv.VATRate)
	// Net 100.00, VAT 7.70 extracted from the gross total.
	require.True(t, inv.VATAmount.Equal(dec("7.70")), inv.VATAmount.String())

	// Kinds without a configured rate carry no VAT fields.
	inv = &Invoice{Kind: KindShare}
	require.NoError(t, calc.Finalize(inv, dec("250"), CreateInvoiceRequest{}))
	require.Nil(t, inv.VATRate)
	require.Nil(t, inv.VATAmount)
}

func TestFinalizeExplicitVATRateOnlyForOtherKind(t *testing.T) {
	calc := NewAmountCalculator(nil)

	inv := &Invoice{Kind: KindOther}
	require.NoError(t, calc.Finalize(inv, dec("108.10"), CreateInvoiceRequest{VATRate: strPtr("8.1")}))
	require.NotNil(t, inv.VATAmount)
	require.True(t, inv.VATAmount.Equal(dec("8.10")), inv.VATAmount.String())

	// The explicit rate is ignored on every other kind.
	inv = &Invoice{Kind: KindShare}
	require.NoError(t, calc.Finalize(inv, dec("250"), CreateInvoiceRequest{VATRate: strPtr("8.1")}))
	require.Nil(t, inv.VATAmount)
}

func TestFinalizeMembershipSupportFee(t *testing.T) {
	rate := dec("7.7")
	calc := NewAmountCalculator(func(kind EntityKind) *decimal.Decimal {
		if kind == KindMembership {
			return &rate
		}
		return nil
	})

	inv := &Invoice{Kind: KindMembership}
	err := calc.Finalize(inv, dec("300"), CreateInvoiceRequest{SupportAmount: strPtr("50")})
	require.NoError(t, err)
	require.True(t, inv.Amount().Equal(dec("350")))
	require.True(t, inv.SupportAmount.Equal(dec("50")))
	// The support fee is exempt: VAT applies to the 300 share only.
	require.True(t, inv.VATAmount.Equal(dec("300").Sub(dec("278.55"))), inv.VATAmount.String())
}

func TestFinalizeSupportFeeIgnoredOutsideMembership(t *testing.T) {
	calc := NewAmountCalculator(nil)
	inv := &Invoice{Kind: KindOther}
	require.NoError(t, calc.Finalize(inv, dec("100"), CreateInvoiceRequest{SupportAmount: strPtr("50")}))
	require.True(t, inv.Amount().Equal(dec("100")))
	require.Nil(t, inv.SupportAmount)
}
