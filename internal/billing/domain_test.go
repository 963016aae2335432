package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountIsWrittenExactlyOnce(t *testing.T) {
	inv := &Invoice{}
	require.NoError(t, inv.setAmount(dec("120.50")))
	require.ErrorIs(t, inv.setAmount(dec("99")), ErrAmountFrozen)
	require.True(t, inv.Amount().Equal(dec("120.50")))
}

func TestBalanceDerivations(t *testing.T) {
	inv := &Invoice{}
	inv.restoreAmounts(dec("100"), dec("40"))
	require.True(t, inv.Balance().Equal(dec("-60")))
	require.True(t, inv.MissingAmount().Equal(dec("60")))
	require.True(t, inv.OverpaidAmount().IsZero())

	inv.restoreAmounts(dec("100"), dec("130"))
	require.True(t, inv.Balance().Equal(dec("30")))
	require.True(t, inv.MissingAmount().IsZero())
	require.True(t, inv.OverpaidAmount().Equal(dec("30")))
}

func TestDerivedState(t *testing.T) {
	inv := &Invoice{}
	inv.restoreAmounts(dec("100"), dec("100"))
	require.Equal(t, StateClosed, inv.derivedState())

	inv.restoreAmounts(dec("100"), dec("99.99"))
	require.Equal(t, StateOpen, inv.derivedState())

	// Overpayment still owes nothing.
	inv.restoreAmounts(dec("100"), dec("150"))
	require.Equal(t, StateClosed, inv.derivedState())
}

func TestClosedInvariant(t *testing.T) {
	inv := &Invoice{ID: 1, State: StateClosed}
	inv.restoreAmounts(dec("100"), dec("100"))
	require.NoError(t, inv.checkClosedInvariant())

	inv.restoreAmounts(dec("100"), dec("40"))
	require.ErrorIs(t, inv.checkClosedInvariant(), ErrAllocatorInconsistency)

	inv.State = StateOpen
	inv.restoreAmounts(dec("100"), dec("-5"))
	require.ErrorIs(t, inv.checkClosedInvariant(), ErrAllocatorInconsistency)

	// Processing and canceled invoices are outside the invariant.
	inv.State = StateCanceled
	require.NoError(t, inv.checkClosedInvariant())
}

func TestEntityKindValidity(t *testing.T) {
	for _, k := range []EntityKind{
		KindMembership, KindShare, KindActivityParticipation,
		KindShopOrder, KindAnnualFee, KindNewMemberFee, KindOther,
	} {
		require.True(t, k.Valid(), string(k))
	}
	require.False(t, EntityKind("subscription").Valid())

	require.True(t, KindMembership.EntityLinked())
	require.True(t, KindShopOrder.EntityLinked())
	require.False(t, KindShare.EntityLinked())
	require.False(t, KindOther.EntityLinked())
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{Op: "cancel", State: StateProcessing}
	require.Contains(t, err.Error(), "cancel")
	require.Contains(t, err.Error(), "processing")

	err = &TransitionError{Op: "cancel", State: StateClosed, Reason: "outside the current fiscal year"}
	require.Contains(t, err.Error(), "outside the current fiscal year")
}
