package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/harvestbill/harvestbill/internal/members"
)

func seedMembership(t *testing.T, env *testEnv, price string) *members.Membership {
	t.Helper()
	ms := &members.Membership{
		ID: 10, MemberID: 1, FiscalYear: 2026,
		Price:     dec(price),
		StartedOn: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndedOn:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	env.members.memberships[ms.ID] = ms
	return ms
}

func TestMembershipResolverBillsQuarterOfRemaining(t *testing.T) {
	env := newTestEnv(t)
	ms := seedMembership(t, env, "1200")
	r := &membershipResolver{repo: env.repo, members: env.members}

	req := CreateInvoiceRequest{MemberID: 1, MembershipID: &ms.ID, MembershipAmountFraction: 4}

	inv := &Invoice{Kind: KindMembership, State: StateProcessing, CreatedAt: env.now}
	base, err := r.Resolve(context.Background(), req, inv)
	require.NoError(t, err)
	require.True(t, base.Equal(dec("300")))
	require.True(t, inv.PaidMembershipsAmount.IsZero())
	require.True(t, inv.RemainingMembershipsAmount.Equal(dec("1200")))
	require.Equal(t, 4, inv.MembershipAmountFraction)
	require.Contains(t, *inv.MembershipsAmountDescription, "Membership 2026")
	require.Contains(t, *inv.MembershipsAmountDescription, "1/4")

	// A later quarter is computed from what is still unbilled, not from
	// the original price.
	first := dec("300")
	env.repo.seed(Invoice{
		MemberID: 1, Kind: KindMembership, State: StateProcessing,
		EntityID: &ms.ID, MembershipsAmount: &first,
	}, dec("300"), dec("0"))

	second := &Invoice{Kind: KindMembership, State: StateProcessing, CreatedAt: env.now}
	base, err = r.Resolve(context.Background(), req, second)
	require.NoError(t, err)
	require.True(t, base.Equal(dec("225")), base.String())
	require.True(t, second.PaidMembershipsAmount.Equal(dec("300")))
	require.True(t, second.RemainingMembershipsAmount.Equal(dec("900")))
}

func TestMembershipResolverRoundsToFiveCents(t *testing.T) {
	env := newTestEnv(t)
	ms := seedMembership(t, env, "1000")
	r := &membershipResolver{repo: env.repo, members: env.members}

	inv := &Invoice{Kind: KindMembership}
	base, err := r.Resolve(context.Background(), CreateInvoiceRequest{
		MemberID: 1, MembershipID: &ms.ID, MembershipAmountFraction: 3,
	}, inv)
	require.NoError(t, err)
	// 1000/3 = 333.33..., snapped to the five-cent grid.
	require.True(t, base.Equal(dec("333.35")), base.String())
}

func TestMembershipResolverRejectsOverBilling(t *testing.T) {
	env := newTestEnv(t)
	ms := seedMembership(t, env, "1000")
	r := &membershipResolver{repo: env.repo, members: env.members}

	// 966.67 already billed leaves 33.33, which the five-cent grid rounds
	// up to 33.35 and past the membership price.
	amount := dec("966.67")
	env.repo.seed(Invoice{
		MemberID: 1, Kind: KindMembership, State: StateOpen,
		EntityID: &ms.ID, MembershipsAmount: &amount,
	}, dec("966.67"), dec("0"))

	_, err := r.Resolve(context.Background(), CreateInvoiceRequest{
		MemberID: 1, MembershipID: &ms.ID,
	}, &Invoice{Kind: KindMembership})
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "memberships_amount", verr.Field)
}

func TestMembershipResolverIgnoresCanceledInvoices(t *testing.T) {
	env := newTestEnv(t)
	ms := seedMembership(t, env, "1200")
	r := &membershipResolver{repo: env.repo, members: env.members}

	canceled := dec("900")
	env.repo.seed(Invoice{
		MemberID: 1, Kind: KindMembership, State: StateCanceled,
		EntityID: &ms.ID, MembershipsAmount: &canceled,
	}, dec("900"), dec("0"))

	inv := &Invoice{Kind: KindMembership}
	base, err := r.Resolve(context.Background(), CreateInvoiceRequest{
		MemberID: 1, MembershipID: &ms.ID,
	}, inv)
	require.NoError(t, err)
	require.True(t, base.Equal(dec("1200")))
	require.True(t, inv.PaidMembershipsAmount.IsZero())
}

func TestMembershipResolverRejectsForeignMembership(t *testing.T) {
	env := newTestEnv(t)
	ms := seedMembership(t, env, "1200")
	ms.MemberID = 2
	r := &membershipResolver{repo: env.repo, members: env.members}

	_, err := r.Resolve(context.Background(), CreateInvoiceRequest{
		MemberID: 1, MembershipID: &ms.ID,
	}, &Invoice{Kind: KindMembership})
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "membership_id", verr.Field)
}

func TestShareResolver(t *testing.T) {
	r := &shareResolver{price: decimal.NewFromInt(250)}

	inv := &Invoice{Kind: KindShare}
	base, err := r.Resolve(context.Background(), CreateInvoiceRequest{SharesNumber: intPtr(3)}, inv)
	require.NoError(t, err)
	require.True(t, base.Equal(dec("750")))
	require.Equal(t, 3, *inv.SharesNumber)

	// Negative counts bill a buy-back.
	base, err = r.Resolve(context.Background(), CreateInvoiceRequest{SharesNumber: intPtr(-1)}, &Invoice{Kind: KindShare})
	require.NoError(t, err)
	require.True(t, base.Equal(dec("-250")))

	_, err = r.Resolve(context.Background(), CreateInvoiceRequest{SharesNumber: intPtr(0)}, &Invoice{Kind: KindShare})
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestActivityResolverRequiresCountAndYearTogether(t *testing.T) {
	r := &activityResolver{price: decimal.NewFromInt(50)}

	inv := &Invoice{Kind: KindActivityParticipation}
	base, err := r.Resolve(context.Background(), CreateInvoiceRequest{
		MissingActivityParticipationsCount:      intPtr(4),
		MissingActivityParticipationsFiscalYear: intPtr(2026),
	}, inv)
	require.NoError(t, err)
	require.True(t, base.Equal(dec("200")))
	require.Equal(t, 4, *inv.MissingActivityParticipationsCount)
	require.Equal(t, 2026, *inv.MissingActivityParticipationsFiscalYear)

	var verr ValidationError
	_, err = r.Resolve(context.Background(), CreateInvoiceRequest{
		MissingActivityParticipationsCount: intPtr(4),
	}, &Invoice{Kind: KindActivityParticipation})
	require.ErrorAs(t, err, &verr)
}

func TestDirectResolver(t *testing.T) {
	r := &directResolver{}

	inv := &Invoice{Kind: KindOther}
	base, err := r.Resolve(context.Background(), CreateInvoiceRequest{Amount: strPtr("42.40")}, inv)
	require.NoError(t, err)
	require.True(t, base.Equal(dec("42.40")))

	var verr ValidationError
	_, err = r.Resolve(context.Background(), CreateInvoiceRequest{}, &Invoice{Kind: KindOther})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "amount", verr.Field)

	// Shop orders must reference their order row.
	_, err = r.Resolve(context.Background(), CreateInvoiceRequest{Amount: strPtr("10")}, &Invoice{Kind: KindShopOrder})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "entity_id", verr.Field)

	shop := &Invoice{Kind: KindShopOrder}
	_, err = r.Resolve(context.Background(), CreateInvoiceRequest{Amount: strPtr("10"), EntityID: int64Ptr(5)}, shop)
	require.NoError(t, err)
	require.Equal(t, int64(5), *shop.EntityID)

	// Annual fees are booked as the support amount.
	annual := &Invoice{Kind: KindAnnualFee}
	_, err = r.Resolve(context.Background(), CreateInvoiceRequest{Amount: strPtr("90")}, annual)
	require.NoError(t, err)
	require.True(t, annual.SupportAmount.Equal(dec("90")))
}
