package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/members"
	"github.com/harvestbill/harvestbill/internal/money"
)

// EntityResolver computes the base amount and description for one
// chargeable kind from that kind's own data. Resolvers run exactly once,
// inside the creation transaction, and populate the kind-specific invoice
// fields as they go.
type EntityResolver interface {
	Resolve(ctx context.Context, req CreateInvoiceRequest, inv *Invoice) (decimal.Decimal, error)
}

func newResolvers(repo Repository, membersRepo members.Repository, sharePrice, activityPrice decimal.Decimal) map[EntityKind]EntityResolver {
	return map[EntityKind]EntityResolver{
		KindMembership:            &membershipResolver{repo: repo, members: membersRepo},
		KindShare:                 &shareResolver{price: sharePrice},
		KindActivityParticipation: &activityResolver{price: activityPrice},
		KindShopOrder:             &directResolver{},
		KindAnnualFee:             &directResolver{},
		KindNewMemberFee:          &directResolver{},
		KindOther:                 &directResolver{},
	}
}

// membershipResolver bills a fraction of what remains unbilled on a
// membership. It rejects any creation that would over-bill the membership
// across its non-cancelled invoices.
type membershipResolver struct {
	repo    Repository
	members members.Repository
}

func (r *membershipResolver) Resolve(ctx context.Context, req CreateInvoiceRequest, inv *Invoice) (decimal.Decimal, error) {
	if req.MembershipID == nil {
		return decimal.Zero, ValidationError{Field: "membership_id", Message: "is required"}
	}
	ms, err := r.members.GetMembership(ctx, *req.MembershipID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolve membership: %w", err)
	}
	if ms.MemberID != req.MemberID {
		return decimal.Zero, ValidationError{Field: "membership_id", Message: "does not belong to the member"}
	}

	paid, err := r.repo.SumMembershipBilled(ctx, ms.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum billed memberships amount: %w", err)
	}
	remaining := ms.Price.Sub(paid)

	fraction := req.MembershipAmountFraction
	if fraction == 0 {
		fraction = 1
	}
	base := money.RoundToFiveCents(remaining.Div(decimal.NewFromInt(int64(fraction))))

	if paid.Add(base).GreaterThan(ms.Price) {
		return decimal.Zero, ValidationError{
			Field:   "memberships_amount",
			Message: fmt.Sprintf("would bill %s of a %s membership", paid.Add(base), ms.Price),
		}
	}

	desc := fmt.Sprintf("Membership %d (%s to %s)", ms.FiscalYear,
		ms.StartedOn.Format("02.01.2006"), ms.EndedOn.Format("02.01.2006"))
	if fraction > 1 {
		desc = fmt.Sprintf("%s, 1/%d", desc, fraction)
	}

	inv.EntityID = &ms.ID
	inv.MembershipsAmount = &base
	inv.MembershipsAmountDescription = &desc
	inv.PaidMembershipsAmount = &paid
	inv.RemainingMembershipsAmount = &remaining
	inv.MembershipAmountFraction = fraction
	return base, nil
}

// shareResolver bills association capital shares at the configured price.
type shareResolver struct {
	price decimal.Decimal
}

func (r *shareResolver) Resolve(ctx context.Context, req CreateInvoiceRequest, inv *Invoice) (decimal.Decimal, error) {
	if req.SharesNumber == nil || *req.SharesNumber == 0 {
		return decimal.Zero, ValidationError{Field: "shares_number", Message: "must be non-zero"}
	}
	n := *req.SharesNumber
	base := r.price.Mul(decimal.NewFromInt(int64(n)))

	inv.SharesNumber = &n
	return base, nil
}

// activityResolver bills missed activity participations; count and fiscal
// year are required together and immutable afterwards.
type activityResolver struct {
	price decimal.Decimal
}

func (r *activityResolver) Resolve(ctx context.Context, req CreateInvoiceRequest, inv *Invoice) (decimal.Decimal, error) {
	if req.MissingActivityParticipationsCount == nil || req.MissingActivityParticipationsFiscalYear == nil {
		return decimal.Zero, ValidationError{
			Field:   "missing_activity_participations",
			Message: "count and fiscal year are required together",
		}
	}
	count := *req.MissingActivityParticipationsCount
	year := *req.MissingActivityParticipationsFiscalYear
	base := r.price.Mul(decimal.NewFromInt(int64(count)))

	inv.MissingActivityParticipationsCount = &count
	inv.MissingActivityParticipationsFiscalYear = &year
	return base, nil
}

// directResolver covers the kinds whose base amount is supplied by the
// caller: shop orders, annual fees, new-member fees and free-form charges.
type directResolver struct{}

func (r *directResolver) Resolve(ctx context.Context, req CreateInvoiceRequest, inv *Invoice) (decimal.Decimal, error) {
	if req.Amount == nil {
		return decimal.Zero, ValidationError{Field: "amount", Message: "is required"}
	}
	base, err := decimal.NewFromString(*req.Amount)
	if err != nil {
		return decimal.Zero, ValidationError{Field: "amount", Message: "must be a decimal amount"}
	}
	if inv.Kind == KindShopOrder {
		if req.EntityID == nil {
			return decimal.Zero, ValidationError{Field: "entity_id", Message: "is required for shop orders"}
		}
		inv.EntityID = req.EntityID
	}
	if inv.Kind == KindAnnualFee {
		inv.SupportAmount = &base
	}
	return base, nil
}
