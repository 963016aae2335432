package billing

// CreateInvoiceRequest carries everything the resolvers need at creation
// time. Monetary inputs travel as decimal strings; they are parsed once and
// never pass through binary floating point.
type CreateInvoiceRequest struct {
	MemberID int64  `json:"member_id" validate:"required,gt=0"`
	Kind     string `json:"entity_kind" validate:"required,oneof=membership share activity_participation shop_order annual_fee new_member_fee other"`

	// Membership billing.
	MembershipID             *int64 `json:"membership_id,omitempty" validate:"omitempty,gt=0"`
	MembershipAmountFraction int    `json:"membership_amount_fraction,omitempty" validate:"omitempty,min=1,max=12"`

	// Share purchase; negative numbers bill a buy-back.
	SharesNumber *int `json:"shares_number,omitempty"`

	// Activity-participation shortfall; both required together.
	MissingActivityParticipationsCount      *int `json:"missing_activity_participations_count,omitempty" validate:"omitempty,gt=0"`
	MissingActivityParticipationsFiscalYear *int `json:"missing_activity_participations_fiscal_year,omitempty" validate:"omitempty,gt=2000"`

	// Shop orders reference their order row.
	EntityID *int64 `json:"entity_id,omitempty" validate:"omitempty,gt=0"`

	// Direct kinds (other, annual_fee, new_member_fee, shop_order).
	Amount      *string `json:"amount,omitempty"`
	Description *string `json:"description,omitempty"`

	// Annual membership support fee, combinable with a membership share.
	SupportAmount *string `json:"support_amount,omitempty"`

	// Optional percentage adjustment, −100..200.
	AmountPercentage *string `json:"amount_percentage,omitempty"`

	// Explicit VAT rate; only honoured on the other kind, every other kind
	// takes its rate from organisation configuration.
	VATRate *string `json:"vat_rate,omitempty"`

	ActorID int64 `json:"-"`
}

// ListInvoicesRequest filters the invoice listing.
type ListInvoicesRequest struct {
	MemberID *int64 `json:"member_id,omitempty"`
	State    *State `json:"state,omitempty"`
	Limit    int    `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int    `json:"offset" validate:"gte=0"`
}
