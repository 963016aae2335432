package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/members"
)

// SettleEnqueuer dispatches the member settlement through the job queue.
type SettleEnqueuer interface {
	EnqueueSettle(ctx context.Context, memberID int64) error
}

var errInvalidRequest = errors.New("payments: invalid request")

// Service records payments and triggers the asynchronous settlement
// that folds them into the member's invoices.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	members  members.Repository
	enqueuer SettleEnqueuer
	validate *validator.Validate
	now      func() time.Time
}

// NewService wires the payment recorder.
func NewService(logger *slog.Logger, repo Repository, membersRepo members.Repository, enqueuer SettleEnqueuer) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		members:  membersRepo,
		enqueuer: enqueuer,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithNow injects a clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record persists the payment and enqueues the member's settlement. The
// settlement is asynchronous: the payment is visible immediately, the
// invoice paid amounts follow.
func (s *Service) Record(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount must be a decimal amount", errInvalidRequest)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be non-zero", errInvalidRequest)
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", errInvalidRequest)
	}

	if _, err := s.members.GetMember(ctx, req.MemberID); err != nil {
		return nil, fmt.Errorf("verify member: %w", err)
	}

	p := &Payment{
		MemberID:  req.MemberID,
		Amount:    amount,
		Date:      date,
		Origin:    Origin(req.Origin),
		Reference: req.Reference,
		CreatedAt: s.now(),
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	p.ID = id

	if err := s.enqueuer.EnqueueSettle(ctx, p.MemberID); err != nil {
		// The payment is stored; the next settlement of this member picks
		// it up.
		s.logger.Error("enqueue settle", slog.Int64("member_id", p.MemberID), slog.Any("error", err))
	}
	return p, nil
}

// ListByMember returns the member's payments, newest first.
func (s *Service) ListByMember(ctx context.Context, memberID int64) ([]*Payment, error) {
	return s.repo.ListByMember(ctx, memberID)
}
