package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/members"
	"github.com/harvestbill/harvestbill/internal/sepa"
	"github.com/harvestbill/harvestbill/internal/shared"
)

// Allocator redistributes a payer's payments across that payer's
// non-cancelled invoices. Calling it twice with no new payments must not
// change any value.
type Allocator interface {
	Settle(ctx context.Context, memberID int64) error
}

// DocumentGateway renders and stores invoice PDFs. AttachInvoice is
// idempotent: re-attaching replaces the prior artifact.
type DocumentGateway interface {
	AttachInvoice(ctx context.Context, inv *Invoice) error
	StampCanceled(ctx context.Context, invoiceID int64) error
}

// NotificationGateway delivers templated emails.
type NotificationGateway interface {
	DeliverTemplate(ctx context.Context, template string, data map[string]any, to []string) error
}

// DirectDebitGateway uploads pain.008 orders to the bank.
type DirectDebitGateway interface {
	Configured() bool
	UploadOrder(ctx context.Context, payload []byte) (string, string, error)
}

// ProcessEnqueuer dispatches the post-creation process command through the
// at-least-once job queue.
type ProcessEnqueuer interface {
	EnqueueInvoiceProcess(ctx context.Context, invoiceID int64) error
}

// AuditPort records domain events for the audit query surface.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics counts billing outcomes; a nil implementation is allowed.
type Metrics interface {
	IncInvoiceProcessed(state string)
	IncSettlement()
	IncDeliveryFailure(kind string)
}

// ServiceConfig carries the organisation knobs the state machine needs.
type ServiceConfig struct {
	Tenant           string
	Currency         string
	SendAfterProcess bool
	FiscalYears      shared.FiscalYears
	SharePrice       decimal.Decimal
	ActivityPrice    decimal.Decimal
	VATRateFor       func(kind EntityKind) *decimal.Decimal
	Creditor         sepa.Creditor
	// CollectionLeadDays is how far in the future direct debits are due.
	CollectionLeadDays int
}

// Service owns the guarded invoice lifecycle.
type Service struct {
	logger      *slog.Logger
	repo        Repository
	members     members.Repository
	allocator   Allocator
	documents   DocumentGateway
	notifier    NotificationGateway
	directDebit DirectDebitGateway
	enqueuer    ProcessEnqueuer
	audit       AuditPort
	metrics     Metrics
	resolvers   map[EntityKind]EntityResolver
	calculator  *AmountCalculator
	cfg         ServiceConfig
	validate    *validator.Validate
	now         func() time.Time
}

// NewService wires the state machine with its collaborators.
func NewService(
	logger *slog.Logger,
	repo Repository,
	membersRepo members.Repository,
	allocator Allocator,
	documents DocumentGateway,
	notifier NotificationGateway,
	directDebit DirectDebitGateway,
	enqueuer ProcessEnqueuer,
	audit AuditPort,
	metrics Metrics,
	cfg ServiceConfig,
) *Service {
	if cfg.CollectionLeadDays <= 0 {
		cfg.CollectionLeadDays = 2
	}
	return &Service{
		logger:      logger,
		repo:        repo,
		members:     membersRepo,
		allocator:   allocator,
		documents:   documents,
		notifier:    notifier,
		directDebit: directDebit,
		enqueuer:    enqueuer,
		audit:       audit,
		metrics:     metrics,
		resolvers:   newResolvers(repo, membersRepo, cfg.SharePrice, cfg.ActivityPrice),
		calculator:  NewAmountCalculator(cfg.VATRateFor),
		cfg:         cfg,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// WithNow injects a clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns invoices matching the filters.
func (s *Service) List(ctx context.Context, req ListInvoicesRequest) ([]*Invoice, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	if req.Limit == 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// Create resolves the base amount, freezes the billed total and persists
// the invoice in the processing state, then dispatches the process command
// through the job queue. The resolver and calculator run exactly once,
// inside the creation transaction.
func (s *Service) Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	kind := EntityKind(req.Kind)
	if !kind.Valid() {
		return nil, ValidationError{Field: "entity_kind", Message: "is unknown"}
	}

	member, err := s.members.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, fmt.Errorf("verify member: %w", err)
	}

	inv := &Invoice{
		MemberID:  member.ID,
		Kind:      kind,
		State:     StateProcessing,
		CreatedAt: s.now(),
		// Snapshot of the mandate at creation time; later mandate changes
		// never affect this invoice.
		SEPAMetadata: member.Mandate(),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		base, err := s.resolvers[kind].Resolve(ctx, req, inv)
		if err != nil {
			return err
		}
		if err := s.calculator.Finalize(inv, base, req); err != nil {
			return err
		}
		id, err := repo.Create(ctx, inv)
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		inv.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueuer.EnqueueInvoiceProcess(ctx, inv.ID); err != nil {
		// The invoice exists and stays in processing; the operator can
		// re-trigger processing through the worker.
		s.logger.Error("enqueue invoice process", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}
	s.recordAudit(ctx, req.ActorID, "create", inv.ID, map[string]any{"amount": inv.Amount().StringFixed(2)})
	return inv, nil
}

// Process settles the payer, attaches the document and moves the invoice
// out of processing. It is a no-op unless the invoice is still processing,
// which makes it safe to re-run after a partial failure; the job queue
// delivers it at least once.
func (s *Service) Process(ctx context.Context, id int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.State != StateProcessing {
		return nil
	}

	if err := s.settle(ctx, inv.MemberID); err != nil {
		return err
	}
	if err := s.applyEntitySideEffects(ctx, s.repo, inv); err != nil {
		return err
	}

	// Reload to absorb the allocator's paid_amount writes.
	inv, err = s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.documents.AttachInvoice(ctx, inv); err != nil {
		return fmt.Errorf("attach invoice document: %w", err)
	}
	// Absorb payments that arrived while the document was rendering.
	if err := s.settle(ctx, inv.MemberID); err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.State != StateProcessing {
			// Lost a race against cancel; nothing left to do.
			return nil
		}
		if err := repo.SetState(ctx, id, StateOpen); err != nil {
			return err
		}
		current.State = StateOpen
		return s.closeOrOpenLocked(ctx, repo, current)
	})
	if err != nil {
		return err
	}

	inv, err = s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncInvoiceProcessed(string(inv.State))
	}
	if s.cfg.SendAfterProcess {
		if err := s.Send(ctx, id, 0); err != nil {
			return err
		}
	}
	return nil
}

// CloseOrOpen persists the derived state: closed when nothing is owed,
// open otherwise. It fails while processing or canceled and writes only
// the state column.
func (s *Service) CloseOrOpen(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		return s.closeOrOpenLocked(ctx, repo, inv)
	})
}

func (s *Service) closeOrOpenLocked(ctx context.Context, repo Repository, inv *Invoice) error {
	if inv.State == StateProcessing || inv.State == StateCanceled {
		return &TransitionError{Op: "close_or_open", State: inv.State}
	}
	if inv.PaidAmount().IsNegative() {
		return fmt.Errorf("%w: invoice %d has negative paid amount", ErrAllocatorInconsistency, inv.ID)
	}
	next := inv.derivedState()
	if next == inv.State {
		return nil
	}
	if err := repo.SetState(ctx, inv.ID, next); err != nil {
		return err
	}
	inv.State = next
	return inv.checkClosedInvariant()
}

// Send delivers the invoice by email and records sent_at. It is a no-op
// unless the invoice is sendable; delivery failures are reported but never
// raised, and sent_at stays unset when delivery failed.
func (s *Service) Send(ctx context.Context, id int64, actorID int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	member, err := s.members.GetMember(ctx, inv.MemberID)
	if err != nil {
		return err
	}
	if !s.sendable(inv, member) {
		return nil
	}

	if err := s.notifier.DeliverTemplate(ctx, "invoice_created", s.templateData(inv, member), member.BillingEmails()); err != nil {
		s.logger.Error("invoice email delivery failed",
			slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.IncDeliveryFailure("invoice_created")
		}
		return nil
	}

	if err := s.repo.MarkSent(ctx, id, s.now()); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "send", id, nil)
	return nil
}

// MarkAsSent is the administrative override: sent_at without emailing.
func (s *Service) MarkAsSent(ctx context.Context, id int64, actorID int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.State == StateProcessing {
		return &TransitionError{Op: "mark_as_sent", State: inv.State}
	}
	if err := s.repo.MarkSent(ctx, id, s.now()); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "send", id, map[string]any{"manual": true})
	return nil
}

// Cancel marks the invoice canceled and re-settles the payer: freeing an
// invoice changes how the payer's existing payments distribute across the
// remaining ones.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) error {
	var memberID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkCancelable(ctx, repo, inv); err != nil {
			return err
		}
		if err := repo.Cancel(ctx, id, s.now()); err != nil {
			return err
		}
		inv.State = StateCanceled
		memberID = inv.MemberID
		return s.applyEntitySideEffects(ctx, repo, inv)
	})
	if err != nil {
		return err
	}

	if err := s.settle(ctx, memberID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "cancel", id, nil)
	return nil
}

// Uncancel clears the cancellation, re-derives the state from what is
// still owed, re-settles the payer and re-requests the document.
func (s *Service) Uncancel(ctx context.Context, id int64, actorID int64) error {
	var memberID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if inv.State != StateCanceled {
			return &TransitionError{Op: "uncancel", State: inv.State}
		}
		if err := repo.Uncancel(ctx, id, StateOpen); err != nil {
			return err
		}
		inv.State = StateOpen
		inv.CanceledAt = nil
		inv.StampedAt = nil
		memberID = inv.MemberID
		return s.applyEntitySideEffects(ctx, repo, inv)
	})
	if err != nil {
		return err
	}

	// settle re-derives open/closed for the whole payer, this invoice
	// included.
	if err := s.settle(ctx, memberID); err != nil {
		return err
	}

	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.documents.AttachInvoice(ctx, inv); err != nil {
		// The financial state is already consistent; the document can be
		// re-attached later.
		s.logger.Error("re-attach invoice document", slog.Int64("invoice_id", id), slog.Any("error", err))
	}
	s.recordAudit(ctx, actorID, "uncancel", id, nil)
	return nil
}

// DestroyOrCancel hard-deletes the invoice when destroyable, cancels it
// when cancelable, and fails otherwise.
func (s *Service) DestroyOrCancel(ctx context.Context, id int64, actorID int64) error {
	var (
		memberID  int64
		destroyed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		memberID = inv.MemberID

		ok, err := s.destroyable(ctx, repo, inv)
		if err != nil {
			return err
		}
		if ok {
			if err := repo.Delete(ctx, id); err != nil {
				return err
			}
			destroyed = true
			inv.State = StateCanceled // share count must no longer include it
			return s.applyEntitySideEffects(ctx, repo, inv)
		}

		if err := s.checkCancelable(ctx, repo, inv); err != nil {
			return &TransitionError{Op: "destroy_or_cancel", State: inv.State, Reason: err.Error()}
		}
		if err := repo.Cancel(ctx, id, s.now()); err != nil {
			return err
		}
		inv.State = StateCanceled
		return s.applyEntitySideEffects(ctx, repo, inv)
	})
	if err != nil {
		return err
	}

	if err := s.settle(ctx, memberID); err != nil {
		return err
	}
	action := "cancel"
	if destroyed {
		action = "destroy"
	}
	s.recordAudit(ctx, actorID, action, id, nil)
	return nil
}

// StampAsCanceled overlays the cancellation watermark on the stored
// document. Only canceled, unstamped invoices qualify; stamped_at is set
// exactly once.
func (s *Service) StampAsCanceled(ctx context.Context, id int64, actorID int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.State != StateCanceled || inv.StampedAt != nil {
		return &TransitionError{Op: "stamp_as_canceled", State: inv.State}
	}
	if err := s.documents.StampCanceled(ctx, id); err != nil {
		return fmt.Errorf("stamp invoice document: %w", err)
	}
	if err := s.repo.Stamp(ctx, id, s.now()); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "stamp_as_canceled", id, nil)
	return nil
}

// UploadDirectDebit builds and uploads the pain.008 order for the missing
// amount. The boolean reports success; upload failures are logged as a
// domain event, never propagated.
func (s *Service) UploadDirectDebit(ctx context.Context, id int64) (bool, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !s.directDebitUploadable(inv) {
		return false, nil
	}

	order := sepa.Order{
		CollectionDate: s.now().AddDate(0, 0, s.cfg.CollectionLeadDays),
		Debits: []sepa.Debit{{
			EndToEndID: fmt.Sprintf("%s-invoice-%d", s.cfg.Tenant, inv.ID),
			Amount:     inv.MissingAmount(),
			Currency:   s.cfg.Currency,
			Mandate:    *inv.SEPAMetadata,
			Remittance: fmt.Sprintf("Invoice %d", inv.ID),
		}},
	}
	payload, err := sepa.BuildPain008(s.cfg.Creditor, order, s.now())
	if err != nil {
		return false, err
	}

	_, orderID, err := s.directDebit.UploadOrder(ctx, payload)
	if err != nil {
		s.logger.Error("direct debit upload failed", slog.Int64("invoice_id", id), slog.Any("error", err))
		s.recordAudit(ctx, 0, "direct_debit_upload_failed", id, map[string]any{"error": err.Error()})
		return false, nil
	}

	if err := s.repo.SetDirectDebitOrder(ctx, id, orderID, s.now()); err != nil {
		return false, err
	}
	s.recordAudit(ctx, 0, "direct_debit_uploaded", id, map[string]any{"order_id": orderID})
	return true, nil
}

// SendOverdueNotices re-attaches and re-delivers every open, sent invoice
// past the notice cutoff, bumping its notice counter. Collaborator
// failures are reported per invoice and never abort the batch.
func (s *Service) SendOverdueNotices(ctx context.Context, cutoff time.Time) (int, error) {
	candidates, err := s.repo.ListOverdueCandidates(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, inv := range candidates {
		if inv.State != StateOpen || !inv.Sent() || inv.MissingAmount().IsZero() {
			continue
		}
		count, err := s.repo.IncrementOverdueNotices(ctx, inv.ID)
		if err != nil {
			return sent, err
		}
		inv.OverdueNoticesCount = count
		// The notice number is printed on the document.
		if err := s.documents.AttachInvoice(ctx, inv); err != nil {
			s.logger.Error("overdue notice document", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
			continue
		}
		member, err := s.members.GetMember(ctx, inv.MemberID)
		if err != nil {
			return sent, err
		}
		if err := s.notifier.DeliverTemplate(ctx, "invoice_overdue_notice", s.templateData(inv, member), member.BillingEmails()); err != nil {
			s.logger.Error("overdue notice delivery failed", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.IncDeliveryFailure("invoice_overdue_notice")
			}
			continue
		}
		sent++
	}
	return sent, nil
}

var errInvalidRequest = errors.New("billing: invalid request")

// settle reallocates the payer's payments and then re-derives the
// lifecycle state of every invoice the reallocation may have touched:
// an open invoice that became fully paid closes, a closed one that lost
// its allocation reopens. Without the second step a sibling invoice
// could persist as closed while owing money.
func (s *Service) settle(ctx context.Context, memberID int64) error {
	if err := s.allocator.Settle(ctx, memberID); err != nil {
		return fmt.Errorf("settle member %d: %w", memberID, err)
	}
	if s.metrics != nil {
		s.metrics.IncSettlement()
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		invoices, err := repo.ListByMember(ctx, memberID)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			if inv.State == StateProcessing || inv.State == StateCanceled {
				continue
			}
			if err := s.closeOrOpenLocked(ctx, repo, inv); err != nil {
				return err
			}
		}
		return nil
	})
}

// Settle is the payments:settle entry point: it reallocates the member's
// payments and keeps every invoice's open/closed state in step with its
// new paid amount. Both halves are idempotent, so a crash between them is
// healed by the next run.
func (s *Service) Settle(ctx context.Context, memberID int64) error {
	return s.settle(ctx, memberID)
}

func (s *Service) sendable(inv *Invoice, member *members.Member) bool {
	return inv.State != StateProcessing &&
		inv.State != StateCanceled &&
		!inv.Sent() &&
		member.Billable()
}

func (s *Service) directDebitUploadable(inv *Invoice) bool {
	return inv.State == StateOpen &&
		inv.SEPAMetadata.Valid() &&
		inv.Sent() &&
		inv.DirectDebitUploadedAt == nil &&
		s.directDebit.Configured()
}

// destroyable: most recent invoice for its entity, out of processing,
// never sent and nothing paid against it.
func (s *Service) destroyable(ctx context.Context, repo Repository, inv *Invoice) (bool, error) {
	if inv.State == StateProcessing || inv.Sent() {
		return false, nil
	}
	hasPayments, err := repo.HasPayments(ctx, inv.ID)
	if err != nil {
		return false, err
	}
	if hasPayments {
		return false, nil
	}
	return s.latestForEntity(ctx, repo, inv)
}

// checkCancelable applies the cancellation guards and returns a
// TransitionError naming the first one that fails.
func (s *Service) checkCancelable(ctx context.Context, repo Repository, inv *Invoice) error {
	fail := func(reason string) error {
		return &TransitionError{Op: "cancel", State: inv.State, Reason: reason}
	}

	if ok, err := s.destroyable(ctx, repo, inv); err != nil {
		return err
	} else if ok {
		return fail("invoice is destroyable, destroy it instead")
	}
	if inv.State == StateProcessing {
		return fail("still processing")
	}
	if inv.State == StateCanceled {
		return fail("already canceled")
	}

	now := s.now()
	currentFY := s.cfg.FiscalYears.Current(now)
	inCurrentFY := currentFY.Contains(inv.CreatedAt)
	priorFY := s.cfg.FiscalYears.For(inv.CreatedAt).Year < currentFY.Year

	eligible := inCurrentFY || inv.State == StateOpen
	if !eligible && inv.Kind == KindActivityParticipation && priorFY {
		eligible = true
	}
	if !eligible && inv.Kind == KindMembership && inv.EntityID != nil {
		ms, err := s.members.GetMembership(ctx, *inv.EntityID)
		if err != nil {
			return err
		}
		if ms.FiscalYear == currentFY.Year {
			eligible = true
		}
	}
	if !eligible {
		return fail("outside the current fiscal year")
	}

	if inv.Kind == KindShare && inv.State != StateOpen {
		return fail("share invoices can only be canceled while open")
	}

	if ok, err := s.latestForEntity(ctx, repo, inv); err != nil {
		return err
	} else if !ok {
		return fail("a more recent invoice exists for the same entity")
	}
	return nil
}

func (s *Service) latestForEntity(ctx context.Context, repo Repository, inv *Invoice) (bool, error) {
	if !inv.Kind.EntityLinked() || inv.EntityID == nil {
		return true, nil
	}
	latest, err := repo.LatestInvoiceID(ctx, inv.Kind, *inv.EntityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return latest == inv.ID, nil
}

// applyEntitySideEffects re-derives what the invoice set implies on the
// payer record, currently the association share count.
func (s *Service) applyEntitySideEffects(ctx context.Context, repo Repository, inv *Invoice) error {
	if inv.Kind != KindShare {
		return nil
	}
	return repo.RefreshMemberShareCount(ctx, inv.MemberID)
}

func (s *Service) templateData(inv *Invoice, member *members.Member) map[string]any {
	return map[string]any{
		"invoice_id":            inv.ID,
		"member_name":           member.Name,
		"amount":                inv.Amount().StringFixed(2),
		"missing_amount":        inv.MissingAmount().StringFixed(2),
		"currency":              s.cfg.Currency,
		"overdue_notices_count": inv.OverdueNoticesCount,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(invoiceID, 10),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
