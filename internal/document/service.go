package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/billing"
	"github.com/harvestbill/harvestbill/internal/members"
)

// InvoiceSource loads invoices for re-renders.
type InvoiceSource interface {
	Get(ctx context.Context, id int64) (*billing.Invoice, error)
}

// Config carries the rendering knobs.
type Config struct {
	Tenant       string
	Organisation string
	Currency     string
}

// Service renders and stores invoice documents. It implements the
// billing document gateway.
type Service struct {
	logger   *slog.Logger
	renderer *Gotenberg
	store    Store
	invoices InvoiceSource
	members  members.Repository
	cfg      Config
	now      func() time.Time
}

// NewService wires the document gateway.
func NewService(logger *slog.Logger, renderer *Gotenberg, store Store, invoices InvoiceSource, membersRepo members.Repository, cfg Config) *Service {
	return &Service{
		logger:   logger,
		renderer: renderer,
		store:    store,
		invoices: invoices,
		members:  membersRepo,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow injects a clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AttachInvoice renders the invoice and replaces the stored artifact.
func (s *Service) AttachInvoice(ctx context.Context, inv *billing.Invoice) error {
	return s.render(ctx, inv, false)
}

// StampCanceled re-renders the invoice with the cancellation watermark
// and replaces the stored artifact.
func (s *Service) StampCanceled(ctx context.Context, invoiceID int64) error {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	return s.render(ctx, inv, true)
}

func (s *Service) render(ctx context.Context, inv *billing.Invoice, canceled bool) error {
	member, err := s.members.GetMember(ctx, inv.MemberID)
	if err != nil {
		return fmt.Errorf("load member %d: %w", inv.MemberID, err)
	}

	html, err := renderInvoiceHTML(s.invoiceData(inv, member, canceled))
	if err != nil {
		return fmt.Errorf("render invoice html: %w", err)
	}
	pdf, err := s.renderer.RenderHTML(ctx, html)
	if err != nil {
		return fmt.Errorf("render invoice pdf: %w", err)
	}

	doc := Stored{
		InvoiceID:   inv.ID,
		FileName:    fmt.Sprintf("invoice-%s-%d.pdf", s.cfg.Tenant, inv.ID),
		ContentType: "application/pdf",
		Data:        pdf,
		UpdatedAt:   s.now(),
	}
	if err := s.store.Put(ctx, doc); err != nil {
		return fmt.Errorf("store invoice document: %w", err)
	}
	s.logger.Debug("invoice document stored",
		slog.Int64("invoice_id", inv.ID), slog.String("file", doc.FileName))
	return nil
}

func (s *Service) invoiceData(inv *billing.Invoice, member *members.Member, canceled bool) invoiceData {
	lang := member.Language
	if lang == "" {
		lang = "en"
	}
	data := invoiceData{
		Lang:         lang,
		Organisation: s.cfg.Organisation,
		Number:       fmt.Sprintf("%s-%d", s.cfg.Tenant, inv.ID),
		Date:         inv.CreatedAt.Format("02.01.2006"),
		MemberName:   member.Name,
		Total:        formatAmount(inv.Amount(), s.cfg.Currency, lang),
		Canceled:     canceled,
	}
	if canceled {
		data.CanceledLabel = "CANCELED"
	}

	for _, line := range s.lines(inv) {
		data.Lines = append(data.Lines, invoiceLine{
			Label:  line.label,
			Amount: formatAmount(line.amount, s.cfg.Currency, lang),
		})
	}
	if !inv.PaidAmount().IsZero() {
		data.Paid = formatAmount(inv.PaidAmount(), s.cfg.Currency, lang)
	}
	if !inv.MissingAmount().IsZero() {
		data.Missing = formatAmount(inv.MissingAmount(), s.cfg.Currency, lang)
	}
	if inv.OverdueNoticesCount > 0 {
		data.NoticeLabel = fmt.Sprintf("Payment reminder %d", inv.OverdueNoticesCount)
	}
	return data
}

type amountLine struct {
	label  string
	amount decimal.Decimal
}

func (s *Service) lines(inv *billing.Invoice) []amountLine {
	var out []amountLine
	switch inv.Kind {
	case billing.KindMembership:
		if inv.MembershipsAmount != nil {
			label := "Membership"
			if inv.MembershipsAmountDescription != nil {
				label = *inv.MembershipsAmountDescription
			}
			out = append(out, amountLine{label: label, amount: *inv.MembershipsAmount})
		}
		if inv.SupportAmount != nil {
			out = append(out, amountLine{label: "Support fee", amount: *inv.SupportAmount})
		}
	case billing.KindShare:
		n := 0
		if inv.SharesNumber != nil {
			n = *inv.SharesNumber
		}
		out = append(out, amountLine{
			label:  fmt.Sprintf("Association shares (%d)", n),
			amount: inv.Amount(),
		})
	case billing.KindActivityParticipation:
		count := 0
		if inv.MissingActivityParticipationsCount != nil {
			count = *inv.MissingActivityParticipationsCount
		}
		out = append(out, amountLine{
			label:  fmt.Sprintf("Missed activity participations (%d)", count),
			amount: inv.Amount(),
		})
	default:
		out = append(out, amountLine{label: "Invoice amount", amount: inv.Amount()})
	}
	if inv.VATAmount != nil && inv.VATRate != nil {
		out = append(out, amountLine{
			label:  fmt.Sprintf("Including VAT %s%%", inv.VATRate.String()),
			amount: *inv.VATAmount,
		})
	}
	return out
}
