// Package jobs carries the asynchronous half of the billing lifecycle:
// invoice processing, payment settlement, transactional mail and the
// overdue notice cron. Delivery is at least once; every handler is safe
// to re-run.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskTypeInvoiceProcess moves a freshly created invoice out of the
	// processing state.
	TaskTypeInvoiceProcess = "invoice:process"
	// TaskTypeSettle redistributes a member's payments across their
	// invoices.
	TaskTypeSettle = "payments:settle"
	// TaskTypeSendEmail delivers one templated email.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeOverdueNotices is the cron that re-delivers open, sent
	// invoices past the notice delay.
	TaskTypeOverdueNotices = "billing:overdue_notices"
)

// InvoiceProcessPayload identifies the invoice to process.
type InvoiceProcessPayload struct {
	InvoiceID int64 `json:"invoice_id"`
}

// NewInvoiceProcessTask constructs the process task.
func NewInvoiceProcessTask(payload InvoiceProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvoiceProcess, data), nil
}

// SettlePayload identifies the member whose payments to reallocate.
type SettlePayload struct {
	MemberID int64 `json:"member_id"`
}

// NewSettleTask constructs the settlement task.
func NewSettleTask(payload SettlePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSettle, data), nil
}

// SendEmailPayload describes one templated email delivery.
type SendEmailPayload struct {
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	To       []string       `json:"to"`
}

// NewSendEmailTask constructs the mail task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewOverdueNoticesTask constructs the cron task; it carries no payload.
func NewOverdueNoticesTask() *asynq.Task {
	return asynq.NewTask(TaskTypeOverdueNotices, nil)
}

// InvoiceProcessor is the billing operation the process task drives.
type InvoiceProcessor interface {
	Process(ctx context.Context, invoiceID int64) error
}

// NewInvoiceProcessHandler builds the invoice:process handler. Process
// no-ops once the invoice left the processing state, so retries after a
// partial failure are harmless.
func NewInvoiceProcessHandler(processor InvoiceProcessor, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload InvoiceProcessPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := processor.Process(ctx, payload.InvoiceID); err != nil {
			logger.Error("process invoice",
				slog.Int64("invoice_id", payload.InvoiceID), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// Settler runs one member settlement.
type Settler interface {
	Settle(ctx context.Context, memberID int64) error
}

// NewSettleHandler builds the payments:settle handler. Settlement is
// idempotent, so at-least-once delivery never double-allocates.
func NewSettleHandler(settler Settler, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SettlePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := settler.Settle(ctx, payload.MemberID); err != nil {
			logger.Error("settle member",
				slog.Int64("member_id", payload.MemberID), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// MailSender delivers one templated email.
type MailSender interface {
	DeliverTemplate(ctx context.Context, template string, data map[string]any, to []string) error
}

// NewSendEmailHandler builds the mail:send handler.
func NewSendEmailHandler(sender MailSender, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := sender.DeliverTemplate(ctx, payload.Template, payload.Data, payload.To); err != nil {
			logger.Error("send mail", slog.String("template", payload.Template), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// OverdueNotifier runs the overdue notice batch for one cutoff.
type OverdueNotifier interface {
	SendOverdueNotices(ctx context.Context, cutoff time.Time) (int, error)
}

// NewOverdueNoticesHandler builds the cron handler. The cutoff is the
// send date before which an open invoice is considered overdue.
func NewOverdueNoticesHandler(notifier OverdueNotifier, delay time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		cutoff := time.Now().Add(-delay)
		sent, err := notifier.SendOverdueNotices(ctx, cutoff)
		if err != nil {
			logger.Error("overdue notices", slog.Any("error", err))
			return err
		}
		logger.Info("overdue notices sent", slog.Int("count", sent))
		return nil
	}
}
