package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProcessor struct {
	processed []int64
	err       error
}

func (p *fakeProcessor) Process(ctx context.Context, invoiceID int64) error {
	if p.err != nil {
		return p.err
	}
	p.processed = append(p.processed, invoiceID)
	return nil
}

func TestInvoiceProcessHandler(t *testing.T) {
	processor := &fakeProcessor{}
	handler := NewInvoiceProcessHandler(processor, testLogger())

	task, err := NewInvoiceProcessTask(InvoiceProcessPayload{InvoiceID: 7})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{7}, processor.processed)
}

func TestInvoiceProcessHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := NewInvoiceProcessHandler(&fakeProcessor{}, testLogger())
	err := handler(context.Background(), asynq.NewTask(TaskTypeInvoiceProcess, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestInvoiceProcessHandlerPropagatesFailureForRetry(t *testing.T) {
	boom := errors.New("db unavailable")
	handler := NewInvoiceProcessHandler(&fakeProcessor{err: boom}, testLogger())

	task, err := NewInvoiceProcessTask(InvoiceProcessPayload{InvoiceID: 7})
	require.NoError(t, err)
	require.ErrorIs(t, handler(context.Background(), task), boom)
}

type fakeSettler struct {
	settled []int64
}

func (s *fakeSettler) Settle(ctx context.Context, memberID int64) error {
	s.settled = append(s.settled, memberID)
	return nil
}

func TestSettleHandler(t *testing.T) {
	settler := &fakeSettler{}
	handler := NewSettleHandler(settler, testLogger())

	task, err := NewSettleTask(SettlePayload{MemberID: 3})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{3}, settler.settled)
}

type fakeMailSender struct {
	templates []string
}

func (m *fakeMailSender) DeliverTemplate(ctx context.Context, template string, data map[string]any, to []string) error {
	m.templates = append(m.templates, template)
	return nil
}

func TestSendEmailHandler(t *testing.T) {
	sender := &fakeMailSender{}
	handler := NewSendEmailHandler(sender, testLogger())

	task, err := NewSendEmailTask(SendEmailPayload{
		Template: "invoice_created",
		Data:     map[string]any{"invoice_id": 7},
		To:       []string{"aline@example.org"},
	})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []string{"invoice_created"}, sender.templates)
}

type fakeNotifier struct {
	cutoff time.Time
}

func (n *fakeNotifier) SendOverdueNotices(ctx context.Context, cutoff time.Time) (int, error) {
	n.cutoff = cutoff
	return 2, nil
}

func TestOverdueNoticesHandlerAppliesDelay(t *testing.T) {
	notifier := &fakeNotifier{}
	handler := NewOverdueNoticesHandler(notifier, 30*24*time.Hour, testLogger())

	require.NoError(t, handler(context.Background(), NewOverdueNoticesTask()))

	want := time.Now().Add(-30 * 24 * time.Hour)
	require.WithinDuration(t, want, notifier.cutoff, 5*time.Second)
}
