package document

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/harvestbill/harvestbill/internal/billing"
	"github.com/harvestbill/harvestbill/internal/members"
)

type memoryStore struct {
	docs map[int64]Stored
	puts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[int64]Stored)}
}

func (s *memoryStore) Put(ctx context.Context, doc Stored) error {
	s.puts++
	s.docs[doc.InvoiceID] = doc
	return nil
}

func (s *memoryStore) Get(ctx context.Context, invoiceID int64) (*Stored, error) {
	doc, ok := s.docs[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

type fakeInvoices struct {
	invoices map[int64]*billing.Invoice
}

func (f *fakeInvoices) Get(ctx context.Context, id int64) (*billing.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return inv, nil
}

type fakeMembers struct {
	members map[int64]*members.Member
}

func (f *fakeMembers) GetMember(ctx context.Context, id int64) (*members.Member, error) {
	m, ok := f.members[id]
	if !ok {
		return nil, members.ErrNotFound
	}
	return m, nil
}

func (f *fakeMembers) GetMembership(ctx context.Context, id int64) (*members.Membership, error) {
	return nil, members.ErrNotFound
}

// gotenbergStub answers the conversion endpoint and keeps the HTML it
// was asked to convert.
type gotenbergStub struct {
	server   *httptest.Server
	lastHTML string
}

func newGotenbergStub(t *testing.T) *gotenbergStub {
	t.Helper()
	stub := &gotenbergStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/forms/chromium/convert/html":
			file, _, err := r.FormFile("files")
			require.NoError(t, err)
			html, err := io.ReadAll(file)
			require.NoError(t, err)
			stub.lastHTML = string(html)
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 stub"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func newTestService(t *testing.T) (*Service, *memoryStore, *gotenbergStub, *fakeInvoices) {
	t.Helper()
	stub := newGotenbergStub(t)
	store := newMemoryStore()
	invoices := &fakeInvoices{invoices: make(map[int64]*billing.Invoice)}
	mm := &fakeMembers{members: map[int64]*members.Member{
		1: {ID: 1, Name: "Aline Rochat", Language: "fr", Emails: []string{"aline@example.org"}},
	}}
	svc := NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewGotenberg(stub.server.URL),
		store, invoices, mm,
		Config{Tenant: "lesjardins", Organisation: "Les Jardins du Coteau", Currency: "CHF"},
	)
	svc.WithNow(func() time.Time { return time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC) })
	return svc, store, stub, invoices
}

func TestAttachInvoiceStoresPDF(t *testing.T) {
	svc, store, stub, _ := newTestService(t)
	inv := &billing.Invoice{ID: 7, MemberID: 1, Kind: billing.KindOther, State: billing.StateOpen,
		CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, svc.AttachInvoice(context.Background(), inv))

	doc, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "invoice-lesjardins-7.pdf", doc.FileName)
	require.Equal(t, "application/pdf", doc.ContentType)
	require.NotEmpty(t, doc.Data)
	require.Contains(t, stub.lastHTML, "Aline Rochat")
	require.Contains(t, stub.lastHTML, "Les Jardins du Coteau")
	require.NotContains(t, stub.lastHTML, "CANCELED")
}

func TestAttachInvoiceReplacesPriorArtifact(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	inv := &billing.Invoice{ID: 7, MemberID: 1, Kind: billing.KindOther, State: billing.StateOpen,
		CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, svc.AttachInvoice(context.Background(), inv))
	inv.OverdueNoticesCount = 1
	require.NoError(t, svc.AttachInvoice(context.Background(), inv))

	require.Equal(t, 2, store.puts)
	require.Len(t, store.docs, 1)
}

func TestStampCanceledOverlaysWatermark(t *testing.T) {
	svc, store, stub, invoices := newTestService(t)
	invoices.invoices[7] = &billing.Invoice{ID: 7, MemberID: 1, Kind: billing.KindOther,
		State: billing.StateCanceled, CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, svc.StampCanceled(context.Background(), 7))

	require.Contains(t, stub.lastHTML, "CANCELED")
	_, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
}

func TestStampCanceledUnknownInvoice(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	require.ErrorIs(t, svc.StampCanceled(context.Background(), 99), billing.ErrNotFound)
}

func TestOverdueNoticePrintsReminderNumber(t *testing.T) {
	svc, _, stub, _ := newTestService(t)
	inv := &billing.Invoice{ID: 7, MemberID: 1, Kind: billing.KindOther, State: billing.StateOpen,
		OverdueNoticesCount: 2, CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, svc.AttachInvoice(context.Background(), inv))
	require.Contains(t, stub.lastHTML, "Payment reminder 2")
}

func TestRenderInvoiceHTMLEscapesContent(t *testing.T) {
	html, err := renderInvoiceHTML(invoiceData{
		Lang:         "en",
		Organisation: "Coteau & Co",
		Number:       "lesjardins-1",
		MemberName:   "<script>alert(1)</script>",
		Lines:        []invoiceLine{{Label: "Invoice amount", Amount: "CHF 100.00"}},
		Total:        "CHF 100.00",
	})
	require.NoError(t, err)
	require.NotContains(t, html, "<script>alert(1)</script>")
	require.Contains(t, html, "Coteau &amp; Co")
}

func TestFormatAmount(t *testing.T) {
	out := formatAmount(decimal.RequireFromString("1234.5"), "CHF", "en")
	require.True(t, strings.HasPrefix(out, "CHF"), out)
	require.Contains(t, out, "1,234.50")
}
