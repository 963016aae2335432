package billing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/harvestbill/harvestbill/internal/shared"
)

type fakeActorFinder struct {
	actor *int64
	query shared.ActorQuery
}

func (f *fakeActorFinder) FindActorFor(ctx context.Context, q shared.ActorQuery) (*int64, error) {
	f.query = q
	return f.actor, nil
}

func newTestRouter(t *testing.T, env *testEnv, actors ActorFinder) chi.Router {
	t.Helper()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc, actors)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateInvoice(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodPost, "/invoices", `{"member_id":1,"entity_kind":"other","amount":"120.50"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `"amount":"120.50"`)
	require.Contains(t, body, `"state":"processing"`)
	require.Equal(t, []string{"create"}, env.audit.actions)
}

func TestHandlerCreateRejectsBadJSON(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodPost, "/invoices", `{"member_id":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCreateValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodPost, "/invoices", `{"member_id":1,"entity_kind":"share","shares_number":0}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "shares_number")
}

func TestHandlerListAppliesLimitAndOffset(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(Invoice{MemberID: 1, Kind: KindOther, State: StateOpen, CreatedAt: env.now.Add(-2 * time.Hour)}, dec("80"), dec("0"))
	env.repo.seed(Invoice{MemberID: 1, Kind: KindOther, State: StateOpen, CreatedAt: env.now.Add(-time.Hour)}, dec("90"), dec("0"))
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodGet, "/invoices?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `"total":2`)
	require.Contains(t, body, `"amount":"90.00"`)
	require.NotContains(t, body, `"amount":"80.00"`)

	rec = doJSON(t, r, http.MethodGet, "/invoices?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"amount":"80.00"`)
}

func TestHandlerListRejectsBadPagination(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodGet, "/invoices?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/invoices?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Validation Failed")

	rec = doJSON(t, r, http.MethodGet, "/invoices?limit=5000", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGetUnknownInvoice(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodGet, "/invoices/99", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRejectsNonNumericID(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodGet, "/invoices/abc", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerIllegalTransitionConflict(t *testing.T) {
	env := newTestEnv(t)
	canceled := env.now.Add(-time.Hour)
	env.repo.seed(Invoice{MemberID: 1, Kind: KindOther, State: StateCanceled, CanceledAt: &canceled}, dec("80"), dec("0"))
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodPost, "/invoices/1/cancel", "")

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Illegal Transition")
}

func TestHandlerDestroyReturnsNoContent(t *testing.T) {
	env := newTestEnv(t)
	inv := env.repo.seed(Invoice{MemberID: 1, Kind: KindOther, State: StateOpen}, dec("80"), dec("0"))
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodDelete, "/invoices/1", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := env.repo.Get(context.Background(), inv.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHandlerCancelReturnsUpdatedInvoice(t *testing.T) {
	env := newTestEnv(t)
	sent := env.now.Add(-time.Hour)
	env.repo.seed(Invoice{MemberID: 1, Kind: KindOther, State: StateOpen, SentAt: &sent, CreatedAt: env.now.AddDate(0, -1, 0)}, dec("80"), dec("0"))
	r := newTestRouter(t, env, nil)

	rec := doJSON(t, r, http.MethodPost, "/invoices/1/cancel", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"canceled"`)
}

func TestHandlerActorLookup(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(Invoice{MemberID: 1, Kind: KindOther, State: StateOpen}, dec("80"), dec("0"))
	actor := int64(7)
	finder := &fakeActorFinder{actor: &actor}
	r := newTestRouter(t, env, finder)

	rec := doJSON(t, r, http.MethodGet, "/invoices/1/actor?action=cancel&from=2026-01-01T00:00:00Z", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"actor_id":7`)
	require.Equal(t, "invoice", finder.query.Entity)
	require.Equal(t, "1", finder.query.EntityID)
	require.Equal(t, "cancel", finder.query.Action)
	require.NotNil(t, finder.query.From)
	require.Nil(t, finder.query.To)
}

func TestHandlerActorLookupRequiresAction(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, &fakeActorFinder{})

	rec := doJSON(t, r, http.MethodGet, "/invoices/1/actor", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerActorLookupNoEntry(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, &fakeActorFinder{})

	rec := doJSON(t, r, http.MethodGet, "/invoices/1/actor?action=send", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}
