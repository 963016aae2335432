package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harvestbill/harvestbill/internal/platform/httpx"
	"github.com/harvestbill/harvestbill/internal/shared"
)

// ActorFinder answers "who last did this to that invoice" from the
// audit trail.
type ActorFinder interface {
	FindActorFor(ctx context.Context, q shared.ActorQuery) (*int64, error)
}

// Handler exposes the invoice lifecycle as a JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	actors  ActorFinder
}

// NewHandler constructs the billing handler.
func NewHandler(logger *slog.Logger, service *Service, actors ActorFinder) *Handler {
	return &Handler{logger: logger, service: service, actors: actors}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	req.ActorID = actorID(r)

	inv, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceResponse(inv))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceResponse(inv))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var req ListInvoicesRequest
	if raw := r.URL.Query().Get("member_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member_id")
			return
		}
		req.MemberID = &id
	}
	if raw := r.URL.Query().Get("state"); raw != "" {
		st := State(raw)
		req.State = &st
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid limit")
			return
		}
		req.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offset")
			return
		}
		req.Offset = n
	}

	invoices, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, "list invoices", err)
		return
	}
	items := make([]map[string]any, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, invoiceResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": items, "total": total})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "send", h.service.Send)
}

func (h *Handler) MarkAsSent(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "mark as sent", h.service.MarkAsSent)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "cancel invoice", h.service.Cancel)
}

func (h *Handler) Uncancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "uncancel invoice", h.service.Uncancel)
}

func (h *Handler) DestroyOrCancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "destroy invoice", h.service.DestroyOrCancel)
}

func (h *Handler) StampAsCanceled(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "stamp invoice", h.service.StampAsCanceled)
}

func (h *Handler) UploadDirectDebit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	uploaded, err := h.service.UploadDirectDebit(r.Context(), id)
	if err != nil {
		h.respondError(w, "upload direct debit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"uploaded": uploaded})
}

// Actor answers "who last did this to that invoice" from the audit
// trail, e.g. GET /invoices/42/actor?action=cancel.
func (h *Handler) Actor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if h.actors == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "audit trail not available")
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "action is required")
		return
	}
	q := shared.ActorQuery{
		Entity:   "invoice",
		EntityID: strconv.FormatInt(id, 10),
		Action:   action,
	}
	var err error
	if q.From, err = queryTime(r, "from"); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from timestamp")
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to timestamp")
		return
	}

	actor, err := h.actors.FindActorFor(r.Context(), q)
	if err != nil {
		h.respondError(w, "find actor", err)
		return
	}
	if actor == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no matching audit entry")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"actor_id": *actor, "action": action})
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context, id, actorID int64) error) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, name, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Destroyed.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.respondError(w, name, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceResponse(inv))
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var transition *TransitionError
	var validation ValidationError
	switch {
	case errors.As(err, &transition):
		httpx.Problem(w, http.StatusConflict, "Illegal Transition", transition.Error())
	case errors.As(err, &validation):
		httpx.ValidationProblem(w, map[string]string{validation.Field: validation.Message})
	case errors.Is(err, errInvalidRequest):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "invoice not found")
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryTime(r *http.Request, param string) (*time.Time, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// actorID reads the authenticated actor relayed by the fronting proxy.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

func invoiceResponse(inv *Invoice) map[string]any {
	out := map[string]any{
		"id":                    inv.ID,
		"member_id":             inv.MemberID,
		"entity_kind":           inv.Kind,
		"state":                 inv.State,
		"amount":                inv.Amount().StringFixed(2),
		"paid_amount":           inv.PaidAmount().StringFixed(2),
		"missing_amount":        inv.MissingAmount().StringFixed(2),
		"overpaid_amount":       inv.OverpaidAmount().StringFixed(2),
		"overdue_notices_count": inv.OverdueNoticesCount,
		"created_at":            inv.CreatedAt,
	}
	if inv.EntityID != nil {
		out["entity_id"] = *inv.EntityID
	}
	if inv.AmountBeforePercentage != nil {
		out["amount_before_percentage"] = inv.AmountBeforePercentage.StringFixed(2)
	}
	if inv.AmountPercentage != nil {
		out["amount_percentage"] = inv.AmountPercentage.String()
	}
	if inv.VATRate != nil {
		out["vat_rate"] = inv.VATRate.String()
	}
	if inv.VATAmount != nil {
		out["vat_amount"] = inv.VATAmount.StringFixed(2)
	}
	if inv.MembershipsAmount != nil {
		out["memberships_amount"] = inv.MembershipsAmount.StringFixed(2)
	}
	if inv.MembershipsAmountDescription != nil {
		out["memberships_amount_description"] = *inv.MembershipsAmountDescription
	}
	if inv.SentAt != nil {
		out["sent_at"] = *inv.SentAt
	}
	if inv.CanceledAt != nil {
		out["canceled_at"] = *inv.CanceledAt
	}
	if inv.StampedAt != nil {
		out["stamped_at"] = *inv.StampedAt
	}
	if inv.DirectDebitOrderID != nil {
		out["sepa_direct_debit_order_id"] = *inv.DirectDebitOrderID
	}
	return out
}
