package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/harvestbill/harvestbill/internal/members"
	"github.com/harvestbill/harvestbill/internal/platform/httpx"
)

// Handler exposes payment recording as a JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the payments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/member/{memberID}", h.ListByMember)
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}

	p, err := h.service.Record(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, errInvalidRequest):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		case errors.Is(err, members.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "member not found")
		default:
			h.logger.Error("record payment", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) ListByMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "memberID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	list, err := h.service.ListByMember(r.Context(), memberID)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": list})
}
