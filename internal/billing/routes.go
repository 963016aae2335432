package billing

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.DestroyOrCancel)
			r.Post("/send", h.Send)
			r.Post("/mark-as-sent", h.MarkAsSent)
			r.Post("/cancel", h.Cancel)
			r.Post("/uncancel", h.Uncancel)
			r.Post("/stamp", h.StampAsCanceled)
			r.Post("/direct-debit", h.UploadDirectDebit)
			r.Get("/actor", h.Actor)
		})
	})
}
