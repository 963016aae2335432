package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/harvestbill/harvestbill/internal/billing"
	"github.com/harvestbill/harvestbill/internal/document"
	"github.com/harvestbill/harvestbill/internal/observability"
	"github.com/harvestbill/harvestbill/internal/payments"
	"github.com/harvestbill/harvestbill/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	BillingHandler  *billing.Handler
	PaymentsHandler *payments.Handler
	JobHandler      *jobs.Handler
	Pool            *pgxpool.Pool
	Redis           *redis.Client
	Renderer        *document.Gotenberg
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		if params.Pool != nil {
			g.Go(func() error { return params.Pool.Ping(ctx) })
		}
		if params.Redis != nil {
			g.Go(func() error { return params.Redis.Ping(ctx).Err() })
		}
		if params.Renderer != nil {
			g.Go(func() error { return params.Renderer.Ping(ctx) })
		}
		if err := g.Wait(); err != nil {
			params.Logger.Warn("healthz probe", slog.Any("error", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.PaymentsHandler != nil {
			params.PaymentsHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(jr chi.Router) {
			params.JobHandler.MountRoutes(jr)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
