// Package observability collects the Prometheus metrics of the billing
// service: the HTTP surface plus the billing outcome counters.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and every collector of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	invoicesProcessed *prometheus.CounterVec
	settlements       prometheus.Counter
	deliveryFailures  *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestbill_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvestbill_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	invoicesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestbill_invoices_processed_total",
		Help: "Invoices moved out of processing, by resulting state.",
	}, []string{"state"})
	settlements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestbill_settlements_total",
		Help: "Payment settlement runs.",
	})
	deliveryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestbill_delivery_failures_total",
		Help: "Failed mail deliveries, by template.",
	}, []string{"template"})
	registry.MustRegister(requests, duration, invoicesProcessed, settlements, deliveryFailures)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		invoicesProcessed: invoicesProcessed,
		settlements:       settlements,
		deliveryFailures:  deliveryFailures,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per chi route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// IncInvoiceProcessed counts an invoice leaving the processing state.
func (m *Metrics) IncInvoiceProcessed(state string) {
	if m == nil {
		return
	}
	m.invoicesProcessed.WithLabelValues(state).Inc()
}

// IncSettlement counts one settlement run.
func (m *Metrics) IncSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

// IncDeliveryFailure counts one failed mail delivery.
func (m *Metrics) IncDeliveryFailure(template string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(template).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
