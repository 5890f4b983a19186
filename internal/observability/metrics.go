package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics for the document engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	sequenceRetries  prometheus.Counter
	paymentsApplied  *prometheus.CounterVec
	conversionsTotal *prometheus.CounterVec
	bulkRejections   prometheus.Counter
	overdueInvoices  prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	sequenceRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerline_sequence_retries_total",
		Help: "Number-issuance attempts retried after a store conflict.",
	})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerline_payments_applied_total",
		Help: "Successfully applied payments by method.",
	}, []string{"method"})
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerline_document_conversions_total",
		Help: "Document conversions by target type.",
	}, []string{"target_type"})
	bulkRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerline_bulk_delete_rejections_total",
		Help: "Bulk delete batches rejected because of non-draft members.",
	})
	overdue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerline_overdue_invoices",
		Help: "Invoices past due date with an outstanding balance, per last scan.",
	})
	registry.MustRegister(requests, duration, sequenceRetries, payments, conversions, bulkRejections, overdue)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		sequenceRetries:  sequenceRetries,
		paymentsApplied:  payments,
		conversionsTotal: conversions,
		bulkRejections:   bulkRejections,
		overdueInvoices:  overdue,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
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

// ObserveSequenceRetry counts one retried number-issuance attempt.
func (m *Metrics) ObserveSequenceRetry() {
	if m == nil {
		return
	}
	m.sequenceRetries.Inc()
}

// ObservePayment counts one applied payment.
func (m *Metrics) ObservePayment(method string) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(method).Inc()
}

// ObserveConversion counts one document conversion.
func (m *Metrics) ObserveConversion(targetType string) {
	if m == nil {
		return
	}
	m.conversionsTotal.WithLabelValues(targetType).Inc()
}

// ObserveBulkRejection counts one rejected bulk delete batch.
func (m *Metrics) ObserveBulkRejection() {
	if m == nil {
		return
	}
	m.bulkRejections.Inc()
}

// SetOverdueInvoices records the latest overdue-invoice count.
func (m *Metrics) SetOverdueInvoices(n int) {
	if m == nil {
		return
	}
	m.overdueInvoices.Set(float64(n))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
