package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Production outcomes recorded by ObserveProduction.
const (
	OutcomeCommitted         = "committed"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeRejected          = "rejected"
	OutcomeFailed            = "failed"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	productionsTotal    *prometheus.CounterVec
	conversionFallbacks *prometheus.CounterVec
	lockWait            prometheus.Histogram
}

// NewMetrics initialises the registry and every metric.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sistemagestao_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sistemagestao_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	productions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sistemagestao_productions_total",
		Help: "Production registrations by outcome.",
	}, []string{"outcome"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sistemagestao_conversion_fallbacks_total",
		Help: "Unit conversions that fell back to pass-through.",
	}, []string{"reason"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sistemagestao_stock_lock_wait_seconds",
		Help:    "Time spent acquiring product locks.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
	registry.MustRegister(requests, duration, productions, fallbacks, lockWait)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		productionsTotal:    productions,
		conversionFallbacks: fallbacks,
		lockWait:            lockWait,
	}
}

// Handler returns the /metrics endpoint.
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

// ObserveProduction counts one registration attempt.
func (m *Metrics) ObserveProduction(outcome string) {
	if m == nil {
		return
	}
	m.productionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveConversionFallback counts a permissive conversion.
func (m *Metrics) ObserveConversionFallback(reason string) {
	if m == nil {
		return
	}
	m.conversionFallbacks.WithLabelValues(reason).Inc()
}

// ObserveLockWait records how long product locks took to acquire.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// Registerer exposes the registry for custom metrics.
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
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
