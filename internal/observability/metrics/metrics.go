// Package metrics exposes prometheus instruments for the billing core.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	InvoicesIssued   *prometheus.CounterVec
	InvoicesVoided   prometheus.Counter
	UsageDeductions  prometheus.Counter
	UsageCorrections prometheus.Counter
	PaymentUpdates   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvoicesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freshfold_invoices_issued_total",
			Help: "Invoices issued, by invoice type.",
		}, []string{"invoice_type"}),
		InvoicesVoided: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshfold_invoices_voided_total",
			Help: "Invoices voided.",
		}),
		UsageDeductions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshfold_subscription_deductions_total",
			Help: "Subscription ledger deductions applied.",
		}),
		UsageCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshfold_subscription_corrections_total",
			Help: "Subscription ledger corrections applied.",
		}),
		PaymentUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freshfold_payment_updates_total",
			Help: "Payment status updates, by resulting status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.InvoicesIssued,
		m.InvoicesVoided,
		m.UsageDeductions,
		m.UsageCorrections,
		m.PaymentUpdates,
	)
	return m
}

// HTTPMetrics instruments the gin engine.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freshfold_http_requests_total",
			Help: "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freshfold_http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// GinMiddleware records per-request counters and latency. Unmatched
// routes collapse into a single series to keep cardinality bounded.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

var Module = fx.Module("observability.metrics",
	fx.Provide(
		NewRegistry,
		func(reg *prometheus.Registry) prometheus.Registerer { return reg },
		New,
		NewHTTPMetrics,
	),
)
