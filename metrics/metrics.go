// Package metrics exposes Prometheus collectors for the gateway and the
// purchase workflow, optionally mirrored to CloudWatch.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
)

// Webhook outcomes.
const (
	OutcomeAccepted         = "accepted"
	OutcomeMissingHeaders   = "missing_headers"
	OutcomeInvalidTimestamp = "invalid_timestamp"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeInvalidPayload   = "invalid_payload"
	OutcomeDuplicate        = "duplicate"
	OutcomeRunInProgress    = "run_in_progress"
	OutcomeRateLimited      = "rate_limited"
	OutcomeError            = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	WebhookEvents     *prometheus.CounterVec
	RunsFinished      *prometheus.CounterVec
	ApprovalDecisions *prometheus.CounterVec
	RunDuration       prometheus.Histogram

	cloudWatch *CloudWatch
	logger     *zap.Logger
}

// New registers all collectors on a private registry. pending reports the
// current number of approvals awaiting a decision.
func New(pending func() int, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_agent_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_agent_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_agent_webhook_events_total",
				Help: "Stock alert webhooks by outcome",
			},
			[]string{"outcome"},
		),
		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_agent_runs_finished_total",
				Help: "Purchase runs reaching a terminal state",
			},
			[]string{"state", "category", "mode"},
		),
		ApprovalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_agent_approval_decisions_total",
				Help: "Approval callbacks by result",
			},
			[]string{"decision", "result"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "purchase_agent_run_duration_seconds",
				Help:    "Wall time from run start to terminal state",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
		),
		logger: logger,
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.WebhookEvents,
		m.RunsFinished,
		m.ApprovalDecisions,
		m.RunDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if pending != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "purchase_agent_pending_approvals",
				Help: "Approval requests awaiting a decision",
			},
			func() float64 { return float64(pending()) },
		))
	}
	return m
}

// WithCloudWatch mirrors business metrics to CloudWatch.
func (m *Metrics) WithCloudWatch(cw *CloudWatch) *Metrics {
	m.cloudWatch = cw
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusCodeToRange(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
	m.emit(func(ctx context.Context, cw *CloudWatch) error {
		dims := map[string]string{"Method": method, "Path": route, "Status": statusCodeToRange(status)}
		if err := cw.RecordCount(ctx, MetricHTTPRequests, dims); err != nil {
			return err
		}
		return cw.RecordLatency(ctx, MetricHTTPLatency, d, dims)
	})
}

func (m *Metrics) WebhookOutcome(outcome string) {
	m.WebhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ApprovalDecision(decision, result string) {
	m.ApprovalDecisions.WithLabelValues(decision, result).Inc()
}

// RunFinished records a terminal run.
func (m *Metrics) RunFinished(run models.PurchaseRun) {
	m.RunsFinished.WithLabelValues(string(run.State), string(run.Category), string(run.Mode)).Inc()
	if run.FinishedAt != nil {
		m.RunDuration.Observe(run.FinishedAt.Sub(run.CreatedAt).Seconds())
	}
	m.emit(func(ctx context.Context, cw *CloudWatch) error {
		name := MetricRunsFailed
		switch run.State {
		case models.StateSucceeded:
			name = MetricRunsSucceeded
		case models.StateAborted:
			name = MetricRunsAborted
		}
		return cw.RecordCount(ctx, name, map[string]string{"Mode": string(run.Mode), "Category": string(run.Category)})
	})
}

// emit records to CloudWatch asynchronously to avoid blocking callers.
func (m *Metrics) emit(fn func(context.Context, *CloudWatch) error) {
	cw := m.cloudWatch
	if cw == nil || !cw.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx, cw); err != nil {
			m.logger.Debug("CloudWatch metric failed", zap.Error(err))
		}
	}()
}

// statusCodeToRange converts status code to a range string (2xx, 3xx, 4xx, 5xx)
func statusCodeToRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
