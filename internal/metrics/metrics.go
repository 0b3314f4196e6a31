package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the Prometheus collectors of the backend. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	VerdictsTotal       *prometheus.CounterVec
	IssuesTotal         *prometheus.CounterVec
	AnalysisDuration    prometheus.Histogram
	PersistenceFailures *prometheus.CounterVec
	ChatRepliesTotal    *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RequestsInFlight    prometheus.Gauge
	ActiveSessions      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		VerdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyc_verdicts_total",
				Help: "Verification verdicts, by outcome (approved, rejected, failed).",
			},
			[]string{"outcome"},
		),
		IssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyc_verdict_issues_total",
				Help: "Issues reported by the analysis model, by category.",
			},
			[]string{"category"},
		),
		AnalysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kyc_analysis_duration_seconds",
				Help:    "Duration of the AI verdict call including timeouts.",
				Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30},
			},
		),
		PersistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyc_persistence_failures_total",
				Help: "Failed writes to the record store, by collection.",
			},
			[]string{"collection"},
		),
		ChatRepliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kyc_chat_replies_total",
				Help: "Assistant replies, by status (ok, empty, error, unavailable).",
			},
			[]string{"status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kyc_api_request_duration_seconds",
				Help:    "HTTP request duration in seconds, by route and method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kyc_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kyc_active_client_sessions",
				Help: "Client verification sessions currently held in memory.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		c.VerdictsTotal,
		c.IssuesTotal,
		c.AnalysisDuration,
		c.PersistenceFailures,
		c.ChatRepliesTotal,
		c.RequestDuration,
		c.RequestsInFlight,
		c.ActiveSessions,
	)
	return c
}

// ObserveVerdict records one verdict outcome, its duration and issue categories.
func (c *Collectors) ObserveVerdict(outcome string, took time.Duration, categories []string) {
	if c == nil {
		return
	}
	c.VerdictsTotal.WithLabelValues(outcome).Inc()
	c.AnalysisDuration.Observe(took.Seconds())
	for _, category := range categories {
		c.IssuesTotal.WithLabelValues(category).Inc()
	}
}

// PersistenceFailed counts a failed write.
func (c *Collectors) PersistenceFailed(collection string) {
	if c == nil {
		return
	}
	c.PersistenceFailures.WithLabelValues(collection).Inc()
}

// ChatReply counts an assistant reply by status.
func (c *Collectors) ChatReply(status string) {
	if c == nil {
		return
	}
	c.ChatRepliesTotal.WithLabelValues(status).Inc()
}

// SetActiveSessions updates the session gauge.
func (c *Collectors) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.ActiveSessions.Set(float64(n))
}

// Handler serves the /metrics endpoint.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
