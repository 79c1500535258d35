package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus metrics. Methods are nil-safe so
// tests can pass a nil collector without stubbing.
type Metrics struct {
	AccountsProvisioned prometheus.Counter
	OrphanedAccounts    prometheus.Counter
	LinksIssued         prometheus.Counter
	StatusPolls         *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	ProcessorLatency    *prometheus.HistogramVec
}

// New creates and registers all gateway metrics.
func New() *Metrics {
	return &Metrics{
		AccountsProvisioned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "connect_gateway_accounts_provisioned_total",
			Help: "Total external accounts created and attached to the ledger",
		}),
		OrphanedAccounts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "connect_gateway_orphaned_accounts_total",
			Help: "External accounts created at the processor but never attached locally",
		}),
		LinksIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "connect_gateway_onboarding_links_issued_total",
			Help: "Total onboarding links issued",
		}),
		StatusPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_gateway_status_polls_total",
			Help: "Status poll requests by resulting status",
		}, []string{"status"}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "connect_gateway_webhook_events_total",
			Help: "Webhook deliveries by event kind and outcome",
		}, []string{"kind", "outcome"}), // outcome: "applied", "unmatched", "ignored", "rejected"
		ProcessorLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connect_gateway_processor_request_duration_seconds",
			Help:    "Duration of outbound processor API calls by endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
	}
}

// IncProvisioned increments the provisioned-accounts counter.
func (m *Metrics) IncProvisioned() {
	if m != nil && m.AccountsProvisioned != nil {
		m.AccountsProvisioned.Inc()
	}
}

// IncOrphaned increments the orphaned-accounts counter.
func (m *Metrics) IncOrphaned() {
	if m != nil && m.OrphanedAccounts != nil {
		m.OrphanedAccounts.Inc()
	}
}

// IncLinkIssued increments the links-issued counter.
func (m *Metrics) IncLinkIssued() {
	if m != nil && m.LinksIssued != nil {
		m.LinksIssued.Inc()
	}
}

// IncStatusPoll records a status poll and its resulting status.
func (m *Metrics) IncStatusPoll(status string) {
	if m != nil && m.StatusPolls != nil {
		m.StatusPolls.WithLabelValues(status).Inc()
	}
}

// IncWebhookEvent records a webhook delivery outcome.
func (m *Metrics) IncWebhookEvent(kind, outcome string) {
	if m != nil && m.WebhookEvents != nil {
		m.WebhookEvents.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveProcessorLatency records an outbound processor call duration.
func (m *Metrics) ObserveProcessorLatency(endpoint string, d time.Duration) {
	if m != nil && m.ProcessorLatency != nil {
		m.ProcessorLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}
