package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound webhook deliveries by event type and
	// what was done with them (processed, ignored, rejected, error).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_webhook_events_total",
		Help: "Webhook deliveries by event type and disposition",
	}, []string{"event", "disposition"})

	// ReconciliationOutcomes counts applied payment outcomes by resulting
	// status and which signal triggered them.
	ReconciliationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_reconciliation_outcomes_total",
		Help: "Applied payment outcomes by status and trigger",
	}, []string{"status", "trigger"})

	// ProviderRequests counts calls to the payment provider API.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_provider_requests_total",
		Help: "Korapay API calls by operation and result",
	}, []string{"operation", "result"})
)
