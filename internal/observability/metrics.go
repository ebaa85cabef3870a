// Package observability defines the Prometheus collectors the service
// registers at startup. Exposing them over HTTP is the caller's concern;
// this package only defines and registers the collector set.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors used across the ingestion
// pipeline, migration service, and billing aggregator.
type Metrics struct {
	QueueReceiveDuration   *prometheus.HistogramVec
	MessagesProcessedTotal *prometheus.CounterVec
	ConversationsMigrated  prometheus.Counter
	MigrationDuration      prometheus.Histogram
	ClassificationFailures *prometheus.CounterVec
	BillingRequestsTotal   *prometheus.CounterVec
	BillingCircuitState    prometheus.Gauge
	GroupWorkersActive     prometheus.Gauge
}

// NewMetrics registers collectors with the provided namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	outcomeLabels := []string{"outcome"}

	queueReceiveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_receive_duration_seconds",
		Help:      "Duration of SQS ReceiveMessage calls in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{})

	messagesProcessedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_processed_total",
		Help:      "Total ingested messages, labeled by processing outcome.",
	}, outcomeLabels)

	conversationsMigrated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_migrated_total",
		Help:      "Total conversations migrated from the hot store to the durable store.",
	})

	migrationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "migration_duration_seconds",
		Help:      "Duration of a single conversation migration.",
		Buckets:   prometheus.DefBuckets,
	})

	classificationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_failures_total",
		Help:      "Total classification jobs that failed, labeled by reason.",
	}, []string{"reason"})

	billingRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_requests_total",
		Help:      "Total billing aggregation POSTs, labeled by outcome.",
	}, outcomeLabels)

	billingCircuitState := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "billing_circuit_state",
		Help:      "Current billing circuit breaker state (0=closed,1=open,2=half-open).",
	})

	groupWorkersActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ingestion_group_workers_active",
		Help:      "Number of active per-conversation-group ingestion workers.",
	})

	reg.MustRegister(
		queueReceiveDuration,
		messagesProcessedTotal,
		conversationsMigrated,
		migrationDuration,
		classificationFailures,
		billingRequestsTotal,
		billingCircuitState,
		groupWorkersActive,
	)

	return &Metrics{
		QueueReceiveDuration:   queueReceiveDuration,
		MessagesProcessedTotal: messagesProcessedTotal,
		ConversationsMigrated:  conversationsMigrated,
		MigrationDuration:      migrationDuration,
		ClassificationFailures: classificationFailures,
		BillingRequestsTotal:   billingRequestsTotal,
		BillingCircuitState:    billingCircuitState,
		GroupWorkersActive:     groupWorkersActive,
	}
}
