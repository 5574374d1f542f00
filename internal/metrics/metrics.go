// Package metrics provides Prometheus collectors for the sync core. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slpdex"

// Metrics holds all sync core collectors.
type Metrics struct {
	ResyncBatches     *prometheus.CounterVec
	ResyncItems       *prometheus.CounterVec
	ResyncErrors      *prometheus.CounterVec
	CheckpointHeight  *prometheus.GaugeVec
	ProcessorOutcomes *prometheus.CounterVec
	ListenerFailures  *prometheus.CounterVec
	Activations       *prometheus.CounterVec
	MailboxDepth      *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ResyncBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_batches_total",
			Help:      "Resync batches committed",
		},
		[]string{"subject", "confirmed"},
	)
	m.ResyncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_items_total",
			Help:      "Items fetched and persisted by resync",
		},
		[]string{"subject", "confirmed"},
	)
	m.ResyncErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_errors_total",
			Help:      "Aborted resync iterations",
		},
		[]string{"subject", "confirmed"},
	)
	m.CheckpointHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_height",
			Help:      "Last folded height per subject type",
		},
		[]string{"subject", "confirmed"},
	)
	m.ProcessorOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_batches_total",
			Help:      "Live transaction batches by outcome",
		},
		[]string{"outcome"},
	)
	m.ListenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Notification deliveries that failed or panicked",
		},
		[]string{"listener"},
	)
	m.Activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Pending activations resolved per result",
		},
		[]string{"result"},
	)
	m.MailboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mailbox_depth",
			Help:      "Messages waiting in an actor mailbox",
		},
		[]string{"actor"},
	)

	m.registry.MustRegister(
		m.ResyncBatches,
		m.ResyncItems,
		m.ResyncErrors,
		m.CheckpointHeight,
		m.ProcessorOutcomes,
		m.ListenerFailures,
		m.Activations,
		m.MailboxDepth,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ResyncBatch records a committed resync batch of n items at height.
func (m *Metrics) ResyncBatch(subject string, confirmed bool, n int, height int32) {
	if m == nil {
		return
	}
	conf := strconv.FormatBool(confirmed)
	m.ResyncBatches.WithLabelValues(subject, conf).Inc()
	m.ResyncItems.WithLabelValues(subject, conf).Add(float64(n))
	m.CheckpointHeight.WithLabelValues(subject, conf).Set(float64(height))
}

// ResyncError records an aborted resync iteration.
func (m *Metrics) ResyncError(subject string, confirmed bool) {
	if m == nil {
		return
	}
	m.ResyncErrors.WithLabelValues(subject, strconv.FormatBool(confirmed)).Inc()
}

// ProcessorOutcome records how a live batch ended.
func (m *Metrics) ProcessorOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ProcessorOutcomes.WithLabelValues(outcome).Inc()
}

// ListenerFailure records a failed delivery.
func (m *Metrics) ListenerFailure(listener string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(listener).Inc()
}

// Activation records an activation result: "activated" or "failed".
func (m *Metrics) Activation(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Activations.WithLabelValues(result).Add(float64(n))
}

// Mailbox records the queued message count of an actor.
func (m *Metrics) Mailbox(actor string, depth int) {
	if m == nil {
		return
	}
	m.MailboxDepth.WithLabelValues(actor).Set(float64(depth))
}
