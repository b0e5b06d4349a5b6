package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	// Command metrics
	commandsTotal *prometheus.CounterVec

	// Delivery metrics
	messagesReceivedTotal prometheus.Counter
	messageSizeBytes      prometheus.Histogram

	// Store metrics
	messagesPrunedTotal   prometheus.Counter
	messagesDeletedTotal  prometheus.Counter
	mailboxesClearedTotal prometheus.Counter
	storeMailboxes        prometheus.Gauge
	storeMessages         prometheus.Gauge

	// Event fan-out metrics
	eventsPublishedTotal prometheus.Counter
	eventsDroppedTotal   prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_smtp_connections_total",
			Help: "Total number of SMTP connections opened.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forsakenmail_smtp_connections_active",
			Help: "Number of currently active SMTP connections.",
		}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forsakenmail_smtp_commands_total",
			Help: "Total number of SMTP commands processed.",
		}, []string{"command"}),

		messagesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_messages_received_total",
			Help: "Total number of messages accepted over SMTP.",
		}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forsakenmail_message_size_bytes",
			Help:    "Size of accepted messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760},
		}),

		messagesPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_store_messages_pruned_total",
			Help: "Total number of messages removed by TTL or capacity pruning.",
		}),
		messagesDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_store_messages_deleted_total",
			Help: "Total number of messages deleted through the API.",
		}),
		mailboxesClearedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_store_mailboxes_cleared_total",
			Help: "Total number of mailbox clear operations that removed messages.",
		}),
		storeMailboxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forsakenmail_store_mailboxes",
			Help: "Number of mailboxes currently held in the store.",
		}),
		storeMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forsakenmail_store_messages",
			Help: "Number of messages currently held in the store.",
		}),

		eventsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_events_published_total",
			Help: "Total number of store events published to subscribers.",
		}),
		eventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forsakenmail_events_dropped_total",
			Help: "Total number of store events dropped because a subscriber lagged.",
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.commandsTotal,
		c.messagesReceivedTotal,
		c.messageSizeBytes,
		c.messagesPrunedTotal,
		c.messagesDeletedTotal,
		c.mailboxesClearedTotal,
		c.storeMailboxes,
		c.storeMessages,
		c.eventsPublishedTotal,
		c.eventsDroppedTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(command string) {
	c.commandsTotal.WithLabelValues(command).Inc()
}

// MessageAccepted increments the received counter and observes the message size.
func (c *PrometheusCollector) MessageAccepted(sizeBytes int) {
	c.messagesReceivedTotal.Inc()
	c.messageSizeBytes.Observe(float64(sizeBytes))
}

// MessageAdded is covered by the store size gauges; the add itself is counted
// on the SMTP side via MessageAccepted.
func (c *PrometheusCollector) MessageAdded() {}

// MessageDeleted increments the deleted counter.
func (c *PrometheusCollector) MessageDeleted() {
	c.messagesDeletedTotal.Inc()
}

// MessagesPruned adds to the pruned counter.
func (c *PrometheusCollector) MessagesPruned(count int) {
	c.messagesPrunedTotal.Add(float64(count))
}

// MailboxCleared increments the cleared counter.
func (c *PrometheusCollector) MailboxCleared(removed int) {
	c.mailboxesClearedTotal.Inc()
}

// SetStoreSize updates the mailbox and message gauges.
func (c *PrometheusCollector) SetStoreSize(mailboxes, messages int) {
	c.storeMailboxes.Set(float64(mailboxes))
	c.storeMessages.Set(float64(messages))
}

// EventPublished increments the published events counter.
func (c *PrometheusCollector) EventPublished() {
	c.eventsPublishedTotal.Inc()
}

// EventDropped increments the dropped events counter.
func (c *PrometheusCollector) EventDropped() {
	c.eventsDroppedTotal.Inc()
}
