package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ArchiveMetrics contains Prometheus metrics for the RabbitMQ event archive client.
type ArchiveMetrics struct {
	MessagesPushed      *prometheus.CounterVec
	PushFailures        *prometheus.CounterVec
	ReconnectAttempts   prometheus.Counter
	PushDuration        *prometheus.HistogramVec
	ConnectionStatus    prometheus.Gauge
	MessagesConsumed    *prometheus.CounterVec
	ConsumptionFailures *prometheus.CounterVec
}

// NewArchiveMetrics creates archive metrics and registers them with reg.
// A nil reg registers with the process-wide Registry.
func NewArchiveMetrics(reg prometheus.Registerer) *ArchiveMetrics {
	m := &ArchiveMetrics{
		MessagesPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "messages_pushed_total",
			Help:      "Total number of raw events pushed to the archive queue",
		}, []string{"queue"}),
		PushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "push_failures_total",
			Help:      "Total number of failed archive pushes",
		}, []string{"queue", "reason"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of broker reconnection attempts",
		}),
		PushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "push_duration_seconds",
			Help:      "Duration of confirmed archive pushes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "connection_status",
			Help:      "Current broker connection status (1=connected, 0=disconnected)",
		}),
		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "messages_consumed_total",
			Help:      "Total number of archived events consumed",
		}, []string{"queue"}),
		ConsumptionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "consumption_failures_total",
			Help:      "Total number of archived events that could not be decoded",
		}, []string{"queue", "reason"}),
	}

	registererOr(reg).MustRegister(
		m.MessagesPushed,
		m.PushFailures,
		m.ReconnectAttempts,
		m.PushDuration,
		m.ConnectionStatus,
		m.MessagesConsumed,
		m.ConsumptionFailures,
	)

	return m
}
