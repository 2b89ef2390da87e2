package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains Prometheus metrics for the real-time event stream:
// connection lifecycle, subscriptions, dispatch and cache reconciliation.
type StreamMetrics struct {
	ConnectionStatus      prometheus.Gauge
	ConnectionState       prometheus.Gauge
	ReconnectAttempts     prometheus.Counter
	HeartbeatsSent        prometheus.Counter
	SubscribedRooms       prometheus.Gauge
	FramesReceived        *prometheus.CounterVec
	ParseFailures         prometheus.Counter
	UnresolvedSensor      prometheus.Counter
	CacheWrites           *prometheus.CounterVec
	Notifications         *prometheus.CounterVec
	NotificationsDropped  prometheus.Counter
	DispatchDuration      prometheus.Histogram
	EventLogAppendFailure prometheus.Counter
}

// NewStreamMetrics creates stream metrics and registers them with reg.
// A nil reg registers with the process-wide Registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "connection_status",
			Help:      "Current connection status (1=open, 0=not open)",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Connection manager state (0=idle 1=connecting 2=open 3=reconnecting 4=closed)",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnections reported by the transport",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "heartbeats_sent_total",
			Help:      "Total number of liveness pings emitted",
		}),
		SubscribedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "subscribed_rooms",
			Help:      "Number of rooms currently tracked by the subscription registry",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "frames_received_total",
			Help:      "Total number of inbound event frames, by classified kind",
		}, []string{"kind"}),
		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "parse_failures_total",
			Help:      "Total number of inbound frames that could not be decoded",
		}),
		UnresolvedSensor: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "unresolved_sensor_total",
			Help:      "Total number of events without a resolvable sensor id",
		}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "cache_writes_total",
			Help:      "Total number of cache merge writes, by view and result",
		}, []string{"view", "result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "notifications_total",
			Help:      "Total number of notifications enqueued, by style",
		}, []string{"style"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "notifications_dropped_total",
			Help:      "Total number of notifications dropped because the queue was full",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of single inbound frame dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		EventLogAppendFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "event_log_append_failures_total",
			Help:      "Total number of raw event log appends that failed",
		}),
	}

	registererOr(reg).MustRegister(
		m.ConnectionStatus,
		m.ConnectionState,
		m.ReconnectAttempts,
		m.HeartbeatsSent,
		m.SubscribedRooms,
		m.FramesReceived,
		m.ParseFailures,
		m.UnresolvedSensor,
		m.CacheWrites,
		m.Notifications,
		m.NotificationsDropped,
		m.DispatchDuration,
		m.EventLogAppendFailure,
	)

	return m
}
