package notify

import (
	"sync/atomic"
	"time"

	"procodus.dev/facility-monitor/pkg/metrics"
)

// DefaultQueueSize is the buffer used when NewQueue is given a non-positive size.
const DefaultQueueSize = 128

// Queue is a buffered, non-blocking Emitter. When the buffer is full the
// notification is dropped and counted.
type Queue struct {
	ch      chan Notification
	dropped atomic.Uint64
	now     func() time.Time
	metrics *metrics.StreamMetrics
}

// NewQueue creates a queue holding up to size pending notifications.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:  make(chan Notification, size),
		now: time.Now,
	}
}

// SetMetrics sets the metrics collector for this queue.
func (q *Queue) SetMetrics(m *metrics.StreamMetrics) {
	q.metrics = m
}

// Emit implements Emitter.
func (q *Queue) Emit(n Notification) {
	if n.At.IsZero() {
		n.At = q.now()
	}
	select {
	case q.ch <- n:
		if q.metrics != nil {
			q.metrics.Notifications.WithLabelValues(string(n.Style)).Inc()
		}
	default:
		q.dropped.Add(1)
		if q.metrics != nil {
			q.metrics.NotificationsDropped.Inc()
		}
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Notification {
	return q.ch
}

// Len returns the number of pending notifications.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns how many notifications were discarded on a full buffer.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
