package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Tray holds the notifications that are currently visible, each until its
// auto-dismiss deadline passes.
type Tray struct {
	mu     sync.Mutex
	active []Notification
	now    func() time.Time
}

// NewTray creates an empty tray.
func NewTray() *Tray {
	return &Tray{now: time.Now}
}

// SetClock overrides the tray's time source.
func (t *Tray) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Add shows a notification.
func (t *Tray) Add(n Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.At.IsZero() {
		n.At = t.now()
	}
	t.active = append(t.active, n)
}

// Active returns the visible notifications, oldest first, pruning expired ones.
func (t *Tray) Active() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kept := t.active[:0]
	for _, n := range t.active {
		if now.Before(n.ExpiresAt()) {
			kept = append(kept, n)
		}
	}
	t.active = kept

	out := make([]Notification, len(kept))
	copy(out, kept)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Sink drains a queue into a tray and the log. It stands in for the toast
// renderer when the pipeline runs headless.
type Sink struct {
	logger *slog.Logger
	queue  *Queue
	tray   *Tray
}

// NewSink wires a queue to a tray.
func NewSink(logger *slog.Logger, queue *Queue, tray *Tray) *Sink {
	return &Sink{logger: logger, queue: queue, tray: tray}
}

// Run consumes notifications until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue.C():
			s.tray.Add(n)
			s.logger.Log(ctx, levelFor(n.Style), n.Title,
				"message", n.Message,
				"style", string(n.Style),
				"sensor_id", n.SensorID,
				"dismiss_after", n.Duration,
			)
		}
	}
}

func levelFor(style Style) slog.Level {
	switch style {
	case StyleWarning:
		return slog.LevelWarn
	case StyleError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
