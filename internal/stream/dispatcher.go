package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/eventlog"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/notify"
)

// Parse failures are reported with this toast.
const (
	ProcessingErrorTitle    = "Error"
	ProcessingErrorMessage  = "Error processing data"
	processingErrorDuration = 5 * time.Second
)

// Applier merges an event into the sensor caches.
type Applier interface {
	Apply(ctx context.Context, sensorID string, src map[string]any) error
}

// DispatcherConfig holds the configuration for Dispatcher.
type DispatcherConfig struct {
	Logger  *slog.Logger
	Applier Applier
	Log     eventlog.Log
	Emitter notify.Emitter
	Now     func() time.Time
}

// Dispatcher turns one raw inbound frame into a log entry, a cache merge
// and a notification. It never returns an error: failures are logged and
// at most one notification is emitted per frame.
type Dispatcher struct {
	logger  *slog.Logger
	applier Applier
	log     eventlog.Log
	emitter notify.Emitter
	now     func() time.Time
	metrics *metrics.StreamMetrics
}

// NewDispatcher validates cfg and creates a Dispatcher.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("dispatcher config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Applier == nil {
		return nil, errors.New("applier cannot be nil")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("emitter cannot be nil")
	}
	log := cfg.Log
	if log == nil {
		log = eventlog.Discard
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		logger:  cfg.Logger,
		applier: cfg.Applier,
		log:     log,
		emitter: cfg.Emitter,
		now:     now,
	}, nil
}

// SetMetrics sets the metrics collector for this dispatcher.
func (d *Dispatcher) SetMetrics(m *metrics.StreamMetrics) {
	d.metrics = m
}

// Dispatch handles one frame received on room.
func (d *Dispatcher) Dispatch(ctx context.Context, room string, payload []byte) {
	if d.metrics != nil {
		timer := prometheus.NewTimer(d.metrics.DispatchDuration)
		defer timer.ObserveDuration()
	}

	env, err := event.Parse(room, payload, d.now())
	if err != nil {
		d.logger.Error("failed to parse event", "room", room, "error", err)
		if d.metrics != nil {
			d.metrics.ParseFailures.Inc()
		}
		d.emitter.Emit(notify.Notification{
			Title:    ProcessingErrorTitle,
			Message:  ProcessingErrorMessage,
			Style:    notify.StyleError,
			Duration: processingErrorDuration,
		})
		return
	}
	if d.metrics != nil {
		d.metrics.FramesReceived.WithLabelValues(env.Kind.String()).Inc()
	}

	if err := d.log.Append(ctx, env); err != nil {
		d.logger.Error("failed to append event to log", "room", room, "event_type", env.Type, "error", err)
		if d.metrics != nil {
			d.metrics.EventLogAppendFailure.Inc()
		}
	}

	d.reconcile(ctx, env)

	p := env.Kind.Present()
	d.emitter.Emit(notify.Notification{
		Title:    p.Title,
		Message:  env.Message,
		Style:    p.Style,
		Duration: p.Duration,
		Tag:      env.Type,
		SensorID: env.SensorID,
	})
}

func (d *Dispatcher) reconcile(ctx context.Context, env event.Envelope) {
	if env.SensorID == "" {
		d.logger.Warn("event has no sensor id, skipping cache update", "room", env.Room, "event_type", env.Type)
		if d.metrics != nil {
			d.metrics.UnresolvedSensor.Inc()
		}
		return
	}

	src, ok := env.MergeSource()
	if !ok {
		d.logger.Debug("event data is not an object, skipping cache update",
			"room", env.Room, "sensor_id", env.SensorID, "event_type", env.Type)
		return
	}

	if err := d.applier.Apply(ctx, env.SensorID, src); err != nil {
		d.logger.Warn("cache update failed", "sensor_id", env.SensorID, "error", err)
		return
	}
	d.logger.Debug("event applied", "room", env.Room, "sensor_id", env.SensorID, "event_type", env.Type)
}
