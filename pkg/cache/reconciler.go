package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/facility-monitor/pkg/metrics"
)

// Reconciler applies live events onto both cache views with a shallow,
// last-write-wins merge. There is no ordering token: a stale event applied
// after a fresh one overwrites the fresh fields.
type Reconciler struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.StreamMetrics
}

// ReconcilerConfig holds the configuration for the Reconciler.
type ReconcilerConfig struct {
	Store  Store
	Logger *slog.Logger
	// Now stamps merged records. Defaults to time.Now.
	Now func() time.Time
}

// NewReconciler creates a Reconciler writing to cfg.Store.
func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	if cfg == nil {
		return nil, errors.New("reconciler config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("cache store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{store: cfg.Store, logger: cfg.Logger, now: now}, nil
}

// SetMetrics sets the metrics collector for this reconciler.
func (r *Reconciler) SetMetrics(m *metrics.StreamMetrics) {
	r.metrics = m
}

// Apply merges src into the detail record for sensorID and into the
// matching element of the sensor list. The two writes are independent: a
// failure of one does not prevent the other.
func (r *Reconciler) Apply(ctx context.Context, sensorID string, src map[string]any) error {
	stamp := r.now().UTC().Format(time.RFC3339Nano)

	detailErr := r.store.UpdateDetail(ctx, sensorID, func(current Record, _ bool) Record {
		next := Merge(current, src)
		next[FieldTimestamp] = stamp
		return next
	})
	r.count("detail", detailErr)

	listErr := r.store.UpdateList(ctx, func(list []Record) []Record {
		for i, elem := range list {
			if elem.ID() != sensorID {
				continue
			}
			next := Merge(elem, src)
			next[FieldTimestamp] = stamp
			list[i] = next
		}
		return list
	})
	r.count("list", listErr)

	if detailErr != nil {
		detailErr = fmt.Errorf("detail view: %w", detailErr)
	}
	if listErr != nil {
		listErr = fmt.Errorf("list view: %w", listErr)
	}
	return errors.Join(detailErr, listErr)
}

func (r *Reconciler) count(view string, err error) {
	if r.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.CacheWrites.WithLabelValues(view, result).Inc()
}
