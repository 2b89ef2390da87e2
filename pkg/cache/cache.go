// Package cache holds the two read-through views of sensor records (detail
// by id, and the ordered list) and the reconciler that merges live events
// into them.
package cache

import (
	"context"
	"maps"

	"procodus.dev/facility-monitor/pkg/event"
)

// FieldTimestamp is overwritten on every merge with the time of the write.
const FieldTimestamp = "timestamp"

// Record is the last known field set of one sensor.
type Record map[string]any

// ID resolves the record's sensor id with the same rule used for events.
func (r Record) ID() string {
	return event.ResolveSensorID(r)
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// Merge returns a new record holding r's fields overlaid with src's fields.
// Neither input is modified.
func Merge(r Record, src map[string]any) Record {
	out := make(Record, len(r)+len(src)+1)
	maps.Copy(out, r)
	maps.Copy(out, src)
	return out
}

// DetailUpdater receives the current detail record (ok=false when absent)
// and returns the record to store.
type DetailUpdater func(current Record, ok bool) Record

// ListUpdater receives the current list and returns the list to store. It is
// only called when a list is present.
type ListUpdater func(current []Record) []Record

// Store is the addressable pair of cache slots. Implementations make each
// update atomic with respect to other updates of the same slot.
type Store interface {
	// Detail reads the detail record for id.
	Detail(ctx context.Context, id string) (Record, bool, error)
	// UpdateDetail replaces the detail record for id with fn's result.
	UpdateDetail(ctx context.Context, id string, fn DetailUpdater) error
	// List reads the sensor list. ok is false when no list is cached.
	List(ctx context.Context) ([]Record, bool, error)
	// UpdateList replaces the list with fn's result. It is a no-op when no
	// list is cached or the cached value is not list-shaped.
	UpdateList(ctx context.Context, fn ListUpdater) error
	// SetList stores the list fetched from the roster.
	SetList(ctx context.Context, list []Record) error
}
