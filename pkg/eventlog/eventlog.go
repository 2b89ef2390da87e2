// Package eventlog is the append-only raw event log. Every parsed event is
// appended verbatim, whether or not it can be attributed to a sensor.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"procodus.dev/facility-monitor/pkg/event"
)

// Log appends raw events.
type Log interface {
	Append(ctx context.Context, e event.Envelope) error
}

// Multi appends to every log in order and joins their errors.
type Multi []Log

// Append implements Log.
func (m Multi) Append(ctx context.Context, e event.Envelope) error {
	var errs []error
	for i, l := range m {
		if l == nil {
			continue
		}
		if err := l.Append(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Log = discard{}

type discard struct{}

func (discard) Append(context.Context, event.Envelope) error { return nil }
