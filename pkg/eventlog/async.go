package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"procodus.dev/facility-monitor/pkg/event"
)

// DefaultAsyncBuffer is the queue length used when none is given.
const DefaultAsyncBuffer = 256

// ErrAsyncFull is returned by Async.Append when its queue is full.
var ErrAsyncFull = errors.New("event log queue full")

// AsyncConfig holds the configuration for Async.
type AsyncConfig struct {
	Logger *slog.Logger
	Next   Log
	Buffer int
	// Timeout bounds each Append on Next (default 10s).
	Timeout time.Duration
}

// Async hands events to a slow Log on a background goroutine. Append never
// blocks; events that do not fit in the queue are dropped.
type Async struct {
	logger  *slog.Logger
	next    Log
	timeout time.Duration
	queue   chan event.Envelope
	dropped atomic.Uint64
	once    sync.Once
	wg      sync.WaitGroup
}

// NewAsync creates the appender and starts its goroutine.
func NewAsync(cfg *AsyncConfig) (*Async, error) {
	if cfg == nil {
		return nil, errors.New("async config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Next == nil {
		return nil, errors.New("next log cannot be nil")
	}
	size := cfg.Buffer
	if size <= 0 {
		size = DefaultAsyncBuffer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &Async{
		logger:  cfg.Logger,
		next:    cfg.Next,
		timeout: timeout,
		queue:   make(chan event.Envelope, size),
	}
	a.wg.Add(1)
	go a.run()
	return a, nil
}

// Append implements Log.
func (a *Async) Append(_ context.Context, e event.Envelope) error {
	select {
	case a.queue <- e:
		return nil
	default:
		a.dropped.Add(1)
		return ErrAsyncFull
	}
}

// Dropped returns the number of events that did not fit in the queue.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Append(ctx, e); err != nil {
			a.logger.Error("failed to append event", "room", e.Room, "event_type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close drains the queue and waits for the goroutine. Append must not be
// called after Close.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.queue)
	})
	a.wg.Wait()
}
