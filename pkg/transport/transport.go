// Package transport provides the duplex event connection between the
// console and the event server: a websocket/long-polling socket client and
// an MQTT variant, both behind the Transport interface.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// Lifecycle event names fired by every Transport. Server frames that use
// one of these names are ignored.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventConnectError    = "connect_error"
	EventReconnect       = "reconnect"
	EventReconnectFailed = "reconnect_failed"
)

// Outbound control event names.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPing        = "ping"
)

var (
	// ErrNotConnected is returned by Emit while no session is open.
	ErrNotConnected = errors.New("transport not connected")
	// ErrAlreadyStarted is returned by a second Connect.
	ErrAlreadyStarted = errors.New("transport already started")
	// ErrClosed is returned by Connect after Disconnect.
	ErrClosed = errors.New("transport closed")
)

// retriesLeft reports whether an outage that already made retry reconnection
// attempts may make another one. Both transports read ReconnectionAttempts
// through it: a failed first dial or a dropped session gets at most limit
// reconnection attempts.
func retriesLeft(retry, limit int) bool {
	return retry < limit
}

// Handler receives the JSON payload of one event.
type Handler func(payload json.RawMessage)

// Transport is a duplex, event-named message connection with its own
// reconnection policy. Handlers for one Transport are invoked sequentially.
type Transport interface {
	// Connect starts connecting in the background. Progress is reported
	// through the lifecycle events.
	Connect(ctx context.Context) error
	// Connected reports whether a session is currently open.
	Connected() bool
	// Emit sends one event with a JSON-encodable payload.
	Emit(event string, payload any) error
	// On binds h to event and returns the function that releases it.
	On(event string, h Handler) (release func())
	// Disconnect closes the session, abandons reconnection and waits for
	// background work to stop.
	Disconnect() error
}

// RoomRequest is the payload of subscribe and unsubscribe.
type RoomRequest struct {
	Room string `json:"room"`
}

// Ping is the payload of the liveness heartbeat.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IsLifecycle reports whether name is reserved for lifecycle events.
func IsLifecycle(name string) bool {
	switch name {
	case EventConnect, EventDisconnect, EventConnectError, EventReconnect, EventReconnectFailed:
		return true
	}
	return false
}

// Listeners is a registry of event handlers shared by Transport
// implementations. The zero value is ready to use.
type Listeners struct {
	mu      sync.RWMutex
	next    uint64
	byEvent map[string]map[uint64]Handler
}

// On binds h to event.
func (l *Listeners) On(event string, h Handler) func() {
	l.mu.Lock()
	if l.byEvent == nil {
		l.byEvent = make(map[string]map[uint64]Handler)
	}
	l.next++
	id := l.next
	if l.byEvent[event] == nil {
		l.byEvent[event] = make(map[uint64]Handler)
	}
	l.byEvent[event][id] = h
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.byEvent[event], id)
			if len(l.byEvent[event]) == 0 {
				delete(l.byEvent, event)
			}
		})
	}
}

// Fire calls every handler bound to event, in registration order. No lock
// is held while handlers run.
func (l *Listeners) Fire(event string, payload json.RawMessage) {
	l.mu.RLock()
	bound := l.byEvent[event]
	ids := make([]uint64, 0, len(bound))
	for id := range bound {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = bound[id]
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Count returns the number of handlers bound to event.
func (l *Listeners) Count(event string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byEvent[event])
}

// Events returns the names with at least one bound handler, sorted.
func (l *Listeners) Events() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.byEvent))
	for name := range l.byEvent {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// roomOf extracts the room name from a subscribe/unsubscribe payload.
func roomOf(payload any) (string, bool) {
	switch p := payload.(type) {
	case RoomRequest:
		return p.Room, p.Room != ""
	case *RoomRequest:
		if p == nil {
			return "", false
		}
		return p.Room, p.Room != ""
	case map[string]string:
		return p["room"], p["room"] != ""
	case map[string]any:
		room, _ := p["room"].(string)
		return room, room != ""
	}
	return "", false
}
