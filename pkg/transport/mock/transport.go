// Package mock provides a scriptable Transport for testing.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"procodus.dev/facility-monitor/pkg/transport"
)

// MockTransport is a mock implementation of transport.Transport. Tests
// drive it by firing lifecycle and room events as if they came from the
// server; emitted events are recorded in EmitCalls.
type MockTransport struct {
	mu        sync.Mutex
	listeners transport.Listeners
	connected bool

	// ConnectFunc is called when Connect is invoked. If nil, returns ConnectError.
	ConnectFunc func(ctx context.Context) error
	// ConnectError is returned by Connect if ConnectFunc is nil.
	ConnectError error
	// ConnectCalls tracks the number of times Connect was called.
	ConnectCalls int

	// EmitFunc is called when Emit is invoked. If nil, returns EmitError.
	EmitFunc func(event string, payload any) error
	// EmitError is returned by Emit if EmitFunc is nil.
	EmitError error
	// EmitCalls tracks all calls to Emit with their arguments.
	EmitCalls []EmitCall

	// DisconnectError is returned by Disconnect.
	DisconnectError error
	// DisconnectCalls tracks the number of times Disconnect was called.
	DisconnectCalls int
}

// EmitCall records the arguments to an Emit call.
type EmitCall struct {
	Event   string
	Payload any
}

// NewMockTransport creates a disconnected MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{EmitCalls: make([]EmitCall, 0)}
}

// Connect implements transport.Transport.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.ConnectCalls++
	fn, err := m.ConnectFunc, m.ConnectError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return err
}

// Connected implements transport.Transport.
func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetConnected changes what Connected reports without firing events.
func (m *MockTransport) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// Emit implements transport.Transport.
func (m *MockTransport) Emit(event string, payload any) error {
	m.mu.Lock()
	m.EmitCalls = append(m.EmitCalls, EmitCall{Event: event, Payload: payload})
	fn, err := m.EmitFunc, m.EmitError
	m.mu.Unlock()

	if fn != nil {
		return fn(event, payload)
	}
	return err
}

// On implements transport.Transport.
func (m *MockTransport) On(event string, h transport.Handler) func() {
	return m.listeners.On(event, h)
}

// Disconnect implements transport.Transport.
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	m.connected = false
	return m.DisconnectError
}

// Open marks the transport connected and fires connect.
func (m *MockTransport) Open() {
	m.SetConnected(true)
	m.listeners.Fire(transport.EventConnect, nil)
}

// Drop marks the transport disconnected and fires disconnect(reason).
func (m *MockTransport) Drop(reason string) {
	m.SetConnected(false)
	m.Fire(transport.EventDisconnect, reason)
}

// Fire delivers payload, JSON-encoded, to every handler bound to event.
func (m *MockTransport) Fire(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	m.listeners.Fire(event, data)
}

// FireRaw delivers data unchanged to every handler bound to event.
func (m *MockTransport) FireRaw(event string, data []byte) {
	m.listeners.Fire(event, data)
}

// ListenerCount returns the number of handlers bound to event.
func (m *MockTransport) ListenerCount(event string) int {
	return m.listeners.Count(event)
}

// BoundEvents returns every event name with a bound handler.
func (m *MockTransport) BoundEvents() []string {
	return m.listeners.Events()
}

// Emits returns the payloads of every Emit call for event, in order.
func (m *MockTransport) Emits(event string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, c := range m.EmitCalls {
		if c.Event == event {
			out = append(out, c.Payload)
		}
	}
	return out
}

// Rooms returns the room of every Emit call for event (subscribe or
// unsubscribe), in order.
func (m *MockTransport) Rooms(event string) []string {
	var out []string
	for _, p := range m.Emits(event) {
		switch r := p.(type) {
		case transport.RoomRequest:
			out = append(out, r.Room)
		case *transport.RoomRequest:
			out = append(out, r.Room)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmitCalls = make([]EmitCall, 0)
	m.ConnectCalls = 0
	m.DisconnectCalls = 0
}

var _ transport.Transport = (*MockTransport)(nil)
