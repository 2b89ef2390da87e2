package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/roster"
	"procodus.dev/facility-monitor/pkg/transport"
)

// SensorRoomPrefix prefixes every per-sensor room name.
const SensorRoomPrefix = "sensor_"

// RoomFor returns the room that streams events for sensorID.
func RoomFor(sensorID string) string {
	return SensorRoomPrefix + sensorID
}

// RoomHandler receives one inbound frame for a tracked room. It runs on
// the transport's goroutine.
type RoomHandler func(room string, payload json.RawMessage)

// RegistryConfig holds the configuration for Registry.
type RegistryConfig struct {
	Logger    *slog.Logger
	Transport transport.Transport
	Handler   RoomHandler
}

// Registry tracks subscribed rooms. Every tracked room has exactly one
// listener bound on the transport, and only Registry binds room
// listeners. It is not safe for concurrent use; the Manager's loop owns it.
type Registry struct {
	logger    *slog.Logger
	transport transport.Transport
	handler   RoomHandler
	rooms     map[string]func()
	// pinned rooms were subscribed by name and are never touched by Reconcile.
	pinned    map[string]struct{}
	metrics   *metrics.StreamMetrics
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("registry config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if cfg.Handler == nil {
		return nil, errors.New("room handler cannot be nil")
	}
	return &Registry{
		logger:    cfg.Logger,
		transport: cfg.Transport,
		handler:   cfg.Handler,
		rooms:     make(map[string]func()),
		pinned:    make(map[string]struct{}),
	}, nil
}

// SetMetrics sets the metrics collector for this registry.
func (r *Registry) SetMetrics(m *metrics.StreamMetrics) {
	r.metrics = m
}

// Subscribe tracks the room of sensorID. It is a no-op when already tracked.
func (r *Registry) Subscribe(sensorID string) {
	if sensorID == "" {
		return
	}
	r.subscribe(RoomFor(sensorID))
}

// Unsubscribe stops tracking the room of sensorID. It is a no-op when
// not tracked.
func (r *Registry) Unsubscribe(sensorID string) {
	if sensorID == "" {
		return
	}
	r.UnsubscribeRoom(RoomFor(sensorID))
}

// SubscribeRoom asks the server to stream room and binds its listener. The
// room stays tracked until UnsubscribeRoom, whatever the roster says.
func (r *Registry) SubscribeRoom(room string) {
	if room == "" {
		return
	}
	r.pinned[room] = struct{}{}
	r.subscribe(room)
}

func (r *Registry) subscribe(room string) {
	if _, ok := r.rooms[room]; ok {
		return
	}
	if err := r.transport.Emit(transport.EventSubscribe, transport.RoomRequest{Room: room}); err != nil {
		r.logger.Warn("subscribe request failed", "room", room, "error", err)
	}
	r.rooms[room] = r.transport.On(room, func(payload json.RawMessage) {
		r.handler(room, payload)
	})
	r.logger.Debug("subscribed", "room", room)
	r.gauge()
}

// UnsubscribeRoom asks the server to stop streaming room and releases its
// listener.
func (r *Registry) UnsubscribeRoom(room string) {
	release, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(r.pinned, room)
	if err := r.transport.Emit(transport.EventUnsubscribe, transport.RoomRequest{Room: room}); err != nil {
		r.logger.Warn("unsubscribe request failed", "room", room, "error", err)
	}
	release()
	delete(r.rooms, room)
	r.logger.Debug("unsubscribed", "room", room)
	r.gauge()
}

// Reconcile makes the tracked sensor rooms equal to the rooms of list.
// Rooms subscribed with SubscribeRoom are left alone.
func (r *Registry) Reconcile(list []cache.Record) {
	ids := roster.IDs(list)
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[RoomFor(id)] = struct{}{}
	}

	for _, room := range r.Rooms() {
		if _, ok := r.pinned[room]; ok {
			continue
		}
		if _, ok := want[room]; !ok {
			r.UnsubscribeRoom(room)
		}
	}
	for _, id := range ids {
		r.Subscribe(id)
	}
}

// Reset forgets every room and releases its listener without telling the
// server. Used after the server has already dropped the session.
func (r *Registry) Reset() {
	for room, release := range r.rooms {
		release()
		delete(r.rooms, room)
	}
	clear(r.pinned)
	r.gauge()
}

// UnsubscribeAll unsubscribes every tracked room.
func (r *Registry) UnsubscribeAll() {
	for _, room := range r.Rooms() {
		r.UnsubscribeRoom(room)
	}
}

// Tracked reports whether room is tracked.
func (r *Registry) Tracked(room string) bool {
	_, ok := r.rooms[room]
	return ok
}

// Rooms returns the tracked rooms, sorted.
func (r *Registry) Rooms() []string {
	out := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

func (r *Registry) gauge() {
	if r.metrics != nil {
		r.metrics.SubscribedRooms.Set(float64(len(r.rooms)))
	}
}
