package simulator

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"procodus.dev/facility-monitor/pkg/transport"
)

const clientBuffer = 64

// client is one connected console, over websocket or polling.
type client struct {
	id       string
	kind     string
	send     chan transport.Frame
	done     chan struct{}
	once     sync.Once
	lastSeen atomic.Int64
}

func newClient(id, kind string) *client {
	c := &client{
		id:   id,
		kind: kind,
		send: make(chan transport.Frame, clientBuffer),
		done: make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks connected clients and their room memberships.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client
	nextID  atomic.Uint64
	pings   atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
	}
}

func (h *Hub) register(kind string) *client {
	c := newClient(kind[:1]+strconv.FormatUint(h.nextID.Add(1), 10), kind)
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", "client", c.id, "transport", kind)
	return c
}

func (h *Hub) lookup(id string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for room, members := range h.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.close()
	h.logger.Debug("client disconnected", "client", c.id)
}

// handle applies one inbound control frame from c.
func (h *Hub) handle(c *client, f transport.Frame) {
	c.touch()
	switch f.Event {
	case transport.EventSubscribe, transport.EventUnsubscribe:
		var req transport.RoomRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || req.Room == "" {
			h.logger.Warn("bad room request", "client", c.id, "event", f.Event)
			return
		}
		h.mu.Lock()
		if f.Event == transport.EventSubscribe {
			if h.rooms[req.Room] == nil {
				h.rooms[req.Room] = make(map[string]*client)
			}
			h.rooms[req.Room][c.id] = c
		} else if members := h.rooms[req.Room]; members != nil {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.rooms, req.Room)
			}
		}
		h.mu.Unlock()
		h.logger.Debug("room membership changed", "client", c.id, "event", f.Event, "room", req.Room)
	case transport.EventPing:
		h.pings.Add(1)
	default:
		h.logger.Debug("ignoring client event", "client", c.id, "event", f.Event)
	}
}

// Publish sends payload to every member of room and returns how many
// clients it was queued for. Slow clients miss the frame.
func (h *Hub) Publish(room string, payload any) int {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("cannot encode payload", "room", room, "error", err)
			return 0
		}
		data = b
	}
	f := transport.Frame{Event: room, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.rooms[room] {
		select {
		case c.send <- f:
			n++
		default:
			h.dropped.Add(1)
		}
	}
	return n
}

// DisconnectAll drops every client and returns how many there were.
func (h *Hub) DisconnectAll() int {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.unregister(c)
	}
	return len(all)
}

// reap drops polling clients idle for longer than maxIdle.
func (h *Hub) reap(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle).UnixNano()
	h.mu.RLock()
	var stale []*client
	for _, c := range h.clients {
		if c.kind == kindPolling && c.lastSeen.Load() < cutoff {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.logger.Info("dropping idle polling client", "client", c.id)
		h.unregister(c)
	}
}

// Stats is a snapshot of the hub.
type Stats struct {
	Rooms   map[string]int `json:"rooms"`
	Clients int            `json:"clients"`
	Pings   uint64         `json:"pings"`
	Dropped uint64         `json:"dropped"`
}

// Stats returns the current membership counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		rooms[room] = len(members)
	}
	return Stats{
		Rooms:   rooms,
		Clients: len(h.clients),
		Pings:   h.pings.Load(),
		Dropped: h.dropped.Load(),
	}
}

// Rooms returns the rooms with at least one member, sorted.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
