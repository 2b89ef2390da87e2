// Package stream runs the real-time sensor event pipeline: one connection
// to the event server, the rooms subscribed on it, and the dispatch of
// inbound frames into the sensor caches and the notification queue.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/notify"
	"procodus.dev/facility-monitor/pkg/roster"
	"procodus.dev/facility-monitor/pkg/transport"
)

// DefaultHeartbeatInterval is the liveness ping period.
const DefaultHeartbeatInterval = 30 * time.Second

const defaultInboxSize = 256

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the manager.
type Status struct {
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Rooms     []string  `json:"rooms"`
	State     State     `json:"state"`
	// Exhausted is set once the transport gave up reconnecting. It stays
	// set: the manager does not recover on its own.
	Exhausted bool `json:"exhausted"`
}

// Config holds the configuration for Manager.
type Config struct {
	Logger     *slog.Logger
	Transport  transport.Transport
	Roster     roster.Provider
	Dispatcher *Dispatcher
	Notifier   notify.Emitter
	// Username names the user-identity room. Empty means no user room.
	Username          string
	HeartbeatInterval time.Duration
	InboxSize         int
	Now               func() time.Time
}

// Manager owns the connection lifecycle. Transport callbacks, roster
// changes and heartbeat ticks are all executed one at a time on the
// manager's loop goroutine.
type Manager struct {
	logger     *slog.Logger
	transport  transport.Transport
	roster     roster.Provider
	dispatcher *Dispatcher
	notifier   notify.Emitter
	registry   *Registry
	username   string
	interval   time.Duration
	now        func() time.Time
	metrics    *metrics.StreamMetrics

	inbox    chan func()
	stop     chan struct{}
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// Owned by the loop.
	state     State
	heartbeat *time.Ticker
	releases  []func()

	statusMu      sync.RWMutex
	status        Status
	lastPublished Status
	onStatus      func(Status)

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
}

// NewManager validates cfg and creates an idle Manager.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("manager config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if cfg.Roster == nil {
		return nil, errors.New("roster cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		logger:     cfg.Logger,
		transport:  cfg.Transport,
		roster:     cfg.Roster,
		dispatcher: cfg.Dispatcher,
		notifier:   notifier,
		username:   cfg.Username,
		interval:   interval,
		now:        now,
		inbox:      make(chan func(), inboxSize),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}

	registry, err := NewRegistry(&RegistryConfig{
		Logger:    cfg.Logger,
		Transport: cfg.Transport,
		Handler:   m.onRoomFrame,
	})
	if err != nil {
		return nil, err
	}
	m.registry = registry
	m.status = Status{State: StateIdle, Since: now(), Rooms: []string{}}
	return m, nil
}

// SetMetrics sets the metrics collector. Call it before Start.
func (m *Manager) SetMetrics(sm *metrics.StreamMetrics) {
	m.metrics = sm
	m.registry.SetMetrics(sm)
}

// OnStatus registers fn to be called on the loop goroutine after every
// status change. Call it before Start.
func (m *Manager) OnStatus(fn func(Status)) {
	m.onStatus = fn
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	s := m.status
	s.Rooms = slices.Clone(s.Rooms)
	return s
}

// Start binds the lifecycle listeners and asks the transport to connect.
// It may be called once.
func (m *Manager) Start(ctx context.Context) error {
	err := errors.New("manager already started")
	m.startOnce.Do(func() {
		err = m.start(ctx)
	})
	return err
}

func (m *Manager) start(ctx context.Context) error {
	select {
	case <-m.stop:
		return errors.New("manager closed")
	default:
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started.Store(true)

	m.releases = append(m.releases,
		m.transport.On(transport.EventConnect, func(json.RawMessage) { m.post(m.onConnect) }),
		m.transport.On(transport.EventDisconnect, func(p json.RawMessage) {
			reason := decodeString(p)
			m.post(func() { m.onDisconnect(reason) })
		}),
		m.transport.On(transport.EventConnectError, func(p json.RawMessage) {
			msg := decodeString(p)
			m.post(func() { m.onConnectError(msg) })
		}),
		m.transport.On(transport.EventReconnect, func(p json.RawMessage) {
			var attempt int
			_ = json.Unmarshal(p, &attempt)
			m.post(func() { m.onReconnect(attempt) })
		}),
		m.transport.On(transport.EventReconnectFailed, func(json.RawMessage) { m.post(m.onReconnectFailed) }),
	)

	rosterCh, unsubscribe := m.roster.Subscribe()
	m.releases = append(m.releases, unsubscribe)

	m.setState(StateConnecting)
	go m.loop(rosterCh)

	m.logger.Info("connecting to event server")
	if err := m.transport.Connect(m.ctx); err != nil {
		m.logger.Error("failed to start transport", "error", err)
		m.post(func() {
			m.setError(err.Error())
			m.setState(StateClosed)
		})
		return err
	}
	return nil
}

// post runs fn on the loop. It gives up once the manager is closing.
func (m *Manager) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.stop:
	}
}

func (m *Manager) loop(rosterCh <-chan []cache.Record) {
	defer close(m.loopDone)

	for {
		var tick <-chan time.Time
		if m.heartbeat != nil {
			tick = m.heartbeat.C
		}

		select {
		case <-m.stop:
			return
		case fn := <-m.inbox:
			fn()
		case <-tick:
			m.ping()
		case list := <-rosterCh:
			if m.state == StateOpen {
				m.logger.Debug("roster changed, reconciling rooms", "sensors", len(list))
				m.registry.Reconcile(list)
			}
		}
		m.publish()
	}
}

func (m *Manager) onRoomFrame(room string, payload json.RawMessage) {
	data := slices.Clone(payload)
	m.post(func() {
		// Frames queued before an unsubscribe are dropped.
		if !m.registry.Tracked(room) {
			return
		}
		m.dispatcher.Dispatch(m.ctx, room, data)
	})
}

func (m *Manager) onConnect() {
	if m.state == StateClosed {
		return
	}
	m.setState(StateOpen)
	m.setError("")
	m.logger.Info("connected to event server")

	if m.username != "" {
		m.registry.SubscribeRoom(m.username)
	}
	// Full resync: the registry was reset by the preceding disconnect.
	m.registry.Reconcile(m.roster.Sensors())
	m.startHeartbeat()

	m.notifier.Emit(notify.Notification{
		Title:    "Connected",
		Message:  "Real-time updates connected",
		Style:    notify.StyleSuccess,
		Duration: 3 * time.Second,
	})
}

func (m *Manager) onDisconnect(reason string) {
	if m.state == StateClosed {
		return
	}
	m.logger.Warn("disconnected from event server", "reason", reason)
	m.stopHeartbeat()
	m.registry.Reset()
	m.setState(StateReconnecting)

	m.notifier.Emit(notify.Notification{
		Title:    "Disconnected",
		Message:  "Real-time updates disconnected",
		Style:    notify.StyleError,
		Duration: 5 * time.Second,
	})
}

func (m *Manager) onConnectError(msg string) {
	m.logger.Error("event server connection error", "error", msg, "state", m.state.String())
	m.setError(msg)
}

func (m *Manager) onReconnect(attempt int) {
	m.logger.Info("reconnected to event server", "attempt", attempt)
	if m.metrics != nil {
		m.metrics.ReconnectAttempts.Inc()
	}
}

func (m *Manager) onReconnectFailed() {
	m.logger.Error("event server unreachable, giving up")
	m.stopHeartbeat()
	m.registry.Reset()

	m.statusMu.Lock()
	m.status.Exhausted = true
	m.statusMu.Unlock()
	m.setState(StateClosed)
}

func (m *Manager) startHeartbeat() {
	m.stopHeartbeat()
	m.heartbeat = time.NewTicker(m.interval)
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) ping() {
	if !m.transport.Connected() {
		return
	}
	if err := m.transport.Emit(transport.EventPing, transport.Ping{Timestamp: m.now().UnixMilli()}); err != nil {
		m.logger.Warn("heartbeat failed", "error", err)
		return
	}
	if m.metrics != nil {
		m.metrics.HeartbeatsSent.Inc()
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("connection state changed", "from", m.state.String(), "state", s.String())
	m.state = s

	m.statusMu.Lock()
	m.status.State = s
	m.status.Since = m.now()
	m.statusMu.Unlock()

	if m.metrics != nil {
		m.metrics.ConnectionState.Set(float64(s))
		if s == StateOpen {
			m.metrics.ConnectionStatus.Set(1)
		} else {
			m.metrics.ConnectionStatus.Set(0)
		}
	}
	m.publish()
}

func (m *Manager) setError(msg string) {
	m.statusMu.Lock()
	m.status.LastError = msg
	m.statusMu.Unlock()
}

// publish refreshes the room snapshot and notifies the status callback
// when anything changed.
func (m *Manager) publish() {
	rooms := m.registry.Rooms()

	m.statusMu.Lock()
	changed := m.status.State != m.lastPublished.State ||
		m.status.Exhausted != m.lastPublished.Exhausted ||
		!slices.Equal(rooms, m.lastPublished.Rooms)
	m.status.Rooms = rooms
	snapshot := m.status
	m.lastPublished = snapshot
	m.statusMu.Unlock()

	if changed && m.onStatus != nil {
		m.onStatus(snapshot)
	}
}

// Close tears the connection down: it stops the loop and the heartbeat,
// unsubscribes every room, releases every listener and disconnects the
// transport. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		if m.started.Load() {
			m.cancel()
			<-m.loopDone
		}

		m.stopHeartbeat()
		if m.transport.Connected() {
			m.registry.UnsubscribeAll()
		} else {
			m.registry.Reset()
		}
		for _, release := range m.releases {
			release()
		}
		m.releases = nil

		err = m.transport.Disconnect()
		m.setState(StateClosed)
		m.logger.Info("event stream closed")
	})
	return err
}

func decodeString(p json.RawMessage) string {
	var s string
	if err := json.Unmarshal(p, &s); err == nil {
		return s
	}
	return string(p)
}
