package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopicPrefix is prepended to room names to form MQTT topics.
const DefaultTopicPrefix = "facility/"

// MQTTConfig holds the configuration for MQTT.
type MQTTConfig struct {
	Logger *slog.Logger
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	// Token is sent as the MQTT password.
	Token       string
	TopicPrefix string
	QoS         byte

	DisableReconnection  bool
	ReconnectionDelay    time.Duration
	ReconnectionAttempts int
}

// MQTT is a Transport over an MQTT broker. Rooms are topics below the
// topic prefix; every other emitted event is published to
// <prefix>client/<event>.
type MQTT struct {
	logger    *slog.Logger
	cfg       MQTTConfig
	client    mqtt.Client
	listeners Listeners

	m       sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup

	connected atomic.Bool
	dropped   atomic.Bool
	attempts  atomic.Int32
}

// NewMQTT validates cfg and creates an unconnected MQTT transport.
func NewMQTT(cfg *MQTTConfig) (*MQTT, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker cannot be empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	c := *cfg
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if !strings.HasSuffix(c.TopicPrefix, "/") {
		c.TopicPrefix += "/"
	}
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("facility-monitor-%d", time.Now().UnixNano())
	}
	if c.ReconnectionDelay <= 0 {
		c.ReconnectionDelay = defaultReconnectionDelay
	}
	if c.ReconnectionAttempts <= 0 {
		c.ReconnectionAttempts = defaultReconnectionAttempts
	}

	t := &MQTT{logger: c.Logger, cfg: c}

	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(handshakeTimeout).
		SetAutoReconnect(!c.DisableReconnection).
		SetConnectRetryInterval(c.ReconnectionDelay).
		SetMaxReconnectInterval(c.ReconnectionDelay).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Token != "" {
		opts.SetPassword(c.Token)
	}
	t.client = mqtt.NewClient(opts)

	return t, nil
}

// Topic returns the MQTT topic for room.
func (t *MQTT) Topic(room string) string {
	return t.cfg.TopicPrefix + room
}

// Connect implements Transport. The first connection is retried in the
// background with the configured delay and attempt bound.
func (t *MQTT) Connect(ctx context.Context) error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.connectLoop(ctx)
	return nil
}

func (t *MQTT) connectLoop(ctx context.Context) {
	defer t.wg.Done()

	for retry := 0; ; retry++ {
		tok := t.client.Connect()
		select {
		case <-ctx.Done():
			return
		case <-tok.Done():
		}
		err := tok.Error()
		if err == nil {
			return
		}

		t.logger.Error("mqtt connection attempt failed", "attempt", retry, "error", err)
		t.listeners.Fire(EventConnectError, mustJSON(err.Error()))
		if t.cfg.DisableReconnection || !retriesLeft(retry, t.cfg.ReconnectionAttempts) {
			t.logger.Error("giving up on mqtt broker", "attempts", retry)
			t.listeners.Fire(EventReconnectFailed, mustJSON(retry))
			return
		}

		timer := time.NewTimer(t.cfg.ReconnectionDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *MQTT) onConnect(mqtt.Client) {
	t.connected.Store(true)
	attempts := t.attempts.Swap(0)
	t.logger.Info("connected to mqtt broker", "broker", t.cfg.Broker)
	t.listeners.Fire(EventConnect, nil)
	if t.dropped.Swap(false) {
		t.listeners.Fire(EventReconnect, mustJSON(attempts))
	}
}

func (t *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	t.connected.Store(false)
	t.dropped.Store(true)
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	t.logger.Info("mqtt connection lost", "reason", reason)
	t.listeners.Fire(EventDisconnect, mustJSON(reason))
}

// onReconnecting runs before every automatic reconnection attempt.
func (t *MQTT) onReconnecting(c mqtt.Client, _ *mqtt.ClientOptions) {
	made := int(t.attempts.Add(1)) - 1
	if retriesLeft(made, t.cfg.ReconnectionAttempts) {
		t.logger.Debug("reconnecting to mqtt broker", "attempt", made+1)
		return
	}
	t.logger.Error("giving up on mqtt broker", "attempts", made)
	t.listeners.Fire(EventReconnectFailed, mustJSON(made))
	// Disconnect cannot run inside the client's reconnect goroutine.
	go c.Disconnect(0)
}

// Connected implements Transport.
func (t *MQTT) Connected() bool {
	return t.connected.Load() && t.client.IsConnectionOpen()
}

// On implements Transport.
func (t *MQTT) On(event string, h Handler) func() {
	return t.listeners.On(event, h)
}

// Emit implements Transport.
func (t *MQTT) Emit(event string, payload any) error {
	if !t.Connected() {
		return ErrNotConnected
	}

	var tok mqtt.Token
	switch event {
	case EventSubscribe:
		room, ok := roomOf(payload)
		if !ok {
			return fmt.Errorf("subscribe payload carries no room")
		}
		tok = t.client.Subscribe(t.Topic(room), t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			t.listeners.Fire(room, json.RawMessage(msg.Payload()))
		})
	case EventUnsubscribe:
		room, ok := roomOf(payload)
		if !ok {
			return fmt.Errorf("unsubscribe payload carries no room")
		}
		tok = t.client.Unsubscribe(t.Topic(room))
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		tok = t.client.Publish(t.cfg.TopicPrefix+"client/"+event, t.cfg.QoS, false, data)
	}

	if !tok.WaitTimeout(writeTimeout) {
		return fmt.Errorf("%s: timed out waiting for broker", event)
	}
	return tok.Error()
}

// Disconnect implements Transport.
func (t *MQTT) Disconnect() error {
	t.m.Lock()
	t.closed = true
	cancel := t.cancel
	t.m.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	wasConnected := t.connected.Swap(false)
	t.client.Disconnect(250)
	if wasConnected {
		t.listeners.Fire(EventDisconnect, mustJSON("io client disconnect"))
	}
	return nil
}

var _ Transport = (*MQTT)(nil)
