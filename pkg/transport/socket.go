package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Transport names accepted in SocketConfig.Transports.
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

const (
	defaultPath                 = "/events"
	defaultReconnectionDelay    = time.Second
	defaultReconnectionAttempts = 5
	writeTimeout                = 10 * time.Second
	handshakeTimeout            = 10 * time.Second
)

// session is one open connection over a concrete transport.
type session interface {
	name() string
	read() (Frame, error)
	write(f Frame) error
	close() error
}

// errMalformedFrame wraps frames that arrived but could not be decoded.
// The session stays open.
var errMalformedFrame = errors.New("malformed frame")

// SocketConfig holds the configuration for Socket.
type SocketConfig struct {
	Logger *slog.Logger
	// URL is the http(s) base URL of the event server.
	URL string
	// Path is the event endpoint below URL (default "/events").
	Path string
	// Token is sent as a bearer credential on every request.
	Token string
	// Transports is the preference order (default websocket, then polling).
	Transports []string
	// DisableReconnection turns automatic reconnection off.
	DisableReconnection bool
	// ReconnectionDelay is the fixed wait between attempts (default 1s).
	ReconnectionDelay time.Duration
	// ReconnectionAttempts bounds the reconnection attempts after a failed
	// first dial or a dropped session (default 5).
	ReconnectionAttempts int
	// HTTPClient is used by the polling transport. Its Jar is replaced
	// with a shared cookie jar when nil.
	HTTPClient *http.Client
}

// Socket is a Transport over websocket with a long-polling fallback and a
// fixed-delay, bounded reconnection policy.
type Socket struct {
	logger    *slog.Logger
	cfg       SocketConfig
	base      *url.URL
	jar       http.CookieJar
	client    *http.Client
	listeners Listeners

	m         sync.Mutex
	sess      session
	cancel    context.CancelFunc
	started   bool
	closed    bool
	connected atomic.Bool
	wg        sync.WaitGroup
}

// NewSocket validates cfg and creates an unconnected Socket.
func NewSocket(cfg *SocketConfig) (*Socket, error) {
	if cfg == nil {
		return nil, errors.New("socket config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("event server URL cannot be empty")
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid event server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("event server URL must be http or https, got %q", base.Scheme)
	}

	c := *cfg
	if c.Path == "" {
		c.Path = defaultPath
	}
	if len(c.Transports) == 0 {
		c.Transports = []string{TransportWebsocket, TransportPolling}
	}
	for _, t := range c.Transports {
		if t != TransportWebsocket && t != TransportPolling {
			return nil, fmt.Errorf("unknown transport %q", t)
		}
	}
	if c.ReconnectionDelay <= 0 {
		c.ReconnectionDelay = defaultReconnectionDelay
	}
	if c.ReconnectionAttempts <= 0 {
		c.ReconnectionAttempts = defaultReconnectionAttempts
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		cp := *client
		cp.Jar = jar
		client = &cp
	}

	return &Socket{
		logger: c.Logger,
		cfg:    c,
		base:   base,
		jar:    client.Jar,
		client: client,
	}, nil
}

// Connect implements Transport.
func (s *Socket) Connect(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Connected implements Transport.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// On implements Transport.
func (s *Socket) On(event string, h Handler) func() {
	return s.listeners.On(event, h)
}

// Emit implements Transport.
func (s *Socket) Emit(event string, payload any) error {
	sess := s.session()
	if sess == nil || !s.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return sess.write(Frame{Event: event, Data: data})
}

// Disconnect implements Transport.
func (s *Socket) Disconnect() error {
	s.m.Lock()
	s.closed = true
	cancel := s.cancel
	s.m.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.connected.Store(false)
	return nil
}

func (s *Socket) session() session {
	s.m.Lock()
	defer s.m.Unlock()
	return s.sess
}

func (s *Socket) setSession(sess session) {
	s.m.Lock()
	s.sess = sess
	s.m.Unlock()
}

// run owns the connect / read / reconnect cycle. retry counts the
// reconnection attempts of the current outage: a failed first dial or a
// dropped session starts one, and ReconnectionAttempts bounds it.
func (s *Socket) run(ctx context.Context) {
	defer s.wg.Done()

	retry := 0
	dropped := false

	for {
		sess, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("event server connection attempt failed", "attempt", retry, "error", err)
			s.listeners.Fire(EventConnectError, mustJSON(err.Error()))

			if s.cfg.DisableReconnection || !retriesLeft(retry, s.cfg.ReconnectionAttempts) {
				s.logger.Error("giving up on event server", "attempts", retry)
				s.listeners.Fire(EventReconnectFailed, mustJSON(retry))
				return
			}
			if !s.wait(ctx) {
				return
			}
			retry++
			continue
		}

		s.setSession(sess)
		s.connected.Store(true)
		s.logger.Info("connected to event server", "transport", sess.name())
		s.listeners.Fire(EventConnect, nil)
		if dropped {
			s.listeners.Fire(EventReconnect, mustJSON(retry))
		}
		retry = 0

		stop := context.AfterFunc(ctx, func() { _ = sess.close() })
		reason := s.readLoop(sess)
		stop()

		s.connected.Store(false)
		s.setSession(nil)
		_ = sess.close()

		if ctx.Err() != nil {
			reason = "io client disconnect"
		}
		s.logger.Info("event server session ended", "reason", reason)
		s.listeners.Fire(EventDisconnect, mustJSON(reason))

		if ctx.Err() != nil || s.cfg.DisableReconnection {
			return
		}
		dropped = true
		if !s.wait(ctx) {
			return
		}
		retry = 1
	}
}

func (s *Socket) readLoop(sess session) string {
	for {
		f, err := sess.read()
		if errors.Is(err, errMalformedFrame) {
			s.logger.Warn("dropping malformed frame", "transport", sess.name(), "error", err)
			continue
		}
		if err != nil {
			return err.Error()
		}
		if f.Event == "" || IsLifecycle(f.Event) {
			continue
		}
		s.listeners.Fire(f.Event, f.Data)
	}
}

// wait sleeps for the reconnection delay. It returns false when ctx ends first.
func (s *Socket) wait(ctx context.Context) bool {
	t := time.NewTimer(s.cfg.ReconnectionDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// dial tries each configured transport in preference order.
func (s *Socket) dial(ctx context.Context) (session, error) {
	var errs []error
	for _, name := range s.cfg.Transports {
		var (
			sess session
			err  error
		)
		switch name {
		case TransportWebsocket:
			sess, err = dialWebsocket(ctx, s.endpoint("ws"), s.header(), s.jar)
		case TransportPolling:
			sess, err = openPolling(ctx, s.client, s.endpoint("http")+"/poll", s.header())
		}
		if err == nil {
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("transport unavailable", "transport", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, errors.Join(errs...)
}

// endpoint returns the event URL using the ws(s) or http(s) scheme family.
func (s *Socket) endpoint(family string) string {
	u := *s.base
	if family == "ws" {
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	u.Path = strings.TrimRight(u.Path, "/") + s.cfg.Path
	return u.String()
}

func (s *Socket) header() http.Header {
	h := http.Header{}
	if s.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	return h
}

var _ Transport = (*Socket)(nil)
