// Package admin exposes the console's live state over HTTP and the
// connection indicator over gRPC health checking.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/facility-monitor/internal/stream"
	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/notify"
)

// StatusSource reports the connection manager status.
type StatusSource interface {
	Status() stream.Status
}

// EventSource returns recently received events, oldest first.
type EventSource interface {
	Snapshot() []event.Envelope
}

// NotificationSource returns the notifications still on screen.
type NotificationSource interface {
	Active() []notify.Notification
}

// ServerConfig holds the configuration for Server.
type ServerConfig struct {
	Logger *slog.Logger

	Status        StatusSource
	Store         cache.Store
	Events        EventSource
	Notifications NotificationSource
	Health        *Health

	// HTTPAddr and GRPCAddr are listen addresses. An empty GRPCAddr
	// disables the gRPC health server.
	HTTPAddr string
	GRPCAddr string

	// Metrics is served on /metrics. Nil serves the process-wide registry.
	Metrics http.Handler
}

// Server is the admin HTTP and gRPC surface.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a new admin Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Status == nil {
		return nil, errors.New("status source cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("cache store cannot be nil")
	}
	if cfg.GRPCAddr != "" && cfg.Health == nil {
		return nil, errors.New("health cannot be nil when gRPC is enabled")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	metricsHandler := s.config.Metrics
	if metricsHandler == nil {
		metricsHandler = metrics.Handler()
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/sensors", s.sensors)
		r.Get("/sensors/{id}", s.sensor)
		r.Get("/events", s.events)
		r.Get("/notifications", s.notifications)
	})
	return r
}

// Run serves HTTP and, when configured, gRPC health until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.config.HTTPAddr == "" {
		return errors.New("HTTP address cannot be empty")
	}

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:              s.config.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		s.logger.Info("starting admin HTTP server", "address", s.config.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if s.config.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.config.GRPCAddr)
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.config.GRPCAddr, err)
		}
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.config.Health.Server())

		go func() {
			s.logger.Info("starting gRPC health server", "address", s.config.GRPCAddr)
			if err := s.grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case runErr = <-errCh:
		s.logger.Error("admin server error", "error", runErr)
	}

	return errors.Join(runErr, s.Shutdown())
}

// Shutdown gracefully stops both servers.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down admin server")

	if s.config.Health != nil {
		s.config.Health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	st := s.config.Status.Status()
	code := http.StatusOK
	if st.State != stream.StateOpen {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"state":     st.State,
		"exhausted": st.Exhausted,
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Status.Status())
}

func (s *Server) sensors(w http.ResponseWriter, r *http.Request) {
	list, ok, err := s.config.Store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to read sensor list", "error", err)
		http.Error(w, "cache unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "sensor list not cached", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) sensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok, err := s.config.Store.Detail(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read sensor detail", "sensor_id", id, "error", err)
		http.Error(w, "cache unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "sensor not cached", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// eventView is the JSON form of one logged event.
type eventView struct {
	ReceivedAt time.Time       `json:"received_at"`
	Room       string          `json:"room"`
	Type       string          `json:"type"`
	Kind       string          `json:"kind"`
	SensorID   string          `json:"sensor_id,omitempty"`
	Message    string          `json:"message,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *Server) events(w http.ResponseWriter, _ *http.Request) {
	out := []eventView{}
	if s.config.Events != nil {
		for _, e := range s.config.Events.Snapshot() {
			out = append(out, eventView{
				ReceivedAt: e.ReceivedAt,
				Room:       e.Room,
				Type:       e.Type,
				Kind:       e.Kind.String(),
				SensorID:   e.SensorID,
				Message:    e.Message,
				Payload:    e.Raw,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) notifications(w http.ResponseWriter, _ *http.Request) {
	out := []notify.Notification{}
	if s.config.Notifications != nil {
		out = append(out, s.config.Notifications.Active()...)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
