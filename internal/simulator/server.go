// Package simulator plays the event server: it accepts console
// connections over websocket or long-polling, tracks room membership,
// serves the sensor roster and publishes synthetic sensor events.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"procodus.dev/facility-monitor/pkg/generator"
)

// SensorRoomPrefix prefixes per-sensor rooms.
const SensorRoomPrefix = "sensor_"

const (
	defaultPollTimeout = 20 * time.Second
	defaultSensorCount = 5
	defaultFirstID     = 100
)

// Config holds the configuration for Server.
type Config struct {
	Logger *slog.Logger
	// Addr is the listen address, e.g. ":8090".
	Addr string
	// Token, when set, is required as a bearer credential.
	Token string
	// SensorCount is the size of the generated roster (default 5).
	SensorCount int
	// Interval between generated events. Zero disables the generator.
	Interval time.Duration
	// Seed makes generated data repeatable. Zero picks a random seed.
	Seed        uint64
	PollTimeout time.Duration
}

// Server is the simulated event server.
type Server struct {
	logger      *slog.Logger
	cfg         Config
	hub         *Hub
	faker       *gofakeit.Faker
	pollTimeout time.Duration
	httpServer  *http.Server

	mu         sync.RWMutex
	sensors    []generator.Sensor
	generators map[string]*generator.Generator
}

// NewServer validates cfg and builds the server with a generated roster.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Interval < 0 {
		return nil, errors.New("interval cannot be negative")
	}

	c := *cfg
	if c.SensorCount <= 0 {
		c.SensorCount = defaultSensorCount
	}
	pollTimeout := c.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	s := &Server{
		logger:      c.Logger,
		cfg:         c,
		hub:         NewHub(c.Logger),
		faker:       gofakeit.New(c.Seed),
		pollTimeout: pollTimeout,
	}
	s.SetSensors(generator.NewRoster(s.faker, defaultFirstID, c.SensorCount))
	return s, nil
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Sensors returns the current roster.
func (s *Server) Sensors() []generator.Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]generator.Sensor(nil), s.sensors...)
}

// SetSensors replaces the roster.
func (s *Server) SetSensors(sensors []generator.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generators = make(map[string]*generator.Generator, len(sensors))
	for _, sensor := range sensors {
		s.generators[sensor.ID] = generator.NewGenerator(s.faker, sensor)
	}
	s.sensors = append([]generator.Sensor(nil), sensors...)
}

// Publish sends payload to room.
func (s *Server) Publish(room string, payload any) int {
	return s.hub.Publish(room, payload)
}

// PublishSensorEvent sends ev to the room of the sensor it names.
func (s *Server) PublishSensorEvent(sensorID string, ev map[string]any) int {
	return s.hub.Publish(SensorRoomPrefix+sensorID, ev)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/events", s.serveWebsocket)
		r.Post("/events/poll", s.pollOpen)
		r.Get("/events/poll", s.pollReceive)
		r.Delete("/events/poll", s.pollClose)

		r.Route("/api", func(r chi.Router) {
			r.Get("/sensors", s.listSensors)
			r.Get("/stats", s.stats)
			r.Post("/rooms/{room}/events", s.publish)
			r.Post("/disconnect", s.disconnectAll)
		})
	})
	return r
}

// Run serves HTTP, runs the generator and reaps idle polling clients
// until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Addr == "" {
		return errors.New("listen address cannot be empty")
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		s.logger.Info("simulator listening", "address", s.cfg.Addr, "sensors", len(s.Sensors()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.RunGenerator(ctx)
	}()
	go func() {
		defer wg.Done()
		s.reapLoop(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		runErr = err
	}

	s.hub.DisconnectAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shut down HTTP server", "error", err)
		runErr = errors.Join(runErr, err)
	}
	wg.Wait()
	s.logger.Info("simulator stopped")
	return runErr
}

// RunGenerator publishes one event for a random sensor every interval
// until ctx is done. It returns at once when the interval is zero.
func (s *Server) RunGenerator(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.Tick(t)
		}
	}
}

// Tick publishes one generated event and returns its sensor id.
func (s *Server) Tick(t time.Time) string {
	s.mu.Lock()
	if len(s.sensors) == 0 {
		s.mu.Unlock()
		return ""
	}
	sensor := s.sensors[s.faker.IntRange(0, len(s.sensors)-1)]
	ev := s.generators[sensor.ID].Next(t)
	s.mu.Unlock()

	n := s.PublishSensorEvent(sensor.ID, ev)
	s.logger.Debug("published event", "sensor_id", sensor.ID, "event_type", ev["type"], "clients", n)
	return sensor.ID
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.reap(3 * s.pollTimeout)
		}
	}
}

func (s *Server) listSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, generator.Records(s.Sensors()))
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

// publish forwards the request body, verbatim, to a room.
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		http.Error(w, "body must be JSON", http.StatusBadRequest)
		return
	}
	n := s.hub.Publish(room, json.RawMessage(body))
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": n})
}

func (s *Server) disconnectAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"disconnected": s.hub.DisconnectAll()})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != s.cfg.Token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
