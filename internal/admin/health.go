package admin

import (
	"log/slog"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/facility-monitor/internal/stream"
)

// StreamService is the gRPC health service name reporting the event
// connection.
const StreamService = "facility.stream"

// Health mirrors the connection manager's status onto a gRPC health
// server. Once the transport has given up, the service stays NOT_SERVING.
type Health struct {
	logger *slog.Logger
	server *health.Server

	mu        sync.Mutex
	current   healthpb.HealthCheckResponse_ServingStatus
	exhausted bool
}

// NewHealth returns a health server with StreamService NOT_SERVING.
func NewHealth(logger *slog.Logger) *Health {
	h := &Health{
		logger:  logger,
		server:  health.NewServer(),
		current: healthpb.HealthCheckResponse_NOT_SERVING,
	}
	h.server.SetServingStatus(StreamService, h.current)
	return h
}

// Server returns the underlying gRPC health server.
func (h *Health) Server() *health.Server {
	return h.server
}

// Observe updates the serving status from a manager status snapshot.
// It is meant to be passed to stream.Manager.OnStatus.
func (h *Health) Observe(s stream.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.Exhausted {
		h.exhausted = true
	}
	next := healthpb.HealthCheckResponse_NOT_SERVING
	if s.State == stream.StateOpen && !h.exhausted {
		next = healthpb.HealthCheckResponse_SERVING
	}
	if next == h.current {
		return
	}
	h.current = next
	h.server.SetServingStatus(StreamService, next)
	h.logger.Info("stream health changed", "status", next.String(), "state", s.State.String())
}

// Serving reports whether StreamService is SERVING.
func (h *Health) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current == healthpb.HealthCheckResponse_SERVING
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.mu.Lock()
	h.exhausted = true
	h.current = healthpb.HealthCheckResponse_NOT_SERVING
	h.mu.Unlock()
	h.server.Shutdown()
}
