package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"procodus.dev/facility-monitor/pkg/cache"
)

const (
	// DefaultInterval is how often the HTTP provider revalidates.
	DefaultInterval = 30 * time.Second
	// DefaultPath is the sensor list endpoint below the API base URL.
	DefaultPath = "/api/sensors"

	defaultTimeout = 5 * time.Second
	maxBodySize    = 8 << 20
)

// HTTPConfig holds the configuration for HTTP.
type HTTPConfig struct {
	Logger *slog.Logger
	// BaseURL is the REST API base, e.g. http://localhost:8080.
	BaseURL string
	// Path defaults to DefaultPath.
	Path     string
	Token    string
	Interval time.Duration
	Client   *http.Client
	// Store, when set, has its list view seeded from every fetched list.
	Store cache.Store
}

// HTTP is a Provider that revalidates the sensor list from the REST API.
type HTTP struct {
	logger   *slog.Logger
	endpoint string
	token    string
	interval time.Duration
	client   *http.Client
	store    cache.Store
	feed     feed
}

// NewHTTP validates cfg and creates the provider. Call Run to start
// revalidation.
func NewHTTP(cfg *HTTPConfig) (*HTTP, error) {
	if cfg == nil {
		return nil, errors.New("roster config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("roster base URL cannot be empty")
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &HTTP{
		logger:   cfg.Logger,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + path,
		token:    cfg.Token,
		interval: interval,
		client:   client,
		store:    cfg.Store,
	}, nil
}

// Sensors implements Provider.
func (h *HTTP) Sensors() []cache.Record {
	return h.feed.current()
}

// Subscribe implements Provider.
func (h *HTTP) Subscribe() (<-chan []cache.Record, func()) {
	return h.feed.subscribe()
}

// Run fetches the list immediately and then every interval until ctx is
// done. Fetch failures are logged and the last good list is kept.
func (h *HTTP) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("failed to refresh sensor roster", "url", h.endpoint, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches the list once and publishes it when it changed.
func (h *HTTP) Refresh(ctx context.Context) error {
	list, err := h.fetch(ctx)
	if err != nil {
		return err
	}

	if h.store != nil {
		if err := h.seed(ctx, list); err != nil {
			h.logger.Warn("failed to seed sensor list cache", "error", err)
		}
	}

	if h.feed.publish(list) {
		h.logger.Info("sensor roster changed", "sensors", len(list))
	}
	return nil
}

// seed fills the list view from a fetched roster. An existing list keeps the
// fields merged into it by live events: each fetched record is laid over the
// cached element with the same id.
func (h *HTTP) seed(ctx context.Context, list []cache.Record) error {
	_, ok, err := h.store.List(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return h.store.SetList(ctx, list)
	}
	return h.store.UpdateList(ctx, func(current []cache.Record) []cache.Record {
		return overlay(current, list)
	})
}

func overlay(current, fetched []cache.Record) []cache.Record {
	byID := make(map[string]cache.Record, len(current))
	for _, r := range current {
		if id := r.ID(); id != "" {
			byID[id] = r
		}
	}

	out := make([]cache.Record, 0, len(fetched))
	for _, r := range fetched {
		if prev, ok := byID[r.ID()]; ok && r.ID() != "" {
			out = append(out, cache.Merge(prev, r))
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

func (h *HTTP) fetch(ctx context.Context) ([]cache.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build roster request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return decodeList(body)
}

// decodeList accepts a bare array or an object wrapping it under "data"
// or "sensors".
func decodeList(body []byte) ([]cache.Record, error) {
	var list []cache.Record
	if err := json.Unmarshal(body, &list); err == nil {
		return nonNil(list), nil
	}

	var wrapped struct {
		Data    []cache.Record `json:"data"`
		Sensors []cache.Record `json:"sensors"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if wrapped.Sensors != nil {
		return nonNil(wrapped.Sensors), nil
	}
	return nonNil(wrapped.Data), nil
}

func nonNil(list []cache.Record) []cache.Record {
	out := make([]cache.Record, 0, len(list))
	for _, r := range list {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

var _ Provider = (*HTTP)(nil)
