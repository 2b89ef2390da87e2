// Package console assembles the sensor event pipeline: transport, roster,
// caches, event log, notifications, the connection manager and the admin
// surface.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"procodus.dev/facility-monitor/internal/admin"
	"procodus.dev/facility-monitor/internal/stream"
	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/eventlog"
	"procodus.dev/facility-monitor/pkg/logger"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/mq"
	"procodus.dev/facility-monitor/pkg/notify"
	"procodus.dev/facility-monitor/pkg/roster"
	"procodus.dev/facility-monitor/pkg/transport"
)

// Transport kinds.
const (
	TransportSocket = "socket"
	TransportMQTT   = "mqtt"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Event server connection
	Transport            string
	EventURL             string
	EventPath            string
	Token                string
	Transports           []string
	DisableReconnection  bool
	ReconnectionDelay    time.Duration
	ReconnectionAttempts int
	MQTTBroker           string
	MQTTClientID         string
	MQTTTopicPrefix      string
	Username             string
	HeartbeatInterval    time.Duration

	// Roster: a static id list, or the REST roster when Sensors is empty
	Sensors        []string
	RosterURL      string
	RosterInterval time.Duration

	// Cache configuration
	Cache         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Event log configuration
	EventLogSize int
	DBEnabled    bool
	DBHost       string
	DBPort       int
	DBUser       string
	DBPassword   string
	DBName       string
	DBSSLMode    string
	ArchiveURL   string
	ArchiveQueue string

	// Admin surface
	HTTPAddr string
	GRPCAddr string

	// Registry receives the pipeline metrics. Nil uses metrics.Registry.
	Registry *prometheus.Registry
}

// Server runs the console until it is told to stop.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	transport transport.Transport
	roster    roster.Provider
	store     cache.Store
	events    *eventlog.Memory
	queue     *notify.Queue
	tray      *notify.Tray
	manager   *stream.Manager
	health    *admin.Health
	admin     *admin.Server

	closers []func() error
	ready   chan struct{}
	mu      sync.Mutex
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	switch cfg.Transport {
	case TransportSocket:
		if cfg.EventURL == "" {
			return nil, errors.New("event URL cannot be empty")
		}
	case TransportMQTT:
		if cfg.MQTTBroker == "" {
			return nil, errors.New("MQTT broker cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	if len(cfg.Sensors) == 0 && cfg.RosterURL == "" {
		return nil, errors.New("either a sensor list or a roster URL is required")
	}

	switch cfg.Cache {
	case CacheMemory:
	case CacheRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis address cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache)
	}

	if cfg.DBEnabled {
		if cfg.DBHost == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.DBPort <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.DBUser == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("HTTP address cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
		ready:  make(chan struct{}),
	}, nil
}

// Run builds the pipeline, connects and blocks until ctx is done, a
// shutdown signal arrives or the admin server fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting console")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := s.build(ctx); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	var wg sync.WaitGroup
	if p, ok := s.roster.(*roster.HTTP); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		notify.NewSink(logger.WithComponent(s.logger, "notify"), s.queue, s.tray).Run(ctx)
	}()

	adminErr := make(chan error, 1)
	go func() {
		adminErr <- s.admin.Run(ctx)
	}()

	if err := s.manager.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return errors.Join(fmt.Errorf("failed to start connection manager: %w", err), <-adminErr, s.Shutdown())
	}
	close(s.ready)
	s.logger.Info("console started", "transport", s.config.Transport, "cache", s.config.Cache)

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case runErr = <-adminErr:
		s.logger.Error("admin server error", "error", runErr)
		adminErr = nil
	}

	// Pipeline teardown first, then the admin surface.
	shutdownErr := s.Shutdown()
	cancel()
	if adminErr != nil {
		runErr = errors.Join(runErr, <-adminErr)
	}
	wg.Wait()
	return errors.Join(runErr, shutdownErr)
}

// Ready is closed once the manager has started.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Status returns the connection manager status.
func (s *Server) Status() stream.Status {
	return s.manager.Status()
}

// Store returns the sensor cache.
func (s *Server) Store() cache.Store {
	return s.store
}

// Events returns the in-memory raw event log.
func (s *Server) Events() *eventlog.Memory {
	return s.events
}

// Tray returns the notification tray.
func (s *Server) Tray() *notify.Tray {
	return s.tray
}

// Shutdown tears the pipeline down in reverse build order. It is safe to
// call more than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	if len(closers) == 0 {
		return nil
	}
	s.logger.Info("shutting down console")

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("console shutdown completed with errors", "error", err)
		return err
	}
	s.logger.Info("console shutdown completed successfully")
	return nil
}

func (s *Server) onClose(fn func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

func (s *Server) build(ctx context.Context) error {
	reg := s.config.Registry
	if reg == nil {
		reg = metrics.Registry
	}
	streamMetrics := metrics.NewStreamMetrics(reg)

	store, err := s.buildStore(ctx)
	if err != nil {
		return err
	}
	s.store = store

	log, err := s.buildEventLog(reg)
	if err != nil {
		return err
	}

	if s.roster, err = s.buildRoster(); err != nil {
		return err
	}
	if s.transport, err = s.buildTransport(); err != nil {
		return err
	}

	s.queue = notify.NewQueue(notify.DefaultQueueSize)
	s.queue.SetMetrics(streamMetrics)
	s.tray = notify.NewTray()

	reconciler, err := cache.NewReconciler(&cache.ReconcilerConfig{
		Store:  s.store,
		Logger: logger.WithComponent(s.logger, "cache"),
	})
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}
	reconciler.SetMetrics(streamMetrics)

	dispatcher, err := stream.NewDispatcher(&stream.DispatcherConfig{
		Logger:  logger.WithComponent(s.logger, "dispatcher"),
		Applier: reconciler,
		Log:     log,
		Emitter: s.queue,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	dispatcher.SetMetrics(streamMetrics)

	s.manager, err = stream.NewManager(&stream.Config{
		Logger:            logger.WithComponent(s.logger, "stream"),
		Transport:         s.transport,
		Roster:            s.roster,
		Dispatcher:        dispatcher,
		Notifier:          s.queue,
		Username:          s.config.Username,
		HeartbeatInterval: s.config.HeartbeatInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}
	s.manager.SetMetrics(streamMetrics)

	s.health = admin.NewHealth(logger.WithComponent(s.logger, "health"))
	s.manager.OnStatus(s.health.Observe)
	s.onClose(s.manager.Close)

	s.admin, err = admin.NewServer(&admin.ServerConfig{
		Logger:        logger.WithComponent(s.logger, "admin"),
		Status:        s.manager,
		Store:         s.store,
		Events:        s.events,
		Notifications: s.tray,
		Health:        s.health,
		HTTPAddr:      s.config.HTTPAddr,
		GRPCAddr:      s.config.GRPCAddr,
		Metrics:       metrics.HandlerFor(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to create admin server: %w", err)
	}
	return nil
}

func (s *Server) buildTransport() (transport.Transport, error) {
	switch s.config.Transport {
	case TransportMQTT:
		return transport.NewMQTT(&transport.MQTTConfig{
			Logger:               logger.WithComponent(s.logger, "transport"),
			Broker:               s.config.MQTTBroker,
			ClientID:             s.config.MQTTClientID,
			Username:             s.config.Username,
			Token:                s.config.Token,
			TopicPrefix:          s.config.MQTTTopicPrefix,
			DisableReconnection:  s.config.DisableReconnection,
			ReconnectionDelay:    s.config.ReconnectionDelay,
			ReconnectionAttempts: s.config.ReconnectionAttempts,
		})
	default:
		return transport.NewSocket(&transport.SocketConfig{
			Logger:               logger.WithComponent(s.logger, "transport"),
			URL:                  s.config.EventURL,
			Path:                 s.config.EventPath,
			Token:                s.config.Token,
			Transports:           s.config.Transports,
			DisableReconnection:  s.config.DisableReconnection,
			ReconnectionDelay:    s.config.ReconnectionDelay,
			ReconnectionAttempts: s.config.ReconnectionAttempts,
		})
	}
}

func (s *Server) buildRoster() (roster.Provider, error) {
	if len(s.config.Sensors) > 0 {
		list := roster.FromIDs(s.config.Sensors...)
		if err := s.store.SetList(context.Background(), list); err != nil {
			s.logger.Warn("failed to seed sensor list cache", "error", err)
		}
		return roster.NewStatic(list), nil
	}
	return roster.NewHTTP(&roster.HTTPConfig{
		Logger:   logger.WithComponent(s.logger, "roster"),
		BaseURL:  s.config.RosterURL,
		Token:    s.config.Token,
		Interval: s.config.RosterInterval,
		Store:    s.store,
	})
}

func (s *Server) buildStore(ctx context.Context) (cache.Store, error) {
	if s.config.Cache != CacheRedis {
		return cache.NewMemoryStore(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     s.config.RedisAddr,
		Password: s.config.RedisPassword,
		DB:       s.config.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.onClose(rdb.Close)
	s.logger.Info("redis cache connected", "address", s.config.RedisAddr)

	return cache.NewRedisStore(&cache.RedisConfig{
		Client:    rdb,
		Logger:    logger.WithComponent(s.logger, "cache"),
		KeyPrefix: s.config.RedisPrefix,
	})
}

func (s *Server) buildEventLog(reg prometheus.Registerer) (eventlog.Log, error) {
	s.events = eventlog.NewMemory(s.config.EventLogSize)
	sinks := eventlog.Multi{s.events}

	if s.config.DBEnabled {
		db, err := eventlog.NewDB(&eventlog.DBConfig{
			Logger:   logger.WithComponent(s.logger, "eventlog"),
			Host:     s.config.DBHost,
			Port:     s.config.DBPort,
			User:     s.config.DBUser,
			Password: s.config.DBPassword,
			DBName:   s.config.DBName,
			SSLMode:  s.config.DBSSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s.onClose(func() error { return eventlog.CloseDB(db, s.logger) })

		sink, err := s.gormSink(db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if s.config.ArchiveURL != "" {
		client, err := mq.NewClient(&mq.Config{
			Logger:  logger.WithComponent(s.logger, "archive"),
			URL:     s.config.ArchiveURL,
			Queue:   s.config.ArchiveQueue,
			Durable: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archive client: %w", err)
		}
		client.SetMetrics(metrics.NewArchiveMetrics(reg))
		s.onClose(client.Close)

		archive, err := eventlog.NewArchiveLog(client)
		if err != nil {
			return nil, err
		}
		sink, err := s.asyncLog(archive)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

func (s *Server) gormSink(db *gorm.DB) (eventlog.Log, error) {
	g, err := eventlog.NewGormLog(db)
	if err != nil {
		return nil, err
	}
	return s.asyncLog(g)
}

func (s *Server) asyncLog(next eventlog.Log) (eventlog.Log, error) {
	a, err := eventlog.NewAsync(&eventlog.AsyncConfig{
		Logger: logger.WithComponent(s.logger, "eventlog"),
		Next:   next,
	})
	if err != nil {
		return nil, err
	}
	s.onClose(func() error {
		a.Close()
		return nil
	})
	return a, nil
}
