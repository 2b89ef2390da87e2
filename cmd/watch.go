package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/facility-monitor/internal/console"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live sensor events",
	Long: `Connect to the event server and:
- Subscribe to one room per known sensor plus the user room
- Merge live events into the sensor detail and list caches
- Record every raw event and raise notifications
- Serve status, caches and metrics over HTTP and health over gRPC`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.String("transport", console.TransportSocket, "event transport (socket, mqtt)")
	f.String("url", "http://localhost:8090", "event server base URL")
	f.String("path", "/events", "event endpoint path")
	f.String("token", "", "bearer token for the event server and REST API")
	f.StringSlice("transports", []string{"websocket", "polling"}, "socket transports in preference order")
	f.Bool("no-reconnect", false, "disable automatic reconnection")
	f.Duration("reconnect-delay", time.Second, "delay between reconnection attempts")
	f.Int("reconnect-attempts", 5, "reconnection attempts before giving up")
	f.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	f.String("mqtt-client-id", "", "MQTT client id (default generated)")
	f.String("mqtt-topic-prefix", "facility/", "MQTT topic prefix for rooms")
	f.String("username", "", "user room to subscribe to")
	f.Duration("heartbeat", 30*time.Second, "liveness ping interval")
	f.StringSlice("sensors", nil, "static sensor ids (disables the REST roster)")
	f.String("roster-url", "", "REST API base URL for the sensor roster (default --url)")
	f.Duration("roster-interval", 30*time.Second, "sensor roster revalidation interval")
	f.String("cache", console.CacheMemory, "cache backend (memory, redis)")
	f.String("redis-addr", "localhost:6379", "Redis address")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("redis-prefix", "facility:", "Redis key prefix")
	f.Int("event-log-size", 500, "in-memory raw event log capacity")
	f.Bool("db-enabled", false, "persist raw events to PostgreSQL")
	f.String("db-host", "localhost", "PostgreSQL host")
	f.Int("db-port", 5432, "PostgreSQL port")
	f.String("db-user", "postgres", "PostgreSQL user")
	f.String("db-password", "", "PostgreSQL password")
	f.String("db-name", "facility", "PostgreSQL database name")
	f.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	f.String("archive-url", "", "RabbitMQ URL for the raw event archive (empty disables)")
	f.String("archive-queue", "facility.events", "RabbitMQ archive queue name")
	f.String("http-addr", ":8081", "admin HTTP listen address")
	f.String("grpc-addr", ":9091", "gRPC health listen address (empty disables)")

	bindings := map[string]string{
		"watch.transport":              "transport",
		"watch.event.url":              "url",
		"watch.event.path":             "path",
		"watch.token":                  "token",
		"watch.event.transports":       "transports",
		"watch.reconnect.disabled":     "no-reconnect",
		"watch.reconnect.delay":        "reconnect-delay",
		"watch.reconnect.attempts":     "reconnect-attempts",
		"watch.mqtt.broker":            "mqtt-broker",
		"watch.mqtt.client_id":         "mqtt-client-id",
		"watch.mqtt.topic_prefix":      "mqtt-topic-prefix",
		"watch.username":               "username",
		"watch.heartbeat":              "heartbeat",
		"watch.roster.sensors":         "sensors",
		"watch.roster.url":             "roster-url",
		"watch.roster.interval":        "roster-interval",
		"watch.cache.backend":          "cache",
		"watch.cache.redis.addr":       "redis-addr",
		"watch.cache.redis.password":   "redis-password",
		"watch.cache.redis.db":         "redis-db",
		"watch.cache.redis.prefix":     "redis-prefix",
		"watch.eventlog.size":          "event-log-size",
		"watch.eventlog.db.enabled":    "db-enabled",
		"watch.eventlog.db.host":       "db-host",
		"watch.eventlog.db.port":       "db-port",
		"watch.eventlog.db.user":       "db-user",
		"watch.eventlog.db.password":   "db-password",
		"watch.eventlog.db.name":       "db-name",
		"watch.eventlog.db.sslmode":    "db-sslmode",
		"watch.eventlog.archive.url":   "archive-url",
		"watch.eventlog.archive.queue": "archive-queue",
		"watch.admin.http_addr":        "http-addr",
		"watch.admin.grpc_addr":        "grpc-addr",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runWatch(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting watch service")

	rosterURL := viper.GetString("watch.roster.url")
	if rosterURL == "" {
		rosterURL = viper.GetString("watch.event.url")
	}

	config := &console.ServerConfig{
		Logger:               logger,
		Transport:            viper.GetString("watch.transport"),
		EventURL:             viper.GetString("watch.event.url"),
		EventPath:            viper.GetString("watch.event.path"),
		Token:                viper.GetString("watch.token"),
		Transports:           viper.GetStringSlice("watch.event.transports"),
		DisableReconnection:  viper.GetBool("watch.reconnect.disabled"),
		ReconnectionDelay:    viper.GetDuration("watch.reconnect.delay"),
		ReconnectionAttempts: viper.GetInt("watch.reconnect.attempts"),
		MQTTBroker:           viper.GetString("watch.mqtt.broker"),
		MQTTClientID:         viper.GetString("watch.mqtt.client_id"),
		MQTTTopicPrefix:      viper.GetString("watch.mqtt.topic_prefix"),
		Username:             viper.GetString("watch.username"),
		HeartbeatInterval:    viper.GetDuration("watch.heartbeat"),
		Sensors:              viper.GetStringSlice("watch.roster.sensors"),
		RosterURL:            rosterURL,
		RosterInterval:       viper.GetDuration("watch.roster.interval"),
		Cache:                viper.GetString("watch.cache.backend"),
		RedisAddr:            viper.GetString("watch.cache.redis.addr"),
		RedisPassword:        viper.GetString("watch.cache.redis.password"),
		RedisDB:              viper.GetInt("watch.cache.redis.db"),
		RedisPrefix:          viper.GetString("watch.cache.redis.prefix"),
		EventLogSize:         viper.GetInt("watch.eventlog.size"),
		DBEnabled:            viper.GetBool("watch.eventlog.db.enabled"),
		DBHost:               viper.GetString("watch.eventlog.db.host"),
		DBPort:               viper.GetInt("watch.eventlog.db.port"),
		DBUser:               viper.GetString("watch.eventlog.db.user"),
		DBPassword:           viper.GetString("watch.eventlog.db.password"),
		DBName:               viper.GetString("watch.eventlog.db.name"),
		DBSSLMode:            viper.GetString("watch.eventlog.db.sslmode"),
		ArchiveURL:           viper.GetString("watch.eventlog.archive.url"),
		ArchiveQueue:         viper.GetString("watch.eventlog.archive.queue"),
		HTTPAddr:             viper.GetString("watch.admin.http_addr"),
		GRPCAddr:             viper.GetString("watch.admin.grpc_addr"),
	}

	server, err := console.NewServer(config)
	if err != nil {
		logger.Error("failed to create console", "error", err)
		return err
	}

	logger.Info("console configuration",
		"transport", config.Transport,
		"event_url", config.EventURL,
		"roster_url", config.RosterURL,
		"static_sensors", len(config.Sensors),
		"cache", config.Cache,
		"db_enabled", config.DBEnabled,
		"archive_enabled", config.ArchiveURL != "",
		"http_addr", config.HTTPAddr,
		"grpc_addr", config.GRPCAddr,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("console error", "error", err)
		return err
	}

	logger.Info("console stopped")
	return nil
}
