package console_test

import (
	"context"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/facility-monitor/internal/console"
	"procodus.dev/facility-monitor/internal/simulator"
	"procodus.dev/facility-monitor/internal/stream"
	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/logger"
)

func validConfig() *console.ServerConfig {
	return &console.ServerConfig{
		Logger:    logger.Discard(),
		Transport: console.TransportSocket,
		EventURL:  "http://localhost:8090",
		Sensors:   []string{"A1"},
		Cache:     console.CacheMemory,
		HTTPAddr:  "127.0.0.1:0",
	}
}

var _ = Describe("Server", func() {
	Describe("NewServer", func() {
		It("accepts a minimal configuration", func() {
			_, err := console.NewServer(validConfig())
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a nil config", func() {
			_, err := console.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		DescribeTable("rejects invalid settings",
			func(mutate func(*console.ServerConfig), msg string) {
				cfg := validConfig()
				mutate(cfg)
				_, err := console.NewServer(cfg)
				Expect(err).To(MatchError(ContainSubstring(msg)))
			},
			Entry("missing logger", func(c *console.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("unknown transport", func(c *console.ServerConfig) { c.Transport = "carrier-pigeon" }, "unknown transport"),
			Entry("socket without URL", func(c *console.ServerConfig) { c.EventURL = "" }, "event URL cannot be empty"),
			Entry("mqtt without broker", func(c *console.ServerConfig) { c.Transport = console.TransportMQTT }, "MQTT broker cannot be empty"),
			Entry("no roster", func(c *console.ServerConfig) { c.Sensors = nil }, "roster URL is required"),
			Entry("unknown cache", func(c *console.ServerConfig) { c.Cache = "disk" }, "unknown cache backend"),
			Entry("redis without address", func(c *console.ServerConfig) { c.Cache = console.CacheRedis }, "redis address cannot be empty"),
			Entry("database without host", func(c *console.ServerConfig) { c.DBEnabled = true }, "database host cannot be empty"),
			Entry("missing HTTP address", func(c *console.ServerConfig) { c.HTTPAddr = "" }, "HTTP address cannot be empty"),
		)
	})

	Describe("Run against the simulator", func() {
		var (
			sim    *simulator.Server
			ts     *httptest.Server
			srv    *console.Server
			cancel context.CancelFunc
			done   chan error
		)

		BeforeEach(func() {
			var err error
			sim, err = simulator.NewServer(&simulator.Config{
				Logger:      logger.Discard(),
				Token:       "secret",
				SensorCount: 2,
				Seed:        3,
				PollTimeout: 100 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())
			ts = httptest.NewServer(sim.Handler())

			srv, err = console.NewServer(&console.ServerConfig{
				Logger:            logger.Discard(),
				Transport:         console.TransportSocket,
				EventURL:          ts.URL,
				Token:             "secret",
				ReconnectionDelay: 20 * time.Millisecond,
				Username:          "alice",
				RosterURL:         ts.URL,
				RosterInterval:    time.Minute,
				Cache:             console.CacheMemory,
				HTTPAddr:          "127.0.0.1:0",
				Registry:          prometheus.NewRegistry(),
			})
			Expect(err).NotTo(HaveOccurred())

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan error, 1)
			go func() { done <- srv.Run(ctx) }()
			Eventually(srv.Ready()).Should(BeClosed())
		})

		AfterEach(func() {
			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			sim.Hub().DisconnectAll()
			ts.Close()
		})

		It("subscribes the roster and merges live events into both views", func() {
			Eventually(func() stream.State { return srv.Status().State }).Should(Equal(stream.StateOpen))
			Eventually(sim.Hub().Rooms).Should(ConsistOf("alice", "sensor_100", "sensor_101"))

			sim.PublishSensorEvent("100", map[string]any{
				"type":      "status_update",
				"sensor_id": "100",
				"data":      map[string]any{"temperature": 21.5},
			})

			Eventually(func() cache.Record {
				rec, _, _ := srv.Store().Detail(context.Background(), "100")
				return rec
			}).Should(HaveKeyWithValue("temperature", 21.5))

			Eventually(func() []cache.Record {
				list, _, _ := srv.Store().List(context.Background())
				return list
			}).Should(ContainElement(HaveKeyWithValue("temperature", 21.5)))

			Expect(srv.Events().Len()).To(Equal(1))
			Eventually(srv.Tray().Active).Should(ContainElement(HaveField("SensorID", "100")))
		})

		It("unsubscribes everything on shutdown", func() {
			Eventually(sim.Hub().Rooms).Should(HaveLen(3))
			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			Eventually(func() int { return sim.Hub().Stats().Clients }).Should(BeZero())
			done <- nil
		})
	})
})
