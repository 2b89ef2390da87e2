package simulator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/facility-monitor/internal/simulator"
	"procodus.dev/facility-monitor/pkg/logger"
	"procodus.dev/facility-monitor/pkg/transport"
)

type inbox struct {
	mu     sync.Mutex
	frames []json.RawMessage
}

func (i *inbox) add(p json.RawMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.frames = append(i.frames, p)
}

func (i *inbox) all() []json.RawMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]json.RawMessage(nil), i.frames...)
}

var _ = Describe("Server", func() {
	var (
		srv *simulator.Server
		ts  *httptest.Server
	)

	BeforeEach(func() {
		var err error
		srv, err = simulator.NewServer(&simulator.Config{
			Logger:      logger.Discard(),
			Token:       "secret",
			SensorCount: 3,
			Seed:        7,
			PollTimeout: 50 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
		ts = httptest.NewServer(srv.Handler())
	})

	AfterEach(func() {
		srv.Hub().DisconnectAll()
		ts.Close()
	})

	get := func(path, token string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("NewServer", func() {
		It("rejects a nil config", func() {
			_, err := simulator.NewServer(nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects a missing logger", func() {
			_, err := simulator.NewServer(&simulator.Config{})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("generates the requested roster", func() {
			Expect(srv.Sensors()).To(HaveLen(3))
		})
	})

	Describe("HTTP API", func() {
		It("requires the bearer token", func() {
			resp := get("/api/sensors", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("serves health without a token", func() {
			resp := get("/healthz", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("lists sensors as records", func() {
			resp := get("/api/sensors", "secret")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var list []map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&list)).To(Succeed())
			Expect(list).To(HaveLen(3))
			for i, rec := range list {
				Expect(rec["id"]).To(Equal(srv.Sensors()[i].ID))
			}
		})

		It("rejects a non-JSON manual publish", func() {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/rooms/sensor_1/events", strings.NewReader("nope"))
			req.Header.Set("Authorization", "Bearer secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("answers polls for unknown sessions with 410", func() {
			resp := get("/events/poll?sid=nobody", "secret")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusGone))
		})
	})

	DescribeTable("delivering room events to a console",
		func(kind string) {
			sock, err := transport.NewSocket(&transport.SocketConfig{
				Logger:            logger.Discard(),
				URL:               ts.URL,
				Token:             "secret",
				Transports:        []string{kind},
				ReconnectionDelay: 10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sock.Disconnect)

			got := &inbox{}
			sock.On("sensor_100", got.add)
			connected := make(chan struct{}, 1)
			sock.On(transport.EventConnect, func(json.RawMessage) {
				select {
				case connected <- struct{}{}:
				default:
				}
			})

			Expect(sock.Connect(context.Background())).To(Succeed())
			Eventually(connected).Should(Receive())

			Expect(sock.Emit(transport.EventSubscribe, transport.RoomRequest{Room: "sensor_100"})).To(Succeed())
			Eventually(srv.Hub().Rooms).Should(ContainElement("sensor_100"))

			Expect(srv.PublishSensorEvent("100", map[string]any{"type": "status", "sensor_id": "100"})).To(Equal(1))
			Eventually(got.all).Should(HaveLen(1))
			Expect(got.all()[0]).To(MatchJSON(`{"type":"status","sensor_id":"100"}`))

			Expect(sock.Emit(transport.EventUnsubscribe, transport.RoomRequest{Room: "sensor_100"})).To(Succeed())
			Eventually(srv.Hub().Rooms).ShouldNot(ContainElement("sensor_100"))
			Expect(srv.Publish("sensor_100", map[string]any{"type": "status"})).To(Equal(0))
		},
		Entry("over websocket", transport.TransportWebsocket),
		Entry("over long-polling", transport.TransportPolling),
	)

	It("counts heartbeats", func() {
		sock, err := transport.NewSocket(&transport.SocketConfig{
			Logger: logger.Discard(),
			URL:    ts.URL,
			Token:  "secret",
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sock.Disconnect)
		Expect(sock.Connect(context.Background())).To(Succeed())
		Eventually(sock.Connected).Should(BeTrue())

		Expect(sock.Emit(transport.EventPing, transport.Ping{Timestamp: 1})).To(Succeed())
		Eventually(func() uint64 { return srv.Hub().Stats().Pings }).Should(Equal(uint64(1)))
	})

	It("publishes generated events to sensor rooms", func() {
		sock, err := transport.NewSocket(&transport.SocketConfig{
			Logger: logger.Discard(),
			URL:    ts.URL,
			Token:  "secret",
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sock.Disconnect)

		got := &inbox{}
		for _, s := range srv.Sensors() {
			sock.On("sensor_"+s.ID, got.add)
		}
		Expect(sock.Connect(context.Background())).To(Succeed())
		Eventually(sock.Connected).Should(BeTrue())
		for _, s := range srv.Sensors() {
			Expect(sock.Emit(transport.EventSubscribe, transport.RoomRequest{Room: "sensor_" + s.ID})).To(Succeed())
		}
		Eventually(func() int { return len(srv.Hub().Rooms()) }).Should(Equal(3))

		id := srv.Tick(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		Expect(id).NotTo(BeEmpty())
		Eventually(got.all).Should(HaveLen(1))

		var ev map[string]any
		Expect(json.Unmarshal(got.all()[0], &ev)).To(Succeed())
		Expect(ev).To(HaveKey("type"))
	})

	It("drops clients on DisconnectAll", func() {
		sock, err := transport.NewSocket(&transport.SocketConfig{
			Logger:            logger.Discard(),
			URL:               ts.URL,
			Token:             "secret",
			ReconnectionDelay: time.Hour,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sock.Disconnect)
		dropped := make(chan json.RawMessage, 1)
		sock.On(transport.EventDisconnect, func(p json.RawMessage) { dropped <- p })

		Expect(sock.Connect(context.Background())).To(Succeed())
		Eventually(func() int { return srv.Hub().Stats().Clients }).Should(Equal(1))

		Expect(srv.Hub().DisconnectAll()).To(Equal(1))
		Eventually(dropped).Should(Receive())
		Expect(srv.Hub().Stats().Clients).To(BeZero())
	})
})
