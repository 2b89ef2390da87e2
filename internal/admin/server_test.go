package admin_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/facility-monitor/internal/admin"
	"procodus.dev/facility-monitor/internal/stream"
	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/eventlog"
	"procodus.dev/facility-monitor/pkg/logger"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/notify"
)

type fixedStatus struct {
	status stream.Status
}

func (f *fixedStatus) Status() stream.Status { return f.status }

var _ = Describe("Server", func() {
	var (
		status *fixedStatus
		store  *cache.MemoryStore
		events *eventlog.Memory
		tray   *notify.Tray
		ts     *httptest.Server
	)

	BeforeEach(func() {
		status = &fixedStatus{status: stream.Status{State: stream.StateOpen, Rooms: []string{"alice", "sensor_A1"}}}
		store = cache.NewMemoryStore()
		events = eventlog.NewMemory(10)
		tray = notify.NewTray()

		reg := prometheus.NewRegistry()
		metrics.NewStreamMetrics(reg)

		srv, err := admin.NewServer(&admin.ServerConfig{
			Logger:        logger.Discard(),
			Status:        status,
			Store:         store,
			Events:        events,
			Notifications: tray,
			Metrics:       metrics.HandlerFor(reg),
		})
		Expect(err).NotTo(HaveOccurred())
		ts = httptest.NewServer(srv.Handler())
	})

	AfterEach(func() {
		ts.Close()
	})

	get := func(path string) (int, []byte) {
		resp, err := http.Get(ts.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, body
	}

	Describe("NewServer", func() {
		It("rejects a nil config", func() {
			_, err := admin.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		It("requires a health server when gRPC is enabled", func() {
			_, err := admin.NewServer(&admin.ServerConfig{
				Logger:   logger.Discard(),
				Status:   status,
				Store:    store,
				GRPCAddr: ":0",
			})
			Expect(err).To(MatchError(ContainSubstring("health cannot be nil")))
		})
	})

	Describe("/healthz", func() {
		It("is 200 while open", func() {
			code, _ := get("/healthz")
			Expect(code).To(Equal(http.StatusOK))
		})

		It("is 503 otherwise", func() {
			status.status = stream.Status{State: stream.StateClosed, Exhausted: true}
			code, body := get("/healthz")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(MatchJSON(`{"state":"closed","exhausted":true}`))
		})
	})

	It("serves the manager status", func() {
		code, body := get("/api/status")
		Expect(code).To(Equal(http.StatusOK))

		var got map[string]any
		Expect(json.Unmarshal(body, &got)).To(Succeed())
		Expect(got["state"]).To(Equal("open"))
		Expect(got["rooms"]).To(ConsistOf("alice", "sensor_A1"))
	})

	Describe("sensor views", func() {
		It("is 404 before the list is cached", func() {
			code, _ := get("/api/sensors")
			Expect(code).To(Equal(http.StatusNotFound))
		})

		It("serves the list and detail views", func() {
			ctx := context.Background()
			Expect(store.SetList(ctx, []cache.Record{{"id": "A1", "name": "Lobby"}})).To(Succeed())
			Expect(store.UpdateDetail(ctx, "A1", func(cache.Record, bool) cache.Record {
				return cache.Record{"id": "A1", "co2": 410.0}
			})).To(Succeed())

			code, body := get("/api/sensors")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`[{"id":"A1","name":"Lobby"}]`))

			code, body = get("/api/sensors/A1")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"id":"A1","co2":410}`))

			code, _ = get("/api/sensors/B2")
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})

	It("serves the raw event log", func() {
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		env, err := event.Parse("sensor_A1", []byte(`{"type":"alert","sensor_id":"A1","message":"smoke"}`), at)
		Expect(err).NotTo(HaveOccurred())
		Expect(events.Append(context.Background(), env)).To(Succeed())

		code, body := get("/api/events")
		Expect(code).To(Equal(http.StatusOK))

		var got []map[string]any
		Expect(json.Unmarshal(body, &got)).To(Succeed())
		Expect(got).To(HaveLen(1))
		Expect(got[0]["room"]).To(Equal("sensor_A1"))
		Expect(got[0]["sensor_id"]).To(Equal("A1"))
		Expect(got[0]["message"]).To(Equal("smoke"))
	})

	It("serves active notifications", func() {
		tray.Add(notify.Notification{At: time.Now(), Title: "Alert", Style: notify.StyleWarning, Duration: time.Minute})

		code, body := get("/api/notifications")
		Expect(code).To(Equal(http.StatusOK))

		var got []map[string]any
		Expect(json.Unmarshal(body, &got)).To(Succeed())
		Expect(got).To(HaveLen(1))
		Expect(got[0]["title"]).To(Equal("Alert"))
	})

	It("serves metrics", func() {
		code, body := get("/metrics")
		Expect(code).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("facility_monitor_stream_connection_status"))
	})
})
