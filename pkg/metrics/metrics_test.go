package metrics_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/facility-monitor/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	var reg *prometheus.Registry

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
	})

	Describe("NewStreamMetrics", func() {
		It("should register every collector with the given registry", func() {
			m := metrics.NewStreamMetrics(reg)
			m.FramesReceived.WithLabelValues("alert").Inc()
			m.HeartbeatsSent.Inc()

			Expect(testutil.ToFloat64(m.HeartbeatsSent)).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.FramesReceived.WithLabelValues("alert"))).To(Equal(1.0))

			families, err := reg.Gather()
			Expect(err).NotTo(HaveOccurred())
			Expect(families).NotTo(BeEmpty())
		})

		It("should refuse a second registration on the same registry", func() {
			metrics.NewStreamMetrics(reg)
			Expect(func() { metrics.NewStreamMetrics(reg) }).To(Panic())
		})
	})

	Describe("NewArchiveMetrics", func() {
		It("should track pushes per queue", func() {
			m := metrics.NewArchiveMetrics(reg)
			m.MessagesPushed.WithLabelValues("sensor-events").Inc()
			Expect(testutil.ToFloat64(m.MessagesPushed.WithLabelValues("sensor-events"))).To(Equal(1.0))
		})
	})

	Describe("HandlerFor", func() {
		It("should expose registered metrics over HTTP", func() {
			m := metrics.NewStreamMetrics(reg)
			m.SubscribedRooms.Set(3)

			rec := httptest.NewRecorder()
			metrics.HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("facility_monitor_stream_subscribed_rooms 3"))
		})
	})
})
