package event_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/notify"
)

var _ = Describe("Event", func() {
	received := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	Describe("Parse", func() {
		It("should decode an object payload", func() {
			env, err := event.Parse("sensor_A1",
				[]byte(`{"type":"air_quality","data":{"aqi":42},"message":"High AQI","sensor_id":"A1"}`), received)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Kind).To(Equal(event.KindAirQuality))
			Expect(env.Type).To(Equal("air_quality"))
			Expect(env.Message).To(Equal("High AQI"))
			Expect(env.SensorID).To(Equal("A1"))
			Expect(env.Room).To(Equal("sensor_A1"))
			Expect(env.ReceivedAt).To(Equal(received))
			Expect(string(env.Raw)).To(ContainSubstring(`"aqi":42`))
		})

		It("should decode a JSON-encoded string payload", func() {
			env, err := event.Parse("sensor_9", []byte(`"{\"type\":\"alert\",\"id\":9}"`), received)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Kind).To(Equal(event.KindAlert))
			Expect(env.SensorID).To(Equal("9"))
		})

		DescribeTable("should reject malformed frames",
			func(payload string) {
				_, err := event.Parse("sensor_1", []byte(payload), received)
				Expect(err).To(HaveOccurred())
			},
			Entry("empty", ""),
			Entry("truncated", `{"type":`),
			Entry("array", `[1,2,3]`),
			Entry("number", `17`),
			Entry("null", `null`),
			Entry("string of garbage", `"not json"`),
		)

		It("should report non-object payloads distinctly", func() {
			_, err := event.Parse("sensor_1", []byte(`[1]`), received)
			Expect(err).To(MatchError(event.ErrNotObject))
		})

		It("should classify unknown tags into the default bucket", func() {
			env, err := event.Parse("sensor_1", []byte(`{"type":"firmware_rollback","id":1}`), received)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Kind).To(Equal(event.KindUnknown))
			Expect(env.Type).To(Equal("firmware_rollback"))
		})
	})

	Describe("ResolveSensorID", func() {
		DescribeTable("should pick the first non-empty identifier",
			func(fields map[string]any, expected string) {
				Expect(event.ResolveSensorID(fields)).To(Equal(expected))
			},
			Entry("sensor_id wins", map[string]any{"sensor_id": "s", "id": "i", "device_id": "d"}, "s"),
			Entry("falls back to id", map[string]any{"sensor_id": "", "id": "i"}, "i"),
			Entry("falls back to device_id", map[string]any{"sensor_id": nil, "device_id": "d"}, "d"),
			Entry("numeric id coerced", map[string]any{"id": float64(12)}, "12"),
			Entry("fractional id kept", map[string]any{"id": 1.5}, "1.5"),
			Entry("zero is empty", map[string]any{"id": float64(0), "device_id": "d"}, "d"),
			Entry("false is empty", map[string]any{"sensor_id": false, "id": "i"}, "i"),
			Entry("nothing resolvable", map[string]any{"type": "status_update"}, ""),
		)
	})

	Describe("MergeSource", func() {
		It("should use the data object for status updates", func() {
			env, err := event.Parse("sensor_1", []byte(`{"type":"status_update","id":1,"data":{"online":true}}`), received)
			Expect(err).NotTo(HaveOccurred())
			src, ok := env.MergeSource()
			Expect(ok).To(BeTrue())
			Expect(src).To(Equal(map[string]any{"online": true}))
		})

		It("should use the whole envelope for alerts", func() {
			env, err := event.Parse("sensor_1", []byte(`{"type":"alert","id":1,"level":"high"}`), received)
			Expect(err).NotTo(HaveOccurred())
			src, ok := env.MergeSource()
			Expect(ok).To(BeTrue())
			Expect(src).To(HaveKeyWithValue("level", "high"))
			Expect(src).To(HaveKeyWithValue("type", "alert"))
		})

		It("should report a data field that is not an object", func() {
			env, err := event.Parse("sensor_1", []byte(`{"type":"air_quality","id":1,"data":[1]}`), received)
			Expect(err).NotTo(HaveOccurred())
			_, ok := env.MergeSource()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Kind presentation", func() {
		DescribeTable("should map each kind to its toast",
			func(k event.Kind, style notify.Style, ms int, mergeData bool) {
				p := k.Present()
				Expect(p.Style).To(Equal(style))
				Expect(p.Duration).To(Equal(time.Duration(ms) * time.Millisecond))
				Expect(p.MergeData).To(Equal(mergeData))
				Expect(p.Title).NotTo(BeEmpty())
			},
			Entry("alert", event.KindAlert, notify.StyleWarning, 5000, false),
			Entry("status_update", event.KindStatusUpdate, notify.StyleInfo, 3000, true),
			Entry("air_quality", event.KindAirQuality, notify.StyleInfo, 4000, true),
			Entry("sound_event", event.KindSoundEvent, notify.StyleWarning, 4000, false),
			Entry("calibration", event.KindCalibration, notify.StyleSuccess, 3000, false),
			Entry("maintenance", event.KindMaintenance, notify.StyleInfo, 4000, false),
			Entry("unknown", event.KindUnknown, notify.StyleInfo, 3000, false),
		)

		It("should round-trip every tag", func() {
			for _, k := range event.Kinds {
				if k == event.KindUnknown {
					continue
				}
				Expect(event.ParseKind(k.String())).To(Equal(k))
			}
		})
	})
})
