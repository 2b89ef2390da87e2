package generator_test

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/generator"
)

var _ = Describe("Generator", func() {
	var (
		f   *gofakeit.Faker
		now time.Time
	)

	BeforeEach(func() {
		f = gofakeit.New(42)
		now = time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)
	})

	It("should build a roster with sequential ids", func() {
		sensors := generator.NewRoster(f, 100, 3)
		Expect(sensors).To(HaveLen(3))
		Expect(sensors[0].ID).To(Equal("100"))
		Expect(sensors[2].ID).To(Equal("102"))
		Expect(sensors[0].Location).NotTo(BeEmpty())

		records := generator.Records(sensors)
		Expect(records[1].ID()).To(Equal("101"))
	})

	DescribeTable("should produce events that parse into their own kind",
		func(kind event.Kind) {
			g := generator.NewGenerator(f, generator.NewSensor(f, "7"))
			payload, err := json.Marshal(g.Event(kind, now))
			Expect(err).NotTo(HaveOccurred())

			env, err := event.Parse("sensor_7", payload, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Kind).To(Equal(kind))
			Expect(env.SensorID).To(Equal("7"))
			Expect(env.Message).NotTo(BeEmpty())

			_, ok := env.MergeSource()
			Expect(ok).To(BeTrue())
		},
		Entry("alert", event.KindAlert),
		Entry("status update", event.KindStatusUpdate),
		Entry("air quality", event.KindAirQuality),
		Entry("sound event", event.KindSoundEvent),
		Entry("calibration", event.KindCalibration),
		Entry("maintenance", event.KindMaintenance),
		Entry("unknown", event.KindUnknown),
	)

	It("should keep readings within physical bounds", func() {
		g := generator.NewGenerator(f, generator.NewSensor(f, "7"))
		for i := range 200 {
			at := now.Add(time.Duration(i) * 7 * time.Minute)
			data := g.Event(event.KindStatusUpdate, at)[event.FieldData].(map[string]any)
			Expect(data["humidity"]).To(BeNumerically(">=", 15))
			Expect(data["humidity"]).To(BeNumerically("<=", 90))
			Expect(data["battery_level"]).To(BeNumerically(">=", 5))

			aq := g.Event(event.KindAirQuality, at)[event.FieldData].(map[string]any)
			Expect(aq["aqi"]).To(BeNumerically(">=", 0))
			Expect(aq["aqi"]).To(BeNumerically("<=", 500))
		}
	})

	It("should mix every known kind over time", func() {
		g := generator.NewGenerator(f, generator.NewSensor(f, "7"))
		seen := map[string]bool{}
		for range 2000 {
			seen[g.Next(now)[event.FieldType].(string)] = true
		}
		for _, k := range event.Kinds {
			if k == event.KindUnknown {
				continue
			}
			Expect(seen).To(HaveKey(k.String()))
		}
	})
})
