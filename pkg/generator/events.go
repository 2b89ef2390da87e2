package generator

import (
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/facility-monitor/pkg/event"
)

// Share of traffic per kind, in percent.
var kindWeights = []struct {
	kind   event.Kind
	weight int
}{
	{event.KindStatusUpdate, 40},
	{event.KindAirQuality, 25},
	{event.KindSoundEvent, 15},
	{event.KindAlert, 10},
	{event.KindCalibration, 5},
	{event.KindMaintenance, 5},
}

// Generator produces events for one sensor. Readings follow a daily
// cycle around per-sensor baselines, with noise and rare spikes.
type Generator struct {
	f        *gofakeit.Faker
	sensor   Sensor
	baseTemp float64
	baseRH   float64
	baseAQI  float64
	baseDB   float64
	noise    float64
	battery  float64
}

// NewGenerator creates a generator for sensor.
func NewGenerator(f *gofakeit.Faker, sensor Sensor) *Generator {
	return &Generator{
		f:        f,
		sensor:   sensor,
		baseTemp: f.Float64Range(19, 24),
		baseRH:   f.Float64Range(35, 55),
		baseAQI:  f.Float64Range(15, 60),
		baseDB:   f.Float64Range(35, 50),
		noise:    f.Float64Range(0.2, 2),
		battery:  f.Float64Range(60, 100),
	}
}

// Sensor returns the sensor this generator speaks for.
func (g *Generator) Sensor() Sensor {
	return g.sensor
}

// Next returns a random event, weighted towards routine kinds.
func (g *Generator) Next(t time.Time) map[string]any {
	n := g.f.IntRange(1, 100)
	for _, kw := range kindWeights {
		if n <= kw.weight {
			return g.Event(kw.kind, t)
		}
		n -= kw.weight
	}
	return g.Event(event.KindStatusUpdate, t)
}

// Event returns an event of the given kind. KindUnknown produces a type
// tag outside the known set.
func (g *Generator) Event(kind event.Kind, t time.Time) map[string]any {
	e := map[string]any{
		event.FieldType:     kind.String(),
		event.FieldSensorID: g.sensor.ID,
		"sent_at":           t.UTC().Format(time.RFC3339Nano),
	}

	switch kind {
	case event.KindStatusUpdate:
		temp := g.temperature(t)
		g.battery = math.Max(5, g.battery-g.f.Float64Range(0, 0.05))
		e[event.FieldMessage] = "Status update from " + g.sensor.Name
		e[event.FieldData] = map[string]any{
			"online":        true,
			"temperature":   round(temp, 2),
			"humidity":      round(g.humidity(t, temp), 2),
			"battery_level": round(g.battery, 1),
			"rssi":          float64(g.f.IntRange(-90, -40)),
		}
	case event.KindAirQuality:
		aqi := g.aqi(t)
		e[event.FieldMessage] = airQualityMessage(aqi)
		e[event.FieldData] = map[string]any{
			"aqi":  math.Round(aqi),
			"pm25": round(aqi*0.35+g.f.Float64Range(-2, 2), 1),
			"co2":  math.Round(400 + aqi*6 + g.f.Float64Range(-20, 20)),
			"voc":  round(aqi/100+g.f.Float64Range(0, 0.2), 2),
		}
	case event.KindSoundEvent:
		db := g.baseDB + g.f.Float64Range(15, 55)
		e[event.FieldMessage] = "Sound event detected"
		e["decibels"] = round(db, 1)
		e["classification"] = g.f.RandomString([]string{"glass_break", "alarm", "shout", "impact", "machinery"})
		e["duration_ms"] = float64(g.f.IntRange(100, 5000))
	case event.KindAlert:
		e[event.FieldMessage] = g.f.RandomString([]string{
			"Temperature threshold exceeded",
			"Air quality threshold exceeded",
			"Noise threshold exceeded",
			"Tamper detected",
			"Battery low",
		})
		e["severity"] = g.f.RandomString([]string{"low", "medium", "high", "critical"})
		e["threshold"] = round(g.f.Float64Range(20, 120), 1)
		e["value"] = round(g.f.Float64Range(20, 160), 1)
	case event.KindCalibration:
		e[event.FieldMessage] = "Calibration completed"
		e["offset"] = round(g.f.Float64Range(-1.5, 1.5), 3)
		e["calibrated_at"] = t.UTC().Format(time.RFC3339)
	case event.KindMaintenance:
		e[event.FieldMessage] = "Maintenance " + g.f.RandomString([]string{"scheduled", "started", "completed"})
		e["technician"] = g.f.Name()
		e["firmware"] = g.f.AppVersion()
	default:
		e[event.FieldType] = "firmware_" + g.f.RandomString([]string{"rollback", "staged", "verified"})
		e[event.FieldMessage] = g.f.HackerPhrase()
	}
	return e
}

func (g *Generator) temperature(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	daily := 2.5 * math.Sin((hour-8)*math.Pi/12)
	spike := 0.0
	if g.f.Float64() < 0.03 {
		spike = g.f.Float64Range(-6, 6)
	}
	return g.baseTemp + daily + g.f.Float64Range(-0.5, 0.5)*g.noise + spike
}

func (g *Generator) humidity(t time.Time, temp float64) float64 {
	hour := float64(t.Hour())
	daily := -4 * math.Sin((hour-8)*math.Pi/12)
	rh := g.baseRH + daily - (temp-g.baseTemp)*1.5 + g.f.Float64Range(-1, 1)*g.noise
	return math.Max(15, math.Min(90, rh))
}

// aqi peaks during office hours.
func (g *Generator) aqi(t time.Time) float64 {
	hour := float64(t.Hour())
	occupancy := math.Max(0, math.Sin((hour-7)*math.Pi/12))
	v := g.baseAQI + 40*occupancy + g.f.Float64Range(-5, 5)*g.noise
	if g.f.Float64() < 0.05 {
		v += g.f.Float64Range(50, 150)
	}
	return math.Max(0, math.Min(500, v))
}

func airQualityMessage(aqi float64) string {
	switch {
	case aqi > 150:
		return "Unhealthy AQI"
	case aqi > 100:
		return "High AQI"
	case aqi > 50:
		return "Moderate AQI"
	default:
		return "Good AQI"
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
