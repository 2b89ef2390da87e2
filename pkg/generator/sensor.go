// Package generator produces synthetic facility sensors and plausible
// event traffic for them.
package generator

import (
	"strconv"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/facility-monitor/pkg/cache"
)

// Sensor is one simulated facility monitor.
type Sensor struct {
	ID        string  `json:"id" fake:"skip"`
	Name      string  `json:"name" fake:"{noun} monitor"`
	Location  string  `json:"location" fake:"{city}"`
	Model     string  `json:"model" fake:"{appname}"`
	Firmware  string  `json:"firmware" fake:"{appversion}"`
	MAC       string  `json:"mac_address" fake:"{macaddress}"`
	Floor     int     `json:"floor" fake:"{number:1,12}"`
	Latitude  float64 `json:"latitude" fake:"{latitude}"`
	Longitude float64 `json:"longitude" fake:"{longitude}"`
}

// NewSensor creates a sensor with random attributes and the given id.
func NewSensor(f *gofakeit.Faker, id string) Sensor {
	var s Sensor
	if err := f.Struct(&s); err != nil {
		s = Sensor{Name: "monitor", Location: "unknown"}
	}
	s.ID = id
	return s
}

// NewRoster creates n sensors with ids first, first+1, ...
func NewRoster(f *gofakeit.Faker, first, n int) []Sensor {
	out := make([]Sensor, 0, n)
	for i := range n {
		out = append(out, NewSensor(f, strconv.Itoa(first+i)))
	}
	return out
}

// Record returns the roster entry served for s.
func (s Sensor) Record() cache.Record {
	return cache.Record{
		"id":          s.ID,
		"name":        s.Name,
		"location":    s.Location,
		"model":       s.Model,
		"firmware":    s.Firmware,
		"mac_address": s.MAC,
		"floor":       float64(s.Floor),
		"latitude":    s.Latitude,
		"longitude":   s.Longitude,
	}
}

// Records returns the roster entries of sensors.
func Records(sensors []Sensor) []cache.Record {
	out := make([]cache.Record, 0, len(sensors))
	for _, s := range sensors {
		out = append(out, s.Record())
	}
	return out
}
