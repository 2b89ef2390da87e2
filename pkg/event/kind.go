package event

import (
	"time"

	"procodus.dev/facility-monitor/pkg/notify"
)

// Kind is the closed set of inbound event classifications. Every type tag
// the server may send maps onto exactly one Kind; unrecognised tags map to
// KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlert
	KindStatusUpdate
	KindAirQuality
	KindSoundEvent
	KindCalibration
	KindMaintenance
)

// Kinds lists every Kind, KindUnknown last.
var Kinds = []Kind{
	KindAlert,
	KindStatusUpdate,
	KindAirQuality,
	KindSoundEvent,
	KindCalibration,
	KindMaintenance,
	KindUnknown,
}

// ParseKind maps a wire type tag to its Kind.
func ParseKind(tag string) Kind {
	switch tag {
	case "alert":
		return KindAlert
	case "status_update":
		return KindStatusUpdate
	case "air_quality":
		return KindAirQuality
	case "sound_event":
		return KindSoundEvent
	case "calibration":
		return KindCalibration
	case "maintenance":
		return KindMaintenance
	default:
		return KindUnknown
	}
}

// String returns the wire tag, or "unknown".
func (k Kind) String() string {
	switch k {
	case KindAlert:
		return "alert"
	case KindStatusUpdate:
		return "status_update"
	case KindAirQuality:
		return "air_quality"
	case KindSoundEvent:
		return "sound_event"
	case KindCalibration:
		return "calibration"
	case KindMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Presentation describes how an event of a given Kind is shown to the user
// and which part of the envelope feeds the cache merge.
type Presentation struct {
	Title    string
	Style    notify.Style
	Duration time.Duration
	// MergeData selects the envelope's "data" object as the merge source
	// instead of the whole envelope.
	MergeData bool
}

// Present returns the presentation for k.
func (k Kind) Present() Presentation {
	switch k {
	case KindAlert:
		return Presentation{Title: "Sensor Alert", Style: notify.StyleWarning, Duration: 5000 * time.Millisecond}
	case KindStatusUpdate:
		return Presentation{Title: "Status Update", Style: notify.StyleInfo, Duration: 3000 * time.Millisecond, MergeData: true}
	case KindAirQuality:
		return Presentation{Title: "Air Quality", Style: notify.StyleInfo, Duration: 4000 * time.Millisecond, MergeData: true}
	case KindSoundEvent:
		return Presentation{Title: "Sound Event", Style: notify.StyleWarning, Duration: 4000 * time.Millisecond}
	case KindCalibration:
		return Presentation{Title: "Calibration", Style: notify.StyleSuccess, Duration: 3000 * time.Millisecond}
	case KindMaintenance:
		return Presentation{Title: "Maintenance", Style: notify.StyleInfo, Duration: 4000 * time.Millisecond}
	default:
		return Presentation{Title: "Sensor Event", Style: notify.StyleInfo, Duration: 3000 * time.Millisecond}
	}
}
