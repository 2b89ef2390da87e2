// Package event decodes inbound sensor event frames into immutable envelopes.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Field names read from the envelope.
const (
	FieldType     = "type"
	FieldMessage  = "message"
	FieldData     = "data"
	FieldSensorID = "sensor_id"
	FieldID       = "id"
	FieldDeviceID = "device_id"
)

var (
	// ErrEmptyPayload is returned for a frame with no bytes.
	ErrEmptyPayload = errors.New("empty event payload")
	// ErrNotObject is returned when the decoded frame is not a JSON object.
	ErrNotObject = errors.New("event payload is not a JSON object")
)

// Envelope is one parsed inbound event. It is never mutated after Parse
// returns; Fields must be treated as read-only.
type Envelope struct {
	ReceivedAt time.Time
	Fields     map[string]any
	Room       string
	Type       string
	Message    string
	SensorID   string
	Raw        json.RawMessage
	Kind       Kind
}

// Parse decodes one frame received on room. The payload may be a JSON
// object, or a JSON string whose contents are a JSON object.
func Parse(room string, payload []byte, receivedAt time.Time) (Envelope, error) {
	body := bytes.TrimSpace(payload)
	if len(body) == 0 {
		return Envelope{}, ErrEmptyPayload
	}

	if body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return Envelope{}, fmt.Errorf("decode string payload: %w", err)
		}
		body = bytes.TrimSpace([]byte(inner))
		if len(body) == 0 {
			return Envelope{}, ErrEmptyPayload
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Envelope{}, ErrNotObject
		}
		return Envelope{}, fmt.Errorf("decode payload: %w", err)
	}
	if fields == nil {
		return Envelope{}, ErrNotObject
	}

	tag, _ := fields[FieldType].(string)
	msg, _ := fields[FieldMessage].(string)

	raw := make(json.RawMessage, len(body))
	copy(raw, body)

	return Envelope{
		ReceivedAt: receivedAt,
		Fields:     fields,
		Room:       room,
		Type:       tag,
		Message:    msg,
		SensorID:   ResolveSensorID(fields),
		Raw:        raw,
		Kind:       ParseKind(tag),
	}, nil
}

// MergeSource returns the fields to merge into the sensor caches. Kinds that
// merge their "data" object return it; every other kind returns the whole
// envelope. ok is false when the data object is missing or not an object.
func (e Envelope) MergeSource() (map[string]any, bool) {
	if !e.Kind.Present().MergeData {
		return e.Fields, true
	}
	data, ok := e.Fields[FieldData].(map[string]any)
	return data, ok
}

// ResolveSensorID returns the first non-empty of sensor_id, id and
// device_id, coerced to a string. null, "", false and 0 count as empty.
func ResolveSensorID(fields map[string]any) string {
	for _, key := range []string{FieldSensorID, FieldID, FieldDeviceID} {
		if id := stringify(fields[key]); id != "" {
			return id
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		if t == 0 {
			return ""
		}
		return strconv.Itoa(t)
	case int64:
		if t == 0 {
			return ""
		}
		return strconv.FormatInt(t, 10)
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return ""
		}
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
