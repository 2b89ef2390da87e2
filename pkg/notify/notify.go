// Package notify carries user-visible toast notifications from the event
// pipeline to whatever renders them.
package notify

import (
	"time"
)

// Style is the visual treatment of a notification.
type Style string

const (
	StyleInfo    Style = "info"
	StyleSuccess Style = "success"
	StyleWarning Style = "warning"
	StyleError   Style = "error"
)

// Notification is one transient toast.
type Notification struct {
	At       time.Time     `json:"at"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Style    Style         `json:"style"`
	Tag      string        `json:"tag,omitempty"`
	SensorID string        `json:"sensor_id,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExpiresAt returns the auto-dismiss deadline.
func (n Notification) ExpiresAt() time.Time {
	return n.At.Add(n.Duration)
}

// Emitter enqueues notifications. Emit must never block the caller.
type Emitter interface {
	Emit(n Notification)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(n Notification)

// Emit implements Emitter.
func (f EmitterFunc) Emit(n Notification) { f(n) }

// Discard is an Emitter that drops everything.
var Discard Emitter = EmitterFunc(func(Notification) {})
