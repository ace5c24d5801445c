// Package analytics defines the fire-and-forget usage events the
// connectivity core reports to its analytics collaborator.
package analytics

import (
	"context"
	"time"
)

// Event names.
const (
	DeviceSearchStarted    = "device_search_started"
	DeviceFound            = "device_found"
	DeviceConnected        = "device_connected"
	DeviceConnectionFailed = "device_connection_failed"
	RemoteButtonPressed    = "remote_button_pressed"
)

// Property keys.
const (
	PropBrand    = "brand"
	PropPlatform = "platform"
	PropReason   = "reason"
	PropButton   = "button"
	PropCount    = "count"
)

// Event is a named analytics event with string properties.
type Event struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// New returns an event stamped with the current time. kv is read as
// alternating key/value pairs; a trailing key without value is dropped.
func New(name string, kv ...string) Event {
	props := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		props[kv[i]] = kv[i+1]
	}
	return Event{Name: name, Properties: props, Timestamp: time.Now()}
}

// Tracker receives analytics events. Implementations must not block.
type Tracker interface {
	Track(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(context.Context, Event) {}
