package event

import (
	"context"

	"github.com/HerbHall/tvremote/pkg/analytics"
	"github.com/HerbHall/tvremote/pkg/models"
)

// Topics published on the bus.
const (
	TopicDiscoveryStarted  = "discovery.started"
	TopicDeviceFound       = "discovery.device_found"
	TopicDiscoveryFinished = "discovery.finished"
	TopicStatusChanged     = "connection.status_changed"
	TopicAnalytics         = "analytics.event"
)

// DeviceFoundPayload accompanies TopicDeviceFound.
type DeviceFoundPayload struct {
	Device models.DiscoveredDevice `json:"device"`
}

// DiscoveryFinishedPayload accompanies TopicDiscoveryFinished.
type DiscoveryFinishedPayload struct {
	Devices []models.DiscoveredDevice `json:"devices"`
}

// StatusChangedPayload accompanies TopicStatusChanged.
type StatusChangedPayload struct {
	Platform models.Platform         `json:"platform"`
	State    models.ConnectorState   `json:"connector_state"`
	Status   models.ConnectionStatus `json:"status"`
	Device   *models.TVDevice        `json:"device,omitempty"`
}

// Track implements analytics.Tracker by publishing on TopicAnalytics.
// Delivery is asynchronous so callers never block on sinks.
func (b *Bus) Track(ctx context.Context, e analytics.Event) {
	b.PublishAsync(ctx, Event{
		Topic:     TopicAnalytics,
		Source:    "analytics",
		Timestamp: e.Timestamp,
		Payload:   e,
	})
}
