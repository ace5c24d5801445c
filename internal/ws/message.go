package ws

import (
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/tvremote/pkg/models"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageStatusChanged  MessageType = "status.changed"
	MessageSearchStarted  MessageType = "discovery.started"
	MessageDeviceFound    MessageType = "discovery.device_found"
	MessageSearchFinished MessageType = "discovery.finished"
)

// Topic groups message types a client can subscribe to.
type Topic string

const (
	TopicStatus    Topic = "status"
	TopicDiscovery Topic = "discovery"
)

// Topic returns the subscription group t belongs to.
func (t MessageType) Topic() Topic {
	if t == MessageStatusChanged {
		return TopicStatus
	}
	return TopicDiscovery
}

// ParseTopics reads a comma-separated topic list such as "status,discovery".
// An empty list subscribes to everything and yields nil.
func ParseTopics(s string) (map[Topic]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	topics := map[Topic]bool{}
	for _, part := range strings.Split(s, ",") {
		switch t := Topic(strings.ToLower(strings.TrimSpace(part))); t {
		case TopicStatus, TopicDiscovery:
			topics[t] = true
		case "":
		default:
			return nil, fmt.Errorf("unknown topic %q", part)
		}
	}
	return topics, nil
}

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// StatusData is the payload for status.changed messages.
type StatusData struct {
	Status   models.ConnectionStatus `json:"status"`
	State    models.ConnectorState   `json:"connector_state"`
	Platform models.Platform         `json:"platform,omitempty"`
	Device   *models.TVDevice        `json:"device,omitempty"`
}

// newStatusData builds a status payload. The device is copied without its
// pairing token, which never leaves the process.
func newStatusData(status models.ConnectionStatus, state models.ConnectorState, platform models.Platform, device *models.TVDevice) StatusData {
	data := StatusData{Status: status, State: state, Platform: platform}
	if device != nil {
		d := *device
		d.AuthToken = ""
		data.Device = &d
		if data.Platform == "" {
			data.Platform = d.Platform
		}
	}
	return data
}

// DeviceFoundData is the payload for discovery.device_found messages.
type DeviceFoundData struct {
	Device models.DiscoveredDevice `json:"device"`
}

// SearchFinishedData is the payload for discovery.finished messages.
type SearchFinishedData struct {
	Total   int                       `json:"total"`
	Devices []models.DiscoveredDevice `json:"devices"`
}
