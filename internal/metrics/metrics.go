// Package metrics exports Prometheus counters for discovery, connection
// and command activity. Collectors are fed from the event bus, so the
// components they measure carry no metrics code.
package metrics

import (
	"context"

	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/analytics"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the tvremote counters.
type Collectors struct {
	DiscoverySessions prometheus.Counter
	DevicesFound      *prometheus.CounterVec
	ConnectAttempts   *prometheus.CounterVec
	CommandsSent      *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	unsubs            []func()
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		DiscoverySessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvremote_discovery_sessions_total",
			Help: "Total number of discovery sessions started.",
		}),
		DevicesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvremote_discovery_devices_found_total",
			Help: "Total number of TVs found, by discovery source.",
		}, []string{"source"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvremote_connect_attempts_total",
			Help: "Total number of connection attempts, by platform and result.",
		}, []string{"platform", "result"}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvremote_commands_sent_total",
			Help: "Total number of remote commands sent, by platform.",
		}, []string{"platform"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvremote_connector_transitions_total",
			Help: "Total number of connection state transitions, by platform and state.",
		}, []string{"platform", "state"}),
	}

	for _, col := range []prometheus.Collector{
		c.DiscoverySessions, c.DevicesFound, c.ConnectAttempts, c.CommandsSent, c.StateTransitions,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Subscribe starts counting events published on bus.
func (c *Collectors) Subscribe(bus *event.Bus) {
	c.unsubs = append(c.unsubs,
		bus.Subscribe(event.TopicDiscoveryStarted, func(context.Context, event.Event) {
			c.DiscoverySessions.Inc()
		}),
		bus.Subscribe(event.TopicDeviceFound, c.onDeviceFound),
		bus.Subscribe(event.TopicStatusChanged, c.onStatusChanged),
		bus.Subscribe(event.TopicAnalytics, c.onAnalytics),
	)
}

// Unsubscribe detaches from the bus.
func (c *Collectors) Unsubscribe() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
}

func (c *Collectors) onDeviceFound(_ context.Context, e event.Event) {
	p, ok := e.Payload.(event.DeviceFoundPayload)
	if !ok {
		return
	}
	c.DevicesFound.WithLabelValues(string(p.Device.Source)).Inc()
}

func (c *Collectors) onStatusChanged(_ context.Context, e event.Event) {
	p, ok := e.Payload.(event.StatusChangedPayload)
	if !ok {
		return
	}
	c.StateTransitions.WithLabelValues(string(p.Platform), string(p.State.Kind)).Inc()
}

func (c *Collectors) onAnalytics(_ context.Context, e event.Event) {
	a, ok := e.Payload.(analytics.Event)
	if !ok {
		return
	}
	platform := a.Properties[analytics.PropPlatform]
	switch a.Name {
	case analytics.DeviceConnected:
		c.ConnectAttempts.WithLabelValues(platform, "success").Inc()
	case analytics.DeviceConnectionFailed:
		result := "failure"
		if a.Properties[analytics.PropReason] == "Cancelled" {
			result = "cancelled"
		}
		c.ConnectAttempts.WithLabelValues(platform, result).Inc()
	case analytics.RemoteButtonPressed:
		c.CommandsSent.WithLabelValues(platform).Inc()
	}
}
