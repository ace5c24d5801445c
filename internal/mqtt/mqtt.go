// Package mqtt forwards analytics, discovery and connection events from the
// bus to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/analytics"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// HealthStatus describes the broker connection.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Sink publishes bus events to a broker. With no broker configured every
// event is dropped.
type Sink struct {
	logger *zap.Logger
	cfg    Config
	mu     sync.RWMutex
	client pahomqtt.Client
	unsubs []func()
}

// New creates a sink. Call Start to connect.
func New(cfg Config, logger *zap.Logger) *Sink {
	logger = logger.Named("mqtt")
	if cfg.BrokerURL == "" {
		logger.Info("MQTT broker URL not configured; events will be dropped")
	}
	return &Sink{logger: logger, cfg: cfg}
}

// Start connects to the broker. A failed first connection is not an error:
// the client keeps reconnecting in the background.
func (s *Sink) Start(_ context.Context) error {
	if s.cfg.BrokerURL == "" {
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.Timeout)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(s.cfg.Timeout):
		s.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		s.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		s.logger.Info("mqtt connected to broker",
			zap.String("broker_url", s.cfg.BrokerURL),
		)
	}
	return nil
}

// Stop detaches from the bus and disconnects.
func (s *Sink) Stop() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("mqtt disconnected")
	}
}

// Subscribe forwards the topics the sink handles from bus.
func (s *Sink) Subscribe(bus *event.Bus) {
	for _, topic := range []string{
		event.TopicAnalytics,
		event.TopicStatusChanged,
		event.TopicDeviceFound,
		event.TopicDiscoveryFinished,
	} {
		s.unsubs = append(s.unsubs, bus.Subscribe(topic, s.publishEvent))
	}
}

// Health reports the broker connection state.
func (s *Sink) Health() HealthStatus {
	if s.cfg.BrokerURL == "" {
		return HealthStatus{Status: "healthy", Message: "no broker configured (no-op mode)"}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil || !s.client.IsConnected() {
		return HealthStatus{Status: "degraded", Message: "not connected to MQTT broker"}
	}
	return HealthStatus{Status: "healthy", Message: "connected to " + s.cfg.BrokerURL}
}

// topicFor maps a bus event to an MQTT topic path.
func (s *Sink) topicFor(e event.Event) string {
	switch e.Topic {
	case event.TopicAnalytics:
		if a, ok := e.Payload.(analytics.Event); ok && a.Name != "" {
			return s.cfg.TopicPrefix + "/analytics/" + a.Name
		}
		return s.cfg.TopicPrefix + "/analytics"
	case event.TopicStatusChanged:
		return s.cfg.TopicPrefix + "/connection/status"
	case event.TopicDeviceFound:
		return s.cfg.TopicPrefix + "/discovery/device_found"
	case event.TopicDiscoveryFinished:
		return s.cfg.TopicPrefix + "/discovery/finished"
	default:
		return s.cfg.TopicPrefix + "/" + strings.ReplaceAll(e.Topic, ".", "/")
	}
}

func (s *Sink) publishEvent(_ context.Context, e event.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil || !s.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		s.logger.Warn("failed to marshal MQTT payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	topic := s.topicFor(e)
	if !s.publish(topic, s.cfg.Retain, payload) {
		return
	}
	s.logger.Debug("mqtt event published",
		zap.String("mqtt_topic", topic),
		zap.String("event_topic", e.Topic),
	)

	if s.cfg.HADiscovery && e.Topic == event.TopicStatusChanged {
		s.publishHAForStatus(e)
	}
}

// publishHAForStatus announces the TV to Home Assistant and publishes its
// current connection state.
func (s *Sink) publishHAForStatus(e event.Event) {
	p, ok := e.Payload.(event.StatusChangedPayload)
	if !ok || p.Device == nil {
		return
	}
	for _, cfg := range BuildDeviceDiscoveryConfigs(*p.Device, s.cfg.TopicPrefix, s.cfg.HADiscoveryPrefix) {
		// Discovery configs are always retained so HA picks them up on restart.
		s.publish(cfg.Topic, true, cfg.Payload)
	}

	prefix := s.cfg.TopicPrefix + "/device/" + p.Device.ID
	connected := "OFF"
	if p.Status.IsConnected() {
		connected = "ON"
	}
	s.publish(prefix+"/connected", true, []byte(connected))
	s.publish(prefix+"/status", true, []byte(p.Status.Text()))
	s.publish(prefix+"/ip", true, []byte(p.Device.Address))
}

// publish sends one message and waits up to the configured timeout.
// Must be called with s.mu held for reading.
func (s *Sink) publish(topic string, retain bool, payload []byte) bool {
	token := s.client.Publish(topic, s.cfg.QoS, retain, payload)
	if !token.WaitTimeout(s.cfg.Timeout) {
		s.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", topic))
		return false
	}
	if err := token.Error(); err != nil {
		s.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", topic),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Forget removes a deleted TV's Home Assistant entities.
func (s *Sink) Forget(deviceID string) {
	if !s.cfg.HADiscovery {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	for _, cfg := range BuildDeviceRemovalConfigs(deviceID, s.cfg.HADiscoveryPrefix) {
		s.publish(cfg.Topic, true, cfg.Payload)
	}
	s.publish(s.cfg.TopicPrefix+"/device/"+deviceID+"/connected", true, []byte("OFF"))
}
