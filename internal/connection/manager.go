// Package connection owns the single active connector and projects its
// state onto the public connection status.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HerbHall/tvremote/internal/connector"
	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/analytics"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

var (
	ErrNotConnected    = errors.New("connection: not connected")
	ErrPremiumRequired = errors.New("connection: button requires premium")
	ErrUnknownDevice   = errors.New("connection: unknown device")
	ErrNoRecentDevice  = errors.New("connection: no previously connected device")
)

// Devices is the saved-device store the manager reads and updates.
type Devices interface {
	Get(id string) (models.TVDevice, bool)
	Upsert(ctx context.Context, d models.TVDevice) (models.TVDevice, error)
	MostRecent() (models.TVDevice, bool)
	OnRemove(fn func(id string))
}

// Entitlement gates premium buttons.
type Entitlement interface {
	IsEntitled() bool
}

// Factory builds a fresh connector for a platform.
type Factory func(p models.Platform) connector.Connector

// Manager routes connect, command and PIN calls to the active connector.
type Manager struct {
	factory Factory
	devices Devices
	ent     Entitlement
	bus     *event.Bus
	logger  *zap.Logger
	unsubs  []func()

	mu        sync.Mutex
	active    connector.Connector
	target    *models.TVDevice // device being connected to or connected
	connected bool
	status    models.ConnectionStatus
}

// NewManager creates a manager that builds connectors with cfg.
func NewManager(cfg connector.Config, devices Devices, ent Entitlement, bus *event.Bus, logger *zap.Logger) *Manager {
	logger = logger.Named("connection")
	m := &Manager{
		factory: func(p models.Platform) connector.Connector { return connector.New(p, cfg, logger) },
		devices: devices,
		ent:     ent,
		bus:     bus,
		logger:  logger,
		status:  models.Disconnected,
	}

	devices.OnRemove(m.deviceRemoved)
	m.unsubs = append(m.unsubs,
		bus.Subscribe(event.TopicDiscoveryStarted, func(ctx context.Context, _ event.Event) { m.SetSearching(ctx, true) }),
		bus.Subscribe(event.TopicDiscoveryFinished, func(ctx context.Context, _ event.Event) { m.SetSearching(ctx, false) }),
	)
	return m
}

// Close disconnects and detaches from the bus.
func (m *Manager) Close() {
	m.Disconnect(context.Background())
	for _, u := range m.unsubs {
		u()
	}
}

// Status returns the current connection status.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ActiveDevice returns the connected device.
func (m *Manager) ActiveDevice() (models.TVDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || m.target == nil {
		return models.TVDevice{}, false
	}
	return *m.target, true
}

// ConnectorState returns the active connector's state, or idle.
func (m *Manager) ConnectorState() models.ConnectorState {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return models.Idle()
	}
	return c.State()
}

// Connect replaces any active connection with one to device and blocks
// until the handshake finishes. On success the device is saved with a
// fresh last-connected time and any pairing token the TV issued.
func (m *Manager) Connect(ctx context.Context, device models.TVDevice) bool {
	c := m.factory(device.Platform)

	m.mu.Lock()
	prev := m.active
	m.active = c
	dev := device
	m.target = &dev
	m.connected = false
	m.mu.Unlock()

	if prev != nil {
		prev.Disconnect()
	}

	log := m.logger.With(
		zap.String("ip", device.Address),
		zap.String("platform", string(device.Platform)),
	)
	log.Info("connecting", zap.String("name", device.Name))

	c.OnStateChange(func(s models.ConnectorState) { m.onState(c, s) })
	ok := c.Connect(ctx, device)

	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		log.Debug("connect superseded")
		return false
	}
	if !ok {
		m.target = nil
		m.mu.Unlock()
		reason := "Cancelled"
		if s := c.State(); s.Kind == models.StateFailed {
			reason = s.Message()
		}
		log.Info("connect failed", zap.String("reason", reason))
		m.bus.Track(ctx, analytics.New(analytics.DeviceConnectionFailed,
			analytics.PropBrand, string(device.Brand),
			analytics.PropPlatform, string(device.Platform),
			analytics.PropReason, reason,
		))
		return false
	}

	now := time.Now().UTC()
	device.LastConnected = &now
	if th, isHolder := c.(connector.TokenHolder); isHolder {
		if tok := th.AuthToken(); tok != "" {
			device.AuthToken = tok
		}
	}
	dev = device
	m.target = &dev
	m.connected = true
	m.mu.Unlock()

	if _, err := m.devices.Upsert(ctx, device); err != nil {
		log.Warn("connected device not saved", zap.Error(err))
	}
	log.Info("connected")
	m.bus.Track(ctx, analytics.New(analytics.DeviceConnected,
		analytics.PropBrand, string(device.Brand),
		analytics.PropPlatform, string(device.Platform),
	))
	m.publish(ctx, c.Platform(), models.Connected(), models.ConnectionStatus{Kind: models.StatusConnected}, &dev)
	return true
}

// ConnectByID connects to a saved device.
func (m *Manager) ConnectByID(ctx context.Context, id string) (bool, error) {
	d, ok := m.devices.Get(id)
	if !ok {
		return false, ErrUnknownDevice
	}
	return m.Connect(ctx, d), nil
}

// ReconnectLast connects to the most recently connected saved device.
func (m *Manager) ReconnectLast(ctx context.Context) (bool, error) {
	d, ok := m.devices.MostRecent()
	if !ok {
		return false, ErrNoRecentDevice
	}
	return m.Connect(ctx, d), nil
}

// onState mirrors a connector transition. Transitions from a connector
// that is no longer active are dropped.
func (m *Manager) onState(c connector.Connector, s models.ConnectorState) {
	status := models.StatusFor(s)

	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.status = status
	if s.Kind == models.StateFailed || s.Kind == models.StateIdle {
		m.connected = false
	}
	var dev *models.TVDevice
	if m.target != nil {
		d := *m.target
		dev = &d
	}
	m.mu.Unlock()

	// Connected is published by Connect once the device record is final.
	if s.Kind == models.StateConnected {
		return
	}
	m.publish(context.Background(), c.Platform(), s, status, dev)
}

func (m *Manager) publish(ctx context.Context, p models.Platform, s models.ConnectorState, status models.ConnectionStatus, dev *models.TVDevice) {
	m.bus.Publish(ctx, event.Event{
		Topic:  event.TopicStatusChanged,
		Source: "connection",
		Payload: event.StatusChangedPayload{
			Platform: p,
			State:    s,
			Status:   status,
			Device:   dev,
		},
	})
}

// Disconnect tears down the active connection.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.target = nil
	m.connected = false
	changed := m.status.Kind != models.StatusDisconnected
	m.status = models.Disconnected
	m.mu.Unlock()

	if c == nil {
		return
	}
	c.Disconnect()
	m.logger.Info("disconnected")
	if changed {
		m.publish(ctx, c.Platform(), models.Idle(), models.Disconnected, nil)
	}
}

// SetSearching shows the searching status while no connection is active
// or in progress.
func (m *Manager) SetSearching(ctx context.Context, on bool) {
	m.mu.Lock()
	if !on && m.status.Kind != models.StatusSearching {
		m.mu.Unlock()
		return
	}
	switch m.status.Kind {
	case models.StatusDisconnected, models.StatusSearching, models.StatusError:
	default:
		m.mu.Unlock()
		return
	}
	next := models.Disconnected
	if on {
		next = models.Searching
	}
	changed := m.status != next
	m.status = next
	m.mu.Unlock()

	if changed {
		m.publish(ctx, models.PlatformUnknown, models.Idle(), next, nil)
	}
}

func (m *Manager) current() (connector.Connector, *models.TVDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.target, m.connected && m.status.IsConnected()
}

func (m *Manager) gate(button models.RemoteButton) (connector.Connector, error) {
	c, _, ok := m.current()
	if !ok {
		return nil, ErrNotConnected
	}
	if button.IsPremium() && (m.ent == nil || !m.ent.IsEntitled()) {
		return nil, ErrPremiumRequired
	}
	return c, nil
}

// SendCommand forwards button to the connected TV. Nothing is sent unless
// the status is connected.
func (m *Manager) SendCommand(ctx context.Context, button models.RemoteButton) error {
	c, err := m.gate(button)
	if err != nil {
		m.logger.Debug("command dropped", zap.String("button", string(button)), zap.Error(err))
		return err
	}
	c.SendCommand(button)
	m.trackButton(ctx, c, button)
	return nil
}

// SendLongPress holds button where the connector supports it and falls
// back to a click otherwise.
func (m *Manager) SendLongPress(ctx context.Context, button models.RemoteButton) error {
	c, err := m.gate(button)
	if err != nil {
		return err
	}
	if lp, ok := c.(connector.LongPresser); ok {
		lp.SendLongPress(button)
	} else {
		c.SendCommand(button)
	}
	m.trackButton(ctx, c, button)
	return nil
}

func (m *Manager) trackButton(ctx context.Context, c connector.Connector, button models.RemoteButton) {
	m.bus.Track(ctx, analytics.New(analytics.RemoteButtonPressed,
		analytics.PropButton, string(button),
		analytics.PropPlatform, string(c.Platform()),
	))
}

// SupportsPIN reports whether the active connector pairs by PIN.
func (m *Manager) SupportsPIN() bool {
	c, _, _ := m.current()
	return c != nil && c.SupportsPIN()
}

// SubmitPIN routes pin to the active connector. Connectors without PIN
// pairing are not called.
func (m *Manager) SubmitPIN(ctx context.Context, pin string) bool {
	c, _, _ := m.current()
	if c == nil || !c.SupportsPIN() {
		return false
	}
	return c.SubmitPIN(ctx, pin)
}

// CancelPairing aborts a pending approval or PIN wait.
func (m *Manager) CancelPairing() {
	c, _, _ := m.current()
	if c != nil {
		c.CancelPairing()
	}
}

func (m *Manager) deviceRemoved(id string) {
	_, target, _ := m.current()
	if target != nil && target.ID == id {
		m.logger.Info("active device removed, disconnecting")
		m.Disconnect(context.Background())
	}
}
