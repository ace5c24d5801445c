package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/tvremote/internal/connector"
	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/internal/registry"
	"github.com/HerbHall/tvremote/internal/tier"
	"github.com/HerbHall/tvremote/pkg/analytics"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// fakeConnector plays a scripted handshake.
type fakeConnector struct {
	platform models.Platform
	succeed  bool
	reason   string
	token    string
	pin      bool
	release  chan struct{}

	mu          sync.Mutex
	listener    func(models.ConnectorState)
	state       models.ConnectorState
	sent        []models.RemoteButton
	longPresses []models.RemoteButton
	pins        []string
	disconnects int
}

func (f *fakeConnector) emit(s models.ConnectorState) {
	f.mu.Lock()
	f.state = s
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(s)
	}
}

func (f *fakeConnector) Platform() models.Platform { return f.platform }

func (f *fakeConnector) Connect(ctx context.Context, _ models.TVDevice) bool {
	f.emit(models.Connecting("Connecting..."))
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
		if f.State().Kind == models.StateIdle {
			return false
		}
	}
	if f.succeed {
		f.emit(models.Connected())
		return true
	}
	f.emit(models.Failed(f.reason))
	return false
}

func (f *fakeConnector) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	f.emit(models.Idle())
}

func (f *fakeConnector) SendCommand(b models.RemoteButton) {
	f.mu.Lock()
	f.sent = append(f.sent, b)
	f.mu.Unlock()
}

func (f *fakeConnector) SubmitPIN(_ context.Context, pin string) bool {
	f.mu.Lock()
	f.pins = append(f.pins, pin)
	f.mu.Unlock()
	return f.pin
}

func (f *fakeConnector) SupportsPIN() bool { return f.pin }
func (f *fakeConnector) CancelPairing()    { f.emit(models.Idle()) }

func (f *fakeConnector) State() models.ConnectorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnector) OnStateChange(fn func(models.ConnectorState)) {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
}

func (f *fakeConnector) sentButtons() []models.RemoteButton {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteButton(nil), f.sent...)
}

type tokenConnector struct{ *fakeConnector }

func (t tokenConnector) AuthToken() string { return t.token }

type pressConnector struct{ *fakeConnector }

func (p pressConnector) SendLongPress(b models.RemoteButton) {
	p.mu.Lock()
	p.longPresses = append(p.longPresses, b)
	p.mu.Unlock()
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memStore) GetBlob(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[key], nil
}

func (m *memStore) SetBlob(_ context.Context, key string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = v
	return nil
}

type analyticsLog struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (a *analyticsLog) handle(_ context.Context, e event.Event) {
	if ev, ok := e.Payload.(analytics.Event); ok {
		a.mu.Lock()
		a.events = append(a.events, ev)
		a.mu.Unlock()
	}
}

// waitFor polls until an event named name arrives.
func (a *analyticsLog) waitFor(t *testing.T, name string) analytics.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		for _, e := range a.events {
			if e.Name == name {
				a.mu.Unlock()
				return e
			}
		}
		a.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("analytics event %s not seen", name)
	return analytics.Event{}
}

type harness struct {
	m       *Manager
	reg     *registry.Registry
	bus     *event.Bus
	events  *analyticsLog
	next    connector.Connector
	created []connector.Connector
}

func newHarness(t *testing.T, entitled bool) *harness {
	t.Helper()
	bus := event.NewBus(zap.NewNop())
	reg := registry.New(context.Background(), &memStore{blobs: map[string][]byte{}}, tier.Static(entitled), 1, zap.NewNop())
	h := &harness{
		reg:    reg,
		bus:    bus,
		events: &analyticsLog{},
	}
	bus.Subscribe(event.TopicAnalytics, h.events.handle)
	h.m = NewManager(connector.DefaultConfig(), reg, tier.Static(entitled), bus, zap.NewNop())
	h.m.factory = func(p models.Platform) connector.Connector {
		c := h.next
		if c == nil {
			c = &fakeConnector{platform: p, succeed: true}
		}
		h.next = nil
		h.created = append(h.created, c)
		return c
	}
	t.Cleanup(h.m.Close)
	return h
}

func samsungTV() models.TVDevice {
	return models.NewTVDevice("Living Room", "192.168.1.20", models.BrandSamsung, models.PlatformTizen)
}

func TestConnect_SuccessSavesDeviceWithToken(t *testing.T) {
	h := newHarness(t, false)
	fc := &fakeConnector{platform: models.PlatformTizen, succeed: true, token: "tok-1"}
	h.next = tokenConnector{fc}

	dev := samsungTV()
	if !h.m.Connect(context.Background(), dev) {
		t.Fatal("Connect returned false")
	}
	if s := h.m.Status(); !s.IsConnected() {
		t.Errorf("status = %+v", s)
	}
	active, ok := h.m.ActiveDevice()
	if !ok || active.ID != dev.ID {
		t.Errorf("ActiveDevice = %+v, %v", active, ok)
	}

	saved, ok := h.reg.Get(dev.ID)
	if !ok {
		t.Fatal("device not saved")
	}
	if saved.AuthToken != "tok-1" || saved.LastConnected == nil {
		t.Errorf("saved = %+v", saved)
	}

	e := h.events.waitFor(t, analytics.DeviceConnected)
	if e.Properties[analytics.PropBrand] != "samsung" {
		t.Errorf("analytics props = %v", e.Properties)
	}
}

func TestConnect_FailureLeavesNoActiveDevice(t *testing.T) {
	h := newHarness(t, false)
	h.next = &fakeConnector{platform: models.PlatformRoku, reason: "Device not responding"}

	if h.m.Connect(context.Background(), models.NewTVDevice("Roku", "10.0.0.3", models.BrandRoku, models.PlatformRoku)) {
		t.Fatal("Connect returned true")
	}
	s := h.m.Status()
	if s.Kind != models.StatusError || s.Message != "Device not responding" {
		t.Errorf("status = %+v", s)
	}
	if _, ok := h.m.ActiveDevice(); ok {
		t.Error("ActiveDevice set after failure")
	}
	if h.reg.Count() != 0 {
		t.Error("failed device was saved")
	}
	e := h.events.waitFor(t, analytics.DeviceConnectionFailed)
	if e.Properties[analytics.PropReason] != "Device not responding" {
		t.Errorf("reason = %q", e.Properties[analytics.PropReason])
	}
}

func TestSendCommand_Gating(t *testing.T) {
	h := newHarness(t, false)
	fc := &fakeConnector{platform: models.PlatformRoku, succeed: true}
	h.next = fc

	if err := h.m.SendCommand(context.Background(), models.ButtonHome); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendCommand before connect err = %v", err)
	}

	h.m.Connect(context.Background(), models.NewTVDevice("Roku", "10.0.0.3", models.BrandRoku, models.PlatformRoku))

	if err := h.m.SendCommand(context.Background(), models.ButtonHome); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := h.m.SendCommand(context.Background(), models.Button5); !errors.Is(err, ErrPremiumRequired) {
		t.Errorf("premium button err = %v", err)
	}
	if got := fc.sentButtons(); len(got) != 1 || got[0] != models.ButtonHome {
		t.Errorf("sent = %v", got)
	}

	h.m.Disconnect(context.Background())
	if err := h.m.SendCommand(context.Background(), models.ButtonHome); !errors.Is(err, ErrNotConnected) {
		t.Errorf("after disconnect err = %v", err)
	}
	if len(fc.sentButtons()) != 1 {
		t.Error("command reached connector after disconnect")
	}
}

func TestSendCommand_PremiumWhenEntitled(t *testing.T) {
	h := newHarness(t, true)
	fc := &fakeConnector{platform: models.PlatformRoku, succeed: true}
	h.next = fc
	h.m.Connect(context.Background(), models.NewTVDevice("Roku", "10.0.0.3", models.BrandRoku, models.PlatformRoku))

	if err := h.m.SendCommand(context.Background(), models.ButtonPlay); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	h.events.waitFor(t, analytics.RemoteButtonPressed)
}

func TestSendLongPress(t *testing.T) {
	h := newHarness(t, false)
	fc := &fakeConnector{platform: models.PlatformTizen, succeed: true}
	h.next = pressConnector{fc}
	h.m.Connect(context.Background(), samsungTV())

	if err := h.m.SendLongPress(context.Background(), models.ButtonPower); err != nil {
		t.Fatal(err)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.longPresses) != 1 || len(fc.sent) != 0 {
		t.Errorf("long=%v sent=%v", fc.longPresses, fc.sent)
	}
}

func TestConnect_ReplacesPreviousAndIgnoresStaleStates(t *testing.T) {
	h := newHarness(t, true)
	first := &fakeConnector{platform: models.PlatformRoku, succeed: true}
	h.next = first
	h.m.Connect(context.Background(), models.NewTVDevice("A", "10.0.0.1", models.BrandRoku, models.PlatformRoku))

	second := &fakeConnector{platform: models.PlatformRoku, succeed: true}
	h.next = second
	h.m.Connect(context.Background(), models.NewTVDevice("B", "10.0.0.2", models.BrandRoku, models.PlatformRoku))

	if first.disconnects != 1 {
		t.Errorf("first connector disconnects = %d, want 1", first.disconnects)
	}

	first.emit(models.Failed("late failure"))
	if s := h.m.Status(); !s.IsConnected() {
		t.Errorf("stale transition changed status to %+v", s)
	}
	active, _ := h.m.ActiveDevice()
	if active.Name != "B" {
		t.Errorf("active = %q, want B", active.Name)
	}
}

func TestSubmitPIN_Routing(t *testing.T) {
	h := newHarness(t, false)
	if h.m.SubmitPIN(context.Background(), "1234") {
		t.Error("SubmitPIN with no connector returned true")
	}

	noPIN := &fakeConnector{platform: models.PlatformRoku, succeed: true}
	h.next = noPIN
	h.m.Connect(context.Background(), models.NewTVDevice("R", "10.0.0.1", models.BrandRoku, models.PlatformRoku))
	if h.m.SubmitPIN(context.Background(), "1234") {
		t.Error("SubmitPIN on non-PIN connector returned true")
	}
	if len(noPIN.pins) != 0 {
		t.Error("non-PIN connector received a PIN")
	}
}

func TestSubmitPIN_DuringPairing(t *testing.T) {
	h := newHarness(t, false)
	fc := &fakeConnector{platform: models.PlatformVIDAA, succeed: true, pin: true, release: make(chan struct{})}
	h.next = fc

	done := make(chan bool, 1)
	go func() {
		done <- h.m.Connect(context.Background(), models.NewTVDevice("H", "10.0.0.7", models.BrandHisense, models.PlatformVIDAA))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.m.SupportsPIN() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.m.SubmitPIN(context.Background(), "1234") {
		t.Fatal("SubmitPIN returned false")
	}
	close(fc.release)
	if !<-done {
		t.Fatal("Connect returned false")
	}
}

func TestCancelPairing_ResetsStatus(t *testing.T) {
	h := newHarness(t, false)
	fc := &fakeConnector{platform: models.PlatformVIDAA, pin: true, release: make(chan struct{})}
	h.next = fc

	done := make(chan bool, 1)
	go func() {
		done <- h.m.Connect(context.Background(), models.NewTVDevice("H", "10.0.0.7", models.BrandHisense, models.PlatformVIDAA))
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.m.Status().Kind != models.StatusConnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.m.CancelPairing()
	close(fc.release)
	if <-done {
		t.Fatal("Connect succeeded after cancel")
	}
	if s := h.m.Status(); s.Kind != models.StatusDisconnected {
		t.Errorf("status = %+v", s)
	}
	e := h.events.waitFor(t, analytics.DeviceConnectionFailed)
	if e.Properties[analytics.PropReason] != "Cancelled" {
		t.Errorf("reason = %q", e.Properties[analytics.PropReason])
	}
}

func TestRemovingActiveDeviceDisconnects(t *testing.T) {
	h := newHarness(t, false)
	fc := &fakeConnector{platform: models.PlatformTizen, succeed: true}
	h.next = fc
	dev := samsungTV()
	h.m.Connect(context.Background(), dev)

	if err := h.reg.Remove(context.Background(), dev.ID); err != nil {
		t.Fatal(err)
	}
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fc.disconnects)
	}
	if s := h.m.Status(); s.Kind != models.StatusDisconnected {
		t.Errorf("status = %+v", s)
	}
}

func TestReconnectLast(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.m.ReconnectLast(context.Background()); !errors.Is(err, ErrNoRecentDevice) {
		t.Fatalf("err = %v, want ErrNoRecentDevice", err)
	}

	dev := samsungTV()
	h.m.Connect(context.Background(), dev)
	h.m.Disconnect(context.Background())

	ok, err := h.m.ReconnectLast(context.Background())
	if err != nil || !ok {
		t.Fatalf("ReconnectLast = %v, %v", ok, err)
	}
	active, _ := h.m.ActiveDevice()
	if active.ID != dev.ID {
		t.Errorf("reconnected to %q", active.ID)
	}
}

func TestConnectByID_Unknown(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.m.ConnectByID(context.Background(), "nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("err = %v", err)
	}
}

func TestSearchingStatus(t *testing.T) {
	h := newHarness(t, false)
	h.bus.Publish(context.Background(), event.Event{Topic: event.TopicDiscoveryStarted})
	if s := h.m.Status(); s.Kind != models.StatusSearching {
		t.Errorf("status = %+v, want searching", s)
	}
	h.bus.Publish(context.Background(), event.Event{Topic: event.TopicDiscoveryFinished})
	if s := h.m.Status(); s.Kind != models.StatusDisconnected {
		t.Errorf("status = %+v, want disconnected", s)
	}

	h.m.Connect(context.Background(), samsungTV())
	h.bus.Publish(context.Background(), event.Event{Topic: event.TopicDiscoveryStarted})
	if s := h.m.Status(); !s.IsConnected() {
		t.Errorf("discovery overrode connected status: %+v", s)
	}
}

func TestDefaultFactory_UnknownPlatformUsesNoop(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	reg := registry.New(context.Background(), &memStore{blobs: map[string][]byte{}}, tier.Static(true), 1, zap.NewNop())
	m := NewManager(connector.DefaultConfig(), reg, tier.Static(true), bus, zap.NewNop())
	defer m.Close()

	dev := models.NewTVDevice("Mystery", "10.0.0.99", models.BrandUnknown, models.PlatformUnknown)
	if !m.Connect(context.Background(), dev) {
		t.Fatal("no-op connect failed")
	}
	if err := m.SendCommand(context.Background(), models.ButtonHome); err != nil {
		t.Errorf("SendCommand: %v", err)
	}
}
