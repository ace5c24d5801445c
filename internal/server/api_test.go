package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/tvremote/internal/connection"
	"github.com/HerbHall/tvremote/internal/registry"
	"github.com/HerbHall/tvremote/internal/testutil"
	"github.com/HerbHall/tvremote/internal/tier"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memBlobs map[string][]byte

func (m memBlobs) GetBlob(_ context.Context, key string) ([]byte, error) { return m[key], nil }

func (m memBlobs) SetBlob(_ context.Context, key string, value []byte) error {
	m[key] = value
	return nil
}

type fakeDiscovery struct {
	searching bool
	starts    int
	stops     int
	devices   []models.DiscoveredDevice
}

func (f *fakeDiscovery) Start(_ context.Context) bool {
	if f.searching {
		return false
	}
	f.searching = true
	f.starts++
	return true
}

func (f *fakeDiscovery) Stop() {
	f.searching = false
	f.stops++
}

func (f *fakeDiscovery) Searching() bool                    { return f.searching }
func (f *fakeDiscovery) Devices() []models.DiscoveredDevice { return f.devices }

type fakeConn struct {
	devices     *registry.Registry
	connectOK   bool
	active      *models.TVDevice
	supportsPIN bool
	pinOK       bool
	pins        []string
	cmdErr      error
	commands    []models.RemoteButton
	longPresses []models.RemoteButton
	disconnects int
	cancels     int
}

func (f *fakeConn) Connect(_ context.Context, d models.TVDevice) bool {
	if f.connectOK {
		f.active = &d
	}
	return f.connectOK
}

func (f *fakeConn) ConnectByID(ctx context.Context, id string) (bool, error) {
	d, ok := f.devices.Get(id)
	if !ok {
		return false, connection.ErrUnknownDevice
	}
	return f.Connect(ctx, d), nil
}

func (f *fakeConn) Disconnect(_ context.Context) {
	f.active = nil
	f.disconnects++
}

func (f *fakeConn) SubmitPIN(_ context.Context, pin string) bool {
	f.pins = append(f.pins, pin)
	return f.pinOK
}

func (f *fakeConn) CancelPairing() { f.cancels++ }

func (f *fakeConn) SendCommand(_ context.Context, b models.RemoteButton) error {
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.commands = append(f.commands, b)
	return nil
}

func (f *fakeConn) SendLongPress(_ context.Context, b models.RemoteButton) error {
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.longPresses = append(f.longPresses, b)
	return nil
}

func (f *fakeConn) Status() models.ConnectionStatus {
	return models.StatusFor(f.ConnectorState())
}

func (f *fakeConn) ConnectorState() models.ConnectorState {
	if f.active != nil {
		return models.Connected()
	}
	return models.Idle()
}

func (f *fakeConn) ActiveDevice() (models.TVDevice, bool) {
	if f.active == nil {
		return models.TVDevice{}, false
	}
	return *f.active, true
}

func (f *fakeConn) SupportsPIN() bool { return f.supportsPIN }

type fakePinger struct {
	up    map[string]bool
	calls int
}

func (f *fakePinger) CheckAll(_ context.Context, ips []string) map[string]bool {
	f.calls++
	out := make(map[string]bool, len(ips))
	for _, ip := range ips {
		out[ip] = f.up[ip]
	}
	return out
}

type apiHarness struct {
	handler http.Handler
	disc    *fakeDiscovery
	reg     *registry.Registry
	conn    *fakeConn
	pinger  *fakePinger
}

func newAPIHarness(t *testing.T, entitled bool, logger *zap.Logger) *apiHarness {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := registry.New(context.Background(), memBlobs{}, tier.Static(entitled), 1, logger)
	h := &apiHarness{
		disc:   &fakeDiscovery{},
		reg:    reg,
		conn:   &fakeConn{devices: reg, connectOK: true},
		pinger: &fakePinger{up: map[string]bool{}},
	}
	api := NewAPI(h.disc, h.reg, h.conn, h.pinger, logger)
	cfg := DefaultConfig()
	cfg.PairingRate = RateConfig{}
	cfg.CommandRate = RateConfig{}
	h.handler = New(cfg, api, logger, nil).Handler()
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) save(t *testing.T, name, ip string) models.TVDevice {
	t.Helper()
	d, err := h.reg.Add(context.Background(), testutil.NewTV(testutil.WithName(name), testutil.WithIP(ip)))
	if err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	return d
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func expectProblem(t *testing.T, w *httptest.ResponseRecorder, status int) Problem {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
	p := decode[Problem](t, w)
	if p.Status != status {
		t.Errorf("problem status = %d, want %d", p.Status, status)
	}
	return p
}

func TestDiscoveryEndpoints(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	h.disc.devices = []models.DiscoveredDevice{testutil.NewSighting()}

	w := h.do(t, "POST", "/api/v1/discovery/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if got := decode[DiscoveryResponse](t, w); !got.Searching {
		t.Error("start response should report searching")
	}

	expectProblem(t, h.do(t, "POST", "/api/v1/discovery/start", ""), http.StatusConflict)
	if h.disc.starts != 1 {
		t.Errorf("starts = %d, want 1", h.disc.starts)
	}

	w = h.do(t, "GET", "/api/v1/discovery", "")
	got := decode[DiscoveryResponse](t, w)
	if len(got.Devices) != 1 || got.Devices[0].Address != "192.168.1.40" {
		t.Errorf("devices = %+v, want the Roku sighting", got.Devices)
	}

	w = h.do(t, "POST", "/api/v1/discovery/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}
	if got := decode[DiscoveryResponse](t, w); got.Searching {
		t.Error("stop response should report not searching")
	}
}

func TestDiscoveryEmptyListIsArray(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	w := h.do(t, "GET", "/api/v1/discovery", "")
	if !strings.Contains(w.Body.String(), `"devices":[]`) {
		t.Errorf("body = %s, want an empty devices array", w.Body.String())
	}
}

func TestAddDevice(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	w := h.do(t, "POST", "/api/v1/devices", `{"name":"Bedroom","ip_address":"192.168.1.60","brand":"LG"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	got := decode[DeviceResponse](t, w)
	if got.ID == "" {
		t.Error("expected a generated id")
	}
	if got.Brand != models.BrandLG || got.Platform != models.PlatformWebOS {
		t.Errorf("brand/platform = %s/%s, want lg/webos", got.Brand, got.Platform)
	}
	if !got.Stale || got.Paired {
		t.Errorf("new device stale=%v paired=%v, want stale and unpaired", got.Stale, got.Paired)
	}
	if h.reg.Count() != 1 {
		t.Errorf("registry count = %d, want 1", h.reg.Count())
	}
}

func TestAddDevice_ExplicitPlatformWins(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	w := h.do(t, "POST", "/api/v1/devices", `{"name":"Den","ip_address":"192.168.1.61","brand":"tcl","platform":"roku"}`)
	got := decode[DeviceResponse](t, w)
	if got.Platform != models.PlatformRoku {
		t.Errorf("platform = %s, want roku", got.Platform)
	}
}

func TestAddDevice_LimitReached(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	h.save(t, "First", "192.168.1.10")

	w := h.do(t, "POST", "/api/v1/devices", `{"name":"Second","ip_address":"192.168.1.11","brand":"samsung"}`)
	p := expectProblem(t, w, http.StatusConflict)
	if !strings.Contains(p.Detail, "limit of 1") {
		t.Errorf("detail = %q, want it to name the limit", p.Detail)
	}
}

func TestAddDevice_EntitledUnlimited(t *testing.T) {
	h := newAPIHarness(t, true, nil)
	h.save(t, "First", "192.168.1.10")

	w := h.do(t, "POST", "/api/v1/devices", `{"name":"Second","ip_address":"192.168.1.11","brand":"samsung"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestAddDevice_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"empty body", ``},
		{"unknown field", `{"name":"TV","ip_address":"192.168.1.5","color":"red"}`},
		{"invalid ip", `{"name":"TV","ip_address":"192.168.1"}`},
		{"hostname", `{"name":"TV","ip_address":"tv.local"}`},
		{"blank name", `{"name":"  ","ip_address":"192.168.1.5"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t, false, nil)
			expectProblem(t, h.do(t, "POST", "/api/v1/devices", tt.body), http.StatusBadRequest)
			if h.reg.Count() != 0 {
				t.Errorf("registry count = %d, want 0", h.reg.Count())
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	h := newAPIHarness(t, true, nil)
	a := h.save(t, "Kitchen", "192.168.1.20")
	h.save(t, "Office", "192.168.1.21")
	h.pinger.up["192.168.1.20"] = true

	w := h.do(t, "GET", "/api/v1/devices", "")
	got := decode[DeviceListResponse](t, w)
	if got.Count != 2 || len(got.Devices) != 2 {
		t.Fatalf("count = %d, len = %d, want 2", got.Count, len(got.Devices))
	}
	if got.Devices[0].ID != a.ID {
		t.Error("devices should keep insertion order")
	}
	if got.Devices[0].Reachable != nil {
		t.Error("reachable should be omitted without ?check=true")
	}
	if h.pinger.calls != 0 {
		t.Errorf("pinger calls = %d, want 0", h.pinger.calls)
	}

	w = h.do(t, "GET", "/api/v1/devices?check=true", "")
	got = decode[DeviceListResponse](t, w)
	if got.Devices[0].Reachable == nil || !*got.Devices[0].Reachable {
		t.Error("Kitchen should be reachable")
	}
	if got.Devices[1].Reachable == nil || *got.Devices[1].Reachable {
		t.Error("Office should be unreachable")
	}
}

func TestListDevices_CapFields(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	h.save(t, "Only", "192.168.1.20")

	got := decode[DeviceListResponse](t, h.do(t, "GET", "/api/v1/devices", ""))
	if got.Limit != 1 || got.CanAddMore {
		t.Errorf("limit = %d, can_add_more = %v, want 1 and false", got.Limit, got.CanAddMore)
	}
}

func TestDeviceResponses_OmitAuthToken(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	d := testutil.NewTV(testutil.WithToken("secret-token-123"), testutil.WithLastConnected(time.Now()))
	if _, err := h.reg.Add(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	w := h.do(t, "GET", "/api/v1/devices/"+d.ID, "")
	if strings.Contains(w.Body.String(), "secret-token-123") {
		t.Fatalf("auth token leaked: %s", w.Body.String())
	}
	got := decode[DeviceResponse](t, w)
	if !got.Paired || got.Stale {
		t.Errorf("paired=%v stale=%v, want paired and fresh", got.Paired, got.Stale)
	}

	h.do(t, "POST", "/api/v1/connection/connect", `{"device_id":"`+d.ID+`"}`)
	w = h.do(t, "GET", "/api/v1/connection", "")
	if strings.Contains(w.Body.String(), "secret-token-123") {
		t.Fatalf("auth token leaked from connection view: %s", w.Body.String())
	}
}

func TestUpdateDevice(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	d := h.save(t, "Old", "192.168.1.20")

	w := h.do(t, "PUT", "/api/v1/devices/"+d.ID, `{"name":"New","ip_address":"192.168.1.99"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	got, _ := h.reg.Get(d.ID)
	if got.Name != "New" || got.Address != "192.168.1.99" {
		t.Errorf("device = %+v, want renamed and readdressed", got)
	}

	w = h.do(t, "PUT", "/api/v1/devices/"+d.ID, `{"name":"Newer"}`)
	if got := decode[DeviceResponse](t, w); got.Name != "Newer" || got.Address != "192.168.1.99" {
		t.Errorf("partial update = %+v", got)
	}
}

func TestUpdateDevice_Errors(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	d := h.save(t, "TV", "192.168.1.20")

	expectProblem(t, h.do(t, "PUT", "/api/v1/devices/missing", `{"name":"X"}`), http.StatusNotFound)
	expectProblem(t, h.do(t, "PUT", "/api/v1/devices/"+d.ID, `{}`), http.StatusBadRequest)
	expectProblem(t, h.do(t, "PUT", "/api/v1/devices/"+d.ID, `{"ip_address":"999.1.1.1"}`), http.StatusBadRequest)

	// A blank name is rejected before the address is touched.
	expectProblem(t, h.do(t, "PUT", "/api/v1/devices/"+d.ID, `{"name":"","ip_address":"192.168.1.77"}`), http.StatusBadRequest)
	if got, _ := h.reg.Get(d.ID); got.Address != "192.168.1.20" {
		t.Errorf("address = %s, want unchanged", got.Address)
	}
}

func TestDeleteDevice(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	d := h.save(t, "TV", "192.168.1.20")

	w := h.do(t, "DELETE", "/api/v1/devices/"+d.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if h.reg.Count() != 0 {
		t.Error("device should be removed")
	}
	expectProblem(t, h.do(t, "DELETE", "/api/v1/devices/"+d.ID, ""), http.StatusNotFound)
	expectProblem(t, h.do(t, "GET", "/api/v1/devices/"+d.ID, ""), http.StatusNotFound)
}

func TestConnectByID(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	d := h.save(t, "TV", "192.168.1.20")

	w := h.do(t, "POST", "/api/v1/connection/connect", `{"device_id":"`+d.ID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	got := decode[ConnectResponse](t, w)
	if !got.Connected || !got.Status.IsConnected() {
		t.Errorf("connected = %v, status = %+v", got.Connected, got.Status)
	}
	if got.Device == nil || got.Device.ID != d.ID {
		t.Errorf("device = %+v, want %s", got.Device, d.ID)
	}
}

func TestConnect_Failure(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	h.conn.connectOK = false
	d := h.save(t, "TV", "192.168.1.20")

	w := h.do(t, "POST", "/api/v1/connection/connect", `{"device_id":"`+d.ID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[ConnectResponse](t, w); got.Connected {
		t.Error("connected should be false")
	}
}

func TestConnect_AdHocDevice(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	w := h.do(t, "POST", "/api/v1/connection/connect", `{"device":{"ip_address":"192.168.1.50","brand":"roku"}}`)
	got := decode[ConnectResponse](t, w)
	if !got.Connected {
		t.Fatal("expected connected")
	}
	if got.Device.Platform != models.PlatformRoku || got.Device.Name != "Roku" {
		t.Errorf("device = %+v, want a Roku named after its brand", got.Device)
	}
}

func TestConnect_BadRequests(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	expectProblem(t, h.do(t, "POST", "/api/v1/connection/connect", `{}`), http.StatusBadRequest)
	expectProblem(t, h.do(t, "POST", "/api/v1/connection/connect", `{"device_id":"x","device":{"ip_address":"192.168.1.5"}}`), http.StatusBadRequest)
	expectProblem(t, h.do(t, "POST", "/api/v1/connection/connect", `{"device":{"ip_address":"nope"}}`), http.StatusBadRequest)
	expectProblem(t, h.do(t, "POST", "/api/v1/connection/connect", `{"device_id":"missing"}`), http.StatusNotFound)
}

func TestDisconnectAndCancel(t *testing.T) {
	h := newAPIHarness(t, false, nil)
	d := h.save(t, "TV", "192.168.1.20")
	h.do(t, "POST", "/api/v1/connection/connect", `{"device_id":"`+d.ID+`"}`)

	w := h.do(t, "POST", "/api/v1/connection/disconnect", "")
	got := decode[ConnectionResponse](t, w)
	if got.Device != nil || got.State.Kind != models.StateIdle {
		t.Errorf("after disconnect: %+v", got)
	}
	if h.conn.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", h.conn.disconnects)
	}

	h.do(t, "POST", "/api/v1/connection/cancel", "")
	if h.conn.cancels != 1 {
		t.Errorf("cancels = %d, want 1", h.conn.cancels)
	}
}

func TestSubmitPIN(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	expectProblem(t, h.do(t, "POST", "/api/v1/connection/pin", `{"pin":"1234"}`), http.StatusConflict)

	h.conn.supportsPIN = true
	h.conn.pinOK = true
	for _, bad := range []string{"12", "12a4", "123456789", ""} {
		expectProblem(t, h.do(t, "POST", "/api/v1/connection/pin", `{"pin":"`+bad+`"}`), http.StatusBadRequest)
	}

	w := h.do(t, "POST", "/api/v1/connection/pin", `{"pin":" 4829 "}`)
	if got := decode[PINResponse](t, w); !got.Accepted {
		t.Error("expected accepted")
	}
	if len(h.conn.pins) != 1 || h.conn.pins[0] != "4829" {
		t.Errorf("pins = %v, want [4829]", h.conn.pins)
	}
}

func TestSendCommand(t *testing.T) {
	h := newAPIHarness(t, false, nil)

	w := h.do(t, "POST", "/api/v1/connection/command", `{"button":"volume_up"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	w = h.do(t, "POST", "/api/v1/connection/command", `{"button":"HOME","long_press":true}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("long press status = %d", w.Code)
	}

	if len(h.conn.commands) != 1 || h.conn.commands[0] != models.ButtonVolumeUp {
		t.Errorf("commands = %v", h.conn.commands)
	}
	if len(h.conn.longPresses) != 1 || h.conn.longPresses[0] != models.ButtonHome {
		t.Errorf("long presses = %v", h.conn.longPresses)
	}
}

func TestSendCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"unknown button", `{"button":"JUMP"}`, nil, http.StatusBadRequest},
		{"not connected", `{"button":"UP"}`, connection.ErrNotConnected, http.StatusConflict},
		{"premium", `{"button":"PLAY"}`, connection.ErrPremiumRequired, http.StatusForbidden},
		{"transport", `{"button":"UP"}`, fmt.Errorf("write: broken pipe"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t, false, nil)
			h.conn.cmdErr = tt.err
			expectProblem(t, h.do(t, "POST", "/api/v1/connection/command", tt.body), tt.status)
		})
	}
}

func TestPINNeverLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newAPIHarness(t, false, zap.New(core))
	h.conn.supportsPIN = true

	const pin = "482913"
	h.do(t, "POST", "/api/v1/connection/pin", `{"pin":"`+pin+`"}`)

	if logs.Len() == 0 {
		t.Fatal("expected the request to be logged")
	}
	for _, e := range logs.All() {
		line := e.Message + fmt.Sprint(e.ContextMap())
		if strings.Contains(line, pin) {
			t.Errorf("log entry contains the PIN: %s", line)
		}
	}
}
