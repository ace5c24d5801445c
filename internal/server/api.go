package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/tvremote/internal/connection"
	"github.com/HerbHall/tvremote/internal/registry"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies; every API payload is a few fields.
const maxBodyBytes = 64 << 10

// Discovery runs discovery sessions.
type Discovery interface {
	Start(ctx context.Context) bool
	Stop()
	Searching() bool
	Devices() []models.DiscoveredDevice
}

// DeviceStore is the saved-device registry.
type DeviceStore interface {
	List() []models.TVDevice
	Get(id string) (models.TVDevice, bool)
	Add(ctx context.Context, d models.TVDevice) (models.TVDevice, error)
	Rename(ctx context.Context, id, name string) (models.TVDevice, error)
	UpdateAddress(ctx context.Context, id, address string) (models.TVDevice, error)
	Remove(ctx context.Context, id string) error
	Count() int
	Limit() int
	CanAddMore() bool
}

// Connection is the connection manager.
type Connection interface {
	Connect(ctx context.Context, d models.TVDevice) bool
	ConnectByID(ctx context.Context, id string) (bool, error)
	Disconnect(ctx context.Context)
	SubmitPIN(ctx context.Context, pin string) bool
	CancelPairing()
	SendCommand(ctx context.Context, b models.RemoteButton) error
	SendLongPress(ctx context.Context, b models.RemoteButton) error
	Status() models.ConnectionStatus
	ConnectorState() models.ConnectorState
	ActiveDevice() (models.TVDevice, bool)
	SupportsPIN() bool
}

// Pinger checks whether addresses answer ICMP echo.
type Pinger interface {
	CheckAll(ctx context.Context, ips []string) map[string]bool
}

// API serves the /api/v1 control endpoints.
type API struct {
	discovery Discovery
	devices   DeviceStore
	conn      Connection
	pinger    Pinger
	logger    *zap.Logger
}

// NewAPI creates the control API. pinger may be nil, which disables
// ?check=true on the device list.
func NewAPI(discovery Discovery, devices DeviceStore, conn Connection, pinger Pinger, logger *zap.Logger) *API {
	return &API{
		discovery: discovery,
		devices:   devices,
		conn:      conn,
		pinger:    pinger,
		logger:    logger.Named("api"),
	}
}

// RegisterRoutes mounts the API on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/discovery", a.handleDiscovery)
	mux.HandleFunc("POST /api/v1/discovery/start", a.handleDiscoveryStart)
	mux.HandleFunc("POST /api/v1/discovery/stop", a.handleDiscoveryStop)

	mux.HandleFunc("GET /api/v1/devices", a.handleListDevices)
	mux.HandleFunc("POST /api/v1/devices", a.handleAddDevice)
	mux.HandleFunc("GET /api/v1/devices/{id}", a.handleGetDevice)
	mux.HandleFunc("PUT /api/v1/devices/{id}", a.handleUpdateDevice)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", a.handleDeleteDevice)

	mux.HandleFunc("GET /api/v1/connection", a.handleConnection)
	mux.HandleFunc("POST /api/v1/connection/connect", a.handleConnect)
	mux.HandleFunc("POST /api/v1/connection/disconnect", a.handleDisconnect)
	mux.HandleFunc("POST /api/v1/connection/pin", a.handlePIN)
	mux.HandleFunc("POST /api/v1/connection/cancel", a.handleCancel)
	mux.HandleFunc("POST /api/v1/connection/command", a.handleCommand)
}

// DiscoveryResponse is the body of the discovery endpoints.
type DiscoveryResponse struct {
	Searching bool                      `json:"searching"`
	Devices   []models.DiscoveredDevice `json:"devices"`
}

func (a *API) discoveryView() DiscoveryResponse {
	devs := a.discovery.Devices()
	if devs == nil {
		devs = []models.DiscoveredDevice{}
	}
	return DiscoveryResponse{Searching: a.discovery.Searching(), Devices: devs}
}

func (a *API) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.discoveryView())
}

func (a *API) handleDiscoveryStart(w http.ResponseWriter, r *http.Request) {
	if !a.discovery.Start(r.Context()) {
		Conflict(w, "a discovery session is already running", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, a.discoveryView())
}

func (a *API) handleDiscoveryStop(w http.ResponseWriter, _ *http.Request) {
	a.discovery.Stop()
	writeJSON(w, http.StatusOK, a.discoveryView())
}

// DeviceResponse is a saved device with its liveness hints. The pairing
// credential is never returned; Paired reports whether one is stored.
type DeviceResponse struct {
	models.TVDevice
	Paired    bool  `json:"paired"`
	Stale     bool  `json:"stale"`
	Reachable *bool `json:"reachable,omitempty"`
}

func newDeviceResponse(d models.TVDevice, now time.Time) DeviceResponse {
	paired := d.AuthToken != ""
	d.AuthToken = ""
	return DeviceResponse{TVDevice: d, Paired: paired, Stale: d.IsStale(now)}
}

// DeviceListResponse is the body of GET /devices.
type DeviceListResponse struct {
	Devices    []DeviceResponse `json:"devices"`
	Count      int              `json:"count"`
	Limit      int              `json:"limit"`
	CanAddMore bool             `json:"can_add_more"`
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devs := a.devices.List()
	now := time.Now()

	var reach map[string]bool
	if r.URL.Query().Get("check") == "true" && a.pinger != nil {
		ips := make([]string, 0, len(devs))
		for _, d := range devs {
			ips = append(ips, d.Address)
		}
		reach = a.pinger.CheckAll(r.Context(), ips)
	}

	out := make([]DeviceResponse, 0, len(devs))
	for _, d := range devs {
		dr := newDeviceResponse(d, now)
		if reach != nil {
			ok := reach[d.Address]
			dr.Reachable = &ok
		}
		out = append(out, dr)
	}
	writeJSON(w, http.StatusOK, DeviceListResponse{
		Devices:    out,
		Count:      a.devices.Count(),
		Limit:      a.devices.Limit(),
		CanAddMore: a.devices.CanAddMore(),
	})
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := a.devices.Get(r.PathValue("id"))
	if !ok {
		NotFound(w, "device not found", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(d, time.Now()))
}

// AddDeviceRequest is the body of POST /devices.
type AddDeviceRequest struct {
	Name     string `json:"name" example:"Living Room TV"`
	Address  string `json:"ip_address" example:"192.168.1.50"`
	Brand    string `json:"brand" example:"samsung"`
	Platform string `json:"platform,omitempty" example:"tizen"`
	Model    string `json:"model,omitempty"`
}

func (a *API) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req AddDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d := deviceFromRequest(req)
	annotate(r, zap.String("brand", string(d.Brand)))
	d, err := a.devices.Add(r.Context(), d)
	if err != nil {
		a.registryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDeviceResponse(d, time.Now()))
}

// deviceFromRequest builds a device, taking the platform from the brand
// when none is given.
func deviceFromRequest(req AddDeviceRequest) models.TVDevice {
	brand := models.ParseBrand(req.Brand)
	platform := models.ParsePlatform(req.Platform)
	if platform == models.PlatformUnknown {
		platform = models.PlatformForBrand(brand)
	}
	d := models.NewTVDevice(req.Name, req.Address, brand, platform)
	d.Model = req.Model
	return d
}

// UpdateDeviceRequest is the body of PUT /devices/{id}. Absent fields are
// left unchanged.
type UpdateDeviceRequest struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"ip_address,omitempty"`
}

func (a *API) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req UpdateDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Address == nil {
		BadRequest(w, "nothing to update: set name or ip_address", r.URL.Path)
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		BadRequest(w, "name is required", r.URL.Path)
		return
	}

	d, ok := a.devices.Get(id)
	if !ok {
		NotFound(w, "device not found", r.URL.Path)
		return
	}
	var err error
	if req.Address != nil {
		if d, err = a.devices.UpdateAddress(r.Context(), id, *req.Address); err != nil {
			a.registryError(w, r, err)
			return
		}
	}
	if req.Name != nil {
		if d, err = a.devices.Rename(r.Context(), id, *req.Name); err != nil {
			a.registryError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(d, time.Now()))
}

func (a *API) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := a.devices.Remove(r.Context(), r.PathValue("id")); err != nil {
		a.registryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) registryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		NotFound(w, "device not found", r.URL.Path)
	case errors.Is(err, registry.ErrDeviceLimit):
		Conflict(w, fmt.Sprintf("device limit of %d reached; upgrade to save more TVs", a.devices.Limit()), r.URL.Path)
	case errors.Is(err, registry.ErrInvalidAddress):
		BadRequest(w, "ip_address must be a dotted-quad IPv4 address", r.URL.Path)
	case errors.Is(err, registry.ErrEmptyName):
		BadRequest(w, "name is required", r.URL.Path)
	default:
		a.logger.Error("registry operation failed", zap.String("path", r.URL.Path), zap.Error(err))
		InternalError(w, "failed to save devices", r.URL.Path)
	}
}

// ConnectionResponse describes the active connection.
type ConnectionResponse struct {
	Status      models.ConnectionStatus `json:"status"`
	State       models.ConnectorState   `json:"connector_state"`
	Device      *models.TVDevice        `json:"device,omitempty"`
	SupportsPIN bool                    `json:"supports_pin"`
}

func (a *API) connectionView() ConnectionResponse {
	out := ConnectionResponse{
		Status:      a.conn.Status(),
		State:       a.conn.ConnectorState(),
		SupportsPIN: a.conn.SupportsPIN(),
	}
	if d, ok := a.conn.ActiveDevice(); ok {
		d.AuthToken = ""
		out.Device = &d
	}
	return out
}

func (a *API) handleConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.connectionView())
}

// ConnectRequest is the body of POST /connection/connect. Exactly one of
// DeviceID or Device is set; Device connects without saving first.
type ConnectRequest struct {
	DeviceID string            `json:"device_id,omitempty"`
	Device   *AddDeviceRequest `json:"device,omitempty"`
}

// ConnectResponse reports the handshake outcome.
type ConnectResponse struct {
	Connected bool `json:"connected"`
	ConnectionResponse
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var ok bool
	switch {
	case req.DeviceID != "" && req.Device != nil:
		BadRequest(w, "set either device_id or device, not both", r.URL.Path)
		return
	case req.DeviceID != "":
		annotate(r, zap.String("device_id", req.DeviceID))
		var err error
		ok, err = a.conn.ConnectByID(r.Context(), req.DeviceID)
		if errors.Is(err, connection.ErrUnknownDevice) {
			NotFound(w, "device not found", r.URL.Path)
			return
		}
	case req.Device != nil:
		d := deviceFromRequest(*req.Device)
		if !models.ValidIPv4(d.Address) {
			BadRequest(w, "ip_address must be a dotted-quad IPv4 address", r.URL.Path)
			return
		}
		if d.Name == "" {
			d.Name = d.Brand.DisplayName()
		}
		annotate(r, zap.String("ip", d.Address), zap.String("brand", string(d.Brand)))
		ok = a.conn.Connect(r.Context(), d)
	default:
		BadRequest(w, "device_id or device is required", r.URL.Path)
		return
	}

	annotate(r, zap.Bool("connected", ok))
	writeJSON(w, http.StatusOK, ConnectResponse{Connected: ok, ConnectionResponse: a.connectionView()})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	a.conn.Disconnect(r.Context())
	writeJSON(w, http.StatusOK, a.connectionView())
}

// PINRequest is the body of POST /connection/pin.
type PINRequest struct {
	PIN string `json:"pin" example:"1234"`
}

// PINResponse reports whether the TV accepted the PIN.
type PINResponse struct {
	Accepted bool `json:"accepted"`
	ConnectionResponse
}

func (a *API) handlePIN(w http.ResponseWriter, r *http.Request) {
	var req PINRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pin := strings.TrimSpace(req.PIN)
	if !validPIN(pin) {
		BadRequest(w, "pin must be 4 to 8 digits", r.URL.Path)
		return
	}
	if !a.conn.SupportsPIN() {
		Conflict(w, "the active connection does not use PIN pairing", r.URL.Path)
		return
	}
	ok := a.conn.SubmitPIN(r.Context(), pin)
	annotate(r, zap.Bool("accepted", ok))
	writeJSON(w, http.StatusOK, PINResponse{Accepted: ok, ConnectionResponse: a.connectionView()})
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (a *API) handleCancel(w http.ResponseWriter, _ *http.Request) {
	a.conn.CancelPairing()
	writeJSON(w, http.StatusOK, a.connectionView())
}

// CommandRequest is the body of POST /connection/command.
type CommandRequest struct {
	Button    string `json:"button" example:"VOLUP"`
	LongPress bool   `json:"long_press,omitempty"`
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	button, ok := models.ParseButton(req.Button)
	if !ok {
		BadRequest(w, fmt.Sprintf("unknown button %q", req.Button), r.URL.Path)
		return
	}
	annotate(r, zap.String("button", string(button)), zap.Bool("long_press", req.LongPress))
	if d, ok := a.conn.ActiveDevice(); ok {
		annotate(r, zap.String("device_id", d.ID))
	}

	var err error
	if req.LongPress {
		err = a.conn.SendLongPress(r.Context(), button)
	} else {
		err = a.conn.SendCommand(r.Context(), button)
	}
	switch {
	case errors.Is(err, connection.ErrNotConnected):
		Conflict(w, "not connected to a TV", r.URL.Path)
	case errors.Is(err, connection.ErrPremiumRequired):
		Forbidden(w, fmt.Sprintf("%s requires premium", button), r.URL.Path)
	case err != nil:
		InternalError(w, "command failed", r.URL.Path)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeBody reads a JSON body into v, writing a problem response and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			WriteProblem(w, Problem{
				Type:     ProblemTypeBadRequest,
				Title:    "Request Entity Too Large",
				Status:   http.StatusRequestEntityTooLarge,
				Detail:   "request body too large",
				Instance: r.URL.Path,
			})
		case errors.Is(err, io.EOF):
			BadRequest(w, "request body is required", r.URL.Path)
		default:
			BadRequest(w, "invalid JSON body: "+err.Error(), r.URL.Path)
		}
		return false
	}
	return true
}
