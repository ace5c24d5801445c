package discovery

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/tvremote/internal/connector"
	"github.com/HerbHall/tvremote/internal/wire"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// Prober checks one host for one kind of TV.
type Prober interface {
	Name() string
	Probe(ctx context.Context, ip string) (models.DiscoveredDevice, bool)
}

func hostURL(ip string, port int, path string) string {
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + path
}

// SamsungProbe reads the Tizen REST description.
type SamsungProbe struct {
	Port int
	HTTP *wire.HTTPClient
}

func (SamsungProbe) Name() string { return "samsung" }

func (p SamsungProbe) Probe(ctx context.Context, ip string) (models.DiscoveredDevice, bool) {
	status, body, err := p.HTTP.Get(ctx, hostURL(ip, p.Port, "/api/v2/"))
	if err != nil || !wire.IsSuccess(status) {
		return models.DiscoveredDevice{}, false
	}
	var doc struct {
		Device connector.SamsungDeviceInfo `json:"device"`
	}
	if json.Unmarshal(body, &doc) != nil || doc.Device.Name == "" {
		return models.DiscoveredDevice{}, false
	}
	return models.DiscoveredDevice{
		Name:     doc.Device.Name,
		Address:  ip,
		Brand:    models.BrandSamsung,
		Platform: models.PlatformTizen,
		Model:    doc.Device.Model,
		Source:   models.SourceSamsung,
	}, true
}

// LGProbe checks for the webOS HTTP endpoint.
type LGProbe struct {
	Port int
	HTTP *wire.HTTPClient
}

func (LGProbe) Name() string { return "lg" }

func (p LGProbe) Probe(ctx context.Context, ip string) (models.DiscoveredDevice, bool) {
	status, _, err := p.HTTP.Get(ctx, hostURL(ip, p.Port, "/api/v1/"))
	if err != nil || !wire.IsSuccess(status) {
		return models.DiscoveredDevice{}, false
	}
	return models.DiscoveredDevice{
		Name:     "LG Smart TV",
		Address:  ip,
		Brand:    models.BrandLG,
		Platform: models.PlatformWebOS,
		Source:   models.SourceLG,
	}, true
}

// RokuProbe queries ECP device-info.
type RokuProbe struct {
	Port int
	HTTP *wire.HTTPClient
}

func (RokuProbe) Name() string { return "roku" }

func (p RokuProbe) Probe(ctx context.Context, ip string) (models.DiscoveredDevice, bool) {
	status, body, err := p.HTTP.Get(ctx, hostURL(ip, p.Port, "/query/device-info"))
	if err != nil || !wire.IsSuccess(status) {
		return models.DiscoveredDevice{}, false
	}
	doc := string(body)
	if !strings.Contains(strings.ToLower(doc), "roku") {
		return models.DiscoveredDevice{}, false
	}
	name := extractTag(doc, "friendly-device-name")
	if name == "" {
		name = "Roku TV"
	}
	return models.DiscoveredDevice{
		Name:     name,
		Address:  ip,
		Brand:    models.BrandRoku,
		Platform: models.PlatformRoku,
		Model:    extractTag(doc, "model-name"),
		Source:   models.SourceRoku,
	}, true
}

// DialFunc opens a TCP connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HisenseProbe connect-probes the VIDAA control port. Only that port
// produces a candidate; the auxiliary ports are probed and logged.
type HisenseProbe struct {
	ControlPort int
	AuxPorts    []int
	Timeout     time.Duration
	Dial        DialFunc
	Logger      *zap.Logger
}

func (HisenseProbe) Name() string { return "hisense" }

func (p HisenseProbe) Probe(ctx context.Context, ip string) (models.DiscoveredDevice, bool) {
	if !p.open(ctx, ip, p.ControlPort) {
		return models.DiscoveredDevice{}, false
	}
	for _, port := range p.AuxPorts {
		if p.open(ctx, ip, port) && p.Logger != nil {
			p.Logger.Debug("hisense auxiliary port open", zap.String("ip", ip), zap.Int("port", port))
		}
	}
	return models.DiscoveredDevice{
		Name:     "Hisense TV",
		Address:  ip,
		Brand:    models.BrandHisense,
		Platform: models.PlatformVIDAA,
		Source:   models.SourceHisense,
	}, true
}

func (p HisenseProbe) open(ctx context.Context, ip string, port int) bool {
	dial := p.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: p.Timeout}
		dial = d.DialContext
	}
	conn, err := dial(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// DefaultProbers returns the Samsung, LG, Roku and Hisense probes on their
// standard ports.
func DefaultProbers(cfg Config, logger *zap.Logger) []Prober {
	client := wire.NewHTTPClient(cfg.ProbeTimeout)
	return []Prober{
		SamsungProbe{Port: 8001, HTTP: client},
		LGProbe{Port: 3000, HTTP: client},
		RokuProbe{Port: models.PlatformRoku.DefaultPort(), HTTP: client},
		HisenseProbe{
			ControlPort: models.PlatformVIDAA.DefaultPort(),
			AuxPorts:    []int{8080, 56789, 1926},
			Timeout:     cfg.ProbeTimeout,
			Logger:      logger,
		},
	}
}

