// Package discovery finds TVs on the local network with SSDP and a subnet
// probe sweep run side by side.
package discovery

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/internal/wire"
	"github.com/HerbHall/tvremote/pkg/analytics"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SearchTargets are queried in every SSDP search.
var SearchTargets = []string{
	"ssdp:all",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"urn:dial-multiscreen-org:service:dial:1",
	"urn:samsung.com:device:RemoteControlReceiver:1",
}

// Searcher performs an SSDP search.
type Searcher interface {
	Search(ctx context.Context, targets []string, wait time.Duration) ([]wire.SSDPResponse, error)
}

// Engine runs at most one discovery session at a time. Results are kept
// until the next session starts.
type Engine struct {
	cfg      Config
	searcher Searcher
	probers  []Prober
	subnet   SubnetFunc
	http     *wire.HTTPClient
	bus      *event.Bus
	logger   *zap.Logger

	mu        sync.Mutex
	searching bool
	cancel    context.CancelFunc
	done      chan struct{}
	devices   []models.DiscoveredDevice
	seen      map[string]struct{}
	fetched   map[string]struct{}
}

// NewEngine creates an engine. A nil subnet disables the probe sweep.
func NewEngine(cfg Config, searcher Searcher, probers []Prober, subnet SubnetFunc, bus *event.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		searcher: searcher,
		probers:  probers,
		subnet:   subnet,
		http:     wire.NewHTTPClient(cfg.DescriptionTimeout),
		bus:      bus,
		logger:   logger.Named("discovery"),
		seen:     make(map[string]struct{}),
		fetched:  make(map[string]struct{}),
	}
}

// New creates an engine wired to the real network.
func New(cfg Config, bus *event.Bus, logger *zap.Logger) *Engine {
	return NewEngine(cfg, &wire.SSDPClient{}, DefaultProbers(cfg, logger), LocalSubnet(cfg.Interface), bus, logger)
}

// Start begins a session unless one is running, and reports whether it did.
// The session outlives ctx; use Stop to end it early.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	if e.searching {
		e.mu.Unlock()
		return false
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SessionTimeout)
	done := make(chan struct{})
	e.searching = true
	e.cancel = cancel
	e.done = done
	e.devices = nil
	e.seen = make(map[string]struct{})
	e.fetched = make(map[string]struct{})
	e.mu.Unlock()

	e.logger.Info("discovery started", zap.Duration("timeout", e.cfg.SessionTimeout))
	e.bus.Publish(ctx, event.Event{Topic: event.TopicDiscoveryStarted, Source: "discovery"})
	e.bus.Track(ctx, analytics.New(analytics.DeviceSearchStarted))

	go e.run(sctx, cancel, done)
	return true
}

// Stop ends the running session and waits for it to wind down. It is safe
// to call when nothing is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current session, if any, finishes or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs one blocking session and returns its devices.
func (e *Engine) Run(ctx context.Context) ([]models.DiscoveredDevice, error) {
	e.Start(ctx)
	if err := e.Wait(ctx); err != nil {
		e.Stop()
		return e.Devices(), err
	}
	return e.Devices(), nil
}

// Searching reports whether a session is running.
func (e *Engine) Searching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searching
}

// Devices returns a copy of the candidates found, in discovery order.
func (e *Engine) Devices() []models.DiscoveredDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.devices)
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		e.searchSSDP(ctx)
		return nil
	})
	g.Go(func() error {
		e.sweep(ctx)
		return nil
	})
	_ = g.Wait()

	e.mu.Lock()
	e.searching = false
	e.cancel = nil
	devices := slices.Clone(e.devices)
	e.mu.Unlock()

	e.logger.Info("discovery finished", zap.Int("devices", len(devices)))
	e.bus.Publish(context.Background(), event.Event{
		Topic:   event.TopicDiscoveryFinished,
		Source:  "discovery",
		Payload: event.DiscoveryFinishedPayload{Devices: devices},
	})
}

// add records dev unless its address was already seen this session.
func (e *Engine) add(ctx context.Context, dev models.DiscoveredDevice) bool {
	e.mu.Lock()
	if _, dup := e.seen[dev.Address]; dup {
		e.mu.Unlock()
		return false
	}
	e.seen[dev.Address] = struct{}{}
	e.devices = append(e.devices, dev)
	e.mu.Unlock()

	e.logger.Info("device found",
		zap.String("ip", dev.Address),
		zap.String("name", dev.Name),
		zap.String("brand", string(dev.Brand)),
		zap.String("source", string(dev.Source)),
	)
	e.bus.Publish(ctx, event.Event{
		Topic:   event.TopicDeviceFound,
		Source:  "discovery",
		Payload: event.DeviceFoundPayload{Device: dev},
	})
	e.bus.Track(ctx, analytics.New(analytics.DeviceFound,
		analytics.PropBrand, string(dev.Brand),
		analytics.PropPlatform, string(dev.Platform),
	))
	return true
}

func (e *Engine) claimLocation(loc string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.fetched[loc]; ok {
		return false
	}
	e.fetched[loc] = struct{}{}
	return true
}

func (e *Engine) searchSSDP(ctx context.Context) {
	if e.searcher == nil {
		return
	}
	resps, err := e.searcher.Search(ctx, SearchTargets, e.cfg.SSDPWait)
	if err != nil && ctx.Err() == nil {
		e.logger.Warn("ssdp search failed", zap.Error(err))
	}
	e.logger.Debug("ssdp responses", zap.Int("count", len(resps)))

	var g errgroup.Group
	for _, r := range resps {
		if r.Location == "" || r.Host() == "" || !e.claimLocation(r.Location) {
			continue
		}
		g.Go(func() error {
			e.describe(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
}

// describe fetches the description document behind an SSDP reply.
func (e *Engine) describe(ctx context.Context, r wire.SSDPResponse) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DescriptionTimeout)
	defer cancel()

	status, body, err := e.http.Get(dctx, r.Location)
	if err != nil || !wire.IsSuccess(status) {
		e.logger.Debug("description fetch failed",
			zap.String("location", r.Location), zap.Int("status", status), zap.Error(err))
		return
	}

	desc := ParseDescription(body)
	brand, platform := InferBrand(desc.Manufacturer, desc.FriendlyName, r.ST, r.Server)
	name := desc.FriendlyName
	if name == "" {
		name = "Smart TV"
	}
	e.add(ctx, models.DiscoveredDevice{
		Name:     name,
		Address:  r.Host(),
		Brand:    brand,
		Platform: platform,
		Model:    desc.ModelName,
		USN:      r.USN,
		Source:   models.SourceSSDP,
	})
}

// sweep probes every host of the local /24 with every prober. Each probe
// has its own timeout; failures are dropped silently.
func (e *Engine) sweep(ctx context.Context) {
	if e.subnet == nil || len(e.probers) == 0 {
		return
	}
	subnet, err := e.subnet()
	if err != nil {
		e.logger.Warn("skipping subnet probe", zap.Error(err))
		return
	}
	hosts := subnetHosts(subnet)
	e.logger.Debug("probing subnet",
		zap.String("subnet", subnet.String()),
		zap.Int("hosts", len(hosts)),
		zap.Int("probers", len(e.probers)),
	)

	limit := rate.Inf
	if e.cfg.ProbeRate > 0 {
		limit = rate.Limit(e.cfg.ProbeRate)
	}
	concurrency := max(e.cfg.Concurrency, 1)
	limiter := rate.NewLimiter(limit, concurrency)

	var g errgroup.Group
	g.SetLimit(concurrency)

loop:
	for _, ip := range hosts {
		for _, p := range e.probers {
			if err := limiter.Wait(ctx); err != nil {
				break loop
			}
			g.Go(func() error {
				pctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
				defer cancel()
				if dev, ok := p.Probe(pctx, ip); ok && ctx.Err() == nil {
					e.add(ctx, dev)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}
