// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/tvremote/pkg/models"
)

// NewTV returns a saved Samsung TV with sensible defaults, suitable for test
// fixtures. Override individual fields with options.
func NewTV(opts ...func(*models.TVDevice)) models.TVDevice {
	d := models.TVDevice{
		ID:       uuid.New().String(),
		Name:     "Living Room TV",
		Address:  "192.168.1.50",
		Brand:    models.BrandSamsung,
		Platform: models.PlatformTizen,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithName sets the display name.
func WithName(name string) func(*models.TVDevice) {
	return func(d *models.TVDevice) { d.Name = name }
}

// WithIP sets the IPv4 address.
func WithIP(ip string) func(*models.TVDevice) {
	return func(d *models.TVDevice) { d.Address = ip }
}

// WithBrand sets the brand and the platform it ships with.
func WithBrand(b models.Brand) func(*models.TVDevice) {
	return func(d *models.TVDevice) {
		d.Brand = b
		d.Platform = models.PlatformForBrand(b)
	}
}

// WithPlatform overrides the platform, e.g. a TCL running Roku.
func WithPlatform(p models.Platform) func(*models.TVDevice) {
	return func(d *models.TVDevice) { d.Platform = p }
}

// WithToken sets the stored pairing credential.
func WithToken(token string) func(*models.TVDevice) {
	return func(d *models.TVDevice) { d.AuthToken = token }
}

// WithLastConnected sets the last successful connection time.
func WithLastConnected(t time.Time) func(*models.TVDevice) {
	return func(d *models.TVDevice) { d.LastConnected = &t }
}

// NewSighting returns an SSDP sighting of a Roku.
func NewSighting(opts ...func(*models.DiscoveredDevice)) models.DiscoveredDevice {
	d := models.DiscoveredDevice{
		Name:     "Roku Ultra",
		Address:  "192.168.1.40",
		Brand:    models.BrandRoku,
		Platform: models.PlatformRoku,
		USN:      "uuid:roku:ecp:X00000000001",
		Source:   models.SourceSSDP,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithSource sets the probe that produced the sighting.
func WithSource(src models.DiscoverySource) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) { d.Source = src }
}
