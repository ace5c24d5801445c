package models

import (
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Brand identifies the manufacturer of a TV.
type Brand string

const (
	BrandSamsung   Brand = "samsung"
	BrandLG        Brand = "lg"
	BrandSony      Brand = "sony"
	BrandPhilips   Brand = "philips"
	BrandPanasonic Brand = "panasonic"
	BrandHisense   Brand = "hisense"
	BrandTCL       Brand = "tcl"
	BrandXiaomi    Brand = "xiaomi"
	BrandSharp     Brand = "sharp"
	BrandNokia     Brand = "nokia"
	BrandThomson   Brand = "thomson"
	BrandJVC       Brand = "jvc"
	BrandSkyworth  Brand = "skyworth"
	BrandHaier     Brand = "haier"
	BrandVestel    Brand = "vestel"
	BrandRoku      Brand = "roku"
	BrandUnknown   Brand = "unknown"
)

var brandDisplayNames = map[Brand]string{
	BrandSamsung:   "Samsung",
	BrandLG:        "LG",
	BrandSony:      "Sony",
	BrandPhilips:   "Philips",
	BrandPanasonic: "Panasonic",
	BrandHisense:   "Hisense",
	BrandTCL:       "TCL",
	BrandXiaomi:    "Xiaomi",
	BrandSharp:     "Sharp",
	BrandNokia:     "Nokia",
	BrandThomson:   "Thomson",
	BrandJVC:       "JVC",
	BrandSkyworth:  "Skyworth",
	BrandHaier:     "Haier",
	BrandVestel:    "Vestel",
	BrandRoku:      "Roku",
	BrandUnknown:   "Smart TV",
}

// DisplayName returns the human-readable brand name.
func (b Brand) DisplayName() string {
	if name, ok := brandDisplayNames[b]; ok {
		return name
	}
	return brandDisplayNames[BrandUnknown]
}

// ParseBrand maps a brand identifier or display name to a Brand.
// Unrecognized input yields BrandUnknown.
func ParseBrand(s string) Brand {
	s = strings.ToLower(strings.TrimSpace(s))
	for b := range brandDisplayNames {
		if string(b) == s || strings.ToLower(brandDisplayNames[b]) == s {
			return b
		}
	}
	return BrandUnknown
}

// Platform identifies the TV operating system, which selects the control protocol.
type Platform string

const (
	PlatformTizen     Platform = "tizen"     // Samsung
	PlatformWebOS     Platform = "webos"     // LG
	PlatformAndroidTV Platform = "androidtv" // Sony, Philips, TCL
	PlatformRoku      Platform = "roku"      // Roku, TCL
	PlatformVIDAA     Platform = "vidaa"     // Hisense
	PlatformUnknown   Platform = "unknown"
)

// ParsePlatform maps a platform identifier to a Platform.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformTizen, PlatformWebOS, PlatformAndroidTV, PlatformRoku, PlatformVIDAA:
		return p
	default:
		return PlatformUnknown
	}
}

// DefaultPort returns the control port a platform's protocol listens on.
func (p Platform) DefaultPort() int {
	switch p {
	case PlatformTizen:
		return 8002
	case PlatformWebOS:
		return 3001
	case PlatformRoku:
		return 8060
	case PlatformAndroidTV:
		return 5555
	case PlatformVIDAA:
		return 36669
	default:
		return 0
	}
}

// PlatformForBrand returns the platform a brand ships by default.
func PlatformForBrand(b Brand) Platform {
	switch b {
	case BrandSamsung:
		return PlatformTizen
	case BrandLG:
		return PlatformWebOS
	case BrandRoku:
		return PlatformRoku
	case BrandHisense:
		return PlatformVIDAA
	case BrandSony, BrandPhilips, BrandTCL:
		return PlatformAndroidTV
	default:
		return PlatformUnknown
	}
}

// staleAfter is how long after the last connection a saved TV is presumed offline.
const staleAfter = 24 * time.Hour

// TVDevice is a saved, addressable TV.
type TVDevice struct {
	ID            string     `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name          string     `json:"name" example:"Living Room TV"`
	Address       string     `json:"ip_address" example:"192.168.1.50"`
	Brand         Brand      `json:"brand" example:"samsung"`
	Platform      Platform   `json:"platform" example:"tizen"`
	Model         string     `json:"model,omitempty" example:"QE55Q80T"`
	LastConnected *time.Time `json:"last_connected,omitempty"`

	// AuthToken is the brand-specific pairing credential (Samsung token, LG client-key).
	AuthToken string `json:"auth_token,omitempty"`
}

// NewTVDevice returns a TVDevice with a fresh unique ID.
func NewTVDevice(name, address string, brand Brand, platform Platform) TVDevice {
	return TVDevice{
		ID:       uuid.New().String(),
		Name:     name,
		Address:  address,
		Brand:    brand,
		Platform: platform,
	}
}

// IsStale reports whether the device has not been connected within the last day.
func (d TVDevice) IsStale(now time.Time) bool {
	if d.LastConnected == nil {
		return true
	}
	return now.Sub(*d.LastConnected) > staleAfter
}

// ValidIPv4 reports whether s is a dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && strings.Count(s, ".") == 3
}

// DiscoverySource records which probe produced a sighting.
type DiscoverySource string

const (
	SourceSSDP    DiscoverySource = "ssdp"
	SourceSamsung DiscoverySource = "samsung_rest"
	SourceLG      DiscoverySource = "lg_rest"
	SourceRoku    DiscoverySource = "roku_ecp"
	SourceHisense DiscoverySource = "hisense_tcp"
)

// DiscoveredDevice is an unconfirmed TV sighting from one discovery session.
type DiscoveredDevice struct {
	Name     string          `json:"name" example:"Living Room Roku"`
	Address  string          `json:"ip_address" example:"192.168.1.50"`
	Brand    Brand           `json:"brand" example:"roku"`
	Platform Platform        `json:"platform" example:"roku"`
	Model    string          `json:"model,omitempty"`
	USN      string          `json:"usn,omitempty"`
	Source   DiscoverySource `json:"source" example:"ssdp"`
}

// ToTVDevice promotes a sighting to a savable device. Brand keywords in the
// advertised name take precedence over the discovery-time guess.
func (d DiscoveredDevice) ToTVDevice() TVDevice {
	brand, platform := d.Brand, d.Platform

	name := strings.ToLower(d.Name)
	switch {
	case strings.Contains(name, "samsung"):
		brand, platform = BrandSamsung, PlatformTizen
	case strings.Contains(name, "lg"):
		brand, platform = BrandLG, PlatformWebOS
	case strings.Contains(name, "roku"):
		brand, platform = BrandRoku, PlatformRoku
	case strings.Contains(name, "hisense"):
		brand, platform = BrandHisense, PlatformVIDAA
	}

	dev := NewTVDevice(d.Name, d.Address, brand, platform)
	dev.Model = d.Model
	return dev
}
