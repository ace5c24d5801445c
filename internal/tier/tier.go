// Package tier models the entitlement collaborator: which service tier the
// user is on and what that tier unlocks.
package tier

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Tier is a service tier.
type Tier string

const (
	Free    Tier = "free"
	Premium Tier = "premium"
)

// ParseTier maps a configured tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case Free, Premium:
		return t, nil
	case "":
		return Free, nil
	default:
		return "", fmt.Errorf("unknown tier %q: must be \"free\" or \"premium\"", s)
	}
}

// Config holds the tier configuration.
type Config struct {
	Name            string `mapstructure:"name"`
	FreeDeviceLimit int    `mapstructure:"free_device_limit"`
}

// DefaultConfig returns the free tier with a single saved device.
func DefaultConfig() Config {
	return Config{Name: string(Free), FreeDeviceLimit: 1}
}

// Entitlement answers "is the user entitled" for the device cap and for
// premium buttons. It is safe for concurrent use.
type Entitlement struct {
	entitled  atomic.Bool
	freeLimit int
}

// New builds an Entitlement from cfg.
func New(cfg Config) (*Entitlement, error) {
	t, err := ParseTier(cfg.Name)
	if err != nil {
		return nil, err
	}
	limit := cfg.FreeDeviceLimit
	if limit < 1 {
		limit = 1
	}
	e := &Entitlement{freeLimit: limit}
	e.entitled.Store(t == Premium)
	return e, nil
}

// IsEntitled reports whether the user has unlimited access.
func (e *Entitlement) IsEntitled() bool {
	return e.entitled.Load()
}

// SetEntitled flips entitlement, e.g. after a purchase is restored.
func (e *Entitlement) SetEntitled(v bool) {
	e.entitled.Store(v)
}

// Tier returns the current tier.
func (e *Entitlement) Tier() Tier {
	if e.IsEntitled() {
		return Premium
	}
	return Free
}

// FreeDeviceLimit is the saved-device cap that applies when not entitled.
func (e *Entitlement) FreeDeviceLimit() int {
	return e.freeLimit
}

// Static is a fixed entitlement answer, handy in tests.
type Static bool

func (s Static) IsEntitled() bool { return bool(s) }
