// Package connector implements the per-brand TV control protocols behind a
// single lifecycle contract. Errors never cross the Connector boundary:
// outcomes are reported as booleans and state transitions.
package connector

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// ErrCancelled marks a handshake ended by Disconnect or CancelPairing
// rather than by the TV or the network.
var ErrCancelled = errors.New("connector: cancelled")

// Connector drives one TV's handshake and forwards button presses to it.
//
// State changes are delivered to the single OnStateChange listener in the
// order they occur. The listener runs synchronously and must not call back
// into the connector's mutating methods.
type Connector interface {
	Platform() models.Platform

	// Connect runs the handshake to completion or failure. Safe to call
	// again after Disconnect; a new call abandons any attempt in flight.
	Connect(ctx context.Context, device models.TVDevice) bool

	// Disconnect is idempotent. It cancels any handshake, releases the
	// transport and returns the connector to idle.
	Disconnect()

	// SendCommand is fire-and-forget and does nothing unless connected.
	SendCommand(button models.RemoteButton)

	// SubmitPIN answers an on-screen PIN prompt. Connectors without PIN
	// pairing return false immediately.
	SubmitPIN(ctx context.Context, pin string) bool
	SupportsPIN() bool

	// CancelPairing aborts a pending approval or PIN wait and returns to idle.
	CancelPairing()

	State() models.ConnectorState
	OnStateChange(fn func(models.ConnectorState))
}

// TokenHolder is implemented by connectors that receive a pairing credential
// from the TV. AuthToken returns the credential in effect after Connect.
type TokenHolder interface {
	AuthToken() string
}

// LongPresser is implemented by connectors that can hold a key down.
type LongPresser interface {
	SendLongPress(button models.RemoteButton)
}

// Config holds connector timing and identity settings.
type Config struct {
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ApprovalTimeout  time.Duration `mapstructure:"approval_timeout"`
	PINTimeout       time.Duration `mapstructure:"pin_timeout"`
	VerifyTimeout    time.Duration `mapstructure:"verify_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	LongPressDelay   time.Duration `mapstructure:"long_press_delay"`
	AppName          string        `mapstructure:"app_name"`
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ApprovalTimeout:  30 * time.Second,
		PINTimeout:       60 * time.Second,
		VerifyTimeout:    10 * time.Second,
		PingInterval:     30 * time.Second,
		LongPressDelay:   500 * time.Millisecond,
		AppName:          "SmartRemote",
	}
}

// Factory builds a fresh connector.
type Factory func(cfg Config, logger *zap.Logger) Connector

// Factories is the platform dispatch table. Platforms missing from it get
// a Noop connector.
var Factories = map[models.Platform]Factory{
	models.PlatformTizen:     func(c Config, l *zap.Logger) Connector { return NewSamsung(c, l) },
	models.PlatformWebOS:     func(c Config, l *zap.Logger) Connector { return NewLG(c, l) },
	models.PlatformAndroidTV: func(c Config, l *zap.Logger) Connector { return NewAndroidTV(c, l) },
	models.PlatformRoku:      func(c Config, l *zap.Logger) Connector { return NewRoku(c, l) },
	models.PlatformVIDAA:     func(c Config, l *zap.Logger) Connector { return NewHisense(c, l) },
}

// New returns a connector for platform p.
func New(p models.Platform, cfg Config, logger *zap.Logger) Connector {
	if f, ok := Factories[p]; ok {
		return f(cfg, logger)
	}
	return NewNoop(logger)
}
