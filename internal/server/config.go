package server

import "fmt"

// Config holds the HTTP server configuration.
type Config struct {
	Host           string     `mapstructure:"host"`
	Port           int        `mapstructure:"port"`
	ReadOnly       bool       `mapstructure:"read_only"`
	RateLimit      float64    `mapstructure:"rate_limit"`
	RateBurst      int        `mapstructure:"rate_burst"`
	PairingRate    RateConfig `mapstructure:"pairing_rate"`
	CommandRate    RateConfig `mapstructure:"command_rate"`
	StreamRate     RateConfig `mapstructure:"stream_rate"`
	AllowedOrigins []string   `mapstructure:"allowed_origins"`
}

// RateConfig is a token bucket: Limit requests per second, Burst at once.
type RateConfig struct {
	Limit float64 `mapstructure:"limit"`
	Burst int     `mapstructure:"burst"`
}

// DefaultConfig binds to loopback only.
func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        8765,
		RateLimit:   100,
		RateBurst:   200,
		PairingRate: RateConfig{Limit: 1, Burst: 5},
		CommandRate: RateConfig{Limit: 20, Burst: 40},
		StreamRate:  RateConfig{Limit: 1, Burst: 5},
	}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RatePolicies returns the per-route limits, most specific first. Button
// presses arrive in quick bursts; connect and PIN attempts are kept slow
// so a PIN cannot be guessed by brute force.
func (c *Config) RatePolicies() []RatePolicy {
	return []RatePolicy{
		{Name: "command", Prefixes: []string{"/api/v1/connection/command"}, Limit: c.CommandRate.Limit, Burst: c.CommandRate.Burst},
		{Name: "pairing", Prefixes: []string{"/api/v1/connection/connect", "/api/v1/connection/pin"}, Limit: c.PairingRate.Limit, Burst: c.PairingRate.Burst},
		{Name: "stream", Prefixes: []string{"/ws"}, Limit: c.StreamRate.Limit, Burst: c.StreamRate.Burst},
		{Name: "api", Prefixes: []string{"/"}, Limit: c.RateLimit, Burst: c.RateBurst},
	}
}
