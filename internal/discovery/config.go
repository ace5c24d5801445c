package discovery

import "time"

// Config holds discovery session settings.
type Config struct {
	SessionTimeout     time.Duration `mapstructure:"session_timeout"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	DescriptionTimeout time.Duration `mapstructure:"description_timeout"`
	SSDPWait           time.Duration `mapstructure:"ssdp_wait"`
	Concurrency        int           `mapstructure:"concurrency"`
	ProbeRate          int           `mapstructure:"probe_rate"` // probes per second, 0 = unlimited
	Interface          string        `mapstructure:"interface"`
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:     15 * time.Second,
		ProbeTimeout:       2 * time.Second,
		DescriptionTimeout: 5 * time.Second,
		SSDPWait:           5 * time.Second,
		Concurrency:        128,
		ProbeRate:          500,
	}
}
