package mqtt

import "time"

// Config holds MQTT sink configuration.
type Config struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Home Assistant MQTT auto-discovery settings.
	HADiscovery       bool   `mapstructure:"ha_discovery"`        // Enable HA auto-discovery (default: false)
	HADiscoveryPrefix string `mapstructure:"ha_discovery_prefix"` // HA discovery topic prefix (default: "homeassistant")
}

// DefaultConfig returns defaults for the MQTT sink. An empty broker URL
// disables it.
func DefaultConfig() Config {
	return Config{
		BrokerURL:         "",
		ClientID:          "tvremote",
		TopicPrefix:       "tvremote",
		QoS:               0,
		Timeout:           5 * time.Second,
		HADiscoveryPrefix: "homeassistant",
	}
}
