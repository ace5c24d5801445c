// Package config loads tvremote configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: TVREMOTE_SERVER_PORT=9090.
const EnvPrefix = "TVREMOTE"

// SetDefaults registers every default key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("database.path", "./data/tvremote.db")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rate_limit", 100.0)
	v.SetDefault("server.rate_burst", 200)
	v.SetDefault("server.pairing_rate.limit", 1.0)
	v.SetDefault("server.pairing_rate.burst", 5)
	v.SetDefault("server.command_rate.limit", 20.0)
	v.SetDefault("server.command_rate.burst", 40)
	v.SetDefault("server.stream_rate.limit", 1.0)
	v.SetDefault("server.stream_rate.burst", 5)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("discovery.session_timeout", "15s")
	v.SetDefault("discovery.probe_timeout", "2s")
	v.SetDefault("discovery.description_timeout", "5s")
	v.SetDefault("discovery.ssdp_wait", "5s")
	v.SetDefault("discovery.concurrency", 128)
	v.SetDefault("discovery.probe_rate", 500)
	v.SetDefault("discovery.interface", "")

	v.SetDefault("reachability.timeout", "2s")
	v.SetDefault("reachability.count", 2)

	v.SetDefault("connector.dial_timeout", "5s")
	v.SetDefault("connector.handshake_timeout", "10s")
	v.SetDefault("connector.approval_timeout", "30s")
	v.SetDefault("connector.pin_timeout", "60s")
	v.SetDefault("connector.verify_timeout", "10s")
	v.SetDefault("connector.ping_interval", "30s")
	v.SetDefault("connector.long_press_delay", "500ms")
	v.SetDefault("connector.app_name", "SmartRemote")

	v.SetDefault("tier.name", "free")
	v.SetDefault("tier.free_device_limit", 1)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.topic_prefix", "tvremote")
	v.SetDefault("mqtt.client_id", "tvremote")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.timeout", "5s")
	v.SetDefault("mqtt.ha_discovery", false)
	v.SetDefault("mqtt.ha_discovery_prefix", "homeassistant")
}

// Load reads configuration from configPath, or from tvremote.yaml in the
// usual search paths when configPath is empty. A missing file is not an error.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tvremote")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.tvremote")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

// Section decodes the subtree at key into target. Keys absent from the
// subtree leave target's existing values untouched, so callers pass a
// DefaultConfig() value.
func Section(v *viper.Viper, key string, target any) error {
	if !v.IsSet(key) {
		return nil
	}
	if err := v.UnmarshalKey(key, target); err != nil {
		return fmt.Errorf("decode %s config: %w", key, err)
	}
	return nil
}
