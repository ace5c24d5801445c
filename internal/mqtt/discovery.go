package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/HerbHall/tvremote/pkg/models"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config (empty = remove)
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// BinarySensorConfig is the HA discovery payload for binary_sensor.
type BinarySensorConfig struct {
	Name        string   `json:"name"`
	ObjectID    string   `json:"object_id"`
	UniqueID    string   `json:"unique_id"`
	StateTopic  string   `json:"state_topic"`
	DeviceClass string   `json:"device_class,omitempty"`
	PayloadOn   string   `json:"payload_on"`
	PayloadOff  string   `json:"payload_off"`
	Device      HADevice `json:"device"`
	Icon        string   `json:"icon,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name       string   `json:"name"`
	ObjectID   string   `json:"object_id"`
	UniqueID   string   `json:"unique_id"`
	StateTopic string   `json:"state_topic"`
	Icon       string   `json:"icon,omitempty"`
	Device     HADevice `json:"device"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

func buildHADevice(device models.TVDevice) HADevice {
	name := device.Name
	if name == "" {
		name = device.Address
	}
	return HADevice{
		Identifiers:  []string{"tvremote_" + device.ID},
		Name:         name,
		Model:        device.Model,
		Manufacturer: device.Brand.DisplayName(),
		ViaDevice:    "tvremote",
	}
}

// BuildDeviceDiscoveryConfigs creates HA discovery payloads for a TV:
// a connected binary_sensor, a status sensor and an IP sensor.
func BuildDeviceDiscoveryConfigs(device models.TVDevice, topicPrefix, haPrefix string) []DiscoveryConfig {
	safeID := SafeObjectID(device.ID)
	haDevice := buildHADevice(device)
	stateBase := topicPrefix + "/device/" + device.ID

	entities := []struct {
		component string
		key       string
		cfg       any
	}{
		{"binary_sensor", "connected", BinarySensorConfig{
			Name:        haDevice.Name + " Connected",
			ObjectID:    "tvremote_" + safeID + "_connected",
			UniqueID:    "tvremote_" + safeID + "_connected",
			StateTopic:  stateBase + "/connected",
			DeviceClass: "connectivity",
			PayloadOn:   "ON",
			PayloadOff:  "OFF",
			Device:      haDevice,
			Icon:        PlatformIcon(device.Platform),
		}},
		{"sensor", "status", SensorConfig{
			Name:       haDevice.Name + " Status",
			ObjectID:   "tvremote_" + safeID + "_status",
			UniqueID:   "tvremote_" + safeID + "_status",
			StateTopic: stateBase + "/status",
			Icon:       "mdi:remote-tv",
			Device:     haDevice,
		}},
		{"sensor", "ip", SensorConfig{
			Name:       haDevice.Name + " IP",
			ObjectID:   "tvremote_" + safeID + "_ip",
			UniqueID:   "tvremote_" + safeID + "_ip",
			StateTopic: stateBase + "/ip",
			Icon:       "mdi:ip-network",
			Device:     haDevice,
		}},
	}

	configs := make([]DiscoveryConfig, 0, len(entities))
	for _, e := range entities {
		payload, err := json.Marshal(e.cfg)
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/%s/tvremote_%s/%s/config", haPrefix, e.component, safeID, e.key),
			Payload: payload,
		})
	}
	return configs
}

// BuildDeviceRemovalConfigs returns discovery configs with empty payloads.
// Publishing an empty payload to a discovery topic tells HA to remove the entity.
func BuildDeviceRemovalConfigs(deviceID, haPrefix string) []DiscoveryConfig {
	safeID := SafeObjectID(deviceID)
	return []DiscoveryConfig{
		{Topic: fmt.Sprintf("%s/binary_sensor/tvremote_%s/connected/config", haPrefix, safeID)},
		{Topic: fmt.Sprintf("%s/sensor/tvremote_%s/status/config", haPrefix, safeID)},
		{Topic: fmt.Sprintf("%s/sensor/tvremote_%s/ip/config", haPrefix, safeID)},
	}
}

// PlatformIcon maps a TV platform to a Material Design Icon string.
func PlatformIcon(p models.Platform) string {
	switch p {
	case models.PlatformTizen, models.PlatformWebOS, models.PlatformVIDAA:
		return "mdi:television"
	case models.PlatformAndroidTV:
		return "mdi:android"
	case models.PlatformRoku:
		return "mdi:cast"
	default:
		return "mdi:television-classic"
	}
}
