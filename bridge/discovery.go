// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package bridge

import (
	"encoding/json"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/select/hdmi_matrix/zone_1/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery. All entities share one
// device entry so HA groups them under the matrix.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload covering the select and
// switch entities the bridge publishes.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	Options           []string `json:"options,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// topicName sanitizes an entity name for use as an MQTT topic segment:
// lowercase, only [a-z0-9_-].
func topicName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// matrixDevice builds the shared HA device block.
func matrixDevice(host string) haDevice {
	return haDevice{
		Identifiers:  []string{"hdmi_matrix_" + topicName(host)},
		Manufacturer: "NoHassle AV",
		Model:        "8x8 HDMI Matrix",
		Name:         "HDMI Matrix",
	}
}

// buildZoneDiscovery generates the select-entity discovery message for one
// zone. Options are the configured source names; selecting one routes the
// zone.
func buildZoneDiscovery(discoveryPrefix, prefix, host, zoneName string, sources []string) discoveryMsg {
	zone := topicName(zoneName)
	nodeID := "hdmi_matrix_" + topicName(host)

	payload := haDiscovery{
		Name:              zoneName,
		UniqueID:          nodeID + "_" + zone,
		StateTopic:        prefix + "/" + zone,
		CommandTopic:      prefix + "/" + zone + "/set",
		AvailabilityTopic: prefix + "/bridge/state",
		Options:           sources,
		Icon:              "mdi:video-switch",
		Device:            matrixDevice(host),
	}

	return discoveryMsg{
		Topic:   discoveryPrefix + "/select/" + nodeID + "/" + zone + "/config",
		Payload: mustJSON(payload),
	}
}

// buildPowerDiscovery generates the switch-entity discovery message for the
// matrix global power state.
func buildPowerDiscovery(discoveryPrefix, prefix, host string) discoveryMsg {
	nodeID := "hdmi_matrix_" + topicName(host)

	payload := haDiscovery{
		Name:              "HDMI Matrix Power",
		UniqueID:          nodeID + "_power",
		StateTopic:        prefix + "/power",
		CommandTopic:      prefix + "/power/set",
		AvailabilityTopic: prefix + "/bridge/state",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Icon:              "mdi:power",
		Device:            matrixDevice(host),
	}

	return discoveryMsg{
		Topic:   discoveryPrefix + "/switch/" + nodeID + "/power/config",
		Payload: mustJSON(payload),
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
