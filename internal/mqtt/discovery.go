//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"wol-go-home/internal/hostdir"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/button/wol_aabbccddeeff/wake/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	Name         string     `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	Device            haDevice `json:"device"`
}

// pressPayload is what the wake button sends.
const pressPayload = "PRESS"

// hostDisplayName returns a display name for the host.
func hostDisplayName(h hostdir.HostRecord) string {
	if label := h.Label(); label != "?" {
		return label
	}
	return h.MAC
}

// hostIdentifier returns the unique identifier for the HA device registry.
func hostIdentifier(mac string) string {
	return "wol_" + hostdir.CompactMAC(mac)
}

// hostTopic returns the per-host topic root.
func hostTopic(prefix, mac string) string {
	return prefix + "/" + hostdir.CompactMAC(mac)
}

// commandTopic is where the wake button publishes.
func commandTopic(prefix, mac string) string {
	return hostTopic(prefix, mac) + "/wake"
}

// parseCommandTopic extracts the MAC from "<prefix>/<compact>/wake".
func parseCommandTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	compact, ok := strings.CutSuffix(rest, "/wake")
	if !ok || strings.Contains(compact, "/") {
		return "", false
	}
	mac, err := hostdir.ExpandMAC(compact)
	if err != nil {
		return "", false
	}
	return mac, true
}

// buildDiscovery generates HA discovery messages for a host: a wake button
// and a diagnostic sensor with the last wake result. Hosts without a valid
// MAC get nothing.
func buildDiscovery(h hostdir.HostRecord, prefix string) []discoveryMsg {
	if !hostdir.ValidMAC(h.MAC) {
		return nil
	}

	avail := prefix + "/bridge/state"
	nodeID := hostIdentifier(h.MAC)
	displayName := hostDisplayName(h)

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Connections: [][]string{{"mac", strings.ToLower(h.MAC)}},
		Model:       "Wake-on-LAN target",
		Name:        displayName,
	}

	return []discoveryMsg{
		buildButton(nodeID, displayName, avail, haDev, commandTopic(prefix, h.MAC)),
		buildSensor(nodeID, displayName, avail, haDev, hostTopic(prefix, h.MAC),
			"last_wake", "Last wake", "timestamp", "{{ value_json.time }}"),
		buildSensor(nodeID, displayName, avail, haDev, hostTopic(prefix, h.MAC),
			"wake_result", "Wake result", "", "{{ value_json.result }}"),
	}
}

func buildButton(nodeID, displayName, avail string, haDev haDevice, cmdTopic string) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/button/%s/wake/config", nodeID)
	payload := haDiscovery{
		Name:              displayName + " Wake",
		UniqueID:          nodeID + "_wake",
		CommandTopic:      cmdTopic,
		PayloadPress:      pressPayload,
		AvailabilityTopic: avail,
		Icon:              "mdi:power",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildSensor(nodeID, displayName, avail string, haDev haDevice, stateTopic,
	objectID, suffix, deviceClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		DeviceClass:       deviceClass,
		EntityCategory:    "diagnostic",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages to remove a host from HA.
func buildRemoveDiscovery(mac string) []discoveryMsg {
	nodeID := hostIdentifier(mac)

	components := []struct{ comp, obj string }{
		{"button", "wake"},
		{"sensor", "last_wake"},
		{"sensor", "wake_result"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
