package mqtt

import "strings"

// TopicPrefix is the base for every topic the bridge publishes.
const TopicPrefix = "actionbridge"

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Sensor("zigbee2mqtt", "0x00158d0001a2b3c4")
//	// Returns: "zigbee2mqtt/0x00158d0001a2b3c4"
type Topics struct{}

// Status returns the retained online/offline topic for a client.
//
// Example: actionbridge/status/actionbridge
func (Topics) Status(clientID string) string {
	if clientID == "" {
		return TopicPrefix + "/status"
	}
	return TopicPrefix + "/status/" + clientID
}

// Outcome returns the topic a finished device command is reported on.
//
// Example: actionbridge/outcome/bike_stand_floods
func (Topics) Outcome(device string) string {
	return TopicPrefix + "/outcome/" + device
}

// Sensor returns the topic a zigbee2mqtt-style gateway publishes a device's
// reports on: <prefix>/<device-address-token>.
func (Topics) Sensor(prefix, address string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return address
	}
	return prefix + "/" + address
}
