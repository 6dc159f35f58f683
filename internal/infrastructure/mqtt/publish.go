package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds outbound payloads. Outcome reports are a few hundred
// bytes; anything near this limit is a bug upstream.
const maxPayloadSize = 64 << 10

// Publish sends payload to topic and waits for the broker to accept it
// (QoS 1/2) or for the write to complete (QoS 0).
//
// Returns:
//   - error: ErrBadRequest, ErrNotConnected, or ErrPublishFailed (wrapped)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos, true); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// checkTopic validates a topic and QoS before they reach paho, which would
// otherwise fail late or not at all.
func checkTopic(topic string, qos byte, publish bool) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty topic", ErrBadRequest)
	case qos > maxQoS:
		return fmt.Errorf("%w: qos %d", ErrBadRequest, qos)
	case publish && strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrBadRequest, topic)
	}
	return nil
}

// await blocks on a paho token for at most operationTimeout and maps the
// result onto sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: no acknowledgement within %v", sentinel, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
