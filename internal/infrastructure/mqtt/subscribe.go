package mqtt

import "fmt"

// Subscribe registers handler for topic.
//
// The subscription is tracked and re-sent after every reconnect, so callers
// subscribe once. While the client is offline the subscription is only
// recorded; it reaches the broker on the next successful connect.
//
// Returns:
//   - error: ErrBadRequest for an empty topic, bad QoS or nil handler;
//     ErrSubscribeFailed (wrapped) when the broker rejects or ignores it
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos, false); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrBadRequest, topic)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if !c.IsConnected() {
		if l := c.getLogger(); l != nil {
			l.Warn("mqtt offline, subscription deferred until connect", "topic", topic)
		}
		return nil
	}

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe stops tracking topic and, when connected, tells the broker.
// Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if err := checkTopic(topic, 0, false); err != nil {
		return err
	}
	c.forget(topic)

	if !c.IsConnected() {
		return nil
	}
	return await(c.client.Unsubscribe(topic), ErrSubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic is tracked. Only exact topic strings
// match; wildcard patterns are not expanded.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
