// Package listener turns zigbee2mqtt sensor events into device jobs.
//
// The Listener subscribes to a single sensor topic. Each message carrying
// an "action" of "on" or "off" becomes one dispatch.Job for the configured
// target device. Every other payload is logged and ignored.
//
// Messages are delivered on the MQTT client's goroutine, so OnMessage does
// nothing slower than enqueueing.
//
// Usage:
//
//	l := listener.New(pool, listener.OptionsFromConfig(cfg))
//	if err := l.OnConnect(subscriber); err != nil {
//	    return err
//	}
//
// OnConnect is called once. The MQTT client re-sends the subscription after
// every reconnect.
package listener
