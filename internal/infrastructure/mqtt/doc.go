// Package mqtt is the action bridge's broker connection.
//
// It covers:
//   - Connecting with paho auto-reconnect
//   - Subscriptions that survive reconnects (and may be registered while offline)
//   - Bounded publishing of status and command outcomes
//   - A retained online/offline status backed by a Last Will
//
// # Topics
//
// A zigbee2mqtt gateway publishes each sensor report as JSON on
// <prefix>/<device-address>. The bridge subscribes to one such topic and
// turns "on"/"off" actions into device commands. Its own topics live under
// actionbridge/:
//
//	actionbridge/status/<client_id>   retained StatusMessage
//	actionbridge/outcome/<device>     one OutcomeMessage per finished command
//
// # Usage
//
//	client, err := mqtt.ConnectWithLogger(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("zigbee2mqtt/0x00158d0001a2b3c4", 0,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
