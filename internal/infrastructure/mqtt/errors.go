package mqtt

import "errors"

// Errors returned by Client. Compare with errors.Is.
var (
	// ErrConnectionFailed means the broker could not be reached at startup.
	// Later connection loss is handled by paho's reconnect loop instead.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrNotConnected = errors.New("mqtt: not connected")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrBadRequest covers empty topics, wildcards in publish topics and
	// QoS levels above 2.
	ErrBadRequest = errors.New("mqtt: invalid topic or qos")
)
