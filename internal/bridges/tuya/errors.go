package tuya

import "errors"

// Domain errors for the Tuya local protocol client.
var (
	// ErrConnectionFailed is returned when the device cannot be reached.
	ErrConnectionFailed = errors.New("tuya: connection failed")

	// ErrInvalidKey is returned when a local key is not 16 bytes long.
	ErrInvalidKey = errors.New("tuya: local key must be 16 bytes")

	// ErrUnsupportedVersion is returned for protocol versions other than 3.3.
	ErrUnsupportedVersion = errors.New("tuya: unsupported protocol version")

	// ErrInvalidFrame is returned when a frame is truncated or mis-framed.
	ErrInvalidFrame = errors.New("tuya: invalid frame")

	// ErrChecksum is returned when a frame's CRC does not match its contents.
	ErrChecksum = errors.New("tuya: checksum mismatch")

	// ErrDecrypt is returned when a payload cannot be decrypted.
	ErrDecrypt = errors.New("tuya: decrypt failed")

	// ErrNoResponse is returned when the device does not answer in time.
	ErrNoResponse = errors.New("tuya: no response from device")

	// ErrCommandFailed is returned when the device rejects a command.
	ErrCommandFailed = errors.New("tuya: command rejected")

	// ErrClosed is returned when a closed connection is used.
	ErrClosed = errors.New("tuya: connection closed")
)
