package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownDevice) {
//	    // name is not in the registry
//	}
var (
	// ErrUnknownDevice is returned when a device name has no registry entry.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrDevice is returned when connecting to or commanding a device fails.
	// The underlying network or protocol error is wrapped alongside it.
	ErrDevice = errors.New("device: command failed")

	// ErrInvalidEntry is returned when a registry entry is incomplete.
	ErrInvalidEntry = errors.New("device: invalid registry entry")
)
