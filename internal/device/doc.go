// Package device holds the static device registry and the controller that
// switches registered lighting devices on and off.
//
// The registry maps a human-readable name (e.g. "bike_stand_floods") to the
// device's local id, network address and local key. It is built once from
// configuration and is read-only afterwards.
//
// The controller resolves a name, opens a short-lived connection through a
// Connector, sends the command sequence and closes the connection:
//
//	ctrl := device.NewController(registry, connector)
//	err := ctrl.SetDeviceState(ctx, "bike_stand_floods", true)
//	switch {
//	case errors.Is(err, device.ErrUnknownDevice):
//	case errors.Is(err, device.ErrDevice):
//	}
package device
