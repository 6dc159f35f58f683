package device

import (
	"context"
	"fmt"
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bulb is an open connection to a lighting device.
type Bulb interface {
	TurnOn(ctx context.Context) error
	SetWhite(ctx context.Context) error
	TurnOff(ctx context.Context) error
	Close() error
}

// Connector opens a connection to the device described by entry.
// It is satisfied by an adapter over the tuya client in main.go.
type Connector interface {
	Connect(ctx context.Context, entry Entry) (Bulb, error)
}

// Controller turns named devices on and off.
//
// Each call opens its own short-lived connection and closes it before
// returning, so concurrent calls never share device state.
type Controller struct {
	registry  *Registry
	connector Connector
	logger    Logger
}

// NewController creates a controller over a registry and device connector.
func NewController(registry *Registry, connector Connector) *Controller {
	return &Controller{
		registry:  registry,
		connector: connector,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetDeviceState drives the named device on or off.
//
// Switching on sends TurnOn followed by SetWhite (power on at full white
// output). Switching off sends TurnOff only. There is no retry.
//
// Returns:
//   - error: ErrUnknownDevice if name is not registered (no connection is
//     attempted), ErrDevice wrapping the cause for any connect or command failure
func (c *Controller) SetDeviceState(ctx context.Context, name string, on bool) error {
	entry, err := c.registry.Lookup(name)
	if err != nil {
		return err
	}

	verb := "off"
	if on {
		verb = "on"
	}
	c.logger.Info(fmt.Sprintf("sending %s request to %s...", verb, name), "device", name, "address", entry.Address)

	bulb, err := c.connector.Connect(ctx, entry)
	if err != nil {
		return fmt.Errorf("%w: %s: connect: %w", ErrDevice, name, err)
	}
	defer func() {
		if cerr := bulb.Close(); cerr != nil {
			c.logger.Debug("device connection close failed", "device", name, "error", cerr)
		}
	}()

	if on {
		if err := bulb.TurnOn(ctx); err != nil {
			return fmt.Errorf("%w: %s: turn on: %w", ErrDevice, name, err)
		}
		if err := bulb.SetWhite(ctx); err != nil {
			return fmt.Errorf("%w: %s: set white: %w", ErrDevice, name, err)
		}
	} else {
		if err := bulb.TurnOff(ctx); err != nil {
			return fmt.Errorf("%w: %s: turn off: %w", ErrDevice, name, err)
		}
	}

	c.logger.Info(fmt.Sprintf("%s request to %s done.", verb, name), "device", name)
	return nil
}
