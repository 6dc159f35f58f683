package device

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

// fakeConnector records every call made against the bulbs it hands out.
type fakeConnector struct {
	mu         sync.Mutex
	calls      []string
	connectErr error
	onErr      error
	whiteErr   error
	offErr     error
	closed     int
}

func (f *fakeConnector) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeConnector) Connect(_ context.Context, e Entry) (Bulb, error) {
	f.record("connect " + e.Address + " " + e.LocalKey)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeBulb{f: f}, nil
}

type fakeBulb struct{ f *fakeConnector }

func (b *fakeBulb) TurnOn(context.Context) error {
	b.f.record("turnOn")
	return b.f.onErr
}

func (b *fakeBulb) SetWhite(context.Context) error {
	b.f.record("setWhite")
	return b.f.whiteErr
}

func (b *fakeBulb) TurnOff(context.Context) error {
	b.f.record("turnOff")
	return b.f.offErr
}

func (b *fakeBulb) Close() error {
	b.f.mu.Lock()
	b.f.closed++
	b.f.mu.Unlock()
	return nil
}

// recordingLogger captures Info messages.
type recordingLogger struct {
	noopLogger
	mu   sync.Mutex
	info []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info = append(l.info, msg)
}

func newTestController(t *testing.T, conn *fakeConnector) *Controller {
	t.Helper()
	reg, err := NewRegistry(testEntries())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return NewController(reg, conn)
}

func TestSetDeviceState_On(t *testing.T) {
	conn := &fakeConnector{}
	ctrl := newTestController(t, conn)
	logger := &recordingLogger{}
	ctrl.SetLogger(logger)

	if err := ctrl.SetDeviceState(context.Background(), "bike_stand_floods", true); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}

	want := []string{"connect 10.0.0.5 KEY1", "turnOn", "setWhite"}
	if !reflect.DeepEqual(conn.calls, want) {
		t.Errorf("calls = %v, want %v", conn.calls, want)
	}
	if conn.closed != 1 {
		t.Errorf("closed = %d, want 1", conn.closed)
	}

	wantLog := []string{"sending on request to bike_stand_floods...", "on request to bike_stand_floods done."}
	if !reflect.DeepEqual(logger.info, wantLog) {
		t.Errorf("log = %v, want %v", logger.info, wantLog)
	}
}

func TestSetDeviceState_Off(t *testing.T) {
	conn := &fakeConnector{}
	ctrl := newTestController(t, conn)

	if err := ctrl.SetDeviceState(context.Background(), "bike_stand_floods", false); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}

	want := []string{"connect 10.0.0.5 KEY1", "turnOff"}
	if !reflect.DeepEqual(conn.calls, want) {
		t.Errorf("calls = %v, want %v", conn.calls, want)
	}
	if conn.closed != 1 {
		t.Errorf("closed = %d, want 1", conn.closed)
	}
}

func TestSetDeviceState_UnknownDevice(t *testing.T) {
	conn := &fakeConnector{}
	ctrl := newTestController(t, conn)

	err := ctrl.SetDeviceState(context.Background(), "garage", true)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("SetDeviceState() error = %v, want ErrUnknownDevice", err)
	}
	if len(conn.calls) != 0 {
		t.Errorf("calls = %v, want none", conn.calls)
	}
}

func TestSetDeviceState_Failures(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name       string
		conn       *fakeConnector
		on         bool
		wantCalls  []string
		wantClosed int
	}{
		{
			name:      "connect fails",
			conn:      &fakeConnector{connectErr: cause},
			on:        true,
			wantCalls: []string{"connect 10.0.0.5 KEY1"},
		},
		{
			name:       "turn on fails skips set white",
			conn:       &fakeConnector{onErr: cause},
			on:         true,
			wantCalls:  []string{"connect 10.0.0.5 KEY1", "turnOn"},
			wantClosed: 1,
		},
		{
			name:       "set white fails",
			conn:       &fakeConnector{whiteErr: cause},
			on:         true,
			wantCalls:  []string{"connect 10.0.0.5 KEY1", "turnOn", "setWhite"},
			wantClosed: 1,
		},
		{
			name:       "turn off fails",
			conn:       &fakeConnector{offErr: cause},
			on:         false,
			wantCalls:  []string{"connect 10.0.0.5 KEY1", "turnOff"},
			wantClosed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newTestController(t, tt.conn)

			err := ctrl.SetDeviceState(context.Background(), "bike_stand_floods", tt.on)
			if !errors.Is(err, ErrDevice) {
				t.Errorf("error = %v, want ErrDevice", err)
			}
			if !errors.Is(err, cause) {
				t.Errorf("error = %v, want it to wrap the cause", err)
			}
			if !reflect.DeepEqual(tt.conn.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", tt.conn.calls, tt.wantCalls)
			}
			if tt.conn.closed != tt.wantClosed {
				t.Errorf("closed = %d, want %d", tt.conn.closed, tt.wantClosed)
			}
		})
	}
}

