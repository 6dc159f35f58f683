package tuya

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Defaults for the local protocol.
const (
	DefaultPort    = 6668
	DefaultTimeout = 5 * time.Second

	// maxSkippedFrames bounds how many unrelated frames (heartbeats, status
	// pushes with another seq) are read while waiting for an acknowledgement.
	maxSkippedFrames = 4
)

// Credentials identify one device on the local network.
type Credentials struct {
	ID       string
	Address  string
	LocalKey string
	Version  string
	Port     int
}

// Client opens short-lived connections to devices. It holds no sockets
// itself and is safe for concurrent use.
type Client struct {
	timeout time.Duration
	now     func() time.Time
}

// NewClient creates a client whose dials and reads are bounded by timeout.
// A zero timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{timeout: timeout, now: time.Now}
}

// Dial opens a non-persistent connection to the device described by creds.
//
// The connection carries one or more commands and must be closed by the
// caller. The local key is validated before any socket is opened.
func (c *Client) Dial(ctx context.Context, creds Credentials) (*Conn, error) {
	version := creds.Version
	if version == "" {
		version = Version33
	}
	if version != Version33 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	if len(creds.LocalKey) != 16 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(creds.LocalKey))
	}
	if creds.Address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrConnectionFailed)
	}

	port := creds.Port
	if port == 0 {
		port = DefaultPort
	}
	address := net.JoinHostPort(creds.Address, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}

	return &Conn{
		conn:    conn,
		id:      creds.ID,
		key:     []byte(creds.LocalKey),
		timeout: c.timeout,
		now:     c.now,
	}, nil
}

// Conn is one open device connection.
type Conn struct {
	mu      sync.Mutex
	conn    net.Conn
	id      string
	key     []byte
	seq     uint32
	timeout time.Duration
	now     func() time.Time
	closed  bool
}

// SetDPS sends a CONTROL command setting the given data points and waits for
// the device to acknowledge it.
func (d *Conn) SetDPS(ctx context.Context, dps map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	payload, err := buildControlPayload(d.key, d.id, dps, d.now())
	if err != nil {
		return err
	}

	d.seq++
	frame := EncodeFrame(Frame{Seq: d.seq, Command: CommandControl, Payload: payload})

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionFailed, err)
	}

	if _, err := d.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}

	return d.awaitAck(ctx, d.seq)
}

// awaitAck reads until a CONTROL or STATUS reply carrying seq arrives.
// Heartbeats and pushes left over from an earlier command are skipped.
func (d *Conn) awaitAck(ctx context.Context, seq uint32) error {
	for range maxSkippedFrames {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrNoResponse, err)
		}

		raw, err := ReadFrame(d.conn)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrNoResponse, err)
			}
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}

		reply, err := DecodeFrame(raw, true)
		if err != nil {
			return err
		}
		if reply.Seq != seq || (reply.Command != CommandControl && reply.Command != CommandStatus) {
			continue
		}

		if reply.RetCode != 0 {
			body, _ := decodeResponsePayload(d.key, reply.Payload)
			return fmt.Errorf("%w: retcode %d: %s", ErrCommandFailed, reply.RetCode, body)
		}
		return nil
	}
	return fmt.Errorf("%w: no acknowledgement after %d frames", ErrNoResponse, maxSkippedFrames)
}

// Close releases the socket. It is safe to call more than once.
func (d *Conn) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}
