package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client writes command outcome points to InfluxDB v2. Points are batched
// by the library's non-blocking write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	open    atomic.Bool
	onError atomic.Pointer[func(error)]
}

// Connect builds a client from cfg and pings the server once.
//
// Returns ErrDisabled when cfg.Enabled is false and ErrConnectionFailed when
// the server does not answer healthy within the connect timeout.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{client: raw, writeAPI: raw.WriteAPI(cfg.Org, cfg.Bucket)}
	c.open.Store(true)

	go func(errs <-chan error) {
		for err := range errs {
			if fn := c.onError.Load(); fn != nil {
				(*fn)(fmt.Errorf("%w: %w", ErrWriteFailed, err))
			}
		}
	}(c.writeAPI.Errors())

	return c, nil
}

// writeOptions maps batch settings onto the library options, falling back
// for unset values. FlushInterval is configured in seconds.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, c influxdb2.Client) error {
	healthy, err := c.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("ping: server not healthy")
	}
	return nil
}

// Close flushes buffered points and releases the client. Safe to call
// more than once and on a nil *Client.
func (c *Client) Close() error {
	if c == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.open.Load()
}

// SetOnError installs the callback for asynchronous write failures. The
// errors it receives wrap ErrWriteFailed.
func (c *Client) SetOnError(fn func(err error)) {
	c.onError.Store(&fn)
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
