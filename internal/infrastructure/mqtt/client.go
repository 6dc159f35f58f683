package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler processes one inbound message. It runs on paho's delivery
// goroutine and must return quickly. A returned error is logged at warn
// level and never affects later deliveries.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is the bridge's broker connection.
//
// paho owns reconnection. Client adds subscription tracking (re-sent after
// every reconnect), a retained online/offline status with an LWT, and
// handler isolation so one bad message cannot stop delivery.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// mu guards logger and the connection hooks.
	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Connect opens the broker connection without a logger.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return ConnectWithLogger(cfg, nil)
}

// ConnectWithLogger opens the broker connection with logger installed
// before the first connection event.
//
// The first attempt must succeed within the connect timeout; after that,
// paho reconnects on its own with capped backoff.
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed (wrapped) on timeout or broker refusal
func ConnectWithLogger(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		logger:        logger,
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.getLogger(); l != nil {
			l.Info("mqtt reconnecting", "broker", brokerURL(cfg.Broker))
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// Stop paho's background connect retry.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s unreachable after %v", ErrConnectionFailed, brokerURL(cfg.Broker), defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	if l := c.getLogger(); l != nil {
		l.Info("mqtt connected", "broker", brokerURL(c.cfg.Broker), "subscriptions", c.SubscriptionCount())
	}

	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")

	c.mu.RLock()
	hook := c.onConnect
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	if l := c.getLogger(); l != nil {
		l.Warn("mqtt connection lost", "error", err)
	}

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// restoreSubscriptions re-sends every tracked subscription. Failures are
// logged; paho retries on the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		token := c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
		go func(topic string) {
			if err := await(token, ErrSubscribeFailed); err != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt resubscribe failed", "topic", topic, "error", err)
				}
			}
		}(s.topic)
	}
}

// publishStatus sends the retained bridge status without waiting for the
// broker; it runs inside paho callbacks where blocking is not allowed.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload := statusPayload(c.cfg.Broker.ClientID, status, reason)
	return c.client.Publish(Topics{}.Status(c.cfg.Broker.ClientID), byte(c.cfg.QoS), true, payload)
}

// Close publishes a graceful offline status, distinct from the LWT, and
// disconnects after a short quiesce period.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonShutdown).WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker connection is currently up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect installs a hook run after every successful (re)connect,
// once tracked subscriptions have been re-sent.
func (c *Client) SetOnConnect(hook func()) {
	c.mu.Lock()
	c.onConnect = hook
	c.mu.Unlock()
}

// SetOnDisconnect installs a hook run when the connection is lost.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.mu.Lock()
	c.onDisconnect = hook
	c.mu.Unlock()
}

// SetLogger replaces the logger. With no logger, handler errors are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts handler to paho, logging its errors and containing its
// panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
