package listener

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/metrics"
)

// DefaultDevice is the registry entry driven when Options.Device is empty.
const DefaultDevice = "bike_stand_floods"

// Sensor actions that produce jobs.
const (
	ActionOn  = "on"
	ActionOff = "off"
)

// Submitter accepts jobs without blocking. *dispatch.Pool satisfies it.
type Submitter interface {
	Submit(job dispatch.Job) error
}

// Subscriber registers a topic handler on the message bus.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// Logger defines the logging interface used by the Listener.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Listener.
type Options struct {
	Topic   string
	QoS     byte
	Device  string
	Logger  Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig builds listener options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Topic:  cfg.ListenerTopic(),
		QoS:    byte(cfg.Listener.QoS),
		Device: cfg.Listener.Device,
	}
}

// Listener maps sensor events to jobs.
type Listener struct {
	submitter Submitter
	topic     string
	qos       byte
	device    string
	logger    Logger
	metrics   *metrics.Metrics
}

// sensorEvent is the subset of a zigbee2mqtt payload the listener reads.
// Action stays raw so a non-string value is ignored rather than rejected.
type sensorEvent struct {
	Action json.RawMessage `json:"action"`
}

// New creates a listener that submits jobs to s.
func New(s Submitter, opts Options) *Listener {
	if opts.Device == "" {
		opts.Device = DefaultDevice
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Listener{
		submitter: s,
		topic:     opts.Topic,
		qos:       opts.QoS,
		device:    opts.Device,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Topic returns the subscribed sensor topic.
func (l *Listener) Topic() string {
	return l.topic
}

// OnConnect subscribes to the sensor topic. It is called after every
// successful broker connection.
func (l *Listener) OnConnect(sub Subscriber) error {
	if err := sub.Subscribe(l.topic, l.qos, l.OnMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.topic, err)
	}
	l.logger.Info("listening for sensor events", "topic", l.topic, "qos", l.qos, "device", l.device)
	return nil
}

// OnMessage handles one inbound message.
//
// Returns:
//   - error: ErrParse (wrapped) when the payload is not a JSON object, or the
//     submitter's error when the job could not be queued
func (l *Listener) OnMessage(topic string, payload []byte) error {
	l.logger.Info("sensor message received", "topic", topic, "payload", string(payload))

	if topic != l.topic {
		l.logger.Warn("ignoring message on unexpected topic", "topic", topic, "want", l.topic)
		l.metrics.ObserveEvent(metrics.EventIgnoredTopic)
		return nil
	}
	if len(payload) == 0 {
		l.metrics.ObserveEvent(metrics.EventIgnoredEmpty)
		return nil
	}

	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '{' {
		l.metrics.ObserveEvent(metrics.EventParseError)
		return fmt.Errorf("%w: not a JSON object", ErrParse)
	}

	var event sensorEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		l.metrics.ObserveEvent(metrics.EventParseError)
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	var on bool
	switch actionOf(event) {
	case ActionOn:
		on = true
	case ActionOff:
		on = false
	default:
		l.metrics.ObserveEvent(metrics.EventIgnoredAction)
		return nil
	}

	job := dispatch.NewJob(l.device, on, dispatch.SourceMQTT)
	if err := l.submitter.Submit(job); err != nil {
		l.metrics.ObserveEvent(metrics.EventSubmitFailed)
		return fmt.Errorf("submitting %s for %s: %w", job.Action(), l.device, err)
	}

	l.metrics.ObserveEvent(metrics.EventSubmitted)
	l.logger.Debug("job queued", "job_id", job.ID, "device", l.device, "action", job.Action())
	return nil
}

// actionOf returns the string action, or "" when it is absent or not a string.
func actionOf(e sensorEvent) string {
	if len(e.Action) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Action, &s); err != nil {
		return ""
	}
	return s
}
