package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
)

// Publisher sends one MQTT message. *Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// OutcomeMessage is the JSON published for each finished device command.
type OutcomeMessage struct {
	JobID      string    `json:"job_id"`
	Device     string    `json:"device"`
	Action     string    `json:"action"`
	Source     string    `json:"source"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewOutcomeMessage converts a dispatcher outcome to its wire form.
func NewOutcomeMessage(o dispatch.Outcome) OutcomeMessage {
	msg := OutcomeMessage{
		JobID:      o.Job.ID,
		Device:     o.Job.Device,
		Action:     o.Job.Action(),
		Source:     o.Job.Source,
		Result:     o.Result(),
		Attempts:   o.Attempts,
		DurationMS: o.Duration().Milliseconds(),
		Timestamp:  o.FinishedAt.UTC(),
	}
	if o.Err != nil {
		msg.Error = o.Err.Error()
	}
	return msg
}

// OutcomePublisher reports finished jobs on actionbridge/outcome/<device>.
// It implements dispatch.Recorder.
type OutcomePublisher struct {
	pub    Publisher
	logger Logger
}

// NewOutcomePublisher creates a recorder that publishes through pub.
// logger may be nil.
func NewOutcomePublisher(pub Publisher, logger Logger) *OutcomePublisher {
	return &OutcomePublisher{pub: pub, logger: logger}
}

// RecordOutcome publishes o at QoS 0, not retained. Failures are logged.
func (p *OutcomePublisher) RecordOutcome(_ context.Context, o dispatch.Outcome) {
	payload, err := json.Marshal(NewOutcomeMessage(o))
	if err != nil {
		if p.logger != nil {
			p.logger.Error("failed to encode command outcome", "job_id", o.Job.ID, "error", err)
		}
		return
	}

	topic := Topics{}.Outcome(o.Job.Device)
	if err := p.pub.Publish(topic, payload, 0, false); err != nil && p.logger != nil {
		p.logger.Warn("failed to publish command outcome", "topic", topic, "job_id", o.Job.ID, "error", err)
	}
}
