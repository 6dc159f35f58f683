package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/gray-logic-actionbridge/internal/device"
)

// Job sources.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
)

// Outcome labels returned by Outcome.Result.
const (
	ResultSuccess       = "success"
	ResultUnknownDevice = "unknown_device"
	ResultDeviceError   = "device_error"
	ResultBreakerOpen   = "breaker_open"
	ResultPanic         = "panic"
)

// Job is a request to drive one device on or off. It is consumed exactly
// once by a worker and then discarded.
type Job struct {
	ID          string    `json:"id"`
	Device      string    `json:"device"`
	On          bool      `json:"on"`
	Source      string    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewJob creates a job with a fresh correlation ID.
func NewJob(deviceName string, on bool, source string) Job {
	return Job{
		ID:          uuid.NewString(),
		Device:      deviceName,
		On:          on,
		Source:      source,
		SubmittedAt: time.Now().UTC(),
	}
}

// Action returns "on" or "off".
func (j Job) Action() string {
	if j.On {
		return "on"
	}
	return "off"
}

// Outcome is what a worker observed while executing a job.
type Outcome struct {
	Job        Job
	Err        error
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the time the worker spent on the job.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Result classifies the outcome for logs, metrics and the command log.
func (o Outcome) Result() string {
	switch {
	case o.Err == nil:
		return ResultSuccess
	case errors.Is(o.Err, device.ErrUnknownDevice):
		return ResultUnknownDevice
	case errors.Is(o.Err, gobreaker.ErrOpenState), errors.Is(o.Err, gobreaker.ErrTooManyRequests):
		return ResultBreakerOpen
	case errors.Is(o.Err, ErrJobPanicked):
		return ResultPanic
	default:
		return ResultDeviceError
	}
}

// Recorder receives every finished job. Implementations must not block for
// long because they run on the worker that executed the job.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, o Outcome)

// RecordOutcome calls f(ctx, o).
func (f RecorderFunc) RecordOutcome(ctx context.Context, o Outcome) {
	f(ctx, o)
}
