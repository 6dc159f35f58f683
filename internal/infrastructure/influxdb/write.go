package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
)

// MeasurementCommand is the measurement holding one point per finished job.
const MeasurementCommand = "device_command"

// WriteCommandOutcome writes one point describing a finished device job.
// The write is non-blocking; failures surface through SetOnError.
func (c *Client) WriteCommandOutcome(o dispatch.Outcome) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(outcomePoint(o))
}

// RecordOutcome implements dispatch.Recorder.
func (c *Client) RecordOutcome(_ context.Context, o dispatch.Outcome) {
	c.WriteCommandOutcome(o)
}

// outcomePoint builds the point for o. Tags stay low-cardinality; the job
// ID goes in a field.
func outcomePoint(o dispatch.Outcome) *write.Point {
	success := o.Err == nil
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"device": o.Job.Device,
			"action": o.Job.Action(),
			"source": o.Job.Source,
			"result": o.Result(),
		},
		map[string]interface{}{
			"job_id":      o.Job.ID,
			"success":     success,
			"attempts":    o.Attempts,
			"duration_ms": o.Duration().Milliseconds(),
		},
		o.FinishedAt,
	)
}
