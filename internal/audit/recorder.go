package audit

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
)

const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes every dispatcher outcome to the command log.
// It implements dispatch.Recorder.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder over repo. A nil logger discards warnings.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// RecordOutcome inserts the outcome. Write failures are logged, never
// returned, so a full disk does not stop device commands.
func (r *Recorder) RecordOutcome(ctx context.Context, o dispatch.Outcome) {
	// Detached from the job context so a cancelled job is still recorded.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Create(writeCtx, FromOutcome(o)); err != nil {
		r.logger.Warn("failed to write command log", "job_id", o.Job.ID, "error", err)
	}
}
