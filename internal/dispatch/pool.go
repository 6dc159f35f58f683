package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/gray-logic-actionbridge/internal/device"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/metrics"
)

// DefaultWorkers is the pool size used when Options.Workers is zero.
const DefaultWorkers = 32

// Executor performs a device command. *device.Controller satisfies it.
type Executor interface {
	SetDeviceState(ctx context.Context, name string, on bool) error
}

// Logger defines the logging interface used by the Pool.
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

// RetryPolicy controls re-attempts of failed device commands.
// MaxRetries of zero means one attempt per job.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// BreakerPolicy controls the per-device circuit breaker.
type BreakerPolicy struct {
	Enabled             bool
	ConsecutiveFailures int
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// Options configures a Pool.
type Options struct {
	Workers    int
	JobTimeout time.Duration
	Retry      RetryPolicy
	Breaker    BreakerPolicy
	Logger     Logger
	Metrics    *metrics.Metrics
	Recorders  []Recorder
}

// OptionsFromConfig maps the dispatcher config section to pool options.
func OptionsFromConfig(cfg config.DispatcherConfig) Options {
	return Options{
		Workers:    cfg.Workers,
		JobTimeout: cfg.GetJobTimeout(),
		Retry: RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: time.Duration(cfg.Retry.InitialInterval) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Retry.MaxInterval) * time.Millisecond,
		},
		Breaker: BreakerPolicy{
			Enabled:             cfg.Breaker.Enabled,
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
			Interval:            time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
		},
	}
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Pool runs device commands on a pond worker pool of fixed size with an
// unbounded queue.
//
// Submit never blocks. At most Workers jobs execute at once. A failing or
// panicking job is logged and recorded; it never reaches the submitter or
// other jobs.
//
// Thread Safety:
//   - Submit, Stats and Stop are safe for concurrent use.
type Pool struct {
	exec    Executor
	size    int
	timeout time.Duration
	retry   RetryPolicy
	breaker BreakerPolicy
	logger  Logger
	metrics *metrics.Metrics

	recorders []Recorder

	// mu guards everything below it and every queue depth update.
	mu       sync.Mutex
	workers  pond.Pool
	pending  []Job // submitted before Start
	queued   int
	stopping bool
	runCtx   context.Context
	cancel   context.CancelFunc

	breakers   map[string]*gobreaker.CircuitBreaker
	breakersMu sync.Mutex

	inFlight  atomic.Int64
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a pool. Workers are not started until Start is called; jobs
// submitted before then are held and handed over by Start.
func New(exec Executor, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Pool{
		exec:      exec,
		size:      opts.Workers,
		timeout:   opts.JobTimeout,
		retry:     opts.Retry,
		breaker:   opts.Breaker,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		recorders: opts.Recorders,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// AddRecorder registers an outcome recorder. It must be called before Start.
func (p *Pool) AddRecorder(r Recorder) {
	p.recorders = append(p.recorders, r)
}

// Start launches the workers. Job contexts derive from ctx, so cancelling it
// aborts in-flight device commands. Callers that want Stop to decide when
// running jobs are cut off pass context.WithoutCancel of their signal
// context.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workers != nil || p.stopping {
		return
	}

	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.workers = pond.NewPool(p.size)

	for _, job := range p.pending {
		p.workers.Submit(p.task(p.runCtx, job))
	}
	p.pending = nil

	p.logger.Info("dispatcher started", "workers", p.size)
}

// Submit enqueues a job and returns immediately.
//
// Returns:
//   - error: ErrPoolStopped once Stop has been called
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if p.workers == nil {
		p.pending = append(p.pending, job)
	} else {
		p.workers.Submit(p.task(p.runCtx, job))
	}
	p.queued++
	p.metrics.SetQueueDepth(p.queued)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.metrics.JobSubmitted(job.Source)

	p.logger.Debug("job submitted",
		"job_id", job.ID,
		"device", job.Device,
		"action", job.Action(),
		"source", job.Source,
	)
	return nil
}

// task wraps job for the worker pool. A job dequeued after Stop is counted
// as dropped instead of run.
func (p *Pool) task(ctx context.Context, job Job) func() {
	return func() {
		p.mu.Lock()
		p.queued--
		p.metrics.SetQueueDepth(p.queued)
		stopping := p.stopping
		p.mu.Unlock()

		if stopping {
			p.dropped.Add(1)
			return
		}
		p.run(ctx, job)
	}
}

// Stop refuses further submissions, drops every job still queued and waits
// for running jobs to finish. If ctx expires first, running jobs are
// cancelled and ctx.Err() is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	queued := p.queued
	workers := p.workers
	if workers == nil {
		p.dropped.Add(uint64(len(p.pending)))
		p.pending = nil
		p.queued = 0
		p.metrics.SetQueueDepth(0)
	}
	p.mu.Unlock()

	if queued > 0 {
		p.logger.Warn("dispatcher stopping, dropping queued jobs", "dropped", queued)
	}
	if workers == nil {
		return nil
	}

	drained := workers.Stop()
	select {
	case <-drained.Done():
	case <-ctx.Done():
		p.cancel()
		<-drained.Done()
		return fmt.Errorf("dispatcher stop: %w", ctx.Err())
	}

	p.cancel()
	p.logger.Info("dispatcher stopped")
	return nil
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := p.queued
	p.mu.Unlock()

	return Stats{
		Workers:   p.size,
		Queued:    queued,
		InFlight:  p.inFlight.Load(),
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// run executes one job and reports its outcome.
func (p *Pool) run(ctx context.Context, job Job) {
	p.inFlight.Add(1)
	p.metrics.JobStarted()
	defer p.inFlight.Add(-1)

	outcome := Outcome{Job: job, StartedAt: time.Now()}
	outcome.Attempts, outcome.Err = p.execute(ctx, job)
	outcome.FinishedAt = time.Now()

	result := outcome.Result()
	p.metrics.JobFinished(job.Device, result, outcome.Duration())

	if outcome.Err == nil {
		p.succeeded.Add(1)
		p.logger.Debug("job completed",
			"job_id", job.ID,
			"device", job.Device,
			"action", job.Action(),
			"duration", outcome.Duration(),
		)
	} else {
		p.failed.Add(1)
		p.logger.Error("device command failed",
			"job_id", job.ID,
			"device", job.Device,
			"action", job.Action(),
			"result", result,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	}

	for _, r := range p.recorders {
		p.record(ctx, r, outcome)
	}
}

// record hands the outcome to one recorder, containing its panics.
func (p *Pool) record(ctx context.Context, r Recorder, o Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("outcome recorder panic recovered", "job_id", o.Job.ID, "panic", rec)
		}
	}()
	r.RecordOutcome(ctx, o)
}

// execute runs the job under the retry policy and returns the number of
// attempts made and the final error.
func (p *Pool) execute(ctx context.Context, job Job) (int, error) {
	jobCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		err := p.attempt(jobCtx, job)
		lastErr = err
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	if p.retry.InitialInterval > 0 {
		bo.InitialInterval = p.retry.InitialInterval
	}
	if p.retry.MaxInterval > 0 {
		bo.MaxInterval = p.retry.MaxInterval
	}
	bo.MaxElapsedTime = 0

	retries := p.retry.MaxRetries
	if retries < 0 {
		retries = 0
	}

	// Retry reports ctx.Err() when the job context ends; the device error is
	// more useful, so the last attempt's error wins.
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), jobCtx)); err != nil {
		return attempts, lastErr
	}
	return attempts, nil
}

// attempt performs a single device call, through the breaker when enabled.
func (p *Pool) attempt(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	if !p.breaker.Enabled {
		return p.exec.SetDeviceState(ctx, job.Device, job.On)
	}

	_, err = p.breakerFor(job.Device).Execute(func() (interface{}, error) {
		return nil, p.exec.SetDeviceState(ctx, job.Device, job.On)
	})
	return err
}

// breakerFor returns the circuit breaker guarding deviceName, creating it on
// first use.
func (p *Pool) breakerFor(deviceName string) *gobreaker.CircuitBreaker {
	p.breakersMu.Lock()
	defer p.breakersMu.Unlock()

	if cb, ok := p.breakers[deviceName]; ok {
		return cb
	}

	threshold := uint32(p.breaker.ConsecutiveFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     deviceName,
		Interval: p.breaker.Interval,
		Timeout:  p.breaker.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, device.ErrUnknownDevice)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("device circuit breaker state changed",
				"device", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	p.breakers[deviceName] = cb
	return cb
}

// retryable reports whether another attempt could change the result.
func retryable(err error) bool {
	switch {
	case errors.Is(err, device.ErrUnknownDevice),
		errors.Is(err, ErrJobPanicked),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
