package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-actionbridge/internal/device"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeExecutor tracks concurrency and per-job calls.
type fakeExecutor struct {
	delay   time.Duration
	block   chan struct{}
	err     error
	errFunc func(call int) error
	panics  bool

	calls   atomic.Int64
	current atomic.Int64
	peak    atomic.Int64

	mu   sync.Mutex
	seen map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{seen: make(map[string]int)}
}

func (f *fakeExecutor) SetDeviceState(ctx context.Context, name string, on bool) error {
	n := f.calls.Add(1)
	cur := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.seen[fmt.Sprintf("%s/%t", name, on)]++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("device driver exploded")
	}
	if f.errFunc != nil {
		return f.errFunc(int(n))
	}
	return f.err
}

// outcomeSink collects recorded outcomes.
type outcomeSink struct {
	mu       sync.Mutex
	outcomes []Outcome
	done     chan struct{}
	want     int
}

func newOutcomeSink(want int) *outcomeSink {
	return &outcomeSink{done: make(chan struct{}), want: want}
}

func (s *outcomeSink) RecordOutcome(_ context.Context, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	if len(s.outcomes) == s.want {
		close(s.done)
	}
}

func (s *outcomeSink) wait(t *testing.T) []Outcome {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.mu.Lock()
		n := len(s.outcomes)
		s.mu.Unlock()
		t.Fatalf("timed out waiting for outcomes: got %d, want %d", n, s.want)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

func startPool(t *testing.T, exec Executor, opts Options) *Pool {
	t.Helper()
	p := New(exec, opts)
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 4
	const jobs = 100

	exec := newFakeExecutor()
	exec.delay = 5 * time.Millisecond
	sink := newOutcomeSink(jobs)

	p := startPool(t, exec, Options{Workers: workers, Recorders: []Recorder{sink}})

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Submit(NewJob(fmt.Sprintf("dev-%d", i), i%2 == 0, SourceMQTT)); err != nil {
				t.Errorf("Submit() error = %v", err)
			}
		}()
	}
	wg.Wait()

	outcomes := sink.wait(t)

	if got := exec.peak.Load(); got > workers {
		t.Errorf("peak concurrency = %d, want <= %d", got, workers)
	}
	if got := exec.calls.Load(); got != jobs {
		t.Errorf("calls = %d, want %d", got, jobs)
	}

	exec.mu.Lock()
	for key, n := range exec.seen {
		if n != 1 {
			t.Errorf("job %s executed %d times, want 1", key, n)
		}
	}
	exec.mu.Unlock()

	ids := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if ids[o.Job.ID] {
			t.Errorf("outcome for job %s recorded twice", o.Job.ID)
		}
		ids[o.Job.ID] = true
	}

	stats := p.Stats()
	if stats.Submitted != jobs || stats.Succeeded != jobs || stats.Failed != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestPool_QueueDepthGaugeSettles(t *testing.T) {
	const jobs = 200

	exec := newFakeExecutor()
	sink := newOutcomeSink(jobs)
	m := metrics.New()

	p := startPool(t, exec, Options{Workers: 3, Metrics: m, Recorders: []Recorder{sink}})

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(NewJob(fmt.Sprintf("dev-%d", i), true, SourceMQTT))
		}()
	}
	wg.Wait()
	sink.wait(t)

	if got := p.Stats().Queued; got != 0 {
		t.Errorf("Queued = %d, want 0", got)
	}

	want := `
# HELP actionbridge_queue_depth Jobs waiting for a free worker.
# TYPE actionbridge_queue_depth gauge
actionbridge_queue_depth 0
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "actionbridge_queue_depth"); err != nil {
		t.Errorf("queue depth gauge: %v", err)
	}
}

func TestPool_DefaultWorkers(t *testing.T) {
	p := New(newFakeExecutor(), Options{})
	if p.Stats().Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", p.Stats().Workers, DefaultWorkers)
	}
}

func TestPool_SubmitDoesNotBlock(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = make(chan struct{})

	p := startPool(t, exec, Options{Workers: 2})

	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			p.Submit(NewJob(fmt.Sprintf("dev-%d", i), true, SourceMQTT))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while all workers were busy")
	}

	// Two jobs are held by the blocked workers.
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Queued != 998 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Stats().Queued; got != 998 {
		t.Errorf("Queued = %d, want 998", got)
	}

	close(exec.block)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	exec := newFakeExecutor()
	sink := newOutcomeSink(1)
	p := New(exec, Options{Workers: 1, Recorders: []Recorder{sink}})

	if err := p.Submit(NewJob("bike_stand_floods", true, SourceMQTT)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	p.Start(context.Background())
	defer p.Stop(context.Background())

	sink.wait(t)
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func TestPool_ErrorsDoNotPropagate(t *testing.T) {
	exec := newFakeExecutor()
	exec.errFunc = func(call int) error {
		if call%2 == 0 {
			return fmt.Errorf("%w: connection refused", device.ErrDevice)
		}
		return nil
	}
	sink := newOutcomeSink(10)
	p := startPool(t, exec, Options{Workers: 3, Recorders: []Recorder{sink}})

	for range 10 {
		if err := p.Submit(NewJob("bike_stand_floods", true, SourceMQTT)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	sink.wait(t)

	stats := p.Stats()
	if stats.Succeeded != 5 || stats.Failed != 5 {
		t.Errorf("Stats() = %+v, want 5 succeeded and 5 failed", stats)
	}
}

func TestPool_PanicRecovered(t *testing.T) {
	exec := newFakeExecutor()
	exec.panics = true
	sink := newOutcomeSink(2)
	p := startPool(t, exec, Options{Workers: 1, Recorders: []Recorder{sink}})

	p.Submit(NewJob("a", true, SourceMQTT))
	p.Submit(NewJob("b", true, SourceMQTT))

	outcomes := sink.wait(t)
	for _, o := range outcomes {
		if !errors.Is(o.Err, ErrJobPanicked) {
			t.Errorf("outcome error = %v, want ErrJobPanicked", o.Err)
		}
		if o.Result() != ResultPanic {
			t.Errorf("Result() = %q, want %q", o.Result(), ResultPanic)
		}
	}
}

func TestPool_RecorderPanicContained(t *testing.T) {
	exec := newFakeExecutor()
	sink := newOutcomeSink(1)
	bad := RecorderFunc(func(context.Context, Outcome) { panic("recorder broke") })

	p := startPool(t, exec, Options{Workers: 1, Recorders: []Recorder{bad, sink}})
	p.Submit(NewJob("a", true, SourceMQTT))

	sink.wait(t)
}

// =============================================================================
// Retry and Breaker Tests
// =============================================================================

func TestPool_NoRetryByDefault(t *testing.T) {
	exec := newFakeExecutor()
	exec.err = fmt.Errorf("%w: timeout", device.ErrDevice)
	sink := newOutcomeSink(1)
	p := startPool(t, exec, Options{Workers: 1, Recorders: []Recorder{sink}})

	p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))
	outcomes := sink.wait(t)

	if outcomes[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", outcomes[0].Attempts)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", exec.calls.Load())
	}
	if !errors.Is(outcomes[0].Err, device.ErrDevice) {
		t.Errorf("Err = %v, want ErrDevice", outcomes[0].Err)
	}
}

func TestPool_RetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int
		wantResult   string
	}{
		{"device error retried", fmt.Errorf("%w: refused", device.ErrDevice), 3, ResultDeviceError},
		{"unknown device not retried", fmt.Errorf("%w: %q", device.ErrUnknownDevice, "x"), 1, ResultUnknownDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor()
			exec.err = tt.err
			sink := newOutcomeSink(1)
			p := startPool(t, exec, Options{
				Workers:   1,
				Retry:     RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
				Recorders: []Recorder{sink},
			})

			p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))
			o := sink.wait(t)[0]

			if o.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", o.Attempts, tt.wantAttempts)
			}
			if o.Result() != tt.wantResult {
				t.Errorf("Result() = %q, want %q", o.Result(), tt.wantResult)
			}
		})
	}
}

func TestPool_RetryEventuallySucceeds(t *testing.T) {
	exec := newFakeExecutor()
	exec.errFunc = func(call int) error {
		if call < 2 {
			return device.ErrDevice
		}
		return nil
	}
	sink := newOutcomeSink(1)
	p := startPool(t, exec, Options{
		Workers:   1,
		Retry:     RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond},
		Recorders: []Recorder{sink},
	})

	p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))
	o := sink.wait(t)[0]

	if o.Err != nil || o.Attempts != 2 {
		t.Errorf("outcome = %+v, want success on attempt 2", o)
	}
}

func TestPool_CircuitBreaker(t *testing.T) {
	exec := newFakeExecutor()
	exec.err = device.ErrDevice
	sink := newOutcomeSink(3)
	p := startPool(t, exec, Options{
		Workers: 1,
		Breaker: BreakerPolicy{
			Enabled:             true,
			ConsecutiveFailures: 2,
			OpenTimeout:         time.Minute,
		},
		Recorders: []Recorder{sink},
	})

	for range 3 {
		p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))
	}
	outcomes := sink.wait(t)

	if got := exec.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2 (third short-circuited)", got)
	}
	if outcomes[2].Result() != ResultBreakerOpen {
		t.Errorf("third Result() = %q, want %q", outcomes[2].Result(), ResultBreakerOpen)
	}
}

func TestPool_JobTimeout(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = make(chan struct{})
	defer close(exec.block)
	sink := newOutcomeSink(1)

	p := startPool(t, exec, Options{Workers: 1, JobTimeout: 20 * time.Millisecond, Recorders: []Recorder{sink}})
	p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))

	o := sink.wait(t)[0]
	if !errors.Is(o.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", o.Err)
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestPool_StopDropsQueued(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = make(chan struct{})

	p := New(exec, Options{Workers: 1})
	p.Start(context.Background())

	for range 6 {
		p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))
	}

	// Wait for the worker to hold the first job.
	deadline := time.Now().Add(2 * time.Second)
	for exec.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(exec.block)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stats := p.Stats()
	if stats.Dropped != 5 {
		t.Errorf("Dropped = %d, want 5", stats.Dropped)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", exec.calls.Load())
	}

	if err := p.Submit(NewJob("x", true, SourceMQTT)); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() after Stop error = %v, want ErrPoolStopped", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestPool_DetachedStartSurvivesParentCancel(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = make(chan struct{})
	sink := newOutcomeSink(1)

	parent, cancelParent := context.WithCancel(context.Background())
	p := New(exec, Options{Workers: 1, Recorders: []Recorder{sink}})
	p.Start(context.WithoutCancel(parent))
	p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))

	deadline := time.Now().Add(2 * time.Second)
	for exec.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancelParent()
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(exec.block)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	outcomes := sink.wait(t)
	if outcomes[0].Err != nil {
		t.Errorf("outcome error = %v, want nil", outcomes[0].Err)
	}
}

func TestPool_StopTimeoutCancelsRunning(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = make(chan struct{})
	defer close(exec.block)

	p := New(exec, Options{Workers: 1})
	p.Start(context.Background())
	p.Submit(NewJob("bike_stand_floods", true, SourceMQTT))

	deadline := time.Now().Add(2 * time.Second)
	for exec.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want context.DeadlineExceeded", err)
	}
}

// =============================================================================
// Job and Outcome Tests
// =============================================================================

func TestNewJob(t *testing.T) {
	a := NewJob("bike_stand_floods", true, SourceMQTT)
	b := NewJob("bike_stand_floods", false, SourceAPI)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("job IDs not unique: %q %q", a.ID, b.ID)
	}
	if a.Action() != "on" || b.Action() != "off" {
		t.Errorf("Action() = %q/%q, want on/off", a.Action(), b.Action())
	}
	if a.SubmittedAt.IsZero() {
		t.Error("SubmittedAt not set")
	}
}

func TestOutcome_Result(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultSuccess},
		{fmt.Errorf("%w: x", device.ErrUnknownDevice), ResultUnknownDevice},
		{fmt.Errorf("%w: x", device.ErrDevice), ResultDeviceError},
		{fmt.Errorf("%w: x", ErrJobPanicked), ResultPanic},
		{errors.New("other"), ResultDeviceError},
	}
	for _, tt := range tests {
		if got := (Outcome{Err: tt.err}).Result(); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.DispatcherConfig{
		Workers:    32,
		JobTimeout: 10,
		Retry:      config.RetryConfig{MaxRetries: 2, InitialInterval: 500, MaxInterval: 5000},
		Breaker:    config.BreakerConfig{Enabled: true, ConsecutiveFailures: 5, OpenSeconds: 30, IntervalSeconds: 60},
	})

	if opts.Workers != 32 || opts.JobTimeout != 10*time.Second {
		t.Errorf("Workers/JobTimeout = %d/%v", opts.Workers, opts.JobTimeout)
	}
	if opts.Retry.InitialInterval != 500*time.Millisecond || opts.Retry.MaxInterval != 5*time.Second {
		t.Errorf("Retry = %+v", opts.Retry)
	}
	if !opts.Breaker.Enabled || opts.Breaker.OpenTimeout != 30*time.Second || opts.Breaker.Interval != time.Minute {
		t.Errorf("Breaker = %+v", opts.Breaker)
	}
}
