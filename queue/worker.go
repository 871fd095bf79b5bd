package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPollInterval = 5 * time.Second
	// claimAttempts bounds the internal retries on transient store
	// contention before a claim round gives up until the next poll.
	claimAttempts      = 5
	claimRetryBackoff  = 25 * time.Millisecond
	heartbeatDivisor   = 3
	minHeartbeatPeriod = time.Second
)

// Worker claims ready jobs from a queue and runs them on up to
// maxConcurrency goroutines. All durable effects go through the ledger; the
// worker itself only holds slot bookkeeping and the handler registry, which
// is read-only once started.
type Worker struct {
	queue    *Queue
	handlers map[string]Handler
	id       uuid.UUID

	sem            chan struct{}
	pollInterval   time.Duration
	heartbeatEvery time.Duration
	logger         *slog.Logger

	mu       sync.RWMutex
	wg       sync.WaitGroup
	stopMu   sync.Mutex
	stopping atomic.Bool
	halted   atomic.Bool
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	maxConcurrency int
	pollInterval   time.Duration
	heartbeatEvery time.Duration
	logger         *slog.Logger
}

// WithMaxConcurrency bounds how many jobs run at once.
func WithMaxConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithPollInterval sets how often the worker looks for ready jobs when idle.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithHeartbeatInterval sets how often running jobs refresh their heartbeat.
// Defaults to a third of the queue's liveness threshold.
func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.heartbeatEvery = d
		}
	}
}

// WithWorkerLogger overrides the logger inherited from the queue.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewWorker creates a worker bound to an opened queue. Handlers must be
// registered before Start.
func NewWorker(q *Queue, opts ...WorkerOption) (*Worker, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: queue cannot be nil", ErrValidation)
	}

	options := &workerOptions{
		maxConcurrency: 1,
		pollInterval:   defaultPollInterval,
		logger:         q.logger,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.heartbeatEvery == 0 {
		options.heartbeatEvery = max(q.liveness/heartbeatDivisor, minHeartbeatPeriod)
	}

	return &Worker{
		queue:          q,
		handlers:       make(map[string]Handler),
		id:             uuid.New(),
		sem:            make(chan struct{}, options.maxConcurrency),
		pollInterval:   options.pollInterval,
		heartbeatEvery: options.heartbeatEvery,
		logger:         options.logger,
		wake:           make(chan struct{}, 1),
	}, nil
}

// Register binds a handler to a job type. Duplicate registrations replace
// the previous handler.
func (w *Worker) Register(jobType string, h Handler) error {
	if jobType == "" {
		return fmt.Errorf("%w: job type cannot be empty", ErrValidation)
	}
	if h == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrValidation)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
	return nil
}

// Start begins claiming and processing in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: no handlers registered", ErrValidation)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.id.String()),
		slog.Int("max_concurrency", cap(w.sem)))
	return nil
}

// Stop stops claiming and waits for in-flight jobs to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.logger.Info("worker stopped", slog.String("worker_id", w.id.String()))
	return nil
}

// Poke asks the worker to look for ready jobs without waiting for the next
// poll tick. Used by tests and by callers that just enqueued work.
func (w *Worker) Poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Halted reports whether a fatal store error stopped the claim loop.
func (w *Worker) Halted() bool {
	return w.halted.Load()
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.fillSlots()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.fillSlots()
		case <-w.wake:
			w.fillSlots()
		}
	}
}

// fillSlots starts one drain goroutine per free slot. Each goroutine keeps
// claiming until the ledger runs dry, then releases its slot.
func (w *Worker) fillSlots() {
	if w.halted.Load() {
		return
	}
	for {
		select {
		case w.sem <- struct{}{}:
			w.stopMu.Lock()
			if w.stopping.Load() {
				w.stopMu.Unlock()
				<-w.sem
				return
			}
			w.wg.Add(1)
			w.stopMu.Unlock()

			go func() {
				defer w.wg.Done()
				defer func() { <-w.sem }()
				w.drain()
			}()
		default:
			return
		}
	}
}

func (w *Worker) drain() {
	for !w.stopping.Load() && !w.halted.Load() {
		job, err := w.claim()
		if err != nil {
			w.halted.Store(true)
			w.logger.Error("claiming halted on fatal store error",
				slog.String("worker_id", w.id.String()),
				slog.String("error", err.Error()))
			return
		}
		if job == nil {
			return
		}
		w.process(job)
	}
}

// claim wraps ClaimNext with bounded retries on transient contention.
func (w *Worker) claim() (*Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := w.queue.ledger.ClaimNext(w.ctx, w.queue.now().UTC())
		if err == nil {
			return job, nil
		}
		if w.ctx.Err() != nil {
			return nil, nil
		}
		if !errors.Is(err, ErrStoreBusy) {
			return nil, err
		}
		if attempt >= claimAttempts {
			w.logger.Warn("claim still contended, backing off until next poll",
				slog.String("worker_id", w.id.String()))
			return nil, nil
		}
		time.Sleep(claimRetryBackoff * time.Duration(attempt))
	}
}

func (w *Worker) process(job *Job) {
	start := time.Now()
	// Outcome reporting must survive worker shutdown, so it runs on a
	// context detached from the poll loop's cancellation.
	ctx := context.WithoutCancel(w.ctx)

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()
	if !ok {
		w.failUnhandled(ctx, job)
		return
	}

	active := newActiveJob(job, w.queue.ledger, w.queue.now)
	stopBeat := w.startHeartbeat(ctx, active)

	err := w.invoke(ctx, handler, active)
	stopBeat()
	duration := time.Since(start)

	if err != nil {
		w.reportFailure(ctx, job, err, duration)
		return
	}
	w.reportSuccess(ctx, job, duration)
}

// invoke runs the handler with panic recovery; a panic is an attempt
// failure, not a worker crash.
func (w *Worker) invoke(ctx context.Context, handler Handler, active *ActiveJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.id.String()),
				slog.Int64("job_id", active.ID),
				slog.String("job_type", active.Type),
				slog.Any("panic", r))
		}
	}()
	return handler(ctx, active)
}

// startHeartbeat refreshes the job's liveness stamp in the background and
// propagates cooperative cancel requests to the handler's flag.
func (w *Worker) startHeartbeat(ctx context.Context, active *ActiveJob) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(w.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := active.Heartbeat(ctx); err != nil {
					w.logger.Warn("heartbeat failed",
						slog.Int64("job_id", active.ID),
						slog.String("error", err.Error()))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (w *Worker) failUnhandled(ctx context.Context, job *Job) {
	msg := ErrUnhandledJobType.Error() + ": " + job.Type
	w.logger.Error("no handler registered",
		slog.String("worker_id", w.id.String()),
		slog.Int64("job_id", job.ID),
		slog.String("job_type", job.Type))

	if err := w.queue.ledger.Transition(ctx, job.ID, StateRunning, StateFailed, TransitionUpdate{
		LastError: &msg,
	}); err != nil {
		w.logger.Error("failed to record unhandled job type",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	w.finishRecurrence(ctx, job)
}

func (w *Worker) reportSuccess(ctx context.Context, job *Job, duration time.Duration) {
	if err := w.queue.ledger.Transition(ctx, job.ID, StateRunning, StateSucceeded, TransitionUpdate{}); err != nil {
		w.logger.Error("failed to record success",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("job succeeded",
		slog.String("worker_id", w.id.String()),
		slog.Int64("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempt),
		slog.Duration("duration", duration))
	w.finishRecurrence(ctx, job)
}

func (w *Worker) reportFailure(ctx context.Context, job *Job, execErr error, duration time.Duration) {
	msg := execErr.Error()
	now := w.queue.now().UTC()
	decision := w.queue.policy.Decide(job.Attempt, job.MaxRetries, now)

	if decision.Retry {
		runAt := decision.RunAt
		if err := w.queue.ledger.Transition(ctx, job.ID, StateRunning, StatePending, TransitionUpdate{
			RunAt:     &runAt,
			LastError: &msg,
		}); err != nil {
			w.logger.Error("failed to schedule retry",
				slog.Int64("job_id", job.ID),
				slog.String("error", err.Error()))
			return
		}
		w.logger.Warn("job failed, retry scheduled",
			slog.String("worker_id", w.id.String()),
			slog.Int64("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.Int("attempt", job.Attempt),
			slog.Int("max_retries", job.MaxRetries),
			slog.Time("run_at", runAt),
			slog.Duration("duration", duration),
			slog.String("error", msg))
		return
	}

	if err := w.queue.ledger.Transition(ctx, job.ID, StateRunning, StateFailed, TransitionUpdate{
		LastError: &msg,
	}); err != nil {
		w.logger.Error("failed to record terminal failure",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Error("job failed terminally",
		slog.String("worker_id", w.id.String()),
		slog.Int64("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempt),
		slog.Duration("duration", duration),
		slog.String("error", msg))
	w.finishRecurrence(ctx, job)
}

// finishRecurrence advances the schedule after a terminal occurrence. The
// cadence survives a failed occurrence; only the occurrence itself is
// terminal.
func (w *Worker) finishRecurrence(ctx context.Context, job *Job) {
	if job.RecurringRef == "" {
		return
	}
	if err := w.queue.advanceRecurrence(ctx, job.RecurringRef); err != nil {
		w.logger.Error("failed to advance recurrence",
			slog.Int64("job_id", job.ID),
			slog.String("schedule_id", job.RecurringRef),
			slog.String("error", err.Error()))
	}
}
