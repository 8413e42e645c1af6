// Package workers provides a bounded worker pool for concurrent operations
// in portprobe. Submission blocks until a worker is free, so the number of
// jobs executing at once never exceeds the pool size.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the number of jobs that may wait for a worker. Zero
	// makes Submit hand jobs directly to an idle worker.
	QueueSize int
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	// Zero waits until every accepted job has run.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       0,
		ShutdownTimeout: 0,
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Size      int
	InFlight  int
	Peak      int
	Completed int64
	Failed    int64
}

// Option configures optional pool collaborators.
type Option func(*Pool)

// WithLogger sets the logger used by the pool.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink used by the pool.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// envelope carries a job together with the context it was submitted under.
type envelope struct {
	ctx context.Context
	job Job
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config  Config
	jobs    chan envelope
	wg      sync.WaitGroup
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics

	mu      sync.RWMutex
	started bool
	closed  bool

	inflight  int64
	peak      int64
	completed int64
	failed    int64
}

// New creates a new worker pool with the given configuration.
func New(config Config, opts ...Option) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	pool := &Pool{
		config:  config,
		jobs:    make(chan envelope, config.QueueSize),
		logger:  logging.Default(),
		metrics: metrics.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Start launches the worker goroutines. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	p.logger.Debug("Starting worker pool",
		"worker_count", p.config.Size,
		"queue_size", p.config.QueueSize)

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Submit hands a job to the pool. It blocks until a worker (or queue slot)
// accepts the job, ctx is done, or the pool is shut down. The job is
// executed with ctx.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("worker pool is shut down")
	}
	if !p.started {
		return fmt.Errorf("worker pool is not started")
	}

	select {
	case p.jobs <- envelope{ctx: ctx, job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for accepted jobs to finish.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if p.config.ShutdownTimeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out", "timeout", p.config.ShutdownTimeout)
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.ShutdownTimeout)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.config.Size,
		InFlight:  int(atomic.LoadInt64(&p.inflight)),
		Peak:      int(atomic.LoadInt64(&p.peak)),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for env := range p.jobs {
		p.executeJob(id, env)
	}
}

// executeJob runs one job, converting a panic into a job error so a single
// faulty job never takes a worker down.
func (p *Pool) executeJob(workerID int, env envelope) {
	p.enter()
	defer p.leave()

	start := time.Now()
	status := metrics.JobStatusSuccess

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				status = metrics.JobStatusPanic
				err = fmt.Errorf("job %s panicked: %v", env.job.ID(), r)
			}
		}()
		return env.job.Execute(env.ctx)
	}()

	if err != nil {
		if status != metrics.JobStatusPanic {
			status = metrics.JobStatusError
		}
		atomic.AddInt64(&p.failed, 1)
		p.logger.Debug("Job failed",
			"job_id", env.job.ID(),
			"job_type", env.job.Type(),
			"worker_id", workerID,
			"error", err)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}

	p.metrics.JobFinished(env.job.Type(), status)
	p.logger.Debug("Job finished",
		"job_id", env.job.ID(),
		"job_type", env.job.Type(),
		"worker_id", workerID,
		"status", status,
		"duration", time.Since(start))
}

func (p *Pool) enter() {
	p.metrics.JobStarted()
	n := atomic.AddInt64(&p.inflight, 1)
	for {
		peak := atomic.LoadInt64(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&p.peak, peak, n) {
			return
		}
	}
}

func (p *Pool) leave() {
	atomic.AddInt64(&p.inflight, -1)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{
		id:      id,
		jobType: jobType,
		fn:      fn,
	}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
