// Package scheduler runs named background jobs on fixed intervals. Jobs can
// be triggered manually and inspected at runtime; a job that is still running
// when its next tick fires skips that tick instead of overlapping itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

// Task is the unit of work a job executes each tick.
type Task func(ctx context.Context) error

// Options tune how a registered job runs.
type Options struct {
	// RunOnStart fires the task immediately when Start is called instead of
	// waiting for the first tick.
	RunOnStart bool
}

// Status is a point-in-time snapshot of one job.
type Status struct {
	ID        string        `json:"id"`
	Interval  time.Duration `json:"interval"`
	IsRunning bool          `json:"is_running"`
	Stopped   bool          `json:"stopped"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

type job struct {
	id       string
	interval time.Duration
	task     Task
	opts     Options

	mu       sync.Mutex
	running  bool
	stopped  bool
	lastRun  time.Time
	lastErr  error
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Scheduler owns a set of named jobs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	logger  *logger.Logger
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs an empty scheduler.
func New(lg *logger.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: lg,
	}
}

// Register adds a job. Registering a duplicate id or a non-positive interval
// is a configuration error.
func (s *Scheduler) Register(id string, interval time.Duration, task Task, opts Options) error {
	if id == "" {
		return fmt.Errorf("scheduler: register: empty job id")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: register %s: interval must be positive", id)
	}
	if task == nil {
		return fmt.Errorf("scheduler: register %s: nil task", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("scheduler: register %s: already registered", id)
	}
	j := &job{id: id, interval: interval, task: task, opts: opts}
	s.jobs[id] = j

	if s.started {
		s.startJob(j)
	}
	return nil
}

// Start launches the tick loops for all registered jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.startJob(j)
	}
	s.logger.Info("scheduler: started", zap.Int("jobs", len(s.jobs)))
}

// startJob must be called with s.mu held.
func (s *Scheduler) startJob(j *job) {
	jctx, cancel := context.WithCancel(s.ctx)
	j.mu.Lock()
	j.cancel = cancel
	j.stopped = false
	j.loopDone = make(chan struct{})
	j.mu.Unlock()

	go s.loop(jctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer close(j.loopDone)

	if j.opts.RunOnStart {
		s.runOnce(ctx, j, "startup")
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j, "tick")
		}
	}
}

// runOnce executes the task unless a previous run is still in flight, in
// which case the tick is skipped.
func (s *Scheduler) runOnce(ctx context.Context, j *job, cause string) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.logger.Warn("scheduler: tick skipped, previous run still in flight",
			zap.String("job", j.id))
		return
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	tracer := otel.Tracer("skiddly.scheduler")
	tctx, span := tracer.Start(ctx, "scheduler.job")
	span.SetAttributes(
		attribute.String("job.id", j.id),
		attribute.String("job.cause", cause),
	)
	defer span.End()

	start := time.Now().UTC()
	err := j.task(tctx)
	if err != nil {
		span.RecordError(err)
	}

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler: job run failed",
			zap.String("job", j.id),
			zap.String("cause", cause),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("scheduler: job run finished",
		zap.String("job", j.id),
		zap.String("cause", cause),
		zap.Duration("elapsed", time.Since(start)))
}

// Trigger runs a job immediately, outside its tick cadence. It returns the
// task's error; a run already in flight yields a conflict error.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: trigger %s: unknown job", id)
	}

	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("scheduler: trigger %s: already running", id)
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	tracer := otel.Tracer("skiddly.scheduler")
	tctx, span := tracer.Start(ctx, "scheduler.trigger")
	span.SetAttributes(attribute.String("job.id", id))
	defer span.End()

	start := time.Now().UTC()
	err := j.task(tctx)

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scheduler: trigger %s: %w", id, err)
	}
	return nil
}

// StopJob halts one job's tick loop. The job stays registered and reports
// Stopped in Status.
func (s *Scheduler) StopJob(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: stop %s: unknown job", id)
	}

	j.mu.Lock()
	cancel := j.cancel
	done := j.loopDone
	alreadyStopped := j.stopped
	j.stopped = true
	j.mu.Unlock()

	if alreadyStopped || cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// JobStatus reports one job's snapshot.
func (s *Scheduler) JobStatus(id string) (Status, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("scheduler: status %s: unknown job", id)
	}
	return j.snapshot(), nil
}

// Statuses reports all jobs, for the admin surface.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	return out
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		ID:        j.id,
		Interval:  j.interval,
		IsRunning: j.running,
		Stopped:   j.stopped,
		LastRun:   j.lastRun,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}

// Shutdown stops all jobs and waits for in-flight loops to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, j := range jobs {
		j.mu.Lock()
		done := j.loopDone
		j.mu.Unlock()
		if done != nil {
			<-done
		}
	}
	s.logger.Info("scheduler: stopped")
}
