// Package scheduler runs the worker's periodic jobs, such as re-evaluating
// users whose academic records changed recently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobPanic                = errors.New("job panicked")
	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is a unit of periodic work. Run's context ends when the scheduler
// stops or the job timeout passes.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the next run after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobObserver receives the outcome of every run, scheduled or manual.
type JobObserver interface {
	ObserveJob(job string, took time.Duration, err error)
}

// JobResult describes one run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

// JobInfo is the status of a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Enabled     bool
	Running     bool
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// SchedulerConfig configures a Scheduler. Zero fields take defaults.
type SchedulerConfig struct {
	Logger *logger.Logger

	// Timezone for cron schedules. Default UTC.
	Timezone *time.Location

	// TickInterval is how often due jobs are checked. Default 1s.
	TickInterval time.Duration

	// JobTimeout bounds a scheduled run. Zero means no bound.
	JobTimeout time.Duration

	// MaxHistorySize caps the kept results. Default 100.
	MaxHistorySize int

	Observer JobObserver
}

// DefaultSchedulerConfig returns the defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Timezone: time.UTC, TickInterval: time.Second, MaxHistorySize: 100}
}

type entry struct {
	job      Job
	schedule Schedule
	enabled  bool
	active   bool
	lastRun  time.Time
	nextRun  time.Time
	runs     int64
	fails    int64
	last     *JobResult
}

// Scheduler starts due jobs on a ticker. A job never overlaps with itself:
// a run still going when the next one is due is skipped.
type Scheduler struct {
	cfg SchedulerConfig
	log *logger.Logger

	mu        sync.Mutex
	jobs      map[string]*entry
	history   []JobResult
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = def.Timezone
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = def.MaxHistorySize
	}
	return &Scheduler{
		cfg:  cfg,
		log:  cfg.Logger.With(logger.Component("scheduler")),
		jobs: make(map[string]*entry),
	}
}

// Register adds an enabled job. Names must be unique.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{
		job:      job,
		schedule: schedule,
		enabled:  true,
		nextRun:  schedule.Next(s.now()),
	}
	s.jobs[name] = e

	s.log.Info("job registered",
		logger.JobName(name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", e.nextRun),
	)
	return nil
}

// EnableJob re-enables a job; its next run is computed from now.
func (s *Scheduler) EnableJob(name string) error {
	return s.update(name, func(e *entry) {
		e.enabled = true
		e.nextRun = e.schedule.Next(s.now())
	})
}

// DisableJob stops scheduling a job. A run in progress is not cancelled.
func (s *Scheduler) DisableJob(name string) error {
	return s.update(name, func(e *entry) { e.enabled = false })
}

func (s *Scheduler) update(name string, fn func(*entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	fn(e)
	return nil
}

func (s *Scheduler) now() time.Time {
	return time.Now().In(s.cfg.Timezone)
}

// Start runs the tick loop until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = time.Now()
	s.log.Info("scheduler started", logger.Count(len(s.jobs)))

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped", logger.Duration("uptime", time.Since(s.startedAt)))
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(s.now())
		}
	}
}

// dispatch starts every enabled job due at now. nextRun advances before the
// job starts so a slow job is not picked twice.
func (s *Scheduler) dispatch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	for _, e := range s.jobs {
		if !e.enabled || e.nextRun.IsZero() || now.Before(e.nextRun) {
			continue
		}
		e.nextRun = e.schedule.Next(now)
		if e.active {
			s.log.Warn("job still running, skipping", logger.JobName(e.job.Name()))
			continue
		}
		e.active = true
		e.lastRun = now
		e.runs++

		s.wg.Add(1)
		go s.runScheduled(e)
	}
}

func (s *Scheduler) runScheduled(e *entry) {
	defer s.wg.Done()

	ctx := s.ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	s.run(ctx, e, false)
}

// run executes the job, turning a panic into ErrJobPanic, and records the
// result on the entry and in the history.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	res := JobResult{JobName: name, StartedAt: time.Now(), Manual: manual}
	s.log.Info("job started", logger.JobName(name), logger.Bool("manual", manual))

	res.Error = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrJobPanic, r)
			}
		}()
		return e.job.Run(ctx)
	}()
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = res.Error == nil

	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveJob(name, res.Duration, res.Error)
	}

	s.mu.Lock()
	if !manual {
		e.active = false
	}
	if !res.Success {
		e.fails++
	}
	e.last = &res
	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.MaxHistorySize; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	if res.Error != nil {
		s.log.Error("job failed", logger.JobName(name), logger.Latency(res.Duration), logger.Err(res.Error))
	} else {
		s.log.Info("job completed", logger.JobName(name), logger.Latency(res.Duration))
	}
	return res
}

// RunNow executes a job immediately with ctx, ignoring its schedule and
// enabled state.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.run(ctx, e, true)
	return &res, res.Error
}

// ListJobs returns every job's status sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetJobInfo returns one job's status.
func (s *Scheduler) GetJobInfo(name string) (*JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	info := e.info()
	return &info, nil
}

func (e *entry) info() JobInfo {
	return JobInfo{
		Name:        e.job.Name(),
		Description: e.job.Description(),
		Schedule:    e.schedule.String(),
		Enabled:     e.enabled,
		Running:     e.active,
		LastRun:     e.lastRun,
		NextRun:     e.nextRun,
		RunCount:    e.runs,
		FailCount:   e.fails,
		LastResult:  e.last,
	}
}

// GetHistory returns up to limit recent results, oldest first. A
// non-positive limit returns all kept results.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]JobResult(nil), s.history[len(s.history)-limit:]...)
}
