// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Jose-Baigorria/tracking-carrera/internal/application/saga"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/metrics"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REEVALUATE RECENT USERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// JobReevaluateRecentUsers is the job name.
const JobReevaluateRecentUsers = "reevaluate_recent_users"

// ActivitySource lists users whose records changed since a point in time.
type ActivitySource interface {
	UsersWithActivitySince(ctx context.Context, since time.Time) ([]string, error)
}

// Evaluator runs one evaluation pass.
type Evaluator interface {
	Execute(ctx context.Context, input saga.EvaluationInput) (*saga.EvaluationResult, error)
}

// WorkerRecorder counts processed users.
type WorkerRecorder interface {
	IncWorkerUser(job, outcome string)
}

// ReevaluateRecentUsersConfig contains configuration for the job.
type ReevaluateRecentUsersConfig struct {
	// Lookback is how far back activity is considered.
	Lookback time.Duration

	// Concurrency is the number of users evaluated in parallel.
	Concurrency int

	// UserTimeout bounds a single user's pass.
	UserTimeout time.Duration
}

// DefaultReevaluateRecentUsersConfig returns sensible defaults.
func DefaultReevaluateRecentUsersConfig() ReevaluateRecentUsersConfig {
	return ReevaluateRecentUsersConfig{
		Lookback:    24 * time.Hour,
		Concurrency: 4,
		UserTimeout: 30 * time.Second,
	}
}

// ReevaluationStats summarizes one run.
type ReevaluationStats struct {
	StartedAt  time.Time
	Duration   time.Duration
	Users      int
	Evaluated  int
	Skipped    int
	Failed     int
	NewUnlocks int
}

// ReevaluateRecentUsersJob catches up users whose records changed outside the
// grade-recording path, such as enrollment status changes or study sessions.
type ReevaluateRecentUsersJob struct {
	source    ActivitySource
	evaluator Evaluator
	recorder  WorkerRecorder
	retrier   *retry.Retrier
	log       *logger.Logger
	config    ReevaluateRecentUsersConfig
	now       func() time.Time

	lastStats atomic.Value // ReevaluationStats
}

// NewReevaluateRecentUsersJob creates the job. isTransient classifies store
// errors worth retrying when listing users; recorder may be nil.
func NewReevaluateRecentUsersJob(
	source ActivitySource,
	evaluator Evaluator,
	recorder WorkerRecorder,
	isTransient func(error) bool,
	log *logger.Logger,
	config ReevaluateRecentUsersConfig,
) *ReevaluateRecentUsersJob {
	if log == nil {
		log = logger.NewNop()
	}
	if config.Lookback <= 0 {
		config.Lookback = 24 * time.Hour
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	return &ReevaluateRecentUsersJob{
		source:    source,
		evaluator: evaluator,
		recorder:  recorder,
		retrier:   retry.StoreRetrier(isTransient),
		log:       log.With(logger.JobName(JobReevaluateRecentUsers)),
		config:    config,
		now:       time.Now,
	}
}

// Name returns the job name.
func (j *ReevaluateRecentUsersJob) Name() string {
	return JobReevaluateRecentUsers
}

// Description returns a human-readable description.
func (j *ReevaluateRecentUsersJob) Description() string {
	return fmt.Sprintf("Re-evaluates achievements for users active in the last %s", j.config.Lookback)
}

// Run lists recently active users and evaluates each one. Only a failure to
// list users is returned; per-user failures are logged and counted.
func (j *ReevaluateRecentUsersJob) Run(ctx context.Context) error {
	startedAt := j.now()
	since := startedAt.Add(-j.config.Lookback).UTC()

	var users []string
	err := j.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		users, err = j.source.UsersWithActivitySince(ctx, since)
		return err
	})
	if err != nil {
		return fmt.Errorf("list users active since %s: %w", since.Format(time.RFC3339), err)
	}

	stats := ReevaluationStats{StartedAt: startedAt, Users: len(users)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(j.config.Concurrency)

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, unlocked := j.evaluateUser(ctx, userID)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case metrics.OutcomeOK:
				stats.Evaluated++
				stats.NewUnlocks += unlocked
			case metrics.OutcomeSkipped:
				stats.Skipped++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = j.now().Sub(startedAt)
	j.lastStats.Store(stats)

	j.log.Info("reevaluation finished",
		logger.Int("users", stats.Users),
		logger.Int("evaluated", stats.Evaluated),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
		logger.Int("new_unlocks", stats.NewUnlocks),
		logger.Latency(stats.Duration),
	)

	return ctx.Err()
}

func (j *ReevaluateRecentUsersJob) evaluateUser(ctx context.Context, userID string) (string, int) {
	if j.config.UserTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.UserTimeout)
		defer cancel()
	}

	outcome, unlocked := metrics.OutcomeOK, 0

	result, err := j.evaluator.Execute(ctx, saga.EvaluationInput{UserID: userID, Trigger: saga.TriggerScheduled})
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		if result != nil {
			unlocked = len(result.NewUnlocks)
		}
		j.log.Warn("user reevaluation failed", logger.UserID(userID), logger.Err(err))
	case result.Skipped:
		outcome = metrics.OutcomeSkipped
	default:
		unlocked = len(result.NewUnlocks)
	}

	if j.recorder != nil {
		j.recorder.IncWorkerUser(JobReevaluateRecentUsers, outcome)
	}
	return outcome, unlocked
}

// LastStats returns the stats of the last completed run.
func (j *ReevaluateRecentUsersJob) LastStats() (ReevaluationStats, bool) {
	stats, ok := j.lastStats.Load().(ReevaluationStats)
	return stats, ok
}
