package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name  string
	runs  int32
	err   error
	block chan struct{}
	panic bool
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job " + j.name }

func (j *fakeJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	if j.panic {
		panic("broken job")
	}
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type fakeObserver struct {
	mu    sync.Mutex
	runs  int
	fails int
}

func (o *fakeObserver) ObserveJob(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	if err != nil {
		o.fails++
	}
}

func (o *fakeObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs, o.fails
}

// started puts s in the running state without the ticker so tests drive
// dispatch themselves.
func started(s *Scheduler) {
	s.mu.Lock()
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
}

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	require.NoError(t, s.Register(&fakeJob{name: "a"}, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(&fakeJob{name: "a"}, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&fakeJob{name: "b"}, nil), ErrNilSchedule)

	info, err := s.GetJobInfo("a")
	require.NoError(t, err)
	assert.Equal(t, "@every 1m0s", info.Schedule)
	assert.True(t, info.Enabled)

	_, err = s.GetJobInfo("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSchedulerRunsDueJobsAndSkipsOverlap(t *testing.T) {
	obs := &fakeObserver{}
	s := NewScheduler(SchedulerConfig{Observer: obs})
	job := &fakeJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	started(s)

	due := time.Now().Add(2 * time.Minute)
	s.dispatch(due)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&job.runs) == 1 }, time.Second, 5*time.Millisecond)

	// Due again while the first run is still blocked.
	s.dispatch(due.Add(2 * time.Minute))
	info, err := s.GetJobInfo("slow")
	require.NoError(t, err)
	assert.True(t, info.Running)
	assert.Equal(t, int64(1), info.RunCount)

	close(job.block)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs))
	runs, _ := obs.counts()
	assert.Equal(t, 1, runs)
}

func TestSchedulerDisabledJobNotRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := &fakeJob{name: "off"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	require.NoError(t, s.DisableJob("off"))

	started(s)

	s.dispatch(time.Now().Add(time.Hour))
	require.NoError(t, s.Stop())
	assert.Zero(t, atomic.LoadInt32(&job.runs))

	assert.ErrorIs(t, s.EnableJob("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)
}

func TestSchedulerRunNowRecordsHistory(t *testing.T) {
	obs := &fakeObserver{}
	s := NewScheduler(SchedulerConfig{MaxHistorySize: 2, Observer: obs})
	ok := &fakeJob{name: "ok"}
	bad := &fakeJob{name: "bad", err: errors.New("store down")}
	boom := &fakeJob{name: "boom", panic: true}
	for _, j := range []*fakeJob{ok, bad, boom} {
		require.NoError(t, s.Register(j, NewIntervalSchedule(time.Hour)))
	}

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "store down")

	_, err = s.RunNow(context.Background(), "boom")
	assert.ErrorIs(t, err, ErrJobPanic)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "bad", history[0].JobName)
	assert.Equal(t, "boom", history[1].JobName)

	runs, fails := obs.counts()
	assert.Equal(t, 3, runs)
	assert.Equal(t, 2, fails)

	info, err := s.GetJobInfo("boom")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.FailCount)

	names := make([]string, 0)
	for _, info := range s.ListJobs() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"bad", "boom", "ok"}, names)
}

func TestSchedulerLifecycle(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 10 * time.Millisecond})
	job := &fakeJob{name: "fast"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(20*time.Millisecond)))

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&job.runs) >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestSchedulerJobTimeout(t *testing.T) {
	s := NewScheduler(SchedulerConfig{JobTimeout: 20 * time.Millisecond})
	job := &fakeJob{name: "stuck", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	started(s)

	s.dispatch(time.Now().Add(2 * time.Minute))
	require.Eventually(t, func() bool {
		info, _ := s.GetJobInfo("stuck")
		return info.LastResult != nil
	}, time.Second, 5*time.Millisecond)

	info, _ := s.GetJobInfo("stuck")
	assert.ErrorIs(t, info.LastResult.Error, context.DeadlineExceeded)
	require.NoError(t, s.Stop())
}

// ─────────────────────────────────────────────────────────────────────────────
// Schedules
// ─────────────────────────────────────────────────────────────────────────────

func TestCronScheduleNext(t *testing.T) {
	tests := []struct {
		expr string
		from time.Time
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC), time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)},
		{"30 8 * * 1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 29 2 *", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC)},
		{"0 0 30 2 *", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Time{}},
		{"0 9-17/4 * * *", time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)},
		{"5,10 * * * *", time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC), time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Next(tt.from))
			assert.Equal(t, tt.expr, c.String())
		})
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *", "*/0 * * * *", "5-2 * * * *", "a * * * *"} {
		_, err := ParseCron(expr)
		assert.ErrorIs(t, err, ErrInvalidSchedule, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 15m")
	require.NoError(t, err)
	assert.Equal(t, &IntervalSchedule{Interval: 15 * time.Minute}, s)

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), s.Next(from))

	s, err = ParseSchedule("@hourly")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), s.Next(from))

	s, err = ParseSchedule("@weekly")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), s.Next(from))

	_, err = ParseSchedule("@every soon")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = ParseSchedule("@every -1m")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
