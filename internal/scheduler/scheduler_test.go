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
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/geo-monitor/internal/model"
)

var (
	cycleTime = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	cycleEnd  = cycleTime.Add(90 * time.Second)
)

type fakeRunner struct {
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32

	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	panicMsg string
	err      error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 16)}
}

func (r *fakeRunner) set(panicMsg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicMsg = panicMsg
	r.err = err
}

func (r *fakeRunner) RunCycle(ctx context.Context) (*model.CycleResult, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.maxActive.Load()
		if n <= peak || r.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	r.calls.Add(1)
	r.started <- struct{}{}

	if r.release != nil {
		<-r.release
	}

	r.mu.Lock()
	panicMsg, err := r.panicMsg, r.err
	r.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return &model.CycleResult{Status: model.CycleStatusFailed, StartedAt: cycleTime, CompletedAt: cycleEnd}, err
	}
	return &model.CycleResult{CycleID: "cycle", Status: model.CycleStatusCompleted, StartedAt: cycleTime, CompletedAt: cycleEnd}, nil
}

func waitStarted(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not start")
	}
}

type fakeCleaner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (c *fakeCleaner) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoffs = append(c.cutoffs, before)
	return 3, nil
}

type skipCounter struct {
	skipped atomic.Int32
}

func (c *skipCounter) ObserveSkipped() {
	c.skipped.Add(1)
}

func TestScheduler_StartStop(t *testing.T) {
	runner := newFakeRunner()
	s := New(zaptest.NewLogger(t), runner)

	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.ErrorIs(t, s.Start(500*time.Millisecond), ErrInvalidInterval)
	assert.False(t, s.Status().IsRunning)

	before := time.Now()
	require.NoError(t, s.Start(time.Hour))
	assert.ErrorIs(t, s.Start(time.Hour), ErrAlreadyRunning)

	// the first cycle runs right away
	waitStarted(t, runner)

	status := s.Status()
	assert.True(t, status.IsRunning)
	assert.Equal(t, time.Hour, status.Interval)
	require.NotNil(t, status.NextCycleAt)
	assert.WithinDuration(t, before.Add(time.Hour), *status.NextCycleAt, 5*time.Second)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	status = s.Status()
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.NextCycleAt)
	assert.Equal(t, 1, status.TotalCyclesRun)
	require.NotNil(t, status.LastCycleAt)
	assert.Equal(t, cycleEnd, *status.LastCycleAt)

	// a stopped scheduler can be started again
	require.NoError(t, s.Start(time.Hour))
	waitStarted(t, runner)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	s := New(zaptest.NewLogger(t), runner)

	require.NoError(t, s.Start(time.Hour))
	waitStarted(t, runner)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, s.Status().IsRunning)

	close(runner.release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	status := s.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 1, status.TotalCyclesRun)
	assert.Equal(t, 0, status.SkippedCycles)
}

func TestScheduler_StopWaitsForRunOnceCycle(t *testing.T) {
	runner := newFakeRunner()
	s := New(zaptest.NewLogger(t), runner)

	require.NoError(t, s.Start(time.Hour))
	waitStarted(t, runner)
	require.Eventually(t, func() bool { return s.Status().TotalCyclesRun == 1 }, 5*time.Second, 10*time.Millisecond)

	// only the RunOnce cycle blocks
	runner.release = make(chan struct{})

	ran := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		ran <- err
	}()
	waitStarted(t, runner)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, s.Status().IsRunning)

	close(runner.release)
	require.NoError(t, <-ran)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	status := s.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 2, status.TotalCyclesRun)
}

func TestScheduler_TickSkippedWhileRunOnceInFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	s := New(zaptest.NewLogger(t), runner)

	ran := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		ran <- err
	}()
	waitStarted(t, runner)

	// the tick finds the token taken and returns without running
	ticked := make(chan struct{})
	go func() {
		s.runScheduled()
		close(ticked)
	}()
	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled tick blocked behind the in-flight cycle")
	}

	// status does not block on the in-flight cycle either
	status := make(chan model.MonitoringRunState, 1)
	go func() { status <- s.Status() }()
	select {
	case st := <-status:
		assert.Zero(t, st.TotalCyclesRun)
	case <-time.After(5 * time.Second):
		t.Fatal("status blocked behind the in-flight cycle")
	}

	close(runner.release)
	require.NoError(t, <-ran)

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxActive.Load())
	assert.Equal(t, 1, s.Status().TotalCyclesRun)
}

func TestScheduler_RunOnceIsSingleFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	s := New(zaptest.NewLogger(t), runner)

	first := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		first <- err
	}()
	waitStarted(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	second := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		second <- err
	}()

	close(runner.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	assert.Equal(t, int32(2), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxActive.Load())
	assert.Equal(t, 2, s.Status().TotalCyclesRun)
	assert.False(t, s.Status().IsRunning)
}

func TestScheduler_RunOnceRecoversPanics(t *testing.T) {
	runner := newFakeRunner()
	skips := &skipCounter{}
	s := New(zaptest.NewLogger(t), runner, WithSkipObserver(skips))

	runner.set("boom", nil)
	result, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrCyclePanic)
	assert.Nil(t, result)
	assert.Equal(t, int32(1), skips.skipped.Load())

	status := s.Status()
	assert.Equal(t, 1, status.TotalCyclesRun)
	assert.Equal(t, 1, status.SkippedCycles)
	assert.Contains(t, status.LastError, "boom")
	assert.Nil(t, status.LastCycleAt)

	runner.set("", errors.New("store unavailable"))
	result, err = s.RunOnce(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, model.CycleStatusFailed, result.Status)
	assert.Equal(t, 2, s.Status().SkippedCycles)
	assert.Equal(t, int32(1), skips.skipped.Load())

	runner.set("", nil)
	result, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CycleStatusCompleted, result.Status)

	status = s.Status()
	assert.Equal(t, 3, status.TotalCyclesRun)
	assert.Equal(t, 2, status.SkippedCycles)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.LastCycleAt)
	assert.Equal(t, cycleEnd, *status.LastCycleAt)
}

func TestScheduler_StatusIsACopy(t *testing.T) {
	s := New(zaptest.NewLogger(t), newFakeRunner())
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	status := s.Status()
	require.NotNil(t, status.LastCycleAt)
	*status.LastCycleAt = time.Time{}

	assert.Equal(t, cycleEnd, *s.Status().LastCycleAt)
}

func TestScheduler_Cleanup(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cleaner := &fakeCleaner{}
	s := New(zaptest.NewLogger(t), newFakeRunner(),
		WithCleaner(cleaner, Config{RetentionDays: 30}),
		WithClock(func() time.Time { return now }))

	deleted, err := s.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	require.Len(t, cleaner.cutoffs, 1)
	assert.Equal(t, now.AddDate(0, 0, -30), cleaner.cutoffs[0])

	disabled := New(zaptest.NewLogger(t), newFakeRunner())
	deleted, err = disabled.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestScheduler_InvalidCleanupSchedule(t *testing.T) {
	s := New(zaptest.NewLogger(t), newFakeRunner(),
		WithCleaner(&fakeCleaner{}, Config{CleanupSchedule: "not a schedule", RetentionDays: 30}))

	assert.Error(t, s.Start(time.Hour))
	assert.False(t, s.Status().IsRunning)
}
