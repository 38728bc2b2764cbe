package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

// CycleRunner runs one monitoring cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (*model.CycleResult, error)
}

// Cleaner drops history older than a cutoff
type Cleaner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SkipObserver is told about cycles that ended in a recovered panic
type SkipObserver interface {
	ObserveSkipped()
}

// Config holds the retention settings for the cleanup job
type Config struct {
	CleanupSchedule string
	RetentionDays   int
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithCleaner enables the retention cleanup job
func WithCleaner(c Cleaner, config Config) Option {
	return func(s *Scheduler) {
		s.cleaner = c
		s.config = config
	}
}

// WithSkipObserver registers an observer for panicked cycles
func WithSkipObserver(o SkipObserver) Option {
	return func(s *Scheduler) { s.skipObserver = o }
}

// WithClock overrides the wall clock used for retention cutoffs
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keyValueFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keyValueFields(keysAndValues), zap.Error(err))...)
}

func keyValueFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}

// Scheduler drives periodic monitoring cycles. At most one cycle runs at a
// time whether it was triggered by the interval or by RunOnce.
type Scheduler struct {
	logger       *zap.Logger
	runner       CycleRunner
	cleaner      Cleaner
	config       Config
	skipObserver SkipObserver
	clock        func() time.Time

	// single-flight token for cycles
	inflight chan struct{}

	// serializes Start and Stop
	lifecycle sync.Mutex
	kickoff   sync.WaitGroup

	mu      sync.RWMutex
	cron    *cron.Cron
	cycleID cron.EntryID
	state   model.MonitoringRunState
}

// New creates an idle scheduler
func New(logger *zap.Logger, runner CycleRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   logger.Named("scheduler"),
		runner:   runner,
		clock:    time.Now,
		inflight: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.CleanupSchedule == "" {
		s.config.CleanupSchedule = DefaultCleanupSchedule
	}
	return s
}

// Start begins continuous monitoring. The first cycle runs immediately and
// the following ones every interval.
func (s *Scheduler) Start(interval time.Duration) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Status().IsRunning {
		return ErrAlreadyRunning
	}
	if interval < MinInterval {
		return fmt.Errorf("%w: %s is below %s", ErrInvalidInterval, interval, MinInterval)
	}

	cl := &cronLogger{logger: s.logger.Named("cron")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)

	cycleID := c.Schedule(cron.Every(interval), cron.FuncJob(s.runScheduled))

	if s.cleaner != nil && s.config.RetentionDays > 0 {
		if _, err := c.AddFunc(s.config.CleanupSchedule, s.runCleanup); err != nil {
			return fmt.Errorf("invalid cleanup schedule: %w", err)
		}
	}

	s.mu.Lock()
	s.cron = c
	s.cycleID = cycleID
	s.state.IsRunning = true
	s.state.Interval = interval
	s.state.NextCycleAt = nil
	s.mu.Unlock()

	c.Start()
	s.updateNextCycle()

	s.kickoff.Add(1)
	go func() {
		defer s.kickoff.Done()
		s.runScheduled()
	}()

	s.logger.Info("Started monitoring",
		zap.Duration("interval", interval),
		zap.Int("retention_days", s.config.RetentionDays))
	return nil
}

// Stop halts future scheduling and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.Status().IsRunning {
		return ErrNotRunning
	}

	s.mu.RLock()
	c := s.cron
	s.mu.RUnlock()

	ctx := c.Stop()
	<-ctx.Done()
	s.kickoff.Wait()

	// a RunOnce cycle holds the token without going through cron
	s.inflight <- struct{}{}
	<-s.inflight

	s.mu.Lock()
	s.cron = nil
	s.state.IsRunning = false
	s.state.NextCycleAt = nil
	s.mu.Unlock()

	s.logger.Info("Stopped monitoring")
	return nil
}

// RunOnce runs a single cycle synchronously. If another cycle is in flight
// it waits for it to finish, or returns ctx.Err() when ctx ends first.
func (s *Scheduler) RunOnce(ctx context.Context) (*model.CycleResult, error) {
	select {
	case s.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.inflight }()

	return s.execute(ctx)
}

// Status returns a copy of the current run state
func (s *Scheduler) Status() model.MonitoringRunState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.state
	if state.LastCycleAt != nil {
		t := *state.LastCycleAt
		state.LastCycleAt = &t
	}
	if state.NextCycleAt != nil {
		t := *state.NextCycleAt
		state.NextCycleAt = &t
	}
	return state
}

// Cleanup deletes history older than the retention period
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	if s.cleaner == nil || s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock().UTC().AddDate(0, 0, -s.config.RetentionDays)
	return s.cleaner.DeleteBefore(ctx, cutoff)
}

// runScheduled runs an interval cycle, skipping the tick when a cycle is
// already in flight.
func (s *Scheduler) runScheduled() {
	select {
	case s.inflight <- struct{}{}:
	default:
		s.logger.Info("Previous cycle still running, skipping tick")
		return
	}
	defer func() { <-s.inflight }()

	_, _ = s.execute(context.Background())
	s.updateNextCycle()
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	deleted, err := s.Cleanup(ctx)
	if err != nil {
		s.logger.Error("Failed to clean up history", zap.Error(err))
		return
	}
	s.logger.Info("Cleaned up history",
		zap.Int64("deleted", deleted),
		zap.Int("retention_days", s.config.RetentionDays))
}

// execute runs the cycle and folds its outcome into the run state. Errors and
// panics turn the cycle into a skipped one; they never escape as a crash.
func (s *Scheduler) execute(ctx context.Context) (result *model.CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
			result = nil
			if s.skipObserver != nil {
				s.skipObserver.ObserveSkipped()
			}
		}
		s.record(result, err)
	}()

	return s.runner.RunCycle(ctx)
}

func (s *Scheduler) record(result *model.CycleResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TotalCyclesRun++
	if err != nil {
		s.state.SkippedCycles++
		s.state.LastError = err.Error()
		s.logger.Error("Skipped monitoring cycle",
			zap.Int("skipped_cycles", s.state.SkippedCycles),
			zap.Error(err))
		return
	}

	if result != nil {
		completed := result.CompletedAt
		if completed.IsZero() {
			completed = result.StartedAt
		}
		s.state.LastCycleAt = &completed
	}
	s.state.LastError = ""
}

func (s *Scheduler) updateNextCycle() {
	s.mu.RLock()
	c, id := s.cron, s.cycleID
	s.mu.RUnlock()
	if c == nil {
		return
	}

	next := c.Entry(id).Next
	if next.IsZero() {
		return
	}

	s.mu.Lock()
	if s.state.IsRunning {
		s.state.NextCycleAt = &next
	}
	s.mu.Unlock()
}
