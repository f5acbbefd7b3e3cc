package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// delayedSchedule fires once at first and then every delay after the previous
// activation.
type delayedSchedule struct {
	first time.Time
	delay time.Duration
}

func (s delayedSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return t.Add(s.delay)
}

// CronLogger adapts a Logger to the cron.Logger interface.
type CronLogger struct {
	Logger Logger
}

func NewCronLogger(logger Logger) CronLogger {
	return CronLogger{Logger: logger}
}

func (l CronLogger) Info(msg string, keysAndValues ...any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Debug(msg, keysAndValues...)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.Logger == nil {
		return
	}
	args := append([]any{"error", err}, keysAndValues...)
	l.Logger.Error(msg, args...)
}

// Scheduler drives the periodic health check and registry persistence.
type Scheduler struct {
	service *Service
	checker *HealthChecker
	poller  *MergeCommitPoller
	logger  Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	last    HealthReport
}

func NewScheduler(service *Service, checker *HealthChecker, poller *MergeCommitPoller) *Scheduler {
	if checker == nil && service != nil {
		checker = NewHealthChecker(service)
	}
	s := &Scheduler{service: service, checker: checker, poller: poller}
	if service != nil {
		s.logger = service.NamedLogger("commithooks.scheduler")
	}
	return s
}

// Start restores persisted state and starts the periodic jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.service == nil {
		return fmt.Errorf("core: scheduler is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.service.Restore(ctx); err != nil {
		return err
	}

	cfg := s.service.Config()
	logger := NewCronLogger(s.logger)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	now := s.service.now()
	interval := cfg.Check.Interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	c.Schedule(delayedSchedule{first: now.Add(cfg.Check.InitialDelay), delay: interval}, cron.FuncJob(s.runCheck))

	persist := cfg.PersistInterval
	if persist <= 0 {
		persist = DefaultPersistInterval
	}
	c.Schedule(delayedSchedule{first: now.Add(persist), delay: persist}, cron.FuncJob(s.runFlush))

	c.Start()
	s.cron = c
	s.started = true
	logWithLevel(ctx, s.logger, "info", "scheduler started", map[string]any{
		"check_interval":   interval.String(),
		"initial_delay":    cfg.Check.InitialDelay.String(),
		"persist_interval": persist.String(),
	})
	return nil
}

// Stop halts the periodic jobs, waits for the running ones and flushes.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.poller != nil {
		s.poller.Stop()
	}
	return s.service.Flush(ctx)
}

// ForceCheck runs a health check pass immediately.
func (s *Scheduler) ForceCheck(ctx context.Context) (HealthReport, error) {
	if s == nil || s.checker == nil {
		return HealthReport{}, fmt.Errorf("core: scheduler is not configured")
	}
	report, err := s.checker.RunOnce(ctx)
	s.remember(report)
	return report, err
}

// LastReport returns the report of the most recent pass.
func (s *Scheduler) LastReport() HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) remember(report HealthReport) {
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
}

func (s *Scheduler) runCheck() {
	report, err := s.checker.RunOnce(context.Background())
	s.remember(report)
	if err != nil {
		logWithLevel(context.Background(), s.logger, "error", "health check failed", map[string]any{"error": err.Error()})
	}
}

func (s *Scheduler) runFlush() {
	if err := s.service.Flush(context.Background()); err != nil {
		logWithLevel(context.Background(), s.logger, "error", "persisting hooks failed", map[string]any{"error": err.Error()})
	}
}
