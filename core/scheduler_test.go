package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayedSchedule_Next(t *testing.T) {
	first := time.Date(2026, 3, 1, 10, 3, 0, 0, time.UTC)
	schedule := delayedSchedule{first: first, delay: time.Hour}

	if got := schedule.Next(first.Add(-time.Minute)); !got.Equal(first) {
		t.Fatalf("expected first activation %s, got %s", first, got)
	}
	if got := schedule.Next(first); !got.Equal(first.Add(time.Hour)) {
		t.Fatalf("expected activation one interval later, got %s", got)
	}
}

func TestCronLogger_PrefixesErrors(t *testing.T) {
	logger := newCaptureLogger()
	cronLogger := NewCronLogger(logger)

	cronLogger.Info("schedule", "entry", 1)
	cronLogger.Error(errors.New("panic"), "job failed", "entry", 2)

	records := logger.snapshot()
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].level != "debug" {
		t.Fatalf("expected cron info at debug, got %q", records[0].level)
	}
	if records[1].level != "error" || records[1].fields["entry"] != 2 {
		t.Fatalf("unexpected error record %#v", records[1])
	}
	if err, ok := records[1].fields["error"].(error); !ok || err.Error() != "panic" {
		t.Fatalf("expected error field, got %#v", records[1].fields["error"])
	}
}

func TestScheduler_ForceCheckAndStopFlush(t *testing.T) {
	fx, err := newTestFixture(Config{}, []Token{testToken("t1", "repo")})
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	ctx := context.Background()
	scheduler := NewScheduler(fx.svc, nil, NewMergeCommitPoller(fx.svc))

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	hook, _ := fx.installHook(true)
	fx.remote.setLastResponse(hook.ID, DeliveryStatus{Code: intPtr(200)})

	report, err := scheduler.ForceCheck(ctx)
	if err != nil {
		t.Fatalf("force check: %v", err)
	}
	if outcome, ok := report.Outcome(testRepo); !ok || outcome.Status != HookStatusOK {
		t.Fatalf("expected OK outcome, got %#v", outcome)
	}
	if _, ok := scheduler.LastReport().Outcome(testRepo); !ok {
		t.Fatalf("expected last report to be remembered")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	fx.snapshots.mu.Lock()
	saves, hooks := fx.snapshots.saves, len(fx.snapshots.hooks)
	fx.snapshots.mu.Unlock()
	if saves != 2 || hooks != 1 {
		t.Fatalf("expected hooks and auth data flushed on stop, got %d saves with %d hooks", saves, hooks)
	}
}

func TestScheduler_StartRequiresService(t *testing.T) {
	if err := NewScheduler(nil, nil, nil).Start(context.Background()); err == nil {
		t.Fatalf("expected error without a service")
	}
}
