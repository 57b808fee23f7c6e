package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "sweep", Schedule: "50ms", Action: ActionSessionSweep,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{
		Name: "unknown", Schedule: "100ms", Action: "does_not_exist",
	})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSchedulerDuplicateTaskName(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error { return nil })

	if err := s.AddTask(ScheduledTask{Name: "sweep", Schedule: "1m", Action: ActionSessionSweep}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(ScheduledTask{Name: "sweep", Schedule: "1m", Action: ActionSessionSweep}); err == nil {
		t.Error("expected error for duplicate task name")
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{
		Name: "ctx-task", Schedule: "50ms", Action: ActionSessionSweep,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop()

	countAfterCancel := count.Load()
	time.Sleep(100 * time.Millisecond)

	if count.Load() != countAfterCancel {
		t.Error("task continued after context cancellation")
	}
}

func TestSchedulerMultipleTasks(t *testing.T) {
	var sweepCount, retentionCount atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error {
		sweepCount.Add(1)
		return nil
	})
	s.RegisterAction(ActionLogRetention, func(ctx context.Context) error {
		retentionCount.Add(1)
		return nil
	})

	s.AddTask(ScheduledTask{Name: "sweep", Schedule: "50ms", Action: ActionSessionSweep})
	s.AddTask(ScheduledTask{Name: "retention", Schedule: "50ms", Action: ActionLogRetention})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if sweepCount.Load() < 1 {
		t.Error("session_sweep never fired")
	}
	if retentionCount.Load() < 1 {
		t.Error("log_retention never fired")
	}
}

func TestSchedulerActionError(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionLogRetention, func(ctx context.Context) error {
		return fmt.Errorf("simulated error")
	})
	s.AddTask(ScheduledTask{Name: "failing", Schedule: "50ms", Action: ActionLogRetention})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerTaskTimeout(t *testing.T) {
	var deadline atomic.Bool

	s := NewScheduler(newTestLogger())
	s.SetTaskTimeout(10 * time.Millisecond)
	s.RegisterAction(ActionLogRetention, func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(ctx.Err() == context.DeadlineExceeded)
		return ctx.Err()
	})
	s.AddTask(ScheduledTask{Name: "slow", Schedule: "30ms", Action: ActionLogRetention, OneShot: true})

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if !deadline.Load() {
		t.Error("task context did not hit its deadline")
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop without start: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "@every 30m", "@hourly", "30m", "100ms"}
	for _, in := range valid {
		sched, err := ParseSchedule(in)
		if err != nil {
			t.Errorf("ParseSchedule(%q): %v", in, err)
			continue
		}
		if sched == nil {
			t.Errorf("ParseSchedule(%q): nil schedule", in)
		}
	}

	invalid := []string{"", "not-a-schedule", "-5m", "0s"}
	for _, in := range invalid {
		if _, err := ParseSchedule(in); err == nil {
			t.Errorf("ParseSchedule(%q): expected error", in)
		}
	}
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{Name: "once", Schedule: "30ms", Action: ActionSessionSweep, OneShot: true})

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, want 1", c)
	}
	if s.NextRun("once") != nil {
		t.Error("one-shot task should be removed after running")
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error { return nil })

	if err := s.AddTask(ScheduledTask{Name: "bad", Schedule: "whenever", Action: ActionSessionSweep}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestSchedulerRemoveTask(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{Name: "sweep", Schedule: "40ms", Action: ActionSessionSweep})

	s.Start(context.Background())
	defer s.Stop()

	if next := s.NextRun("sweep"); next == nil {
		t.Fatal("expected a next run for a scheduled task")
	}
	if err := s.RemoveTask("sweep"); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	after := count.Load()
	time.Sleep(120 * time.Millisecond)
	if count.Load() != after {
		t.Error("removed task kept running")
	}
	if err := s.RemoveTask("sweep"); err == nil {
		t.Error("expected error removing unknown task")
	}
}
