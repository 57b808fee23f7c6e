package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionSessionSweep ScheduledAction = "session_sweep"
	ActionLogRetention ScheduledAction = "log_retention"
)

// DefaultTaskTimeout bounds a single run of a scheduled task.
const DefaultTaskTimeout = 5 * time.Minute

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Action   ScheduledAction
	OneShot  bool
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron        *cron.Cron
	actions     map[ScheduledAction]func(ctx context.Context) error
	entries     map[string]cron.EntryID // task name -> entry
	taskTimeout time.Duration
	logger      *slog.Logger
	mu          sync.Mutex
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		actions:     make(map[ScheduledAction]func(ctx context.Context) error),
		entries:     make(map[string]cron.EntryID),
		taskTimeout: DefaultTaskTimeout,
		logger:      logger,
	}
}

// SetTaskTimeout changes the per-run timeout. Non-positive values are ignored.
func (s *Scheduler) SetTaskTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.taskTimeout = d
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a
// duration string. Task names must be unique.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	taskName := task.Name
	oneShot := task.OneShot
	logger := s.logger

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		// Read context under lock
		s.mu.Lock()
		ctx, timeout := s.ctx, s.taskTimeout
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", taskName)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			logger.Warn("scheduled task failed",
				"task", taskName,
				"error", err,
				"duration", time.Since(start))
		} else {
			logger.Debug("scheduled task completed",
				"task", taskName,
				"duration", time.Since(start))
		}

		if oneShot {
			s.removeEntry(taskName, entryID)
		}
	}))
	s.entries[taskName] = entryID

	logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// RemoveTask removes a task by name.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: task %q not found", name)
	}
	s.removeEntry(name, entryID)
	s.logger.Info("task removed", "name", name)
	return nil
}

func (s *Scheduler) removeEntry(name string, id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	if s.entries[name] == id {
		delete(s.entries, name)
	}
	s.mu.Unlock()
}

// NextRun returns the next scheduled run time for a task, or nil if the task
// is unknown or the scheduler has not started.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// Running jobs take s.mu, so wait without holding it.
	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// ParseSchedule exposes schedule parsing for config validation.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
