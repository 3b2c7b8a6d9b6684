package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/sync/index"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// TaskSource lists the saved tasks
type TaskSource interface {
	ListTasks(ctx context.Context) ([]index.TaskRecord, error)
}

// Starter launches one saved task
type Starter interface {
	StartTask(ctx context.Context, task index.TaskRecord) error
}

// Scheduler re-runs saved tasks every repeat interval
type Scheduler struct {
	tasks   TaskSource
	starter Starter
	clock   clockwork.Clock
	logger  logging.Logger
	// Ignore reports start errors that are expected, such as a run in progress
	ignore func(error) bool

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

type Options struct {
	Clock  clockwork.Clock
	Logger logging.Logger
	Ignore func(error) bool
}

func New(tasks TaskSource, starter Starter, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Ignore == nil {
		opts.Ignore = func(error) bool { return false }
	}
	cl := cronLogger{opts.Logger}
	return &Scheduler{
		tasks:   tasks,
		starter: starter,
		clock:   opts.Clock,
		logger:  opts.Logger,
		ignore:  opts.Ignore,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		entries: make(map[string]cron.EntryID),
	}
}

// Run starts due tasks, then keeps scheduling until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.RunDue(ctx)

	s.cron.Start()
	s.logger.Info("Scheduler started", logging.F("tasks", len(s.Scheduled())))
	<-ctx.Done()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("Scheduler stop timed out")
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// Reload replaces the schedule with the current saved tasks
func (s *Scheduler) Reload(ctx context.Context) error {
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	for _, task := range tasks {
		if task.Paused || task.RepeatInterval <= 0 {
			continue
		}
		id := task.ID
		entry := s.cron.Schedule(cron.Every(task.Interval()), cron.FuncJob(func() {
			s.tick(ctx, id)
		}))
		s.entries[id] = entry
	}
	return nil
}

// Scheduled returns the ids of tasks with a repeating schedule
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// RunDue starts every task whose interval elapsed since its last sync
func (s *Scheduler) RunDue(ctx context.Context) int {
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		s.logger.Error("Failed to list tasks", logging.F("error", err))
		return 0
	}
	now := s.clock.Now()
	started := 0
	for _, task := range tasks {
		if !task.Due(now) {
			continue
		}
		if s.start(ctx, task) {
			started++
		}
	}
	return started
}

// tick re-reads the task so pause and removal apply without a reload
func (s *Scheduler) tick(ctx context.Context, id string) {
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		s.logger.Error("Failed to list tasks", logging.F("error", err))
		return
	}
	for _, task := range tasks {
		if task.ID == id && !task.Paused {
			s.start(ctx, task)
			return
		}
	}
}

func (s *Scheduler) start(ctx context.Context, task index.TaskRecord) bool {
	err := s.starter.StartTask(ctx, task)
	switch {
	case err == nil:
		s.logger.Info("Scheduled sync started", logging.F("task", task.ID))
		return true
	case s.ignore(err) || errors.Is(err, context.Canceled):
		s.logger.Debug("Scheduled sync skipped", logging.F("task", task.ID), logging.F("reason", err))
	default:
		s.logger.Error("Scheduled sync failed to start", logging.F("task", task.ID), logging.F("error", err))
	}
	return false
}

// cronLogger adapts logging.Logger to cron.Logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), logging.F("error", err))
	l.logger.Error("cron: "+msg, fields...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
