// Package scheduler runs the recurring background jobs (inventory
// expiry checks, reminder email sweeps) on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"carelink/pkg/logx"
)

const (
	// defaultInterval is used when a task's configured interval is
	// missing or not positive. A bad interval downgrades, never fatals:
	// losing one background job must not take the process down.
	defaultInterval = time.Hour

	// stopGrace bounds how long Stop waits for in-flight task runs.
	stopGrace = 5 * time.Second
)

// Task is one recurring job.
type Task struct {
	Name       string
	Enabled    bool
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

type Scheduler struct {
	log  logx.Logger
	cron *cron.Cron

	mu      sync.Mutex
	tasks   []Task
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func New(log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:  log,
		cron: cron.New(),
	}
}

// Register adds a task. Disabled tasks are logged and skipped; they are
// not registered at all, so a disabled task costs nothing at runtime.
func (s *Scheduler) Register(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: register %q after start", t.Name)
	}

	if !t.Enabled {
		s.log.Info("scheduled task disabled", logx.String("task", t.Name))
		return nil
	}
	if t.Run == nil {
		return fmt.Errorf("scheduler: task %q has no body", t.Name)
	}
	if t.Interval <= 0 {
		s.log.Warn("task interval not positive, using default",
			logx.String("task", t.Name),
			logx.Duration("default", defaultInterval))
		t.Interval = defaultInterval
	}

	task := t
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", task.Interval), func() {
		s.runTask(task)
	}); err != nil {
		return fmt.Errorf("scheduler: add %q: %w", task.Name, err)
	}

	s.tasks = append(s.tasks, task)
	s.log.Info("scheduled task registered",
		logx.String("task", task.Name),
		logx.Duration("interval", task.Interval),
		logx.Bool("run_at_start", task.RunAtStart))
	return nil
}

// Start begins ticking. Tasks marked RunAtStart get an immediate run
// before their first interval elapses.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	s.cron.Start()
	for _, t := range tasks {
		if t.RunAtStart {
			task := t
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runTask(task)
			}()
		}
	}
	s.log.Info("scheduler started", logx.Int("tasks", len(tasks)))
}

func (s *Scheduler) runTask(t Task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked",
				logx.String("task", t.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.log.Warn("task run failed",
			logx.String("task", t.Name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Debug("task run complete",
		logx.String("task", t.Name),
		logx.Duration("took", time.Since(start)))
}

// Stop cancels task contexts and waits up to stopGrace (bounded also by
// ctx) for in-flight runs. Shutdown proceeds either way; a stuck task
// only earns a warning.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	cronDone := s.cron.Stop().Done()

	startDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(startDone)
	}()

	grace := time.NewTimer(stopGrace)
	defer grace.Stop()

	for _, ch := range []<-chan struct{}{cronDone, startDone} {
		select {
		case <-ch:
		case <-grace.C:
			s.log.Warn("tasks still running at shutdown, proceeding")
			return
		case <-ctx.Done():
			s.log.Warn("shutdown context expired while waiting for tasks")
			return
		}
	}
	s.log.Info("scheduler stopped")
}
