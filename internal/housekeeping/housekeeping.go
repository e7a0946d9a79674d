// Package housekeeping runs the periodic sweeps that keep in-memory
// tables (locks, caches, menu renderings) bounded.
package housekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soyeahso/concierge/internal/logging"
)

const DefaultInterval = 10 * time.Minute

// SweepFunc removes stale entries and returns how many it dropped.
type SweepFunc func() int

type task struct {
	name  string
	sweep SweepFunc
}

// Scheduler runs every registered sweep on one cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	tasks   []task
	entry   cron.EntryID
	started bool
}

// New creates a scheduler that sweeps every interval.
func New(interval time.Duration, log *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := log.Sub("housekeeping")
	cl := cronLogger{log: l}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		interval: interval,
		log:      l,
	}
}

// Add registers a named sweep.
func (s *Scheduler) Add(name string, fn SweepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, sweep: fn})
}

// Spec is the cron schedule used.
func (s *Scheduler) Spec() string {
	return "@every " + s.interval.String()
}

// Start schedules the sweeps. Calling it twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	id, err := s.cron.AddFunc(s.Spec(), func() { s.RunOnce() })
	if err != nil {
		return fmt.Errorf("housekeeping: scheduling %q: %w", s.Spec(), err)
	}
	s.entry = id
	s.started = true
	s.cron.Start()
	s.log.Info().Str("schedule", s.Spec()).Int("tasks", len(s.tasks)).Msg("housekeeping started")
	return nil
}

// Next returns when the sweeps run next, zero before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce runs every sweep now and returns the entries dropped per task.
func (s *Scheduler) RunOnce() map[string]int {
	s.mu.Lock()
	tasks := make([]task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	out := make(map[string]int, len(tasks))
	total := 0
	for _, t := range tasks {
		n := s.run(t)
		out[t.name] = n
		total += n
	}
	s.log.Debug().Int("dropped", total).Msg("sweep finished")
	return out
}

func (s *Scheduler) run(t task) (n int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("task", t.name).Str("panic", fmt.Sprint(r)).Msg("sweep panicked")
			n = 0
		}
	}()
	return t.sweep()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info().Msg("housekeeping stopped")
}

// cronLogger routes cron's logs through zerolog.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
