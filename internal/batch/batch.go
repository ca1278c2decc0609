// Package batch submits task definitions on cron schedules. Each schedule
// names a task definition file; when its cron expression fires, the
// definition is loaded and dispatched like a manual run.
package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/patchstorm/patchstorm/internal/config"
)

// Schedule is one cron-driven submission
type Schedule struct {
	Name           string
	Cron           string
	TaskDefinition string // path to the task definition file
}

// Validate checks the schedule is well formed
func (s Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if s.TaskDefinition == "" {
		return fmt.Errorf("schedule %s: task definition path is required", s.Name)
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron %q: %w", s.Name, s.Cron, err)
	}
	return nil
}

// FromConfig converts configured schedules
func FromConfig(cfgs []config.ScheduleConfig) []Schedule {
	schedules := make([]Schedule, 0, len(cfgs))
	for _, c := range cfgs {
		schedules = append(schedules, Schedule{
			Name:           c.Name,
			Cron:           c.Cron,
			TaskDefinition: c.TaskDefinition,
		})
	}
	return schedules
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler tracks schedule state and fires due submissions
type Scheduler struct {
	schedules map[string]Schedule
	parser    cron.Parser
	lastRun   map[string]time.Time
	running   map[string]bool
	mu        sync.RWMutex
}

// NewScheduler creates a Scheduler after validating every schedule
func NewScheduler(schedules []Schedule) (*Scheduler, error) {
	s := &Scheduler{
		schedules: make(map[string]Schedule),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
	}
	for _, sched := range schedules {
		if err := sched.Validate(); err != nil {
			return nil, err
		}
		s.schedules[sched.Name] = sched
	}
	return s, nil
}

// Names returns all schedule names
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.schedules))
	for name := range s.schedules {
		names = append(names, name)
	}
	return names
}

// Get returns the schedule by name
func (s *Scheduler) Get(name string) (Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[name]
	return sched, ok
}

// NextRun returns the next fire time for a schedule
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	expr, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return time.Time{}
	}
	return expr.Next(time.Now())
}

// ShouldRun reports whether a schedule is due and not already in flight
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok || s.running[name] {
		return false
	}

	expr, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(expr.Next(lastRun))
}

// MarkRunning marks a schedule as in flight
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a schedule as finished and records the fire time
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// Run checks the schedules once a minute and submits due ones through
// submit. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, submit func(context.Context, Schedule) error) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range s.Names() {
				if !s.ShouldRun(name) {
					continue
				}
				sched, _ := s.Get(name)
				s.MarkRunning(name)
				go func(sc Schedule) {
					defer s.MarkComplete(sc.Name)
					if err := submit(ctx, sc); err != nil {
						log.Printf("schedule %s: %v", sc.Name, err)
					}
				}(sched)
			}
		}
	}
}
