// Package greeting sends unprompted greetings on a cron schedule through the
// lightweight profile.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/companion/internal/companion"
	. "github.com/roelfdiedericks/companion/internal/logging"
)

// ErrNoSchedule is returned when the schedule expression is empty.
var ErrNoSchedule = errors.New("greeting: no schedule configured")

// parser accepts standard 5-field expressions and descriptors like @daily.
var parser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// Sender is the part of companion.Engine the scheduler needs.
type Sender interface {
	SendMessage(ctx context.Context, text, partner string, mode companion.Mode, sink companion.OutputSink)
}

// Config describes the greeting job.
type Config struct {
	Schedule string
	Partner  string
	Text     string
	Location *time.Location // nil = local time
}

// Scheduler fires greetings at the times given by its schedule.
type Scheduler struct {
	cfg      Config
	schedule cronlib.Schedule
	sender   Sender
	sink     companion.OutputSink

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	lastRun time.Time
	runs    int
}

// New parses the schedule. Partner and Text must be set.
func New(cfg Config, sender Sender, sink companion.OutputSink) (*Scheduler, error) {
	expr := strings.TrimSpace(cfg.Schedule)
	if expr == "" {
		return nil, ErrNoSchedule
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if cfg.Partner == "" || strings.TrimSpace(cfg.Text) == "" {
		return nil, errors.New("greeting: partner and text are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{cfg: cfg, schedule: schedule, sender: sender, sink: sink}, nil
}

// Next returns the first greeting time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.cfg.Location))
}

// Start runs the schedule until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.runLoop(ctx, s.stopCh)
	L_info("greeting: scheduler started", "schedule", s.cfg.Schedule, "partner", s.cfg.Partner, "next", s.Next(time.Now()).Format(time.RFC3339))
}

func (s *Scheduler) runLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		next := s.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.RunNow(ctx)
		}
	}
}

// RunNow sends the greeting immediately. The reply arrives at the sink
// asynchronously.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.runs++
	s.mu.Unlock()

	L_debug("greeting: sending", "partner", s.cfg.Partner)
	s.sender.SendMessage(ctx, s.cfg.Text, s.cfg.Partner, companion.Mode{Greeting: true}, s.sink)
}

// Stop stops the schedule and waits for the loop to exit. Greetings already
// handed to the sender are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	L_debug("greeting: scheduler stopped")
}

// Runs returns how many greetings were sent and when the last one was.
func (s *Scheduler) Runs() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.lastRun
}
