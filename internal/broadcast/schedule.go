package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "scuttlebot/pkg/logx"
)

// Schedule triggers a broadcast run on a cron spec or a fixed interval.
//
// Spec accepts cron expressions ("0 18 * * 5", "@weekly"), "@every 6h" and
// plain Go durations ("24h"), which are treated as "@every".
type Schedule struct {
	Name        string
	Spec        string
	Template    string
	TestGuildID string
	Timeout     time.Duration
}

// Runner is satisfied by *Service.
type Runner interface {
	Run(ctx context.Context, req Request) (Report, error)
}

// Scheduler fires scheduled broadcasts. Apply may be called at any time; it
// rebuilds the cron table when the scheduler is running.
type Scheduler struct {
	runner Runner
	log    logx.Logger
	parser cron.Parser

	mu        sync.Mutex
	c         *cron.Cron
	ctx       context.Context
	loc       *time.Location
	schedules []Schedule
	ids       map[string]cron.EntryID

	// draining holds the Stop contexts of replaced tables whose jobs may still run.
	draining []context.Context
}

func NewScheduler(runner Runner, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		runner: runner,
		log:    log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.UTC,
	}
}

func normalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '0 18 * * 5' or a duration like '24h')", raw)
	}
	if d <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}
	return "@every " + d.String(), nil
}

// Validate checks every schedule without touching the running table.
func (s *Scheduler) Validate(schedules []Schedule) error {
	seen := map[string]bool{}
	for _, sc := range schedules {
		if sc.Name == "" {
			return fmt.Errorf("schedule name required")
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate schedule %q", sc.Name)
		}
		seen[sc.Name] = true
		if sc.Template == "" {
			return fmt.Errorf("schedule %q: template required", sc.Name)
		}
		spec, err := normalizeSpec(sc.Spec)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
	}
	return nil
}

// Apply installs schedules evaluated in loc. A broadcast already running
// keeps going under its own timeout; Apply does not wait for it.
func (s *Scheduler) Apply(schedules []Schedule, loc *time.Location) error {
	if err := s.Validate(schedules); err != nil {
		return err
	}
	if loc == nil {
		loc = time.UTC
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append([]Schedule(nil), schedules...)
	s.loc = loc
	if s.c != nil {
		s.restartLocked()
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.restartLocked()
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	pending := s.draining
	s.draining = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	pending = append(pending, c.Stop())
	for _, done := range pending {
		select {
		case <-done.Done():
		case <-ctx.Done():
			s.log.Warn("scheduler stop timed out with broadcasts still running")
			return
		}
	}
	s.log.Info("scheduler stopped")
}

// Entries lists installed schedules with their next fire time.
func (s *Scheduler) Entries() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{}
	if s.c == nil {
		return out
	}
	for name, id := range s.ids {
		out[name] = s.c.Entry(id).Next
	}
	return out
}

func (s *Scheduler) restartLocked() {
	kept := s.draining[:0]
	for _, done := range s.draining {
		if done.Err() == nil {
			kept = append(kept, done)
		}
	}
	s.draining = kept
	if s.c != nil {
		s.draining = append(s.draining, s.c.Stop())
	}
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.ids = make(map[string]cron.EntryID, len(s.schedules))
	for _, sc := range s.schedules {
		spec, _ := normalizeSpec(sc.Spec)
		id, err := s.c.AddJob(spec, s.job(parent, sc))
		if err != nil {
			s.log.Warn("schedule rejected", logx.String("schedule", sc.Name), logx.Err(err))
			continue
		}
		s.ids[sc.Name] = id
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.schedules)))
}

func (s *Scheduler) job(parent context.Context, sc Schedule) cron.Job {
	return cron.FuncJob(func() {
		if parent.Err() != nil {
			return
		}
		timeout := sc.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		log := s.log.With(logx.String("schedule", sc.Name))
		rep, err := s.runner.Run(ctx, Request{Template: sc.Template, TestGuildID: sc.TestGuildID})
		if err != nil {
			log.Warn("scheduled broadcast failed", logx.Err(err))
			return
		}
		log.Info("scheduled broadcast done",
			logx.String("run", rep.RunID),
			logx.Int("succeeded", rep.Succeeded),
			logx.Int("failed", rep.Failed),
		)
	})
}
