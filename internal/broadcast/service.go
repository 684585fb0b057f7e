package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scuttlebot/internal/eventbus"
	"scuttlebot/internal/observability/metrics"
	logx "scuttlebot/pkg/logx"
)

// Request is one /broadcast invocation. A non-empty TestGuildID limits the
// run to that guild.
type Request struct {
	Template    string
	TestGuildID string
}

type Service struct {
	fanout  *Fanout
	source  TargetSource
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus
	now     func() time.Time

	mu        sync.RWMutex
	templates TemplateRegistry
}

type ServiceOption func(*Service)

func WithLogger(log logx.Logger) ServiceOption     { return func(s *Service) { s.log = log } }
func WithMetrics(m *metrics.Metrics) ServiceOption { return func(s *Service) { s.metrics = m } }
func WithBus(b eventbus.Bus) ServiceOption         { return func(s *Service) { s.bus = b } }
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

func NewService(templates TemplateRegistry, source TargetSource, fanout *Fanout, opts ...ServiceOption) *Service {
	s := &Service{templates: templates, source: source, fanout: fanout, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// SetTemplates replaces the registry used by subsequent runs.
func (s *Service) SetTemplates(r TemplateRegistry) {
	s.mu.Lock()
	s.templates = r
	s.mu.Unlock()
}

func (s *Service) Templates() TemplateRegistry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates
}

func (s *Service) lookup(key string) (Message, error) {
	reg := s.Templates()
	if reg != nil {
		if msg, ok := reg.Lookup(key); ok {
			return msg, nil
		}
	}
	return Message{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, key)
}

// Run fetches the current target list and broadcasts req.Template to it.
// The template is checked before the target source is contacted.
func (s *Service) Run(ctx context.Context, req Request) (Report, error) {
	msg, err := s.lookup(req.Template)
	if err != nil {
		return Report{}, s.reject(req.Template, err)
	}
	if s.source == nil {
		return Report{}, s.reject(req.Template, ErrSourceUnavailable)
	}
	targets, err := s.source.BroadcastTargets(ctx)
	if err != nil {
		return Report{}, s.reject(req.Template, fmt.Errorf("%w: %w", ErrSourceUnavailable, err))
	}
	return s.deliver(ctx, req.Template, msg, targets, req.TestGuildID)
}

// Broadcast sends the template to targets. Checks run in order: template,
// empty target set, test-mode filter. Any of them failing means nothing is
// sent.
func (s *Service) Broadcast(ctx context.Context, key string, targets []Target, testGuildID string) (Report, error) {
	msg, err := s.lookup(key)
	if err != nil {
		return Report{}, s.reject(key, err)
	}
	return s.deliver(ctx, key, msg, targets, testGuildID)
}

func (s *Service) deliver(ctx context.Context, key string, msg Message, targets []Target, testGuildID string) (Report, error) {
	if len(targets) == 0 {
		return Report{}, s.reject(key, ErrNoTargets)
	}
	if testGuildID != "" {
		targets = filterGuild(targets, testGuildID)
		if len(targets) == 0 {
			return Report{}, s.reject(key, fmt.Errorf("%w: %s", ErrTestTargetNotFound, testGuildID))
		}
	}

	runID := uuid.NewString()
	log := s.log.With(logx.String("run", runID), logx.String("template", key))
	log.Info("broadcast started", logx.Int("targets", len(targets)), logx.Bool("test", testGuildID != ""))

	start := s.now()
	rep := s.fanout.Deliver(ctx, msg, targets)
	rep.RunID = runID
	rep.Template = key
	rep.Test = testGuildID != ""
	rep.Duration = s.now().Sub(start)

	s.metrics.Deliveries(rep.Succeeded, rep.Failed)
	fields := []logx.Field{
		logx.Int("attempted", rep.Attempted),
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", rep.Duration),
	}
	if rep.Failed > 0 {
		s.metrics.BroadcastFinished("partial")
		log.Warn("broadcast finished with failures", append(fields, logx.Strings("failures", rep.FailureReasons))...)
	} else {
		s.metrics.BroadcastFinished("ok")
		log.Info("broadcast finished", fields...)
	}
	s.publish(eventbus.BroadcastFinished, rep)
	return rep, nil
}

func (s *Service) reject(key string, err error) error {
	s.metrics.BroadcastFinished("rejected")
	s.log.Info("broadcast rejected", logx.String("template", key), logx.Err(err))
	s.publish(eventbus.BroadcastRejected, err)
	return err
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func filterGuild(targets []Target, guildID string) []Target {
	var out []Target
	for _, t := range targets {
		if t.GuildID == guildID {
			out = append(out, t)
		}
	}
	return out
}
