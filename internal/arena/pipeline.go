package arena

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"scuttlebot/internal/eventbus"
	"scuttlebot/internal/observability/metrics"
	logx "scuttlebot/pkg/logx"
)

// Pipeline runs the arena stats and rankings queries against a Gateway.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	gw      Gateway
	queue   QueueType
	now     func() time.Time
	loc     atomic.Pointer[time.Location]
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }
func WithLogger(log logx.Logger) Option     { return func(p *Pipeline) { p.log = log } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }
func WithBus(b eventbus.Bus) Option         { return func(p *Pipeline) { p.bus = b } }
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) { p.SetLocation(loc) }
}

func NewPipeline(gw Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{gw: gw, queue: QueueArena, now: time.Now}
	p.loc.Store(time.UTC)
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p
}

// SetLocation changes the timezone windows are computed in (hot reload).
func (p *Pipeline) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	p.loc.Store(loc)
}

func (p *Pipeline) reference() time.Time { return p.now().In(p.loc.Load()) }

// StatsQuery is one /arena stats invocation.
type StatsQuery struct {
	GuildID  string
	Identity Identity
	Period   Period
}

// statsState is threaded through the stages; each stage reads what earlier
// stages produced and fills in its own part.
type statsState struct {
	q      StatsQuery
	window Window
	puuid  string
	result StatsResult
}

type statsStage struct {
	name string
	run  func(ctx context.Context, s *statsState) *Failure
}

// RunStatsQuery resolves the identity, confirms guild membership, checks that
// match data is cached and then fetches the stats. Stages run strictly in that
// order and the first failure ends the query. The returned error is either
// ErrInvalidPeriod or a *Failure.
func (p *Pipeline) RunStatsQuery(ctx context.Context, q StatsQuery) (StatsResult, error) {
	period, err := ParsePeriod(string(q.Period))
	if err != nil {
		return StatsResult{}, err
	}
	q.Period = period
	st := &statsState{q: q, window: StatsWindow(period, p.reference())}
	stages := []statsStage{
		{"identity", p.resolveIdentity},
		{"membership", p.confirmMembership},
		{"cache", p.checkCache},
		{"stats", p.fetchStats},
	}
	for _, stage := range stages {
		if f := stage.run(ctx, st); f != nil {
			f.Stage = stage.name
			p.finish("stats", q.GuildID, f)
			return StatsResult{}, f
		}
	}
	p.finish("stats", q.GuildID, nil)
	return st.result, nil
}

func (p *Pipeline) resolveIdentity(ctx context.Context, s *statsState) *Failure {
	puuid, err := p.gw.ResolveIdentity(ctx, s.q.Identity)
	switch {
	case errors.Is(err, ErrNotFound):
		return &Failure{
			Reason:  ReasonIdentityUnknown,
			Message: fmt.Sprintf("%s does not exist", s.q.Identity),
			Err:     err,
		}
	case err != nil:
		return upstream("", err)
	}
	s.puuid = puuid
	return nil
}

func (p *Pipeline) confirmMembership(ctx context.Context, s *statsState) *Failure {
	members, err := p.gw.GuildMembers(ctx, s.q.GuildID)
	if err != nil {
		return upstream("", err)
	}
	if len(members) == 0 {
		return &Failure{
			Reason:  ReasonNoGuildRoster,
			Message: "There are currently no summoners in your guild. Add a summoner with /summoners add to view their stats.",
		}
	}
	if _, ok := members[s.puuid]; !ok {
		return &Failure{
			Reason:  ReasonNotAMember,
			Message: fmt.Sprintf("Summoner %s is not part of your guild. Add them with /summoners add to view their stats.", s.q.Identity),
		}
	}
	return nil
}

func (p *Pipeline) checkCache(ctx context.Context, s *statsState) *Failure {
	cs, err := p.gw.CacheStatus(ctx, s.puuid, s.q.Identity, s.window.RangeDays)
	if err != nil {
		return upstream("", err)
	}
	if !cs.IsCached {
		return &Failure{
			Reason:  ReasonDataNotReady,
			Message: fmt.Sprintf("Summoner %s has been added recently and does not have match data yet. Please allow about 1 hour.", s.q.Identity),
		}
	}
	return nil
}

func (p *Pipeline) fetchStats(ctx context.Context, s *statsState) *Failure {
	res, err := p.gw.Stats(ctx, s.puuid, s.window.RangeDays, p.queue)
	switch {
	case errors.Is(err, ErrNotFound):
		return &Failure{
			Reason:  ReasonNoMatchesInRange,
			Message: fmt.Sprintf("No arena stats found for %s.", s.q.Identity),
			Err:     err,
		}
	case err != nil:
		return upstream("", err)
	case res.Empty():
		// An empty metric set is reported as no matches, with its own wording.
		return &Failure{
			Reason:  ReasonNoMatchesInRange,
			Message: fmt.Sprintf("%s has no arena games in the past %d day(s).", s.q.Identity, s.window.RangeDays),
		}
	}
	s.result = res
	return nil
}

// RankingsResult is a successful rankings query. Categories may be empty.
type RankingsResult struct {
	Window     Window
	Categories []RankingCategory
}

// RunRankingsQuery resolves the rankings window for period (weekly or
// monthly) and fetches the guild's top lists. Unlike stats, an empty result
// is a success.
func (p *Pipeline) RunRankingsQuery(ctx context.Context, guildID string, period Period) (RankingsResult, error) {
	parsed, err := ParsePeriod(string(period))
	if err != nil || parsed == Daily {
		return RankingsResult{}, fmt.Errorf("%w %q for rankings (use weekly or monthly)", ErrInvalidPeriod, period)
	}
	period = parsed
	win := RankingsWindow(period, p.reference())
	cats, err := p.gw.Rankings(ctx, guildID, win.Start, p.queue)
	if err != nil {
		f := upstream("rankings", err)
		if errors.Is(err, ErrNotFound) {
			f = &Failure{
				Reason:  ReasonNoRankingsData,
				Stage:   "rankings",
				Message: "No arena rankings data found. Make sure summoners are added to your server with /summoners add and have played arena games.",
				Err:     err,
			}
		}
		p.finish("rankings", guildID, f)
		return RankingsResult{}, f
	}
	p.finish("rankings", guildID, nil)
	return RankingsResult{Window: win, Categories: cats}, nil
}

func (p *Pipeline) finish(kind, guildID string, f *Failure) {
	if f == nil {
		p.metrics.QueryFinished(kind, "ok")
		p.log.Debug("arena query ok", logx.String("kind", kind), logx.String("guild_id", guildID))
		return
	}
	p.metrics.QueryFinished(kind, f.Reason.String())
	if f.Domain() {
		p.log.Debug("arena query stopped",
			logx.String("kind", kind),
			logx.String("guild_id", guildID),
			logx.String("stage", f.Stage),
			logx.String("reason", f.Reason.String()),
		)
		return
	}
	p.log.Warn("arena query upstream failure",
		logx.String("kind", kind),
		logx.String("guild_id", guildID),
		logx.String("stage", f.Stage),
		logx.Err(f.Err),
	)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.QueryUpstreamFail, Data: f})
	}
}
