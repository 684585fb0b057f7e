package app

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"scuttlebot/internal/arena"
	"scuttlebot/internal/broadcast"
	"scuttlebot/internal/transport/telegram/router"
	logx "scuttlebot/pkg/logx"
	"scuttlebot/pkg/tgui"
)

type arenaQueries interface {
	RunStatsQuery(ctx context.Context, q arena.StatsQuery) (arena.StatsResult, error)
	RunRankingsQuery(ctx context.Context, guildID string, period arena.Period) (arena.RankingsResult, error)
}

type broadcaster interface {
	Run(ctx context.Context, req broadcast.Request) (broadcast.Report, error)
	Templates() broadcast.TemplateRegistry
}

// commandSet holds the bot's chat commands and what they talk to.
type commandSet struct {
	arena arenaQueries
	bc    broadcaster
	now   func() time.Time
	loc   atomic.Pointer[time.Location]
	topN  atomic.Int64

	// health is optional; /health is only registered when it is set.
	health func() string
}

func newCommandSet(q arenaQueries, bc broadcaster) *commandSet {
	c := &commandSet{arena: q, bc: bc, now: time.Now}
	c.loc.Store(time.UTC)
	return c
}

func (c *commandSet) setLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	c.loc.Store(loc)
}

func (c *commandSet) commands(broadcastTimeout time.Duration) []router.Command {
	cmds := []router.Command{
		{
			Route:       "arena stats",
			Aliases:     []string{"stats"},
			Description: "arena stats for a tracked player",
			Usage:       "/arena stats <daily|weekly|monthly> <name> <tag>\n/arena stats weekly Name#TAG",
			Scope:       router.ScopeGroup,
			Handle:      c.arenaStats,
		},
		{
			Route:       "arena rankings",
			Aliases:     []string{"rankings"},
			Description: "top arena players in this group",
			Usage:       "/arena rankings <weekly|monthly>",
			Scope:       router.ScopeGroup,
			Handle:      c.arenaRankings,
		},
		{
			Route:       "broadcast",
			Description: "send a template to every guild",
			Usage:       "/broadcast <template> [--test <guild_id>]",
			Access:      router.AccessOwnerOnly,
			Timeout:     broadcastTimeout,
			Handle:      c.broadcast,
		},
		{
			Route:       "broadcast templates",
			Description: "list broadcast templates",
			Usage:       "/broadcast templates",
			Access:      router.AccessOwnerOnly,
			Handle:      c.templates,
		},
	}
	if c.health != nil {
		cmds = append(cmds, router.Command{
			Route:       "health",
			Description: "runtime status",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, c.health())
			},
		})
	}
	return cmds
}

// parseIdentity accepts "Name Tag", "Name With Spaces Tag" and "Name#Tag".
func parseIdentity(args []string) (arena.Identity, error) {
	joined := strings.TrimSpace(strings.Join(args, " "))
	if i := strings.LastIndexByte(joined, '#'); i >= 0 {
		id := arena.Identity{Name: strings.TrimSpace(joined[:i]), Tag: strings.TrimSpace(joined[i+1:])}
		if id.Name != "" && id.Tag != "" && !strings.Contains(id.Tag, " ") {
			return id, nil
		}
		return arena.Identity{}, errors.New("expected Name#Tag")
	}
	if len(args) < 2 {
		return arena.Identity{}, errors.New("missing name or tag")
	}
	return arena.Identity{
		Name: strings.Join(args[:len(args)-1], " "),
		Tag:  strings.TrimPrefix(args[len(args)-1], "#"),
	}, nil
}

func (c *commandSet) arenaStats(ctx context.Context, req *router.Request) error {
	const u = "/arena stats <daily|weekly|monthly> <name> <tag>"
	if len(req.Args) < 2 {
		return req.Reply(ctx, usage("Arena Stats Command Error", u))
	}
	period, err := arena.ParsePeriod(req.Args[0])
	if err != nil {
		return req.Reply(ctx, renderQueryError("Arena Stats Command Error", err))
	}
	id, err := parseIdentity(req.Args[1:])
	if err != nil {
		return req.Reply(ctx, usage("Arena Stats Command Error", u))
	}

	res, err := c.arena.RunStatsQuery(ctx, arena.StatsQuery{GuildID: req.GuildID(), Identity: id, Period: period})
	if err != nil {
		if sendErr := req.Reply(ctx, renderQueryError("Arena Stats Command Error", err)); sendErr != nil {
			return sendErr
		}
		return queryErr(err)
	}
	days := arena.StatsWindow(period, c.now()).RangeDays
	return req.Reply(ctx, renderStats(id, days, res))
}

func (c *commandSet) arenaRankings(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, usage("Arena Rankings Command Error", "/arena rankings <weekly|monthly>"))
	}
	period, err := arena.ParsePeriod(req.Args[0])
	if err != nil {
		return req.Reply(ctx, renderQueryError("Arena Rankings Command Error", err))
	}
	res, err := c.arena.RunRankingsQuery(ctx, req.GuildID(), period)
	if err != nil {
		if sendErr := req.Reply(ctx, renderQueryError("Arena Rankings Command Error", err)); sendErr != nil {
			return sendErr
		}
		return queryErr(err)
	}
	title := ""
	if req.Message != nil {
		title = req.Message.ChatTitle
	}
	today := c.now().In(c.loc.Load())
	return req.Reply(ctx, renderRankings(title, res, today, int(c.topN.Load())))
}

// queryErr keeps expected outcomes out of the error path so request logs
// and metrics only count real failures.
func queryErr(err error) error {
	if f, ok := arena.AsFailure(err); ok && f.Domain() {
		return nil
	}
	if errors.Is(err, arena.ErrInvalidPeriod) {
		return nil
	}
	return err
}

func (c *commandSet) broadcast(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, usage("Broadcast Error", "/broadcast <template> [--test <guild_id>]"))
	}
	br := broadcast.Request{Template: req.Args[0], TestGuildID: strings.TrimSpace(req.Flags["test"])}
	if req.BoolFlags["test"] {
		return req.Reply(ctx, usage("Broadcast Error", "/broadcast <template> --test <guild_id>"))
	}

	req.Logger.Info("broadcast requested", logx.String("template", br.Template), logx.String("test_guild_id", br.TestGuildID))
	rep, err := c.bc.Run(ctx, br)
	if err != nil {
		if sendErr := req.Reply(ctx, renderBroadcastError(err, br)); sendErr != nil {
			return sendErr
		}
		if errors.Is(err, broadcast.ErrSourceUnavailable) {
			return err
		}
		return nil
	}
	return req.Reply(ctx, renderReport(rep))
}

func (c *commandSet) templates(ctx context.Context, req *router.Request) error {
	reg := c.bc.Templates()
	if reg == nil {
		return req.Reply(ctx, renderTemplates(nil))
	}
	return req.Reply(ctx, renderTemplates(reg.Keys()))
}

// scheduleStatus is the schedule part of /health.
func scheduleStatus(entries map[string]time.Time, loc *time.Location) string {
	if len(entries) == 0 {
		return "no scheduled broadcasts"
	}
	var t tgui.Text
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		next := "not scheduled"
		if at := entries[name]; !at.IsZero() {
			next = "next " + at.In(loc).Format(time.DateTime)
		}
		t.Line(tgui.Raw("• "), tgui.Esc(name+": "+next))
	}
	return t.String()
}
