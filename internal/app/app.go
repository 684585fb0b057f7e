// Package app wires config, the Telegram transport, the stats backend, the
// arena pipeline and the broadcast service into one process, and applies
// config hot-reloads to all of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scuttlebot/internal/arena"
	"scuttlebot/internal/broadcast"
	"scuttlebot/internal/config"
	"scuttlebot/internal/eventbus"
	"scuttlebot/internal/observability/debugsrv"
	"scuttlebot/internal/observability/metrics"
	"scuttlebot/internal/runtime/sdnotify"
	rtsup "scuttlebot/internal/runtime/supervisor"
	"scuttlebot/internal/scuttleapi"
	kit "scuttlebot/internal/transport"
	telegram "scuttlebot/internal/transport/telegram/adapter"
	"scuttlebot/internal/transport/telegram/router"
	logx "scuttlebot/pkg/logx"
	"scuttlebot/pkg/tgui"
)

type App struct {
	cfgPath string
	started time.Time

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	sd      *sdnotify.Notifier

	adapter *telegram.Adapter
	api     *scuttleapi.Client
	arena   *arena.Pipeline
	fanout  *broadcast.Fanout
	bc      *broadcast.Service
	sched   *broadcast.Scheduler
	debug   *debugsrv.Server

	cmds *commandSet
	cmdm *router.CommandManager

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath, bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
		bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The log target goes in before logx.New so the first Apply already has
	// somewhere to send chat lines.
	target, err := mapLogTarget(cfg)
	if err != nil {
		return nil, err
	}
	ad.SetLogTarget(target)
	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	m := metrics.New()
	bus := eventbus.New()

	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		return nil, err
	}
	api, err := scuttleapi.New(apiCfg,
		scuttleapi.WithLogger(log.With(logx.String("comp", "scuttleapi"))),
		scuttleapi.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	loc, err := mapLocation(cfg)
	if err != nil {
		return nil, err
	}
	pipeline := arena.NewPipeline(api,
		arena.WithLogger(log.With(logx.String("comp", "arena"))),
		arena.WithMetrics(m),
		arena.WithBus(bus),
		arena.WithLocation(loc))

	fanout := broadcast.NewFanout(ad, mapFanoutConfig(cfg), log.With(logx.String("comp", "fanout")))
	bc := broadcast.NewService(mapTemplates(cfg), api, fanout,
		broadcast.WithLogger(log.With(logx.String("comp", "broadcast"))),
		broadcast.WithMetrics(m),
		broadcast.WithBus(bus))

	sched := broadcast.NewScheduler(bc, log.With(logx.String("comp", "schedule")))
	schedules, err := mapSchedules(cfg)
	if err != nil {
		return nil, err
	}
	if err := sched.Apply(schedules, loc); err != nil {
		return nil, err
	}

	opts, err := mapRouterOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.Metrics = m
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.OwnerSet(cfg.Telegram.OwnerUserIDs), opts)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		metrics: m,
		sd:      sdnotify.New(log.With(logx.String("comp", "systemd"))),
		adapter: ad,
		api:     api,
		arena:   pipeline,
		fanout:  fanout,
		bc:      bc,
		sched:   sched,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
	a.debug = debugsrv.New(log.With(logx.String("comp", "debug")), m.Handler(), a.healthz)

	a.cmds = newCommandSet(pipeline, bc)
	a.cmds.setLocation(loc)
	a.cmds.topN.Store(int64(cfg.Arena.TopN))
	a.cmds.health = a.healthText
	cmdm.SetRegistry(a.cmds.commands(broadcastTimeout(schedules)))
	return a, nil
}

// broadcastTimeout gives /broadcast as long as the slowest scheduled run.
func broadcastTimeout(schedules []broadcast.Schedule) time.Duration {
	d := 10 * time.Minute
	for _, s := range schedules {
		if s.Timeout > d {
			d = s.Timeout
		}
	}
	return d
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go("commands.menu", func(c context.Context) error {
		if err := a.cmdm.SyncMenu(c); err != nil {
			a.log.Warn("menu sync failed", logx.Err(err))
		}
		return nil
	})

	a.sched.Start(a.sup.Context())
	if err := a.applyDebug(a.sup.Context(), a.cfgm.Get()); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				next = coalesce(sub, next)
				a.sd.Reloading()
				a.applyConfig(c, last, next)
				last = next
				a.sd.Ready()
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := a.sd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		}
		return nil
	})

	a.sd.Ready()
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// coalesce keeps only the latest config from a burst of reloads.
func coalesce(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) logEvent(e eventbus.Event) {
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	if rep, ok := e.Data.(broadcast.Report); ok && e.Type == eventbus.BroadcastFinished {
		a.sd.Status(fmt.Sprintf("last broadcast %s: %d/%d delivered", rep.Template, rep.Succeeded, rep.Attempted))
	}
}

// applyConfig pushes a validated config into every live component. A section
// that fails to map keeps its previous settings.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)

	target, err := mapLogTarget(next)
	if err != nil {
		a.log.Warn("invalid log target; keeping previous", logx.Err(err))
	} else {
		a.adapter.SetLogTarget(target)
	}
	a.logs.Apply(mapLogConfig(next))

	if apiCfg, err := mapAPIConfig(next); err != nil {
		a.log.Warn("invalid api config; keeping previous", logx.Err(err))
	} else if err := a.api.Apply(apiCfg); err != nil {
		a.log.Warn("api config rejected; keeping previous", logx.Err(err))
	}

	loc, err := mapLocation(next)
	if err != nil {
		a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
	} else {
		a.arena.SetLocation(loc)
		a.cmds.setLocation(loc)
	}
	a.cmds.topN.Store(int64(next.Arena.TopN))

	a.fanout.Apply(mapFanoutConfig(next))
	a.bc.SetTemplates(mapTemplates(next))
	if schedules, err := mapSchedules(next); err != nil {
		a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(schedules, loc); err != nil {
		a.log.Warn("schedules rejected; keeping previous", logx.Err(err))
	}

	a.cmdm.SetAuthorizer(router.OwnerSet(next.Telegram.OwnerUserIDs))

	if err := a.applyDebug(ctx, next); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	if prev != nil && (prev.Telegram.Token != next.Telegram.Token ||
		prev.Telegram.PollTimeout != next.Telegram.PollTimeout ||
		prev.Telegram.CommandWorkers != next.Telegram.CommandWorkers ||
		prev.Telegram.CommandTimeout != next.Telegram.CommandTimeout) {
		a.log.Warn("telegram transport settings changed; restart required")
	}
	if len(sections) > 0 {
		a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
	} else {
		a.log.Info("config applied (no changes)")
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Time: time.Now(), Data: sections})
}

func (a *App) applyDebug(ctx context.Context, cfg *config.Config) error {
	dc, err := mapDebugConfig(cfg)
	if err != nil {
		return err
	}
	return a.debug.Apply(ctx, dc)
}

type healthDetail struct {
	Uptime    string               `json:"uptime"`
	Err       string               `json:"err,omitempty"`
	App       []rtsup.TaskStats    `json:"app"`
	Telegram  []rtsup.TaskStats    `json:"telegram,omitempty"`
	Commands  []rtsup.TaskStats    `json:"commands,omitempty"`
	Schedules map[string]time.Time `json:"schedules,omitempty"`
}

func (a *App) health() healthDetail {
	d := healthDetail{Schedules: a.sched.Entries()}
	if !a.started.IsZero() {
		d.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	if a.sup != nil {
		d.App = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			d.Err = err.Error()
		}
	}
	if s := a.adapter.Supervisor(); s != nil {
		d.Telegram = s.Snapshot()
	}
	if s := a.cmdm.Supervisor(); s != nil {
		d.Commands = s.Snapshot()
	}
	return d
}

func (a *App) healthz() (bool, any) {
	d := a.health()
	return d.Err == "", d
}

func (a *App) healthText() string {
	d := a.health()
	running := 0
	for _, group := range [][]rtsup.TaskStats{d.App, d.Telegram, d.Commands} {
		for _, t := range group {
			if t.Running {
				running++
			}
		}
	}
	var t tgui.Text
	t.Line(tgui.B("🩺 Health"))
	t.Line(tgui.Esc("Uptime: " + d.Uptime))
	if d.Err != "" {
		t.Line(tgui.Esc("Fatal: " + d.Err))
	}
	t.Line(tgui.Esc(fmt.Sprintf("Tasks running: %d", running)))
	t.Blank()
	t.Line(tgui.Raw(scheduleStatus(d.Schedules, a.cmds.loc.Load())))
	return t.String()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Scheduled runs first so nothing new starts while the transport drains.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Stop)

	a.log.Info("stopped")
	return a.logs.Close()
}
