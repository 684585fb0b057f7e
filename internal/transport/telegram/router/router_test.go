package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuttlebot/internal/observability/metrics"
	kit "scuttlebot/internal/transport"
	logx "scuttlebot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	texts []string
	menus [][]kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, cmds)
	return nil
}

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func groupMsg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: from, Text: text, IsGroup: true}}
}

func privateMsg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

type harness struct {
	m     *CommandManager
	ad    *fakeAdapter
	calls chan *Request
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{ad: &fakeAdapter{}, calls: make(chan *Request, 8)}
	record := func(_ context.Context, req *Request) error {
		h.calls <- req
		return nil
	}
	h.m = NewCommandManager(logx.Nop(), h.ad, OwnerSet([]int64{1}), opts)
	h.m.SetRegistry([]Command{
		{Route: "arena stats", Aliases: []string{"stats"}, Description: "player stats", Scope: ScopeGroup, Handle: record},
		{Route: "arena rankings", Description: "top players", Scope: ScopeGroup, Handle: record},
		{Route: "broadcast", Description: "send a template", Access: AccessOwnerOnly, Handle: record},
		{Route: "ping", Handle: record},
	})
	return h
}

// drain runs every queued job on the calling goroutine.
func (h *harness) drain() {
	for {
		select {
		case job := <-h.m.jobs:
			job()
		default:
			return
		}
	}
}

func (h *harness) route(up kit.Update) {
	h.m.routeUpdate(context.Background(), up)
	h.drain()
}

func (h *harness) nextCall(t *testing.T) *Request {
	t.Helper()
	select {
	case r := <-h.calls:
		return r
	default:
		t.Fatalf("handler was not called; last reply %q", h.ad.last())
		return nil
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	got := tokenizeCommandLine(`/arena stats weekly "Faker Jr" KR1 --x='a b' esc\ aped`)
	want := []string{"/arena", "stats", "weekly", "Faker Jr", "KR1", "--x=a b", "esc aped"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens (-want +got):\n%s", diff)
	}
	assert.Nil(t, tokenizeCommandLine("   "))
}

func TestParseFlags(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"arena_announcement", "--test", "-100123", "-v", "--dry", "--k=v", "-ab", "--", "--raw"})
	assert.Equal(t, []string{"arena_announcement", "--raw"}, pos)
	assert.Equal(t, map[string]string{"test": "-100123", "k": "v"}, flags)
	assert.Equal(t, map[string]bool{"v": true, "dry": true, "a": true, "b": true}, bools)

	pos, _, _ = parseFlags([]string{"-5", "x"})
	assert.Equal(t, []string{"-5", "x"}, pos)
}

func TestRouteSubcommandWithArgs(t *testing.T) {
	h := newHarness(t, Options{})
	h.route(groupMsg(7, "/arena stats weekly Faker KR1"))
	req := h.nextCall(t)
	assert.Equal(t, []string{"arena", "stats"}, req.Path)
	assert.Equal(t, []string{"weekly", "Faker", "KR1"}, req.Args)
	assert.Equal(t, "-100", req.GuildID())
	assert.False(t, req.IsOwner)
	assert.NotEmpty(t, req.ReqID)
}

func TestRouteAliasesAndBotSuffix(t *testing.T) {
	h := newHarness(t, Options{})
	h.route(groupMsg(7, "/stats@scuttle_bot daily A B"))
	assert.Equal(t, "arena stats", h.nextCall(t).Command)

	h.route(groupMsg(7, "/arena_rankings weekly"))
	req := h.nextCall(t)
	assert.Equal(t, "arena rankings", req.Command)
	assert.Equal(t, []string{"weekly"}, req.Args)

	h.route(groupMsg(7, "/ARENA Stats monthly x y"))
	assert.Equal(t, "arena stats", h.nextCall(t).Command)
}

func TestRouteUnknownAndGroupHelp(t *testing.T) {
	h := newHarness(t, Options{})
	h.route(groupMsg(7, "/nope"))
	assert.Equal(t, textUnknown, h.ad.last())

	h.route(groupMsg(7, "/arena"))
	assert.Contains(t, h.ad.last(), "<code>/arena stats</code>")
	assert.Contains(t, h.ad.last(), "<code>/arena rankings</code>")

	h.route(groupMsg(7, "just chatting"))
	assert.Len(t, h.ad.texts, 2)
}

func TestOwnerOnlyCommand(t *testing.T) {
	reg := newMetrics(t)
	h := newHarness(t, Options{Metrics: reg})

	h.route(privateMsg(7, "/broadcast arena_announcement"))
	assert.Equal(t, textOwnerOnly, h.ad.last())
	assert.Empty(t, h.calls)
	assert.Equal(t, 1.0, commandCount(t, reg, "broadcast", "denied"))

	h.route(privateMsg(1, "/broadcast arena_announcement --test -100"))
	req := h.nextCall(t)
	assert.True(t, req.IsOwner)
	assert.Equal(t, "-100", req.Flags["test"])
	assert.Equal(t, 1.0, commandCount(t, reg, "broadcast", "ok"))

	h.m.SetAuthorizer(OwnerSet([]int64{7}))
	h.route(privateMsg(7, "/broadcast x"))
	assert.True(t, h.nextCall(t).IsOwner)
}

func TestGroupOnlyCommand(t *testing.T) {
	h := newHarness(t, Options{})
	h.route(privateMsg(7, "/arena stats weekly A B"))
	assert.Equal(t, textGroupOnly, h.ad.last())
	assert.Empty(t, h.calls)

	h.route(privateMsg(7, "/ping"))
	h.nextCall(t)
}

func TestHelpText(t *testing.T) {
	h := newHarness(t, Options{})
	top := h.m.helpText(nil)
	assert.Contains(t, top, "<code>/arena</code>")
	// owner-only commands are listed last
	assert.Greater(t, strings.Index(top, "/broadcast"), strings.Index(top, "/ping"))
	assert.Contains(t, top, "🔒 <code>/broadcast</code>")

	stats := h.m.helpText([]string{"arena", "stats"})
	assert.Contains(t, stats, "player stats")
	assert.Contains(t, stats, "Group chats only")
	assert.Contains(t, stats, "/arena_stats")
	assert.Contains(t, stats, "/stats")

	assert.Contains(t, h.m.helpText([]string{"stats"}), "player stats")
	assert.Contains(t, h.m.helpText([]string{"missing"}), "Unknown command")
}

func TestSyncMenu(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.m.SyncMenu(context.Background()))
	require.Len(t, h.ad.menus, 1)
	var names []string
	for _, c := range h.ad.menus[0] {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"arena", "broadcast", "help", "ping", "arena_rankings", "arena_stats"}, names)
	assert.True(t, strings.HasPrefix(h.ad.menus[0][1].Description, "🔒 "))
}

func TestSanitizeTelegramCommand(t *testing.T) {
	cases := map[string]string{
		"Arena Stats":           "arena_stats",
		"broadcast-test":        "broadcast_test",
		"__x__":                 "x",
		"9lives":                "cmd_9lives",
		"!!!":                   "",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeTelegramCommand(in), in)
	}
}

func TestMiddlewareTimeoutAndPanic(t *testing.T) {
	reg := newMetrics(t)
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil, Options{Metrics: reg})
	m.SetRegistry([]Command{
		{Route: "slow", Timeout: 10 * time.Millisecond, Handle: func(ctx context.Context, _ *Request) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Route: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		{Route: "fail", Handle: func(context.Context, *Request) error { return errors.New("nope") }},
	})
	for _, cmd := range []string{"/slow", "/boom", "/fail"} {
		m.routeUpdate(context.Background(), privateMsg(3, cmd))
		(<-m.jobs)()
	}
	assert.Equal(t, 1.0, commandCount(t, reg, "slow", "timeout"))
	assert.Equal(t, 1.0, commandCount(t, reg, "boom", "error"))
	assert.Equal(t, 1.0, commandCount(t, reg, "fail", "error"))
}

func TestBusyWhenQueueFull(t *testing.T) {
	h := newHarness(t, Options{QueueSize: 1})
	h.m.routeUpdate(context.Background(), privateMsg(7, "/ping"))
	h.m.routeUpdate(context.Background(), privateMsg(7, "/ping"))
	assert.Equal(t, textBusy, h.ad.last())
	h.drain()
	h.nextCall(t)
}

func TestDispatchLoopRunsHandlers(t *testing.T) {
	h := newHarness(t, Options{Workers: 2})
	updates := make(chan kit.Update, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.m.DispatchLoop(ctx, updates) }()

	updates <- groupMsg(7, "/ping")
	select {
	case req := <-h.calls:
		assert.Equal(t, "ping", req.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	require.Eventually(t, func() bool { return h.m.Supervisor() != nil }, time.Second, 10*time.Millisecond)

	close(updates)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
	assert.Nil(t, h.m.Supervisor())
}

func newMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	return metrics.New()
}

func commandCount(t *testing.T, m *metrics.Metrics, cmd, result string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "scuttlebot_commands_total" {
			continue
		}
		for _, mt := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range mt.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["cmd"] == cmd && labels["result"] == result {
				return mt.GetCounter().GetValue()
			}
		}
	}
	return 0
}
