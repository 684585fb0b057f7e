package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"scuttlebot/internal/observability/metrics"
	rtsup "scuttlebot/internal/runtime/supervisor"
	kit "scuttlebot/internal/transport"
	logx "scuttlebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Scope limits where a command may run.
type Scope int

const (
	ScopeAnywhere Scope = iota
	// ScopeGroup commands act on a guild and need a group chat.
	ScopeGroup
)

const (
	textUnknown   = "Unknown command. Try /help."
	textOwnerOnly = "This command is only available to the bot owner."
	textGroupOnly = "This command can only be used in a group chat."
	textBusy      = "The bot is busy right now, please try again in a moment."
)

type Command struct {
	// Route is a space-separated command path, e.g. "arena stats".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["stats"]
	Description string
	Usage       string
	Access      Access
	Scope       Scope

	Timeout time.Duration // zero uses the manager default
	Handle  HandlerFunc
}

// Authorizer reports whether userID may run owner-only commands.
type Authorizer func(userID int64) bool

// OwnerSet builds an Authorizer from a fixed list of user ids.
func OwnerSet(ids []int64) Authorizer {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(userID int64) bool {
		_, ok := set[userID]
		return ok
	}
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched route tokens
	Command string
	Args    []string // positionals after the route

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	IsOwner   bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// GuildID is the chat the request came from, as the backend's guild key.
func (r *Request) GuildID() string { return strconv.FormatInt(r.Chat.ChatID, 10) }

// Reply sends HTML text back to the chat (and thread) of the request.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Options struct {
	Workers        int           // default 4
	QueueSize      int           // default 256
	DefaultTimeout time.Duration // default 30s
	Metrics        *metrics.Metrics
}

// CommandManager routes text commands to handlers and runs them on a
// bounded worker pool.
type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode
	leafs []Command
	auth  Authorizer

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, auth Authorizer, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		auth:    auth,
		log:     log,
		adapter: adapter,
		opts:    opts,
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// SetAuthorizer swaps the owner check (config reload).
func (m *CommandManager) SetAuthorizer(a Authorizer) {
	m.mu.Lock()
	m.auth = a
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(userID int64) bool {
	m.mu.RLock()
	a := m.auth
	m.mu.RUnlock()
	return a != nil && a(userID)
}

// Supervisor is nil unless DispatchLoop is running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue also covers the jobs channel being closed during shutdown.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(append([]Command(nil), cmds...), helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	leafs := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(strings.ToLower(c.Route))
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leafs = append(leafs, c)
		leaf := root.find(route)

		// Telegram menu names are [a-z0-9_]; "/arena_stats" reaches
		// "arena stats". Never alias a single token to itself or
		// subcommand traversal below it would be skipped.
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.leafs = leafs
	m.mu.Unlock()
}

// SyncMenu pushes the current registry to the adapter's command menu when
// the adapter supports it.
func (m *CommandManager) SyncMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildTelegramMenuCommands(m.root, m.leafs)
	m.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))))
	m.setSupervisor(sup, true)

	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, 5*time.Second)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		m.enqueueCommand(ctx, msg, cmd, splitRoute(strings.ToLower(cmd.Route)), args)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		m.reply(ctx, chat, textUnknown)
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		m.reply(ctx, chat, m.helpText(path))
		return
	}
	m.enqueueCommand(ctx, msg, *cur.cmd, path, args)
}

func (m *CommandManager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.adapter.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (m *CommandManager) enqueueCommand(ctx context.Context, msg *kit.Message, cmd Command, path, raw []string) {
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owner := m.isOwner(msg.FromID)

	if cmd.Access == AccessOwnerOnly && !owner {
		m.opts.Metrics.Command(cmd.Route, "denied")
		m.reply(ctx, chat, textOwnerOnly)
		return
	}
	if cmd.Scope == ScopeGroup && !msg.IsGroup {
		m.opts.Metrics.Command(cmd.Route, "denied")
		m.reply(ctx, chat, textGroupOnly)
		return
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(raw)
	req := &Request{
		Message:   msg,
		Chat:      chat,
		FromID:    msg.FromID,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		IsOwner:   owner,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWMetrics(m.opts.Metrics),
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.opts.Metrics.Command(cmd.Route, "busy")
		m.reply(ctx, chat, textBusy)
	}
}
