// Package adapter connects the bot to Telegram through telebot. It turns
// incoming text messages into transport updates, sends replies, mirrors log
// lines into the group log chat and delivers broadcasts to guild chats.
package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "scuttlebot/internal/runtime/supervisor"
	kit "scuttlebot/internal/transport"
	logx "scuttlebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// botAPI is the part of *tele.Bot the adapter calls outside the poll loop.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatByID(id int64) (*tele.Chat, error)
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
	SetCommands(opts ...interface{}) error
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	api botAPI
	me  *tele.User

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates the router was too slow to take.
	dropped atomic.Uint64

	logTarget atomic.Pointer[kit.ChatTarget]

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := newAdapter(cfg, log, b, b.Me)
	a.bot = b
	a.registerHandlers()
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, api botAPI, me *tele.User) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, api: api, me: me}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a
}

// Supervisor is nil until Start.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := updateFromMessage(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

func updateFromMessage(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		ChatTitle: m.Chat.Title,
		Text:      m.Text,
		IsGroup:   m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	if a.bot == nil {
		a.runMu.Unlock()
		return errors.New("telegram adapter has no bot")
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go("updates.drop_report", func(c context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return nil
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})

	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})

	// bot.Start blocks until Stop. Returning early while the context is
	// still live counts as a failure so the loop restarts.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited unexpectedly")
	}, 10*time.Second)

	return nil
}

func (a *Adapter) reportDrops(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", chanCap))
	}
}

// Stop never blocks shutdown for long on an in-flight getUpdates call.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Int64("dropped_updates_pending", int64(a.dropped.Load())))

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Stop(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.api.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SetLogTarget sets (or with nil clears) the chat log lines are mirrored to.
func (a *Adapter) SetLogTarget(to *kit.ChatTarget) {
	if to == nil || to.ChatID == 0 {
		a.logTarget.Store(nil)
		return
	}
	cp := *to
	a.logTarget.Store(&cp)
}

// SendLogLine implements logx.ChatSender.
func (a *Adapter) SendLogLine(ctx context.Context, text string) error {
	to := a.logTarget.Load()
	if to == nil {
		return nil
	}
	_, err := a.SendText(ctx, *to, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands replaces the bot's command menu. It only calls Telegram
// when the list differs from the last one it set.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tc := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		tc = append(tc, tele.Command{Text: c.Command, Description: c.Description})
	}
	if err := a.api.SetCommands(tc); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Debug("menu commands updated", logx.Int("count", len(cmds)))
	return nil
}
