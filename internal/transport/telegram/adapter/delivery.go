package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"scuttlebot/internal/broadcast"
	"scuttlebot/internal/config"
	kit "scuttlebot/internal/transport"
	"scuttlebot/pkg/tgui"
)

var _ broadcast.DeliveryChannel = (*Adapter)(nil)

// chatChannel is a guild's main chat as resolved for one broadcast.
type chatChannel struct {
	to       kit.ChatTarget
	title    string
	writable bool
}

func (c *chatChannel) Ref() string {
	if c.to.ThreadID != 0 {
		return strconv.FormatInt(c.to.ChatID, 10) + ":" + strconv.Itoa(c.to.ThreadID)
	}
	return strconv.FormatInt(c.to.ChatID, 10)
}

func (c *chatChannel) Writable() bool { return c.writable }

// ResolveTarget looks up the target's main chat and the bot's rights in it.
// A chat Telegram does not know (or that the bot was removed from) resolves
// to nil.
func (a *Adapter) ResolveTarget(ctx context.Context, t broadcast.Target) (broadcast.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref := t.ChannelID
	if ref == "" {
		ref = t.GuildID
	}
	chatID, threadID, err := config.ParseChatRef(ref)
	if err != nil {
		return nil, err
	}
	chat, err := a.api.ChatByID(chatID)
	if err != nil {
		if isChatGone(err) {
			return nil, nil
		}
		return nil, err
	}
	if a.me == nil {
		return nil, errors.New("bot identity unknown")
	}
	member, err := a.api.ChatMemberOf(chat, a.me)
	if err != nil {
		if isChatGone(err) {
			return nil, nil
		}
		return nil, err
	}
	return &chatChannel{
		to:       kit.ChatTarget{ChatID: chatID, ThreadID: threadID},
		title:    chat.Title,
		writable: canPost(chat.Type, member),
	}, nil
}

// Send renders msg as HTML and posts it to ch.
func (a *Adapter) Send(ctx context.Context, ch broadcast.Channel, msg broadcast.Message) error {
	cc, ok := ch.(*chatChannel)
	if !ok {
		return fmt.Errorf("unexpected channel type %T", ch)
	}
	_, err := a.SendText(ctx, cc.to, renderMessage(msg), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func isChatGone(err error) bool {
	if errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrKickedFromGroup) || errors.Is(err, tele.ErrKickedFromSuperGroup) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "chat not found") || strings.Contains(s, "bot was kicked")
}

// canPost maps the bot's membership to whether a plain text message would go
// through. Channels only accept posts from admins with the post right.
func canPost(kind tele.ChatType, m *tele.ChatMember) bool {
	if m == nil {
		return false
	}
	channel := kind == tele.ChatChannel || kind == tele.ChatChannelPrivate
	switch m.Role {
	case tele.Creator:
		return true
	case tele.Administrator:
		return !channel || m.CanPostMessages
	case tele.Member:
		return !channel
	case tele.Restricted:
		return !channel && m.CanSendMessages
	default:
		return false
	}
}

// renderMessage lays a broadcast out as Telegram HTML: bold title, body,
// one block per field and an italic footer. Color has no Telegram
// equivalent and is dropped.
func renderMessage(msg broadcast.Message) string {
	var t tgui.Text
	if msg.Title != "" {
		t.Line(tgui.B(msg.Title))
	}
	if msg.Description != "" {
		t.Line(tgui.Esc(msg.Description))
	}
	for _, f := range msg.Fields {
		t.Blank().Line(tgui.B(f.Name)).Line(tgui.Esc(f.Value))
	}
	if msg.Footer != "" {
		t.Blank().Line(tgui.I(msg.Footer))
	}
	return t.String()
}
