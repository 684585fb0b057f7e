package broadcast

import (
	"context"
	"errors"
)

// Target is a guild and the channel broadcasts for it should go to.
type Target struct {
	GuildID   string
	Name      string
	ChannelID string
}

// label is what failure reasons are prefixed with.
func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.GuildID
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a rendered-agnostic broadcast payload. Delivery channels decide
// how to present it.
type Message struct {
	Key         string
	Title       string
	Description string
	Fields      []Field
	Color       int
	Footer      string
}

// Channel is a resolved delivery destination.
type Channel interface {
	Ref() string
	Writable() bool
}

// DeliveryChannel is the chat platform as seen by the fan-out.
type DeliveryChannel interface {
	// ResolveTarget looks up the target's channel. A nil Channel with a nil
	// error means the channel does not exist.
	ResolveTarget(ctx context.Context, t Target) (Channel, error)
	Send(ctx context.Context, ch Channel, msg Message) error
}

// TargetSource lists the guilds a broadcast should reach.
type TargetSource interface {
	BroadcastTargets(ctx context.Context) ([]Target, error)
}

type TemplateRegistry interface {
	Lookup(key string) (Message, bool)
	Keys() []string
}

var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrNoTargets          = errors.New("no guilds with main channels configured")
	ErrTestTargetNotFound = errors.New("test guild not found or has no main channel configured")
	ErrSourceUnavailable  = errors.New("broadcast target source unavailable")

	ErrChannelNotFound    = errors.New("channel not found")
	ErrChannelNotWritable = errors.New("channel not writable")
)
