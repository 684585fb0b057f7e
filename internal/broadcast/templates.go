package broadcast

import (
	"slices"
	"sort"
)

// StaticRegistry is an immutable TemplateRegistry.
type StaticRegistry struct {
	m map[string]Message
}

// NewStaticRegistry indexes msgs by Key. Later messages replace earlier ones
// with the same key, so config-defined templates can override built-ins.
func NewStaticRegistry(msgs ...Message) *StaticRegistry {
	m := make(map[string]Message, len(msgs))
	for _, msg := range msgs {
		if msg.Key == "" {
			continue
		}
		msg.Fields = slices.Clone(msg.Fields)
		m[msg.Key] = msg
	}
	return &StaticRegistry{m: m}
}

func (r *StaticRegistry) Lookup(key string) (Message, bool) {
	msg, ok := r.m[key]
	if !ok {
		return Message{}, false
	}
	msg.Fields = slices.Clone(msg.Fields)
	return msg, true
}

func (r *StaticRegistry) Keys() []string {
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const ArenaAnnouncement = "arena_announcement"

// BuiltinTemplates are always available, even without config.
func BuiltinTemplates() []Message {
	return []Message{
		{
			Key:         ArenaAnnouncement,
			Title:       "⚔️ New Feature: Arena Game Mode Support!",
			Description: "We're excited to announce that Scuttle now supports Arena game mode tracking!",
			Fields: []Field{
				{
					Name:  "📊 Arena Stats",
					Value: "Track your arena performance with:\n• /arena stats daily - Last 24 hours\n• /arena stats weekly - Last 7 days\n• /arena stats monthly - Last 30 days",
				},
				{
					Name:  "🏆 Arena Rankings",
					Value: "Compete with your guild members:\n• /arena rankings weekly\n• /arena rankings monthly",
				},
				{
					Name:  "📈 Arena Metrics Tracked",
					Value: "• Average Placement\n• Win Rate\n• K/D/A Stats\n• Damage to Champions\n• Placement Finishes (1st, 2nd, 3rd, 4th)",
				},
			},
			Color:  0x9d4edd,
			Footer: "Start tracking your arena stats today!",
		},
	}
}
