package router

import (
	"sort"
	"strings"
	"unicode"

	kit "scuttlebot/internal/transport"
	"scuttlebot/pkg/tgui"
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet, [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if r == '_' {
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
		// Common separators become underscores.
		if r == '-' || unicode.IsSpace(r) || r == '/' {
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
		// drop anything else
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return ""
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	// Telegram clients generally expect commands to start with a letter.
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

// telegramCommandNameFromRoute joins a route into one menu command:
//
//	["arena", "stats"] -> "arena_stats"
//	["broadcast-test"] -> "broadcast_test"
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// maxMenuCommands is Telegram's cap for setMyCommands.
const maxMenuCommands = 100

// buildTelegramMenuCommands lists top-level commands first, then one
// underscore shortcut per multi-token route ("/arena_stats").
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []kit.BotCommand {
	var top, shortcuts []kit.BotCommand
	seen := map[string]bool{}
	add := func(dst *[]kit.BotCommand, name, desc string, lock bool) {
		name = sanitizeTelegramCommand(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		desc = strings.Join(strings.Fields(desc), " ")
		if desc == "" {
			desc = name
		}
		if lock {
			desc = "🔒 " + desc
		}
		desc = tgui.TruncRunes(desc, 256)
		*dst = append(*dst, kit.BotCommand{Command: name, Description: desc})
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(&top, name, summarizeNodeDesc(n), nodeIsOwnerOnly(n))
	}
	for _, c := range leafCmds {
		route := splitRoute(strings.ToLower(c.Route))
		if len(route) < 2 {
			continue
		}
		menu, ok := telegramCommandNameFromRoute(route)
		if !ok {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		add(&shortcuts, menu, desc, c.Access == AccessOwnerOnly)
	}
	sort.Slice(shortcuts, func(i, j int) bool { return shortcuts[i].Command < shortcuts[j].Command })

	out := append(top, shortcuts...)
	if len(out) > maxMenuCommands {
		out = out[:maxMenuCommands]
	}
	return out
}
