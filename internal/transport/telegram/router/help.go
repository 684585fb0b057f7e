package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help for path as Telegram HTML. An empty path lists the
// top-level commands.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTopHTML(root)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf != nil && leaf.cmd != nil && len(full) == 0 {
				cur = leaf
				full = splitRoute(strings.ToLower(leaf.cmd.Route))
				break
			}
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to see what is available."
		}
		cur = n
		full = append(full, p)
	}
	return helpNodeHTML(cur, full)
}

type topRow struct {
	name string
	desc string
	lock bool
}

func helpTopHTML(root *cmdNode) string {
	names := root.childNames()
	rows := make([]topRow, 0, len(names))
	for _, name := range names {
		n, _ := root.child(name)
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// owner-only last, alphabetical within each group
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	for _, r := range rows {
		lines = append(lines, bullet(r.lock)+"<code>/"+html.EscapeString(r.name)+"</code>"+descSuffix(r.desc))
	}
	return strings.Join(lines, "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>Owner only</i>")
		}
		if c.Scope == ScopeGroup {
			lines = append(lines, "👥 <i>Group chats only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>")
			for _, l := range strings.Split(u, "\n") {
				lines = append(lines, "<code>"+html.EscapeString(strings.TrimSpace(l))+"</code>")
			}
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	} else {
		lines = append(lines, "Command group.")
		if nodeIsOwnerOnly(cur) {
			lines = append(lines, "🔒 <i>Owner only</i>")
		}
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(append([]string(nil), full...), name), " ")
			lines = append(lines, bullet(nodeIsOwnerOnly(n))+"<code>"+html.EscapeString(cmd)+"</code>"+descSuffix(summarizeNodeDesc(n)))
		}
	}
	return strings.Join(lines, "\n")
}

func bullet(lock bool) string {
	if lock {
		return "• 🔒 "
	}
	return "• "
}

func descSuffix(desc string) string {
	if desc == "" {
		return ""
	}
	return ": " + html.EscapeString(desc)
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	shown := kids[:min(3, len(kids))]
	s := strings.Join(shown, ", ")
	if len(kids) > len(shown) {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsOwnerOnly is true for an owner-only leaf, or a group whose every
// command is owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil && n.cmd.Access != AccessOwnerOnly {
		return false
	}
	if n.cmd == nil && len(n.children) == 0 {
		return false
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return true
}

func buildShortcuts(c Command) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	route := splitRoute(strings.ToLower(c.Route))
	if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
		add(menu)
	}
	for _, a := range c.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
