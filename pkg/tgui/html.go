package tgui

import "strings"

// H is HTML that is safe to send with ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

// Telegram only requires these three to be escaped outside of tags.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(escaper.Replace(s)) }

// Raw marks s as already safe. Only use it on literals.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + string(inner) + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Bold wraps already-safe parts in <b>.
func Bold(parts ...H) H { return wrap("b", Concat(parts...)) }

func Concat(parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(string(p))
	}
	return H(b.String())
}

// Text collects message lines. Blank lines are kept; trailing ones are
// dropped by H.
type Text struct {
	lines []string
}

func (t *Text) Line(parts ...H) *Text {
	t.lines = append(t.lines, string(Concat(parts...)))
	return t
}

func (t *Text) Blank() *Text {
	t.lines = append(t.lines, "")
	return t
}

func (t *Text) H() H {
	return H(strings.TrimRight(strings.Join(t.lines, "\n"), "\n"))
}

func (t *Text) String() string { return string(t.H()) }
