package adapter

import (
	"strings"
	"unicode/utf8"
)

// Telegram rejects messages over 4096 characters; keep some headroom.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. It prefers newline
// boundaries. In HTML mode it never cuts inside a tag, and elements still open
// at a cut are closed at the end of the chunk and reopened in the next one.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	var carry []openTag
	start := 0
	for start < len(rs) {
		prefix := openers(carry)
		budget := max(limit-utf8.RuneCountInString(prefix), 1)

		var (
			end    int
			next   []openTag
			suffix string
		)
		for {
			end = cutPoint(rs, start, budget, html)
			if !html || end == len(rs) {
				suffix = ""
				break
			}
			next = scanTags(rs[start:end], carry)
			suffix = closers(next)
			over := utf8.RuneCountInString(prefix) + (end - start) + utf8.RuneCountInString(suffix) - limit
			if over <= 0 || budget == 1 {
				break
			}
			budget = max(budget-over, 1)
		}

		out = append(out, prefix+strings.TrimRight(string(rs[start:end]), "\n")+suffix)
		carry = next
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// cutPoint picks the end of the chunk starting at start.
func cutPoint(rs []rune, start, budget int, html bool) int {
	end := min(start+budget, len(rs))
	if end == len(rs) {
		return end
	}
	for i := end - 1; i > start; i-- {
		// avoid tiny chunks
		if rs[i] == '\n' && i-start >= budget/3 {
			end = i + 1
			break
		}
	}
	if html {
		lastOpen, lastClose := -1, -1
		for i := start; i < end; i++ {
			switch rs[i] {
			case '<':
				lastOpen = i
			case '>':
				lastClose = i
			}
		}
		if lastOpen > lastClose && lastOpen > start+1 {
			end = lastOpen
		}
	}
	return end
}

type openTag struct {
	name string
	raw  string
}

// scanTags returns the elements left open after rs, starting from open.
func scanTags(rs []rune, open []openTag) []openTag {
	stack := append([]openTag(nil), open...)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(rs) && rs[j] != '>' {
			j++
		}
		if j == len(rs) {
			break
		}
		raw := string(rs[i : j+1])
		body := strings.TrimSpace(string(rs[i+1 : j]))
		i = j
		if name, ok := strings.CutPrefix(body, "/"); ok {
			name = tagName(name)
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k].name == name {
					stack = stack[:k]
					break
				}
			}
			continue
		}
		if body == "" || strings.HasSuffix(body, "/") {
			continue
		}
		stack = append(stack, openTag{name: tagName(body), raw: raw})
	}
	return stack
}

func tagName(body string) string {
	if i := strings.IndexAny(body, " \t\n"); i >= 0 {
		body = body[:i]
	}
	return strings.ToLower(body)
}

func openers(tags []openTag) string {
	var b strings.Builder
	for _, t := range tags {
		b.WriteString(t.raw)
	}
	return b.String()
}

func closers(tags []openTag) string {
	var b strings.Builder
	for i := len(tags) - 1; i >= 0; i-- {
		b.WriteString("</" + tags[i].name + ">")
	}
	return b.String()
}
