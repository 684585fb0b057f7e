package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID is short and roughly time ordered: base36 clock, sequence and two
// random characters.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	var b strings.Builder
	b.WriteString(strconv.FormatInt(time.Now().UnixNano(), 36))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(n, 36))
	for range 2 {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

// tokenizeCommandLine splits command text on whitespace, keeping quoted
// runs together and honoring backslash escapes:
//
//	/arena stats weekly "Faker Jr" KR1
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits args into positionals and flags.
//
//	--k=v, --k v, --flag
//	-k=v, -k v, -abc (bool a, b and c)
//
// A bare "--" ends flag parsing.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" || isNumber(a) {
			pos = append(pos, a)
			continue
		}
		long := strings.HasPrefix(a, "--")
		key := strings.TrimLeft(a, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		if long || len(key) == 1 {
			if i+1 < len(args) && (!strings.HasPrefix(args[i+1], "-") || isNumber(args[i+1])) {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		for _, r := range key {
			bools[string(r)] = true
		}
	}
	return pos, flags, bools
}

// isNumber keeps negative chat ids ("-100123") from being read as flags.
func isNumber(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
