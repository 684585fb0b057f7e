package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseChatRef parses "<chat_id>" or "<chat_id>:<thread_id>".
func ParseChatRef(raw string) (chatID int64, threadID int, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, fmt.Errorf("empty chat reference")
	}
	idPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("invalid chat id %q", idPart)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("invalid thread id %q", threadPart)
		}
	}
	return chatID, threadID, nil
}
