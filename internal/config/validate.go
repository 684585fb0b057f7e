package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token: required")
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add("telegram.owner_user_ids: at least one owner required")
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, _, err := ParseChatRef(g); err != nil {
			add("telegram.group_log: %v", err)
		}
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.command_timeout", cfg.Telegram.CommandTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path: required when file logging is enabled")
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add("logging.telegram: telegram.group_log required when chat logging is enabled")
	}

	if u, err := url.Parse(strings.TrimSpace(cfg.API.BaseURL)); err != nil || u.Scheme == "" || u.Host == "" {
		add("api.base_url: must be an absolute URL, got %q", cfg.API.BaseURL)
	}
	dur("api.timeout", cfg.API.Timeout)
	dur("api.retry_base", cfg.API.RetryBase)
	if cfg.API.RetryMax < 0 || cfg.API.RetryMax > 10 {
		add("api.retry_max: must be within 0..10")
	}

	if tz := strings.TrimSpace(cfg.Arena.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("arena.timezone: %v", err)
		}
	}
	if cfg.Arena.TopN < 0 {
		add("arena.top_n: must be >= 0")
	}

	if cfg.Broadcast.Workers < 0 {
		add("broadcast.workers: must be >= 0")
	}
	if cfg.Broadcast.RatePerSec < 0 {
		add("broadcast.rate_per_sec: must be >= 0")
	}
	keys := map[string]bool{}
	for i, t := range cfg.Broadcast.Templates {
		k := strings.TrimSpace(t.Key)
		switch {
		case k == "":
			add("broadcast.templates[%d].key: required", i)
		case keys[k]:
			add("broadcast.templates[%d].key: duplicate %q", i, k)
		}
		keys[k] = true
		if strings.TrimSpace(t.Title) == "" {
			add("broadcast.templates[%d].title: required", i)
		}
	}
	for i, s := range cfg.Broadcast.Schedules {
		dur(fmt.Sprintf("broadcast.schedules[%d].timeout", i), s.Timeout)
	}

	dur("debug.read_timeout", cfg.Debug.ReadTimeout)
	dur("debug.write_timeout", cfg.Debug.WriteTimeout)
	dur("debug.idle_timeout", cfg.Debug.IdleTimeout)

	return errors.Join(errs...)
}
