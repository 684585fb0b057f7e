package config

import (
	"reflect"
	"strings"

	logx "scuttlebot/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between old and
// next, plus log fields describing the new values. Secrets (bot token, API
// key) are never included.
func SummarizeChange(old, next *Config) ([]string, []logx.Field) {
	if old == nil {
		old = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	var changed []string
	var fields []logx.Field

	if old.Telegram.Token != next.Telegram.Token {
		changed = append(changed, "telegram.token")
	}
	if !reflect.DeepEqual(old.Telegram.OwnerUserIDs, next.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(old.Telegram.GroupLog) != strings.TrimSpace(next.Telegram.GroupLog) ||
		old.Telegram.PollTimeout != next.Telegram.PollTimeout ||
		old.Telegram.CommandTimeout != next.Telegram.CommandTimeout ||
		old.Telegram.CommandWorkers != next.Telegram.CommandWorkers {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(next.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(next.Telegram.GroupLog) != ""),
			logx.String("telegram.command_timeout", next.Telegram.CommandTimeout),
		)
	}
	if !reflect.DeepEqual(old.Logging, next.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", next.Logging.Level),
			logx.Bool("logging.file", next.Logging.File.Enabled),
			logx.Bool("logging.chat", next.Logging.Telegram.Enabled),
		)
	}
	if old.API.BaseURL != next.API.BaseURL || old.API.Timeout != next.API.Timeout ||
		old.API.RetryMax != next.API.RetryMax || old.API.RetryBase != next.API.RetryBase ||
		old.API.APIKey != next.API.APIKey {
		changed = append(changed, "api")
		fields = append(fields,
			logx.String("api.base_url", next.API.BaseURL),
			logx.Int("api.retry_max", next.API.RetryMax),
			logx.Bool("api.key_changed", old.API.APIKey != next.API.APIKey),
		)
	}
	if old.Arena != next.Arena {
		changed = append(changed, "arena")
		fields = append(fields, logx.String("arena.timezone", next.Arena.Timezone), logx.Int("arena.top_n", next.Arena.TopN))
	}
	if !reflect.DeepEqual(old.Broadcast, next.Broadcast) {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.Int("broadcast.workers", next.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", next.Broadcast.RatePerSec),
			logx.Int("broadcast.templates", len(next.Broadcast.Templates)),
			logx.Int("broadcast.schedules", len(next.Broadcast.Schedules)),
		)
	}
	if old.Debug != next.Debug {
		changed = append(changed, "debug")
		fields = append(fields, logx.Bool("debug.enabled", next.Debug.Enabled), logx.String("debug.addr", next.Debug.Addr))
	}
	return changed, fields
}
