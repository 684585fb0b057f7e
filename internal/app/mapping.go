package app

import (
	"fmt"
	"strings"
	"time"

	"scuttlebot/internal/broadcast"
	"scuttlebot/internal/config"
	"scuttlebot/internal/observability/debugsrv"
	"scuttlebot/internal/scuttleapi"
	kit "scuttlebot/internal/transport"
	"scuttlebot/internal/transport/telegram/router"
	logx "scuttlebot/pkg/logx"
)

// Config sections mapped onto component configs. Each mapper parses the
// string durations it needs so a bad value fails the whole apply.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapLogTarget returns nil when no log group is configured.
func mapLogTarget(cfg *config.Config) (*kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return nil, nil
	}
	chatID, threadID, err := config.ParseChatRef(raw)
	if err != nil {
		return nil, fmt.Errorf("telegram.group_log: %w", err)
	}
	return &kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, nil
}

func mapAPIConfig(cfg *config.Config) (scuttleapi.Config, error) {
	timeout, err := config.ParseDurationOrDefault("api.timeout", cfg.API.Timeout, 10*time.Second)
	if err != nil {
		return scuttleapi.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("api.retry_base", cfg.API.RetryBase, 200*time.Millisecond)
	if err != nil {
		return scuttleapi.Config{}, err
	}
	return scuttleapi.Config{
		BaseURL:      cfg.API.BaseURL,
		APIKey:       cfg.API.APIKey,
		Timeout:      timeout,
		RetryMax:     cfg.API.RetryMax,
		RetryInitial: retryBase,
	}, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Arena.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("arena.timezone: %w", err)
	}
	return loc, nil
}

func mapFanoutConfig(cfg *config.Config) broadcast.FanoutConfig {
	return broadcast.FanoutConfig{Workers: cfg.Broadcast.Workers, RatePerSec: cfg.Broadcast.RatePerSec}
}

// mapTemplates layers configured templates over the built-ins.
func mapTemplates(cfg *config.Config) *broadcast.StaticRegistry {
	msgs := broadcast.BuiltinTemplates()
	for _, t := range cfg.Broadcast.Templates {
		msg := broadcast.Message{
			Key:         strings.TrimSpace(t.Key),
			Title:       t.Title,
			Description: t.Description,
			Color:       t.Color,
			Footer:      t.Footer,
		}
		for _, f := range t.Fields {
			msg.Fields = append(msg.Fields, broadcast.Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		msgs = append(msgs, msg)
	}
	return broadcast.NewStaticRegistry(msgs...)
}

func mapSchedules(cfg *config.Config) ([]broadcast.Schedule, error) {
	out := make([]broadcast.Schedule, 0, len(cfg.Broadcast.Schedules))
	for i, s := range cfg.Broadcast.Schedules {
		timeout, err := config.ParseDurationOrDefault(fmt.Sprintf("broadcast.schedules[%d].timeout", i), s.Timeout, 10*time.Minute)
		if err != nil {
			return nil, err
		}
		out = append(out, broadcast.Schedule{
			Name:        strings.TrimSpace(s.Name),
			Spec:        s.Spec,
			Template:    strings.TrimSpace(s.Template),
			TestGuildID: strings.TrimSpace(s.TestGuildID),
			Timeout:     timeout,
		})
	}
	return out, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	out := debugsrv.Config{Enabled: d.Enabled, Addr: strings.TrimSpace(d.Addr), Pprof: d.Pprof}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 30*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, time.Minute); err != nil {
		return debugsrv.Config{}, err
	}
	if out.Addr == "" {
		out.Addr = debugsrv.DefaultAddr
	}
	return out, nil
}

func mapRouterOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 30*time.Second)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{Workers: cfg.Telegram.CommandWorkers, DefaultTimeout: timeout}, nil
}

// validate extends config.Validate with checks that need component parsers.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	schedules, err := mapSchedules(cfg)
	if err != nil {
		return err
	}
	if err := broadcast.NewScheduler(nil, logx.Nop()).Validate(schedules); err != nil {
		return fmt.Errorf("broadcast.schedules: %w", err)
	}
	reg := mapTemplates(cfg)
	for _, s := range schedules {
		if _, ok := reg.Lookup(s.Template); !ok {
			return fmt.Errorf("broadcast.schedules: %q uses unknown template %q", s.Name, s.Template)
		}
	}
	return nil
}

// CheckConfig parses and validates the file at path without starting anything.
func CheckConfig(path string) error {
	cfg, err := config.NewManager(path, logx.Nop()).Parse()
	if err != nil {
		return err
	}
	return validate(cfg)
}
