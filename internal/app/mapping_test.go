package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuttlebot/internal/broadcast"
	"scuttlebot/internal/config"
	"scuttlebot/internal/observability/debugsrv"
	kit "scuttlebot/internal/transport"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
		API:      config.APIConfig{BaseURL: "http://localhost:3000", APIKey: "k"},
	}
}

func TestMapTemplatesOverridesBuiltins(t *testing.T) {
	cfg := baseConfig()
	cfg.Broadcast.Templates = []config.TemplateConfig{
		{Key: broadcast.ArenaAnnouncement, Title: "Replaced"},
		{Key: " maintenance ", Title: "Maintenance", Fields: []config.TemplateField{{Name: "When", Value: "tonight", Inline: true}}},
	}
	reg := mapTemplates(cfg)
	assert.Equal(t, []string{broadcast.ArenaAnnouncement, "maintenance"}, reg.Keys())

	msg, ok := reg.Lookup(broadcast.ArenaAnnouncement)
	require.True(t, ok)
	assert.Equal(t, "Replaced", msg.Title)

	msg, ok = reg.Lookup("maintenance")
	require.True(t, ok)
	assert.Equal(t, []broadcast.Field{{Name: "When", Value: "tonight", Inline: true}}, msg.Fields)
}

func TestMapSchedulesDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.Broadcast.Schedules = []config.ScheduleConfig{
		{Name: "weekly", Spec: "0 18 * * 5", Template: "arena_announcement"},
		{Name: "hourly", Spec: "1h", Template: "arena_announcement", Timeout: "2m"},
	}
	got, err := mapSchedules(cfg)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 10*time.Minute, got[0].Timeout)
	assert.Equal(t, 2*time.Minute, got[1].Timeout)
	assert.Equal(t, 10*time.Minute, broadcastTimeout(got))

	cfg.Broadcast.Schedules[0].Timeout = "soon"
	_, err = mapSchedules(cfg)
	assert.Error(t, err)
}

func TestValidateSchedules(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, validate(cfg))

	cfg.Broadcast.Schedules = []config.ScheduleConfig{{Name: "x", Spec: "0 18 * * 5", Template: "missing"}}
	assert.ErrorContains(t, validate(cfg), "unknown template")

	cfg.Broadcast.Schedules = []config.ScheduleConfig{{Name: "x", Spec: "every friday", Template: "arena_announcement"}}
	assert.ErrorContains(t, validate(cfg), "broadcast.schedules")
}

func TestMapLogTarget(t *testing.T) {
	cfg := baseConfig()
	target, err := mapLogTarget(cfg)
	require.NoError(t, err)
	assert.Nil(t, target)

	cfg.Telegram.GroupLog = "-100123:7"
	target, err = mapLogTarget(cfg)
	require.NoError(t, err)
	assert.Equal(t, &kit.ChatTarget{ChatID: -100123, ThreadID: 7}, target)
}

func TestMapDebugAndRouter(t *testing.T) {
	cfg := baseConfig()
	dc, err := mapDebugConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, debugsrv.DefaultAddr, dc.Addr)
	assert.Equal(t, 5*time.Second, dc.ReadTimeout)

	cfg.Telegram.CommandTimeout = "45s"
	cfg.Telegram.CommandWorkers = 8
	opts, err := mapRouterOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, opts.DefaultTimeout)
	assert.Equal(t, 8, opts.Workers)
}

func TestMapLocation(t *testing.T) {
	cfg := baseConfig()
	loc, err := mapLocation(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	cfg.Arena.Timezone = "Asia/Jakarta"
	loc, err = mapLocation(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
telegram:
  token: "t"
  owner_user_ids: [42]
api:
  base_url: "http://localhost:3000"
  api_key: "k"
broadcast:
  schedules:
    - name: weekly
      spec: "0 18 * * 5"
      template: arena_announcement
`), 0o600))
	assert.NoError(t, CheckConfig(good))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("telegram:\n  token: \"\"\n"), 0o600))
	assert.Error(t, CheckConfig(bad))
}
