package config

// Config is the on-disk bot configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	API       APIConfig       `json:"api"`
	Arena     ArenaConfig     `json:"arena"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may run owner-only commands such as /broadcast.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>" for the log sink.
	GroupLog       string `json:"group_log,omitempty"`
	PollTimeout    string `json:"poll_timeout,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
	CommandWorkers int    `json:"command_workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// APIConfig points at the stats backend.
type APIConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	Timeout   string `json:"timeout,omitempty"`
	RetryMax  int    `json:"retry_max,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`
}

type ArenaConfig struct {
	// Timezone used for rankings windows (IANA name). Default UTC.
	Timezone string `json:"timezone,omitempty"`
	// TopN caps entries shown per rankings category. 0 shows everything.
	TopN int `json:"top_n,omitempty"`
}

type BroadcastConfig struct {
	Workers    int              `json:"workers,omitempty"`
	RatePerSec int              `json:"rate_per_sec,omitempty"`
	Templates  []TemplateConfig `json:"templates,omitempty"`
	Schedules  []ScheduleConfig `json:"schedules,omitempty"`
}

// TemplateConfig adds (or overrides) a broadcast template.
type TemplateConfig struct {
	Key         string          `json:"key"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Fields      []TemplateField `json:"fields,omitempty"`
	Color       int             `json:"color,omitempty"`
	Footer      string          `json:"footer,omitempty"`
}

type TemplateField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type ScheduleConfig struct {
	Name        string `json:"name"`
	Spec        string `json:"spec"`
	Template    string `json:"template"`
	TestGuildID string `json:"test_guild_id,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// DebugConfig controls the metrics/pprof HTTP server.
//
// Prefer binding to localhost; pprof exposes process internals.
type DebugConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
