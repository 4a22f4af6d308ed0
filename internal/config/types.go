package config

// Config is the whole process configuration.
//
// It is decoded once at startup and treated as an immutable value afterwards:
// components receive the sections they need through their constructors.
type Config struct {
	Watcher WatcherConfig  `json:"watcher"`
	Source  SourceConfig   `json:"source,omitempty"`
	Sink    SinkConfig     `json:"sink"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Logging LoggingConfig  `json:"logging"`
	Status  *StatusConfig  `json:"status,omitempty"`
}

// WatcherConfig controls the polling cycle.
//
// All durations are Go duration strings (e.g. "300ms", "5m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "5m"
//   - max_results: 10
//   - entity_delay: "300ms"
type WatcherConfig struct {
	// Companies is the list of tracked entities (BODACC "commercant" names).
	Companies []string `json:"companies"`

	PollInterval string `json:"poll_interval,omitempty"`
	// Schedule overrides PollInterval with a cron expression (e.g. "*/10 8-20 * * 1-5").
	Schedule string `json:"schedule,omitempty"`
	// Timezone is the IANA zone Schedule is evaluated in. Empty means local time.
	Timezone    string `json:"timezone,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	EntityDelay string `json:"entity_delay,omitempty"`
}

// SourceConfig describes the BODACC search endpoint.
// Empty fields fall back to the public API defaults.
type SourceConfig struct {
	BaseURL  string `json:"base_url,omitempty"`
	Dataset  string `json:"dataset,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Lang     string `json:"lang,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// SinkConfig controls where notifications go.
//
// Kind values:
//   - "discord" (default): webhook_url is required
//   - "telegram": telegram.token and telegram.chat_id are required
type SinkConfig struct {
	Kind       string         `json:"kind,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"` // secret-ish, do not log
	Username   string         `json:"username,omitempty"`
	AvatarURL  string         `json:"avatar_url,omitempty"`
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Telegram   TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StorageConfig controls the watcher state store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./bodacc_seen_multi.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Audit       bool   `json:"audit,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StatusConfig enables the local status endpoint (/healthz, /status and,
// with pprof, /debug/pprof/).
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
