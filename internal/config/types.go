package config

type Config struct {
	Source     SourceConfig     `json:"source"`
	Monitor    MonitorConfig    `json:"monitor"`
	Filters    FiltersConfig    `json:"filters"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Outbound   OutboundConfig   `json:"outbound"`
	Relay      RelayConfig      `json:"relay,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
}

// SourceConfig locates the observed chat database.
type SourceConfig struct {
	Path            string `json:"path"`
	AttachmentsPath string `json:"attachments_path,omitempty"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MonitorConfig controls the detection loop and its wake sources.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s"
//   - debounce: "100ms"
//   - batch_size: 200
type MonitorConfig struct {
	// PollInterval is the timer backstop between detection cycles.
	PollInterval string `json:"poll_interval,omitempty"`
	// Debounce collapses a burst of file events into one cycle.
	Debounce string `json:"debounce,omitempty"`
	// CronSchedule optionally adds a 5-field cron wake (e.g. "*/5 * * * *").
	CronSchedule string `json:"cron_schedule,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	// DisableFileWatch turns off the fsnotify wake, leaving only timers.
	DisableFileWatch bool `json:"disable_file_watch,omitempty"`
	// StartupLookback widens the first seed to include recent history
	// (e.g. "24h"). Empty starts at the current tail.
	StartupLookback string `json:"startup_lookback,omitempty"`
}

// FilterRule is one direction of contact filtering.
type FilterRule struct {
	// Behavior is "none", "whitelist", or "blacklist".
	Behavior string   `json:"behavior,omitempty"`
	IDs      []string `json:"ids,omitempty"`
	// Chat-level overrides. A chat-level match decides before IDs are
	// consulted.
	ChatWhitelist []string `json:"chat_whitelist,omitempty"`
	ChatBlacklist []string `json:"chat_blacklist,omitempty"`
}

type FiltersConfig struct {
	Inbound  FilterRule `json:"inbound,omitempty"`
	Outbound FilterRule `json:"outbound,omitempty"`
}

// CheckpointConfig controls cursor persistence.
//
// Example:
//
//	"checkpoint": { "driver": "file", "path": "./chatwatch.cursor" }
type CheckpointConfig struct {
	// Driver is "file", "sqlite", or "" to disable persistence.
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OutboundConfig controls the send path.
type OutboundConfig struct {
	// Backend is the default: "script", "shortcuts", or "telegram".
	Backend string `json:"backend,omitempty"`
	// RatePerSec is the steady-state send rate. Fractional rates are allowed
	// (0.5 means one message every two seconds).
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	// WaitTimeout caps how long a blocking send waits for a token.
	WaitTimeout string `json:"wait_timeout,omitempty"`

	Script    ScriptBackendConfig    `json:"script,omitempty"`
	Shortcuts ShortcutsBackendConfig `json:"shortcuts,omitempty"`
	Telegram  TelegramBackendConfig  `json:"telegram,omitempty"`
}

type ScriptBackendConfig struct {
	Enabled     bool `json:"enabled"`
	SMSFallback bool `json:"sms_fallback,omitempty"`
}

type ShortcutsBackendConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name,omitempty"`
}

type TelegramBackendConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// RelayConfig mirrors admitted messages to an outbound backend.
type RelayConfig struct {
	Enabled         bool   `json:"enabled"`
	Backend         string `json:"backend,omitempty"`
	Recipient       string `json:"recipient,omitempty"`
	IncludeOutbound bool   `json:"include_outbound,omitempty"`
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
