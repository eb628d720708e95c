package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chatwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.path", strings.TrimSpace(newCfg.Source.Path)),
			logx.Bool("source.attachments_set", strings.TrimSpace(newCfg.Source.AttachmentsPath) != ""),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.poll_interval", strings.TrimSpace(newCfg.Monitor.PollInterval)),
			logx.String("monitor.cron_schedule", strings.TrimSpace(newCfg.Monitor.CronSchedule)),
			logx.Int("monitor.batch_size", newCfg.Monitor.BatchSize),
			logx.Bool("monitor.file_watch", !newCfg.Monitor.DisableFileWatch),
		)
	}

	if !reflect.DeepEqual(oldCfg.Filters, newCfg.Filters) {
		changed = append(changed, "filters")
		attrs = append(attrs,
			logx.String("filters.inbound.behavior", newCfg.Filters.Inbound.Behavior),
			logx.Int("filters.inbound.ids", len(newCfg.Filters.Inbound.IDs)),
			logx.String("filters.outbound.behavior", newCfg.Filters.Outbound.Behavior),
			logx.Int("filters.outbound.ids", len(newCfg.Filters.Outbound.IDs)),
		)
	}

	if oldCfg.Checkpoint != newCfg.Checkpoint {
		changed = append(changed, "checkpoint")
		attrs = append(attrs,
			logx.String("checkpoint.driver", strings.TrimSpace(newCfg.Checkpoint.Driver)),
			logx.Bool("checkpoint.path_set", strings.TrimSpace(newCfg.Checkpoint.Path) != ""),
		)
	}

	// Outbound (never log the telegram token)
	if !reflect.DeepEqual(oldCfg.Outbound, newCfg.Outbound) {
		changed = append(changed, "outbound")
		attrs = append(attrs,
			logx.String("outbound.backend", strings.TrimSpace(newCfg.Outbound.Backend)),
			logx.Float64("outbound.rate_per_sec", newCfg.Outbound.RatePerSec),
			logx.Int("outbound.burst", newCfg.Outbound.Burst),
			logx.Bool("outbound.script", newCfg.Outbound.Script.Enabled),
			logx.Bool("outbound.shortcuts", newCfg.Outbound.Shortcuts.Enabled),
			logx.Bool("outbound.telegram", newCfg.Outbound.Telegram.Enabled),
			logx.Bool("outbound.telegram_token_set", strings.TrimSpace(newCfg.Outbound.Telegram.Token) != ""),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Bool("relay.enabled", newCfg.Relay.Enabled),
			logx.String("relay.backend", strings.TrimSpace(newCfg.Relay.Backend)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
