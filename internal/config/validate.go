package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"chatwatch/internal/filter"
)

// Validate checks cross-field constraints before a config is committed.
// Watch() also runs it on every reload so a bad edit never reaches
// running components.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Source.Path) == "" {
		return fmt.Errorf("source.path is required")
	}
	if _, err := ParseDurationField("source.busy_timeout", cfg.Source.BusyTimeout); err != nil {
		return err
	}

	if _, err := ParseDurationField("monitor.poll_interval", cfg.Monitor.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.debounce", cfg.Monitor.Debounce); err != nil {
		return err
	}
	if s := strings.TrimSpace(cfg.Monitor.CronSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("monitor.cron_schedule: %w", err)
		}
	}
	if cfg.Monitor.BatchSize < 0 {
		return fmt.Errorf("monitor.batch_size must be >= 0")
	}
	if _, err := ParseDurationField("monitor.startup_lookback", cfg.Monitor.StartupLookback); err != nil {
		return err
	}

	if _, err := filter.ParseBehavior(cfg.Filters.Inbound.Behavior); err != nil {
		return fmt.Errorf("filters.inbound: %w", err)
	}
	if _, err := filter.ParseBehavior(cfg.Filters.Outbound.Behavior); err != nil {
		return fmt.Errorf("filters.outbound: %w", err)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Checkpoint.Driver)); d {
	case "", "none", "off":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Checkpoint.Path) == "" {
			return fmt.Errorf("checkpoint.path is required for driver %q", d)
		}
	default:
		return fmt.Errorf("checkpoint.driver: unknown driver %q", cfg.Checkpoint.Driver)
	}
	if _, err := ParseDurationField("checkpoint.busy_timeout", cfg.Checkpoint.BusyTimeout); err != nil {
		return err
	}

	if cfg.Outbound.RatePerSec < 0 {
		return fmt.Errorf("outbound.rate_per_sec must be >= 0")
	}
	if cfg.Outbound.Burst < 0 {
		return fmt.Errorf("outbound.burst must be >= 0")
	}
	if _, err := ParseDurationField("outbound.wait_timeout", cfg.Outbound.WaitTimeout); err != nil {
		return err
	}
	if err := validateBackendRef("outbound.backend", cfg.Outbound.Backend, cfg, false); err != nil {
		return err
	}
	if cfg.Outbound.Shortcuts.Enabled && strings.TrimSpace(cfg.Outbound.Shortcuts.Name) == "" {
		return fmt.Errorf("outbound.shortcuts.name is required when enabled")
	}
	if cfg.Outbound.Telegram.Enabled && strings.TrimSpace(cfg.Outbound.Telegram.Token) == "" {
		return fmt.Errorf("outbound.telegram.token is required when enabled")
	}

	if cfg.Relay.Enabled {
		if err := validateBackendRef("relay.backend", cfg.Relay.Backend, cfg, true); err != nil {
			return err
		}
		backend := strings.TrimSpace(cfg.Relay.Backend)
		if backend != "telegram" && strings.TrimSpace(cfg.Relay.Recipient) == "" {
			return fmt.Errorf("relay.recipient is required for backend %q", backend)
		}
	}
	return nil
}

// validateBackendRef checks that a backend name is known and enabled.
// required distinguishes "must name a backend" from "empty picks the default".
func validateBackendRef(path, name string, cfg *Config, required bool) error {
	n := strings.TrimSpace(name)
	if n == "" {
		if required {
			return fmt.Errorf("%s is required", path)
		}
		return nil
	}
	switch n {
	case "script":
		if !cfg.Outbound.Script.Enabled {
			return fmt.Errorf("%s: script backend is not enabled", path)
		}
	case "shortcuts":
		if !cfg.Outbound.Shortcuts.Enabled {
			return fmt.Errorf("%s: shortcuts backend is not enabled", path)
		}
	case "telegram":
		if !cfg.Outbound.Telegram.Enabled {
			return fmt.Errorf("%s: telegram backend is not enabled", path)
		}
	default:
		return fmt.Errorf("%s: unknown backend %q", path, name)
	}
	return nil
}
