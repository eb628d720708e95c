package app

import (
	"strings"
	"time"

	"chatwatch/internal/config"
	"chatwatch/internal/filter"
	"chatwatch/internal/monitor"
	"chatwatch/internal/outbound"
	logx "chatwatch/pkg/logx"
)

// engineConfig maps the config filter sections onto the engine's rule sets.
// Behaviors were validated at load time; parse errors here fall back to none.
func engineConfig(f config.FiltersConfig) filter.Config {
	return filter.Config{
		Inbound:  engineRule(f.Inbound),
		Outbound: engineRule(f.Outbound),
	}
}

func engineRule(r config.FilterRule) filter.Rule {
	b, _ := filter.ParseBehavior(r.Behavior)
	return filter.NewRule(b, r.IDs, r.ChatWhitelist, r.ChatBlacklist)
}

func routerConfig(o config.OutboundConfig) (outbound.Config, error) {
	wait, err := config.ParseDurationField("outbound.wait_timeout", o.WaitTimeout)
	if err != nil {
		return outbound.Config{}, err
	}
	return outbound.Config{
		Backend:     o.Backend,
		Rate:        o.RatePerSec,
		Burst:       o.Burst,
		WaitTimeout: wait,
	}, nil
}

func registerBackends(router *outbound.Router, o config.OutboundConfig, log logx.Logger) error {
	if o.Script.Enabled {
		router.Register(outbound.NewScriptSender(o.Script.SMSFallback,
			log.With(logx.String("comp", "outbound.script"))))
	}
	if o.Shortcuts.Enabled {
		router.Register(outbound.NewShortcutsSender(o.Shortcuts.Name,
			log.With(logx.String("comp", "outbound.shortcuts"))))
	}
	if o.Telegram.Enabled {
		s, err := outbound.NewTelegramSender(outbound.TelegramConfig{
			Token:  o.Telegram.Token,
			ChatID: o.Telegram.ChatID,
		}, log.With(logx.String("comp", "outbound.telegram")))
		if err != nil {
			return err
		}
		router.Register(s)
	}
	return nil
}

// buildWakes assembles the wake sources: file watch (unless disabled), the
// timer backstop, and an optional cron schedule.
func buildWakes(cfg *config.Config, log logx.Logger) ([]monitor.WakeSource, error) {
	var wakes []monitor.WakeSource

	if !cfg.Monitor.DisableFileWatch {
		debounce, err := config.ParseDurationOrDefault("monitor.debounce",
			cfg.Monitor.Debounce, 100*time.Millisecond)
		if err != nil {
			return nil, err
		}
		wakes = append(wakes, &monitor.FileWake{
			Path:     cfg.Source.Path,
			Debounce: debounce,
			Log:      log.With(logx.String("comp", "wake.file")),
		})
	}

	poll, err := config.ParseDurationOrDefault("monitor.poll_interval",
		cfg.Monitor.PollInterval, 30*time.Second)
	if err != nil {
		return nil, err
	}
	wakes = append(wakes, &monitor.TickerWake{Interval: poll})

	if spec := strings.TrimSpace(cfg.Monitor.CronSchedule); spec != "" {
		cw, err := monitor.NewCronWake(spec)
		if err != nil {
			return nil, err
		}
		wakes = append(wakes, cw)
	}
	return wakes, nil
}
