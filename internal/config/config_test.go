package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
source:
  path: /var/db/chat.db
  attachments_path: ~/Library/Messages/Attachments
monitor:
  poll_interval: 15s
  batch_size: 100
filters:
  inbound:
    behavior: blacklist
    ids: ["spam@example.com"]
checkpoint:
  driver: file
  path: ./chatwatch.cursor
outbound:
  backend: script
  rate_per_sec: 0.5
  burst: 2
  script:
    enabled: true
    sms_fallback: true
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Path != "/var/db/chat.db" {
		t.Errorf("source.path = %q", cfg.Source.Path)
	}
	if cfg.Monitor.PollInterval != "15s" || cfg.Monitor.BatchSize != 100 {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Filters.Inbound.Behavior != "blacklist" || len(cfg.Filters.Inbound.IDs) != 1 {
		t.Errorf("filters.inbound = %+v", cfg.Filters.Inbound)
	}
	if cfg.Outbound.RatePerSec != 0.5 || !cfg.Outbound.Script.SMSFallback {
		t.Errorf("outbound = %+v", cfg.Outbound)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.json",
		`{"source":{"path":"/var/db/chat.db"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Path != "/var/db/chat.db" {
		t.Errorf("source.path = %q", cfg.Source.Path)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", `
source:
  path: /var/db/chat.db
surprise_knob: true
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Source: SourceConfig{Path: "/var/db/chat.db"}}
	}

	cases := []struct {
		name   string
		mut    func(*Config)
		wantOK bool
	}{
		{"minimal", func(*Config) {}, true},
		{"missing source path", func(c *Config) { c.Source.Path = "" }, false},
		{"bad duration", func(c *Config) { c.Monitor.PollInterval = "soon" }, false},
		{"bad cron", func(c *Config) { c.Monitor.CronSchedule = "every tuesday" }, false},
		{"good cron", func(c *Config) { c.Monitor.CronSchedule = "*/5 * * * *" }, true},
		{"bad lookback", func(c *Config) { c.Monitor.StartupLookback = "yesterday" }, false},
		{"good lookback", func(c *Config) { c.Monitor.StartupLookback = "24h" }, true},
		{"bad behavior", func(c *Config) { c.Filters.Inbound.Behavior = "greylist" }, false},
		{"checkpoint without path", func(c *Config) { c.Checkpoint.Driver = "file" }, false},
		{"checkpoint disabled", func(c *Config) { c.Checkpoint.Driver = "none" }, true},
		{"unknown checkpoint driver", func(c *Config) { c.Checkpoint.Driver = "redis"; c.Checkpoint.Path = "x" }, false},
		{"negative rate", func(c *Config) { c.Outbound.RatePerSec = -1 }, false},
		{"backend not enabled", func(c *Config) { c.Outbound.Backend = "script" }, false},
		{"backend enabled", func(c *Config) { c.Outbound.Backend = "script"; c.Outbound.Script.Enabled = true }, true},
		{"telegram without token", func(c *Config) { c.Outbound.Telegram.Enabled = true }, false},
		{"shortcuts without name", func(c *Config) { c.Outbound.Shortcuts.Enabled = true }, false},
		{"relay without backend", func(c *Config) { c.Relay.Enabled = true }, false},
		{
			"relay wired to telegram",
			func(c *Config) {
				c.Outbound.Telegram.Enabled = true
				c.Outbound.Telegram.Token = "t"
				c.Outbound.Telegram.ChatID = 42
				c.Relay.Enabled = true
				c.Relay.Backend = "telegram"
			},
			true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mut(cfg)
			err := Validate(cfg)
			if (err == nil) != tc.wantOK {
				t.Errorf("Validate err = %v, want ok=%v", err, tc.wantOK)
			}
		})
	}
}

func TestLoadRunsValidation(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", `
monitor:
  poll_interval: 10s
`))
	if _, err := m.Load(); err == nil {
		t.Fatal("Load accepted a config without source.path")
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a := &Config{Source: SourceConfig{Path: "a"}}
	b := &Config{Source: SourceConfig{Path: "b"}}
	m.publish(a)
	m.publish(b) // buffer full: oldest dropped, newest delivered

	got := <-ch
	if got.Source.Path != "b" {
		t.Fatalf("received %q, want latest %q", got.Source.Path, "b")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Source: SourceConfig{Path: "/a"}}
	newCfg := &Config{
		Source:  SourceConfig{Path: "/b"},
		Logging: LoggingConfig{Level: "debug"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"source": true, "logging": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}
}
