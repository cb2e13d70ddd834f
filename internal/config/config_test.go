package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
intervals:
  base: 10m
nightMode:
  startHour: 23
  endHour: 6
claude:
  model: claude-3-haiku-20240307
worker:
  dryRun: true
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Intervals.Base != 10*time.Minute {
		t.Errorf("intervals.base = %s", cfg.Intervals.Base)
	}
	if cfg.NightMode.StartHour != 23 || cfg.NightMode.EndHour != 6 {
		t.Errorf("nightMode = %+v", cfg.NightMode)
	}
	if cfg.Claude.Model != "claude-3-haiku-20240307" {
		t.Errorf("claude.model = %s", cfg.Claude.Model)
	}
	if !cfg.Worker.DryRun {
		t.Error("worker.dryRun not set")
	}
	// Untouched sections keep their defaults.
	if cfg.Intervals.Night != 20*time.Minute {
		t.Errorf("intervals.night = %s", cfg.Intervals.Night)
	}
	if cfg.Trigger.Prefixes != "<>" {
		t.Errorf("trigger.prefixes = %s", cfg.Trigger.Prefixes)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "intervals:\n  base: 10m\n")
	t.Setenv("BRIDGE_INTERVAL_BASE", "3m")
	t.Setenv("BRIDGE_TRIGGER_PREFIXES", "!")
	t.Setenv("BRIDGE_CLAUDE_MAX_TOKENS", "2000")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Intervals.Base != 3*time.Minute {
		t.Errorf("intervals.base = %s, env should win over file", cfg.Intervals.Base)
	}
	if cfg.Trigger.Prefixes != "!" {
		t.Errorf("trigger.prefixes = %s", cfg.Trigger.Prefixes)
	}
	if cfg.Claude.MaxTokens != 2000 {
		t.Errorf("claude.maxTokens = %d", cfg.Claude.MaxTokens)
	}
}

func TestLoadIgnoresUnmappedEnv(t *testing.T) {
	t.Setenv("BRIDGE_NO_SUCH_SETTING", "boom")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Intervals.Base != 5*time.Minute {
		t.Errorf("unexpected default drift: %+v", cfg.Intervals)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"start hour high", func(c *Config) { c.NightMode.StartHour = 24 }, "startHour"},
		{"end hour negative", func(c *Config) { c.NightMode.EndHour = -1 }, "endHour"},
		{"zero base interval", func(c *Config) { c.Intervals.Base = 0 }, "intervals.base"},
		{"negative retention", func(c *Config) { c.Cleanup.Retention = -time.Hour }, "cleanup.retention"},
		{"slowdown above max", func(c *Config) {
			c.Activity.EmptyChecksBeforeSlowdown = 20
			c.Activity.MaxEmptyChecks = 20
		}, "maxEmptyChecks"},
		{"zero snippet", func(c *Config) { c.Trigger.SnippetLen = 0 }, "snippetLen"},
		{"empty prefixes", func(c *Config) { c.Trigger.Prefixes = "" }, "prefixes"},
		{"zero max tokens", func(c *Config) { c.Claude.MaxTokens = 0 }, "maxTokens"},
		{"server without addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestPathsResolveAgainstDataDir(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/var/lib/bridge"

	if got := cfg.StatePath(); got != "/var/lib/bridge/state.json" {
		t.Errorf("StatePath = %s", got)
	}

	cfg.Storage.UsersFile = "/etc/bridge/users.json"
	if got := cfg.UsersPath(); got != "/etc/bridge/users.json" {
		t.Errorf("absolute UsersPath = %s", got)
	}
}
