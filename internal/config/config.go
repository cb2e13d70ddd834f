// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then BRIDGE_* environment variables on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "BRIDGE_CONFIG"

// defaultConfigPaths are tried in order; the first existing file wins.
func defaultConfigPaths() []string {
	paths := []string{"config.yaml", "config.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bridge", "config.yaml"))
	}
	return paths
}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Storage   StorageConfig   `koanf:"storage"`
	Intervals IntervalsConfig `koanf:"intervals"`
	NightMode NightModeConfig `koanf:"nightMode"`
	Activity  ActivityConfig  `koanf:"activity"`
	Trigger   TriggerConfig   `koanf:"trigger"`
	Cleanup   CleanupConfig   `koanf:"cleanup"`
	Worker    WorkerConfig    `koanf:"worker"`
	Claude    ClaudeConfig    `koanf:"claude"`
	Browser   BrowserConfig   `koanf:"browser"`
}

// ServerConfig covers the status HTTP API.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

type StorageConfig struct {
	DataDir         string `koanf:"dataDir"`
	StateFile       string `koanf:"stateFile"` // relative to dataDir unless absolute
	UsersFile       string `koanf:"usersFile"`
	EventLogMaxRows int    `koanf:"eventLogMaxRows"`
}

// IntervalsConfig holds the four scheduling intervals.
type IntervalsConfig struct {
	Base        time.Duration `koanf:"base"`
	Accelerated time.Duration `koanf:"accelerated"`
	Night       time.Duration `koanf:"night"`
	MaxInactive time.Duration `koanf:"maxInactive"`
}

type NightModeConfig struct {
	StartHour int `koanf:"startHour"`
	EndHour   int `koanf:"endHour"`
}

type ActivityConfig struct {
	RecentWindow              time.Duration `koanf:"recentWindow"`
	EmptyChecksBeforeSlowdown int           `koanf:"emptyChecksBeforeSlowdown"`
	MaxEmptyChecks            int           `koanf:"maxEmptyChecks"`
	AlertAfterInactive        time.Duration `koanf:"alertAfterInactive"`
}

type TriggerConfig struct {
	Prefixes   string `koanf:"prefixes"`
	SnippetLen int    `koanf:"snippetLen"`
}

type CleanupConfig struct {
	Interval  time.Duration `koanf:"interval"`
	Retention time.Duration `koanf:"retention"`
}

type WorkerConfig struct {
	MaxNotesPerCycle int           `koanf:"maxNotesPerCycle"`
	MinCallGap       time.Duration `koanf:"minCallGap"`
	DryRun           bool          `koanf:"dryRun"`
}

type ClaudeConfig struct {
	Model        string `koanf:"model"`
	MaxTokens    int    `koanf:"maxTokens"`
	SystemPrompt string `koanf:"systemPrompt"`
	BaseURL      string `koanf:"baseURL"` // empty means the public API
}

type BrowserConfig struct {
	Headless          bool          `koanf:"headless"`
	SessionDir        string        `koanf:"sessionDir"`
	NavigationTimeout time.Duration `koanf:"navigationTimeout"`
	StepWait          time.Duration `koanf:"stepWait"`
	ElementWait       time.Duration `koanf:"elementWait"`
	SettleDelay       time.Duration `koanf:"settleDelay"`
	LoginWait         time.Duration `koanf:"loginWait"`
	SaveWait          time.Duration `koanf:"saveWait"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:3000",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir:         "./data",
			StateFile:       "state.json",
			UsersFile:       "users.json",
			EventLogMaxRows: 1000,
		},
		Intervals: IntervalsConfig{
			Base:        5 * time.Minute,
			Accelerated: 2 * time.Minute,
			Night:       20 * time.Minute,
			MaxInactive: 15 * time.Minute,
		},
		NightMode: NightModeConfig{
			StartHour: 0,
			EndHour:   7,
		},
		Activity: ActivityConfig{
			RecentWindow:              time.Hour,
			EmptyChecksBeforeSlowdown: 5,
			MaxEmptyChecks:            20,
			AlertAfterInactive:        30 * time.Minute,
		},
		Trigger: TriggerConfig{
			Prefixes:   "<>",
			SnippetLen: 15,
		},
		Cleanup: CleanupConfig{
			Interval:  24 * time.Hour,
			Retention: 7 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			MaxNotesPerCycle: 1,
			MinCallGap:       time.Minute,
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1500,
		},
		Browser: BrowserConfig{
			Headless:          true,
			SessionDir:        "./data/sessions",
			NavigationTimeout: 10 * time.Second,
			StepWait:          5 * time.Second,
			ElementWait:       10 * time.Second,
			SettleDelay:       2 * time.Second,
			LoginWait:         30 * time.Second,
			SaveWait:          15 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the config file (if any) and
// environment variables, then validates it.
func Load() (Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (Config, error) {
	return load(path)
}

func load(path string) (Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings lists every supported BRIDGE_* variable explicitly, so stray
// environment variables cannot leak into the configuration.
var envMappings = map[string]string{
	"BRIDGE_SERVER_ENABLED": "server.enabled",
	"BRIDGE_SERVER_ADDR":    "server.addr",

	"BRIDGE_LOG_LEVEL":  "log.level",
	"BRIDGE_LOG_FORMAT": "log.format",

	"BRIDGE_DATA_DIR":          "storage.dataDir",
	"BRIDGE_STATE_FILE":        "storage.stateFile",
	"BRIDGE_USERS_FILE":        "storage.usersFile",
	"BRIDGE_EVENTLOG_MAX_ROWS": "storage.eventLogMaxRows",

	"BRIDGE_INTERVAL_BASE":         "intervals.base",
	"BRIDGE_INTERVAL_ACCELERATED":  "intervals.accelerated",
	"BRIDGE_INTERVAL_NIGHT":        "intervals.night",
	"BRIDGE_INTERVAL_MAX_INACTIVE": "intervals.maxInactive",

	"BRIDGE_NIGHT_START_HOUR": "nightMode.startHour",
	"BRIDGE_NIGHT_END_HOUR":   "nightMode.endHour",

	"BRIDGE_RECENT_WINDOW":                "activity.recentWindow",
	"BRIDGE_EMPTY_CHECKS_BEFORE_SLOWDOWN": "activity.emptyChecksBeforeSlowdown",
	"BRIDGE_MAX_EMPTY_CHECKS":             "activity.maxEmptyChecks",
	"BRIDGE_ALERT_AFTER_INACTIVE":         "activity.alertAfterInactive",

	"BRIDGE_TRIGGER_PREFIXES":    "trigger.prefixes",
	"BRIDGE_TRIGGER_SNIPPET_LEN": "trigger.snippetLen",

	"BRIDGE_CLEANUP_INTERVAL":  "cleanup.interval",
	"BRIDGE_CLEANUP_RETENTION": "cleanup.retention",

	"BRIDGE_MAX_NOTES_PER_CYCLE": "worker.maxNotesPerCycle",
	"BRIDGE_MIN_CALL_GAP":        "worker.minCallGap",
	"BRIDGE_DRY_RUN":             "worker.dryRun",

	"BRIDGE_CLAUDE_MODEL":         "claude.model",
	"BRIDGE_CLAUDE_MAX_TOKENS":    "claude.maxTokens",
	"BRIDGE_CLAUDE_SYSTEM_PROMPT": "claude.systemPrompt",
	"BRIDGE_CLAUDE_BASE_URL":      "claude.baseURL",

	"BRIDGE_BROWSER_HEADLESS":           "browser.headless",
	"BRIDGE_BROWSER_SESSION_DIR":        "browser.sessionDir",
	"BRIDGE_BROWSER_NAVIGATION_TIMEOUT": "browser.navigationTimeout",
}

func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToUpper(key)]; ok {
		return mapped
	}
	return "" // unmapped keys are skipped
}

// Validate rejects configurations the worker cannot run with.
func (c Config) Validate() error {
	if c.NightMode.StartHour < 0 || c.NightMode.StartHour > 23 {
		return fmt.Errorf("nightMode.startHour %d out of range 0-23", c.NightMode.StartHour)
	}
	if c.NightMode.EndHour < 0 || c.NightMode.EndHour > 23 {
		return fmt.Errorf("nightMode.endHour %d out of range 0-23", c.NightMode.EndHour)
	}
	for name, d := range map[string]time.Duration{
		"intervals.base":        c.Intervals.Base,
		"intervals.accelerated": c.Intervals.Accelerated,
		"intervals.night":       c.Intervals.Night,
		"intervals.maxInactive": c.Intervals.MaxInactive,
		"cleanup.interval":      c.Cleanup.Interval,
		"cleanup.retention":     c.Cleanup.Retention,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Activity.MaxEmptyChecks <= c.Activity.EmptyChecksBeforeSlowdown {
		return fmt.Errorf("activity.maxEmptyChecks (%d) must exceed activity.emptyChecksBeforeSlowdown (%d)",
			c.Activity.MaxEmptyChecks, c.Activity.EmptyChecksBeforeSlowdown)
	}
	if c.Trigger.SnippetLen <= 0 {
		return fmt.Errorf("trigger.snippetLen must be positive, got %d", c.Trigger.SnippetLen)
	}
	if c.Trigger.Prefixes == "" {
		return fmt.Errorf("trigger.prefixes must not be empty")
	}
	if c.Claude.MaxTokens <= 0 {
		return fmt.Errorf("claude.maxTokens must be positive, got %d", c.Claude.MaxTokens)
	}
	if c.Worker.MinCallGap < 0 {
		return fmt.Errorf("worker.minCallGap must not be negative, got %s", c.Worker.MinCallGap)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the status server is enabled")
	}
	return nil
}

// StatePath resolves the state file against the data directory.
func (c Config) StatePath() string {
	return resolve(c.Storage.DataDir, c.Storage.StateFile)
}

// UsersPath resolves the users file against the data directory.
func (c Config) UsersPath() string {
	return resolve(c.Storage.DataDir, c.Storage.UsersFile)
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
