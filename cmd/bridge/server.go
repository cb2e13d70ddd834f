package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2vlad/bridge/internal/accounts"
	"github.com/2vlad/bridge/internal/api"
	"github.com/2vlad/bridge/internal/browser"
	"github.com/2vlad/bridge/internal/claude"
	"github.com/2vlad/bridge/internal/config"
	"github.com/2vlad/bridge/internal/eventlog"
	"github.com/2vlad/bridge/internal/notes"
	"github.com/2vlad/bridge/internal/schedule"
	"github.com/2vlad/bridge/internal/state"
	"github.com/2vlad/bridge/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runWorker(dryRun)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running bridge worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopWorker()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("dry-run", false, "detect triggered notes without editing them")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "bridge.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func runWorker(dryRun bool) error {
	fmt.Fprintf(os.Stderr, "bridge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dryRun {
		cfg.Worker.DryRun = true
	}

	log := setupLogger(cfg.Log)

	// Refuse to double-start. The health endpoint is authoritative when the
	// status server is enabled; the PID file covers the rest.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if cfg.Server.Enabled {
		healthClient := &http.Client{Timeout: 2 * time.Second}
		if resp, err := healthClient.Get("http://" + cfg.Server.Addr + "/health"); err == nil {
			resp.Body.Close()
			if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
				printWarning("bridge is already running (PID %d)", pid)
				return fmt.Errorf("already running (PID %d)", pid)
			}
			printWarning("bridge is already running on %s", cfg.Server.Addr)
			return fmt.Errorf("already running on %s", cfg.Server.Addr)
		}
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := accounts.NewProvider(cfg.UsersPath())
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	log.Info("users loaded", "total", len(provider.All()), "active", len(provider.Active()))

	store := state.Open(cfg.StatePath(), log)

	events, err := eventlog.Open(cfg.Storage.DataDir, cfg.Storage.EventLogMaxRows, log)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer func() {
		if err := events.Close(); err != nil {
			log.Warn("closing event log", "error", err)
		}
	}()

	limiter := worker.NewLimiter(cfg.Worker.MinCallGap)

	var completer *claude.Client
	if cfg.Claude.BaseURL != "" {
		completer = claude.NewWithBaseURL(cfg.Claude.Model, cfg.Claude.MaxTokens, cfg.Claude.SystemPrompt, cfg.Claude.BaseURL)
	} else {
		completer = claude.New(cfg.Claude.Model, cfg.Claude.MaxTokens, cfg.Claude.SystemPrompt)
	}

	launcher := browser.NewLauncher(browser.Config{
		Headless:          cfg.Browser.Headless,
		SessionDir:        cfg.Browser.SessionDir,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	})

	machine := notes.NewMachine(notes.DefaultSelectors(), notes.Config{
		StepWait:         cfg.Browser.StepWait,
		ElementWait:      cfg.Browser.ElementWait,
		SettleDelay:      cfg.Browser.SettleDelay,
		LoginWait:        cfg.Browser.LoginWait,
		SaveWait:         cfg.Browser.SaveWait,
		SnippetLen:       cfg.Trigger.SnippetLen,
		TriggerPrefixes:  cfg.Trigger.Prefixes,
		MaxNotesPerCycle: cfg.Worker.MaxNotesPerCycle,
		DryRun:           cfg.Worker.DryRun,
	}, completer, store, limiter, events, log)

	policy := schedulePolicy(cfg)
	loop := worker.NewLoop(provider, launcher, machine, store, events, worker.Config{
		Policy:               policy,
		CleanupInterval:      cfg.Cleanup.Interval,
		FingerprintRetention: cfg.Cleanup.Retention,
		AlertAfterInactive:   cfg.Activity.AlertAfterInactive,
	}, log)

	if cfg.Worker.DryRun {
		log.Info("dry run enabled, notes will not be edited")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		// Watch returns on context cancellation; reload failures are logged
		// inside and keep the previous user set.
		if err := provider.Watch(gctx, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("users file watcher stopped", "error", err)
		}
		return nil
	})

	if cfg.Server.Enabled {
		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: api.NewHandler(api.Deps{
				Store:     store,
				Events:    events,
				Users:     provider,
				Gate:      limiter,
				Policy:    policy,
				StartedAt: time.Now(),
				Version:   version,
				DryRun:    cfg.Worker.DryRun,
			}),
		}
		g.Go(func() error {
			log.Info("status server listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(os.Stderr, "shutting down...")
	return nil
}

func schedulePolicy(cfg config.Config) schedule.Policy {
	return schedule.Policy{
		Base:                      cfg.Intervals.Base,
		Accelerated:               cfg.Intervals.Accelerated,
		Night:                     cfg.Intervals.Night,
		MaxInactive:               cfg.Intervals.MaxInactive,
		NightStartHour:            cfg.NightMode.StartHour,
		NightEndHour:              cfg.NightMode.EndHour,
		RecentWindow:              cfg.Activity.RecentWindow,
		EmptyChecksBeforeSlowdown: cfg.Activity.EmptyChecksBeforeSlowdown,
		MaxEmptyChecks:            cfg.Activity.MaxEmptyChecks,
	}
}

func stopWorker() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("bridge is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop bridge (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to bridge (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if !cfg.Server.Enabled {
		pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir))
		if err != nil {
			printStatus("Worker", "stopped")
		} else {
			printStatus("Worker", "running (PID %d)", pid)
		}
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}

	baseURL := "http://" + cfg.Server.Addr
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		printStatus("Worker", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Worker", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Worker", "running on %s", cfg.Server.Addr)

	statusResp, err := client.Get(baseURL + "/api/status")
	if err == nil {
		defer statusResp.Body.Close()
		var body struct {
			Uptime              string    `json:"uptime"`
			DryRun              bool      `json:"dryRun"`
			UsersTotal          int       `json:"usersTotal"`
			UsersActive         int       `json:"usersActive"`
			TotalChecks         int       `json:"totalChecks"`
			TotalNotesProcessed int       `json:"totalNotesProcessed"`
			EmptyChecks         int       `json:"emptyChecks"`
			TrackedNotes        int       `json:"trackedNotes"`
			LastCheckAt         time.Time `json:"lastCheckAt"`
		}
		if json.NewDecoder(statusResp.Body).Decode(&body) == nil {
			printStatus("Uptime", "%s", body.Uptime)
			if body.DryRun {
				printStatus("Mode", "dry run")
			}
			printStatus("Users", "%d active of %d", body.UsersActive, body.UsersTotal)
			printStatus("Checks", "%d total, %d empty in a row", body.TotalChecks, body.EmptyChecks)
			printStatus("Notes processed", "%d", body.TotalNotesProcessed)
			printStatus("Tracked notes", "%d", body.TrackedNotes)
			if !body.LastCheckAt.IsZero() {
				printStatus("Last check", "%s", body.LastCheckAt.Local().Format(time.RFC1123))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
