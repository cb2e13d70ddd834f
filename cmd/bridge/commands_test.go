package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2vlad/bridge/internal/config"
)

func TestPIDFileRoundtrip(t *testing.T) {
	path := pidFilePath(t.TempDir())

	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Fatal("expected error after removal")
	}
}

func TestReadPIDFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readPIDFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSchedulePolicyMapsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Intervals.Base = 7 * time.Minute
	cfg.NightMode.StartHour = 22
	cfg.Activity.MaxEmptyChecks = 42

	p := schedulePolicy(cfg)
	if p.Base != 7*time.Minute {
		t.Errorf("Base = %s", p.Base)
	}
	if p.NightStartHour != 22 {
		t.Errorf("NightStartHour = %d", p.NightStartHour)
	}
	if p.MaxEmptyChecks != 42 {
		t.Errorf("MaxEmptyChecks = %d", p.MaxEmptyChecks)
	}
	if p.Night != cfg.Intervals.Night || p.RecentWindow != cfg.Activity.RecentWindow {
		t.Error("policy fields drifted from config")
	}
}
