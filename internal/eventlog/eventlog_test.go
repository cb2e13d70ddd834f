package eventlog

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func openTestLog(t *testing.T, max int) *Logger {
	t.Helper()
	l, err := Open(":memory:", max, slog.Default())
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLogAndRecent(t *testing.T) {
	l := openTestLog(t, 100)

	l.Log("u1", "note:processed", Fields{
		Result:  "success",
		Message: `note "grocery list" processed`,
		Extra:   map[string]any{"duration_ms": 1200},
	})
	l.Log("", "worker:scheduled", Fields{Message: "next check in 5m"})

	events, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	// Newest first.
	if events[0].Action != "worker:scheduled" || events[0].UserID != "" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Action != "note:processed" || events[1].UserID != "u1" {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[1].Result != "success" {
		t.Errorf("Result = %q", events[1].Result)
	}
	if events[1].Extra["duration_ms"] != float64(1200) {
		t.Errorf("Extra = %v", events[1].Extra)
	}
}

func TestPruneCapsTableSize(t *testing.T) {
	l := openTestLog(t, 10)

	for i := range 25 {
		l.Log("", "tick", Fields{Message: fmt.Sprintf("event %d", i)})
	}

	events, err := l.Recent(100)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 10 {
		t.Fatalf("len(events) = %d, want 10", len(events))
	}
	// The newest entries survive.
	if events[0].Message != "event 24" {
		t.Errorf("newest event = %q", events[0].Message)
	}
	if events[9].Message != "event 15" {
		t.Errorf("oldest surviving event = %q", events[9].Message)
	}
}

func TestTimestampsAreUTC(t *testing.T) {
	l := openTestLog(t, 10)
	fixed := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	l.now = func() time.Time { return fixed }

	l.Log("", "tick", Fields{})
	events, err := l.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if !events[0].Timestamp.Equal(fixed) {
		t.Fatalf("Timestamp = %v, want instant %v", events[0].Timestamp, fixed)
	}
}
