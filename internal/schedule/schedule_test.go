package schedule

import (
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		Base:                      5 * time.Minute,
		Accelerated:               2 * time.Minute,
		Night:                     20 * time.Minute,
		MaxInactive:               15 * time.Minute,
		NightStartHour:            0,
		NightEndHour:              7,
		RecentWindow:              time.Hour,
		EmptyChecksBeforeSlowdown: 5,
		MaxEmptyChecks:            20,
	}
}

// at returns a daytime clock reading with the given hour.
func at(hour int) time.Time {
	return time.Date(2026, time.March, 10, hour, 30, 0, 0, time.UTC)
}

func TestNextDelayBaseBelowThreshold(t *testing.T) {
	p := testPolicy()
	for empty := range p.EmptyChecksBeforeSlowdown {
		delay, reason := NextDelay(p, Snapshot{EmptyChecks: empty}, at(12))
		if delay != p.Base {
			t.Errorf("emptyChecks=%d: delay = %v, want %v", empty, delay, p.Base)
		}
		if reason != ReasonBase {
			t.Errorf("emptyChecks=%d: reason = %q, want %q", empty, reason, ReasonBase)
		}
	}
}

func TestNextDelayNightPrecedence(t *testing.T) {
	p := testPolicy()
	// Night must win even with recent activity and maxed-out empty checks.
	now := at(2)
	s := Snapshot{
		LastActivityAt: now.Add(-10 * time.Minute),
		EmptyChecks:    p.MaxEmptyChecks + 5,
	}
	delay, reason := NextDelay(p, s, now)
	if delay != p.Night || reason != ReasonNight {
		t.Fatalf("NextDelay = (%v, %q), want (%v, %q)", delay, reason, p.Night, ReasonNight)
	}
}

func TestNextDelayNightWrapsMidnight(t *testing.T) {
	p := testPolicy()
	p.NightStartHour, p.NightEndHour = 23, 6

	cases := []struct {
		hour  int
		night bool
	}{
		{22, false},
		{23, true},
		{0, true},
		{5, true},
		{6, false},
		{12, false},
	}
	for _, tc := range cases {
		_, reason := NextDelay(p, Snapshot{}, at(tc.hour))
		got := reason == ReasonNight
		if got != tc.night {
			t.Errorf("hour %d: night = %v, want %v", tc.hour, got, tc.night)
		}
	}
}

func TestNextDelayEmptyNightWindow(t *testing.T) {
	p := testPolicy()
	p.NightStartHour, p.NightEndHour = 3, 3
	if _, reason := NextDelay(p, Snapshot{}, at(3)); reason == ReasonNight {
		t.Fatal("startHour == endHour should be an empty window")
	}
}

func TestNextDelayRecentActivity(t *testing.T) {
	p := testPolicy()
	now := at(14)
	delay, reason := NextDelay(p, Snapshot{LastActivityAt: now.Add(-30 * time.Minute)}, now)
	if delay != p.Accelerated || reason != ReasonRecent {
		t.Fatalf("NextDelay = (%v, %q), want (%v, %q)", delay, reason, p.Accelerated, ReasonRecent)
	}

	// Outside the window the rule no longer applies.
	delay, reason = NextDelay(p, Snapshot{LastActivityAt: now.Add(-2 * time.Hour)}, now)
	if delay != p.Base || reason != ReasonBase {
		t.Fatalf("stale activity: NextDelay = (%v, %q), want base", delay, reason)
	}
}

func TestNextDelayAdaptiveMonotonic(t *testing.T) {
	p := testPolicy()
	now := at(14)

	prev := time.Duration(0)
	for empty := p.EmptyChecksBeforeSlowdown; empty <= p.MaxEmptyChecks+10; empty++ {
		delay, _ := NextDelay(p, Snapshot{EmptyChecks: empty}, now)
		if delay < prev {
			t.Fatalf("delay decreased at emptyChecks=%d: %v < %v", empty, delay, prev)
		}
		if delay > p.MaxInactive {
			t.Fatalf("delay %v exceeds MaxInactive %v at emptyChecks=%d", delay, p.MaxInactive, empty)
		}
		prev = delay
	}

	// At or beyond MaxEmptyChecks the delay saturates.
	delay, reason := NextDelay(p, Snapshot{EmptyChecks: p.MaxEmptyChecks}, now)
	if delay != p.MaxInactive {
		t.Fatalf("saturated delay = %v, want %v", delay, p.MaxInactive)
	}
	if reason != ReasonAdaptive {
		t.Fatalf("saturated reason = %q, want %q", reason, ReasonAdaptive)
	}
}

func TestSimulateAssumesEmptyChecks(t *testing.T) {
	p := testPolicy()
	now := at(14)
	s := Snapshot{EmptyChecks: p.EmptyChecksBeforeSlowdown - 1}

	proj := Simulate(p, s, now, 5)
	if len(proj) != 5 {
		t.Fatalf("len(proj) = %d, want 5", len(proj))
	}

	// First projected check is still below the threshold, later ones slow down.
	if proj[0].Interval != p.Base {
		t.Errorf("proj[0].Interval = %v, want %v", proj[0].Interval, p.Base)
	}
	if proj[4].Interval <= proj[0].Interval {
		t.Errorf("simulation did not slow down: %v <= %v", proj[4].Interval, proj[0].Interval)
	}

	// Estimated times accumulate.
	want := now
	for i, pr := range proj {
		want = want.Add(pr.Interval)
		if !pr.EstimatedAt.Equal(want) {
			t.Errorf("proj[%d].EstimatedAt = %v, want %v", i, pr.EstimatedAt, want)
		}
	}

	// The caller's snapshot is untouched.
	if s.EmptyChecks != p.EmptyChecksBeforeSlowdown-1 {
		t.Fatal("Simulate mutated the snapshot")
	}
}

func TestSuggestions(t *testing.T) {
	p := testPolicy()
	now := at(14)

	if got := Suggestions(p, Snapshot{LastActivityAt: now.Add(-time.Hour)}, now); len(got) != 0 {
		t.Fatalf("healthy snapshot produced suggestions: %v", got)
	}

	got := Suggestions(p, Snapshot{EmptyChecks: p.MaxEmptyChecks + 1}, now)
	types := map[string]bool{}
	for _, sg := range got {
		types[sg.Type] = true
	}
	if !types["warning"] || !types["optimization"] || !types["info"] {
		t.Fatalf("expected warning+optimization+info, got %v", got)
	}

	got = Suggestions(p, Snapshot{LastActivityAt: now.Add(-10 * 24 * time.Hour)}, now)
	if len(got) != 1 || got[0].Type != "warning" {
		t.Fatalf("stale activity: got %v, want one warning", got)
	}
}

func TestStats(t *testing.T) {
	p := testPolicy()
	now := at(2)
	st := Stats(p, Snapshot{EmptyChecks: 3}, now)
	if !st.IsNight || st.Reason != ReasonNight || st.Interval != p.Night {
		t.Fatalf("night stats wrong: %+v", st)
	}
	if !st.NextCheckEstimate.Equal(now.Add(p.Night)) {
		t.Fatalf("NextCheckEstimate = %v", st.NextCheckEstimate)
	}
}
