// Package schedule decides how long the worker sleeps between polling
// cycles. All functions are pure: they take a policy, an activity snapshot,
// and a clock reading, and never touch persisted state themselves.
package schedule

import (
	"fmt"
	"time"
)

// Policy is the interval configuration the scheduler evaluates against.
type Policy struct {
	Base        time.Duration
	Accelerated time.Duration
	Night       time.Duration
	MaxInactive time.Duration

	NightStartHour int
	NightEndHour   int

	RecentWindow              time.Duration
	EmptyChecksBeforeSlowdown int
	MaxEmptyChecks            int
}

// Snapshot is the slice of worker state the scheduler needs. A zero
// LastActivityAt means no note has ever been processed.
type Snapshot struct {
	LastActivityAt time.Time
	EmptyChecks    int
}

// Reason explains which rule picked the current interval.
type Reason string

const (
	ReasonNight    Reason = "night"
	ReasonRecent   Reason = "recent-activity"
	ReasonAdaptive Reason = "adaptive-slowdown"
	ReasonBase     Reason = "base"
)

// NextDelay returns the delay until the next polling cycle and the rule that
// chose it. Precedence, first match wins: night window, recent activity,
// adaptive slowdown, base.
func NextDelay(p Policy, s Snapshot, now time.Time) (time.Duration, Reason) {
	if inNightWindow(p, now.Hour()) {
		return p.Night, ReasonNight
	}

	if !s.LastActivityAt.IsZero() && now.Sub(s.LastActivityAt) < p.RecentWindow {
		return p.Accelerated, ReasonRecent
	}

	if adaptive := adaptiveDelay(p, s.EmptyChecks); adaptive > p.Base {
		return adaptive, ReasonAdaptive
	}

	return p.Base, ReasonBase
}

// inNightWindow reports whether hour falls in [start, end). A start greater
// than end means the window spans midnight; start == end is an empty window.
func inNightWindow(p Policy, hour int) bool {
	if p.NightStartHour <= p.NightEndHour {
		return hour >= p.NightStartHour && hour < p.NightEndHour
	}
	return hour >= p.NightStartHour || hour < p.NightEndHour
}

// adaptiveDelay interpolates linearly between Base and MaxInactive once the
// consecutive empty-check count passes the slowdown threshold.
func adaptiveDelay(p Policy, emptyChecks int) time.Duration {
	if emptyChecks < p.EmptyChecksBeforeSlowdown {
		return p.Base
	}
	span := p.MaxEmptyChecks - p.EmptyChecksBeforeSlowdown
	if span <= 0 {
		return p.MaxInactive
	}
	factor := float64(emptyChecks-p.EmptyChecksBeforeSlowdown) / float64(span)
	if factor > 1 {
		factor = 1
	}
	return p.Base + time.Duration(factor*float64(p.MaxInactive-p.Base))
}

// Projection is one simulated future check.
type Projection struct {
	Check       int           `json:"check"`
	Interval    time.Duration `json:"interval"`
	Reason      Reason        `json:"reason"`
	EstimatedAt time.Time     `json:"estimatedAt"`
}

// Simulate projects the next n checks assuming every intervening cycle is
// empty. It is diagnostic only and leaves the snapshot untouched.
func Simulate(p Policy, s Snapshot, now time.Time, n int) []Projection {
	out := make([]Projection, 0, n)
	cur := s
	at := now
	for i := range n {
		interval, reason := NextDelay(p, cur, now)
		at = at.Add(interval)
		out = append(out, Projection{
			Check:       i + 1,
			Interval:    interval,
			Reason:      reason,
			EstimatedAt: at,
		})
		cur.EmptyChecks++
	}
	return out
}

// Suggestion is an advisory observation about the polling cadence. It never
// affects control flow.
type Suggestion struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Suggestions derives advisory messages from the snapshot and thresholds.
func Suggestions(p Policy, s Snapshot, now time.Time) []Suggestion {
	var out []Suggestion

	if s.EmptyChecks > p.MaxEmptyChecks {
		out = append(out, Suggestion{
			Type:    "warning",
			Message: fmt.Sprintf("%d consecutive empty checks; users may be inactive", s.EmptyChecks),
		})
	}

	if s.EmptyChecks > p.EmptyChecksBeforeSlowdown*2 {
		out = append(out, Suggestion{
			Type:    "optimization",
			Message: "consider raising the base interval to save resources",
		})
	}

	if s.LastActivityAt.IsZero() {
		out = append(out, Suggestion{
			Type:    "info",
			Message: "no activity recorded yet; worker is in standby",
		})
	} else if days := now.Sub(s.LastActivityAt).Hours() / 24; days > 7 {
		out = append(out, Suggestion{
			Type:    "warning",
			Message: fmt.Sprintf("last activity was %.0f days ago", days),
		})
	}

	return out
}

// Statistics is a point-in-time view of the scheduler, exposed by the status
// API and the plan command.
type Statistics struct {
	Interval          time.Duration `json:"interval"`
	Reason            Reason        `json:"reason"`
	CurrentHour       int           `json:"currentHour"`
	IsNight           bool          `json:"isNight"`
	HasRecentActivity bool          `json:"hasRecentActivity"`
	EmptyChecks       int           `json:"emptyChecks"`
	LastActivityAt    time.Time     `json:"lastActivityAt,omitzero"`
	NextCheckEstimate time.Time     `json:"nextCheckEstimate"`
}

// Stats evaluates the scheduler once and reports how it decided.
func Stats(p Policy, s Snapshot, now time.Time) Statistics {
	interval, reason := NextDelay(p, s, now)
	return Statistics{
		Interval:          interval,
		Reason:            reason,
		CurrentHour:       now.Hour(),
		IsNight:           inNightWindow(p, now.Hour()),
		HasRecentActivity: !s.LastActivityAt.IsZero() && now.Sub(s.LastActivityAt) < p.RecentWindow,
		EmptyChecks:       s.EmptyChecks,
		LastActivityAt:    s.LastActivityAt,
		NextCheckEstimate: now.Add(interval),
	}
}
