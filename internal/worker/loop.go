// Package worker owns the polling loop: one cycle checks every active user
// strictly in sequence, folds the outcome into persisted worker state, and
// schedules exactly one next cycle. Cycles never overlap; the next timer is
// armed only after the current cycle fully finishes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2vlad/bridge/internal/accounts"
	"github.com/2vlad/bridge/internal/browser"
	"github.com/2vlad/bridge/internal/eventlog"
	"github.com/2vlad/bridge/internal/notes"
	"github.com/2vlad/bridge/internal/schedule"
	"github.com/2vlad/bridge/internal/state"
)

// UserSource lists the accounts eligible for checking.
type UserSource interface {
	Active() []accounts.User
}

// SessionFactory opens a browser session bound to a per-user profile.
type SessionFactory interface {
	NewSession(ctx context.Context, profile string) (browser.Session, error)
}

// Checker runs one user's check inside an open session.
type Checker interface {
	CheckUser(ctx context.Context, sess browser.Session, user accounts.User) (notes.Result, error)
}

// EventSink receives loop-level events.
type EventSink interface {
	Log(userID, action string, f eventlog.Fields)
}

// Config tunes the loop around the scheduling policy.
type Config struct {
	Policy               schedule.Policy
	CleanupInterval      time.Duration // how often expired fingerprints are purged
	FingerprintRetention time.Duration // age past which a fingerprint is dropped
	AlertAfterInactive   time.Duration // 0 disables the inactivity warning
}

// Loop drives repeated cycles until the context is canceled.
type Loop struct {
	users    UserSource
	sessions SessionFactory
	checker  Checker
	store    *state.Store
	events   EventSink
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func NewLoop(users UserSource, sessions SessionFactory, checker Checker, store *state.Store, events EventSink, cfg Config, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		users:    users,
		sessions: sessions,
		checker:  checker,
		store:    store,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run executes cycles until ctx is done, persisting state on the way out.
// Each cycle's follow-up is a single-shot timer computed from the state that
// cycle produced.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunCycle(ctx)

		if ctx.Err() != nil {
			return l.shutdown()
		}

		w := l.store.Worker()
		delay, reason := schedule.NextDelay(l.cfg.Policy, schedule.Snapshot{
			LastActivityAt: w.LastActivityAt,
			EmptyChecks:    w.EmptyChecks,
		}, l.now())
		l.log.Info("next cycle scheduled", "in", delay, "reason", reason)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.shutdown()
		case <-timer.C:
		}
	}
}

func (l *Loop) shutdown() error {
	if err := l.store.Save(); err != nil {
		return fmt.Errorf("persist state on shutdown: %w", err)
	}
	l.log.Info("worker stopped, state persisted")
	return nil
}

// RunCycle checks every active user once, in order, and folds the results
// into worker state. It returns the number of notes processed this cycle.
func (l *Loop) RunCycle(ctx context.Context) int {
	now := l.now()
	users := l.users.Active()
	l.log.Info("cycle started", "users", len(users))

	processed := 0
	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		r := l.checkOne(ctx, user)
		processed += r.Processed
	}

	w := l.store.Worker()
	w.TotalChecks++
	w.LastCheckAt = now
	if processed > 0 {
		w.EmptyChecks = 0
		w.LastActivityAt = now
		w.TotalNotesProcessed += processed
	} else {
		w.EmptyChecks++
	}
	l.store.SetWorker(w)

	if state.ShouldCleanup(w, now, l.cfg.CleanupInterval) {
		removed := l.store.Cleanup(now, l.cfg.FingerprintRetention)
		l.log.Info("fingerprint cleanup", "removed", removed)
	}

	if l.cfg.AlertAfterInactive > 0 && !w.LastActivityAt.IsZero() &&
		now.Sub(w.LastActivityAt) > l.cfg.AlertAfterInactive {
		l.log.Warn("no notes processed recently",
			"lastActivity", w.LastActivityAt, "inactiveFor", now.Sub(w.LastActivityAt))
	}

	if err := l.store.Save(); err != nil {
		l.log.Error("persist state failed", "error", err)
	}

	l.log.Info("cycle finished", "processed", processed, "emptyChecks", l.store.Worker().EmptyChecks)
	return processed
}

// checkOne opens a session for one user, runs the check, and guarantees the
// session is closed on every path. A panic inside a check is contained so one
// broken account cannot take down the loop.
func (l *Loop) checkOne(ctx context.Context, user accounts.User) (r notes.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			l.log.Error("check panicked", "user", user.ID, "panic", rec)
			l.events.Log(user.ID, "check:panic", eventlog.Fields{
				Result:  "error",
				Message: fmt.Sprint(rec),
			})
			r = notes.Result{}
		}
	}()

	sess, err := l.sessions.NewSession(ctx, user.ID)
	if err != nil {
		l.log.Error("browser session failed", "user", user.ID, "error", err)
		l.events.Log(user.ID, "session:open", eventlog.Fields{Result: "error", Message: err.Error()})
		return notes.Result{}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			l.log.Warn("session close failed", "user", user.ID, "error", err)
		}
	}()

	r, err = l.checker.CheckUser(ctx, sess, user)
	if err != nil {
		l.log.Warn("check failed", "user", user.ID, "error", err)
		l.events.Log(user.ID, "check:failed", eventlog.Fields{Result: "error", Message: err.Error()})
		return notes.Result{}
	}
	return r
}
