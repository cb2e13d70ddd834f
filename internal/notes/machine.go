// Package notes drives one user's check: navigate the dashboard to the notes
// surface, find the first triggered note whose prompt changed, ask the
// completion service for a reply, and write it back under the sentinel
// separator. The navigation path is a sequence of optional steps interpreted
// with skip-on-absence semantics, because different accounts start on
// different screens.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2vlad/bridge/internal/accounts"
	"github.com/2vlad/bridge/internal/browser"
	"github.com/2vlad/bridge/internal/eventlog"
)

// Sentinel marks a note as already answered. A reply is always appended as
// "\n\n---\n\n<reply>"; any note whose body contains the marker is skipped
// without another completion call, even if a human edited the text above it.
const Sentinel = "---"

const replySeparator = "\n\n" + Sentinel + "\n\n"

// errorReplyPrefix introduces an in-band service failure message.
const errorReplyPrefix = "Error: "

// NavigationError reports that a required step or element could not be
// reached. The user's cycle is abandoned with no state mutation; the next
// scheduled cycle is the retry.
type NavigationError struct {
	Step string
	Err  error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation failed at %s: %v", e.Step, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Completer is the completion-service dependency.
type Completer interface {
	Complete(ctx context.Context, prompt, apiKey string) (string, error)
}

// Fingerprints is the dedupe-state dependency.
type Fingerprints interface {
	HasChanged(userID, noteID, snippet string) bool
	RecordProcessed(userID, noteID, snippet string, now time.Time)
}

// Gate is the global rate-limit dependency, consulted immediately before
// every completion call. A false return defers the note to a later cycle.
type Gate interface {
	TryAcquire(now time.Time) bool
}

// EventSink receives the machine's structured events.
type EventSink interface {
	Log(userID, action string, f eventlog.Fields)
}

// Config tunes waits and processing behavior.
type Config struct {
	StepWait    time.Duration // bounded wait per optional navigation step
	ElementWait time.Duration // wait for required elements (editor, note list)
	SettleDelay time.Duration // pause after each step click, the SPA has no navigation events
	LoginWait   time.Duration // wait for the post-login redirect
	SaveWait    time.Duration // wait for the list to reappear after save

	SnippetLen       int    // fingerprint length, characters after the trigger
	TriggerPrefixes  string // global default trigger characters
	MaxNotesPerCycle int    // 0 means unlimited
	DryRun           bool
}

func (c Config) withDefaults() Config {
	if c.StepWait <= 0 {
		c.StepWait = 5 * time.Second
	}
	if c.ElementWait <= 0 {
		c.ElementWait = 10 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.LoginWait <= 0 {
		c.LoginWait = 30 * time.Second
	}
	if c.SaveWait <= 0 {
		c.SaveWait = 15 * time.Second
	}
	if c.SnippetLen <= 0 {
		c.SnippetLen = 15
	}
	if c.TriggerPrefixes == "" {
		c.TriggerPrefixes = "<>"
	}
	return c
}

// Result summarizes one user's check.
type Result struct {
	NotesSeen int
	Processed int
	Deferred  bool // a triggered note was skipped by the rate-limit gate
}

// Machine runs checks. It holds no per-user state; everything mutable lives
// behind the Fingerprints and Gate dependencies.
type Machine struct {
	sel       Selectors
	cfg       Config
	completer Completer
	prints    Fingerprints
	gate      Gate
	events    EventSink
	log       *slog.Logger
	now       func() time.Time
}

// NewMachine wires a Machine. A nil logger falls back to slog.Default.
func NewMachine(sel Selectors, cfg Config, completer Completer, prints Fingerprints, gate Gate, events EventSink, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		sel:       sel,
		cfg:       cfg.withDefaults(),
		completer: completer,
		prints:    prints,
		gate:      gate,
		events:    events,
		log:       log,
		now:       time.Now,
	}
}

// CheckUser performs one full check for one user inside an already-open
// session. The session is not closed here; that is the caller's scope.
func (m *Machine) CheckUser(ctx context.Context, sess browser.Session, user accounts.User) (Result, error) {
	var r Result

	if err := m.reachNotesList(ctx, sess, user); err != nil {
		return r, err
	}

	titles, ids, err := m.scanTitles(ctx, sess)
	if err != nil {
		return r, err
	}
	r.NotesSeen = len(titles)
	m.events.Log(user.ID, "notes:found", eventlog.Fields{
		Message: fmt.Sprintf("found %d notes", len(titles)),
		Extra:   map[string]any{"count": len(titles)},
	})

	prefixes := user.Settings.TriggerPrefix
	if prefixes == "" {
		prefixes = m.cfg.TriggerPrefixes
	}

	for i, title := range titles {
		prefix, ok := matchPrefix(title, prefixes)
		if !ok {
			continue
		}

		noteID := ids[i]
		snippet := snippetOf(title, prefix, m.cfg.SnippetLen)
		if !m.prints.HasChanged(user.ID, noteID, snippet) {
			continue
		}

		m.events.Log(user.ID, "note:triggered", eventlog.Fields{
			Message: fmt.Sprintf("new or changed prompt %q", snippet),
			Extra:   map[string]any{"noteId": noteID},
		})

		if m.cfg.DryRun {
			m.log.Info("dry run, skipping note edit", "user", user.ID, "note", noteID)
			m.prints.RecordProcessed(user.ID, noteID, snippet, m.now())
			break
		}

		outcome, err := m.handleNote(ctx, sess, user, i, noteID, prefix, snippet)
		if err != nil {
			// Definitive failure: abandon this user's cycle, leave the
			// fingerprint unset so the next cycle retries.
			return r, err
		}

		if outcome == outcomeDeferred {
			r.Deferred = true
			break
		}
		if outcome == outcomeProcessed {
			r.Processed++
			if m.cfg.MaxNotesPerCycle > 0 && r.Processed >= m.cfg.MaxNotesPerCycle {
				break
			}
			continue
		}
		// Already answered: fingerprint recorded, halt like any other
		// handled note.
		break
	}

	return r, nil
}

// reachNotesList logs in if the dashboard asks for it, then walks the
// optional step sequence and verifies we ended up on the notes surface.
func (m *Machine) reachNotesList(ctx context.Context, sess browser.Session, user accounts.User) error {
	if err := sess.Navigate(ctx, user.Settings.DeviceURL); err != nil {
		return &NavigationError{Step: "open-dashboard", Err: err}
	}

	loc, err := sess.Location(ctx)
	if err != nil {
		return &NavigationError{Step: "open-dashboard", Err: err}
	}
	if strings.Contains(loc, "/login") {
		if err := m.login(ctx, sess, user); err != nil {
			return err
		}
	}

	for _, step := range m.sel.Steps {
		if err := sess.WaitVisible(ctx, step.Target, m.cfg.StepWait); err != nil {
			if errors.Is(err, browser.ErrNotFound) {
				m.log.Debug("navigation step not applicable", "user", user.ID, "step", step.Name)
				continue
			}
			return &NavigationError{Step: step.Name, Err: err}
		}
		if err := sess.Click(ctx, step.Target); err != nil {
			// The element vanished between wait and click; treat like absence.
			m.log.Debug("navigation step click failed, skipping", "user", user.ID, "step", step.Name, "error", err)
			continue
		}
		if err := sleep(ctx, m.cfg.SettleDelay); err != nil {
			return &NavigationError{Step: step.Name, Err: err}
		}
	}

	loc, err = sess.Location(ctx)
	if err != nil {
		return &NavigationError{Step: "notes-surface", Err: err}
	}
	if !strings.Contains(loc, m.sel.NotesPath) {
		return &NavigationError{Step: "notes-surface", Err: fmt.Errorf("ended on %s", loc)}
	}
	return nil
}

func (m *Machine) login(ctx context.Context, sess browser.Session, user accounts.User) error {
	if err := sess.WaitVisible(ctx, m.sel.LoginEmail, m.cfg.ElementWait); err != nil {
		return &NavigationError{Step: "login", Err: err}
	}
	if err := sess.Type(ctx, m.sel.LoginEmail, user.Settings.DeviceEmail); err != nil {
		return &NavigationError{Step: "login", Err: err}
	}
	if err := sess.Type(ctx, m.sel.LoginPassword, user.Settings.DevicePassword); err != nil {
		return &NavigationError{Step: "login", Err: err}
	}
	if err := sess.Click(ctx, m.sel.LoginButton); err != nil {
		return &NavigationError{Step: "login", Err: err}
	}

	// The SPA redirects without a navigation event; poll the location.
	deadline := m.now().Add(m.cfg.LoginWait)
	for {
		loc, err := sess.Location(ctx)
		if err != nil {
			return &NavigationError{Step: "login", Err: err}
		}
		if !strings.Contains(loc, "/login") {
			m.events.Log(user.ID, "login:success", eventlog.Fields{Result: "success"})
			return nil
		}
		if m.now().After(deadline) {
			return &NavigationError{Step: "login", Err: errors.New("still on login page")}
		}
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return &NavigationError{Step: "login", Err: err}
		}
	}
}

// scanTitles enumerates visible notes in document order and pairs each title
// with a stable note id (the item's link href, falling back to position).
func (m *Machine) scanTitles(ctx context.Context, sess browser.Session) ([]string, []string, error) {
	if err := sess.WaitVisible(ctx, m.sel.NoteItem, m.cfg.ElementWait); err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return nil, nil, nil // an empty notes list renders no items
		}
		return nil, nil, &NavigationError{Step: "scan-titles", Err: err}
	}

	titles, err := sess.Texts(ctx, m.sel.NoteTitle)
	if err != nil {
		return nil, nil, &NavigationError{Step: "scan-titles", Err: err}
	}
	hrefs, err := sess.Attributes(ctx, m.sel.NoteItem, "href")
	if err != nil {
		return nil, nil, &NavigationError{Step: "scan-titles", Err: err}
	}

	ids := make([]string, len(titles))
	for i := range titles {
		if i < len(hrefs) && hrefs[i] != "" {
			ids[i] = hrefs[i]
		} else {
			ids[i] = fmt.Sprintf("item-%d", i)
		}
	}
	return titles, ids, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeAnswered
	outcomeDeferred
)

// handleNote opens the note at list index idx, completes it, and saves. The
// fingerprint is recorded on success and on an already-answered note, but
// never on rate-limit deferral.
func (m *Machine) handleNote(ctx context.Context, sess browser.Session, user accounts.User, idx int, noteID, prefix, snippet string) (outcome, error) {
	if err := sess.ClickNth(ctx, m.sel.NoteItem, idx); err != nil {
		return 0, &NavigationError{Step: "open-editor", Err: err}
	}
	if err := sess.WaitVisible(ctx, m.sel.Editor, m.cfg.ElementWait); err != nil {
		return 0, &NavigationError{Step: "open-editor", Err: err}
	}

	body, err := sess.ReadValue(ctx, m.sel.Editor)
	if err != nil {
		return 0, &NavigationError{Step: "read-body", Err: err}
	}

	if strings.Contains(body, Sentinel) {
		m.prints.RecordProcessed(user.ID, noteID, snippet, m.now())
		m.events.Log(user.ID, "note:answered", eventlog.Fields{
			Message: "note already contains a reply, caching without changes",
			Extra:   map[string]any{"noteId": noteID},
		})
		return outcomeAnswered, nil
	}

	if !m.gate.TryAcquire(m.now()) {
		m.events.Log(user.ID, "note:deferred", eventlog.Fields{
			Message: "completion call rate limited, retrying next cycle",
			Extra:   map[string]any{"noteId": noteID},
		})
		return outcomeDeferred, nil
	}

	prompt := strings.TrimSpace(strings.TrimPrefix(body, prefix))
	reply, err := m.completer.Complete(ctx, prompt, user.Settings.CompletionAPIKey)
	if err != nil {
		// Surface the failure in the note itself; the fingerprint is still
		// recorded below so the note is not retried automatically.
		reply = errorReplyPrefix + err.Error()
		m.events.Log(user.ID, "note:completion-error", eventlog.Fields{
			Result:  "error",
			Message: err.Error(),
			Extra:   map[string]any{"noteId": noteID},
		})
	}

	if err := sess.SetValue(ctx, m.sel.Editor, body+replySeparator+reply); err != nil {
		return 0, &NavigationError{Step: "write-body", Err: err}
	}
	if err := sess.Click(ctx, m.sel.Save); err != nil {
		return 0, &NavigationError{Step: "save", Err: err}
	}

	m.confirmSaved(ctx, sess, user)

	m.prints.RecordProcessed(user.ID, noteID, snippet, m.now())
	m.events.Log(user.ID, "note:processed", eventlog.Fields{
		Result:  "success",
		Message: fmt.Sprintf("note %s answered", noteID),
	})
	return outcomeProcessed, nil
}

// confirmSaved waits for the list to reappear. Some dashboard versions do
// not auto-return after save, so one explicit back is attempted; if the list
// still does not show up we only log, the note content is already saved.
func (m *Machine) confirmSaved(ctx context.Context, sess browser.Session, user accounts.User) {
	if err := sess.WaitVisible(ctx, m.sel.NoteItem, m.cfg.SaveWait); err == nil {
		return
	}
	if err := sess.Back(ctx); err != nil {
		m.log.Warn("back navigation after save failed", "user", user.ID, "error", err)
		return
	}
	if err := sess.WaitVisible(ctx, m.sel.NoteItem, m.cfg.SaveWait); err != nil {
		m.log.Warn("notes list did not reappear after save", "user", user.ID)
	}
}

// matchPrefix returns the first configured trigger character the title
// starts with.
func matchPrefix(title, prefixes string) (string, bool) {
	for _, r := range prefixes {
		p := string(r)
		if strings.HasPrefix(title, p) {
			return p, true
		}
	}
	return "", false
}

// snippetOf computes the fingerprint text: the prompt after the trigger,
// trimmed, first n characters.
func snippetOf(title, prefix string, n int) string {
	s := strings.TrimSpace(strings.TrimPrefix(title, prefix))
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
