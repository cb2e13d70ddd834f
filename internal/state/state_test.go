package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return Open(path, slog.Default()), path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, _ := openTestStore(t)
	w := s.Worker()
	if w.EmptyChecks != 0 || w.TotalChecks != 0 || !w.LastActivityAt.IsZero() {
		t.Fatalf("fresh store not zero-valued: %+v", w)
	}
	if s.NoteCount() != 0 {
		t.Fatalf("fresh store tracks %d notes", s.NoteCount())
	}
}

func TestLoadCorruptFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Open(path, slog.Default())
	if s.Worker().TotalChecks != 0 {
		t.Fatal("corrupt snapshot should load as defaults")
	}
}

func TestSaveAndReload(t *testing.T) {
	s, path := openTestStore(t)
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	s.SetWorker(Worker{
		LastActivityAt:      now,
		LastCheckAt:         now,
		EmptyChecks:         3,
		TotalChecks:         42,
		TotalNotesProcessed: 7,
	})
	s.RecordProcessed("u1", "note-a", "what is 2+2", now)

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := Open(path, slog.Default())
	w := reloaded.Worker()
	if w.TotalChecks != 42 || w.EmptyChecks != 3 || w.TotalNotesProcessed != 7 {
		t.Fatalf("reloaded worker state wrong: %+v", w)
	}
	if !w.LastActivityAt.Equal(now) {
		t.Fatalf("LastActivityAt = %v, want %v", w.LastActivityAt, now)
	}
	if reloaded.HasChanged("u1", "note-a", "what is 2+2") {
		t.Fatal("fingerprint lost across save/reload")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	s, path := openTestStore(t)
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after Save")
	}
}

func TestHasChanged(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now()

	if !s.HasChanged("u1", "n1", "hello") {
		t.Fatal("first observation should report changed")
	}
	s.RecordProcessed("u1", "n1", "hello", now)
	if s.HasChanged("u1", "n1", "hello") {
		t.Fatal("same snippet should not report changed")
	}
	if !s.HasChanged("u1", "n1", "hello again") {
		t.Fatal("different snippet should report changed")
	}
	// Keys are per (user, note).
	if !s.HasChanged("u2", "n1", "hello") {
		t.Fatal("other user's note should be unseen")
	}
}

func TestCleanup(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	retention := 7 * 24 * time.Hour

	s.RecordProcessed("u1", "old", "a", now.Add(-8*24*time.Hour))
	s.RecordProcessed("u1", "fresh", "b", now.Add(-time.Hour))
	s.RecordProcessed("u2", "old-only", "c", now.Add(-30*24*time.Hour))

	removed := s.Cleanup(now, retention)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if s.HasChanged("u1", "fresh", "b") {
		t.Fatal("fresh fingerprint was removed")
	}
	if !s.HasChanged("u1", "old", "a") {
		t.Fatal("expired fingerprint survived cleanup")
	}
	if s.NoteCount() != 1 {
		t.Fatalf("NoteCount = %d, want 1", s.NoteCount())
	}
	if !s.Worker().LastCleanupAt.Equal(now) {
		t.Fatal("LastCleanupAt not stamped")
	}

	// Idempotent: a second pass removes nothing new.
	if again := s.Cleanup(now, retention); again != 0 {
		t.Fatalf("second cleanup removed %d entries", again)
	}
}

func TestShouldCleanup(t *testing.T) {
	now := time.Now()
	day := 24 * time.Hour

	if !ShouldCleanup(Worker{}, now, day) {
		t.Fatal("never-cleaned state should be due")
	}
	if ShouldCleanup(Worker{LastCleanupAt: now.Add(-time.Hour)}, now, day) {
		t.Fatal("recent cleanup should not be due")
	}
	if !ShouldCleanup(Worker{LastCleanupAt: now.Add(-25 * time.Hour)}, now, day) {
		t.Fatal("stale cleanup should be due")
	}
}
