// Package state persists the worker's scheduling counters and per-note
// dedupe fingerprints as a single JSON document. Loading is tolerant: a
// missing or corrupt snapshot yields defaults, never an error, so a bad disk
// can degrade the worker but not stop it.
package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Worker holds the process-wide scheduling state, mutated once per cycle.
type Worker struct {
	LastActivityAt      time.Time `json:"lastActivityAt,omitzero"`
	LastCheckAt         time.Time `json:"lastCheckAt,omitzero"`
	EmptyChecks         int       `json:"emptyChecksCount"`
	TotalChecks         int       `json:"totalChecks"`
	TotalNotesProcessed int       `json:"totalNotesProcessed"`
	LastCleanupAt       time.Time `json:"lastCleanupAt,omitzero"`
}

// NoteRecord is the change-detection fingerprint for one note of one user.
// It never holds note content, only the trimmed snippet used for comparison.
type NoteRecord struct {
	Snippet         string    `json:"snippet"`
	LastProcessedAt time.Time `json:"lastProcessedAt"`
}

// document is the on-disk shape: worker state plus userID -> noteID -> record.
type document struct {
	Worker Worker                           `json:"worker"`
	Notes  map[string]map[string]NoteRecord `json:"notes"`
}

// Store owns the in-memory state and its snapshot file. The worker loop is
// the only writer; the status API reads concurrently, hence the mutex.
type Store struct {
	path string
	log  *slog.Logger

	mu  sync.Mutex
	doc document
}

// Open creates a Store bound to the given snapshot path and loads it.
func Open(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log}
	s.load()
	return s
}

func (s *Store) load() {
	s.doc = document{Notes: map[string]map[string]NoteRecord{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("could not read state snapshot, starting fresh", "path", s.path, "error", err)
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("state snapshot is corrupt, starting fresh", "path", s.path, "error", err)
		return
	}
	if doc.Notes == nil {
		doc.Notes = map[string]map[string]NoteRecord{}
	}
	s.doc = doc
}

// Save writes the snapshot atomically (temp file + rename). The in-memory
// state stays authoritative on failure; callers log and carry on.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Worker returns a copy of the current worker state.
func (s *Store) Worker() Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Worker
}

// SetWorker replaces the worker state.
func (s *Store) SetWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Worker = w
}

// HasChanged reports whether the note should be processed: true when no
// fingerprint exists for (userID, noteID) or the stored snippet differs.
func (s *Store) HasChanged(userID, noteID, snippet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Notes[userID][noteID]
	return !ok || rec.Snippet != snippet
}

// RecordProcessed stores the fingerprint for (userID, noteID).
func (s *Store) RecordProcessed(userID, noteID, snippet string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := s.doc.Notes[userID]
	if notes == nil {
		notes = map[string]NoteRecord{}
		s.doc.Notes[userID] = notes
	}
	notes[noteID] = NoteRecord{Snippet: snippet, LastProcessedAt: now}
}

// NoteCount returns the number of tracked fingerprints across all users.
func (s *Store) NoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, notes := range s.doc.Notes {
		n += len(notes)
	}
	return n
}

// Cleanup deletes fingerprints older than retention, drops now-empty per-user
// maps, stamps LastCleanupAt, and returns how many records were removed.
// Calling it again with no newly-expired entries removes nothing.
func (s *Store) Cleanup(now time.Time, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, notes := range s.doc.Notes {
		for noteID, rec := range notes {
			if now.Sub(rec.LastProcessedAt) > retention {
				delete(notes, noteID)
				removed++
			}
		}
		if len(notes) == 0 {
			delete(s.doc.Notes, userID)
		}
	}
	s.doc.Worker.LastCleanupAt = now
	return removed
}

// ShouldCleanup reports whether a cleanup is due: never run, or the last one
// is older than the cleanup interval.
func ShouldCleanup(w Worker, now time.Time, interval time.Duration) bool {
	return w.LastCleanupAt.IsZero() || now.Sub(w.LastCleanupAt) > interval
}
