// Package api exposes the read-only status surface: health, worker state,
// schedule diagnostics and recent events.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2vlad/bridge/internal/accounts"
	"github.com/2vlad/bridge/internal/eventlog"
	"github.com/2vlad/bridge/internal/schedule"
	"github.com/2vlad/bridge/internal/state"
)

// UserSource reports the configured accounts.
type UserSource interface {
	All() []accounts.User
	Active() []accounts.User
}

// CallGate reports the global rate-limit state.
type CallGate interface {
	LastCall() time.Time
}

type Deps struct {
	Store     *state.Store
	Events    *eventlog.Logger
	Users     UserSource
	Gate      CallGate
	Policy    schedule.Policy
	StartedAt time.Time
	Version   string
	DryRun    bool
}

// NewHandler builds the router. Everything is GET; the bot has no mutating
// HTTP surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/api/status", handleStatus(deps))
	r.Get("/api/schedule", handleSchedule(deps))
	r.Get("/api/logs", handleLogs(deps))

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": deps.Version,
		})
	}
}

type statusResponse struct {
	Version             string    `json:"version"`
	Uptime              string    `json:"uptime"`
	DryRun              bool      `json:"dryRun,omitzero"`
	UsersTotal          int       `json:"usersTotal"`
	UsersActive         int       `json:"usersActive"`
	TotalChecks         int       `json:"totalChecks"`
	TotalNotesProcessed int       `json:"totalNotesProcessed"`
	EmptyChecks         int       `json:"emptyChecks"`
	TrackedNotes        int       `json:"trackedNotes"`
	LastCheckAt         time.Time `json:"lastCheckAt,omitzero"`
	LastActivityAt      time.Time `json:"lastActivityAt,omitzero"`
	LastCompletionAt    time.Time `json:"lastCompletionAt,omitzero"`
	LastCleanupAt       time.Time `json:"lastCleanupAt,omitzero"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wk := deps.Store.Worker()
		resp := statusResponse{
			Version:             deps.Version,
			Uptime:              time.Since(deps.StartedAt).Round(time.Second).String(),
			DryRun:              deps.DryRun,
			UsersTotal:          len(deps.Users.All()),
			UsersActive:         len(deps.Users.Active()),
			TotalChecks:         wk.TotalChecks,
			TotalNotesProcessed: wk.TotalNotesProcessed,
			EmptyChecks:         wk.EmptyChecks,
			TrackedNotes:        deps.Store.NoteCount(),
			LastCheckAt:         wk.LastCheckAt,
			LastActivityAt:      wk.LastActivityAt,
			LastCleanupAt:       wk.LastCleanupAt,
		}
		if deps.Gate != nil {
			resp.LastCompletionAt = deps.Gate.LastCall()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type scheduleResponse struct {
	Stats       schedule.Statistics   `json:"stats"`
	Projections []schedule.Projection `json:"projections"`
	Suggestions []schedule.Suggestion `json:"suggestions"`
}

func handleSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wk := deps.Store.Worker()
		snap := schedule.Snapshot{
			LastActivityAt: wk.LastActivityAt,
			EmptyChecks:    wk.EmptyChecks,
		}
		now := time.Now()

		resp := scheduleResponse{
			Stats:       schedule.Stats(deps.Policy, snap, now),
			Projections: schedule.Simulate(deps.Policy, snap, now, 5),
			Suggestions: schedule.Suggestions(deps.Policy, snap, now),
		}
		if resp.Suggestions == nil {
			resp.Suggestions = []schedule.Suggestion{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)

		events, err := deps.Events.Recent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read events: %v", err)
			return
		}
		if events == nil {
			events = []eventlog.Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
