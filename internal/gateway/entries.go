package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/mtpsched/internal/schedule"
	"github.com/flemzord/mtpsched/internal/trigger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleListEntries returns every entry as a JSON array.
func (g *Gateway) handleListEntries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := g.store.List(r.Context())
		if err != nil {
			g.logger.Error("gateway: list entries", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		if entries == nil {
			entries = []schedule.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleGetEntry returns one entry by numeric ID.
func (g *Gateway) handleGetEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid entry id", http.StatusBadRequest)
			return
		}

		e, err := g.store.Get(r.Context(), id)
		switch {
		case errors.Is(err, schedule.ErrEntryNotFound):
			http.Error(w, "entry not found", http.StatusNotFound)
		case err != nil:
			g.logger.Error("gateway: get entry", "id", id, "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		default:
			writeJSON(w, http.StatusOK, e)
		}
	}
}

// handleLastCycle returns the most recent cycle report, or 404 before the
// first cycle.
func (g *Gateway) handleLastCycle() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		last := g.events.Last()
		if last == nil {
			http.Error(w, "no cycle has run yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, last)
	}
}

// handleRunCycle runs a cycle now and returns its report. The cycle is
// not cancelled when the client disconnects.
func (g *Gateway) handleRunCycle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := g.trigger.RunNow(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, trigger.ErrCycleRunning):
			http.Error(w, "cycle already running", http.StatusConflict)
		case err != nil:
			http.Error(w, "cycle failed", http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, report)
		}
	}
}
