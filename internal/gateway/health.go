package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string     `json:"status"` // "ok" or "degraded"
	Store     string     `json:"store"`  // "ok" or "unavailable"
	LastCycle *time.Time `json:"last_cycle,omitempty"`
	Uptime    int64      `json:"uptime_seconds"`
}

// handleHealth returns 200 when the store answers a ping and 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status: "ok",
			Store:  "ok",
			Uptime: int64(time.Since(g.startedAt).Seconds()),
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := g.store.Ping(ctx); err != nil {
			g.logger.Warn("gateway: store ping failed", "error", err)
			resp.Status = "degraded"
			resp.Store = "unavailable"
		}

		if last := g.events.Last(); last != nil {
			t := last.FinishedAt
			resp.LastCycle = &t
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
