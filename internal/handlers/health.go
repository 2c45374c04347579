package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/PortNumber53/saas-starter/internal/worker"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerStats exposes follow-up worker counters.
type WorkerStats interface {
	GetStats() worker.Stats
}

// Health responds with status 200 when the service and its database are up.
// db and jobs may be nil.
func Health(db Pinger, jobs WorkerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["database"] = "unreachable"
			} else {
				payload["database"] = "ok"
			}
		}
		if jobs != nil {
			payload["worker"] = jobs.GetStats()
		}

		writeJSON(w, status, payload)
	}
}
