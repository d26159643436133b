package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verity0/verity/internal/log"
)

// health answers liveness probes.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness answers readiness probes by pinging the database. A nil pool
// reports ready; the process can still serve canned responses. The
// indexed document count is included best-effort when a knowledge store
// is wired.
func readiness(pool *pgxpool.Pool, store KnowledgeStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]any{"status": "ready"}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": "database unreachable",
				}, logger)
				return
			}
			stats := pool.Stat()
			body["pool_total_conns"] = stats.TotalConns()
			body["pool_idle_conns"] = stats.IdleConns()
		}

		if store != nil {
			if count, err := store.Count(ctx, nil); err == nil {
				body["documents"] = count
			} else {
				logger.Debug("document count unavailable", "error", err)
			}
		}

		writeJSON(w, http.StatusOK, body, logger)
	}
}
