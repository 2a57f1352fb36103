package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/twimagine/internal/api/response"
)

// Version is reported by the liveness endpoint.
const Version = "1.0.0"

// Pinger is any dependency whose connectivity readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewHealthHandler reports liveness only; it touches no dependency.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Raw(w, http.StatusOK, healthResponse{
			Status:    "ok",
			Version:   Version,
			Message:   "Twimagine API is healthy! 🎨✨",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// NewReadyHandler checks database and cache connectivity.
func NewReadyHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
