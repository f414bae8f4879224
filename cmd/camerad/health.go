package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/camera-gateway/internal/native/wsbridge"
	"github.com/rickgao/camera-gateway/internal/poller"
	"github.com/rickgao/camera-gateway/internal/recorder"
	"github.com/rickgao/camera-gateway/internal/session"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type bridgeState interface {
	IsConnected() bool
	Stats() wsbridge.Stats
}

// createHealthHandler creates the HTTP handler for health checks. db and rec
// are nil when recording is disabled; poll may be nil.
func createHealthHandler(mgr *session.Manager, bridge bridgeState, db pinger, rec *recorder.Recorder, poll *poller.Poller, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()

	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Debug("write response", "error", err)
		}
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check sidecar
		if bridge.IsConnected() {
			health.Components["sidecar"] = "connected"
		} else {
			health.Status = "unhealthy"
			health.Components["sidecar"] = "disconnected"
		}

		// Check database
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		// Check sessions
		sessions := mgr.Sessions()
		online := 0
		for _, info := range sessions {
			if info.Online {
				online++
			}
		}
		health.Components["sessions"] = map[string]int{
			"total":  len(sessions),
			"online": online,
		}
		if online < len(sessions) && health.Status == "healthy" {
			health.Status = "degraded"
		}

		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/sessions", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"sessions": mgr.Stats(),
			"bridge":   bridge.Stats(),
		}
		if rec != nil {
			resp["recorder"] = rec.Stats()
		}
		if poll != nil {
			resp["poller"] = poll.Stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/sessions/{device_id}", func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["device_id"]
		sess, err := mgr.Session(deviceID)
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, sess.Stats())
	}).Methods(http.MethodGet)

	return router
}
