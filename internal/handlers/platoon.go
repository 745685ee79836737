package handlers

import (
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/platoon-telemetry/internal/db"
	"github.com/ukydev/platoon-telemetry/internal/ingest"
	"github.com/ukydev/platoon-telemetry/internal/models"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// SceneSource is the part of the ingest service the read API needs.
type SceneSource interface {
	Latest() models.Scene
	Vehicles(now time.Time) []models.VehicleStatus
	Stats() ingest.Stats
	ResetSmoothing()
	Now() time.Time
}

// PlatoonHandler serves the scene, vehicle and history endpoints.
// History is nil when no MongoDB is configured.
type PlatoonHandler struct {
	source  SceneSource
	history db.TelemetryCollection
}

// NewPlatoonHandler creates the read API handler
func NewPlatoonHandler(source SceneSource, history db.TelemetryCollection) *PlatoonHandler {
	return &PlatoonHandler{source: source, history: history}
}

// Health reports liveness and packet counters
func (h *PlatoonHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sc := h.source.Latest()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"scene":  sc.State,
		"stats":  h.source.Stats(),
	})
}

// Scene returns the scene built by the most recent tick
func (h *PlatoonHandler) Scene(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.source.Latest())
}

// Vehicles returns every known vehicle, stale ones included
func (h *PlatoonHandler) Vehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.source.Vehicles(h.source.Now()))
}

// History returns recorded telemetry for one vehicle, newest first.
// Query parameters: id (required), limit (default 100, max 1000).
func (h *PlatoonHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		http.Error(w, "Telemetry recording is not enabled", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	id, err := strconv.ParseInt(q.Get("id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid vehicle id", http.StatusBadRequest)
		return
	}
	limit := int64(defaultHistoryLimit)
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || limit <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	docs, err := db.VehicleHistory(r.Context(), h.history, int32(id), limit)
	if err != nil {
		log.WithError(err).WithField("vehicle_id", id).Error("Failed to query vehicle history")
		http.Error(w, "Failed to query history", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []models.TelemetryDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// Reset discards the smoothed gaps of the current platoon
func (h *PlatoonHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.source.ResetSmoothing()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Gap smoothing reset"})
}
