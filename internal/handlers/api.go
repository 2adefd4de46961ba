// -----------------------------------------------------------------------
// API Handler - health and version endpoints plus shared JSON helpers
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
)

// APIHandler serves service-level endpoints.
type APIHandler struct {
	store     interfaces.EntryStore
	catalog   interfaces.DirectoryCatalog
	logger    arbor.ILogger
	startedAt time.Time
}

// NewAPIHandler creates the API handler.
func NewAPIHandler(store interfaces.EntryStore, cat interfaces.DirectoryCatalog, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		store:     store,
		catalog:   cat,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Health handles GET /api/health. Storage reachability decides the status.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthy := true
	if _, err := h.store.CountByStatus(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Health check storage probe failed")
		healthy = false
	}

	statusText := "healthy"
	code := http.StatusOK
	if !healthy {
		statusText = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":         statusText,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"directories":    h.catalog.Len(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Version handles GET /api/version.
func (h *APIHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
