// -----------------------------------------------------------------------
// Entry Handler - HTTP surface of the submission queue
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/ternarybob/inscribo/internal/status"
)

// CreateEntryRequest is the POST body for enqueuing a submission batch.
type CreateEntryRequest struct {
	CustomerID  string                 `json:"customer_id" validate:"required"`
	Tier        string                 `json:"tier" validate:"required"`
	Directories []string               `json:"directories"`
	Profile     models.BusinessProfile `json:"profile"`
}

// EntryHandler serves the pull side of the status surface and entry
// creation. All reads come straight from the store, so pull and push views
// never diverge on the persisted state.
type EntryHandler struct {
	store    interfaces.EntryStore
	reporter *status.Reporter
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewEntryHandler creates the entry handler.
func NewEntryHandler(store interfaces.EntryStore, reporter *status.Reporter, logger arbor.ILogger) *EntryHandler {
	return &EntryHandler{
		store:    store,
		reporter: reporter,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateEntry handles POST /api/entries.
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}
	tier := models.Tier(req.Tier)
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tier: %s", req.Tier))
		return
	}
	if err := h.validate.Struct(req.Profile); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid profile: %v", err))
		return
	}

	entry := models.NewQueueEntry(req.CustomerID, tier, req.Directories, req.Profile)
	if err := h.store.SaveEntry(r.Context(), entry); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save entry")
		writeError(w, http.StatusInternalServerError, "failed to save entry")
		return
	}

	h.logger.Info().
		Str("entry_id", entry.ID).
		Str("customer_id", entry.CustomerID).
		Str("tier", string(entry.Tier)).
		Int("directories", len(entry.Directories)).
		Msg("Entry enqueued")
	h.reporter.EntryCreated(r.Context(), entry)

	writeJSON(w, http.StatusCreated, entry)
}

// GetEntry handles GET /api/entries/{id}.
func (h *EntryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("id")

	entry, err := h.store.GetEntry(r.Context(), entryID)
	if err == interfaces.ErrNotFound {
		writeError(w, http.StatusNotFound, fmt.Sprintf("entry not found: %s", entryID))
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("entry_id", entryID).Msg("Failed to load entry")
		writeError(w, http.StatusInternalServerError, "failed to load entry")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// ListEntries handles GET /api/entries with optional status, tier and
// limit filters.
func (h *EntryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.EntryListOptions{}

	if v := r.URL.Query().Get("status"); v != "" {
		opts.Status = models.EntryStatus(v)
	}
	if v := r.URL.Query().Get("tier"); v != "" {
		opts.Tier = models.Tier(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			opts.Limit = limit
		}
	}

	entries, err := h.store.ListEntries(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list entries")
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []*models.QueueEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// QueueStats handles GET /api/queue/stats.
func (h *EntryHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByStatus(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count entries")
		writeError(w, http.StatusInternalServerError, "failed to count entries")
		return
	}

	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, count := range counts {
		byStatus[string(status)] = count
		total += count
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"by_status": byStatus,
	})
}
