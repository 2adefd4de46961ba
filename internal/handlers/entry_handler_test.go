package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/ternarybob/inscribo/internal/services/events"
	"github.com/ternarybob/inscribo/internal/status"
)

// stubStore is a minimal in-memory store for handler tests.
type stubStore struct {
	entries map[string]*models.QueueEntry
}

func newStubStore() *stubStore {
	return &stubStore{entries: make(map[string]*models.QueueEntry)}
}

func (s *stubStore) SaveEntry(ctx context.Context, entry *models.QueueEntry) error {
	s.entries[entry.ID] = entry
	return nil
}

func (s *stubStore) GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	entry, ok := s.entries[entryID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return entry, nil
}

func (s *stubStore) ListEntries(ctx context.Context, opts *interfaces.EntryListOptions) ([]*models.QueueEntry, error) {
	var result []*models.QueueEntry
	for _, entry := range s.entries {
		if opts != nil && opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		if opts != nil && opts.Tier != "" && entry.Tier != opts.Tier {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *stubStore) CountByStatus(ctx context.Context) (map[models.EntryStatus]int, error) {
	counts := make(map[models.EntryStatus]int)
	for _, entry := range s.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

func (s *stubStore) Claim(ctx context.Context, entryID, runID string) (*models.QueueEntry, error) {
	return nil, interfaces.ErrAlreadyClaimed
}

func (s *stubStore) AppendResult(ctx context.Context, entryID string, result models.SubmissionResult) (*models.QueueEntry, error) {
	return nil, interfaces.ErrNotFound
}

func (s *stubStore) Finalize(ctx context.Context, entryID string, st models.EntryStatus) (*models.QueueEntry, error) {
	return nil, interfaces.ErrNotFound
}

func newTestEntryHandler(store interfaces.EntryStore) *EntryHandler {
	logger := arbor.NewLogger()
	reporter := status.New(events.NewService(logger), common.NewClock(), logger)
	return NewEntryHandler(store, reporter, logger)
}

func createRequestBody(t *testing.T, tier string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(CreateEntryRequest{
		CustomerID:  "cust-1",
		Tier:        tier,
		Directories: []string{"yelp", "yellowpages"},
		Profile: models.BusinessProfile{
			Name:    "Acme Plumbing",
			City:    "Springfield",
			Email:   "owner@acme.example.com",
			Website: "https://acme.example.com",
		},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestCreateEntry(t *testing.T) {
	store := newStubStore()
	h := newTestEntryHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/entries", createRequestBody(t, "growth"))
	rec := httptest.NewRecorder()
	h.CreateEntry(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var entry models.QueueEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.EntryStatusPending, entry.Status)
	assert.Equal(t, models.TierGrowth, entry.Tier)
	assert.Len(t, store.entries, 1)
}

func TestCreateEntryRejectsUnknownTier(t *testing.T) {
	h := newTestEntryHandler(newStubStore())

	req := httptest.NewRequest(http.MethodPost, "/api/entries", createRequestBody(t, "platinum"))
	rec := httptest.NewRecorder()
	h.CreateEntry(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEntryRejectsMissingProfileName(t *testing.T) {
	h := newTestEntryHandler(newStubStore())

	body, _ := json.Marshal(CreateEntryRequest{
		CustomerID: "cust-1",
		Tier:       "growth",
		Profile:    models.BusinessProfile{City: "Springfield"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/entries", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	h.CreateEntry(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntryNotFound(t *testing.T) {
	h := newTestEntryHandler(newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/entries/ent_missing", nil)
	req.SetPathValue("id", "ent_missing")
	rec := httptest.NewRecorder()
	h.GetEntry(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEntryReturnsPersistedState(t *testing.T) {
	store := newStubStore()
	entry := models.NewQueueEntry("cust-1", models.TierStarter, []string{"yelp"}, models.BusinessProfile{Name: "Acme"})
	require.NoError(t, store.SaveEntry(context.Background(), entry))

	h := newTestEntryHandler(store)
	req := httptest.NewRequest(http.MethodGet, "/api/entries/"+entry.ID, nil)
	req.SetPathValue("id", entry.ID)
	rec := httptest.NewRecorder()
	h.GetEntry(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.QueueEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, models.TierStarter, got.Tier)
}

func TestListEntriesFiltersByStatus(t *testing.T) {
	store := newStubStore()
	pending := models.NewQueueEntry("cust-1", models.TierGrowth, []string{"yelp"}, models.BusinessProfile{Name: "Acme"})
	done := models.NewQueueEntry("cust-2", models.TierGrowth, []string{"yelp"}, models.BusinessProfile{Name: "Zenith"})
	done.Status = models.EntryStatusCompleted
	require.NoError(t, store.SaveEntry(context.Background(), pending))
	require.NoError(t, store.SaveEntry(context.Background(), done))

	h := newTestEntryHandler(store)
	req := httptest.NewRequest(http.MethodGet, "/api/entries?status=pending", nil)
	rec := httptest.NewRecorder()
	h.ListEntries(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []models.QueueEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, pending.ID, resp.Entries[0].ID)
}

func TestQueueStats(t *testing.T) {
	store := newStubStore()
	for i := 0; i < 3; i++ {
		entry := models.NewQueueEntry("cust", models.TierGrowth, []string{"yelp"}, models.BusinessProfile{Name: "Acme"})
		require.NoError(t, store.SaveEntry(context.Background(), entry))
	}

	h := newTestEntryHandler(store)
	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()
	h.QueueStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 3, resp.ByStatus["pending"])
}
