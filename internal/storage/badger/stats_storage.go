package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// StatsStorage tracks historical per-directory submission outcomes.
type StatsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewStatsStorage creates a new StatsStorage instance
func NewStatsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StatsStore {
	return &StatsStorage{
		db:     db,
		logger: logger,
	}
}

func (s *StatsStorage) RecordAttempt(ctx context.Context, directoryID string, success bool) error {
	if directoryID == "" {
		return fmt.Errorf("directory ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.DirectoryStats{DirectoryID: directoryID}
	if err := s.db.Store().Get(directoryID, &stats); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to load directory stats: %w", err)
	}

	stats.Attempts++
	if success {
		stats.Successes++
	}

	if err := s.db.Store().Upsert(directoryID, &stats); err != nil {
		return fmt.Errorf("failed to save directory stats: %w", err)
	}
	return nil
}

func (s *StatsStorage) GetStats(ctx context.Context, directoryID string) (models.DirectoryStats, error) {
	var stats models.DirectoryStats
	if err := s.db.Store().Get(directoryID, &stats); err != nil {
		if err == badgerhold.ErrNotFound {
			// No history yet - callers fall back to the neutral score.
			return models.DirectoryStats{DirectoryID: directoryID}, nil
		}
		return models.DirectoryStats{}, fmt.Errorf("failed to get directory stats: %w", err)
	}
	return stats, nil
}

func (s *StatsStorage) GetAllStats(ctx context.Context) (map[string]models.DirectoryStats, error) {
	var all []models.DirectoryStats
	if err := s.db.Store().Find(&all, badgerhold.Where("DirectoryID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list directory stats: %w", err)
	}

	result := make(map[string]models.DirectoryStats, len(all))
	for _, stats := range all {
		result[stats.DirectoryID] = stats
	}
	return result, nil
}
