package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	entry  interfaces.EntryStore
	stats  interfaces.StatsStore
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		entry:  NewEntryStorage(db, logger),
		stats:  NewStatsStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// EntryStore returns the submission queue store
func (m *Manager) EntryStore() interfaces.EntryStore {
	return m.entry
}

// StatsStore returns the directory stats store
func (m *Manager) StatsStore() interfaces.StatsStore {
	return m.stats
}

// DB returns the underlying database wrapper
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
