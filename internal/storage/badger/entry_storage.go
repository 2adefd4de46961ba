// -----------------------------------------------------------------------
// Entry Storage - durable submission queue store with atomic claim
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EntryStorage implements the EntryStore interface for Badger.
//
// Claim runs Get-check-Update inside a single Badger read-write
// transaction, so concurrent claimants conflict at the storage layer and
// exactly one wins. Result appends are additionally serialized per entry
// through a keyed mutex; appends for different entries never contend.
type EntryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEntryStorage creates a new EntryStorage instance
func NewEntryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EntryStore {
	return &EntryStorage{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// entryLock returns the per-entry mutex, creating it on first use.
func (s *EntryStorage) entryLock(entryID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[entryID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[entryID] = lock
	}
	return lock
}

func (s *EntryStorage) SaveEntry(ctx context.Context, entry *models.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (s *EntryStorage) GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := s.db.Store().Get(entryID, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return &entry, nil
}

func (s *EntryStorage) ListEntries(ctx context.Context, opts *interfaces.EntryListOptions) ([]*models.QueueEntry, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Tier != "" {
			query = query.And("Tier").Eq(opts.Tier)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	// Oldest first - the scheduler relies on FIFO within equal priority.
	query = query.SortBy("CreatedAt")

	var entries []models.QueueEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	result := make([]*models.QueueEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *EntryStorage) CountByStatus(ctx context.Context) (map[models.EntryStatus]int, error) {
	var entries []models.QueueEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	counts := make(map[models.EntryStatus]int)
	for _, entry := range entries {
		counts[entry.Status]++
	}
	return counts, nil
}

// Claim atomically transitions Pending -> Processing and records the run
// as owner. The compare-and-set runs in one Badger transaction; a second
// claimant observes the already-updated status and loses.
func (s *EntryStorage) Claim(ctx context.Context, entryID, runID string) (*models.QueueEntry, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	var claimed models.QueueEntry

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var entry models.QueueEntry
		if err := s.db.Store().TxGet(txn, entryID, &entry); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return err
		}

		if entry.Status != models.EntryStatusPending || entry.AssignedRunID != "" {
			return interfaces.ErrAlreadyClaimed
		}

		now := time.Now()
		entry.Status = models.EntryStatusProcessing
		entry.StartedAt = &now
		entry.AssignedRunID = runID

		if err := s.db.Store().TxUpdate(txn, entryID, &entry); err != nil {
			return err
		}
		claimed = entry
		return nil
	})

	if err != nil {
		if err == interfaces.ErrAlreadyClaimed || err == interfaces.ErrNotFound {
			return nil, err
		}
		// Badger reports write conflicts between overlapping transactions;
		// for a claim race that means someone else won.
		if err == badgerdb.ErrConflict {
			return nil, interfaces.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim entry: %w", err)
	}

	return &claimed, nil
}

// AppendResult records one directory outcome. Appends are serialized per
// entry; duplicate results for the same directory are rejected so each
// requested directory ends in exactly one result.
func (s *EntryStorage) AppendResult(ctx context.Context, entryID string, result models.SubmissionResult) (*models.QueueEntry, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if entry.Status != models.EntryStatusProcessing {
		return nil, fmt.Errorf("cannot append result to entry in status %s", entry.Status)
	}
	if entry.HasResult(result.DirectoryID) {
		return nil, fmt.Errorf("result already recorded for directory %s", result.DirectoryID)
	}

	entry.Results = append(entry.Results, result)

	if err := s.db.Store().Update(entryID, entry); err != nil {
		return nil, fmt.Errorf("failed to append result: %w", err)
	}
	return entry, nil
}

// Finalize transitions Processing -> terminal, stamps CompletedAt and
// releases run ownership. Calling Finalize twice, or on a pending entry,
// is rejected - status only moves forward.
func (s *EntryStorage) Finalize(ctx context.Context, entryID string, status models.EntryStatus) (*models.QueueEntry, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("finalize requires a terminal status, got %s", status)
	}

	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if !entry.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("illegal transition %s -> %s", entry.Status, status)
	}

	now := time.Now()
	entry.Status = status
	entry.CompletedAt = &now
	entry.AssignedRunID = ""

	if err := s.db.Store().Update(entryID, entry); err != nil {
		return nil, fmt.Errorf("failed to finalize entry: %w", err)
	}

	return entry, nil
}
