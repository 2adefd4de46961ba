package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/inscribo/internal/models"
)

// ErrAlreadyClaimed is returned by Claim when another dispatcher run owns
// the entry. Not an error condition for the caller - the losing claimant
// moves on to the next candidate.
var ErrAlreadyClaimed = errors.New("entry already claimed")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// EntryListOptions filters entry listing.
type EntryListOptions struct {
	Status models.EntryStatus
	Tier   models.Tier
	Limit  int
	Offset int
}

// EntryStore is the durable submission queue store - the system's single
// source of truth and its sole mutual-exclusion boundary.
type EntryStore interface {
	SaveEntry(ctx context.Context, entry *models.QueueEntry) error
	GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, error)
	ListEntries(ctx context.Context, opts *EntryListOptions) ([]*models.QueueEntry, error)
	CountByStatus(ctx context.Context) (map[models.EntryStatus]int, error)

	// Claim atomically transitions Pending -> Processing and records the
	// dispatcher run as owner. Returns ErrAlreadyClaimed when the entry is
	// no longer pending. This is the only concurrency-control checkpoint.
	Claim(ctx context.Context, entryID, runID string) (*models.QueueEntry, error)

	// AppendResult records one directory outcome. Appends for a given
	// entry are serialized by the store; concurrent appends for different
	// entries are independent.
	AppendResult(ctx context.Context, entryID string, result models.SubmissionResult) (*models.QueueEntry, error)

	// Finalize transitions Processing -> terminal, stamps CompletedAt and
	// clears the run ownership. Rejects non-forward transitions.
	Finalize(ctx context.Context, entryID string, status models.EntryStatus) (*models.QueueEntry, error)
}

// StatsStore tracks historical per-directory submission outcomes.
type StatsStore interface {
	RecordAttempt(ctx context.Context, directoryID string, success bool) error
	GetStats(ctx context.Context, directoryID string) (models.DirectoryStats, error)
	GetAllStats(ctx context.Context) (map[string]models.DirectoryStats, error)
}

// StorageManager provides access to all storage interfaces.
type StorageManager interface {
	EntryStore() EntryStore
	StatsStore() StatsStore
	Close() error
}
