// -----------------------------------------------------------------------
// Queue Entry - one customer's directory submission batch
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the lifecycle state of a queue entry.
// Transitions only move forward: Pending -> Processing -> terminal.
type EntryStatus string

const (
	EntryStatusPending            EntryStatus = "pending"
	EntryStatusProcessing         EntryStatus = "processing"
	EntryStatusCompleted          EntryStatus = "completed"
	EntryStatusPartiallyCompleted EntryStatus = "partially_completed"
	EntryStatusFailed             EntryStatus = "failed"
)

// IsTerminal returns true for the three terminal states.
func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusCompleted || s == EntryStatusPartiallyCompleted || s == EntryStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Same-state transitions are not allowed.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	switch s {
	case EntryStatusPending:
		return next == EntryStatusProcessing
	case EntryStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// Outcome is the terminal result for one directory within an entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// SubmissionResult records the outcome for one directory within one entry.
type SubmissionResult struct {
	DirectoryID  string     `json:"directory_id"`
	AttemptCount int        `json:"attempt_count"`
	Outcome      Outcome    `json:"outcome"`
	SkipReason   string     `json:"skip_reason,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// QueueEntry is the durable record of one customer's submission batch.
// The entry store is the source of truth; PriorityScore is derived each
// scheduling pass and never persisted authoritatively.
type QueueEntry struct {
	ID          string      `json:"id" badgerhold:"key"`
	CustomerID  string      `json:"customer_id"`
	Tier        Tier        `json:"tier"`
	Directories []string    `json:"directories"`
	Profile     BusinessProfile `json:"profile"`
	Status      EntryStatus `json:"status" badgerholdIndex:"Status"`

	PriorityScore float64 `json:"priority_score,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// AssignedRunID identifies the dispatcher run currently owning this
	// entry. Empty when not in flight. Set and cleared only through the
	// store's atomic claim path.
	AssignedRunID string `json:"assigned_run_id,omitempty"`

	Results []SubmissionResult `json:"results"`
}

// NewQueueEntry creates a pending entry with deduplicated directories,
// preserving first-seen order.
func NewQueueEntry(customerID string, tier Tier, directories []string, profile BusinessProfile) *QueueEntry {
	seen := make(map[string]bool, len(directories))
	deduped := make([]string, 0, len(directories))
	for _, id := range directories {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}

	return &QueueEntry{
		ID:          "ent_" + uuid.New().String(),
		CustomerID:  customerID,
		Tier:        tier,
		Directories: deduped,
		Profile:     profile,
		Status:      EntryStatusPending,
		CreatedAt:   time.Now(),
		Results:     []SubmissionResult{},
	}
}

// Validate checks the entry against required fields.
func (e *QueueEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry ID is required")
	}
	if e.CustomerID == "" {
		return fmt.Errorf("customer ID is required")
	}
	if !e.Tier.Valid() {
		return fmt.Errorf("unknown tier: %s", e.Tier)
	}
	if e.Status != EntryStatusPending && e.Status != EntryStatusProcessing && !e.Status.IsTerminal() {
		return fmt.Errorf("unknown status: %s", e.Status)
	}
	return nil
}

// WaitTime returns how long the entry has been waiting since creation.
func (e *QueueEntry) WaitTime(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Counts returns succeeded/failed/skipped totals over recorded results.
func (e *QueueEntry) Counts() (succeeded, failed, skipped int) {
	for _, r := range e.Results {
		switch r.Outcome {
		case OutcomeSuccess:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return
}

// TerminalStatus derives the entry-level terminal state from its results.
// Skips are policy decisions, not failures: when every attempted submission
// succeeded the entry completes regardless of skips. Any failure alongside
// a success partially completes the entry; zero successes with anything
// failed or skipped fails it. An entry with no results completes
// immediately.
func (e *QueueEntry) TerminalStatus() EntryStatus {
	succeeded, failed, skipped := e.Counts()
	if succeeded == 0 && failed+skipped > 0 {
		return EntryStatusFailed
	}
	if failed > 0 {
		return EntryStatusPartiallyCompleted
	}
	return EntryStatusCompleted
}

// HasResult reports whether a result is already recorded for the directory.
func (e *QueueEntry) HasResult(directoryID string) bool {
	for _, r := range e.Results {
		if r.DirectoryID == directoryID {
			return true
		}
	}
	return false
}
