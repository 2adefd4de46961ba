// -----------------------------------------------------------------------
// Status Reporter - publishes entry lifecycle events to the event bus
// -----------------------------------------------------------------------

package status

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
)

// Reporter translates queue state changes into events on the bus. Both the
// push surface (websocket broadcasts) and the notifier subscribe to these
// events; the pull surface reads the store directly and never goes through
// here, so both views derive from the same persisted state.
type Reporter struct {
	events interfaces.EventService
	clock  common.Clock
	logger arbor.ILogger

	// completed guards exactly-once terminal delivery per entry. Progress
	// events are fire-and-forget and carry no such guarantee. Entries are
	// never pruned; the store's forward-only Finalize is the backstop if
	// this map is lost to a restart.
	mu        sync.Mutex
	completed map[string]bool
}

// New creates a status reporter over the event bus.
func New(events interfaces.EventService, clock common.Clock, logger arbor.ILogger) *Reporter {
	return &Reporter{
		events:    events,
		clock:     clock,
		logger:    logger,
		completed: make(map[string]bool),
	}
}

// EntryCreated announces a newly enqueued entry.
func (r *Reporter) EntryCreated(ctx context.Context, entry *models.QueueEntry) {
	r.publish(ctx, interfaces.Event{Type: interfaces.EventEntryCreated, Payload: entry})
}

// EntryClaimed announces that a dispatcher run took ownership of an entry.
func (r *Reporter) EntryClaimed(ctx context.Context, entry *models.QueueEntry) {
	r.publish(ctx, interfaces.Event{Type: interfaces.EventEntryClaimed, Payload: entry})
}

// Progress publishes an incremental progress event. plannedTotal is the
// number of directories that will actually receive a result, which may be
// smaller than the entry's requested list when a tier cap truncated it.
func (r *Reporter) Progress(ctx context.Context, entry *models.QueueEntry, plannedTotal int, currentDirectory string) {
	completed := len(entry.Results)

	event := models.ProgressEvent{
		EntryID:              entry.ID,
		CustomerID:           entry.CustomerID,
		DirectoriesCompleted: completed,
		DirectoriesTotal:     plannedTotal,
		CurrentDirectory:     currentDirectory,
		Timestamp:            r.clock.Now(),
	}

	// Naive linear estimate from observed pace; absent until at least one
	// directory has finished.
	if entry.StartedAt != nil && completed > 0 && completed < plannedTotal {
		elapsed := r.clock.Now().Sub(*entry.StartedAt).Seconds()
		perDir := elapsed / float64(completed)
		event.EstimatedRemainingSeconds = int(perDir * float64(plannedTotal-completed))
	}

	r.publish(ctx, interfaces.Event{Type: interfaces.EventEntryProgress, Payload: event})
}

// Completion publishes the terminal event for an entry exactly once.
// Repeated calls for the same entry are no-ops, so retries anywhere in the
// finalization path never produce duplicate customer notifications.
func (r *Reporter) Completion(ctx context.Context, entry *models.QueueEntry, priorityRank int) {
	r.mu.Lock()
	if r.completed[entry.ID] {
		r.mu.Unlock()
		r.logger.Debug().Str("entry_id", entry.ID).Msg("Completion already reported - skipping")
		return
	}
	r.completed[entry.ID] = true
	r.mu.Unlock()

	succeeded, failed, skipped := entry.Counts()

	event := models.CompletionEvent{
		EntryID:        entry.ID,
		CustomerID:     entry.CustomerID,
		CustomerEmail:  entry.Profile.Email,
		Succeeded:      succeeded,
		Failed:         failed,
		Skipped:        skipped,
		FinalStatus:    entry.Status,
		NotifyPriority: notifyPriority(priorityRank),
		Timestamp:      r.clock.Now(),
	}
	if entry.CompletedAt != nil {
		event.TotalDurationSeconds = entry.CompletedAt.Sub(entry.CreatedAt).Seconds()
	}

	r.publish(ctx, interfaces.Event{Type: interfaces.EventEntryCompleted, Payload: event})
}

func (r *Reporter) publish(ctx context.Context, event interfaces.Event) {
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn().Err(err).
			Str("event_type", string(event.Type)).
			Msg("Failed to publish status event")
	}
}

// notifyPriority maps tier rank (1 = best) onto notification priority
// (higher = louder), clamped to at least 1.
func notifyPriority(priorityRank int) int {
	priority := 5 - priorityRank
	if priority < 1 {
		priority = 1
	}
	return priority
}
