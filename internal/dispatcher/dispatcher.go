// -----------------------------------------------------------------------
// Dispatcher - claims scheduled entries and drives directory submissions
// -----------------------------------------------------------------------

package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/ternarybob/inscribo/internal/scheduler"
)

// Skip reasons recorded on results for directories the policy rules out.
const (
	SkipReasonUnknownDirectory = "unknown_directory"
	SkipReasonBroken           = "directory_unavailable"
	SkipReasonLoginRequired    = "login_required"
	SkipReasonPaidDirectory    = "paid_directory"
	SkipReasonAntiBot          = "anti_bot_protection"
)

// StatusReporter receives lifecycle notifications as entries move through
// dispatch. Implemented by the status reporter.
type StatusReporter interface {
	EntryClaimed(ctx context.Context, entry *models.QueueEntry)
	Progress(ctx context.Context, entry *models.QueueEntry, plannedTotal int, currentDirectory string)
	Completion(ctx context.Context, entry *models.QueueEntry, priorityRank int)
}

// Dispatcher claims entries handed over by the scheduler and executes their
// directory submissions under the tier's concurrency and retry limits. A
// system-wide inflight bound caps concurrent entries across all tiers.
type Dispatcher struct {
	store     interfaces.EntryStore
	stats     interfaces.StatsStore
	catalog   interfaces.DirectoryCatalog
	submitter interfaces.Submitter
	reporter  StatusReporter
	clock     common.Clock
	logger    arbor.ILogger

	attemptTimeout time.Duration
	inflight       chan struct{}
	wg             sync.WaitGroup
}

// New creates a dispatcher. attemptTimeout bounds a single submission
// attempt; retries each get a fresh deadline.
func New(
	store interfaces.EntryStore,
	stats interfaces.StatsStore,
	cat interfaces.DirectoryCatalog,
	submitter interfaces.Submitter,
	reporter StatusReporter,
	cfg *common.QueueConfig,
	attemptTimeout time.Duration,
	clock common.Clock,
	logger arbor.ILogger,
) *Dispatcher {
	maxInflight := cfg.MaxInflight
	if maxInflight < 1 {
		maxInflight = 1
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}

	return &Dispatcher{
		store:          store,
		stats:          stats,
		catalog:        cat,
		submitter:      submitter,
		reporter:       reporter,
		clock:          clock,
		logger:         logger,
		attemptTimeout: attemptTimeout,
		inflight:       make(chan struct{}, maxInflight),
	}
}

// RunGroup dispatches one tier group from a scheduling pass. Each entry
// runs in its own goroutine behind the global inflight bound; when the
// bound is reached the rest of the group waits for the next pass.
func (d *Dispatcher) RunGroup(ctx context.Context, group scheduler.TierGroup) {
	for _, entry := range group.Entries {
		select {
		case d.inflight <- struct{}{}:
		default:
			d.logger.Debug().
				Str("tier", string(group.Tier)).
				Msg("Inflight limit reached - deferring remaining entries to next pass")
			return
		}

		d.wg.Add(1)
		e := entry
		common.SafeGo(d.logger, "dispatch-entry", func() {
			defer d.wg.Done()
			defer func() { <-d.inflight }()
			d.processEntry(ctx, e, group.Policy)
		})
	}
}

// Wait blocks until all in-flight entries finish. Used during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// processEntry claims the entry and runs it to a terminal state. Losing
// the claim race is normal and exits quietly.
func (d *Dispatcher) processEntry(ctx context.Context, entry *models.QueueEntry, policy models.TierPolicy) {
	runID := common.NewRunID()

	claimed, err := d.store.Claim(ctx, entry.ID, runID)
	if err == interfaces.ErrAlreadyClaimed {
		d.logger.Debug().Str("entry_id", entry.ID).Msg("Entry already claimed by another run")
		return
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("Failed to claim entry")
		return
	}

	d.logger.Info().
		Str("entry_id", claimed.ID).
		Str("run_id", runID).
		Str("tier", string(claimed.Tier)).
		Int("directories", len(claimed.Directories)).
		Msg("Entry claimed")
	d.reporter.EntryClaimed(ctx, claimed)

	runnable, skips := d.buildPlan(claimed, policy)
	plannedTotal := len(runnable) + len(skips)

	current := claimed
	for _, skip := range skips {
		updated, err := d.store.AppendResult(ctx, claimed.ID, skip)
		if err != nil {
			d.logger.Warn().Err(err).
				Str("entry_id", claimed.ID).
				Str("directory_id", skip.DirectoryID).
				Msg("Failed to record skip result")
			continue
		}
		current = updated
		d.reporter.Progress(ctx, current, plannedTotal, "")
	}

	d.runDirectories(ctx, current, runnable, policy, plannedTotal)
	d.finalize(ctx, claimed.ID, policy)
}

// buildPlan partitions the entry's directories into runnable descriptors
// and immediate skips, then truncates runnable to the tier's cap keeping
// the historically strongest performers. Directories cut by the cap get no
// result at all.
func (d *Dispatcher) buildPlan(entry *models.QueueEntry, policy models.TierPolicy) ([]models.DirectoryDescriptor, []models.SubmissionResult) {
	var runnable []models.DirectoryDescriptor
	var skips []models.SubmissionResult

	skip := func(directoryID, reason string) {
		now := d.clock.Now()
		skips = append(skips, models.SubmissionResult{
			DirectoryID: directoryID,
			Outcome:     models.OutcomeSkipped,
			SkipReason:  reason,
			CompletedAt: &now,
		})
	}

	for _, id := range entry.Directories {
		descriptor, ok := d.catalog.Get(id)
		if !ok {
			skip(id, SkipReasonUnknownDirectory)
			continue
		}
		switch {
		case descriptor.Broken:
			skip(id, SkipReasonBroken)
		case descriptor.RequiresLogin && !policy.AllowLoginDirectories:
			skip(id, SkipReasonLoginRequired)
		case descriptor.FeeCents > 0 && !policy.AllowPaidDirectories:
			skip(id, SkipReasonPaidDirectory)
		case descriptor.HasAntiBot:
			skip(id, SkipReasonAntiBot)
		default:
			runnable = append(runnable, descriptor)
		}
	}

	if policy.MaxDirectoriesPerEntry > 0 && len(runnable) > policy.MaxDirectoriesPerEntry {
		runnable = d.truncateByScore(runnable, policy.MaxDirectoriesPerEntry)
		d.logger.Info().
			Str("entry_id", entry.ID).
			Int("cap", policy.MaxDirectoriesPerEntry).
			Msg("Directory list truncated to tier cap")
	}

	return runnable, skips
}

// truncateByScore keeps the cap directories with the best historical
// success rate. Unknown history scores neutral, and equal scores keep the
// entry's original ordering.
func (d *Dispatcher) truncateByScore(runnable []models.DirectoryDescriptor, limit int) []models.DirectoryDescriptor {
	allStats, err := d.stats.GetAllStats(context.Background())
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to load directory stats - truncating by list order")
		return runnable[:limit]
	}

	scoreOf := func(id string) float64 {
		return allStats[id].Score()
	}

	sorted := make([]models.DirectoryDescriptor, len(runnable))
	copy(sorted, runnable)
	sort.SliceStable(sorted, func(i, j int) bool {
		return scoreOf(sorted[i].ID) > scoreOf(sorted[j].ID)
	})

	return sorted[:limit]
}

// runDirectories executes submissions with the tier's per-entry worker
// bound. Each directory runs independently so one failure never poisons
// the rest of the batch.
func (d *Dispatcher) runDirectories(ctx context.Context, entry *models.QueueEntry, runnable []models.DirectoryDescriptor, policy models.TierPolicy, plannedTotal int) {
	if len(runnable) == 0 {
		return
	}

	workers := policy.MaxConcurrentDirs
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, descriptor := range runnable {
		wg.Add(1)
		dir := descriptor
		common.SafeGo(d.logger, "submit-directory", func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := d.submitWithRetries(ctx, dir, entry.Profile, policy)

			updated, err := d.store.AppendResult(ctx, entry.ID, result)
			if err != nil {
				d.logger.Warn().Err(err).
					Str("entry_id", entry.ID).
					Str("directory_id", dir.ID).
					Msg("Failed to record submission result")
				return
			}
			d.reporter.Progress(ctx, updated, plannedTotal, dir.ID)
		})
	}

	wg.Wait()
}

// submitWithRetries attempts one directory up to 1 + RetryBudget times,
// with a fresh deadline per attempt and delay-class backoff between them.
// An attempt that exceeds its deadline counts as a failed attempt.
func (d *Dispatcher) submitWithRetries(ctx context.Context, dir models.DirectoryDescriptor, profile models.BusinessProfile, policy models.TierPolicy) models.SubmissionResult {
	maxAttempts := 1 + policy.RetryBudget
	var lastError string
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		outcome, err := d.submitter.Submit(attemptCtx, dir, profile)
		cancel()

		success := err == nil && outcome.Success
		if statErr := d.stats.RecordAttempt(ctx, dir.ID, success); statErr != nil {
			d.logger.Warn().Err(statErr).Str("directory_id", dir.ID).Msg("Failed to record directory stats")
		}

		if success {
			now := d.clock.Now()
			return models.SubmissionResult{
				DirectoryID:  dir.ID,
				AttemptCount: attempt,
				Outcome:      models.OutcomeSuccess,
				CompletedAt:  &now,
			}
		}

		if err != nil {
			lastError = err.Error()
		} else {
			lastError = outcome.ErrorDetail
		}
		d.logger.Debug().
			Str("directory_id", dir.ID).
			Int("attempt", attempt).
			Str("error", lastError).
			Msg("Submission attempt failed")

		if attempt < maxAttempts {
			d.clock.Sleep(RetryDelay(policy.DelayClass, attempt))
			if ctx.Err() != nil {
				break
			}
		}
	}

	// attempts reflects what actually ran; cancellation mid-backoff must
	// not record retries that never happened.
	now := d.clock.Now()
	return models.SubmissionResult{
		DirectoryID:  dir.ID,
		AttemptCount: attempts,
		Outcome:      models.OutcomeFailed,
		LastError:    lastError,
		CompletedAt:  &now,
	}
}

// finalize derives the terminal state from recorded results, persists it
// and reports completion.
func (d *Dispatcher) finalize(ctx context.Context, entryID string, policy models.TierPolicy) {
	entry, err := d.store.GetEntry(ctx, entryID)
	if err != nil {
		d.logger.Warn().Err(err).Str("entry_id", entryID).Msg("Failed to reload entry for finalization")
		return
	}

	final, err := d.store.Finalize(ctx, entryID, entry.TerminalStatus())
	if err != nil {
		d.logger.Warn().Err(err).Str("entry_id", entryID).Msg("Failed to finalize entry")
		return
	}

	succeeded, failed, skipped := final.Counts()
	d.logger.Info().
		Str("entry_id", final.ID).
		Str("status", string(final.Status)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("Entry finalized")

	d.reporter.Completion(ctx, final, policy.PriorityRank)
}
