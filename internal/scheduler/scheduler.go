// -----------------------------------------------------------------------
// Scheduler - priority ordering of pending entries, grouped by tier
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
)

// TierGroup is one tier's runnable entries, in dispatch order. Groups are
// emitted in cross-tier priority order and entries within a group keep
// that same ordering.
type TierGroup struct {
	Tier    models.Tier
	Policy  models.TierPolicy
	Entries []*models.QueueEntry
}

// Runner executes the scheduler's plan. Implemented by the dispatcher.
type Runner interface {
	RunGroup(ctx context.Context, group TierGroup)
}

// Scheduler periodically selects pending entries and orders them by
// effective priority. Selection is read-only: claiming happens in the
// dispatcher, so a pass is cheap and safe to run frequently.
type Scheduler struct {
	store    interfaces.EntryStore
	policies models.TierPolicyTable
	clock    common.Clock
	logger   arbor.ILogger

	// priorityK and priorityW are the tunables in
	// effectivePriority = rank*K - urgency*W. With W > K*maxRank any
	// entry at or past its SLA (urgency >= 1.0) sorts ahead of every
	// fresh entry regardless of rank.
	priorityK float64
	priorityW float64

	passInterval time.Duration
}

// New creates a scheduler over the given store and tier policy table.
func New(store interfaces.EntryStore, policies models.TierPolicyTable, cfg *common.QueueConfig, clock common.Clock, logger arbor.ILogger) *Scheduler {
	passInterval := 5 * time.Second
	if d, err := time.ParseDuration(cfg.PassInterval); err == nil && d > 0 {
		passInterval = d
	}

	return &Scheduler{
		store:        store,
		policies:     policies,
		clock:        clock,
		logger:       logger,
		priorityK:    cfg.PriorityK,
		priorityW:    cfg.PriorityW,
		passInterval: passInterval,
	}
}

// scored pairs an entry with its derived priority for sorting.
type scored struct {
	entry    *models.QueueEntry
	priority float64
}

// EffectivePriority computes the scheduling score for an entry: lower runs
// first. Base rank dominates while entries are young; SLA urgency grows
// linearly with wait time and overtakes any base rank once it reaches 1.0.
func (s *Scheduler) EffectivePriority(entry *models.QueueEntry, now time.Time) float64 {
	policy, err := s.policies.Get(entry.Tier)
	if err != nil {
		// Unknown tier should have been rejected at creation; schedule it
		// last rather than dropping it.
		return s.priorityK * 1000
	}

	waitMinutes := entry.WaitTime(now).Minutes()
	urgency := waitMinutes / float64(policy.SLAMinutes)

	return float64(policy.PriorityRank)*s.priorityK - urgency*s.priorityW
}

// SelectNextBatch reads all pending entries and returns them as ordered
// tier groups. No state is mutated.
func (s *Scheduler) SelectNextBatch(ctx context.Context) ([]TierGroup, error) {
	pending, err := s.store.ListEntries(ctx, &interfaces.EntryListOptions{
		Status: models.EntryStatusPending,
	})
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	now := s.clock.Now()
	ranked := make([]scored, 0, len(pending))
	for _, entry := range pending {
		priority := s.EffectivePriority(entry, now)
		entry.PriorityScore = priority
		ranked = append(ranked, scored{entry: entry, priority: priority})
	}

	// Ascending by priority; strict FIFO by CreatedAt on ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority < ranked[j].priority
		}
		return ranked[i].entry.CreatedAt.Before(ranked[j].entry.CreatedAt)
	})

	// Group by tier, preserving the cross-tier order both for group
	// emission (first appearance wins) and within each group.
	groupIndex := make(map[models.Tier]int)
	var groups []TierGroup
	for _, r := range ranked {
		idx, ok := groupIndex[r.entry.Tier]
		if !ok {
			policy, err := s.policies.Get(r.entry.Tier)
			if err != nil {
				s.logger.Warn().
					Str("entry_id", r.entry.ID).
					Str("tier", string(r.entry.Tier)).
					Msg("Entry has unknown tier - skipping")
				continue
			}
			idx = len(groups)
			groupIndex[r.entry.Tier] = idx
			groups = append(groups, TierGroup{Tier: r.entry.Tier, Policy: policy})
		}
		groups[idx].Entries = append(groups[idx].Entries, r.entry)
	}

	return groups, nil
}

// Start runs scheduling passes on a fixed interval until the context is
// cancelled, handing each pass's plan to the runner in order.
func (s *Scheduler) Start(ctx context.Context, runner Runner) {
	s.logger.Info().
		Dur("pass_interval", s.passInterval).
		Float64("priority_k", s.priorityK).
		Float64("priority_w", s.priorityW).
		Msg("Scheduler started")

	ticker := time.NewTicker(s.passInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.runPass(ctx, runner)
		}
	}
}

// runPass executes one scheduling pass.
func (s *Scheduler) runPass(ctx context.Context, runner Runner) {
	groups, err := s.SelectNextBatch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Scheduling pass failed")
		return
	}
	if len(groups) == 0 {
		return
	}

	total := 0
	for _, g := range groups {
		total += len(g.Entries)
	}
	s.logger.Debug().
		Int("tier_groups", len(groups)).
		Int("entries", total).
		Msg("Scheduling pass selected entries")

	for _, group := range groups {
		runner.RunGroup(ctx, group)
	}
}
