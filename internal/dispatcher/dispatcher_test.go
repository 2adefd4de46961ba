package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/ternarybob/inscribo/internal/scheduler"
)

// memStore is an in-memory EntryStore with the same claim and append
// semantics as the badger implementation.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*models.QueueEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*models.QueueEntry)}
}

func (m *memStore) SaveEntry(ctx context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.entries[entry.ID] = &copied
	return nil
}

func (m *memStore) GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *memStore) ListEntries(ctx context.Context, opts *interfaces.EntryListOptions) ([]*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.QueueEntry
	for _, entry := range m.entries {
		if opts != nil && opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		copied := *entry
		result = append(result, &copied)
	}
	return result, nil
}

func (m *memStore) CountByStatus(ctx context.Context) (map[models.EntryStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.EntryStatus]int)
	for _, entry := range m.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

func (m *memStore) Claim(ctx context.Context, entryID, runID string) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if entry.Status != models.EntryStatusPending || entry.AssignedRunID != "" {
		return nil, interfaces.ErrAlreadyClaimed
	}
	now := time.Now()
	entry.Status = models.EntryStatusProcessing
	entry.AssignedRunID = runID
	entry.StartedAt = &now
	copied := *entry
	return &copied, nil
}

func (m *memStore) AppendResult(ctx context.Context, entryID string, result models.SubmissionResult) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if entry.Status != models.EntryStatusProcessing {
		return nil, fmt.Errorf("entry %s is not processing", entryID)
	}
	if entry.HasResult(result.DirectoryID) {
		return nil, fmt.Errorf("duplicate result for directory %s", result.DirectoryID)
	}
	entry.Results = append(entry.Results, result)
	copied := *entry
	return &copied, nil
}

func (m *memStore) Finalize(ctx context.Context, entryID string, status models.EntryStatus) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if !status.IsTerminal() || !entry.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("illegal transition %s -> %s", entry.Status, status)
	}
	now := time.Now()
	entry.Status = status
	entry.CompletedAt = &now
	entry.AssignedRunID = ""
	copied := *entry
	return &copied, nil
}

// memStats records attempts and serves preset history for truncation.
type memStats struct {
	mu      sync.Mutex
	preset  map[string]models.DirectoryStats
	records map[string]*models.DirectoryStats
}

func newMemStats(preset map[string]models.DirectoryStats) *memStats {
	return &memStats{
		preset:  preset,
		records: make(map[string]*models.DirectoryStats),
	}
}

func (m *memStats) RecordAttempt(ctx context.Context, directoryID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.records[directoryID]
	if !ok {
		stats = &models.DirectoryStats{DirectoryID: directoryID}
		m.records[directoryID] = stats
	}
	stats.Attempts++
	if success {
		stats.Successes++
	}
	return nil
}

func (m *memStats) GetStats(ctx context.Context, directoryID string) (models.DirectoryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preset[directoryID], nil
}

func (m *memStats) GetAllStats(ctx context.Context) (map[string]models.DirectoryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]models.DirectoryStats, len(m.preset))
	for id, stats := range m.preset {
		result[id] = stats
	}
	return result, nil
}

// scriptedSubmitter returns scripted outcomes per directory, succeeding by
// default once the script is exhausted.
type scriptedSubmitter struct {
	mu      sync.Mutex
	scripts map[string][]interfaces.SubmissionOutcome
	calls   map[string]int
}

func newScriptedSubmitter() *scriptedSubmitter {
	return &scriptedSubmitter{
		scripts: make(map[string][]interfaces.SubmissionOutcome),
		calls:   make(map[string]int),
	}
}

func (s *scriptedSubmitter) script(directoryID string, outcomes ...interfaces.SubmissionOutcome) {
	s.scripts[directoryID] = outcomes
}

func (s *scriptedSubmitter) Submit(ctx context.Context, dir models.DirectoryDescriptor, profile models.BusinessProfile) (interfaces.SubmissionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[dir.ID]
	s.calls[dir.ID] = n + 1
	if script, ok := s.scripts[dir.ID]; ok && n < len(script) {
		return script[n], nil
	}
	return interfaces.SubmissionOutcome{Success: true}, nil
}

func (s *scriptedSubmitter) callCount(directoryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[directoryID]
}

// fakeCatalog serves descriptors from a map.
type fakeCatalog struct {
	dirs map[string]models.DirectoryDescriptor
}

func newFakeCatalog(dirs ...models.DirectoryDescriptor) *fakeCatalog {
	c := &fakeCatalog{dirs: make(map[string]models.DirectoryDescriptor)}
	for _, d := range dirs {
		c.dirs[d.ID] = d
	}
	return c
}

func (c *fakeCatalog) Get(id string) (models.DirectoryDescriptor, bool) {
	d, ok := c.dirs[id]
	return d, ok
}

func (c *fakeCatalog) All() []models.DirectoryDescriptor {
	var all []models.DirectoryDescriptor
	for _, d := range c.dirs {
		all = append(all, d)
	}
	return all
}

func (c *fakeCatalog) Len() int { return len(c.dirs) }

// recordingReporter counts lifecycle notifications.
type recordingReporter struct {
	mu          sync.Mutex
	claims      int
	progress    int
	completions int
}

func (r *recordingReporter) EntryClaimed(ctx context.Context, entry *models.QueueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims++
}

func (r *recordingReporter) Progress(ctx context.Context, entry *models.QueueEntry, plannedTotal int, currentDirectory string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *recordingReporter) Completion(ctx context.Context, entry *models.QueueEntry, priorityRank int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions++
}

// sleepClock records requested sleeps without waiting.
type sleepClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *sleepClock) Now() time.Time { return time.Now() }

func (c *sleepClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
}

// cancelOnSleepClock cancels the run context on the first backoff sleep,
// simulating shutdown arriving mid-retry.
type cancelOnSleepClock struct {
	cancel context.CancelFunc
}

func (c *cancelOnSleepClock) Now() time.Time { return time.Now() }

func (c *cancelOnSleepClock) Sleep(d time.Duration) { c.cancel() }

func testDirectory(id string) models.DirectoryDescriptor {
	return models.DirectoryDescriptor{
		ID:         id,
		Name:       id,
		URL:        "https://" + id + ".example.com",
		Difficulty: 1,
	}
}

func newTestDispatcher(store interfaces.EntryStore, stats interfaces.StatsStore, cat interfaces.DirectoryCatalog, submitter interfaces.Submitter, reporter StatusReporter, clock common.Clock) *Dispatcher {
	cfg := &common.QueueConfig{MaxInflight: 4}
	return New(store, stats, cat, submitter, reporter, cfg, 10*time.Second, clock, arbor.NewLogger())
}

func runSingle(t *testing.T, d *Dispatcher, entry *models.QueueEntry, policy models.TierPolicy) {
	t.Helper()
	d.RunGroup(context.Background(), scheduler.TierGroup{
		Tier:    entry.Tier,
		Policy:  policy,
		Entries: []*models.QueueEntry{entry},
	})
	d.Wait()
}

func TestDispatchSkipsPolicyFilteredDirectories(t *testing.T) {
	login := testDirectory("dir-login")
	login.RequiresLogin = true
	paid := testDirectory("dir-paid")
	paid.FeeCents = 500
	broken := testDirectory("dir-broken")
	broken.Broken = true

	store := newMemStore()
	stats := newMemStats(nil)
	cat := newFakeCatalog(testDirectory("dir-a"), testDirectory("dir-b"), login, paid, broken)
	submitter := newScriptedSubmitter()
	reporter := &recordingReporter{}
	clock := &sleepClock{}

	entry := models.NewQueueEntry("cust-1", models.TierGrowth,
		[]string{"dir-a", "dir-login", "dir-paid", "dir-b", "dir-broken"},
		models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierGrowth)
	d := newTestDispatcher(store, stats, cat, submitter, reporter, clock)
	runSingle(t, d, entry, policy)

	final, err := store.GetEntry(context.Background(), entry.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Skips are policy decisions, not failures; both submissions succeeded.
	if final.Status != models.EntryStatusCompleted {
		t.Errorf("Expected completed, got %s", final.Status)
	}
	succeeded, failed, skipped := final.Counts()
	if succeeded != 2 || failed != 0 || skipped != 3 {
		t.Errorf("Expected 2/0/3 succeeded/failed/skipped, got %d/%d/%d", succeeded, failed, skipped)
	}

	reasons := make(map[string]string)
	for _, r := range final.Results {
		if r.Outcome == models.OutcomeSkipped {
			reasons[r.DirectoryID] = r.SkipReason
		}
	}
	if reasons["dir-login"] != SkipReasonLoginRequired {
		t.Errorf("Expected login skip reason, got %q", reasons["dir-login"])
	}
	if reasons["dir-paid"] != SkipReasonPaidDirectory {
		t.Errorf("Expected paid skip reason, got %q", reasons["dir-paid"])
	}
	if reasons["dir-broken"] != SkipReasonBroken {
		t.Errorf("Expected broken skip reason, got %q", reasons["dir-broken"])
	}
}

func TestDispatchLoginSkipsWithAllSuccessesCompletes(t *testing.T) {
	loginA := testDirectory("dir-login-a")
	loginA.RequiresLogin = true
	loginB := testDirectory("dir-login-b")
	loginB.RequiresLogin = true

	store := newMemStore()
	cat := newFakeCatalog(testDirectory("dir-a"), testDirectory("dir-b"), testDirectory("dir-c"), loginA, loginB)
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierGrowth,
		[]string{"dir-a", "dir-login-a", "dir-b", "dir-login-b", "dir-c"},
		models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierGrowth)
	d := newTestDispatcher(store, newMemStats(nil), cat, newScriptedSubmitter(), reporter, &sleepClock{})
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if final.Status != models.EntryStatusCompleted {
		t.Errorf("Expected completed when every processed directory succeeds, got %s", final.Status)
	}
	succeeded, failed, skipped := final.Counts()
	if succeeded != 3 || failed != 0 || skipped != 2 {
		t.Errorf("Expected 3/0/2 succeeded/failed/skipped, got %d/%d/%d", succeeded, failed, skipped)
	}
}

func TestDispatchEnterpriseOverridesLoginAndPaid(t *testing.T) {
	login := testDirectory("dir-login")
	login.RequiresLogin = true
	paid := testDirectory("dir-paid")
	paid.FeeCents = 500

	store := newMemStore()
	cat := newFakeCatalog(login, paid)
	submitter := newScriptedSubmitter()
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierEnterprise,
		[]string{"dir-login", "dir-paid"}, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierEnterprise)
	d := newTestDispatcher(store, newMemStats(nil), cat, submitter, reporter, &sleepClock{})
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if final.Status != models.EntryStatusCompleted {
		t.Errorf("Expected completed, got %s", final.Status)
	}
	succeeded, _, skipped := final.Counts()
	if succeeded != 2 || skipped != 0 {
		t.Errorf("Expected both directories submitted, got %d succeeded %d skipped", succeeded, skipped)
	}
}

func TestDispatchTruncatesToTierCap(t *testing.T) {
	store := newMemStore()
	stats := newMemStats(map[string]models.DirectoryStats{
		"dir-a": {DirectoryID: "dir-a", Attempts: 10, Successes: 9},
		"dir-b": {DirectoryID: "dir-b", Attempts: 10, Successes: 2},
		"dir-d": {DirectoryID: "dir-d", Attempts: 5, Successes: 5},
	})
	cat := newFakeCatalog(testDirectory("dir-a"), testDirectory("dir-b"), testDirectory("dir-c"), testDirectory("dir-d"))
	submitter := newScriptedSubmitter()
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierStarter,
		[]string{"dir-a", "dir-b", "dir-c", "dir-d"}, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierStarter)
	policy.MaxDirectoriesPerEntry = 2

	d := newTestDispatcher(store, stats, cat, submitter, reporter, &sleepClock{})
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if len(final.Results) != 2 {
		t.Fatalf("Expected 2 results after truncation, got %d", len(final.Results))
	}
	// dir-d (1.0) and dir-a (0.9) outscore dir-c (no history, 0.5) and dir-b (0.2).
	if !final.HasResult("dir-a") || !final.HasResult("dir-d") {
		t.Errorf("Expected dir-a and dir-d to be kept, got %+v", final.Results)
	}
	if final.HasResult("dir-b") || final.HasResult("dir-c") {
		t.Error("Truncated directories must not receive results")
	}
	if final.Status != models.EntryStatusCompleted {
		t.Errorf("Expected completed, got %s", final.Status)
	}
}

func TestDispatchRetriesWithinBudget(t *testing.T) {
	store := newMemStore()
	stats := newMemStats(nil)
	cat := newFakeCatalog(testDirectory("dir-flaky"))
	submitter := newScriptedSubmitter()
	submitter.script("dir-flaky",
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "form timeout"},
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "form timeout"},
		interfaces.SubmissionOutcome{Success: true},
	)
	reporter := &recordingReporter{}
	clock := &sleepClock{}

	entry := models.NewQueueEntry("cust-1", models.TierProfessional,
		[]string{"dir-flaky"}, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierProfessional)
	d := newTestDispatcher(store, stats, cat, submitter, reporter, clock)
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if final.Status != models.EntryStatusCompleted {
		t.Errorf("Expected completed, got %s", final.Status)
	}
	if len(final.Results) != 1 || final.Results[0].AttemptCount != 3 {
		t.Errorf("Expected success on attempt 3, got %+v", final.Results)
	}

	// Fast class backoff: 2s then 4s between the three attempts.
	expected := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(clock.sleeps) != len(expected) {
		t.Fatalf("Expected %d backoff sleeps, got %v", len(expected), clock.sleeps)
	}
	for i, want := range expected {
		if clock.sleeps[i] != want {
			t.Errorf("Sleep %d: expected %v, got %v", i, want, clock.sleeps[i])
		}
	}

	recorded := stats.records["dir-flaky"]
	if recorded == nil || recorded.Attempts != 3 || recorded.Successes != 1 {
		t.Errorf("Expected 3 attempts / 1 success recorded, got %+v", recorded)
	}
}

func TestDispatchExhaustedRetriesFailEntry(t *testing.T) {
	store := newMemStore()
	cat := newFakeCatalog(testDirectory("dir-down"))
	submitter := newScriptedSubmitter()
	submitter.script("dir-down",
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "connection refused"},
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "connection refused"},
	)
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierStarter,
		[]string{"dir-down"}, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	// Starter: retry budget 1, so 2 attempts total.
	policy, _ := models.DefaultTierPolicies().Get(models.TierStarter)
	d := newTestDispatcher(store, newMemStats(nil), cat, submitter, reporter, &sleepClock{})
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if final.Status != models.EntryStatusFailed {
		t.Errorf("Expected failed, got %s", final.Status)
	}
	result := final.Results[0]
	if result.Outcome != models.OutcomeFailed || result.AttemptCount != 2 {
		t.Errorf("Expected failed after 2 attempts, got %+v", result)
	}
	if result.LastError != "connection refused" {
		t.Errorf("Expected last error preserved, got %q", result.LastError)
	}
	if submitter.callCount("dir-down") != 2 {
		t.Errorf("Expected 2 submit calls, got %d", submitter.callCount("dir-down"))
	}
}

func TestDispatchCancelledDuringBackoffRecordsActualAttempts(t *testing.T) {
	store := newMemStore()
	cat := newFakeCatalog(testDirectory("dir-down"))
	submitter := newScriptedSubmitter()
	submitter.script("dir-down",
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "connection refused"},
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "connection refused"},
		interfaces.SubmissionOutcome{Success: false, ErrorDetail: "connection refused"},
	)
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierGrowth,
		[]string{"dir-down"}, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &cancelOnSleepClock{cancel: cancel}

	// Growth allows 3 attempts, but the run is cancelled after the first.
	policy, _ := models.DefaultTierPolicies().Get(models.TierGrowth)
	d := newTestDispatcher(store, newMemStats(nil), cat, submitter, reporter, clock)
	d.RunGroup(ctx, scheduler.TierGroup{
		Tier:    entry.Tier,
		Policy:  policy,
		Entries: []*models.QueueEntry{entry},
	})
	d.Wait()

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if len(final.Results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(final.Results))
	}
	result := final.Results[0]
	if result.Outcome != models.OutcomeFailed || result.AttemptCount != 1 {
		t.Errorf("Expected 1 recorded attempt after cancellation, got %+v", result)
	}
	if submitter.callCount("dir-down") != 1 {
		t.Errorf("Expected 1 submit call, got %d", submitter.callCount("dir-down"))
	}
	if result.LastError != "connection refused" {
		t.Errorf("Expected last error preserved, got %q", result.LastError)
	}
}

func TestDispatchEmptyEntryCompletesImmediately(t *testing.T) {
	store := newMemStore()
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierGrowth, nil, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierGrowth)
	d := newTestDispatcher(store, newMemStats(nil), newFakeCatalog(), newScriptedSubmitter(), reporter, &sleepClock{})
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if final.Status != models.EntryStatusCompleted {
		t.Errorf("Expected empty entry to complete, got %s", final.Status)
	}
	if reporter.completions != 1 {
		t.Errorf("Expected exactly 1 completion report, got %d", reporter.completions)
	}
}

func TestDispatchSkipsAlreadyClaimedEntry(t *testing.T) {
	store := newMemStore()
	reporter := &recordingReporter{}

	entry := models.NewQueueEntry("cust-1", models.TierGrowth, []string{"dir-a"}, models.BusinessProfile{Name: "Test Co"})
	if err := store.SaveEntry(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Claim(context.Background(), entry.ID, "run_other"); err != nil {
		t.Fatal(err)
	}

	policy, _ := models.DefaultTierPolicies().Get(models.TierGrowth)
	d := newTestDispatcher(store, newMemStats(nil), newFakeCatalog(testDirectory("dir-a")), newScriptedSubmitter(), reporter, &sleepClock{})
	runSingle(t, d, entry, policy)

	final, _ := store.GetEntry(context.Background(), entry.ID)
	if final.Status != models.EntryStatusProcessing {
		t.Errorf("Entry owned by another run must be left alone, got %s", final.Status)
	}
	if reporter.claims != 0 || reporter.completions != 0 {
		t.Errorf("Expected no lifecycle reports for lost claim, got claims=%d completions=%d", reporter.claims, reporter.completions)
	}
}
