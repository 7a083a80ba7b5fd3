package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

type fakeCartRepo struct {
	carts    map[uuid.UUID]*domain.Cart
	statuses map[uuid.UUID]domain.CartStatus
	reasons  map[uuid.UUID]string
}

func newFakeCartRepo(carts ...*domain.Cart) *fakeCartRepo {
	r := &fakeCartRepo{
		carts:    make(map[uuid.UUID]*domain.Cart),
		statuses: make(map[uuid.UUID]domain.CartStatus),
		reasons:  make(map[uuid.UUID]string),
	}
	for _, c := range carts {
		r.carts[c.ID] = c
	}
	return r
}

func (r *fakeCartRepo) Get(_ context.Context, id uuid.UUID) (*domain.Cart, error) {
	c, ok := r.carts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *fakeCartRepo) ListInactiveCheckouts(_ context.Context, cutoff time.Time, limit int) ([]*domain.Cart, error) {
	var out []*domain.Cart
	for _, c := range r.carts {
		if c.Status == domain.CartStatusInCheckout && c.LastActivityAt.Before(cutoff) {
			out = append(out, c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeCartRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CartStatus, reason string) error {
	r.statuses[id] = status
	r.reasons[id] = reason
	return nil
}

type fakeAgentRepo struct {
	byUser map[uuid.UUID]*domain.Agent
}

func (r *fakeAgentRepo) Get(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	for _, a := range r.byUser {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAgentRepo) GetActiveForUser(_ context.Context, userID uuid.UUID) (*domain.Agent, error) {
	a, ok := r.byUser[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

type fakeAbandonmentRepo struct {
	byCart    map[uuid.UUID]*domain.AbandonmentRecord
	refreshed map[uuid.UUID]time.Time
	upserts   int
}

func newFakeAbandonmentRepo() *fakeAbandonmentRepo {
	return &fakeAbandonmentRepo{
		byCart:    make(map[uuid.UUID]*domain.AbandonmentRecord),
		refreshed: make(map[uuid.UUID]time.Time),
	}
}

func (r *fakeAbandonmentRepo) Get(_ context.Context, id uuid.UUID) (*domain.AbandonmentRecord, error) {
	for _, rec := range r.byCart {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAbandonmentRepo) GetByCart(_ context.Context, cartID uuid.UUID) (*domain.AbandonmentRecord, error) {
	rec, ok := r.byCart[cartID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func (r *fakeAbandonmentRepo) Upsert(_ context.Context, record *domain.AbandonmentRecord) error {
	if prior, ok := r.byCart[record.CartID]; ok {
		record.TotalAttempts = prior.TotalAttempts
	}
	r.byCart[record.CartID] = record
	r.upserts++
	return nil
}

func (r *fakeAbandonmentRepo) RefreshAbandonedAt(_ context.Context, id uuid.UUID, abandonedAt time.Time) error {
	r.refreshed[id] = abandonedAt
	return nil
}

func (r *fakeAbandonmentRepo) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	for _, rec := range r.byCart {
		if rec.ID == id {
			rec.TotalAttempts++
			return rec.TotalAttempts, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (r *fakeAbandonmentRepo) UpdateEligibility(_ context.Context, id uuid.UUID, eligible bool, reasons []string) error {
	return nil
}

func (r *fakeAbandonmentRepo) Deactivate(_ context.Context, id uuid.UUID) error { return nil }

func (r *fakeAbandonmentRepo) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	return nil
}

type fakeQueueRepo struct {
	entries        []*domain.CallQueueEntry
	deletedPending map[uuid.UUID]int
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{deletedPending: make(map[uuid.UUID]int)}
}

func (r *fakeQueueRepo) Get(_ context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeQueueRepo) Insert(_ context.Context, entry *domain.CallQueueEntry) error {
	// Mirrors the store: stray pending entries for the record are replaced,
	// a processing entry owned by a worker is left alone.
	var kept []*domain.CallQueueEntry
	for _, e := range r.entries {
		if e.AbandonmentID == entry.AbandonmentID && e.Status == domain.QueueEntryPending {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = append(kept, entry)
	return nil
}

func (r *fakeQueueRepo) DeletePending(_ context.Context, cartID uuid.UUID) (int64, error) {
	r.deletedPending[cartID]++
	var kept []*domain.CallQueueEntry
	var removed int64
	for _, e := range r.entries {
		if e.CartID == cartID && e.Status == domain.QueueEntryPending {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed, nil
}

func (r *fakeQueueRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.CallQueueEntry, error) {
	return nil, nil
}

func (r *fakeQueueRepo) MarkProcessing(_ context.Context, id uuid.UUID, notes string) (*domain.CallQueueEntry, error) {
	return nil, nil
}

func (r *fakeQueueRepo) MarkCompleted(_ context.Context, id uuid.UUID, notes string) error {
	return nil
}

func (r *fakeQueueRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (r *fakeQueueRepo) ScheduleRetry(_ context.Context, id uuid.UUID, nextAttempt time.Time, notes string) error {
	return nil
}

func (r *fakeQueueRepo) ResetStuckProcessing(_ context.Context, cutoff time.Time) ([]*domain.CallQueueEntry, error) {
	return nil, nil
}

func (r *fakeQueueRepo) CountByStatus(_ context.Context) (map[domain.QueueEntryStatus]int64, error) {
	return nil, nil
}

func (r *fakeQueueRepo) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeBillingRepo struct {
	active bool
	quota  bool
}

func (r *fakeBillingRepo) IsSubscriptionActive(_ context.Context, userID uuid.UUID) (bool, error) {
	return r.active, nil
}

func (r *fakeBillingRepo) HasQuotaRemaining(_ context.Context, userID uuid.UUID) (bool, error) {
	return r.quota, nil
}

func testCart(userID uuid.UUID, lastActivity time.Time) *domain.Cart {
	return &domain.Cart{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         domain.CartStatusInCheckout,
		Phone:          "+15551234567",
		TotalAmount:    120,
		Currency:       "USD",
		LastActivityAt: lastActivity,
	}
}

func liveAgent(userID uuid.UUID) *domain.Agent {
	return &domain.Agent{
		ID:     uuid.New(),
		UserID: userID,
		Status: domain.AgentStatusLive,
		Schedule: domain.CallSchedule{
			WaitTime: 30,
			WaitUnit: domain.WaitUnitMinutes,
		},
	}
}

func buildScanner(t *testing.T, carts *fakeCartRepo, agents *fakeAgentRepo, abandons *fakeAbandonmentRepo, queue *fakeQueueRepo, billing *fakeBillingRepo) *Scanner {
	t.Helper()
	lg, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := config.ScannerConfig{
		Interval:         time.Minute,
		InactivityWindow: 10 * time.Minute,
		BatchSize:        50,
	}
	return New(carts, agents, abandons, queue, billing, cfg, lg)
}

func TestScanEnqueuesStaleCart(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agent := liveAgent(userID)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{userID: agent}}
	abandons := newFakeAbandonmentRepo()
	queue := newFakeQueueRepo()
	billing := &fakeBillingRepo{active: true, quota: true}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	before := time.Now().UTC()
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if carts.statuses[stale.ID] != domain.CartStatusAbandoned {
		t.Fatalf("expected cart abandoned, got %q", carts.statuses[stale.ID])
	}

	rec, err := abandons.GetByCart(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("expected abandonment record: %v", err)
	}
	if rec.AgentID == nil || *rec.AgentID != agent.ID {
		t.Fatal("expected record bound to the live agent")
	}
	if !rec.IsQualified || !rec.IsEligibleForQueue {
		t.Fatal("expected fresh record qualified and queue-eligible")
	}
	if rec.OrderQueueStatus != domain.OrderQueueInQueue {
		t.Fatalf("expected in_queue status, got %q", rec.OrderQueueStatus)
	}

	if len(queue.entries) != 1 {
		t.Fatalf("expected 1 queue entry, got %d", len(queue.entries))
	}
	entry := queue.entries[0]
	if entry.Status != domain.QueueEntryPending {
		t.Fatalf("expected pending entry, got %q", entry.Status)
	}
	wantEarliest := before.Add(30 * time.Minute)
	if entry.NextAttemptTime.Before(wantEarliest.Add(-time.Second)) {
		t.Fatalf("next attempt %v earlier than wait window %v", entry.NextAttemptTime, wantEarliest)
	}
	if entry.CorrelationID != rec.CorrelationID {
		t.Fatal("expected entry to share the record correlation id")
	}
}

func TestScanExpiresCartWhenSubscriptionInactive(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{userID: liveAgent(userID)}}
	abandons := newFakeAbandonmentRepo()
	queue := newFakeQueueRepo()
	billing := &fakeBillingRepo{active: false, quota: true}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if carts.statuses[stale.ID] != domain.CartStatusExpired {
		t.Fatalf("expected cart expired, got %q", carts.statuses[stale.ID])
	}
	if abandons.upserts != 0 {
		t.Fatal("expected no abandonment record for inactive subscription")
	}
	if len(queue.entries) != 0 {
		t.Fatal("expected no queue entries for inactive subscription")
	}
}

func TestScanExpiresCartWhenQuotaExhausted(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{userID: liveAgent(userID)}}
	abandons := newFakeAbandonmentRepo()
	queue := newFakeQueueRepo()
	billing := &fakeBillingRepo{active: true, quota: false}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if carts.statuses[stale.ID] != domain.CartStatusExpired {
		t.Fatalf("expected cart expired, got %q", carts.statuses[stale.ID])
	}
	if len(queue.entries) != 0 {
		t.Fatal("expected no queue entries when quota exhausted")
	}
}

func TestScanExpiresCartWithoutLiveAgent(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{}}
	abandons := newFakeAbandonmentRepo()
	queue := newFakeQueueRepo()
	billing := &fakeBillingRepo{active: true, quota: true}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if carts.statuses[stale.ID] != domain.CartStatusExpired {
		t.Fatalf("expected cart expired, got %q", carts.statuses[stale.ID])
	}
	if abandons.upserts != 0 {
		t.Fatal("expected no record without a live agent")
	}
}

func TestScanRefreshesCalledRecordWithoutReenqueue(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agent := liveAgent(userID)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{userID: agent}}
	abandons := newFakeAbandonmentRepo()
	abandons.byCart[stale.ID] = &domain.AbandonmentRecord{
		ID:            uuid.New(),
		CartID:        stale.ID,
		UserID:        userID,
		TotalAttempts: 2,
	}
	queue := newFakeQueueRepo()
	billing := &fakeBillingRepo{active: true, quota: true}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	recID := abandons.byCart[stale.ID].ID
	if _, ok := abandons.refreshed[recID]; !ok {
		t.Fatal("expected abandoned_at refreshed for already-called record")
	}
	if abandons.upserts != 0 {
		t.Fatal("expected no upsert for already-called record")
	}
	if len(queue.entries) != 0 {
		t.Fatal("expected no re-enqueue for already-called record")
	}
	if carts.statuses[stale.ID] != domain.CartStatusAbandoned {
		t.Fatalf("expected cart abandoned, got %q", carts.statuses[stale.ID])
	}
}

func TestScanReenqueuesNeverCalledRecord(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agent := liveAgent(userID)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{userID: agent}}
	abandons := newFakeAbandonmentRepo()
	priorID := uuid.New()
	priorCorrelation := uuid.New()
	abandons.byCart[stale.ID] = &domain.AbandonmentRecord{
		ID:            priorID,
		CartID:        stale.ID,
		UserID:        userID,
		TotalAttempts: 0,
		CorrelationID: priorCorrelation,
	}
	queue := newFakeQueueRepo()
	queue.entries = append(queue.entries, &domain.CallQueueEntry{
		ID:     uuid.New(),
		CartID: stale.ID,
		Status: domain.QueueEntryPending,
	})
	billing := &fakeBillingRepo{active: true, quota: true}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if queue.deletedPending[stale.ID] == 0 {
		t.Fatal("expected stray pending entries cleared before re-enqueue")
	}
	if len(queue.entries) != 1 {
		t.Fatalf("expected exactly one live entry, got %d", len(queue.entries))
	}
	if queue.entries[0].AbandonmentID != priorID {
		t.Fatal("expected record identity preserved across re-enqueue")
	}
	if queue.entries[0].CorrelationID != priorCorrelation {
		t.Fatal("expected correlation id preserved across re-enqueue")
	}
}

func TestScanLeavesClaimedEntryAlone(t *testing.T) {
	userID := uuid.New()
	stale := testCart(userID, time.Now().UTC().Add(-time.Hour))
	carts := newFakeCartRepo(stale)
	agent := liveAgent(userID)
	agents := &fakeAgentRepo{byUser: map[uuid.UUID]*domain.Agent{userID: agent}}
	abandons := newFakeAbandonmentRepo()
	recID := uuid.New()
	abandons.byCart[stale.ID] = &domain.AbandonmentRecord{
		ID:            recID,
		CartID:        stale.ID,
		UserID:        userID,
		TotalAttempts: 0,
	}
	// A worker claimed this entry moments ago and has not recorded the call
	// attempt yet. The enqueue must not pull it out from under the worker.
	claimed := &domain.CallQueueEntry{
		ID:            uuid.New(),
		AbandonmentID: recID,
		CartID:        stale.ID,
		Status:        domain.QueueEntryProcessing,
	}
	queue := newFakeQueueRepo()
	queue.entries = append(queue.entries, claimed)
	billing := &fakeBillingRepo{active: true, quota: true}

	s := buildScanner(t, carts, agents, abandons, queue, billing)
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	var survived bool
	for _, e := range queue.entries {
		if e.ID == claimed.ID && e.Status == domain.QueueEntryProcessing {
			survived = true
		}
	}
	if !survived {
		t.Fatal("expected claimed processing entry to survive the rescan")
	}
}
