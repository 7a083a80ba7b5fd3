package callevents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/queue"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	queuesvc "github.com/NeoboundAI/Skiddly-sub000/internal/service/queue"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

type memQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.CallQueueEntry
	retries map[uuid.UUID]time.Time
}

func newMemQueue(entries ...*domain.CallQueueEntry) *memQueue {
	q := &memQueue{
		entries: make(map[uuid.UUID]*domain.CallQueueEntry),
		retries: make(map[uuid.UUID]time.Time),
	}
	for _, e := range entries {
		q.entries[e.ID] = e
	}
	return q
}

func (q *memQueue) Get(_ context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (q *memQueue) Insert(_ context.Context, entry *domain.CallQueueEntry) error {
	q.entries[entry.ID] = entry
	return nil
}

func (q *memQueue) DeletePending(_ context.Context, cartID uuid.UUID) (int64, error) {
	return 0, nil
}

func (q *memQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.CallQueueEntry, error) {
	return nil, nil
}

func (q *memQueue) MarkProcessing(_ context.Context, id uuid.UUID, notes string) (*domain.CallQueueEntry, error) {
	return nil, nil
}

func (q *memQueue) MarkCompleted(_ context.Context, id uuid.UUID, notes string) error {
	return q.set(id, domain.QueueEntryCompleted, notes)
}

func (q *memQueue) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return q.set(id, domain.QueueEntryFailed, reason)
}

func (q *memQueue) set(id uuid.UUID, status domain.QueueEntryStatus, notes string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = status
	e.ProcessingNotes = notes
	return nil
}

func (q *memQueue) ScheduleRetry(_ context.Context, id uuid.UUID, nextAttempt time.Time, notes string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = domain.QueueEntryPending
	e.NextAttemptTime = nextAttempt
	e.ProcessingNotes = notes
	q.retries[id] = nextAttempt
	return nil
}

func (q *memQueue) ResetStuckProcessing(_ context.Context, cutoff time.Time) ([]*domain.CallQueueEntry, error) {
	return nil, nil
}

func (q *memQueue) CountByStatus(_ context.Context) (map[domain.QueueEntryStatus]int64, error) {
	return nil, nil
}

func (q *memQueue) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memAbandons struct {
	records     map[uuid.UUID]*domain.AbandonmentRecord
	completed   map[uuid.UUID]time.Time
	deactivated map[uuid.UUID]bool
}

func newMemAbandons(records ...*domain.AbandonmentRecord) *memAbandons {
	r := &memAbandons{
		records:     make(map[uuid.UUID]*domain.AbandonmentRecord),
		completed:   make(map[uuid.UUID]time.Time),
		deactivated: make(map[uuid.UUID]bool),
	}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *memAbandons) Get(_ context.Context, id uuid.UUID) (*domain.AbandonmentRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memAbandons) GetByCart(_ context.Context, cartID uuid.UUID) (*domain.AbandonmentRecord, error) {
	return nil, repository.ErrNotFound
}

func (r *memAbandons) Upsert(_ context.Context, record *domain.AbandonmentRecord) error {
	r.records[record.ID] = record
	return nil
}

func (r *memAbandons) RefreshAbandonedAt(_ context.Context, id uuid.UUID, abandonedAt time.Time) error {
	return nil
}

func (r *memAbandons) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	rec, ok := r.records[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	rec.TotalAttempts++
	return rec.TotalAttempts, nil
}

func (r *memAbandons) UpdateEligibility(_ context.Context, id uuid.UUID, eligible bool, reasons []string) error {
	return nil
}

func (r *memAbandons) Deactivate(_ context.Context, id uuid.UUID) error {
	r.deactivated[id] = true
	return nil
}

func (r *memAbandons) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	r.completed[id] = completedAt
	return nil
}

type memAgents struct {
	agents map[uuid.UUID]*domain.Agent
}

func (r *memAgents) Get(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (r *memAgents) GetActiveForUser(_ context.Context, userID uuid.UUID) (*domain.Agent, error) {
	return nil, repository.ErrNotFound
}

type brokenReader struct {
	mu      sync.Mutex
	fetches int
}

func (r *brokenReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	return kafka.Message{}, errors.New("broker down")
}

func (r *brokenReader) CommitMessages(_ context.Context, _ ...kafka.Message) error { return nil }

func (r *brokenReader) Close() error { return nil }

func (r *brokenReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

type releaseRecorder struct {
	released []uuid.UUID
}

func (l *releaseRecorder) Release(_ context.Context, agentID uuid.UUID) error {
	l.released = append(l.released, agentID)
	return nil
}

type fixture struct {
	worker   *Worker
	queue    *memQueue
	abandons *memAbandons
	limiter  *releaseRecorder
	agent    *domain.Agent
	record   *domain.AbandonmentRecord
	entry    *domain.CallQueueEntry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	agent := &domain.Agent{
		ID:     uuid.New(),
		Status: domain.AgentStatusLive,
		Schedule: domain.CallSchedule{
			MaxRetries:     2,
			RetryIntervals: []int{10},
		},
	}
	record := &domain.AbandonmentRecord{
		ID:            uuid.New(),
		CartID:        uuid.New(),
		AgentID:       &agent.ID,
		TotalAttempts: 1,
	}
	entry := &domain.CallQueueEntry{
		ID:            uuid.New(),
		AbandonmentID: record.ID,
		AgentID:       agent.ID,
		CartID:        record.CartID,
		Status:        domain.QueueEntryProcessing,
		AttemptNumber: 1,
	}

	q := newMemQueue(entry)
	abandons := newMemAbandons(record)
	agents := &memAgents{agents: map[uuid.UUID]*domain.Agent{agent.ID: agent}}
	limiter := &releaseRecorder{}

	lg, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	manager := queuesvc.NewManager(q, abandons, agents, nil, nil, nil, lg)
	w := New(nil, manager, agents, abandons, limiter,
		config.ProcessorConfig{RetryDelay: 5 * time.Minute}, lg)

	return &fixture{
		worker:   w,
		queue:    q,
		abandons: abandons,
		limiter:  limiter,
		agent:    agent,
		record:   record,
		entry:    entry,
	}
}

func event(f *fixture, outcome string) queue.CallEventMessage {
	return queue.CallEventMessage{
		EntryID:    f.entry.ID,
		CallID:     "call-123",
		Outcome:    outcome,
		DurationMs: 42000,
		OccurredAt: time.Now().UTC(),
	}
}

func TestCompletedEventResolvesEntryAndRecord(t *testing.T) {
	f := newFixture(t)

	if err := f.worker.Handle(context.Background(), event(f, queue.CallOutcomeCompleted)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryCompleted {
		t.Fatalf("expected entry completed, got %q", f.queue.entries[f.entry.ID].Status)
	}
	if _, ok := f.abandons.completed[f.record.ID]; !ok {
		t.Fatal("expected abandonment record completed")
	}
	if len(f.limiter.released) != 1 || f.limiter.released[0] != f.agent.ID {
		t.Fatal("expected agent slot released")
	}
	if !strings.Contains(f.queue.entries[f.entry.ID].ProcessingNotes, "call-123") {
		t.Fatalf("expected call id in notes, got %q", f.queue.entries[f.entry.ID].ProcessingNotes)
	}
}

func TestFailedEventFailsEntryTerminally(t *testing.T) {
	f := newFixture(t)

	ev := event(f, queue.CallOutcomeFailed)
	ev.EndedReason = "customer hung up"
	if err := f.worker.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryFailed {
		t.Fatalf("expected entry failed, got %q", f.queue.entries[f.entry.ID].Status)
	}
	if !f.abandons.deactivated[f.record.ID] {
		t.Fatal("expected record deactivated")
	}
	if len(f.limiter.released) != 1 {
		t.Fatal("expected agent slot released")
	}
}

func TestNoAnswerSchedulesRetryWithinBudget(t *testing.T) {
	f := newFixture(t)

	before := time.Now().UTC()
	if err := f.worker.Handle(context.Background(), event(f, queue.CallOutcomeNoAnswer)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryPending {
		t.Fatalf("expected entry rescheduled, got %q", f.queue.entries[f.entry.ID].Status)
	}
	next := f.queue.retries[f.entry.ID]
	// One attempt so far, so the first configured retry interval applies.
	want := before.Add(10 * time.Minute)
	if next.Before(want.Add(-time.Second)) || next.After(want.Add(time.Minute)) {
		t.Fatalf("retry at %v, expected about %v", next, want)
	}
}

func TestNoAnswerPastBudgetFailsTerminally(t *testing.T) {
	f := newFixture(t)
	f.abandons.records[f.record.ID].TotalAttempts = 3

	if err := f.worker.Handle(context.Background(), event(f, queue.CallOutcomeNoAnswer)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryFailed {
		t.Fatalf("expected entry failed, got %q", f.queue.entries[f.entry.ID].Status)
	}
	if !f.abandons.deactivated[f.record.ID] {
		t.Fatal("expected record deactivated past budget")
	}
}

func TestStaleEventIgnored(t *testing.T) {
	f := newFixture(t)
	f.queue.entries[f.entry.ID].Status = domain.QueueEntryCompleted

	if err := f.worker.Handle(context.Background(), event(f, queue.CallOutcomeFailed)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryCompleted {
		t.Fatal("expected stale event to leave entry untouched")
	}
	if len(f.limiter.released) != 0 {
		t.Fatalf("expected no slot release for stale event, got %d", len(f.limiter.released))
	}
}

func TestDuplicateEventReleasesSlotOnce(t *testing.T) {
	f := newFixture(t)

	ev := event(f, queue.CallOutcomeCompleted)
	if err := f.worker.Handle(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.worker.Handle(context.Background(), ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryCompleted {
		t.Fatalf("expected entry completed, got %q", f.queue.entries[f.entry.ID].Status)
	}
	if len(f.limiter.released) != 1 {
		t.Fatalf("expected exactly one slot release, got %d", len(f.limiter.released))
	}
}

func TestFetchErrorBacksOffInsteadOfSpinning(t *testing.T) {
	f := newFixture(t)
	reader := &brokenReader{}
	w := New(reader, f.worker.manager, f.worker.agents, f.worker.abandons, f.limiter,
		config.ProcessorConfig{RetryDelay: 5 * time.Minute}, f.worker.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// One failed fetch, then the worker waits out the backoff until the
	// context ends. A tight retry loop would rack up hundreds of fetches.
	if got := reader.count(); got > 2 {
		t.Fatalf("expected backoff between fetch errors, got %d fetches", got)
	}
}

func TestUnknownOutcomeIgnored(t *testing.T) {
	f := newFixture(t)

	if err := f.worker.Handle(context.Background(), event(f, "voicemail")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.queue.entries[f.entry.ID].Status != domain.QueueEntryProcessing {
		t.Fatal("expected unknown outcome to leave entry processing")
	}
}
