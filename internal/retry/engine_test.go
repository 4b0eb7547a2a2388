package retry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayforge/internal/invoker"
	"github.com/relayforge/relayforge/internal/model"
	"github.com/relayforge/relayforge/internal/repository"
)

type attemptUpdate struct {
	callID     string
	retryCount int
	next       *time.Time
	statusCode *int
	lastError  string
	status     model.RetryStatus
}

type fakeStore struct {
	mu        sync.Mutex
	due       []model.RetryEntry
	entries   map[string]*model.RetryEntry
	claimed   map[string]time.Time
	updates   []attemptUpdate
	successes []string
	exhausted []string
	purged    int64
}

func newFakeStore(entries ...*model.RetryEntry) *fakeStore {
	s := &fakeStore{
		entries: map[string]*model.RetryEntry{},
		claimed: map[string]time.Time{},
	}
	for _, e := range entries {
		s.entries[e.CallID] = e
	}
	return s
}

func (s *fakeStore) ClaimDue(_ context.Context, _ time.Time, limit int) ([]model.RetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	out := s.due
	s.due = nil
	return out, nil
}

func (s *fakeStore) UpdateAttempt(_ context.Context, callID string, retryCount int, next *time.Time,
	statusCode *int, lastError string, status model.RetryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, attemptUpdate{callID, retryCount, next, statusCode, lastError, status})
	return nil
}

func (s *fakeStore) MarkSuccess(_ context.Context, callID string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, callID)
	return nil
}

func (s *fakeStore) MarkExhausted(_ context.Context, callID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[callID]
	if !ok || e.FinalStatus != model.RetryPending {
		return false, nil
	}
	e.FinalStatus = model.RetryExhausted
	s.exhausted = append(s.exhausted, callID)
	return true, nil
}

func (s *fakeStore) ClaimOne(_ context.Context, callID string, now time.Time) (*model.RetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[callID]
	if !ok {
		return nil, repository.ErrRetryNotFound
	}
	if e.FinalStatus != model.RetryPending {
		return nil, fmt.Errorf("cannot retry call in state %s", e.FinalStatus)
	}
	if at, ok := s.claimed[callID]; ok && now.Sub(at) < 10*time.Minute {
		return nil, repository.ErrRetryClaimed
	}
	s.claimed[callID] = now
	return e, nil
}

func (s *fakeStore) Stats(_ context.Context) (*model.RetryStats, error) {
	return &model.RetryStats{}, nil
}

func (s *fakeStore) DeleteTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	return s.purged, nil
}

type fakeAudits struct {
	mu       sync.Mutex
	inserted []*model.AuditRecord
	updated  []string
}

func (f *fakeAudits) Insert(_ context.Context, rec *model.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeAudits) UpdateResponse(_ context.Context, auditID string, _ *string, _ *int,
	_ *string, _ int64, _ bool, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, auditID)
	return nil
}

type replayTransport struct {
	mu       sync.Mutex
	result   invoker.CallResult
	calls    int
	bodies   []string
	methods  []string
	timeouts []int
}

func (f *replayTransport) Invoke(_ context.Context, method, _ string, _ map[string]string, body string, timeoutSeconds int) invoker.CallResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.bodies = append(f.bodies, body)
	f.methods = append(f.methods, method)
	f.timeouts = append(f.timeouts, timeoutSeconds)
	return f.result
}

func pendingEntry(callID string, retryCount int) *model.RetryEntry {
	next := time.Now().UTC().Add(-time.Minute)
	return &model.RetryEntry{
		CallID:           callID,
		ClientID:         "c1",
		RequestPayload:   `{"order":{"id":"ORD-1"}}`,
		RequestHeaders:   `{"X-API-Key":"secret"}`,
		Endpoint:         "https://partner.example/api/orders",
		HTTPMethod:       "POST",
		TimeoutSeconds:   10,
		FailureTimestamp: time.Now().UTC().Add(-2 * time.Hour),
		RetryCount:       retryCount,
		MaxAttempts:      3,
		NextRetryTime:    &next,
		FinalStatus:      model.RetryPending,
		SourceRecordID:   "r1",
		CorrelationID:    "corr-1",
		CreatedBy:        "SYSTEM",
	}
}

func newTestEngine(store *fakeStore, transport *replayTransport) (*Engine, *fakeAudits) {
	audits := &fakeAudits{}
	engine := NewEngine(store, audits, transport, Config{
		MaxAttempts: 3,
		Interval:    time.Hour,
	})
	return engine, audits
}

func TestTriggerNow_SuccessWritesAuditAndMarksEntry(t *testing.T) {
	entry := pendingEntry("call-1", 0)
	store := newFakeStore(entry)
	transport := &replayTransport{result: invoker.CallResult{Success: true, StatusCode: 200, ResponseBody: `{"ok":true}`}}
	engine, audits := newTestEngine(store, transport)

	triggered, err := engine.TriggerNow(context.Background(), "call-1")
	require.NoError(t, err)
	assert.True(t, triggered)

	assert.Equal(t, []string{"call-1"}, store.successes)
	assert.Empty(t, store.updates)

	// The retry replays the stored request verbatim, tenant timeout
	// included.
	require.Equal(t, 1, transport.calls)
	assert.Equal(t, entry.RequestPayload, transport.bodies[0])
	assert.Equal(t, "POST", transport.methods[0])
	assert.Equal(t, 10, transport.timeouts[0])

	// A fresh audit pair records the successful attempt.
	require.Len(t, audits.inserted, 1)
	rec := audits.inserted[0]
	assert.Equal(t, "RETRY_ENGINE", rec.CreatedBy)
	assert.Equal(t, "corr-1", rec.CorrelationID)
	assert.Equal(t, []string{rec.AuditID}, audits.updated)
}

func TestTriggerNow_FailureSchedulesNextAttempt(t *testing.T) {
	store := newFakeStore(pendingEntry("call-1", 0))
	transport := &replayTransport{result: invoker.CallResult{
		StatusCode: 503, ErrorMessage: "still down", Retryable: true,
	}}
	engine, audits := newTestEngine(store, transport)

	before := time.Now().UTC()
	_, err := engine.TriggerNow(context.Background(), "call-1")
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	up := store.updates[0]
	assert.Equal(t, 1, up.retryCount)
	assert.Equal(t, model.RetryPending, up.status)
	assert.Equal(t, "still down", up.lastError)
	require.NotNil(t, up.next)
	assert.WithinDuration(t, before.Add(time.Hour), *up.next, 5*time.Second)
	require.NotNil(t, up.statusCode)
	assert.Equal(t, 503, *up.statusCode)

	// No audit rows for failed retry attempts.
	assert.Empty(t, audits.inserted)
}

func TestTriggerNow_BudgetExhausted(t *testing.T) {
	// Entry has already used 2 of its 3 attempts.
	store := newFakeStore(pendingEntry("call-1", 2))
	transport := &replayTransport{result: invoker.CallResult{StatusCode: 503, Retryable: true}}
	engine, _ := newTestEngine(store, transport)

	_, err := engine.TriggerNow(context.Background(), "call-1")
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	up := store.updates[0]
	assert.Equal(t, 3, up.retryCount)
	assert.Equal(t, model.RetryExhausted, up.status)
	assert.Nil(t, up.next)
}

func TestTriggerNow_NonRetryableFailureExhaustsImmediately(t *testing.T) {
	store := newFakeStore(pendingEntry("call-1", 0))
	transport := &replayTransport{result: invoker.CallResult{
		StatusCode: 404, ErrorMessage: "gone", Retryable: false,
	}}
	engine, _ := newTestEngine(store, transport)

	_, err := engine.TriggerNow(context.Background(), "call-1")
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	assert.Equal(t, model.RetryExhausted, store.updates[0].status)
	assert.Nil(t, store.updates[0].next)
}

func TestTriggerNow_RefusesTerminalEntry(t *testing.T) {
	entry := pendingEntry("call-1", 1)
	entry.FinalStatus = model.RetrySuccess
	store := newFakeStore(entry)
	transport := &replayTransport{}
	engine, _ := newTestEngine(store, transport)

	triggered, err := engine.TriggerNow(context.Background(), "call-1")
	assert.False(t, triggered)
	assert.Error(t, err)
	assert.Zero(t, transport.calls)
}

func TestTriggerNow_RefusesEntryClaimedBySweep(t *testing.T) {
	store := newFakeStore(pendingEntry("call-1", 0))
	store.claimed["call-1"] = time.Now().UTC()
	transport := &replayTransport{}
	engine, _ := newTestEngine(store, transport)

	triggered, err := engine.TriggerNow(context.Background(), "call-1")
	assert.False(t, triggered)
	assert.ErrorIs(t, err, repository.ErrRetryClaimed)
	assert.Zero(t, transport.calls)
}

func TestTriggerNow_UnknownCallID(t *testing.T) {
	engine, _ := newTestEngine(newFakeStore(), &replayTransport{})

	triggered, err := engine.TriggerNow(context.Background(), "missing")
	assert.False(t, triggered)
	assert.ErrorIs(t, err, repository.ErrRetryNotFound)
}

func TestCancel(t *testing.T) {
	store := newFakeStore(pendingEntry("call-1", 0))
	engine, _ := newTestEngine(store, &replayTransport{})

	cancelled, err := engine.Cancel(context.Background(), "call-1")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, []string{"call-1"}, store.exhausted)

	// Cancelling again is a no-op: the entry is terminal now.
	cancelled, err = engine.Cancel(context.Background(), "call-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestSweep_ProcessesAllClaimedEntries(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		e := pendingEntry(id, 0)
		store.entries[id] = e
		store.due = append(store.due, *e)
	}
	transport := &replayTransport{result: invoker.CallResult{StatusCode: 500, Retryable: true}}
	engine, _ := newTestEngine(store, transport)

	engine.Sweep(context.Background())

	assert.Equal(t, 5, transport.calls)
	assert.Len(t, store.updates, 5)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultRetention, cfg.Retention)

	// Explicit values survive.
	cfg = Config{MaxAttempts: 5, Interval: time.Minute}.withDefaults()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Interval)
}
