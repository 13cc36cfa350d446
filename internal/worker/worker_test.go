package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/funnelsheet/event-relay/internal/config"
	"github.com/funnelsheet/event-relay/internal/dispatcher"
	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeRepo struct {
	events map[int64]*model.Event
	nextID int64

	released []int64
	resets   []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{events: map[int64]*model.Event{}, nextID: 1}
}

func (r *fakeRepo) add(ev model.Event) *model.Event {
	if ev.ID == 0 {
		ev.ID = r.nextID
		r.nextID++
	}
	cp := ev
	r.events[cp.ID] = &cp
	return &cp
}

func (r *fakeRepo) Insert(_ context.Context, ownerID int64, eventType model.EventType, payload []byte) (int64, error) {
	ev := r.add(model.Event{
		OwnerID:   ownerID,
		EventType: eventType,
		Payload:   payload,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	return ev.ID, nil
}

func (r *fakeRepo) ClaimDue(_ context.Context, limit int, leaseTTLSeconds int) ([]model.Event, error) {
	var due []model.Event
	now := time.Now()
	for _, ev := range r.events {
		if ev.Status != model.StatusPending {
			continue
		}
		if ev.ClaimedUntil.Valid && ev.ClaimedUntil.Time.After(now) {
			continue
		}
		due = append(due, *ev)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, ev := range due {
		r.events[ev.ID].ClaimedUntil = sql.NullTime{
			Time:  now.Add(time.Duration(leaseTTLSeconds) * time.Second),
			Valid: true,
		}
	}
	return due, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*model.Event, error) {
	ev, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (r *fakeRepo) MarkSent(_ context.Context, id int64) error {
	ev := r.events[id]
	ev.Status = model.StatusSent
	ev.ClaimedUntil = sql.NullTime{}
	ev.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id int64, reason string) error {
	ev := r.events[id]
	ev.Status = model.StatusFailed
	ev.LastError = sql.NullString{String: reason, Valid: true}
	ev.ClaimedUntil = sql.NullTime{}
	ev.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) IncrementAttempts(_ context.Context, id int64, errMsg string) error {
	ev := r.events[id]
	ev.Attempts++
	ev.LastError = sql.NullString{String: errMsg, Valid: true}
	ev.ClaimedUntil = sql.NullTime{}
	ev.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) ReleaseClaim(_ context.Context, id int64) error {
	r.released = append(r.released, id)
	r.events[id].ClaimedUntil = sql.NullTime{}
	return nil
}

func (r *fakeRepo) ResetPending(_ context.Context, id int64) error {
	r.resets = append(r.resets, id)
	ev := r.events[id]
	ev.Status = model.StatusPending
	ev.ClaimedUntil = sql.NullTime{}
	ev.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) ResetAllFailed(_ context.Context) (int64, error) {
	var n int64
	for _, ev := range r.events {
		if ev.Status == model.StatusFailed {
			ev.Status = model.StatusPending
			ev.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ListByStatus(_ context.Context, status string, limit, offset int) ([]model.Event, error) {
	return nil, nil
}

func (r *fakeRepo) CountByStatus(_ context.Context, status string) (int64, error) { return 0, nil }

func (r *fakeRepo) DeleteOlderThan(_ context.Context, days int) (int64, error) { return 0, nil }

type fakeSender struct {
	results []dispatcher.Result
	wires   [][]byte
}

func (s *fakeSender) Send(_ context.Context, wire []byte) dispatcher.Result {
	s.wires = append(s.wires, wire)
	if len(s.results) == 0 {
		return dispatcher.Result{Success: true, Kind: dispatcher.KindOK}
	}
	res := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return res
}

// ---- helpers ----

func payloadBytes(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(model.EventPayload{
		EventName:     "purchase",
		ClientID:      "c1",
		TransactionID: "1001",
		Value:         10,
		Currency:      "USD",
	})
	require.NoError(t, err)
	return raw
}

func newTestWorker(repo *fakeRepo, sender dispatcher.Sender) *Worker {
	return New(repo, sender, nil, config.DestinationGA4,
		config.QueueConfig{BatchSize: 10, MaxAttempts: 5}, nil)
}

func pendingEvent(repo *fakeRepo, raw []byte, attempts int, updatedAt time.Time) *model.Event {
	return repo.add(model.Event{
		OwnerID:   7,
		EventType: model.EventTypePurchase,
		Payload:   raw,
		Status:    model.StatusPending,
		Attempts:  attempts,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	})
}

// ---- ProcessBatch ----

func TestProcessBatchSendsPendingEvent(t *testing.T) {
	repo := newFakeRepo()
	ev := pendingEvent(repo, payloadBytes(t), 0, time.Now())
	sender := &fakeSender{}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Claimed: 1, Sent: 1}, stats)
	assert.Equal(t, model.StatusSent, repo.events[ev.ID].Status)
	assert.Equal(t, 0, repo.events[ev.ID].Attempts)
	require.Len(t, sender.wires, 1)
}

func TestProcessBatchSkipsEventInBackoffWindow(t *testing.T) {
	repo := newFakeRepo()
	// attempts=2 means a 4 minute wait; last mutation was just now
	ev := pendingEvent(repo, payloadBytes(t), 2, time.Now())
	sender := &fakeSender{}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Claimed: 1, Skipped: 1}, stats)
	assert.Empty(t, sender.wires)
	assert.Contains(t, repo.released, ev.ID, "skipped events give their claim back")
	assert.Equal(t, model.StatusPending, repo.events[ev.ID].Status)
}

func TestProcessBatchRetriesAfterBackoffElapsed(t *testing.T) {
	repo := newFakeRepo()
	// attempts=1 means a 2 minute wait; last mutation was 3 minutes ago
	ev := pendingEvent(repo, payloadBytes(t), 1, time.Now().Add(-3*time.Minute))
	sender := &fakeSender{}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Claimed: 1, Sent: 1}, stats)
	assert.Equal(t, model.StatusSent, repo.events[ev.ID].Status)
}

func TestProcessBatchMarksExhaustedEventFailed(t *testing.T) {
	repo := newFakeRepo()
	ev := pendingEvent(repo, payloadBytes(t), 5, time.Now().Add(-24*time.Hour))
	sender := &fakeSender{}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Claimed: 1, Failed: 1}, stats)
	assert.Equal(t, model.StatusFailed, repo.events[ev.ID].Status)
	assert.Equal(t, "max retry attempts reached", repo.events[ev.ID].LastError.String)
	assert.Empty(t, sender.wires, "exhausted events are not dispatched")
}

func TestProcessBatchCountsFailedDispatch(t *testing.T) {
	repo := newFakeRepo()
	ev := pendingEvent(repo, payloadBytes(t), 0, time.Now())
	sender := &fakeSender{results: []dispatcher.Result{
		{Kind: dispatcher.KindEndpoint, Message: "GA4 returned status 500: boom"},
	}}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Claimed: 1, Retried: 1}, stats)
	got := repo.events[ev.ID]
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError.String, "status 500")
	assert.False(t, got.ClaimedUntil.Valid, "claim released on outcome write")
}

func TestProcessBatchSuspendsOnConfigError(t *testing.T) {
	repo := newFakeRepo()
	first := pendingEvent(repo, payloadBytes(t), 0, time.Now())
	second := pendingEvent(repo, payloadBytes(t), 0, time.Now())
	sender := &fakeSender{results: []dispatcher.Result{
		{Kind: dispatcher.KindConfig, Message: "GA4 measurement ID or API secret not configured"},
	}}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	// one dispatch attempted, then the whole batch stands down
	assert.Len(t, sender.wires, 1)
	assert.Equal(t, BatchStats{Claimed: 2}, stats)

	for _, ev := range []*model.Event{first, second} {
		got := repo.events[ev.ID]
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts, "a config error is not the event's fault")
		assert.Contains(t, repo.released, ev.ID)
	}
}

func TestProcessBatchFailsUnparsablePayload(t *testing.T) {
	repo := newFakeRepo()
	ev := pendingEvent(repo, []byte("{not json"), 0, time.Now())
	sender := &fakeSender{}

	stats, err := newTestWorker(repo, sender).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Claimed: 1, Failed: 1}, stats)
	assert.Equal(t, model.StatusFailed, repo.events[ev.ID].Status)
	assert.Empty(t, sender.wires, "unparsable payloads never reach the network")
}

func TestBackoffWindow(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{5, 32 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffWindow(tc.attempts), "attempts=%d", tc.attempts)
	}
}

// ---- RetryOne ----

func TestRetryOneNotFound(t *testing.T) {
	w := newTestWorker(newFakeRepo(), &fakeSender{})

	_, err := w.RetryOne(context.Background(), 404)
	assert.True(t, errors.Is(err, ErrEventNotFound))
}

func TestRetryOneRejectsSentEvent(t *testing.T) {
	repo := newFakeRepo()
	ev := repo.add(model.Event{Status: model.StatusSent, Payload: payloadBytes(t)})
	sender := &fakeSender{}

	_, err := newTestWorker(repo, sender).RetryOne(context.Background(), ev.ID)
	assert.True(t, errors.Is(err, ErrAlreadySent))
	assert.Empty(t, sender.wires)
}

func TestRetryOneDispatchesFailedEventImmediately(t *testing.T) {
	repo := newFakeRepo()
	// deep inside its backoff window; manual retry must not care
	ev := repo.add(model.Event{
		Status:    model.StatusFailed,
		Payload:   payloadBytes(t),
		Attempts:  3,
		UpdatedAt: time.Now(),
	})
	sender := &fakeSender{}

	res, err := newTestWorker(repo, sender).RetryOne(context.Background(), ev.ID)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Len(t, sender.wires, 1)
	got := repo.events[ev.ID]
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, 3, got.Attempts, "manual retries do not reset the budget")
	assert.Contains(t, repo.resets, ev.ID)
}

func TestRetryOneFailureCountsAttempt(t *testing.T) {
	repo := newFakeRepo()
	ev := repo.add(model.Event{
		Status:   model.StatusFailed,
		Payload:  payloadBytes(t),
		Attempts: 2,
	})
	sender := &fakeSender{results: []dispatcher.Result{
		{Kind: dispatcher.KindEndpoint, Message: "GA4 returned status 503: unavailable"},
	}}

	res, err := newTestWorker(repo, sender).RetryOne(context.Background(), ev.ID)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "status 503")
	assert.Equal(t, 3, repo.events[ev.ID].Attempts)
}

func TestRetryOneConfigErrorNotCounted(t *testing.T) {
	repo := newFakeRepo()
	ev := repo.add(model.Event{
		Status:   model.StatusFailed,
		Payload:  payloadBytes(t),
		Attempts: 2,
	})
	sender := &fakeSender{results: []dispatcher.Result{
		{Kind: dispatcher.KindConfig, Message: "sGTM endpoint URL not configured"},
	}}

	res, err := newTestWorker(repo, sender).RetryOne(context.Background(), ev.ID)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, repo.events[ev.ID].Attempts)
}

// ---- RetryAllFailed ----

func TestRetryAllFailedResetsWithoutDispatch(t *testing.T) {
	repo := newFakeRepo()
	a := repo.add(model.Event{Status: model.StatusFailed, Payload: payloadBytes(t)})
	b := repo.add(model.Event{Status: model.StatusFailed, Payload: payloadBytes(t)})
	sent := repo.add(model.Event{Status: model.StatusSent, Payload: payloadBytes(t)})
	sender := &fakeSender{}

	n, err := newTestWorker(repo, sender).RetryAllFailed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), n)
	assert.Equal(t, model.StatusPending, repo.events[a.ID].Status)
	assert.Equal(t, model.StatusPending, repo.events[b.ID].Status)
	assert.Equal(t, model.StatusSent, repo.events[sent.ID].Status)
	assert.Empty(t, sender.wires, "bulk retry defers dispatch to the next batch")
}

// ---- SendTest ----

func TestSendTestUsesRealDispatchPath(t *testing.T) {
	repo := newFakeRepo()
	sender := &fakeSender{}

	res := newTestWorker(repo, sender).SendTest(context.Background())

	require.True(t, res.Success)
	require.Len(t, sender.wires, 1)

	wire := string(sender.wires[0])
	assert.Contains(t, wire, `"client_id":"12345.67890"`)
	assert.True(t, strings.Contains(wire, `"transaction_id":"TEST-`))
	assert.Empty(t, repo.events, "test events are never persisted")
}
