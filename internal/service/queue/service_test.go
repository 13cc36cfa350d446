package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	inserted  int
	insertErr error
	lastType  model.EventType
	lastRaw   []byte
}

func (f *fakeEvents) Insert(_ context.Context, ownerID int64, eventType model.EventType, payload []byte) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted++
	f.lastType = eventType
	f.lastRaw = payload
	return int64(f.inserted), nil
}

func (f *fakeEvents) ClaimDue(context.Context, int, int) ([]model.Event, error) { return nil, nil }
func (f *fakeEvents) GetByID(context.Context, int64) (*model.Event, error) { return nil, nil }
func (f *fakeEvents) MarkSent(context.Context, int64) error                       { return nil }
func (f *fakeEvents) MarkFailed(context.Context, int64, string) error             { return nil }
func (f *fakeEvents) IncrementAttempts(context.Context, int64, string) error      { return nil }
func (f *fakeEvents) ReleaseClaim(context.Context, int64) error                   { return nil }
func (f *fakeEvents) ResetPending(context.Context, int64) error                   { return nil }
func (f *fakeEvents) ResetAllFailed(context.Context) (int64, error) { return 0, nil }
func (f *fakeEvents) CountByStatus(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeEvents) DeleteOlderThan(context.Context, int) (int64, error) { return 0, nil }
func (f *fakeEvents) ListByStatus(context.Context, string, int, int) ([]model.Event, error) {
	return nil, nil
}

type fakeMarker struct {
	queued map[string]bool
	marked int
}

func newFakeMarker() *fakeMarker { return &fakeMarker{queued: map[string]bool{}} }

func (m *fakeMarker) key(ownerID int64, t model.EventType) string {
	return fmt.Sprintf("%d:%s", ownerID, t)
}

func (m *fakeMarker) AlreadyQueued(_ context.Context, ownerID int64, t model.EventType) (bool, error) {
	return m.queued[m.key(ownerID, t)], nil
}

func (m *fakeMarker) MarkQueued(_ context.Context, ownerID int64, t model.EventType) error {
	m.queued[m.key(ownerID, t)] = true
	m.marked++
	return nil
}

func validPayload() model.EventPayload {
	return model.EventPayload{
		EventName:     "purchase",
		ClientID:      "12345.67890",
		TransactionID: "1001",
		Value:         99.99,
		Currency:      "USD",
	}
}

func TestEnqueue(t *testing.T) {
	events := &fakeEvents{}
	marker := newFakeMarker()
	svc := New(events, marker)

	id, err := svc.Enqueue(context.Background(), 7, "Purchase", validPayload())
	require.NoError(t, err)

	assert.Equal(t, int64(1), id)
	assert.Equal(t, model.EventTypePurchase, events.lastType, "type is normalized")
	assert.NotEmpty(t, events.lastRaw)
	assert.Equal(t, 1, marker.marked)
}

func TestEnqueueRejectsBlankEventType(t *testing.T) {
	svc := New(&fakeEvents{}, newFakeMarker())

	_, err := svc.Enqueue(context.Background(), 7, "   ", validPayload())
	assert.True(t, errors.Is(err, ErrInvalidEventType))
}

func TestEnqueueValidatesBeforeInsert(t *testing.T) {
	events := &fakeEvents{}
	svc := New(events, newFakeMarker())

	p := validPayload()
	p.ClientID = ""

	_, err := svc.Enqueue(context.Background(), 7, "purchase", p)
	assert.True(t, errors.Is(err, model.ErrMissingClientID))
	assert.Zero(t, events.inserted, "invalid payloads never reach the store")
}

func TestEnqueueDeduplicatesCapture(t *testing.T) {
	events := &fakeEvents{}
	marker := newFakeMarker()
	svc := New(events, marker)

	_, err := svc.Enqueue(context.Background(), 7, "purchase", validPayload())
	require.NoError(t, err)

	_, err = svc.Enqueue(context.Background(), 7, "purchase", validPayload())
	assert.True(t, errors.Is(err, ErrDuplicateCapture))
	assert.Equal(t, 1, events.inserted)

	// a different event type for the same owner is not a duplicate
	p := validPayload()
	p.EventName = "refund"
	_, err = svc.Enqueue(context.Background(), 7, "refund", p)
	assert.NoError(t, err)
}

func TestEnqueueInsertFailureLeavesMarkerUnset(t *testing.T) {
	events := &fakeEvents{insertErr: errors.New("connection lost")}
	marker := newFakeMarker()
	svc := New(events, marker)

	_, err := svc.Enqueue(context.Background(), 7, "purchase", validPayload())
	require.Error(t, err)
	assert.Zero(t, marker.marked, "a failed insert must stay retryable")
}

func TestEnqueueWithoutMarker(t *testing.T) {
	events := &fakeEvents{}
	svc := New(events, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Enqueue(context.Background(), 7, "purchase", validPayload())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, events.inserted, "nil marker disables deduplication")
}
