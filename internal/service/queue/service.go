// Package queue is the producer-facing insertion path: it validates a capture,
// applies the idempotency marker and persists the event with status=pending.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/funnelsheet/event-relay/internal/repository"
)

var (
	// ErrDuplicateCapture means this owner/event-type pair was already
	// queued; capture is deduplicated at the producer boundary.
	ErrDuplicateCapture = errors.New("event already captured for owner")

	ErrInvalidEventType = errors.New("invalid event type")
)

// Service persists captured events into the queue.
type Service struct {
	events repository.EventsRepository
	marker CaptureMarker
}

// New constructs the queue service. marker may be nil, which disables
// capture deduplication.
func New(events repository.EventsRepository, marker CaptureMarker) *Service {
	if marker == nil {
		marker = NopMarker{}
	}
	return &Service{events: events, marker: marker}
}

// Enqueue validates the payload, marks the capture and inserts the event.
// Validation happens here, at insert time, so malformed captures fail fast
// instead of surfacing as transform errors at send time.
func (s *Service) Enqueue(ctx context.Context, ownerID int64, eventType string, payload model.EventPayload) (int64, error) {
	typ, ok := model.ParseEventType(eventType)
	if !ok {
		return 0, ErrInvalidEventType
	}

	if err := payload.Validate(); err != nil {
		return 0, fmt.Errorf("validate payload: %w", err)
	}

	raw, err := payload.Marshal()
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	queued, err := s.marker.AlreadyQueued(ctx, ownerID, typ)
	if err != nil {
		return 0, fmt.Errorf("capture marker: %w", err)
	}
	if queued {
		return 0, ErrDuplicateCapture
	}

	id, err := s.events.Insert(ctx, ownerID, typ, raw)
	if err != nil {
		// Marker untouched: the producer treats a failed insert as
		// "event not captured" and may retry the capture.
		return 0, err
	}

	// Best effort: the event is queued either way, and a missing marker only
	// risks a duplicate capture, which at-least-once delivery already permits.
	_ = s.marker.MarkQueued(ctx, ownerID, typ)

	return id, nil
}
