// Package worker orchestrates queue draining: it claims due events, applies
// the retry/backoff policy, dispatches them and records the outcome. It holds
// no internal timer; an external trigger (scheduler tick, admin call) invokes
// one pass at a time, and overlapping invocations are tolerated through the
// store's claim lease and atomic row updates.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/funnelsheet/event-relay/internal/config"
	"github.com/funnelsheet/event-relay/internal/dispatcher"
	"github.com/funnelsheet/event-relay/internal/metrics"
	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/funnelsheet/event-relay/internal/repository"
	"github.com/funnelsheet/event-relay/internal/transform"
	"github.com/funnelsheet/event-relay/internal/util"
	"go.uber.org/zap"
)

var (
	ErrEventNotFound = errors.New("event not found")
	// ErrAlreadySent rejects manual retry of a delivered event; resending
	// would duplicate it at the destination.
	ErrAlreadySent = errors.New("event already sent")
)

const maxAttemptsReason = "max retry attempts reached"

// Worker processes the event queue against one immutable config snapshot.
type Worker struct {
	repo   repository.EventsRepository
	sender dispatcher.Sender
	audit  repository.DispatchLogRepository
	dest   config.DestinationType
	queue  config.QueueConfig
	log    *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(
	repo repository.EventsRepository,
	sender dispatcher.Sender,
	audit repository.DispatchLogRepository,
	dest config.DestinationType,
	queue config.QueueConfig,
	log *zap.Logger,
) *Worker {
	if audit == nil {
		audit = repository.NopDispatchLog{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		repo:   repo,
		sender: sender,
		audit:  audit,
		dest:   dest,
		queue:  queue.Normalized(),
		log:    log,
		now:    time.Now,
	}
}

// BatchStats summarizes one ProcessBatch pass.
type BatchStats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
	Skipped int `json:"skipped"`
}

// backoffWindow is the minimum wait after a failed attempt: 2^attempts
// minutes, measured from updated_at. Exponential, no jitter; the only
// ceiling is the max-attempts budget.
func backoffWindow(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		attempts = 30
	}
	return time.Duration(1<<uint(attempts)) * time.Minute
}

// ProcessBatch runs one idempotent queue-draining pass. Each event's outcome
// is committed independently; one event's failure never aborts the batch.
// Only a storage failure on the claim itself aborts outright.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchStats, error) {
	batchID := util.NewBatchID()
	log := w.log.With(zap.String("batch_id", batchID))

	events, err := w.repo.ClaimDue(ctx, w.queue.BatchSize, int(w.queue.ClaimTTL.Seconds()))
	if err != nil {
		return BatchStats{}, fmt.Errorf("claim due events: %w", err)
	}

	stats := BatchStats{Claimed: len(events)}
	if len(events) == 0 {
		log.Debug("no pending events to process")
		return stats, nil
	}

	for i, ev := range events {
		// Backoff: a previously failed event waits 2^attempts minutes
		// from its last mutation before the next try.
		if ev.Attempts > 0 && w.now().Before(ev.UpdatedAt.Add(backoffWindow(ev.Attempts))) {
			w.release(ctx, ev.ID)
			stats.Skipped++
			continue
		}

		if ev.Attempts >= w.queue.MaxAttempts {
			if err := w.repo.MarkFailed(ctx, ev.ID, maxAttemptsReason); err != nil {
				log.Error("mark failed", zap.Int64("event_id", ev.ID), zap.Error(err))
				continue
			}
			metrics.EventsTotal.WithLabelValues("failed", w.dest.String()).Inc()
			log.Warn("event failed permanently",
				zap.Int64("event_id", ev.ID),
				zap.Int64("owner_id", ev.OwnerID),
				zap.Int("attempts", ev.Attempts))
			stats.Failed++
			continue
		}

		res := w.dispatch(ctx, batchID, &ev)

		switch {
		case res.Success:
			if err := w.repo.MarkSent(ctx, ev.ID); err != nil {
				log.Error("mark sent", zap.Int64("event_id", ev.ID), zap.Error(err))
				continue
			}
			metrics.EventsTotal.WithLabelValues("sent", w.dest.String()).Inc()
			log.Info("event sent", zap.Int64("event_id", ev.ID), zap.Int64("owner_id", ev.OwnerID))
			stats.Sent++

		case res.Kind == dispatcher.KindConfig:
			// Destination credentials are missing; the same snapshot
			// applies to every event in this batch, so stop here. The
			// attempt is not counted against the events.
			w.release(ctx, ev.ID)
			for _, rest := range events[i+1:] {
				w.release(ctx, rest.ID)
			}
			log.Warn("destination not configured, suspending batch", zap.String("reason", res.Message))
			return stats, nil

		case transformFailed(res):
			// Malformed stored payload: retrying cannot fix it.
			if err := w.repo.MarkFailed(ctx, ev.ID, res.Message); err != nil {
				log.Error("mark failed", zap.Int64("event_id", ev.ID), zap.Error(err))
				continue
			}
			metrics.EventsTotal.WithLabelValues("failed", w.dest.String()).Inc()
			log.Warn("event payload unsendable", zap.Int64("event_id", ev.ID), zap.String("reason", res.Message))
			stats.Failed++

		default:
			if err := w.repo.IncrementAttempts(ctx, ev.ID, res.Message); err != nil {
				log.Error("increment attempts", zap.Int64("event_id", ev.ID), zap.Error(err))
				continue
			}
			metrics.EventsTotal.WithLabelValues("retried", w.dest.String()).Inc()
			log.Warn("event dispatch failed",
				zap.Int64("event_id", ev.ID),
				zap.Int("attempt", ev.Attempts+1),
				zap.String("reason", res.Message))
			stats.Retried++
		}
	}

	log.Info("batch completed",
		zap.Int("claimed", stats.Claimed),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("retried", stats.Retried),
		zap.Int("skipped", stats.Skipped))

	return stats, nil
}

const kindTransform = dispatcher.Kind("transform")

func transformFailed(r dispatcher.Result) bool { return r.Kind == kindTransform }

// dispatch transforms the stored payload and performs the outbound call,
// folding transform failures into the same Result shape. Attempts accounting
// happens strictly before/after this call; no store lock is held during it.
func (w *Worker) dispatch(ctx context.Context, batchID string, ev *model.Event) dispatcher.Result {
	wire, err := transform.Build(w.dest, ev.Payload)
	if err != nil {
		return dispatcher.Result{Kind: kindTransform, Message: err.Error()}
	}

	start := w.now()
	res := w.sender.Send(ctx, wire)
	metrics.DispatchesTotal.WithLabelValues(string(res.Kind), w.dest.String()).Inc()

	if err := w.audit.Insert(ctx, repository.DispatchAttempt{
		BatchID:     batchID,
		EventID:     ev.ID,
		Destination: w.dest.String(),
		Success:     res.Success,
		Message:     res.Message,
		DurationMs:  w.now().Sub(start).Milliseconds(),
		AttemptedAt: start,
	}); err != nil {
		w.log.Debug("audit insert failed", zap.Int64("event_id", ev.ID), zap.Error(err))
	}

	return res
}

func (w *Worker) release(ctx context.Context, id int64) {
	if err := w.repo.ReleaseClaim(ctx, id); err != nil {
		w.log.Error("release claim", zap.Int64("event_id", id), zap.Error(err))
	}
}

// RetryOne resets a single event to pending and dispatches it immediately,
// bypassing the backoff window. The dispatch result is returned to the caller
// synchronously. Sent events are rejected: resending risks duplicate delivery.
func (w *Worker) RetryOne(ctx context.Context, id int64) (dispatcher.Result, error) {
	ev, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return dispatcher.Result{}, fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		return dispatcher.Result{}, ErrEventNotFound
	}
	if ev.Status == model.StatusSent {
		return dispatcher.Result{}, ErrAlreadySent
	}

	if err := w.repo.ResetPending(ctx, id); err != nil {
		return dispatcher.Result{}, fmt.Errorf("reset pending: %w", err)
	}

	res := w.dispatch(ctx, util.NewBatchID(), ev)

	switch {
	case res.Success:
		if err := w.repo.MarkSent(ctx, id); err != nil {
			return res, fmt.Errorf("mark sent: %w", err)
		}
		metrics.EventsTotal.WithLabelValues("sent", w.dest.String()).Inc()

	case transformFailed(res):
		if err := w.repo.MarkFailed(ctx, id, res.Message); err != nil {
			return res, fmt.Errorf("mark failed: %w", err)
		}
		metrics.EventsTotal.WithLabelValues("failed", w.dest.String()).Inc()

	case res.Kind == dispatcher.KindConfig:
		// Not counted as an attempt; the operator sees the message directly.

	default:
		if err := w.repo.IncrementAttempts(ctx, id, res.Message); err != nil {
			return res, fmt.Errorf("increment attempts: %w", err)
		}
		metrics.EventsTotal.WithLabelValues("retried", w.dest.String()).Inc()
	}

	return res, nil
}

// RetryAllFailed bulk-resets every failed event back to pending. Nothing is
// dispatched here; the events re-enter the normal batch cycle on the next tick.
func (w *Worker) RetryAllFailed(ctx context.Context) (int64, error) {
	n, err := w.repo.ResetAllFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset failed events: %w", err)
	}
	w.log.Info("failed events reset to pending", zap.Int64("count", n))
	return n, nil
}

// SendTest pushes a synthetic purchase event through the same transform and
// dispatch path used for real events, without persisting anything.
func (w *Worker) SendTest(ctx context.Context) dispatcher.Result {
	payload := model.EventPayload{
		EventName:     "purchase",
		ClientID:      "12345.67890",
		TransactionID: fmt.Sprintf("TEST-%d", w.now().Unix()),
		Value:         99.99,
		Currency:      "USD",
		Tax:           9.99,
		Shipping:      5.00,
		Items: []model.Item{{
			ItemID:   "test-product",
			ItemName: "Test Product",
			Quantity: 1,
			Price:    84.00,
		}},
		UserData:  &model.UserData{Email: "test@example.com"},
		Timestamp: w.now().Unix(),
	}

	raw, err := payload.Marshal()
	if err != nil {
		return dispatcher.Result{Kind: kindTransform, Message: err.Error()}
	}

	wire, err := transform.Build(w.dest, raw)
	if err != nil {
		return dispatcher.Result{Kind: kindTransform, Message: err.Error()}
	}

	res := w.sender.Send(ctx, wire)
	metrics.DispatchesTotal.WithLabelValues(string(res.Kind), w.dest.String()).Inc()
	return res
}
