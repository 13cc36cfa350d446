// Package ingest consumes capture envelopes from Kafka and enqueues them
// through the same insertion path the HTTP producer surface uses. Delivery is
// at-least-once; the capture marker absorbs redelivered envelopes.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/funnelsheet/event-relay/internal/kafka"
	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/funnelsheet/event-relay/internal/service/queue"
	"go.uber.org/zap"
)

// Envelope is the capture message published by the upstream producer.
type Envelope struct {
	OwnerID   int64              `json:"owner_id"`
	EventType string             `json:"event_type"`
	Payload   model.EventPayload `json:"payload"`
}

// MessageSource abstracts the Kafka reader so the enqueue loop can be
// exercised without a broker.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	consumer MessageSource
	svc      *queue.Service
	log      *zap.Logger
}

func New(consumer MessageSource, svc *queue.Service, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{consumer: consumer, svc: svc, log: log}
}

// Run fetches and enqueues until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		c.processOne(ctx, m)
	}
}

func (c *Consumer) processOne(ctx context.Context, m kafka.Message) {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.OwnerID == 0 {
		// poison message: commit and skip
		if err != nil {
			c.log.Warn("bad capture envelope", zap.Error(err))
		} else {
			c.log.Warn("capture envelope missing owner_id")
		}
		c.commit(ctx, m)
		return
	}

	id, err := c.svc.Enqueue(ctx, env.OwnerID, env.EventType, env.Payload)
	switch {
	case err == nil:
		c.log.Info("capture queued",
			zap.Int64("event_id", id),
			zap.Int64("owner_id", env.OwnerID),
			zap.String("event_type", env.EventType))
		c.commit(ctx, m)

	case errors.Is(err, queue.ErrDuplicateCapture):
		c.log.Debug("duplicate capture skipped", zap.Int64("owner_id", env.OwnerID))
		c.commit(ctx, m)

	case errors.Is(err, queue.ErrInvalidEventType),
		errors.Is(err, model.ErrMissingEventName),
		errors.Is(err, model.ErrMissingClientID):
		// malformed capture will not improve on redelivery
		c.log.Warn("capture rejected", zap.Int64("owner_id", env.OwnerID), zap.Error(err))
		c.commit(ctx, m)

	default:
		// storage failure: leave uncommitted so the envelope is redelivered
		c.log.Error("capture enqueue failed", zap.Int64("owner_id", env.OwnerID), zap.Error(err))
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.consumer.Commit(ctx, m); err != nil {
		c.log.Warn("kafka commit failed", zap.Error(err))
	}
}
