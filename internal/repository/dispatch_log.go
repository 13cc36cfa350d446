package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DispatchAttempt is one append-only audit row for an outbound call.
type DispatchAttempt struct {
	BatchID     string    `db:"batch_id"`
	EventID     int64     `db:"event_id"`
	Destination string    `db:"destination"`
	Success     bool      `db:"success"`
	Message     string    `db:"message"`
	DurationMs  int64     `db:"duration_ms"`
	AttemptedAt time.Time `db:"attempted_at"`
}

// DispatchLogRepository records dispatch attempts. Writes are best-effort:
// callers log and ignore errors, an audit miss never affects the event outcome.
type DispatchLogRepository interface {
	Insert(ctx context.Context, a DispatchAttempt) error
}

type chDispatchLogRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewDispatchLogRepository(ch *sqlx.DB) DispatchLogRepository {
	return &chDispatchLogRepository{ch: ch}
}

func (r *chDispatchLogRepository) Insert(ctx context.Context, a DispatchAttempt) error {
	const q = `
		INSERT INTO evrelay.dispatch_attempts
		    (batch_id, event_id, destination, success, message, duration_ms, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	success := uint8(0)
	if a.Success {
		success = 1
	}
	_, err := r.ch.ExecContext(ctx, q,
		a.BatchID, a.EventID, a.Destination, success, a.Message, a.DurationMs, a.AttemptedAt,
	)
	return err
}

// NopDispatchLog is used when the ClickHouse audit log is disabled.
type NopDispatchLog struct{}

func (NopDispatchLog) Insert(context.Context, DispatchAttempt) error { return nil }
