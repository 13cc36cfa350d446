package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/funnelsheet/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// StatusAll is the wildcard accepted by ListByStatus / CountByStatus.
const StatusAll = "all"

// EventsRepository defines persistence for the events queue table.
type EventsRepository interface {
	// Insert appends a new event with status=pending, attempts=0 and returns its id.
	// If it fails the caller must assume the event was not captured.
	Insert(ctx context.Context, ownerID int64, eventType model.EventType, payload []byte) (int64, error)

	// ClaimDue returns up to limit pending events that are not currently
	// claimed, oldest first, and stamps a short-lived claim on each so a
	// concurrent worker pass skips them. The claim is released by any
	// subsequent status/attempts mutation.
	ClaimDue(ctx context.Context, limit int, leaseTTLSeconds int) ([]model.Event, error)

	// GetByID returns nil when the event does not exist.
	GetByID(ctx context.Context, id int64) (*model.Event, error)

	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error

	// IncrementAttempts is a single atomic UPDATE so concurrent workers
	// cannot double-count or clobber each other's last_error.
	IncrementAttempts(ctx context.Context, id int64, errMsg string) error

	// ReleaseClaim clears the lease without touching status, attempts or
	// updated_at. Used when a claimed event turns out not to be due yet.
	ReleaseClaim(ctx context.Context, id int64) error

	// ResetPending puts an event back to pending for a manual retry.
	// Attempts are left untouched: explicit retries count against the budget.
	ResetPending(ctx context.Context, id int64) error

	// ResetAllFailed bulk-resets every failed event to pending and returns
	// how many rows changed. No dispatch happens here.
	ResetAllFailed(ctx context.Context) (int64, error)

	ListByStatus(ctx context.Context, status string, limit, offset int) ([]model.Event, error)
	CountByStatus(ctx context.Context, status string) (int64, error)

	// DeleteOlderThan purges sent events older than the given number of days.
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

const eventColumns = `id, owner_id, event_type, payload, status, attempts, last_error, claimed_until, created_at, updated_at`

func (r *EventsRepositoryImpl) Insert(ctx context.Context, ownerID int64, eventType model.EventType, payload []byte) (int64, error) {
	const q = `
		INSERT INTO events
		    (owner_id, event_type, payload, status, attempts, created_at, updated_at)
		VALUES
		    (?,        ?,          ?,       'pending', 0,     NOW(),     NOW())
	`
	res, err := r.db.ExecContext(ctx, q, ownerID, eventType.String(), payload)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	return res.LastInsertId()
}

// ClaimDue selects due rows FOR UPDATE SKIP LOCKED and stamps the lease inside
// one short transaction. The row lock is released at commit, strictly before
// any network call is made against the claimed events.
func (r *EventsRepositoryImpl) ClaimDue(ctx context.Context, limit int, leaseTTLSeconds int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	if leaseTTLSeconds <= 0 {
		leaseTTLSeconds = 60
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	const selectQ = `
		SELECT ` + eventColumns + `
		  FROM events
		 WHERE status = 'pending'
		   AND (claimed_until IS NULL OR claimed_until <= NOW())
		 ORDER BY created_at ASC
		 LIMIT ?
		   FOR UPDATE SKIP LOCKED
	`
	var events []model.Event
	if err := tx.SelectContext(ctx, &events, selectQ, limit); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	const claimQ = `
		UPDATE events
		   SET claimed_until = DATE_ADD(NOW(), INTERVAL ? SECOND)
		 WHERE id IN (?)
	`
	query, args, err := sqlx.In(claimQ, leaseTTLSeconds, ids)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	var e model.Event
	err := r.db.GetContext(ctx, &e, `
		SELECT `+eventColumns+`
		  FROM events
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EventsRepositoryImpl) MarkSent(ctx context.Context, id int64) error {
	const q = `
		UPDATE events
		   SET status = 'sent', claimed_until = NULL, updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *EventsRepositoryImpl) MarkFailed(ctx context.Context, id int64, reason string) error {
	const q = `
		UPDATE events
		   SET status = 'failed', last_error = ?, claimed_until = NULL, updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, reason, id)
	return err
}

func (r *EventsRepositoryImpl) IncrementAttempts(ctx context.Context, id int64, errMsg string) error {
	const q = `
		UPDATE events
		   SET attempts = attempts + 1, last_error = ?, claimed_until = NULL, updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, errMsg, id)
	return err
}

func (r *EventsRepositoryImpl) ReleaseClaim(ctx context.Context, id int64) error {
	const q = `
		UPDATE events
		   SET claimed_until = NULL
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *EventsRepositoryImpl) ResetPending(ctx context.Context, id int64) error {
	const q = `
		UPDATE events
		   SET status = 'pending', claimed_until = NULL, updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *EventsRepositoryImpl) ResetAllFailed(ctx context.Context) (int64, error) {
	const q = `
		UPDATE events
		   SET status = 'pending', claimed_until = NULL, updated_at = NOW()
		 WHERE status = 'failed'
	`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MaxListRows bounds any single read. Sized for the CSV export, which pulls
// up to 10000 rows in one query; the paginated list endpoint enforces its own
// smaller page ceiling.
const MaxListRows = 10000

func clampListLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > MaxListRows {
		return MaxListRows
	}
	return limit
}

// ListByStatus returns newest first, matching the reporting surface.
func (r *EventsRepositoryImpl) ListByStatus(ctx context.Context, status string, limit, offset int) ([]model.Event, error) {
	limit = clampListLimit(limit)
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}

	if status != StatusAll {
		q += ` WHERE status = ?`
		args = append(args, status)
	}

	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var events []model.Event
	if err := r.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventsRepositoryImpl) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	if status == StatusAll {
		err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM events`)
		return n, err
	}
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM events WHERE status = ?`, status)
	return n, err
}

func (r *EventsRepositoryImpl) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = 30
	}
	const q = `
		DELETE FROM events
		 WHERE status = 'sent'
		   AND created_at < DATE_SUB(NOW(), INTERVAL ? DAY)
	`
	res, err := r.db.ExecContext(ctx, q, days)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
