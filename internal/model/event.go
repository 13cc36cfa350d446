package model

import (
	"database/sql"
	"strings"
	"time"
)

type EventStatus string

const (
	StatusPending EventStatus = "pending"
	StatusSent    EventStatus = "sent"
	StatusFailed  EventStatus = "failed"
)

func (s EventStatus) String() string {
	return string(s)
}

func (s EventStatus) Valid() bool {
	return s == StatusPending || s == StatusSent || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Manual retry is the only path from failed back to pending; sent is
// terminal except for the identity transition.
func (s EventStatus) CanTransition(next EventStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusSent || next == StatusFailed
	case StatusFailed:
		return next == StatusFailed || next == StatusPending
	case StatusSent:
		return next == StatusSent
	default:
		return false
	}
}

type EventType string

const (
	EventTypePurchase EventType = "purchase"
	EventTypeRefund   EventType = "refund"
)

func (t EventType) String() string { return string(t) }

// ParseEventType normalizes input. Unknown types are accepted and passed
// through the transformer best-effort, so this only rejects blanks.
func ParseEventType(s string) (EventType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", false
	}
	return EventType(v), true
}

// Event is the DB entity persisted in the events table.
type Event struct {
	ID           int64          `db:"id"`
	OwnerID      int64          `db:"owner_id"`
	EventType    EventType      `db:"event_type"`
	Payload      []byte         `db:"payload"`
	Status       EventStatus    `db:"status"`
	Attempts     int            `db:"attempts"`
	LastError    sql.NullString `db:"last_error"`
	ClaimedUntil sql.NullTime   `db:"claimed_until"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}
