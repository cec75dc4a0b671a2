package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TriggerCounters holds the per-session firing state for automatic
// reflection: how many messages have arrived since the last fire, and
// when that fire happened.
type TriggerCounters struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	LastFireAt   time.Time `json:"last_fire_at"`
}

// GetCounters returns the counters for a session. A session that has
// never been seen gets zero counters, not an error.
func (d *DB) GetCounters(ctx context.Context, sessionID string) (*TriggerCounters, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT session_id, message_count, last_fire_at
		 FROM trigger_counters WHERE session_id = ?`, sessionID)
	var c TriggerCounters
	var fireAt sql.NullString
	if err := row.Scan(&c.SessionID, &c.MessageCount, &fireAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &TriggerCounters{SessionID: sessionID}, nil
		}
		return nil, fmt.Errorf("state: get counters: %w", err)
	}
	if fireAt.Valid {
		c.LastFireAt = parseTime(fireAt.String)
	}
	return &c, nil
}

// IncrementMessages bumps the message counter atomically and returns
// the updated counters. Two racing processes each observe a distinct
// count because the upsert and read happen in one statement.
func (d *DB) IncrementMessages(ctx context.Context, sessionID string) (*TriggerCounters, error) {
	row := d.db.QueryRowContext(ctx,
		`INSERT INTO trigger_counters (session_id, message_count)
		 VALUES (?, 1)
		 ON CONFLICT(session_id) DO UPDATE SET message_count = message_count + 1
		 RETURNING session_id, message_count, last_fire_at`, sessionID)
	var c TriggerCounters
	var fireAt sql.NullString
	if err := row.Scan(&c.SessionID, &c.MessageCount, &fireAt); err != nil {
		return nil, fmt.Errorf("state: increment messages: %w", err)
	}
	if fireAt.Valid {
		c.LastFireAt = parseTime(fireAt.String)
	}
	return &c, nil
}

// MarkFired resets the message counter and stamps the fire time.
func (d *DB) MarkFired(ctx context.Context, sessionID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO trigger_counters (session_id, message_count, last_fire_at)
		 VALUES (?, 0, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   message_count = 0,
		   last_fire_at  = excluded.last_fire_at`,
		sessionID, nullableTime(at))
	if err != nil {
		return fmt.Errorf("state: mark fired: %w", err)
	}
	return nil
}
