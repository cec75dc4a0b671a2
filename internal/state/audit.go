package state

import (
	"context"
	"fmt"
	"time"
)

// Transition is one audit-log row recording a curator state change.
type Transition struct {
	ID        int64     `json:"id"`
	RecordID  string    `json:"record_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	At        time.Time `json:"at"`
}

// AppendTransition records a state change for auditability.
func (d *DB) AppendTransition(ctx context.Context, recordID, fromState, toState string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO transitions (record_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		recordID, fromState, toState, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("state: append transition: %w", err)
	}
	return nil
}

// ListTransitions returns the audit trail for one record, oldest first.
// An empty recordID returns the most recent transitions across all
// records, newest first, capped at limit.
func (d *DB) ListTransitions(ctx context.Context, recordID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, record_id, from_state, to_state, at FROM transitions WHERE record_id = ? ORDER BY id ASC LIMIT ?`
	args := []any{recordID, limit}
	if recordID == "" {
		query = `SELECT id, record_id, from_state, to_state, at FROM transitions ORDER BY id DESC LIMIT ?`
		args = []any{limit}
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at string
		if err := rows.Scan(&t.ID, &t.RecordID, &t.FromState, &t.ToState, &at); err != nil {
			return nil, err
		}
		t.At = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}
