package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionCursor tracks how far into a session transcript processing has
// advanced. One row per session; the offset only ever grows except
// through an explicit reset.
type SessionCursor struct {
	SessionID       string    `json:"session_id"`
	TranscriptPath  string    `json:"transcript_path"`
	ByteOffset      int64     `json:"byte_offset"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// GetCursor returns the cursor for a session, or nil when the session
// has never been processed.
func (d *DB) GetCursor(ctx context.Context, sessionID string) (*SessionCursor, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT session_id, transcript_path, byte_offset, last_processed_at
		 FROM session_cursors WHERE session_id = ?`, sessionID)
	var c SessionCursor
	var processedAt string
	if err := row.Scan(&c.SessionID, &c.TranscriptPath, &c.ByteOffset, &processedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: get cursor: %w", err)
	}
	c.LastProcessedAt = parseTime(processedAt)
	return &c, nil
}

// AdvanceCursor records progress for a session. Monotonicity is
// enforced in SQL: a racing writer with an older offset for the same
// transcript cannot move the cursor backwards. Switching to a new
// transcript path takes the new offset as-is.
func (d *DB) AdvanceCursor(ctx context.Context, sessionID, transcriptPath string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("state: negative cursor offset %d", offset)
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO session_cursors (session_id, transcript_path, byte_offset, last_processed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   transcript_path   = excluded.transcript_path,
		   byte_offset       = CASE
		     WHEN transcript_path = excluded.transcript_path THEN MAX(byte_offset, excluded.byte_offset)
		     ELSE excluded.byte_offset
		   END,
		   last_processed_at = excluded.last_processed_at`,
		sessionID, transcriptPath, offset, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("state: advance cursor: %w", err)
	}
	return nil
}

// ResetCursor forces the cursor back to zero so the next reflection
// reprocesses the whole transcript. This is the only sanctioned way to
// move a cursor backwards.
func (d *DB) ResetCursor(ctx context.Context, sessionID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE session_cursors SET byte_offset = 0, last_processed_at = ? WHERE session_id = ?`,
		formatTime(d.now()), sessionID)
	if err != nil {
		return fmt.Errorf("state: reset cursor: %w", err)
	}
	return nil
}

// ListCursors returns all session cursors, most recently processed first.
func (d *DB) ListCursors(ctx context.Context) ([]SessionCursor, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT session_id, transcript_path, byte_offset, last_processed_at
		 FROM session_cursors ORDER BY last_processed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("state: list cursors: %w", err)
	}
	defer rows.Close()

	var out []SessionCursor
	for rows.Next() {
		var c SessionCursor
		var processedAt string
		if err := rows.Scan(&c.SessionID, &c.TranscriptPath, &c.ByteOffset, &processedAt); err != nil {
			return nil, err
		}
		c.LastProcessedAt = parseTime(processedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
