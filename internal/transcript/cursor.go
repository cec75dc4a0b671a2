package transcript

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/state"
)

// CursorStore is the persistence the cursor needs. *state.DB satisfies it.
type CursorStore interface {
	GetCursor(ctx context.Context, sessionID string) (*state.SessionCursor, error)
	AdvanceCursor(ctx context.Context, sessionID, transcriptPath string, offset int64) error
	ResetCursor(ctx context.Context, sessionID string) error
}

// Cursor combines the offset store with the reader: Advance returns
// only events past the last processed byte and persists the new
// position, so a session's events are delivered exactly once and
// strictly in offset order.
type Cursor struct {
	states CursorStore
	reader *Reader
	logger *zap.Logger
}

// NewCursor creates a session cursor over the given store.
func NewCursor(states CursorStore, logger *zap.Logger) *Cursor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cursor{
		states: states,
		reader: NewReader(logger),
		logger: logger,
	}
}

// Advance reads all new events for the session. transcriptPath may be
// empty when the session has been seen before; the stored path is used.
// A missing or unchanged transcript yields an empty slice, not an error.
func (c *Cursor) Advance(ctx context.Context, sessionID, transcriptPath string) ([]Event, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	cursor, err := c.states.GetCursor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	path := transcriptPath
	offset := int64(0)
	if cursor != nil {
		if path == "" {
			path = cursor.TranscriptPath
		}
		if path == cursor.TranscriptPath {
			offset = cursor.ByteOffset
		} else {
			// The session moved to a new transcript file; start it from
			// the beginning. Downstream fingerprint dedup absorbs any
			// re-observed statements.
			c.logger.Warn("transcript path changed for session, restarting cursor",
				zap.String("session_id", sessionID),
				zap.String("old_path", cursor.TranscriptPath),
				zap.String("new_path", path))
		}
	}
	if path == "" {
		return nil, nil
	}

	result, err := c.reader.ReadFrom(ctx, path, offset)
	if err != nil {
		return nil, err
	}
	for _, perr := range result.Errors {
		c.logger.Debug("transcript line skipped",
			zap.String("session_id", sessionID),
			zap.Int("line", perr.Line),
			zap.String("reason", perr.Error))
	}
	if result.NextOffset > offset || cursor == nil {
		if err := c.states.AdvanceCursor(ctx, sessionID, path, result.NextOffset); err != nil {
			return nil, err
		}
	}
	return result.Events, nil
}

// Reset rewinds the session cursor to zero for a forced reprocess.
func (c *Cursor) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return c.states.ResetCursor(ctx, sessionID)
}
