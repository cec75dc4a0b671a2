package curator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/store"
)

var (
	// ErrArchived is returned when a transition targets an archived
	// learning. Archived records only leave that state through review
	// of a fresh replacement, never by promotion.
	ErrArchived = errors.New("curator: learning is archived")

	// ErrNotPending is returned when Review targets a learning that is
	// not awaiting review.
	ErrNotPending = errors.New("curator: learning is not pending review")
)

// Promote raises a learning's confidence one level. Promoting a record
// already at high confidence is a no-op, not an error.
func (c *Curator) Promote(ctx context.Context, id string) (*store.Learning, error) {
	rec, err := c.records.GetLearning(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.StatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrArchived, id)
	}

	next := raiseConfidence(rec.Confidence)
	if next == rec.Confidence {
		c.logger.Debug("promote is a no-op at high confidence",
			zap.String("id", rec.ID))
		return rec, nil
	}

	from := stateLabel(rec)
	rec.Confidence = next
	rec.LastConfirmedAt = c.now()
	if err := c.records.SaveLearning(ctx, rec); err != nil {
		return nil, err
	}
	c.audit(ctx, rec.ID, from, stateLabel(rec))
	c.notifyIndex(ctx, rec.ID)
	c.logger.Info("learning promoted",
		zap.String("id", rec.ID),
		zap.String("from", from),
		zap.String("to", stateLabel(rec)))
	return rec, nil
}

// Demote lowers a learning's confidence one level. Demoting a record
// already at low confidence archives it.
func (c *Curator) Demote(ctx context.Context, id string) (*store.Learning, error) {
	rec, err := c.records.GetLearning(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.StatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrArchived, id)
	}

	from := stateLabel(rec)
	if rec.Confidence == store.ConfidenceLow {
		rec.Status = store.StatusArchived
	} else {
		rec.Confidence = lowerConfidence(rec.Confidence)
	}
	if err := c.records.SaveLearning(ctx, rec); err != nil {
		return nil, err
	}
	c.audit(ctx, rec.ID, from, stateLabel(rec))
	c.notifyIndex(ctx, rec.ID)
	c.logger.Info("learning demoted",
		zap.String("id", rec.ID),
		zap.String("from", from),
		zap.String("to", stateLabel(rec)))
	return rec, nil
}

// Review resolves a pending learning: accept activates it, reject
// archives it.
func (c *Curator) Review(ctx context.Context, id string, accept bool) (*store.Learning, error) {
	rec, err := c.records.GetLearning(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, rec.Status)
	}

	from := stateLabel(rec)
	if accept {
		rec.Status = store.StatusActive
	} else {
		rec.Status = store.StatusArchived
	}
	rec.LastConfirmedAt = c.now()
	if err := c.records.SaveLearning(ctx, rec); err != nil {
		return nil, err
	}
	c.audit(ctx, rec.ID, from, stateLabel(rec))
	c.notifyIndex(ctx, rec.ID)
	c.logger.Info("pending learning reviewed",
		zap.String("id", rec.ID),
		zap.Bool("accepted", accept))
	return rec, nil
}

// Archive retires a learning regardless of its current state. Archiving
// an archived record is a no-op.
func (c *Curator) Archive(ctx context.Context, id string) (*store.Learning, error) {
	rec, err := c.records.GetLearning(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.StatusArchived {
		return rec, nil
	}

	from := stateLabel(rec)
	rec.Status = store.StatusArchived
	if err := c.records.SaveLearning(ctx, rec); err != nil {
		return nil, err
	}
	c.audit(ctx, rec.ID, from, stateLabel(rec))
	c.notifyIndex(ctx, rec.ID)
	c.logger.Info("learning archived", zap.String("id", rec.ID))
	return rec, nil
}

// stateLabel renders the audit-log form of a learning's state, e.g.
// "active(high)" or "archived".
func stateLabel(rec *store.Learning) string {
	if rec.Status == store.StatusArchived {
		return string(store.StatusArchived)
	}
	return fmt.Sprintf("%s(%s)", rec.Status, rec.Confidence)
}

func raiseConfidence(c store.Confidence) store.Confidence {
	switch c {
	case store.ConfidenceLow:
		return store.ConfidenceMedium
	case store.ConfidenceMedium:
		return store.ConfidenceHigh
	default:
		return c
	}
}

func lowerConfidence(c store.Confidence) store.Confidence {
	switch c {
	case store.ConfidenceHigh:
		return store.ConfidenceMedium
	case store.ConfidenceMedium:
		return store.ConfidenceLow
	default:
		return c
	}
}
