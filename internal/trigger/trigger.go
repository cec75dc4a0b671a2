// Package trigger decides when a session has accumulated enough new
// conversation to be worth reflecting on.
//
// Two independent arms gate firing: a message-count threshold and a
// wall-clock interval since the last fire. Counters live in the state
// database so the short-lived hook invocations sharing a session see
// the same tally. The probe is a single row read; the heavier
// extraction pipeline only runs when a fire is reported.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/state"
)

const (
	// DefaultMessageThreshold fires a reflection every N recorded events.
	DefaultMessageThreshold = 10

	// DefaultInterval fires a reflection when this much wall-clock time
	// has passed since the previous one, regardless of message volume.
	DefaultInterval = 30 * time.Minute
)

// Reason names the arm that tripped a firing decision.
type Reason string

const (
	ReasonThreshold Reason = "threshold"
	ReasonInterval  Reason = "interval"
)

// Decision reports whether the capture pipeline should run and why.
type Decision struct {
	Fire     bool          `json:"fire"`
	Reason   Reason        `json:"reason,omitempty"`
	Messages int           `json:"messages"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// Config parameterizes a Controller. The zero value picks the defaults.
type Config struct {
	// MessageThreshold is the event count that trips a fire. Values
	// below one fall back to DefaultMessageThreshold.
	MessageThreshold int

	// Interval trips a fire when this much time has passed since the
	// last one. Values below one fall back to DefaultInterval. The arm
	// stays dormant until a session's first fire stamps a reference
	// time, so a brand-new session fires on volume, not on age.
	Interval time.Duration
}

// Options configures a Controller.
type Options struct {
	// States is the state database holding the counters. Required.
	States *state.DB

	Config Config
	Logger *zap.Logger
	Clock  func() time.Time
}

// Controller gates automatic reflection per session.
type Controller struct {
	states    *state.DB
	threshold int
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.States == nil {
		return nil, errors.New("trigger: state database is required")
	}
	c := &Controller{
		states:    opts.States,
		threshold: opts.Config.MessageThreshold,
		interval:  opts.Config.Interval,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
	if c.threshold < 1 {
		c.threshold = DefaultMessageThreshold
	}
	if c.interval < 1 {
		c.interval = DefaultInterval
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Record notes one inbound session event and decides whether to fire.
// Firing resets the counters, so ten recorded events against a
// threshold of ten fire exactly once.
func (c *Controller) Record(ctx context.Context, sessionID string) (*Decision, error) {
	counters, err := c.states.IncrementMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("trigger: recording event: %w", err)
	}
	d := c.evaluate(counters)
	if d.Fire {
		if err := c.Reset(ctx, sessionID); err != nil {
			return nil, err
		}
		c.logger.Debug("reflection trigger fired",
			zap.String("session_id", sessionID),
			zap.String("reason", string(d.Reason)),
			zap.Int("messages", d.Messages))
	}
	return d, nil
}

// Check reports what Record would decide without registering an event
// or resetting anything. This is the dry probe behind --check-threshold.
func (c *Controller) Check(ctx context.Context, sessionID string) (*Decision, error) {
	counters, err := c.states.GetCounters(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("trigger: checking counters: %w", err)
	}
	return c.evaluate(counters), nil
}

// Reset zeroes the message counter and stamps a fire time. Forced
// reflections call it directly so the next automatic fire waits a full
// cycle.
func (c *Controller) Reset(ctx context.Context, sessionID string) error {
	if err := c.states.MarkFired(ctx, sessionID, c.now().UTC()); err != nil {
		return fmt.Errorf("trigger: resetting counters: %w", err)
	}
	return nil
}

func (c *Controller) evaluate(counters *state.TriggerCounters) *Decision {
	d := &Decision{Messages: counters.MessageCount}
	if !counters.LastFireAt.IsZero() {
		d.Elapsed = c.now().Sub(counters.LastFireAt)
	}
	switch {
	case counters.MessageCount >= c.threshold:
		d.Fire = true
		d.Reason = ReasonThreshold
	case !counters.LastFireAt.IsZero() && d.Elapsed >= c.interval:
		d.Fire = true
		d.Reason = ReasonInterval
	}
	return d
}
