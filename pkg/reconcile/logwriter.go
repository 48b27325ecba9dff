package reconcile

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetmon/fleetmon/pkg/status"
)

// LogWriter appends status transitions to the log at most once per
// (device, status, timestamp) occurrence.
type LogWriter struct {
	store Store
	log   zerolog.Logger
}

// NewLogWriter creates a LogWriter over the store.
func NewLogWriter(store Store, log zerolog.Logger) *LogWriter {
	return &LogWriter{
		store: store,
		log:   log.With().Str("component", "log_writer").Logger(),
	}
}

// RecordIfAbsent inserts a transition row unless an identical
// (pcID, status, timestamp) row already exists. The exists-then-insert
// sequence is not atomic; under truly concurrent writers both can pass the
// check and a duplicate row lands. Tolerated: the log is an audit trail and
// the reconciler, its only regular writer, never overlaps its own ticks.
func (w *LogWriter) RecordIfAbsent(pcID int64, st status.Status, ts time.Time) error {
	exists, err := w.store.TransitionExists(pcID, st, ts)
	if err != nil {
		return fmt.Errorf("check transition: %w", err)
	}

	if exists {
		return nil
	}

	if err := w.store.InsertTransition(pcID, st, ts); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	w.log.Info().Int64("pc_id", pcID).Str("status", string(st)).
		Time("ts", ts).Msg("transition recorded")

	return nil
}
