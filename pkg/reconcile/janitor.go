package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultCleanInterval = time.Hour

// Cleaner is the maintenance half of db.Service the janitor needs.
type Cleaner interface {
	CleanOldTransitions(retentionPeriod time.Duration) error
}

// Janitor periodically trims status log rows past the retention period.
type Janitor struct {
	store     Cleaner
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	done      chan struct{}
}

// NewJanitor creates a Janitor. A zero interval means hourly; a zero
// retention disables cleanup entirely.
func NewJanitor(store Cleaner, retention, interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultCleanInterval
	}

	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "janitor").Logger(),
		done:      make(chan struct{}),
	}
}

// Start runs the cleanup loop until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	if j.retention <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.done:
			return nil
		}
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.done:
			return nil
		case <-ticker.C:
			if err := j.store.CleanOldTransitions(j.retention); err != nil {
				j.log.Error().Err(err).Msg("cleanup failed")
			}
		}
	}
}

// Stop terminates the cleanup loop.
func (j *Janitor) Stop(_ context.Context) error {
	select {
	case <-j.done:
	default:
		close(j.done)
	}

	return nil
}
