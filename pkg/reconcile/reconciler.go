// Package reconcile runs the periodic staleness scan: devices that stop
// reporting are escalated (Normal -> Shutdown, unset -> Unknown), and
// recoveries are detected by comparing each tick against the previous
// tick's shutdown/unknown snapshot.
package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/status"
)

const defaultInterval = 5 * time.Second

// Config holds the reconciler's tunables.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// DefaultThreshold is the staleness threshold used when the stored
	// setting cannot be read.
	DefaultThreshold time.Duration
}

// Reconciler owns the staleness scan and the previous-cycle snapshots. The
// snapshots are instance state, created empty at construction and replaced
// wholesale each tick; losing them on restart only costs a recovered-log
// entry, never correctness.
//
// The staleness threshold is global (the stored time_over setting). The
// per-device period column is carried for operators but deliberately not
// consulted here.
type Reconciler struct {
	store  Store
	writer *LogWriter
	log    zerolog.Logger
	cfg    Config

	running atomic.Bool
	done    chan struct{}

	prevShutdown map[int64]bool
	prevUnknown  map[int64]bool

	now func() time.Time
}

// New creates a Reconciler. Start must be called to begin ticking.
func New(store Store, cfg Config, log zerolog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = db.DefaultTimeOverSeconds * time.Second
	}

	return &Reconciler{
		store:        store,
		writer:       NewLogWriter(store, log),
		log:          log.With().Str("component", "reconciler").Logger(),
		cfg:          cfg,
		done:         make(chan struct{}),
		prevShutdown: make(map[int64]bool),
		prevUnknown:  make(map[int64]bool),
		now:          time.Now,
	}
}

// Start runs the tick loop until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.C:
			r.tick()
		}
	}
}

// Stop terminates the tick loop.
func (r *Reconciler) Stop(_ context.Context) error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}

	return nil
}

// threshold reads the operator-configured staleness threshold, once per
// tick. Read errors fall back to the default so a storage hiccup can't
// freeze escalation at a garbage value.
func (r *Reconciler) threshold() time.Duration {
	seconds, err := r.store.GetTimeOver()
	if err != nil || seconds <= 0 {
		if err != nil {
			r.log.Warn().Err(err).Msg("reading time_over failed, using default")
		}

		return r.cfg.DefaultThreshold
	}

	return time.Duration(seconds) * time.Second
}

// tick runs one reconciliation pass. Ticks never overlap; a tick that
// lands while the previous one is still running is skipped. Storage errors
// abandon the tick, leaving the snapshots untouched so the next tick
// retries from scratch against current state.
func (r *Reconciler) tick() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)

	threshold := r.threshold()

	devices, err := r.store.ListDevices()
	if err != nil {
		r.log.Error().Err(err).Msg("listing devices failed, abandoning tick")
		return
	}

	now := r.now()
	newShutdown := make(map[int64]bool)
	newUnknown := make(map[int64]bool)

	for i := range devices {
		d := &devices[i]

		switch d.Status {
		case status.Shutdown:
			newShutdown[d.ID] = true
		case status.Unknown:
			newUnknown[d.ID] = true
		}

		if now.Sub(d.TS) <= threshold {
			continue
		}

		if abandoned := r.escalate(d, newShutdown, newUnknown); abandoned {
			return
		}
	}

	r.detectRecoveries(devices)

	r.prevShutdown = newShutdown
	r.prevUnknown = newUnknown
}

// escalate applies the staleness policy to one stale device. It returns
// true when a storage error means the tick must be abandoned.
func (r *Reconciler) escalate(d *db.Device, newShutdown, newUnknown map[int64]bool) bool {
	switch d.Status {
	case status.Normal:
		if err := r.store.UpdateDeviceStatus(d.ID, status.Shutdown); err != nil {
			r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("escalation failed, abandoning tick")
			return true
		}

		r.log.Info().Int64("pc_id", d.ID).Str("serial", d.SerialNumber).
			Msg("stale device: Normal -> Shutdown")

		if err := r.writer.RecordIfAbsent(d.ID, status.Shutdown, d.TS); err != nil {
			r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("recording shutdown failed, abandoning tick")
			return true
		}

		newShutdown[d.ID] = true

	case status.Unset:
		if err := r.store.UpdateDeviceStatus(d.ID, status.Unknown); err != nil {
			r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("escalation failed, abandoning tick")
			return true
		}

		r.log.Info().Int64("pc_id", d.ID).Str("serial", d.SerialNumber).
			Msg("stale device: unset -> Unknown")

		if err := r.writer.RecordIfAbsent(d.ID, status.Unknown, d.TS); err != nil {
			r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("recording unknown failed, abandoning tick")
			return true
		}

		newUnknown[d.ID] = true

	case status.Shutdown:
		// Sticky: staleness keeps a shutdown device shut down. The log
		// entry is still attempted in case an earlier tick failed.
		if err := r.writer.RecordIfAbsent(d.ID, status.Shutdown, d.TS); err != nil {
			r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("recording shutdown failed, abandoning tick")
			return true
		}

	case status.Unknown:
		if err := r.writer.RecordIfAbsent(d.ID, status.Unknown, d.TS); err != nil {
			r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("recording unknown failed, abandoning tick")
			return true
		}

	case status.Warning, status.Reset:
		// Operator-owned states; staleness never touches them.
	}

	return false
}

// detectRecoveries logs a Normal transition for every device that was in
// the previous tick's shutdown/unknown snapshot and has since reported
// Normal. Log failures here are not worth abandoning the tick over; the
// entry is cosmetic once the device is already Normal.
func (r *Reconciler) detectRecoveries(devices []db.Device) {
	byID := make(map[int64]*db.Device, len(devices))
	for i := range devices {
		byID[devices[i].ID] = &devices[i]
	}

	for id := range r.prevShutdown {
		r.recordRecovery(byID[id])
	}

	for id := range r.prevUnknown {
		r.recordRecovery(byID[id])
	}
}

func (r *Reconciler) recordRecovery(d *db.Device) {
	if d == nil || d.Status != status.Normal {
		return
	}

	if err := r.writer.RecordIfAbsent(d.ID, status.Normal, d.TS); err != nil {
		r.log.Error().Err(err).Int64("pc_id", d.ID).Msg("recording recovery failed")
		return
	}

	r.log.Info().Int64("pc_id", d.ID).Str("serial", d.SerialNumber).Msg("device recovered")
}
