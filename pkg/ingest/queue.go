// Package ingest accepts raw device reports, classifies them and batches
// the resulting status updates into storage. Report handlers only ever pay
// for an in-memory enqueue; storage writes happen on the flush loop.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/status"
)

const (
	defaultFlushInterval = time.Second
	defaultBatchSize     = 100
	defaultMaxSize       = 10000
)

// Update is one classified status change waiting to be flushed.
type Update struct {
	SerialNumber string
	Status       status.Status
	IP           string
}

// Store is the slice of db.Service the queue needs.
type Store interface {
	Begin() (db.Transaction, error)
	FilterKnownSerials(tx db.Transaction, serials []string) (map[string]bool, error)
	UpdateDeviceReport(tx db.Transaction, serial string, st status.Status, ts time.Time, ip string) error
}

// QueueConfig holds the queue's tunables. Zero values fall back to the
// defaults above.
type QueueConfig struct {
	FlushInterval time.Duration
	BatchSize     int
	MaxSize       int
}

// Queue is a bounded FIFO batching buffer between report handlers and the
// device store. Add never blocks; overflow is logged and tolerated rather
// than refused, so sustained overload degrades to data loss instead of
// backpressure on devices.
type Queue struct {
	mu    sync.Mutex
	items []Update

	store    Store
	cfg      QueueConfig
	log      zerolog.Logger
	flushing atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewQueue creates a queue. Start must be called to begin flushing.
func NewQueue(store Store, cfg QueueConfig, log zerolog.Logger) *Queue {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}

	return &Queue{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "ingest_queue").Logger(),
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// Add enqueues updates. It returns immediately regardless of queue depth;
// past MaxSize it warns and keeps accepting.
func (q *Queue) Add(items []Update) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, items...)
	depth := len(q.items)
	q.mu.Unlock()

	if depth > q.cfg.MaxSize {
		q.log.Warn().Int("depth", depth).Int("max", q.cfg.MaxSize).
			Msg("queue depth exceeds configured maximum")
	}
}

// Size returns the current queued length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Start runs the flush loop until ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case <-ticker.C:
			q.flush()
		}
	}
}

// Stop terminates the flush loop. Queued items that were never flushed are
// dropped; ingestion is fire-and-forget by design.
func (q *Queue) Stop(_ context.Context) error {
	q.stopOnce.Do(func() {
		close(q.done)
	})

	return nil
}

// flush drains the queue in batches, one storage transaction per batch.
// Only one flush runs at a time; a tick that lands mid-flush is skipped
// rather than queued so storage never sees concurrent flush transactions.
func (q *Queue) flush() {
	if !q.flushing.CompareAndSwap(false, true) {
		return
	}
	defer q.flushing.Store(false)

	for {
		batch := q.takeBatch()
		if len(batch) == 0 {
			return
		}

		if err := q.flushBatch(batch); err != nil {
			// The batch is dropped, not re-queued: both the reconciler
			// and the next report self-heal device state, and retrying
			// would amplify storage pressure during an outage.
			q.log.Error().Err(err).Int("batch", len(batch)).
				Msg("flush batch failed, dropping")
		}
	}
}

func (q *Queue) takeBatch() []Update {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}

	if n > q.cfg.BatchSize {
		n = q.cfg.BatchSize
	}

	batch := make([]Update, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]

	return batch
}

func (q *Queue) flushBatch(batch []Update) error {
	tx, err := q.store.Begin()
	if err != nil {
		return err
	}

	var committed bool
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				q.log.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	serials := make([]string, 0, len(batch))
	for _, u := range batch {
		serials = append(serials, u.SerialNumber)
	}

	known, err := q.store.FilterKnownSerials(tx, serials)
	if err != nil {
		return err
	}

	now := q.now()

	for _, u := range batch {
		// Reports for unregistered serials are dropped, not
		// auto-registered.
		if !known[u.SerialNumber] {
			q.log.Debug().Str("serial", u.SerialNumber).Msg("dropping update for unknown serial")
			continue
		}

		if err := q.store.UpdateDeviceReport(tx, u.SerialNumber, u.Status, now, u.IP); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	committed = true

	return nil
}
