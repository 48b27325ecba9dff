// Package aggregate computes live status rollups and pushes them to
// stream subscribers on a fixed cadence.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultEmitInterval = 5 * time.Second

// Publisher periodically recomputes status rollups for subscribed
// streams. Each subscription runs its own emit loop; a failed compute is
// logged and the previous emit cadence continues.
type Publisher struct {
	store    Store
	resolver Resolver
	interval time.Duration
	log      zerolog.Logger

	now func() time.Time
}

// NewPublisher creates a Publisher. A non-positive interval falls back to
// the default.
func NewPublisher(store Store, resolver Resolver, interval time.Duration, log zerolog.Logger) *Publisher {
	if interval <= 0 {
		interval = defaultEmitInterval
	}

	return &Publisher{
		store:    store,
		resolver: resolver,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// FleetCounts computes the current fleet-wide breakdown.
func (p *Publisher) FleetCounts() (FleetSnapshot, error) {
	devices, err := p.store.ListDevices()
	if err != nil {
		return FleetSnapshot{}, err
	}

	return tally(devices, p.now()), nil
}

// GroupDevices computes the current bucketed device listing for a group
// subtree.
func (p *Publisher) GroupDevices(groupID int64) (GroupSnapshot, error) {
	set, err := p.resolver.Descendants(groupID)
	if err != nil {
		return GroupSnapshot{}, err
	}

	return p.groupDevices(groupID, setToIDs(set))
}

func (p *Publisher) groupDevices(groupID int64, ids []int64) (GroupSnapshot, error) {
	devices, err := p.store.ListDevicesByGroups(ids)
	if err != nil {
		return GroupSnapshot{}, err
	}

	return bucket(groupID, devices, p.now()), nil
}

// GroupCounts returns the device count per group, each count covering the
// group's whole subtree.
func (p *Publisher) GroupCounts() ([]GroupCount, error) {
	groups, err := p.store.ListGroups()
	if err != nil {
		return nil, err
	}

	counts := make([]GroupCount, 0, len(groups))

	for _, g := range groups {
		set, err := p.resolver.Descendants(g.ID)
		if err != nil {
			return nil, err
		}

		n, err := p.store.CountDevicesByGroups(setToIDs(set))
		if err != nil {
			return nil, err
		}

		counts = append(counts, GroupCount{GroupID: g.ID, Name: g.Name, Devices: n})
	}

	return counts, nil
}

// SubscribeFleet starts an emit loop pushing fleet snapshots to emit:
// one immediately, then one per interval until ctx ends or the returned
// cancel runs. emit is called from a single goroutine.
func (p *Publisher) SubscribeFleet(ctx context.Context, emit func(FleetSnapshot)) func() {
	return p.loop(ctx, func() error {
		snap, err := p.FleetCounts()
		if err != nil {
			return err
		}

		emit(snap)

		return nil
	})
}

// SubscribeGroup is SubscribeFleet for one group subtree. The descendant
// closure is resolved once at subscribe; resubscribe to pick up group
// tree changes.
func (p *Publisher) SubscribeGroup(ctx context.Context, groupID int64, emit func(GroupSnapshot)) (func(), error) {
	set, err := p.resolver.Descendants(groupID)
	if err != nil {
		return nil, err
	}

	ids := setToIDs(set)

	cancel := p.loop(ctx, func() error {
		snap, err := p.groupDevices(groupID, ids)
		if err != nil {
			return err
		}

		emit(snap)

		return nil
	})

	return cancel, nil
}

func (p *Publisher) loop(ctx context.Context, step func() error) func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		if err := step(); err != nil {
			p.log.Error().Err(err).Msg("Snapshot compute failed")
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := step(); err != nil {
					p.log.Error().Err(err).Msg("Snapshot compute failed")
				}
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() { close(done) })
	}
}

func setToIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
