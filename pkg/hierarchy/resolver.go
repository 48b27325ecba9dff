// Package hierarchy resolves group descendant closures over the group
// tree. Groups form a forest via parent pointers; the resolver loads the
// whole forest once, indexes children, and answers closure queries in
// memory.
package hierarchy

import (
	"sync"
	"time"

	"github.com/fleetmon/fleetmon/pkg/db"
)

const defaultCacheTTL = 30 * time.Second

// Store is the slice of db.Service the resolver needs.
type Store interface {
	ListGroups() ([]db.Group, error)
}

// Resolver answers descendant-closure queries over a cached group
// snapshot. The cache expires after a TTL; Invalidate drops it early when
// the group tree is mutated externally.
type Resolver struct {
	store Store
	ttl   time.Duration

	mu       sync.Mutex
	children map[int64][]int64
	known    map[int64]bool
	loadedAt time.Time

	now func() time.Time
}

// New creates a Resolver. A non-positive ttl falls back to the default.
func New(store Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Resolver{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Descendants returns the ids of the group and every transitive child.
// Unknown group ids yield a singleton set containing only the id itself;
// corrupt (cyclic) parent data cannot loop the walk thanks to the visited
// set.
func (r *Resolver) Descendants(groupID int64) (map[int64]bool, error) {
	children, _, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	return walk(children, groupID), nil
}

// DescendantIDs is Descendants flattened to a slice, convenient for SQL
// IN clauses.
func (r *Resolver) DescendantIDs(groupID int64) ([]int64, error) {
	set, err := r.Descendants(groupID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	return ids, nil
}

// Known reports whether the group id exists in the loaded forest.
func (r *Resolver) Known(groupID int64) (bool, error) {
	_, known, err := r.snapshot()
	if err != nil {
		return false, err
	}

	return known[groupID], nil
}

// Invalidate drops the cached snapshot; the next query reloads.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.children = nil
	r.known = nil
}

func (r *Resolver) snapshot() (map[int64][]int64, map[int64]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.children != nil && r.now().Sub(r.loadedAt) < r.ttl {
		return r.children, r.known, nil
	}

	groups, err := r.store.ListGroups()
	if err != nil {
		// Serve the stale cache if there is one; a hierarchy snapshot a
		// little past its TTL beats failing the caller.
		if r.children != nil {
			return r.children, r.known, nil
		}

		return nil, nil, err
	}

	children := make(map[int64][]int64, len(groups))
	known := make(map[int64]bool, len(groups))

	for _, g := range groups {
		known[g.ID] = true
		if g.ParentID != 0 {
			children[g.ParentID] = append(children[g.ParentID], g.ID)
		}
	}

	r.children = children
	r.known = known
	r.loadedAt = r.now()

	return children, known, nil
}

// walk computes the closure iteratively. The visited set doubles as the
// result and as the loop guard for corrupt data.
func walk(children map[int64][]int64, root int64) map[int64]bool {
	visited := map[int64]bool{root: true}
	stack := []int64{root}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, child := range children[current] {
			if visited[child] {
				continue
			}

			visited[child] = true
			stack = append(stack, child)
		}
	}

	return visited
}
