package hierarchy

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/pkg/db"
)

type fakeStore struct {
	groups []db.Group
	err    error
	calls  int
}

func (f *fakeStore) ListGroups() ([]db.Group, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	return f.groups, nil
}

func TestDescendantsIncludesSelf(t *testing.T) {
	store := &fakeStore{groups: []db.Group{
		{ID: 1, Name: "root"},
		{ID: 2, Name: "child", ParentID: 1},
	}}

	r := New(store, time.Minute)

	got, err := r.Descendants(2)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{2: true}, got)
}

func TestDescendantsWalksSubtree(t *testing.T) {
	store := &fakeStore{groups: []db.Group{
		{ID: 1, Name: "hq"},
		{ID: 2, Name: "floor-1", ParentID: 1},
		{ID: 3, Name: "floor-2", ParentID: 1},
		{ID: 4, Name: "lab", ParentID: 2},
		{ID: 5, Name: "annex"},
	}}

	r := New(store, time.Minute)

	got, err := r.Descendants(1)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true, 4: true}, got)

	got, err = r.Descendants(5)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{5: true}, got)
}

func TestDescendantsUnknownGroup(t *testing.T) {
	store := &fakeStore{groups: []db.Group{{ID: 1, Name: "only"}}}

	r := New(store, time.Minute)

	got, err := r.Descendants(99)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{99: true}, got)

	known, err := r.Known(99)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestDescendantsSurvivesCycle(t *testing.T) {
	// Corrupt data: 1 -> 2 -> 3 -> 1.
	store := &fakeStore{groups: []db.Group{
		{ID: 1, ParentID: 3},
		{ID: 2, ParentID: 1},
		{ID: 3, ParentID: 2},
	}}

	r := New(store, time.Minute)

	got, err := r.Descendants(1)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, got)
}

func TestDescendantsDeepTree(t *testing.T) {
	const nodes = 1000

	groups := make([]db.Group, 0, nodes)
	for i := int64(1); i <= nodes; i++ {
		g := db.Group{ID: i, Name: fmt.Sprintf("g%d", i)}
		if i > 1 {
			g.ParentID = i / 2
		}

		groups = append(groups, g)
	}

	r := New(&fakeStore{groups: groups}, time.Minute)

	got, err := r.Descendants(1)
	require.NoError(t, err)
	assert.Len(t, got, nodes)

	ids, err := r.DescendantIDs(1)
	require.NoError(t, err)
	assert.Len(t, ids, nodes)
}

func TestSnapshotCachedUntilTTL(t *testing.T) {
	store := &fakeStore{groups: []db.Group{{ID: 1}}}

	r := New(store, time.Minute)

	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	_, err := r.Descendants(1)
	require.NoError(t, err)
	_, err = r.Descendants(1)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	clock = clock.Add(2 * time.Minute)

	_, err = r.Descendants(1)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestInvalidateForcesReload(t *testing.T) {
	store := &fakeStore{groups: []db.Group{{ID: 1}}}

	r := New(store, time.Minute)

	_, err := r.Descendants(1)
	require.NoError(t, err)

	r.Invalidate()

	_, err = r.Descendants(1)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestStaleCacheServedOnLoadError(t *testing.T) {
	store := &fakeStore{groups: []db.Group{{ID: 1}, {ID: 2, ParentID: 1}}}

	r := New(store, time.Minute)

	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	_, err := r.Descendants(1)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	store.err = errors.New("db closed")

	got, err := r.Descendants(1)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 2: true}, got)
}

func TestLoadErrorWithoutCache(t *testing.T) {
	store := &fakeStore{err: errors.New("db closed")}

	r := New(store, time.Minute)

	_, err := r.Descendants(1)
	require.Error(t, err)
}
