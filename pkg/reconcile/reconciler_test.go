package reconcile

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/status"
)

func newTestStore(t *testing.T) db.Service {
	t.Helper()

	svc, err := db.New(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Close()
	})

	return svc
}

func seedDevice(t *testing.T, svc db.Service, serial string, st status.Status, ts time.Time) int64 {
	t.Helper()

	result, err := svc.Exec(
		"INSERT INTO pcs (serial_number, status, ts, ip) VALUES (?, ?, ?, '10.0.0.1')",
		serial, string(st), ts.UTC())
	require.NoError(t, err)

	id, err := result.LastInsertId()
	require.NoError(t, err)

	return id
}

func newTestReconciler(store Store, now time.Time) *Reconciler {
	r := New(store, Config{DefaultThreshold: 5 * time.Second}, zerolog.Nop())
	r.now = func() time.Time { return now }

	return r
}

func TestTickEscalatesStaleNormal(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	ts := now.Add(-10 * time.Second)
	id := seedDevice(t, store, "SN000001", status.Normal, ts)

	require.NoError(t, store.SetTimeOver(5))

	r := newTestReconciler(store, now)
	r.tick()

	d, err := store.GetDeviceBySerial("SN000001")
	require.NoError(t, err)
	assert.Equal(t, status.Shutdown, d.Status)

	logged, err := store.ListTransitions(db.TransitionFilter{})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, id, logged[0].PCID)
	assert.Equal(t, status.Shutdown, logged[0].Status)
	assert.Equal(t, ts, logged[0].Timestamp.UTC())

	assert.True(t, r.prevShutdown[id], "escalated device belongs to this tick's snapshot")
}

func TestTickShutdownIsSticky(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	id := seedDevice(t, store, "SN000001", status.Shutdown, now.Add(-time.Hour))

	r := newTestReconciler(store, now)
	r.tick()
	r.tick()

	d, err := store.GetDeviceBySerial("SN000001")
	require.NoError(t, err)
	assert.Equal(t, status.Shutdown, d.Status)

	// The log entry is deduplicated across ticks.
	logged, err := store.ListTransitions(db.TransitionFilter{})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, id, logged[0].PCID)
}

func TestTickEscalatesUnsetToUnknown(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	seedDevice(t, store, "SN000001", status.Unset, now.Add(-time.Hour))

	r := newTestReconciler(store, now)
	r.tick()

	d, err := store.GetDeviceBySerial("SN000001")
	require.NoError(t, err)
	assert.Equal(t, status.Unknown, d.Status)
}

func TestTickLeavesWarningAlone(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	seedDevice(t, store, "SN000001", status.Warning, now.Add(-time.Hour))

	r := newTestReconciler(store, now)
	r.tick()

	d, err := store.GetDeviceBySerial("SN000001")
	require.NoError(t, err)
	assert.Equal(t, status.Warning, d.Status)

	logged, err := store.ListTransitions(db.TransitionFilter{})
	require.NoError(t, err)
	assert.Empty(t, logged)
}

func TestTickFreshDevicesUntouched(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	seedDevice(t, store, "SN000001", status.Normal, now.Add(-2*time.Second))

	r := newTestReconciler(store, now)
	r.tick()

	d, err := store.GetDeviceBySerial("SN000001")
	require.NoError(t, err)
	assert.Equal(t, status.Normal, d.Status)
}

func TestShutdownRecoveryScenario(t *testing.T) {
	// End to end: silent device escalates, reports back Normal, and the
	// next tick logs a recovery and drops it from the snapshot.
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	reportTS := now.Add(-10 * time.Second)
	id := seedDevice(t, store, "SN000001", status.Normal, reportTS)

	require.NoError(t, store.SetTimeOver(5))

	r := newTestReconciler(store, now)
	r.tick()

	logged, err := store.ListTransitions(db.TransitionFilter{})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, status.Shutdown, logged[0].Status)
	require.True(t, r.prevShutdown[id])

	// Device comes back: a flushed report sets status and a fresh ts.
	recoveredTS := now.Add(2 * time.Second)
	tx, err := store.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpdateDeviceReport(tx, "SN000001", status.Normal, recoveredTS, "10.0.0.1"))
	require.NoError(t, tx.Commit())

	r.now = func() time.Time { return now.Add(5 * time.Second) }
	r.tick()

	logged, err = store.ListTransitions(db.TransitionFilter{})
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, status.Normal, logged[0].Status)
	assert.Equal(t, recoveredTS, logged[0].Timestamp.UTC())

	assert.False(t, r.prevShutdown[id], "recovered device left the snapshot")

	// A third tick must not duplicate the recovery entry.
	r.tick()

	logged, err = store.ListTransitions(db.TransitionFilter{})
	require.NoError(t, err)
	assert.Len(t, logged, 2)
}

func TestTickAbandonedOnListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := db.NewMockService(ctrl)
	mockStore.EXPECT().GetTimeOver().Return(5, nil)
	mockStore.EXPECT().ListDevices().Return(nil, db.ErrDatabaseError)

	r := New(mockStore, Config{}, zerolog.Nop())
	r.prevShutdown[42] = true

	r.tick()

	// Snapshots survive an abandoned tick so the next tick can still
	// detect the recovery.
	assert.True(t, r.prevShutdown[42])
}

func TestThresholdFallsBackToDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := db.NewMockService(ctrl)
	mockStore.EXPECT().GetTimeOver().Return(0, db.ErrDatabaseError)

	r := New(mockStore, Config{DefaultThreshold: 7 * time.Second}, zerolog.Nop())

	assert.Equal(t, 7*time.Second, r.threshold())
}

func TestTickSkippedWhileRunning(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	seedDevice(t, store, "SN000001", status.Normal, now.Add(-time.Hour))

	r := newTestReconciler(store, now)
	r.running.Store(true)
	r.tick()

	// Nothing happened: the overlapping tick was skipped.
	d, err := store.GetDeviceBySerial("SN000001")
	require.NoError(t, err)
	assert.Equal(t, status.Normal, d.Status)
}
