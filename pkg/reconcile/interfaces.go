// Package reconcile pkg/reconcile/interfaces.go
package reconcile

import (
	"time"

	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/status"
)

// Store is the slice of db.Service the reconciler needs. *db.DB and
// db.MockService both satisfy it.
type Store interface {
	ListDevices() ([]db.Device, error)
	UpdateDeviceStatus(id int64, st status.Status) error
	TransitionExists(pcID int64, st status.Status, ts time.Time) (bool, error)
	InsertTransition(pcID int64, st status.Status, ts time.Time) error
	GetTimeOver() (int, error)
}
