package aggregate

import "github.com/fleetmon/fleetmon/pkg/db"

// Store is the slice of db.Service the publisher needs.
type Store interface {
	ListDevices() ([]db.Device, error)
	ListDevicesByGroups(groupIDs []int64) ([]db.Device, error)
	CountDevicesByGroups(groupIDs []int64) (int, error)
	ListGroups() ([]db.Group, error)
}

// Resolver expands a group id into its descendant closure.
type Resolver interface {
	Descendants(groupID int64) (map[int64]bool, error)
}
