package aggregate

import (
	"time"

	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/status"
)

// FleetSnapshot is the fleet-wide status breakdown pushed to dashboard
// streams. Devices with an empty or unrecognized status count as Unknown.
type FleetSnapshot struct {
	Total     int       `json:"total"`
	Normal    int       `json:"normal"`
	Shutdown  int       `json:"shutdown"`
	Warning   int       `json:"warning"`
	Unknown   int       `json:"unknown"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupSnapshot carries the devices of a group subtree bucketed by
// status, for the per-group dashboard stream.
type GroupSnapshot struct {
	GroupID   int64       `json:"group_id"`
	Total     int         `json:"total"`
	Normal    []db.Device `json:"normal"`
	Shutdown  []db.Device `json:"shutdown"`
	Warning   []db.Device `json:"warning"`
	Unknown   []db.Device `json:"unknown"`
	Timestamp time.Time   `json:"timestamp"`
}

// GroupCount is one row of the group counts listing.
type GroupCount struct {
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
	Devices int    `json:"devices"`
}

func tally(devices []db.Device, now time.Time) FleetSnapshot {
	snap := FleetSnapshot{Total: len(devices), Timestamp: now}

	for _, d := range devices {
		switch d.Status {
		case status.Normal:
			snap.Normal++
		case status.Shutdown:
			snap.Shutdown++
		case status.Warning:
			snap.Warning++
		default:
			snap.Unknown++
		}
	}

	return snap
}

func bucket(groupID int64, devices []db.Device, now time.Time) GroupSnapshot {
	snap := GroupSnapshot{
		GroupID:   groupID,
		Total:     len(devices),
		Normal:    []db.Device{},
		Shutdown:  []db.Device{},
		Warning:   []db.Device{},
		Unknown:   []db.Device{},
		Timestamp: now,
	}

	for _, d := range devices {
		switch d.Status {
		case status.Normal:
			snap.Normal = append(snap.Normal, d)
		case status.Shutdown:
			snap.Shutdown = append(snap.Shutdown, d)
		case status.Warning:
			snap.Warning = append(snap.Warning, d)
		default:
			snap.Unknown = append(snap.Unknown, d)
		}
	}

	return snap
}
