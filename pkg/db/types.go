package db

import (
	"time"

	"github.com/fleetmon/fleetmon/pkg/status"
)

// Device represents a monitored PC ("module"). SerialNumber is the business
// key reports correlate on; ID is the stable storage key.
type Device struct {
	ID           int64         `json:"id"`
	SerialNumber string        `json:"serial_number"`
	Name         string        `json:"name"`
	Status       status.Status `json:"status"`
	TS           time.Time     `json:"ts"` // zero value: never reported
	IP           string        `json:"ip"`
	Period       int           `json:"period"` // expected reporting interval, seconds
	GroupID      int64         `json:"group_id"` // 0: ungrouped
}

// Group is one node of the group tree. ParentID 0 marks a root.
type Group struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID int64  `json:"parent_id"`
}

// Transition is one row of the append-only status log.
type Transition struct {
	ID        int64         `json:"id"`
	PCID      int64         `json:"pc_id"`
	Status    status.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// TransitionFilter narrows a transition-log query. Zero values mean "no
// constraint" for their field.
type TransitionFilter struct {
	// GroupIDs is a resolved descendant closure; empty means all groups.
	GroupIDs []int64
	// Status filters by exact status. The special value "NOT Normal"
	// matches every status except Normal.
	Status string
	Start  time.Time
	End    time.Time
	Limit  int
}

// StatusNotNormal is the TransitionFilter.Status value matching every
// non-Normal transition.
const StatusNotNormal = "NOT Normal"
