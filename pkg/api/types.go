package api

import "github.com/fleetmon/fleetmon/pkg/db"

// devicesPage is the envelope for the paginated device listing.
type devicesPage struct {
	Devices []db.Device `json:"devices"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
}

// timeOverPayload carries the staleness threshold over the wire, both
// directions.
type timeOverPayload struct {
	Seconds int `json:"seconds"`
}
