// Package status defines the canonical device status values and the
// classifier that maps raw health reports onto them.
package status

// Status is a device's derived health state. The empty string means the
// device has never been classified; policy treats it like Unknown.
type Status string

const (
	Normal   Status = "Normal"
	Shutdown Status = "Shutdown"
	Warning  Status = "Warning"
	Unknown  Status = "Unknown"
	Reset    Status = "Reset"
	Unset    Status = ""
)

// Valid reports whether s is one of the enumerated status values.
func (s Status) Valid() bool {
	switch s {
	case Normal, Shutdown, Warning, Unknown, Reset, Unset:
		return true
	default:
		return false
	}
}
