package status

// Health is the raw board/PC health pair a device reports for itself or
// for one of its sub modules.
type Health struct {
	Board string `json:"BOARD"`
	PC    string `json:"PC"`
}

const healthOK = "OK"

// Classify maps a raw health pair to a canonical status:
//
//	BOARD ok, PC ok     -> Normal
//	BOARD ok, PC not    -> Shutdown
//	BOARD not, PC ok    -> Shutdown
//	BOARD not, PC not   -> Unknown
//
// Any value other than "OK" (including a missing field) counts as not-ok,
// so the function is total over the input domain.
func Classify(h Health) Status {
	boardOK := h.Board == healthOK
	pcOK := h.PC == healthOK

	switch {
	case boardOK && pcOK:
		return Normal
	case !boardOK && !pcOK:
		return Unknown
	default:
		return Shutdown
	}
}
