package ingest

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fleetmon/fleetmon/pkg/status"
)

// Report is the JSON payload a device (or its agent) submits. A report
// either carries health ({BOARD, PC} for the device and optionally its sub
// modules) or process telemetry, never both meaningfully.
type Report struct {
	SerialNumber string          `json:"SN"`
	Status       status.Health   `json:"status"`
	IP           string          `json:"ip"`
	Process      json.RawMessage `json:"process,omitempty"`
	Sub          []SubReport     `json:"sub,omitempty"`
}

// SubReport is a sibling device bundled under the primary report.
type SubReport struct {
	SerialNumber string        `json:"SN"`
	Status       status.Health `json:"status"`
	IP           string        `json:"ip"`
}

// Result is the synchronous acknowledgment an ingestion caller receives.
// Accepted reflects intake, never storage outcome.
type Result struct {
	Accepted  bool `json:"accepted"`
	QueueSize int  `json:"queue_size"`
}

// Intake is the report-facing surface of the pipeline. It validates,
// classifies and enqueues; it never touches storage inline.
type Intake struct {
	queue *Queue
	log   zerolog.Logger

	mu sync.Mutex
	// processSeen dedups process-telemetry reports: at most one is logged
	// per serial per process lifetime.
	processSeen map[string]bool
	// shutdownSeen holds serials last classified Shutdown. While a serial
	// is in the set, only a Normal result may change its status; Shutdown
	// is sticky against everything but recovery.
	shutdownSeen map[string]bool
}

// NewIntake creates an Intake feeding the given queue.
func NewIntake(queue *Queue, log zerolog.Logger) *Intake {
	return &Intake{
		queue:        queue,
		log:          log.With().Str("component", "intake").Logger(),
		processSeen:  make(map[string]bool),
		shutdownSeen: make(map[string]bool),
	}
}

// Ingest accepts one report. It returns ErrMissingSerial for payloads
// without a serial number; everything else is acknowledged immediately.
func (in *Intake) Ingest(r Report) (Result, error) {
	if r.SerialNumber == "" {
		return Result{}, ErrMissingSerial
	}

	if len(r.Process) > 0 {
		in.recordProcess(r)
		return Result{Accepted: true, QueueSize: in.queue.Size()}, nil
	}

	updates := in.expand(r)
	in.queue.Add(updates)

	return Result{Accepted: true, QueueSize: in.queue.Size()}, nil
}

// recordProcess logs process telemetry once per serial per process
// lifetime. It deliberately performs no status mutation.
func (in *Intake) recordProcess(r Report) {
	in.mu.Lock()
	seen := in.processSeen[r.SerialNumber]
	if !seen {
		in.processSeen[r.SerialNumber] = true
	}
	in.mu.Unlock()

	if !seen {
		in.log.Info().
			Str("serial", r.SerialNumber).
			RawJSON("process", r.Process).
			Msg("process telemetry")
	}
}

// expand flattens the primary report and its sub entries into per-serial
// updates, applying classification and shutdown stickiness.
func (in *Intake) expand(r Report) []Update {
	raw := []Update{{
		SerialNumber: r.SerialNumber,
		Status:       status.Classify(r.Status),
		IP:           r.IP,
	}}

	for _, sub := range r.Sub {
		if sub.SerialNumber == "" {
			continue
		}

		raw = append(raw, Update{
			SerialNumber: sub.SerialNumber,
			Status:       status.Classify(sub.Status),
			IP:           sub.IP,
		})
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	updates := make([]Update, 0, len(raw))

	for _, u := range raw {
		if in.shutdownSeen[u.SerialNumber] && u.Status != status.Normal {
			continue
		}

		switch u.Status {
		case status.Normal:
			delete(in.shutdownSeen, u.SerialNumber)
		case status.Shutdown:
			in.shutdownSeen[u.SerialNumber] = true
		}

		updates = append(updates, u)
	}

	return updates
}
