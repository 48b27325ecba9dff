package config

import (
	"encoding/json"
	"fmt"
	"time"
)

type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// ServerConfig represents the configuration for the monitoring server.
// Zero durations and counts fall back to built-in defaults at wiring
// time; only the listen address and database path are mandatory.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr"` // e.g., :8080
	DBPath     string `json:"db_path"`     // e.g., /var/lib/fleetmon/fleetmon.db
	LogLevel   string `json:"log_level,omitempty"`

	// Ingestion queue.
	FlushInterval  Duration `json:"flush_interval,omitempty"`
	FlushBatchSize int      `json:"flush_batch_size,omitempty"`
	QueueMaxSize   int      `json:"queue_max_size,omitempty"`

	// Reconciliation.
	ReconcileInterval Duration `json:"reconcile_interval,omitempty"`
	DefaultTimeOver   int      `json:"default_time_over,omitempty"` // seconds

	// Stream publishing.
	EmitInterval Duration `json:"emit_interval,omitempty"`
	HierarchyTTL Duration `json:"hierarchy_ttl,omitempty"`

	// Transition log retention.
	LogRetention  Duration `json:"log_retention,omitempty"`
	CleanInterval Duration `json:"clean_interval,omitempty"`

	// Report endpoint rate limiting.
	RateLimitRPS   float64 `json:"rate_limit_rps,omitempty"`
	RateLimitBurst int     `json:"rate_limit_burst,omitempty"`
}

func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errMissingListenAddr
	}

	if c.DBPath == "" {
		return errMissingDBPath
	}

	return nil
}
