package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanOldTransitions removes status log rows older than the retention
// period.
func (db *DB) CleanOldTransitions(retentionPeriod time.Duration) error {
	cutoff := time.Now().Add(-retentionPeriod).UTC()

	tx, err := db.DB.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("failed to rollback")
			}
			return
		}
		err = tx.Commit()
	}()

	if _, err = tx.Exec(
		"DELETE FROM status_logs WHERE timestamp < ?",
		cutoff,
	); err != nil {
		return fmt.Errorf("%w status logs: %w", ErrFailedToClean, err)
	}

	return err
}
