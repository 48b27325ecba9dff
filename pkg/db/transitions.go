package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetmon/fleetmon/pkg/status"
)

// TransitionExists reports whether a status_logs row already exists for the
// exact (pc_id, status, timestamp) triple. The existence check is the only
// dedup mechanism for the log; see the schema comment.
func (db *DB) TransitionExists(pcID int64, st status.Status, ts time.Time) (bool, error) {
	const querySQL = `
        SELECT COUNT(*)
        FROM status_logs
        WHERE pc_id = ? AND status = ? AND timestamp = ?
    `

	var count int

	err := db.DB.QueryRow(querySQL, pcID, string(st), ts.UTC()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w transition: %w", ErrFailedToQuery, err)
	}

	return count > 0, nil
}

// InsertTransition appends one row to the status log.
func (db *DB) InsertTransition(pcID int64, st status.Status, ts time.Time) error {
	const insertSQL = `
        INSERT INTO status_logs (pc_id, status, timestamp)
        VALUES (?, ?, ?)
    `

	if _, err := db.DB.Exec(insertSQL, pcID, string(st), ts.UTC()); err != nil {
		return fmt.Errorf("%w transition: %w", ErrFailedToInsert, err)
	}

	return nil
}

// ListTransitions returns log rows matching the filter, newest first.
func (db *DB) ListTransitions(filter TransitionFilter) ([]Transition, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if len(filter.GroupIDs) > 0 {
		placeholders, groupArgs := int64Placeholders(filter.GroupIDs)
		conditions = append(conditions,
			fmt.Sprintf("pc_id IN (SELECT id FROM pcs WHERE group_id IN (%s))", placeholders))
		args = append(args, groupArgs...)
	}

	switch filter.Status {
	case "":
	case StatusNotNormal:
		conditions = append(conditions, "status != ?")
		args = append(args, string(status.Normal))
	default:
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Start.UTC())
	}

	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.End.UTC())
	}

	query := "SELECT id, pc_id, status, timestamp FROM status_logs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.DB.Query(query, args...) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w transitions: %w", ErrFailedToQuery, err)
	}
	defer CloseRows(&SQLRows{rows})

	var transitions []Transition

	for rows.Next() {
		var t Transition

		if err := rows.Scan(&t.ID, &t.PCID, &t.Status, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("%w transition row: %w", ErrFailedToScan, err)
		}

		transitions = append(transitions, t)
	}

	return transitions, rows.Err()
}
