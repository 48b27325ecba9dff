package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ListGroups returns every group node. The hierarchy resolver walks the
// parent pointers in memory; no recursive query is issued here.
func (db *DB) ListGroups() ([]Group, error) {
	rows, err := db.DB.Query("SELECT id, name, parent_id FROM groups ORDER BY id") //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w groups: %w", ErrFailedToQuery, err)
	}
	defer CloseRows(&SQLRows{rows})

	var groups []Group

	for rows.Next() {
		var (
			g        Group
			parentID sql.NullInt64
		)

		if err := rows.Scan(&g.ID, &g.Name, &parentID); err != nil {
			return nil, fmt.Errorf("%w group row: %w", ErrFailedToScan, err)
		}

		if parentID.Valid {
			g.ParentID = parentID.Int64
		}

		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// GetGroup returns one group by id, or ErrGroupNotFound.
func (db *DB) GetGroup(id int64) (*Group, error) {
	var (
		g        Group
		parentID sql.NullInt64
	)

	err := db.DB.QueryRow("SELECT id, name, parent_id FROM groups WHERE id = ?", id).
		Scan(&g.ID, &g.Name, &parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w group: %w", ErrFailedToQuery, err)
	}

	if parentID.Valid {
		g.ParentID = parentID.Int64
	}

	return &g, nil
}
