package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetmon/fleetmon/pkg/status"
)

const deviceColumns = "id, serial_number, name, status, ts, ip, period, group_id"

func scanDevice(row interface{ Scan(...interface{}) error }) (Device, error) {
	var (
		d       Device
		ts      sql.NullTime
		groupID sql.NullInt64
	)

	err := row.Scan(&d.ID, &d.SerialNumber, &d.Name, &d.Status, &ts, &d.IP, &d.Period, &groupID)
	if err != nil {
		return Device{}, err
	}

	if ts.Valid {
		d.TS = ts.Time
	}

	if groupID.Valid {
		d.GroupID = groupID.Int64
	}

	return d, nil
}

func (db *DB) queryDevices(query string, args ...interface{}) ([]Device, error) {
	rows, err := db.DB.Query(query, args...) //nolint:rowserrcheck // rows.Close() is deferred
	if err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}
	defer CloseRows(&SQLRows{rows})

	var devices []Device

	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%w device row: %w", ErrFailedToScan, err)
		}

		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// ListDevices returns every device row.
func (db *DB) ListDevices() ([]Device, error) {
	return db.queryDevices("SELECT " + deviceColumns + " FROM pcs ORDER BY id")
}

// ListDevicesByGroups returns the devices whose group is in groupIDs.
func (db *DB) ListDevicesByGroups(groupIDs []int64) ([]Device, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	placeholders, args := int64Placeholders(groupIDs)
	query := fmt.Sprintf(
		"SELECT %s FROM pcs WHERE group_id IN (%s) ORDER BY id", deviceColumns, placeholders)

	return db.queryDevices(query, args...)
}

// ListDevicesPage returns one page of devices plus the total device count.
// Pages are 1-based.
func (db *DB) ListDevicesPage(page, limit int) ([]Device, int, error) {
	if page < 1 {
		page = 1
	}

	if limit < 1 {
		limit = 50
	}

	var total int
	if err := db.DB.QueryRow("SELECT COUNT(*) FROM pcs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w device count: %w", ErrFailedToQuery, err)
	}

	offset := (page - 1) * limit

	devices, err := db.queryDevices(
		"SELECT "+deviceColumns+" FROM pcs ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, err
	}

	return devices, total, nil
}

// GetDeviceBySerial returns the device owning the serial number, or
// ErrDeviceNotFound.
func (db *DB) GetDeviceBySerial(serial string) (*Device, error) {
	row := db.DB.QueryRow(
		"SELECT "+deviceColumns+" FROM pcs WHERE serial_number = ?", serial)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w device: %w", ErrFailedToQuery, err)
	}

	return &d, nil
}

// FilterKnownSerials returns, within tx, which of the given serial numbers
// exist as devices.
func (db *DB) FilterKnownSerials(tx Transaction, serials []string) (map[string]bool, error) {
	if len(serials) == 0 {
		return map[string]bool{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(serials)), ",")
	args := make([]interface{}, 0, len(serials))

	for _, sn := range serials {
		args = append(args, sn)
	}

	rows, err := tx.Query(
		fmt.Sprintf("SELECT serial_number FROM pcs WHERE serial_number IN (%s)", placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("%w known serials: %w", ErrFailedToQuery, err)
	}
	defer CloseRows(rows)

	known := make(map[string]bool, len(serials))

	for rows.Next() {
		var sn string
		if err := rows.Scan(&sn); err != nil {
			return nil, fmt.Errorf("%w serial row: %w", ErrFailedToScan, err)
		}

		known[sn] = true
	}

	return known, rows.Err()
}

// UpdateDeviceReport applies one accepted report to a device row inside tx:
// status, last-seen timestamp and advisory IP.
func (db *DB) UpdateDeviceReport(tx Transaction, serial string, st status.Status, ts time.Time, ip string) error {
	_, err := tx.Exec(`
        UPDATE pcs
        SET status = ?, ts = ?, ip = ?
        WHERE serial_number = ?
    `, string(st), ts.UTC(), ip, serial)
	if err != nil {
		return fmt.Errorf("%w device report: %w", ErrFailedToUpdate, err)
	}

	return nil
}

// UpdateDeviceStatus sets only the status column; the last-seen timestamp is
// left alone so staleness bookkeeping stays anchored to the last report.
func (db *DB) UpdateDeviceStatus(id int64, st status.Status) error {
	result, err := db.DB.Exec("UPDATE pcs SET status = ? WHERE id = ?", string(st), id)
	if err != nil {
		return fmt.Errorf("%w device status: %w", ErrFailedToUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// CountDevicesByGroups counts devices whose group is in groupIDs.
func (db *DB) CountDevicesByGroups(groupIDs []int64) (int, error) {
	if len(groupIDs) == 0 {
		return 0, nil
	}

	placeholders, args := int64Placeholders(groupIDs)

	var count int

	err := db.DB.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM pcs WHERE group_id IN (%s)", placeholders),
		args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w device count: %w", ErrFailedToQuery, err)
	}

	return count, nil
}

func int64Placeholders(ids []int64) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))

	for _, id := range ids {
		args = append(args, id)
	}

	return placeholders, args
}
