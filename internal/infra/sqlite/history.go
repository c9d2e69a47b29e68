package sqlite

import (
	"database/sql"
	"time"

	"github.com/clipscape-network/clipscape/internal/domain"
)

// ─── Sync History ───────────────────────────────────────────────────────────

// RecordItem appends one sync event. Only the hash and metadata are stored;
// the payload stays out of the database.
func (d *DB) RecordItem(item domain.ClipboardItem, direction string) error {
	contentType := "text"
	if ct, ok := item.Metadata["type"].(string); ok && ct != "" {
		contentType = ct
	}
	_, err := d.db.Exec(
		`INSERT INTO clipboard_history (content_hash, content_type, size_bytes, origin_device, direction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.Hash(), contentType, len(item.Payload),
		item.OriginDeviceID, direction, time.Now().Unix(),
	)
	return err
}

// History returns the most recent sync events, newest first.
func (d *DB) History(limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT id, content_hash, content_type, size_bytes, origin_device, direction, created_at
		 FROM clipboard_history ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var created int64
		err := rows.Scan(&e.ID, &e.ContentHash, &e.ContentType, &e.SizeBytes,
			&e.OriginDeviceID, &e.Direction, &created)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneHistory keeps only the newest maxRows events.
func (d *DB) PruneHistory(maxRows int) (int64, error) {
	result, err := d.db.Exec(
		`DELETE FROM clipboard_history WHERE id NOT IN (
			SELECT id FROM clipboard_history ORDER BY id DESC LIMIT ?
		)`, maxRows,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ─── Device Registry ────────────────────────────────────────────────────────

// UpsertDevice records or refreshes a device we have synced with.
func (d *DB) UpsertDevice(info domain.DeviceInfo) error {
	lastSeen := info.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now()
	}
	_, err := d.db.Exec(
		`INSERT INTO devices (device_id, name, address, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
			name=excluded.name,
			address=excluded.address,
			last_seen=excluded.last_seen`,
		info.DeviceID, info.Name, info.Address, lastSeen.Unix(),
	)
	return err
}

// Device retrieves one device record; nil when unknown.
func (d *DB) Device(deviceID string) (*domain.DeviceInfo, error) {
	row := d.db.QueryRow(
		`SELECT device_id, name, address, last_seen FROM devices WHERE device_id = ?`,
		deviceID,
	)
	var info domain.DeviceInfo
	var lastSeen int64
	err := row.Scan(&info.DeviceID, &info.Name, &info.Address, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.LastSeen = time.Unix(lastSeen, 0)
	return &info, nil
}

// Devices returns every known device ordered by last_seen descending.
func (d *DB) Devices() ([]domain.DeviceInfo, error) {
	rows, err := d.db.Query(
		`SELECT device_id, name, address, last_seen FROM devices ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []domain.DeviceInfo
	for rows.Next() {
		var info domain.DeviceInfo
		var lastSeen int64
		if err := rows.Scan(&info.DeviceID, &info.Name, &info.Address, &lastSeen); err != nil {
			return nil, err
		}
		info.LastSeen = time.Unix(lastSeen, 0)
		devices = append(devices, info)
	}
	return devices, rows.Err()
}
