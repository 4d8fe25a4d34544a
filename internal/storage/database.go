package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meter_registrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identification TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		driver_name TEXT,
		link_mode TEXT,
		key_hex TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identification TEXT NOT NULL,
		field_name TEXT NOT NULL,
		value_numeric REAL,
		value_text TEXT,
		observed_at DATETIME NOT NULL,
		synced_to_cloud BOOLEAN DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_readings_identification ON readings(identification);
	CREATE INDEX IF NOT EXISTS idx_readings_synced ON readings(synced_to_cloud) WHERE synced_to_cloud = 0;

	CREATE TABLE IF NOT EXISTS telegram_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identification TEXT NOT NULL,
		raw_hex TEXT NOT NULL,
		encrypted BOOLEAN NOT NULL,
		record_count INTEGER NOT NULL,
		observed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telegram_history_identification ON telegram_history(identification);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// UpsertMeterRegistration inserts or updates a meter registration keyed by identification.
func (db *DB) UpsertMeterRegistration(r *MeterRegistration) error {
	_, err := db.conn.Exec(`
		INSERT INTO meter_registrations (identification, name, driver_name, link_mode, key_hex, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identification) DO UPDATE SET
			name = excluded.name,
			driver_name = COALESCE(NULLIF(excluded.driver_name, ''), meter_registrations.driver_name),
			link_mode = COALESCE(NULLIF(excluded.link_mode, ''), meter_registrations.link_mode),
			key_hex = COALESCE(NULLIF(excluded.key_hex, ''), meter_registrations.key_hex),
			updated_at = CURRENT_TIMESTAMP
	`, r.Identification, r.Name, r.DriverName, r.LinkMode, r.KeyHex)
	if err != nil {
		return fmt.Errorf("failed to upsert meter registration: %w", err)
	}
	return nil
}

// GetMeterRegistration returns the registration for identification, or nil if none exists.
func (db *DB) GetMeterRegistration(identification string) (*MeterRegistration, error) {
	row := db.conn.QueryRow(`
		SELECT id, identification, name, COALESCE(driver_name, ''), COALESCE(link_mode, ''),
			COALESCE(key_hex, ''), created_at, updated_at
		FROM meter_registrations WHERE identification = ?
	`, identification)

	r := &MeterRegistration{}
	if err := row.Scan(&r.ID, &r.Identification, &r.Name, &r.DriverName, &r.LinkMode,
		&r.KeyHex, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get meter registration: %w", err)
	}
	return r, nil
}

// GetAllMeterRegistrations returns every registered meter.
func (db *DB) GetAllMeterRegistrations() ([]*MeterRegistration, error) {
	rows, err := db.conn.Query(`
		SELECT id, identification, name, COALESCE(driver_name, ''), COALESCE(link_mode, ''),
			COALESCE(key_hex, ''), created_at, updated_at
		FROM meter_registrations ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query meter registrations: %w", err)
	}
	defer rows.Close()

	var out []*MeterRegistration
	for rows.Next() {
		r := &MeterRegistration{}
		if err := rows.Scan(&r.ID, &r.Identification, &r.Name, &r.DriverName, &r.LinkMode,
			&r.KeyHex, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meter registration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertReading inserts a single driver-mapped reading and returns its row id.
func (db *DB) InsertReading(r *Reading) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO readings (identification, field_name, value_numeric, value_text, observed_at, synced_to_cloud)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Identification, r.FieldName, r.ValueNumeric, r.ValueText, r.ObservedAt, r.SyncedToCloud)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}
	return res.LastInsertId()
}

// GetUnsyncedReadings returns up to limit readings that have not yet been synced.
func (db *DB) GetUnsyncedReadings(limit int) ([]*Reading, error) {
	rows, err := db.conn.Query(`
		SELECT id, identification, field_name, value_numeric, COALESCE(value_text, ''), observed_at, synced_to_cloud
		FROM readings WHERE synced_to_cloud = 0 ORDER BY observed_at LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced readings: %w", err)
	}
	defer rows.Close()

	var out []*Reading
	for rows.Next() {
		r := &Reading{}
		var valueNumeric sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Identification, &r.FieldName, &valueNumeric,
			&r.ValueText, &r.ObservedAt, &r.SyncedToCloud); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if valueNumeric.Valid {
			v := valueNumeric.Float64
			r.ValueNumeric = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkReadingSynced marks a reading as synced to the cloud.
func (db *DB) MarkReadingSynced(id int64) error {
	_, err := db.conn.Exec(`UPDATE readings SET synced_to_cloud = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reading synced: %w", err)
	}
	return nil
}

// InsertTelegram records one raw telegram observation and returns its row id.
func (db *DB) InsertTelegram(t *TelegramRecord) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO telegram_history (identification, raw_hex, encrypted, record_count, observed_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.Identification, t.RawHex, t.Encrypted, t.RecordCount, t.ObservedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert telegram: %w", err)
	}
	return res.LastInsertId()
}

// GetTelegramHistory returns up to limit most recent telegrams for a meter, newest first.
func (db *DB) GetTelegramHistory(identification string, limit int) ([]*TelegramRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, identification, raw_hex, encrypted, record_count, observed_at
		FROM telegram_history WHERE identification = ? ORDER BY observed_at DESC LIMIT ?
	`, identification, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telegram history: %w", err)
	}
	defer rows.Close()

	var out []*TelegramRecord
	for rows.Next() {
		t := &TelegramRecord{}
		if err := rows.Scan(&t.ID, &t.Identification, &t.RawHex, &t.Encrypted, &t.RecordCount, &t.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan telegram: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTelegramHistory deletes telegram history rows older than before for a meter,
// keeping the store bounded the way the in-memory analyzer's ring does.
func (db *DB) PruneTelegramHistory(identification string, before time.Time) error {
	_, err := db.conn.Exec(`
		DELETE FROM telegram_history WHERE identification = ? AND observed_at < ?
	`, identification, before)
	if err != nil {
		return fmt.Errorf("failed to prune telegram history: %w", err)
	}
	return nil
}
