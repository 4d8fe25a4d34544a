// Package storage provides SQLite persistence for meter registrations,
// driver-mapped readings, and raw telegram history.
package storage

import "time"

// MeterRegistration is the persisted form of a user-facing meter
// binding: identification -> driver/link-mode/key.
type MeterRegistration struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Identification string    `json:"identification"`
	DriverName     string    `json:"driver_name,omitempty"`
	LinkMode       string    `json:"link_mode,omitempty"`
	KeyHex         string    `json:"key_hex,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reading is one decoded, driver-mapped measurement persisted for a meter.
type Reading struct {
	ID             int64     `json:"id"`
	Identification string    `json:"identification"`
	FieldName      string    `json:"field_name"`
	ValueNumeric   *float64  `json:"value_numeric,omitempty"`
	ValueText      string    `json:"value_text,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
	SyncedToCloud  bool      `json:"synced_to_cloud"`
}

// TelegramRecord is one raw telegram observation kept for history and diffing.
type TelegramRecord struct {
	ID             int64     `json:"id"`
	Identification string    `json:"identification"`
	RawHex         string    `json:"raw_hex"`
	Encrypted      bool      `json:"encrypted"`
	RecordCount    int       `json:"record_count"`
	ObservedAt     time.Time `json:"observed_at"`
}
