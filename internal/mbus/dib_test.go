package mbus

import (
	"errors"
	"testing"
)

func volumeRecordBytes() []byte {
	// DIF=0x04 (instantaneous, 4-byte int), VIF=0x13 (volume m3, exponent -3),
	// value 1000 little-endian -> 1000 * 10^-3 = 1.0 m3.
	return []byte{0x04, 0x13, 0xE8, 0x03, 0x00, 0x00}
}

func TestParseDataRecordsVolume(t *testing.T) {
	records, err := ParseDataRecords(volumeRecordBytes())
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.Description != "Volume" || r.Unit != "m³" {
		t.Fatalf("Description/Unit = %q/%q, want Volume/m³", r.Description, r.Unit)
	}
	if r.Value.Kind != ValueFloat || r.Value.Float != 1.0 {
		t.Fatalf("Value = %+v, want Float=1.0", r.Value)
	}
}

func TestParseDataRecordsSkipsIdleFiller(t *testing.T) {
	payload := append([]byte{0x2F}, volumeRecordBytes()...)
	records, err := ParseDataRecords(payload)
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (idle filler should be skipped)", len(records))
	}
}

func TestParseDataRecordsOrderPreserved(t *testing.T) {
	payload := append(volumeRecordBytes(), volumeRecordBytes()...)
	records, err := ParseDataRecords(payload)
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestParseDataRecordsManufacturerSpecificTerminates(t *testing.T) {
	payload := append([]byte{0x0F, 0xAA, 0xBB}, volumeRecordBytes()...)
	records, err := ParseDataRecords(payload)
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (manufacturer-specific DIF terminates parsing)", len(records))
	}
	if records[0].Description != "Manufacturer Specific" {
		t.Fatalf("Description = %q, want Manufacturer Specific", records[0].Description)
	}
}

func TestParseDataRecordsTruncatedDIFEChain(t *testing.T) {
	_, err := ParseDataRecords([]byte{0x84}) // extension bit set, nothing follows
	if !errors.Is(err, ErrTruncatedRecord) {
		t.Fatalf("expected ErrTruncatedRecord, got %v", err)
	}
}

func TestParseDataRecordsTruncatedValue(t *testing.T) {
	_, err := ParseDataRecords([]byte{0x04, 0x13, 0xE8, 0x03}) // declares 4 bytes, only 2 present
	if !errors.Is(err, ErrTruncatedRecord) {
		t.Fatalf("expected ErrTruncatedRecord, got %v", err)
	}
}

func TestParseDataRecordsStorageBitZeroWithoutDIFE(t *testing.T) {
	// DIF=0x44: storage-flag bit (0x40) set, but the extension bit (0x80)
	// is clear, so there is no DIFE chain at all. Storage must stay 0.
	payload := []byte{0x44, 0x13, 0xE8, 0x03, 0x00, 0x00}
	records, err := ParseDataRecords(payload)
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Storage != 0 {
		t.Fatalf("Storage = %d, want 0 for a record with no DIFE chain", records[0].Storage)
	}
}

func TestParseDataRecordsVIFEChain(t *testing.T) {
	payload := []byte{0x04, 0x93, 0x13, 0xE8, 0x03, 0x00, 0x00} // VIF with extension bit then 0x13
	records, err := ParseDataRecords(payload)
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if len(records) != 1 || len(records[0].VIFEChain) != 1 {
		t.Fatalf("expected 1 record with a 1-byte VIFE chain, got %+v", records)
	}
}

func TestParseDataRecordsBCDValue(t *testing.T) {
	// DIF=0x09 (1-byte BCD), VIF=0x13 (volume, exponent -3). BCD(0x12) = 12 -> 0.012 m3.
	payload := []byte{0x09, 0x13, 0x12}
	records, err := ParseDataRecords(payload)
	if err != nil {
		t.Fatalf("ParseDataRecords: %v", err)
	}
	if records[0].Value.Kind != ValueFloat {
		t.Fatalf("expected a scaled BCD value to decode as float, got %+v", records[0].Value)
	}
	if got := records[0].Value.Float; got < 0.0119 || got > 0.0121 {
		t.Fatalf("BCD value = %v, want ~0.012", got)
	}
}
