package mbus

import (
	"fmt"
	"log"
)

// Telegram is a single decoded frame: its raw bytes, header, and (once
// decryption has succeeded, if required) its payload records.
type Telegram struct {
	Raw       []byte
	Header    *Header
	payload   []byte // header-stripped, still ciphertext if Header.Encrypted and not yet decrypted
	plaintext []byte // set once Decrypt succeeds, or equals payload if never encrypted
	records   []DataRecord
	parsed    bool
	logger    *log.Logger
}

// FromBytes parses raw into a Telegram. A malformed frame returns a
// nil Telegram and a wrapped framing/length error.
func FromBytes(raw []byte) (*Telegram, error) {
	header, payload, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	t := &Telegram{
		Raw:    raw,
		Header: header,
		payload: payload,
	}
	if !header.Encrypted {
		t.plaintext = payload
	}
	return t, nil
}

// FromHex parses a whitespace-tolerant hex string into a Telegram.
func FromHex(s string) (*Telegram, error) {
	raw, err := ParseHex(s)
	if err != nil {
		return nil, err
	}
	return FromBytes(raw)
}

// SetLogger attaches an optional logger used by Records for non-fatal
// decode warnings: records whose value failed a range check, and a
// record walk that stopped early. Clamped BCD nibbles and unknown VIFs
// are not logged. A nil logger disables
// logging entirely; this is also the default, so library use stays
// silent unless a caller opts in.
func (t *Telegram) SetLogger(l *log.Logger) { t.logger = l }

func (t *Telegram) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// SetPlaintext installs the decrypted payload, allowing Records to
// parse it. Callers pass in the plaintext that security.Decrypt
// returned; the mbus package itself does not import security.
func (t *Telegram) SetPlaintext(plaintext []byte) {
	t.plaintext = plaintext
	t.parsed = false
	t.records = nil
}

// EncryptedPayload returns the still-ciphertext bytes after the header,
// or nil if the telegram was never encrypted or has no payload.
func (t *Telegram) EncryptedPayload() []byte {
	if !t.Header.Encrypted {
		return nil
	}
	return t.payload
}

// Records parses the plaintext payload into data records on first
// call and memoises the result; repeated calls return the same slice.
func (t *Telegram) Records() ([]DataRecord, error) {
	if t.parsed {
		return t.records, nil
	}
	if t.Header.Encrypted && t.plaintext == nil {
		return nil, fmt.Errorf("%w: telegram not yet decrypted", ErrMissingKey)
	}
	records, err := ParseDataRecords(t.plaintext)
	for _, r := range records {
		if r.Invalid {
			t.logf("mbus: record %q has an out-of-range value", r.Description)
		}
	}
	t.records = records
	t.parsed = true
	if err != nil {
		t.logf("mbus: record parsing stopped early: %v", err)
	}
	return records, err
}

// AnalysisReport summarises a telegram for diagnostic/discovery use,
// and never fails: a malformed or encrypted telegram simply reports
// what could be determined.
type AnalysisReport struct {
	Valid            bool
	FrameType        FrameType
	Length           int
	Manufacturer     string
	Identification   string
	Version          uint8
	DeviceType       DeviceType
	DeviceTypeName   string
	CIField          uint8
	Encrypted        bool
	RecordCount      int
	SuggestedDrivers []string
	Error            string
}

// Analyze produces a best-effort AnalysisReport for raw. It never
// returns an error; any decode failure is captured in the report's
// Error field instead, matching the "pure function, never throws"
// contract.
func Analyze(raw []byte, suggest func(mfct string, dt DeviceType) []string) AnalysisReport {
	report := AnalysisReport{Length: len(raw)}

	header, payload, err := ParseHeader(raw)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Valid = true
	report.FrameType = header.FrameType
	report.Manufacturer = header.Manufacturer
	report.Identification = header.Identification
	report.Version = header.Version
	report.DeviceType = header.DeviceType
	report.DeviceTypeName = header.DeviceType.String()
	report.CIField = header.CIField
	report.Encrypted = header.Encrypted

	if !header.Encrypted {
		records, _ := ParseDataRecords(payload)
		report.RecordCount = len(records)
	}
	if suggest != nil {
		report.SuggestedDrivers = suggest(header.Manufacturer, header.DeviceType)
	}
	return report
}
