// Package mbus decodes M-Bus and wireless M-Bus telegrams into typed,
// unit-bearing records.
package mbus

import "errors"

// Error taxonomy. Framing and record-parse errors are recovered locally
// by the parser (it returns whatever it has up to the failure point);
// these sentinels are for the caller to classify what happened via
// errors.Is, not to drive internal control flow.
var (
	ErrInvalidHex        = errors.New("mbus: invalid hex input")
	ErrShortFrame        = errors.New("mbus: frame shorter than minimum length")
	ErrFramingError      = errors.New("mbus: framing error")
	ErrTruncatedRecord    = errors.New("mbus: truncated data record")
	ErrInvalidManufacturer = errors.New("mbus: manufacturer code out of range")
	ErrInvalidBcdNibble   = errors.New("mbus: invalid BCD nibble")
	ErrInvalidDateTime    = errors.New("mbus: date/time field out of range")
	ErrMissingKey         = errors.New("mbus: no key for encrypted telegram")
	ErrDecryptError       = errors.New("mbus: decryption failed")
	ErrMacVerifyFailed    = errors.New("mbus: MAC verification failed")
	ErrUnsupportedVif     = errors.New("mbus: unsupported VIF")
)
