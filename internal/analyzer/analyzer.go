// Package analyzer implements the stateful aggregation layer over a
// stream of telegrams: per-meter statistics, transmission interval
// estimation, bounded history, and telegram-to-telegram diffing.
package analyzer

import (
	"sync"
	"time"

	"github.com/agsys/mbus-decoder/internal/driver"
	"github.com/agsys/mbus-decoder/internal/mbus"
)

const (
	// SummaryHistoryCap bounds the ring kept for quick per-meter summaries.
	SummaryHistoryCap = 5
	// FullHistoryCap bounds the full rolling history kept per meter.
	FullHistoryCap = 100
	// intervalWeight is the EMA weight given to each new sample.
	intervalWeight = 0.2
)

// Registration is a stable user-facing binding from a meter
// identification to a driver and decryption key.
type Registration struct {
	Name           string
	Identification string
	DriverName     string
	LinkMode       string
	Key            []byte // nil if the meter is not encrypted
}

// HistoryEntry is one bounded-ring entry: the raw frame plus when it arrived.
type HistoryEntry struct {
	Raw       []byte
	Records   []mbus.DataRecord
	Timestamp time.Time
}

// MeterState is the per-meter aggregate the analyzer maintains.
type MeterState struct {
	Registration    Registration
	LastHeader      *mbus.Header
	LastRecords     []mbus.DataRecord
	LastUpdate      time.Time
	TelegramCount   int
	MeanIntervalSec float64
	EncryptedCount  int
	history         []HistoryEntry // newest last, capped at FullHistoryCap
}

// Summary returns up to SummaryHistoryCap of the most recent history entries.
func (m *MeterState) Summary() []HistoryEntry {
	if len(m.history) <= SummaryHistoryCap {
		return append([]HistoryEntry(nil), m.history...)
	}
	return append([]HistoryEntry(nil), m.history[len(m.history)-SummaryHistoryCap:]...)
}

// History returns the full bounded history.
func (m *MeterState) History() []HistoryEntry {
	return append([]HistoryEntry(nil), m.history...)
}

// Analyzer aggregates telegrams into per-meter state. Safe for
// concurrent use: the meter map is guarded by a mutex, following the
// same pattern the teacher's Engine uses for its device registry, so a
// gateway receiver goroutine and a CLI inspection command can drive it
// concurrently without the caller needing its own lock.
type Analyzer struct {
	mu       sync.RWMutex
	meters   map[string]*MeterState
	registry *driver.Registry
	suggest  *driver.SuggestionTable
}

// New creates an Analyzer. registry and suggest may be nil. Process
// does not consult registry and never maps records through a driver;
// when suggest is nil, Discover always suggests "auto".
func New(registry *driver.Registry, suggest *driver.SuggestionTable) *Analyzer {
	return &Analyzer{
		meters:   make(map[string]*MeterState),
		registry: registry,
		suggest:  suggest,
	}
}

// Register installs (or replaces) a meter registration.
func (a *Analyzer) Register(reg Registration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.meters[reg.Identification]
	if !ok {
		state = &MeterState{}
		a.meters[reg.Identification] = state
	}
	state.Registration = reg
}

// Process records a decoded telegram's observation against its
// meter's state, updating the transmission-interval EMA and bounded
// history. now is passed in rather than taken from time.Now() so
// callers (and tests) control the clock.
func (a *Analyzer) Process(header *mbus.Header, records []mbus.DataRecord, raw []byte, now time.Time) *MeterState {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.meters[header.Identification]
	if !ok {
		state = &MeterState{Registration: Registration{Identification: header.Identification}}
		a.meters[header.Identification] = state
	}

	if state.TelegramCount > 0 {
		delta := now.Sub(state.LastUpdate).Seconds()
		if delta > 0 {
			if state.MeanIntervalSec == 0 {
				state.MeanIntervalSec = delta
			} else {
				state.MeanIntervalSec = 0.8*state.MeanIntervalSec + intervalWeight*delta
			}
		}
	}

	state.LastHeader = header
	state.TelegramCount++
	state.LastUpdate = now
	if header.Encrypted {
		state.EncryptedCount++
	}
	if records != nil {
		state.LastRecords = records
	}

	state.history = append(state.history, HistoryEntry{Raw: raw, Records: records, Timestamp: now})
	if len(state.history) > FullHistoryCap {
		state.history = state.history[len(state.history)-FullHistoryCap:]
	}

	return state
}

// Get returns the state for a meter identification, or nil if unknown.
func (a *Analyzer) Get(identification string) *MeterState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.meters[identification]
}

// All returns a snapshot of every known meter's state, keyed by identification.
func (a *Analyzer) All() map[string]*MeterState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]*MeterState, len(a.meters))
	for k, v := range a.meters {
		out[k] = v
	}
	return out
}

// EncryptedFraction returns the fraction of all observed telegrams,
// across every known meter, that were encrypted.
func (a *Analyzer) EncryptedFraction() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total, encrypted int
	for _, m := range a.meters {
		total += m.TelegramCount
		encrypted += m.EncryptedCount
	}
	if total == 0 {
		return 0
	}
	return float64(encrypted) / float64(total)
}

// TypeDistribution returns a count of known meters by device type name.
func (a *Analyzer) TypeDistribution() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	dist := make(map[string]int)
	for _, m := range a.meters {
		if m.LastHeader == nil {
			continue
		}
		dist[m.LastHeader.DeviceType.String()]++
	}
	return dist
}

// DiscoverySuggestion is the result of a first-sighting lookup.
type DiscoverySuggestion struct {
	DriverNames []string
	Confidence  driver.Confidence
}

// Discover returns the suggested drivers for the header's
// (manufacturer, device type) pair, on every call, and whether the
// meter counts as new: never seen before, or seen without a registered
// driver.
func (a *Analyzer) Discover(header *mbus.Header) (DiscoverySuggestion, bool) {
	a.mu.RLock()
	state, known := a.meters[header.Identification]
	a.mu.RUnlock()

	isNew := !known || state.Registration.DriverName == ""

	var suggestion DiscoverySuggestion
	if a.suggest != nil {
		names, confidence := a.suggest.Suggest(header.Manufacturer, header.DeviceType)
		suggestion = DiscoverySuggestion{DriverNames: names, Confidence: confidence}
	} else {
		suggestion = DiscoverySuggestion{DriverNames: []string{"auto"}, Confidence: driver.ConfidenceNone}
	}
	return suggestion, isNew
}

// RecordDiffKey identifies a record across two telegrams for diffing.
type RecordDiffKey struct {
	Description string
	Unit        string
	Storage     uint32
	Tariff      uint16
}

// DiffResult partitions two telegrams' records by comparison outcome.
type DiffResult struct {
	Unchanged []RecordDiffKey
	Changed   map[RecordDiffKey]ChangedValue
	FirstOnly []RecordDiffKey
	LastOnly  []RecordDiffKey
}

// ChangedValue is the before/after pair for a changed record, with a
// numeric delta when both sides are numeric.
type ChangedValue struct {
	Old, New   mbus.Value
	HasDelta   bool
	Delta      float64
}

// Diff compares two telegrams' records (typically two observations of
// the same meter) keyed by (description, unit, storage, tariff).
func Diff(first, second []mbus.DataRecord) DiffResult {
	result := DiffResult{Changed: make(map[RecordDiffKey]ChangedValue)}

	firstByKey := make(map[RecordDiffKey]mbus.DataRecord, len(first))
	for _, r := range first {
		firstByKey[diffKey(r)] = r
	}
	secondByKey := make(map[RecordDiffKey]mbus.DataRecord, len(second))
	for _, r := range second {
		secondByKey[diffKey(r)] = r
	}

	for key, oldRec := range firstByKey {
		newRec, ok := secondByKey[key]
		if !ok {
			result.FirstOnly = append(result.FirstOnly, key)
			continue
		}
		if valuesEqual(oldRec.Value, newRec.Value) {
			result.Unchanged = append(result.Unchanged, key)
			continue
		}
		cv := ChangedValue{Old: oldRec.Value, New: newRec.Value}
		if oldNum, ok1 := numeric(oldRec.Value); ok1 {
			if newNum, ok2 := numeric(newRec.Value); ok2 {
				cv.HasDelta = true
				cv.Delta = newNum - oldNum
			}
		}
		result.Changed[key] = cv
	}
	for key := range secondByKey {
		if _, ok := firstByKey[key]; !ok {
			result.LastOnly = append(result.LastOnly, key)
		}
	}

	return result
}

func diffKey(r mbus.DataRecord) RecordDiffKey {
	return RecordDiffKey{Description: r.Description, Unit: r.Unit, Storage: r.Storage, Tariff: r.Tariff}
}

func valuesEqual(a, b mbus.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case mbus.ValueInt:
		return a.Int == b.Int
	case mbus.ValueFloat:
		return a.Float == b.Float
	case mbus.ValueText:
		return a.Text == b.Text
	case mbus.ValueDate, mbus.ValueDateTime:
		return a.Time.Equal(b.Time)
	default:
		return string(a.Bytes) == string(b.Bytes)
	}
}

func numeric(v mbus.Value) (float64, bool) {
	switch v.Kind {
	case mbus.ValueInt:
		return float64(v.Int), true
	case mbus.ValueFloat:
		return v.Float, true
	default:
		return 0, false
	}
}
