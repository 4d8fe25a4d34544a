// Package driver implements the device-specific post-processing
// contract that turns a telegram's generic data records into a
// canonical reading, plus a static, insertion-ordered registry in
// place of the runtime driver-loading the reference implementation
// used (see DESIGN.md / spec redesign notes).
package driver

import (
	"fmt"
	"strings"

	"github.com/agsys/mbus-decoder/internal/mbus"
)

// Reading is a device-specific mapping from canonical field name to value.
type Reading map[string]interface{}

// Driver declares the manufacturer/device-type/version constraints it
// accepts and how to turn a telegram's records into a Reading. An
// empty constraint set matches anything, per CanHandle's rule.
type Driver struct {
	Name              string
	Description       string
	ManufacturerCodes map[string]bool
	DeviceTypes       map[mbus.DeviceType]bool
	Versions          map[uint8]bool
	Process           func(header *mbus.Header, records []mbus.DataRecord) Reading
}

// CanHandle reports whether d accepts header: every non-empty
// constraint set must contain the header's corresponding field.
func (d *Driver) CanHandle(header *mbus.Header) bool {
	if len(d.ManufacturerCodes) > 0 && !d.ManufacturerCodes[header.Manufacturer] {
		return false
	}
	if len(d.DeviceTypes) > 0 && !d.DeviceTypes[header.DeviceType] {
		return false
	}
	if len(d.Versions) > 0 && !d.Versions[header.Version] {
		return false
	}
	return true
}

// Registry holds drivers in registration order and dispatches by
// linear search, first-match-wins — a stable, static substitute for
// filesystem-scanned driver discovery.
type Registry struct {
	drivers []*Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a driver to the registry. Order matters: register
// specific drivers before generic fallbacks.
func (r *Registry) Register(d *Driver) {
	r.drivers = append(r.drivers, d)
}

// Dispatch returns the first registered driver that accepts header, or
// nil if none does.
func (r *Registry) Dispatch(header *mbus.Header) *Driver {
	for _, d := range r.drivers {
		if d.CanHandle(header) {
			return d
		}
	}
	return nil
}

// Process finds the first accepting driver and runs it, returning an
// error if no driver accepts the header.
func (r *Registry) Process(header *mbus.Header, records []mbus.DataRecord) (Reading, error) {
	d := r.Dispatch(header)
	if d == nil {
		return nil, fmt.Errorf("driver: no registered driver handles manufacturer=%s device_type=%s", header.Manufacturer, header.DeviceType)
	}
	return d.Process(header, records), nil
}

// Names returns the registered driver names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.drivers))
	for i, d := range r.drivers {
		names[i] = d.Name
	}
	return names
}

// SuggestionTable implements the two-level (as written; three lookup
// stages as literally described) suggestion lookup used by the
// analyzer and discovery tooling: an exact (manufacturer, device type)
// mapping, then a per-manufacturer list, then a per-device-type list
// of generic drivers, falling back to "auto" when nothing matches.
type SuggestionTable struct {
	exact        map[suggestionKey]string
	byManufacturer map[string][]string
	byDeviceType map[mbus.DeviceType][]string
}

type suggestionKey struct {
	manufacturer string
	deviceType   mbus.DeviceType
}

// NewSuggestionTable creates an empty suggestion table.
func NewSuggestionTable() *SuggestionTable {
	return &SuggestionTable{
		exact:          make(map[suggestionKey]string),
		byManufacturer: make(map[string][]string),
		byDeviceType:   make(map[mbus.DeviceType][]string),
	}
}

// AddExact registers the driver name for an exact (manufacturer, device type) pair.
func (t *SuggestionTable) AddExact(manufacturer string, deviceType mbus.DeviceType, driverName string) {
	t.exact[suggestionKey{manufacturer, deviceType}] = driverName
}

// AddManufacturer appends a fallback driver name for a manufacturer
// (used when no exact match exists).
func (t *SuggestionTable) AddManufacturer(manufacturer string, driverName string) {
	t.byManufacturer[manufacturer] = append(t.byManufacturer[manufacturer], driverName)
}

// AddDeviceType appends a generic fallback driver name for a device
// type (used when neither an exact nor a manufacturer match exists).
func (t *SuggestionTable) AddDeviceType(deviceType mbus.DeviceType, driverName string) {
	t.byDeviceType[deviceType] = append(t.byDeviceType[deviceType], driverName)
}

// Confidence reports how specific a suggestion match was.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "none"
	}
}

// Suggest returns the candidate driver names for (manufacturer,
// deviceType) and a confidence describing which lookup stage matched.
func (t *SuggestionTable) Suggest(manufacturer string, deviceType mbus.DeviceType) ([]string, Confidence) {
	if name, ok := t.exact[suggestionKey{manufacturer, deviceType}]; ok {
		return []string{name}, ConfidenceHigh
	}
	if names, ok := t.byManufacturer[manufacturer]; ok && len(names) > 0 {
		return names, ConfidenceMedium
	}
	if names, ok := t.byDeviceType[deviceType]; ok && len(names) > 0 {
		return names, ConfidenceLow
	}
	return []string{"auto"}, ConfidenceNone
}

// canonicalKey turns a human description ("Volume Flow") into a
// canonical snake_case reading key ("volume_flow"), used by the
// generic pass-through driver.
func canonicalKey(description string) string {
	description = strings.ToLower(description)
	description = strings.ReplaceAll(description, " ", "_")
	description = strings.ReplaceAll(description, "/", "_")
	description = strings.ReplaceAll(description, ".", "")
	return description
}
