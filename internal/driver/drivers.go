package driver

import (
	"github.com/agsys/mbus-decoder/internal/mbus"
)

// NewWaterDriver returns the illustrative "water" driver: maps a
// Volume record to total_m3, a Volume Flow record to flow_m3h, and an
// Error record to status (each converted to a float64).
// Generalised from the shape of a Kamstrup/Qundis-style water meter
// telegram rather than translated from any single reference driver.
func NewWaterDriver() *Driver {
	return &Driver{
		Name:        "water",
		Description: "Generic water/warm-water/cold-water meter",
		DeviceTypes: map[mbus.DeviceType]bool{
			mbus.DeviceWater:     true,
			mbus.DeviceColdWater: true,
			mbus.DeviceHotWater:  true,
			mbus.DeviceWarmWater: true,
			mbus.DeviceDualWater: true,
		},
		Process: func(header *mbus.Header, records []mbus.DataRecord) Reading {
			reading := Reading{}
			for _, r := range records {
				switch r.Description {
				case "Volume":
					reading["total_m3"] = valueAsFloat(r.Value)
				case "Volume Flow":
					reading["flow_m3h"] = valueAsFloat(r.Value)
				case "Error":
					reading["status"] = valueAsFloat(r.Value)
				}
			}
			return reading
		},
	}
}

// NewGenericDriver returns the always-accepting fallback driver: every
// record's description becomes its canonical snake_case key. Register
// this last so it never shadows a more specific driver.
func NewGenericDriver() *Driver {
	return &Driver{
		Name:        "generic",
		Description: "Pass-through driver: canonicalised record descriptions",
		Process: func(header *mbus.Header, records []mbus.DataRecord) Reading {
			reading := Reading{}
			for _, r := range records {
				key := canonicalKey(r.Description)
				if key == "" {
					continue
				}
				reading[key] = valueAsInterface(r.Value)
			}
			return reading
		},
	}
}

func valueAsFloat(v mbus.Value) float64 {
	switch v.Kind {
	case mbus.ValueFloat:
		return v.Float
	case mbus.ValueInt:
		return float64(v.Int)
	default:
		return 0
	}
}

func valueAsInterface(v mbus.Value) interface{} {
	switch v.Kind {
	case mbus.ValueFloat:
		return v.Float
	case mbus.ValueInt:
		return v.Int
	case mbus.ValueText:
		return v.Text
	case mbus.ValueBytes:
		return v.Bytes
	case mbus.ValueDate, mbus.ValueDateTime:
		return v.Time
	default:
		return nil
	}
}

// DefaultRegistry builds the illustrative registry: water first, then
// the generic fallback.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewWaterDriver())
	r.Register(NewGenericDriver())
	return r
}

// DefaultSuggestionTable builds illustrative three-level suggestion
// data, generalised from the reference implementation's per-
// manufacturer/per-type driver_mapping tables (KAM, DME, LAS, ELS,
// TCH, QDS and similar water/heat manufacturers map to named drivers
// there); only the "water" and "generic" drivers exist in this
// repository, and they are the only names this table suggests.
func DefaultSuggestionTable() *SuggestionTable {
	t := NewSuggestionTable()
	t.AddExact("KAM", mbus.DeviceWater, "water")
	t.AddExact("QDS", mbus.DeviceWater, "water")
	t.AddExact("DME", mbus.DeviceWarmWater, "water")
	t.AddManufacturer("KAM", "water")
	t.AddManufacturer("LAS", "water")
	t.AddDeviceType(mbus.DeviceWater, "water")
	t.AddDeviceType(mbus.DeviceColdWater, "water")
	t.AddDeviceType(mbus.DeviceHotWater, "water")
	t.AddDeviceType(mbus.DeviceWarmWater, "water")
	t.AddDeviceType(mbus.DeviceHeat, "generic")
	t.AddDeviceType(mbus.DeviceGas, "generic")
	t.AddDeviceType(mbus.DeviceElectricity, "generic")
	return t
}
