package analyzer

import (
	"testing"
	"time"

	"github.com/agsys/mbus-decoder/internal/driver"
	"github.com/agsys/mbus-decoder/internal/mbus"
)

func testHeader(identification string) *mbus.Header {
	return &mbus.Header{Identification: identification, Manufacturer: "KAM", DeviceType: mbus.DeviceWater}
}

func TestProcessComputesMeanIntervalEMA(t *testing.T) {
	a := New(nil, nil)
	h := testHeader("12345678")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.Process(h, nil, nil, base)
	state := a.Process(h, nil, nil, base.Add(10*time.Second))
	if state.MeanIntervalSec != 10 {
		t.Fatalf("first interval = %v, want 10 (seeded directly)", state.MeanIntervalSec)
	}

	state = a.Process(h, nil, nil, base.Add(20*time.Second))
	want := 0.8*10 + 0.2*10
	if state.MeanIntervalSec != want {
		t.Fatalf("second interval EMA = %v, want %v", state.MeanIntervalSec, want)
	}
	if state.TelegramCount != 3 {
		t.Fatalf("TelegramCount = %d, want 3", state.TelegramCount)
	}
}

func TestProcessTracksEncryptedCount(t *testing.T) {
	a := New(nil, nil)
	encrypted := &mbus.Header{Identification: "1", Encrypted: true}
	plain := &mbus.Header{Identification: "1", Encrypted: false}
	now := time.Now()

	a.Process(encrypted, nil, nil, now)
	a.Process(plain, nil, nil, now.Add(time.Second))
	a.Process(encrypted, nil, nil, now.Add(2*time.Second))

	state := a.Get("1")
	if state.EncryptedCount != 2 || state.TelegramCount != 3 {
		t.Fatalf("EncryptedCount/TelegramCount = %d/%d, want 2/3", state.EncryptedCount, state.TelegramCount)
	}
	if got := a.EncryptedFraction(); got < 0.66 || got > 0.67 {
		t.Fatalf("EncryptedFraction = %v, want ~0.667", got)
	}
}

func TestHistoryCappedAtFullHistoryCap(t *testing.T) {
	a := New(nil, nil)
	h := testHeader("1")
	now := time.Now()
	for i := 0; i < FullHistoryCap+10; i++ {
		a.Process(h, nil, []byte{byte(i)}, now.Add(time.Duration(i)*time.Second))
	}
	state := a.Get("1")
	history := state.History()
	if len(history) != FullHistoryCap {
		t.Fatalf("history length = %d, want %d", len(history), FullHistoryCap)
	}
	// Newest entries are kept, oldest dropped.
	if history[len(history)-1].Raw[0] != byte(FullHistoryCap+9) {
		t.Fatalf("expected the most recent entry to survive the cap")
	}
}

func TestSummaryCappedAtFive(t *testing.T) {
	a := New(nil, nil)
	h := testHeader("1")
	now := time.Now()
	for i := 0; i < 20; i++ {
		a.Process(h, nil, nil, now.Add(time.Duration(i)*time.Second))
	}
	summary := a.Get("1").Summary()
	if len(summary) != SummaryHistoryCap {
		t.Fatalf("Summary length = %d, want %d", len(summary), SummaryHistoryCap)
	}
}

func TestTypeDistribution(t *testing.T) {
	a := New(nil, nil)
	now := time.Now()
	a.Process(&mbus.Header{Identification: "1", DeviceType: mbus.DeviceWater}, nil, nil, now)
	a.Process(&mbus.Header{Identification: "2", DeviceType: mbus.DeviceGas}, nil, nil, now)
	a.Process(&mbus.Header{Identification: "3", DeviceType: mbus.DeviceWater}, nil, nil, now)

	dist := a.TypeDistribution()
	if dist["water"] != 2 || dist["gas"] != 1 {
		t.Fatalf("TypeDistribution = %v, want water:2 gas:1", dist)
	}
}

func TestDiscoverReportsNewMeterAndConfidence(t *testing.T) {
	table := driver.NewSuggestionTable()
	table.AddExact("KAM", mbus.DeviceWater, "water")
	reg := driver.NewRegistry()
	a := New(reg, table)

	h := testHeader("12345678")
	suggestion, isNew := a.Discover(h)
	if !isNew {
		t.Fatalf("expected an unseen meter to be reported as new")
	}
	if suggestion.Confidence != driver.ConfidenceHigh || len(suggestion.DriverNames) != 1 || suggestion.DriverNames[0] != "water" {
		t.Fatalf("suggestion = %+v, want water/high", suggestion)
	}

	a.Register(Registration{Identification: "12345678", DriverName: "water"})
	_, isNew = a.Discover(h)
	if isNew {
		t.Fatalf("expected a registered meter with a driver to no longer be reported as new")
	}
}

func TestDiffPartitionsRecords(t *testing.T) {
	unchanged := mbus.DataRecord{Description: "Volume", Unit: "m³", Value: mbus.Value{Kind: mbus.ValueFloat, Float: 1.0}}
	changedOld := mbus.DataRecord{Description: "Volume Flow", Unit: "m³/h", Value: mbus.Value{Kind: mbus.ValueFloat, Float: 1.0}}
	changedNew := mbus.DataRecord{Description: "Volume Flow", Unit: "m³/h", Value: mbus.Value{Kind: mbus.ValueFloat, Float: 2.5}}
	firstOnly := mbus.DataRecord{Description: "Error", Unit: "", Value: mbus.Value{Kind: mbus.ValueInt, Int: 0}}
	lastOnly := mbus.DataRecord{Description: "Power", Unit: "W", Value: mbus.Value{Kind: mbus.ValueInt, Int: 5}}

	result := Diff(
		[]mbus.DataRecord{unchanged, changedOld, firstOnly},
		[]mbus.DataRecord{unchanged, changedNew, lastOnly},
	)

	if len(result.Unchanged) != 1 {
		t.Fatalf("Unchanged = %v, want 1 entry", result.Unchanged)
	}
	if len(result.FirstOnly) != 1 || result.FirstOnly[0].Description != "Error" {
		t.Fatalf("FirstOnly = %v, want [Error]", result.FirstOnly)
	}
	if len(result.LastOnly) != 1 || result.LastOnly[0].Description != "Power" {
		t.Fatalf("LastOnly = %v, want [Power]", result.LastOnly)
	}
	if len(result.Changed) != 1 {
		t.Fatalf("Changed = %v, want 1 entry", result.Changed)
	}
	for key, cv := range result.Changed {
		if key.Description != "Volume Flow" {
			t.Fatalf("unexpected changed key %v", key)
		}
		if !cv.HasDelta || cv.Delta != 1.5 {
			t.Fatalf("Delta = %v (HasDelta=%v), want 1.5", cv.Delta, cv.HasDelta)
		}
	}
}
