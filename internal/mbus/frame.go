package mbus

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FrameType identifies which of the framing variants a raw buffer matched.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeSingleChar
	FrameTypeShort
	FrameTypeLong
	FrameTypeWirelessAPL
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeSingleChar:
		return "single-char"
	case FrameTypeShort:
		return "short"
	case FrameTypeLong:
		return "long"
	case FrameTypeWirelessAPL:
		return "wireless-apl"
	default:
		return "unknown"
	}
}

// Header is the link-layer header common to every framed telegram.
type Header struct {
	FrameType      FrameType
	Length         uint8
	Control        uint8
	Manufacturer   string
	Identification string // 8 hex digits, big-endian rendering of the little-endian A-field
	Address        uint8  // wired M-Bus primary address (short/long frames only)
	Version        uint8
	DeviceType     DeviceType
	CIField        uint8
	Encrypted      bool
}

// DeviceType is the 8-bit EN 13757-3 device/medium code.
type DeviceType uint8

const (
	DeviceOther                          DeviceType = 0x00
	DeviceOil                            DeviceType = 0x01
	DeviceElectricity                    DeviceType = 0x02
	DeviceGas                            DeviceType = 0x03
	DeviceHeat                           DeviceType = 0x04
	DeviceSteam                          DeviceType = 0x05
	DeviceWarmWater                      DeviceType = 0x06
	DeviceWater                          DeviceType = 0x07
	DeviceHeatCostAllocator              DeviceType = 0x08
	DeviceCompressedAir                  DeviceType = 0x09
	DeviceCoolingLoadMeter               DeviceType = 0x0A
	DeviceCoolingLoadMeterReturn         DeviceType = 0x0B
	DeviceHeatMeterReturn                DeviceType = 0x0C
	DeviceHeatCoolingLoadMeter           DeviceType = 0x0D
	DeviceBusSystemComponent             DeviceType = 0x0E
	DeviceUnknown                        DeviceType = 0x0F
	DeviceColdWater                      DeviceType = 0x16
	DeviceDualWater                      DeviceType = 0x17
	DevicePressure                       DeviceType = 0x18
	DeviceADConverter                    DeviceType = 0x19
	DeviceHotWater                       DeviceType = 0x11
	DeviceRoomSensor                     DeviceType = 0x1A
	DeviceCommunicationController        DeviceType = 0x21
	DeviceMultiUtilityComController      DeviceType = 0x25
)

func (d DeviceType) String() string {
	switch d {
	case DeviceOther:
		return "other"
	case DeviceOil:
		return "oil"
	case DeviceElectricity:
		return "electricity"
	case DeviceGas:
		return "gas"
	case DeviceHeat:
		return "heat"
	case DeviceSteam:
		return "steam"
	case DeviceWarmWater:
		return "warm water"
	case DeviceWater:
		return "water"
	case DeviceHeatCostAllocator:
		return "heat cost allocator"
	case DeviceCoolingLoadMeter:
		return "cooling load meter"
	case DeviceHeatCoolingLoadMeter:
		return "heat/cooling load meter"
	case DeviceHotWater:
		return "hot water"
	case DeviceColdWater:
		return "cold water"
	case DeviceDualWater:
		return "dual water"
	case DeviceRoomSensor:
		return "room sensor"
	case DeviceCommunicationController:
		return "communication controller"
	case DeviceMultiUtilityComController:
		return "multi-utility communication controller"
	default:
		return fmt.Sprintf("device-type-0x%02x", uint8(d))
	}
}

// ParseHeader recognises the framing variant of raw and extracts its
// link-layer header. The returned payload slice is the portion of raw
// that follows the header and, for encrypted telegrams, still needs
// security.Decrypt applied before ParseDataRecords can walk it.
func ParseHeader(raw []byte) (*Header, []byte, error) {
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("%w: empty frame", ErrShortFrame)
	}

	if len(raw) == 1 && raw[0] == 0xE5 {
		return &Header{FrameType: FrameTypeSingleChar}, nil, nil
	}

	switch {
	case raw[0] == 0x10:
		return parseShortFrame(raw)
	case raw[0] == 0x68:
		return parseLongFrame(raw)
	case raw[0]&0xF0 == 0x40:
		return parseWirelessFrame(raw)
	default:
		return nil, nil, fmt.Errorf("%w: unrecognised start byte 0x%02x", ErrFramingError, raw[0])
	}
}

func parseShortFrame(raw []byte) (*Header, []byte, error) {
	if len(raw) < 5 {
		return nil, nil, fmt.Errorf("%w: short frame requires 5 bytes, got %d", ErrShortFrame, len(raw))
	}
	c, a, crc, stop := raw[1], raw[2], raw[3], raw[4]
	if stop != 0x16 {
		return nil, nil, fmt.Errorf("%w: short frame missing stop byte", ErrFramingError)
	}
	if got := CRC([]byte{c, a}); got != crc {
		return nil, nil, fmt.Errorf("%w: short frame CRC mismatch: got 0x%02x want 0x%02x", ErrFramingError, got, crc)
	}
	h := &Header{
		FrameType: FrameTypeShort,
		Control:   c,
		Address:   a,
		Encrypted: c&0x05 != 0,
	}
	h.Identification = fmt.Sprintf("%08X", a)
	return h, nil, nil
}

func parseLongFrame(raw []byte) (*Header, []byte, error) {
	if len(raw) < 6 {
		return nil, nil, fmt.Errorf("%w: long frame requires at least 6 bytes, got %d", ErrShortFrame, len(raw))
	}
	l1, l2 := raw[1], raw[2]
	if l1 != l2 {
		return nil, nil, fmt.Errorf("%w: long frame length bytes disagree: 0x%02x != 0x%02x", ErrFramingError, l1, l2)
	}
	if raw[3] != 0x68 {
		return nil, nil, fmt.Errorf("%w: long frame missing second start byte", ErrFramingError)
	}
	total := 4 + int(l1) + 2 // 0x68 L L 0x68 [C A CI ... data] CRC 0x16
	if len(raw) < total {
		return nil, nil, fmt.Errorf("%w: long frame shorter than declared length", ErrShortFrame)
	}
	if raw[total-1] != 0x16 {
		return nil, nil, fmt.Errorf("%w: long frame missing stop byte", ErrFramingError)
	}
	body := raw[4 : 4+int(l1)] // C A CI ... data
	crc := raw[4+int(l1)]
	if got := CRC(body); got != crc {
		return nil, nil, fmt.Errorf("%w: long frame CRC mismatch: got 0x%02x want 0x%02x", ErrFramingError, got, crc)
	}
	if len(body) < 3 {
		return nil, nil, fmt.Errorf("%w: long frame body missing C/A/CI", ErrShortFrame)
	}
	c, a, ci := body[0], body[1], body[2]
	h := &Header{
		FrameType: FrameTypeLong,
		Control:   c,
		Address:   a,
		CIField:   ci,
		Encrypted: c&0x05 != 0,
	}
	h.Identification = fmt.Sprintf("%08X", a)
	return h, body[3:], nil
}

func parseWirelessFrame(raw []byte) (*Header, []byte, error) {
	if len(raw) < 10 {
		return nil, nil, fmt.Errorf("%w: wireless frame requires at least 10 bytes, got %d", ErrShortFrame, len(raw))
	}
	length := raw[0]
	control := raw[1]
	mfctCode := uint16(raw[2]) | uint16(raw[3])<<8
	mfct, err := DecodeManufacturer(mfctCode)
	if err != nil {
		return nil, nil, err
	}
	ident := fmt.Sprintf("%02x%02x%02x%02x", raw[7], raw[6], raw[5], raw[4])
	version := raw[8]
	devType := DeviceType(raw[9])

	h := &Header{
		FrameType:      FrameTypeWirelessAPL,
		Length:         length,
		Control:        control,
		Manufacturer:   mfct,
		Identification: ident,
		Version:        version,
		DeviceType:     devType,
		Encrypted:      control&0x05 != 0,
	}
	var payload []byte
	if len(raw) > 10 {
		h.CIField = raw[10]
		payload = raw[10:]
	}
	return h, payload, nil
}

// ParseHex decodes a whitespace-tolerant hex string into bytes.
func ParseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}
