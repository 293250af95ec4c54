package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AppleCompanyID is the Bluetooth SIG company identifier carried by iBeacon
// manufacturer data.
const AppleCompanyID uint16 = 0x004C

// iBeacon manufacturer payload (after the company ID):
//
//	0x02 0x15 | uuid(16) | major(2, BE) | minor(2, BE) | tx power(1, signed)
const (
	iBeaconType    = 0x02
	iBeaconLength  = 0x15
	iBeaconPayload = 2 + iBeaconLength
)

// ErrNotIBeacon is returned for manufacturer data that is not an iBeacon frame.
var ErrNotIBeacon = errors.New("beacon: not an iBeacon frame")

// Frame is the decoded content of an iBeacon advertisement.
type Frame struct {
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	TxPower       int
}

// ParseIBeacon decodes the manufacturer data of an advertisement. data excludes
// the two company ID bytes, matching how scan results expose it.
func ParseIBeacon(companyID uint16, data []byte) (Frame, error) {
	if companyID != AppleCompanyID {
		return Frame{}, ErrNotIBeacon
	}
	if len(data) < iBeaconPayload || data[0] != iBeaconType || data[1] != iBeaconLength {
		return Frame{}, ErrNotIBeacon
	}
	id, err := uuid.FromBytes(data[2:18])
	if err != nil {
		return Frame{}, fmt.Errorf("beacon: proximity uuid: %w", err)
	}
	return Frame{
		ProximityUUID: id,
		Major:         binary.BigEndian.Uint16(data[18:20]),
		Minor:         binary.BigEndian.Uint16(data[20:22]),
		TxPower:       int(int8(data[22])),
	}, nil
}

// Beacon builds a detected beacon from a decoded frame and the signal it was
// received with.
func (f Frame) Beacon(mac string, rssi int, raw []byte) *Beacon {
	data := make([]byte, len(raw))
	copy(data, raw)
	return &Beacon{
		ProximityUUID: f.ProximityUUID,
		Major:         f.Major,
		Minor:         f.Minor,
		RSSI:          rssi,
		TxPower:       f.TxPower,
		Accuracy:      EstimateDistance(f.TxPower, rssi),
		MAC:           mac,
		Data:          data,
	}
}

// AppendIBeacon encodes a frame into manufacturer data (without company ID).
// Used by simulators and tests.
func AppendIBeacon(buf []byte, f Frame) []byte {
	buf = append(buf, iBeaconType, iBeaconLength)
	buf = append(buf, f.ProximityUUID[:]...)
	buf = binary.BigEndian.AppendUint16(buf, f.Major)
	buf = binary.BigEndian.AppendUint16(buf, f.Minor)
	return append(buf, byte(int8(f.TxPower)))
}
