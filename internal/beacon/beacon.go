// Package beacon describes beacons detected by the scanning engine and decodes
// the iBeacon advertisement frame they are recognised by.
package beacon

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Log-distance path loss exponent used for the distance estimate. Indoor
// environments sit between 2 and 3.
const PathLossExponent = 2.5

// Beacon is a single detected beacon as reported by the scanning engine.
// Values are relayed to consumers unchanged.
type Beacon struct {
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	RSSI          int
	TxPower       int     // calibrated RSSI at 1m, from the advertisement
	Accuracy      float64 // estimated distance in metres, -1 when unknown
	MAC           string
	Data          []byte // raw manufacturer payload
}

// Key identifies a beacon by its identifier triplet.
func (b *Beacon) Key() string {
	return fmt.Sprintf("%s/%d/%d", b.ProximityUUID, b.Major, b.Minor)
}

// EstimateDistance returns the log-distance estimate in metres for a received
// signal strength, or -1 if either value is unusable.
func EstimateDistance(txPower, rssi int) float64 {
	if rssi == 0 || txPower == 0 {
		return -1
	}
	d := math.Pow(10, float64(txPower-rssi)/(10*PathLossExponent))
	return math.Round(d*100) / 100
}

// Descriptor maps a beacon to the structural form delivered to consumers.
func Descriptor(b *Beacon) map[string]any {
	m := map[string]any{
		"proximityUUID": strings.ToUpper(b.ProximityUUID.String()),
		"major":         int(b.Major),
		"minor":         int(b.Minor),
		"rssi":          b.RSSI,
		"txPower":       b.TxPower,
		"accuracy":      b.Accuracy,
	}
	if b.MAC != "" {
		m["macAddress"] = b.MAC
	}
	if len(b.Data) > 0 {
		m["data"] = hex.EncodeToString(b.Data)
	}
	return m
}

// Descriptors maps every beacon in order. A nil input yields an empty, non-nil slice.
func Descriptors(beacons []*Beacon) []map[string]any {
	out := make([]map[string]any, 0, len(beacons))
	for _, b := range beacons {
		out = append(out, Descriptor(b))
	}
	return out
}
