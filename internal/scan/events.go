package scan

import (
	"github.com/chaz8081/beacon-scanner/internal/beacon"
	"github.com/chaz8081/beacon-scanner/internal/ble"
	"github.com/chaz8081/beacon-scanner/internal/region"
)

// RegionState is the normalized inside/outside classification of a region.
type RegionState int

const (
	StateUnknown RegionState = iota
	StateInside
	StateOutside
)

// ParseState normalizes a state reported by the detection engine.
func ParseState(state int) RegionState {
	switch state {
	case ble.Inside:
		return StateInside
	case ble.Outside:
		return StateOutside
	default:
		return StateUnknown
	}
}

func (s RegionState) String() string {
	switch s {
	case StateInside:
		return "INSIDE"
	case StateOutside:
		return "OUTSIDE"
	default:
		return "UNKNOWN"
	}
}

// RangingEvent carries the beacons visible in one region for one engine callback.
type RangingEvent struct {
	Region  *region.Region
	Beacons []*beacon.Beacon
}

// Descriptor returns the structural form: {region, beacons}.
func (e RangingEvent) Descriptor() map[string]any {
	return map[string]any{
		"region":  region.Descriptor(e.Region),
		"beacons": beacon.Descriptors(e.Beacons),
	}
}

// MonitoringKind discriminates monitoring events.
type MonitoringKind string

const (
	EventEnter           MonitoringKind = "enter"
	EventExit            MonitoringKind = "exit"
	EventStateDetermined MonitoringKind = "stateDetermined"
)

// MonitoringEvent is a single region boundary event. State is only
// meaningful for EventStateDetermined.
type MonitoringEvent struct {
	Kind   MonitoringKind
	Region *region.Region
	State  RegionState
}

// Descriptor returns the structural form: {event, region, state?}.
func (e MonitoringEvent) Descriptor() map[string]any {
	m := map[string]any{
		"event":  string(e.Kind),
		"region": region.Descriptor(e.Region),
	}
	if e.Kind == EventStateDetermined {
		m["state"] = e.State.String()
	}
	return m
}
