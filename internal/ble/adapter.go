// Package ble provides the beacon detection engine: a radio scanner
// abstraction, the tinygo bluetooth implementation of it, and the Engine that
// turns raw advertisements into per-region ranging and monitoring callbacks.
package ble

import (
	"context"
	"errors"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
	"github.com/chaz8081/beacon-scanner/internal/region"
)

// Region states reported through MonitorNotifier.StateChanged.
const (
	Outside = 0
	Inside  = 1
)

var (
	// ErrNotBound is returned by start calls issued before Bind completed.
	ErrNotBound = errors.New("ble: service not bound")
	// ErrRegionNotActive is returned when stopping a region that was never started.
	ErrRegionNotActive = errors.New("ble: region not active")
	// ErrAdapterOff is reported to the bind handler when the radio is powered off.
	ErrAdapterOff = errors.New("ble: adapter powered off")
)

// ManufacturerData is one manufacturer-specific element of an advertisement.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// Advertisement is a single received advertising packet.
type Advertisement struct {
	Address      string
	LocalName    string
	RSSI         int
	Manufacturer []ManufacturerData
}

// Scanner abstracts the BLE hardware adapter for testing.
type Scanner interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports every received advertisement to handler until ctx is
	// cancelled or the scan fails. The handler runs on the scanner's goroutine.
	Scan(ctx context.Context, handler func(Advertisement)) error
}

// BindHandler receives the outcome of a Bind request: nil once the service is
// connected, the failure otherwise.
type BindHandler func(err error)

// RangeNotifier receives the beacons visible in one region during one
// ranging period.
type RangeNotifier func(beacons []*beacon.Beacon, r *region.Region)

// MonitorNotifier receives region boundary events. State is Inside or Outside.
type MonitorNotifier struct {
	Enter        func(r *region.Region)
	Exit         func(r *region.Region)
	StateChanged func(state int, r *region.Region)
}

// Service is the detection engine as seen by its consumers. Start and stop
// calls are requests; results arrive through the registered notifiers.
type Service interface {
	// Bind requests a connection to the scanning service. It never invokes
	// handler before returning; a returned error means the request was refused.
	Bind(handler BindHandler) error
	// Unbind releases the service and stops every active region.
	Unbind() error

	StartRanging(r *region.Region) error
	StopRanging(r *region.Region) error
	StartMonitoring(r *region.Region) error
	StopMonitoring(r *region.Region) error

	// SetRangeNotifier replaces the ranging notifier. Monitoring is unaffected.
	SetRangeNotifier(n RangeNotifier)
	ClearRangeNotifier()
	// SetMonitorNotifier replaces the monitoring notifier. Ranging is unaffected.
	SetMonitorNotifier(n MonitorNotifier)
	ClearMonitorNotifier()
}
