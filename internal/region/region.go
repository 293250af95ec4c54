// Package region defines the watch targets beacons are ranged and monitored
// against, and the ordered per-feed set that holds them.
package region

import (
	"strings"

	"github.com/google/uuid"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
)

// Region names a criterion describing which beacons to watch for. Unset
// optional fields match any value. A Region is immutable once built; feeds
// and the engine compare regions by pointer identity.
type Region struct {
	identifier    string
	proximityUUID uuid.UUID
	major         *uint16
	minor         *uint16
	mac           string
}

// Option sets an optional matching field.
type Option func(*Region)

// WithUUID restricts the region to a proximity UUID.
func WithUUID(id uuid.UUID) Option { return func(r *Region) { r.proximityUUID = id } }

// WithMajor restricts the region to a major value.
func WithMajor(v uint16) Option { return func(r *Region) { r.major = &v } }

// WithMinor restricts the region to a minor value.
func WithMinor(v uint16) Option { return func(r *Region) { r.minor = &v } }

// WithMAC restricts the region to a single transmitter address.
func WithMAC(mac string) Option {
	return func(r *Region) { r.mac = strings.ToUpper(mac) }
}

// New creates a region with the given identifier.
func New(identifier string, opts ...Option) *Region {
	r := &Region{identifier: identifier}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Region) Identifier() string       { return r.identifier }
func (r *Region) ProximityUUID() uuid.UUID { return r.proximityUUID }
func (r *Region) MAC() string              { return r.mac }

// Major returns the major value and whether it is set.
func (r *Region) Major() (uint16, bool) {
	if r.major == nil {
		return 0, false
	}
	return *r.major, true
}

// Minor returns the minor value and whether it is set.
func (r *Region) Minor() (uint16, bool) {
	if r.minor == nil {
		return 0, false
	}
	return *r.minor, true
}

// Matches reports whether a detected beacon falls inside the region.
func (r *Region) Matches(b *beacon.Beacon) bool {
	if r.mac != "" && !strings.EqualFold(r.mac, b.MAC) {
		return false
	}
	if r.proximityUUID != uuid.Nil && r.proximityUUID != b.ProximityUUID {
		return false
	}
	if r.major != nil && *r.major != b.Major {
		return false
	}
	if r.minor != nil && *r.minor != b.Minor {
		return false
	}
	return true
}

func (r *Region) String() string { return r.identifier }
