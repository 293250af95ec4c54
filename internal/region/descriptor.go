package region

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Descriptor keys shared with consumers.
const (
	KeyIdentifier    = "identifier"
	KeyProximityUUID = "proximityUUID"
	KeyMajor         = "major"
	KeyMinor         = "minor"
	KeyMAC           = "macAddress"
)

var (
	// ErrNotList is returned when subscribe arguments are not a sequence.
	ErrNotList = errors.New("region: arguments are not a list")
	// ErrNotMap is returned when a list element is not a map.
	ErrNotMap = errors.New("region: list element is not a map")
)

var validate = validator.New()

// descriptor is the validated intermediate form of a region map.
type descriptor struct {
	Identifier    string `validate:"required"`
	ProximityUUID string `validate:"omitempty,uuid"`
	Major         *int   `validate:"omitempty,gte=0,lte=65535"`
	Minor         *int   `validate:"omitempty,gte=0,lte=65535"`
	MAC           string `validate:"omitempty,mac"`
}

// ParseList maps raw subscribe arguments (a decoded list of maps) to regions.
// Elements may be map[string]any or map[any]any with string keys. A non-list
// argument or a non-map element fails the whole call; a map that does not
// describe a valid region is dropped with a warning.
func ParseList(args any) ([]*Region, error) {
	var items []any
	switch v := args.(type) {
	case []any:
		items = v
	case []map[string]any:
		items = make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
	default:
		return nil, ErrNotList
	}

	regions := make([]*Region, 0, len(items))
	for i, item := range items {
		m, ok := stringKeyed(item)
		if !ok {
			return nil, fmt.Errorf("%w: index %d is %T", ErrNotMap, i, item)
		}
		r, err := FromMap(m)
		if err != nil {
			slog.Warn("[REGION] dropping invalid region", "index", i, "error", err)
			continue
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// stringKeyed accepts map[string]any as is and converts a map[any]any whose
// keys are all strings, the shape generic CBOR and YAML decoders produce.
func stringKeyed(item any) (map[string]any, bool) {
	switch v := item.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			m[key] = val
		}
		return m, true
	}
	return nil, false
}

// FromMap builds a region from its descriptor map.
func FromMap(m map[string]any) (*Region, error) {
	var d descriptor
	var ok bool

	if d.Identifier, ok = m[KeyIdentifier].(string); !ok {
		return nil, fmt.Errorf("region: %s must be a string", KeyIdentifier)
	}
	if v, present := m[KeyProximityUUID]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("region: %s must be a string", KeyProximityUUID)
		}
		d.ProximityUUID = strings.ToLower(s)
	}
	if v, present := m[KeyMajor]; present && v != nil {
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("region: %s must be an integer, got %T", KeyMajor, v)
		}
		d.Major = &n
	}
	if v, present := m[KeyMinor]; present && v != nil {
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("region: %s must be an integer, got %T", KeyMinor, v)
		}
		d.Minor = &n
	}
	if v, present := m[KeyMAC]; present && v != nil {
		if d.MAC, ok = v.(string); !ok {
			return nil, fmt.Errorf("region: %s must be a string", KeyMAC)
		}
	}

	if err := validate.Struct(&d); err != nil {
		return nil, fmt.Errorf("region: invalid descriptor: %w", err)
	}

	var opts []Option
	if d.ProximityUUID != "" {
		id, err := uuid.Parse(d.ProximityUUID)
		if err != nil {
			return nil, fmt.Errorf("region: parse %s: %w", KeyProximityUUID, err)
		}
		opts = append(opts, WithUUID(id))
	}
	if d.Major != nil {
		opts = append(opts, WithMajor(uint16(*d.Major)))
	}
	if d.Minor != nil {
		opts = append(opts, WithMinor(uint16(*d.Minor)))
	}
	if d.MAC != "" {
		opts = append(opts, WithMAC(d.MAC))
	}
	return New(d.Identifier, opts...), nil
}

// Descriptor maps a region back to its structural form. Unset fields are
// omitted.
func Descriptor(r *Region) map[string]any {
	m := map[string]any{KeyIdentifier: r.identifier}
	if r.proximityUUID != uuid.Nil {
		m[KeyProximityUUID] = strings.ToUpper(r.proximityUUID.String())
	}
	if v, ok := r.Major(); ok {
		m[KeyMajor] = int(v)
	}
	if v, ok := r.Minor(); ok {
		m[KeyMinor] = int(v)
	}
	if r.mac != "" {
		m[KeyMAC] = r.mac
	}
	return m
}

// toInt accepts the integer shapes produced by YAML, JSON and CBOR decoders.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
