package region

// Set is the ordered region list of one feed. It is replaced wholesale on
// every subscribe, never diffed. Not safe for concurrent use; the owning
// coordinator serializes access.
type Set struct {
	regions []*Region
}

// Replace clears the set and fills it with regions, keeping their order.
func (s *Set) Replace(regions []*Region) {
	clear(s.regions)
	s.regions = append(s.regions[:0], regions...)
}

func (s *Set) IsEmpty() bool { return len(s.regions) == 0 }

func (s *Set) Len() int { return len(s.regions) }

// ForEach calls fn for every region in set order.
func (s *Set) ForEach(fn func(*Region)) {
	for _, r := range s.regions {
		fn(r)
	}
}

// Regions returns a copy of the regions in set order.
func (s *Set) Regions() []*Region {
	out := make([]*Region, len(s.regions))
	copy(out, s.regions)
	return out
}
