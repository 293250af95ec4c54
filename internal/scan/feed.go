package scan

import (
	"fmt"
	"sync/atomic"

	"github.com/chaz8081/beacon-scanner/internal/region"
)

// Kind names one of the two feeds.
type Kind int

const (
	KindRanging Kind = iota
	KindMonitoring
)

func (k Kind) String() string {
	switch k {
	case KindRanging:
		return "ranging"
	case KindMonitoring:
		return "monitoring"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) tag() string {
	if k == KindMonitoring {
		return "[MONITORING]"
	}
	return "[RANGING]"
}

// FeedState is the lifecycle of a feed.
type FeedState int

const (
	// Idle: no subscription.
	Idle FeedState = iota
	// Requested: subscribed, waiting for the service or for regions.
	Requested
	// Active: regions started and notifier registered.
	Active
)

func (s FeedState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("FeedState(%d)", int(s))
	}
}

// detector is the slice of the service one feed drives.
type detector struct {
	start      func(r *region.Region) error
	stop       func(r *region.Region) error
	register   func()
	deregister func()
}

// feed holds the state of one kind of subscription. Everything but current is
// guarded by the coordinator's mutex; current is read from engine callbacks.
type feed[E any] struct {
	kind     Kind
	regions  region.Set
	state    FeedState
	current  atomic.Pointer[subscription[E]]
	detector detector
}

// replace installs sub as the feed's subscription, retiring the previous one.
func (f *feed[E]) replace(sub *subscription[E]) {
	if old := f.current.Swap(sub); old != nil {
		old.cancel()
	}
}
