package scan

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink is the consumer side of a feed. Both methods are called on the
// coordinator's Executor, never concurrently with each other.
type Sink[E any] interface {
	Success(event E)
	// Error terminates the stream.
	Error(code, message string, details any)
}

// subscription ties a sink to one subscribe call. It stops being live the
// moment the consumer cancels or a newer subscribe replaces it.
type subscription[E any] struct {
	sink Sink[E]
	live atomic.Bool
}

func newSubscription[E any](sink Sink[E]) *subscription[E] {
	s := &subscription[E]{sink: sink}
	s.live.Store(true)
	return s
}

func (s *subscription[E]) active() bool { return s != nil && s.live.Load() }

func (s *subscription[E]) cancel() { s.live.Store(false) }

// StreamError is the terminal error reported to a Stream.
type StreamError struct {
	Code    string
	Message string
	Details any
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stream is a channel-backed Sink. Events that do not fit in the buffer are
// dropped rather than stalling the executor.
type Stream[E any] struct {
	mu      sync.Mutex
	ch      chan E
	closed  bool
	err     error
	dropped int
}

// Compile-time interface satisfaction check.
var _ Sink[RangingEvent] = (*Stream[RangingEvent])(nil)

// NewStream creates a stream buffering up to size events.
func NewStream[E any](size int) *Stream[E] {
	if size <= 0 {
		size = 64
	}
	return &Stream[E]{ch: make(chan E, size)}
}

// Events returns the channel events are delivered on. It is closed by Close
// or by a terminal error.
func (s *Stream[E]) Events() <-chan E {
	return s.ch
}

func (s *Stream[E]) Success(event E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default: // don't block the executor if the consumer is behind
		s.dropped++
		slog.Warn("[STREAM] buffer full, dropping event", "dropped", s.dropped)
	}
}

func (s *Stream[E]) Error(code, message string, details any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = &StreamError{Code: code, Message: message, Details: details}
	s.closed = true
	close(s.ch)
}

// Err returns the terminal error, if any.
func (s *Stream[E]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream[E]) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the event channel. It is safe to call multiple times.
func (s *Stream[E]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
