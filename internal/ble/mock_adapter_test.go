package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockScanner simulates the radio. Scan blocks until the context is
// cancelled or a failure is injected.
type mockScanner struct {
	mu        sync.Mutex
	enableErr error
	enables   int
	scans     int
	handler   func(Advertisement)
	fail      chan error
	started   chan struct{}
}

func newMockScanner() *mockScanner {
	return &mockScanner{
		fail:    make(chan error, 1),
		started: make(chan struct{}, 16),
	}
}

func (s *mockScanner) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enables++
	return s.enableErr
}

func (s *mockScanner) Scan(ctx context.Context, handler func(Advertisement)) error {
	s.mu.Lock()
	s.scans++
	s.handler = handler
	s.mu.Unlock()
	s.started <- struct{}{}

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.fail:
		return err
	}
}

// SimulateAdvertisement delivers adv to the running scan, if any.
func (s *mockScanner) SimulateAdvertisement(adv Advertisement) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(adv)
	}
}

// SimulateFailure makes the running scan return err.
func (s *mockScanner) SimulateFailure(err error) {
	s.fail <- err
}

func (s *mockScanner) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

var errRadio = errors.New("radio busy")

// Compile-time check that mockScanner implements Scanner.
var _ Scanner = (*mockScanner)(nil)

// stickyScanner models a radio that drops a stop request issued before the
// scan is running: a Scan entered with a cancelled context never returns on
// its own.
type stickyScanner struct {
	mu       sync.Mutex
	scans    int
	stuck    int
	released chan struct{}
}

func newStickyScanner(t *testing.T) *stickyScanner {
	s := &stickyScanner{released: make(chan struct{})}
	t.Cleanup(func() { close(s.released) })
	return s
}

func (s *stickyScanner) Enable() error { return nil }

func (s *stickyScanner) Scan(ctx context.Context, _ func(Advertisement)) error {
	s.mu.Lock()
	s.scans++
	if ctx.Err() != nil {
		s.stuck++
		s.mu.Unlock()
		<-s.released
		return nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-s.released:
	}
	return nil
}

func (s *stickyScanner) stuckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stuck
}

var _ Scanner = (*stickyScanner)(nil)
