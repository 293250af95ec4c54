package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/beacon-scanner/internal/ble"
)

// BindState tracks the connection to the scanning service.
type BindState int

const (
	Unbound BindState = iota
	Binding
	Bound
)

func (s BindState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	default:
		return fmt.Sprintf("BindState(%d)", int(s))
	}
}

// ErrBindFailed wraps a refused bind request.
var ErrBindFailed = errors.New("scan: bind failed")

type binder interface {
	Bind(handler ble.BindHandler) error
}

// Gate ensures at most one bind request is outstanding. Actions requested
// while bound run immediately; otherwise the connect result is reported to
// onResult, which decides what to start.
type Gate struct {
	binder   binder
	onResult func(err error)

	mu    sync.Mutex
	state BindState
	gen   uint64
}

func newGate(b binder, onResult func(err error)) *Gate {
	return &Gate{binder: b, onResult: onResult}
}

// State returns the current bind state.
func (g *Gate) State() BindState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// EnsureBoundThen runs action synchronously when bound. When unbound it
// issues a bind request; when a request is already in flight it does nothing.
func (g *Gate) EnsureBoundThen(action func()) error {
	g.mu.Lock()
	switch g.state {
	case Bound:
		g.mu.Unlock()
		action()
		return nil
	case Binding:
		g.mu.Unlock()
		slog.Debug("[BIND] bind already in flight")
		return nil
	}
	g.state = Binding
	g.gen++
	gen := g.gen
	g.mu.Unlock()

	slog.Info("[BIND] requesting scanning service")
	if err := g.binder.Bind(func(err error) { g.handle(gen, err) }); err != nil {
		g.mu.Lock()
		if g.gen == gen {
			g.state = Unbound
		}
		g.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrBindFailed, err)
	}
	return nil
}

func (g *Gate) handle(gen uint64, err error) {
	g.mu.Lock()
	if gen != g.gen || g.state != Binding {
		// Result of a request abandoned by reset.
		g.mu.Unlock()
		return
	}
	if err != nil {
		g.state = Unbound
	} else {
		g.state = Bound
	}
	g.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBindFailed, err)
	}
	g.onResult(err)
}

// reset forgets the connection and any request in flight.
func (g *Gate) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = Unbound
	g.gen++
}
