package scan

import (
	"errors"
	"sync"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
	"github.com/chaz8081/beacon-scanner/internal/ble"
	"github.com/chaz8081/beacon-scanner/internal/region"
)

// fakeService records every call made by the coordinator. Bind completes only
// when the test calls SimulateConnect.
type fakeService struct {
	mu sync.Mutex

	bindErr  error
	binds    int
	unbinds  int
	handler  ble.BindHandler
	calls    []string
	ranging  []*region.Region
	monitors []*region.Region

	rangeNotifier   ble.RangeNotifier
	monitorNotifier *ble.MonitorNotifier
	rangeRegs       int
	monitorRegs     int
}

// Compile-time check that fakeService implements ble.Service.
var _ ble.Service = (*fakeService)(nil)

var errNotStarted = errors.New("fake: not started")

func newFakeService() *fakeService {
	return &fakeService{}
}

func (f *fakeService) Bind(handler ble.BindHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds++
	if f.bindErr != nil {
		return f.bindErr
	}
	f.handler = handler
	return nil
}

func (f *fakeService) Unbind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbinds++
	return nil
}

func (f *fakeService) record(call string, r *region.Region) {
	f.calls = append(f.calls, call+":"+r.Identifier())
}

func (f *fakeService) StartRanging(r *region.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("startRanging", r)
	f.ranging = append(f.ranging, r)
	return nil
}

func (f *fakeService) StopRanging(r *region.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stopRanging", r)
	for i, x := range f.ranging {
		if x == r {
			f.ranging = append(f.ranging[:i], f.ranging[i+1:]...)
			return nil
		}
	}
	return errNotStarted
}

func (f *fakeService) StartMonitoring(r *region.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("startMonitoring", r)
	f.monitors = append(f.monitors, r)
	return nil
}

func (f *fakeService) StopMonitoring(r *region.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stopMonitoring", r)
	for i, x := range f.monitors {
		if x == r {
			f.monitors = append(f.monitors[:i], f.monitors[i+1:]...)
			return nil
		}
	}
	return errNotStarted
}

func (f *fakeService) SetRangeNotifier(n ble.RangeNotifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeNotifier = n
	f.rangeRegs++
}

func (f *fakeService) ClearRangeNotifier() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rangeNotifier != nil {
		f.rangeRegs--
	}
	f.rangeNotifier = nil
}

func (f *fakeService) SetMonitorNotifier(n ble.MonitorNotifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitorNotifier = &n
	f.monitorRegs++
}

func (f *fakeService) ClearMonitorNotifier() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.monitorNotifier != nil {
		f.monitorRegs--
	}
	f.monitorNotifier = nil
}

// SimulateConnect completes the outstanding bind request.
func (f *fakeService) SimulateConnect(err error) {
	f.mu.Lock()
	h := f.handler
	f.handler = nil
	f.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// SimulateRange fires the registered ranging notifier, if any.
func (f *fakeService) SimulateRange(beacons []*beacon.Beacon, r *region.Region) {
	f.mu.Lock()
	n := f.rangeNotifier
	f.mu.Unlock()
	if n != nil {
		n(beacons, r)
	}
}

// SimulateEnter fires the registered monitoring notifier's enter and state
// callbacks in engine order.
func (f *fakeService) SimulateEnter(r *region.Region) {
	f.mu.Lock()
	n := f.monitorNotifier
	f.mu.Unlock()
	if n != nil {
		n.StateChanged(ble.Inside, r)
		n.Enter(r)
	}
}

func (f *fakeService) SimulateExit(r *region.Region) {
	f.mu.Lock()
	n := f.monitorNotifier
	f.mu.Unlock()
	if n != nil {
		n.StateChanged(ble.Outside, r)
		n.Exit(r)
	}
}

func (f *fakeService) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

func (f *fakeService) bindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binds
}

// manualExecutor queues tasks until the test runs them.
type manualExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (m *manualExecutor) Post(task func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// runAll executes queued tasks, including ones queued while running, and
// returns how many ran.
func (m *manualExecutor) runAll() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.mu.Unlock()
			return n
		}
		task := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()
		task()
		n++
	}
}

func (m *manualExecutor) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// recordingSink keeps everything delivered to it.
type recordingSink[E any] struct {
	events []E
	errors []string
}

func (s *recordingSink[E]) Success(event E) {
	s.events = append(s.events, event)
}

func (s *recordingSink[E]) Error(code, message string, _ any) {
	s.errors = append(s.errors, code+": "+message)
}
