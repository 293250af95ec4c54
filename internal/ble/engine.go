package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
	"github.com/chaz8081/beacon-scanner/internal/region"
)

// EngineOptions configures the detection engine behavior.
type EngineOptions struct {
	RangingPeriod time.Duration        // how often each ranged region is reported (default 1s)
	ExitTimeout   time.Duration        // silence after which a monitored region is exited (default 10s)
	RetryMax      int                  // max scan restart backoff in seconds (default 30)
	Probe         func() (bool, error) // optional radio power check run on Bind
}

// DefaultEngineOptions returns sensible defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		RangingPeriod: time.Second,
		ExitTimeout:   10 * time.Second,
		RetryMax:      30,
	}
}

type monitorState struct {
	inside   bool
	lastSeen time.Time
}

// edge is a monitoring boundary crossing waiting to be reported.
type edge struct {
	region *region.Region
	inside bool
}

type rangeReport struct {
	region  *region.Region
	beacons []*beacon.Beacon
}

// Engine implements Service on top of a Scanner. Advertisements are decoded as
// iBeacon frames and matched against the started regions; notifiers run on
// the engine's scan and ticker goroutines.
type Engine struct {
	scanner Scanner
	opts    EngineOptions
	now     func() time.Time

	mu        sync.Mutex
	bound     bool
	binding   bool
	ranged    []*region.Region
	visible   map[*region.Region]map[string]*beacon.Beacon
	monitored []*region.Region
	monitors  map[*region.Region]*monitorState

	rangeNotifier   RangeNotifier
	monitorNotifier *MonitorNotifier

	cancel   context.CancelFunc
	scanDone chan struct{}
}

// Compile-time check that Engine implements Service.
var _ Service = (*Engine)(nil)

// NewEngine creates an engine that scans with the given scanner.
func NewEngine(scanner Scanner, opts EngineOptions) *Engine {
	if opts.RangingPeriod <= 0 {
		opts.RangingPeriod = time.Second
	}
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = 10 * time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30
	}
	return &Engine{
		scanner:  scanner,
		opts:     opts,
		now:      time.Now,
		visible:  make(map[*region.Region]map[string]*beacon.Beacon),
		monitors: make(map[*region.Region]*monitorState),
	}
}

// Bind enables the adapter in the background and reports the outcome to handler.
func (e *Engine) Bind(handler BindHandler) error {
	if handler == nil {
		return errors.New("ble: nil bind handler")
	}

	e.mu.Lock()
	if e.bound {
		e.mu.Unlock()
		go handler(nil)
		return nil
	}
	if e.binding {
		e.mu.Unlock()
		return errors.New("ble: bind already in progress")
	}
	e.binding = true
	e.mu.Unlock()

	go func() {
		err := e.enable()

		e.mu.Lock()
		e.binding = false
		e.bound = err == nil
		e.mu.Unlock()

		if err != nil {
			slog.Warn("[BLE] bind failed", "error", err)
		} else {
			slog.Info("[BLE] service bound")
		}
		handler(err)
	}()
	return nil
}

func (e *Engine) enable() error {
	if e.opts.Probe != nil {
		powered, err := e.opts.Probe()
		switch {
		case err != nil:
			// Not every platform can answer; let Enable decide.
			slog.Warn("[BLE] adapter probe failed", "error", err)
		case !powered:
			return ErrAdapterOff
		}
	}
	if err := e.scanner.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	return nil
}

// Unbind stops scanning, forgets every region and notifier, and waits for the
// scan goroutines to exit.
func (e *Engine) Unbind() error {
	e.mu.Lock()
	e.bound = false
	e.ranged = nil
	e.monitored = nil
	clear(e.visible)
	clear(e.monitors)
	e.rangeNotifier = nil
	e.monitorNotifier = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	done := e.scanDone
	e.mu.Unlock()

	if done != nil {
		<-done
	}
	slog.Info("[BLE] service unbound")
	return nil
}

func (e *Engine) StartRanging(r *region.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.bound {
		return ErrNotBound
	}
	if _, ok := e.visible[r]; ok {
		return nil
	}
	e.ranged = append(e.ranged, r)
	e.visible[r] = make(map[string]*beacon.Beacon)
	e.ensureScanningLocked()
	slog.Debug("[BLE] ranging started", "region", r.Identifier())
	return nil
}

func (e *Engine) StopRanging(r *region.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.ranged, r)
	if i < 0 {
		return fmt.Errorf("%w: ranging %s", ErrRegionNotActive, r.Identifier())
	}
	e.ranged = slices.Delete(e.ranged, i, i+1)
	delete(e.visible, r)
	e.stopIfIdleLocked()
	slog.Debug("[BLE] ranging stopped", "region", r.Identifier())
	return nil
}

func (e *Engine) StartMonitoring(r *region.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.bound {
		return ErrNotBound
	}
	if _, ok := e.monitors[r]; ok {
		return nil
	}
	e.monitored = append(e.monitored, r)
	e.monitors[r] = &monitorState{}
	e.ensureScanningLocked()
	slog.Debug("[BLE] monitoring started", "region", r.Identifier())
	return nil
}

func (e *Engine) StopMonitoring(r *region.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.monitored, r)
	if i < 0 {
		return fmt.Errorf("%w: monitoring %s", ErrRegionNotActive, r.Identifier())
	}
	e.monitored = slices.Delete(e.monitored, i, i+1)
	delete(e.monitors, r)
	e.stopIfIdleLocked()
	slog.Debug("[BLE] monitoring stopped", "region", r.Identifier())
	return nil
}

func (e *Engine) SetRangeNotifier(n RangeNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rangeNotifier = n
}

func (e *Engine) ClearRangeNotifier() { e.SetRangeNotifier(nil) }

func (e *Engine) SetMonitorNotifier(n MonitorNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitorNotifier = &n
}

func (e *Engine) ClearMonitorNotifier() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitorNotifier = nil
}

// ensureScanningLocked starts the scan and ticker goroutines if they are not
// running. A new run waits for the previous one to release the adapter.
func (e *Engine) ensureScanningLocked() {
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev := e.scanDone
	done := make(chan struct{})
	e.cancel = cancel
	e.scanDone = done
	go e.run(ctx, prev, done)
}

func (e *Engine) stopIfIdleLocked() {
	if len(e.ranged) > 0 || len(e.monitored) > 0 || e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
}

func (e *Engine) run(ctx context.Context, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.tickLoop(ctx)
	}()
	e.scanLoop(ctx)
	wg.Wait()
}

// scanLoop keeps a scan running, restarting it with exponential backoff
// whenever it ends before ctx is cancelled.
func (e *Engine) scanLoop(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, e.opts.RetryMax)
			slog.Info("[BLE] scan restart backoff", "attempt", attempt+1, "delay", delay)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}

		if ctx.Err() != nil {
			return
		}
		err := e.scanner.Scan(ctx, e.handleAdvertisement)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("[BLE] scan ended unexpectedly", "error", err, "attempt", attempt+1)
	}
}

func (e *Engine) tickLoop(ctx context.Context) {
	t := time.NewTicker(e.opts.RangingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.tick(e.now())
		}
	}
}

// handleAdvertisement decodes every iBeacon frame carried by adv.
func (e *Engine) handleAdvertisement(adv Advertisement) {
	for _, md := range adv.Manufacturer {
		frame, err := beacon.ParseIBeacon(md.CompanyID, md.Data)
		if err != nil {
			continue
		}
		e.observe(frame.Beacon(adv.Address, adv.RSSI, md.Data), e.now())
	}
}

// observe records a sighting for ranging and reports monitoring entries.
func (e *Engine) observe(b *beacon.Beacon, now time.Time) {
	var edges []edge

	e.mu.Lock()
	for _, r := range e.ranged {
		if r.Matches(b) {
			e.visible[r][b.Key()] = b
		}
	}
	for _, r := range e.monitored {
		if !r.Matches(b) {
			continue
		}
		st := e.monitors[r]
		st.lastSeen = now
		if !st.inside {
			st.inside = true
			edges = append(edges, edge{region: r, inside: true})
		}
	}
	mn := e.monitorNotifier
	e.mu.Unlock()

	fireEdges(mn, edges)
}

// tick closes one ranging period: every ranged region is reported with the
// beacons seen since the previous tick, and monitored regions that went
// silent for longer than ExitTimeout are exited.
func (e *Engine) tick(now time.Time) {
	var edges []edge

	e.mu.Lock()
	reports := make([]rangeReport, 0, len(e.ranged))
	for _, r := range e.ranged {
		seen := e.visible[r]
		keys := make([]string, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		beacons := make([]*beacon.Beacon, 0, len(keys))
		for _, k := range keys {
			beacons = append(beacons, seen[k])
		}
		reports = append(reports, rangeReport{region: r, beacons: beacons})
		e.visible[r] = make(map[string]*beacon.Beacon)
	}
	for _, r := range e.monitored {
		st := e.monitors[r]
		if st.inside && now.Sub(st.lastSeen) > e.opts.ExitTimeout {
			st.inside = false
			edges = append(edges, edge{region: r, inside: false})
		}
	}
	rn := e.rangeNotifier
	mn := e.monitorNotifier
	e.mu.Unlock()

	if rn != nil {
		for _, rep := range reports {
			rn(rep.beacons, rep.region)
		}
	}
	fireEdges(mn, edges)
}

func fireEdges(mn *MonitorNotifier, edges []edge) {
	if mn == nil {
		return
	}
	for _, ed := range edges {
		state := Outside
		if ed.inside {
			state = Inside
		}
		if mn.StateChanged != nil {
			mn.StateChanged(state, ed.region)
		}
		switch {
		case ed.inside && mn.Enter != nil:
			mn.Enter(ed.region)
		case !ed.inside && mn.Exit != nil:
			mn.Exit(ed.region)
		}
	}
}

// backoffDelay returns the restart delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
