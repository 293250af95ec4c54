// Package scan coordinates the ranging and monitoring feeds on top of a
// beacon detection service. It owns the bind lifecycle, keeps one
// subscription per feed, and delivers hardware callbacks to consumer sinks on
// an Executor.
package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
	"github.com/chaz8081/beacon-scanner/internal/ble"
	"github.com/chaz8081/beacon-scanner/internal/region"
)

// ErrorCode is the code reported to sinks on invalid input.
const ErrorCode = "Beacon"

var (
	// ErrInvalidRegions is returned when subscribe arguments are not a list of maps.
	ErrInvalidRegions = errors.New("scan: invalid region arguments")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("scan: coordinator closed")
)

// Coordinator multiplexes the two feeds over one detection service.
type Coordinator struct {
	service ble.Service
	exec    Executor
	gate    *Gate

	mu           sync.Mutex
	ranging      *feed[RangingEvent]
	monitoring   *feed[MonitoringEvent]
	pendingReady []func(bool)
	closed       bool
}

// NewCoordinator creates a coordinator. Nothing touches the service until the
// first subscribe or readiness check.
func NewCoordinator(service ble.Service, exec Executor) *Coordinator {
	c := &Coordinator{service: service, exec: exec}
	c.gate = newGate(service, c.onBindResult)
	c.ranging = &feed[RangingEvent]{
		kind: KindRanging,
		detector: detector{
			start:      service.StartRanging,
			stop:       service.StopRanging,
			register:   func() { service.SetRangeNotifier(c.onRange) },
			deregister: service.ClearRangeNotifier,
		},
	}
	c.monitoring = &feed[MonitoringEvent]{
		kind: KindMonitoring,
		detector: detector{
			start:      service.StartMonitoring,
			stop:       service.StopMonitoring,
			register:   func() { service.SetMonitorNotifier(c.monitorNotifier()) },
			deregister: service.ClearMonitorNotifier,
		},
	}
	return c
}

// SubscribeRanging replaces the ranging subscription. args is a decoded list of
// region descriptors.
func (c *Coordinator) SubscribeRanging(args any, sink Sink[RangingEvent]) error {
	return subscribe(c, c.ranging, args, sink)
}

// CancelRanging stops ranging and drops the current sink.
func (c *Coordinator) CancelRanging() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancelFeed(c.ranging)
}

// SubscribeMonitoring replaces the monitoring subscription.
func (c *Coordinator) SubscribeMonitoring(args any, sink Sink[MonitoringEvent]) error {
	return subscribe(c, c.monitoring, args, sink)
}

// CancelMonitoring stops monitoring and drops the current sink.
func (c *Coordinator) CancelMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancelFeed(c.monitoring)
}

func subscribe[E any](c *Coordinator, f *feed[E], args any, sink Sink[E]) error {
	if sink == nil {
		return fmt.Errorf("scan: nil %s sink", f.kind)
	}
	regions, err := region.ParseList(args)
	if err != nil {
		slog.Warn(f.kind.tag()+" rejected subscribe", "error", err)
		c.exec.Post(func() {
			sink.Error(ErrorCode, "invalid region for "+f.kind.String(), nil)
		})
		return fmt.Errorf("%w: %w", ErrInvalidRegions, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if f.state == Active {
		stopFeed(f)
	}
	f.regions.Replace(regions)
	f.replace(newSubscription(sink))
	f.state = Requested
	slog.Info(f.kind.tag()+" subscribed", "regions", f.regions.Len())

	if err := c.gate.EnsureBoundThen(func() { startFeed(f) }); err != nil {
		slog.Warn(f.kind.tag()+" bind request refused, feed stays requested", "error", err)
	}
	return nil
}

// startFeed registers the feed's notifier and starts every region. Caller
// holds c.mu and the service is bound.
func startFeed[E any](f *feed[E]) {
	if f.regions.IsEmpty() {
		slog.Info(f.kind.tag() + " no regions, nothing to start")
		return
	}
	f.detector.deregister()
	f.detector.register()
	f.regions.ForEach(func(r *region.Region) {
		if err := f.detector.start(r); err != nil {
			slog.Warn(f.kind.tag()+" start failed", "region", r.Identifier(), "error", err)
		}
	})
	f.state = Active
	slog.Info(f.kind.tag()+" started", "regions", f.regions.Len())
}

// stopFeed stops every stored region and deregisters the notifier. Errors are
// expected for regions the service never started.
func stopFeed[E any](f *feed[E]) {
	if f.regions.IsEmpty() {
		return
	}
	f.regions.ForEach(func(r *region.Region) {
		if err := f.detector.stop(r); err != nil {
			slog.Debug(f.kind.tag()+" stop failed", "region", r.Identifier(), "error", err)
		}
	})
	f.detector.deregister()
}

func cancelFeed[E any](f *feed[E]) {
	f.replace(nil)
	if f.state == Idle {
		return
	}
	stopFeed(f)
	f.state = Idle
	slog.Info(f.kind.tag() + " cancelled")
}

// CheckReady asks whether the scanning service can be used. reply runs on
// the Executor. A connection that answers a pending check does not auto-start
// requested feeds.
func (c *Coordinator) CheckReady(reply func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	answer := func(ok bool) { c.exec.Post(func() { reply(ok) }) }
	switch {
	case c.closed:
		answer(false)
		return
	case c.gate.State() == Bound:
		answer(true)
		return
	}

	c.pendingReady = append(c.pendingReady, reply)
	if err := c.gate.EnsureBoundThen(func() {}); err != nil {
		slog.Warn("[BIND] readiness check failed", "error", err)
		c.answerReadyLocked(false)
	}
}

// answerReadyLocked replies to every pending readiness check. It reports
// whether there were any.
func (c *Coordinator) answerReadyLocked(ok bool) bool {
	pending := c.takeReadyLocked()
	for _, reply := range pending {
		c.exec.Post(func() { reply(ok) })
	}
	return len(pending) > 0
}

func (c *Coordinator) takeReadyLocked() []func(bool) {
	pending := c.pendingReady
	c.pendingReady = nil
	return pending
}

func (c *Coordinator) onBindResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if err != nil {
		slog.Warn("[BIND] scanning service unavailable, feeds stay requested", "error", err)
		c.answerReadyLocked(false)
		return
	}

	slog.Info("[BIND] scanning service connected")
	if c.answerReadyLocked(true) {
		return
	}
	if c.ranging.state == Requested {
		startFeed(c.ranging)
	}
	if c.monitoring.state == Requested {
		startFeed(c.monitoring)
	}
}

func (c *Coordinator) onRange(beacons []*beacon.Beacon, r *region.Region) {
	deliver(c.exec, c.ranging.current.Load(), RangingEvent{Region: r, Beacons: beacons})
}

func (c *Coordinator) monitorNotifier() ble.MonitorNotifier {
	send := func(ev MonitoringEvent) {
		deliver(c.exec, c.monitoring.current.Load(), ev)
	}
	return ble.MonitorNotifier{
		Enter: func(r *region.Region) {
			send(MonitoringEvent{Kind: EventEnter, Region: r})
		},
		Exit: func(r *region.Region) {
			send(MonitoringEvent{Kind: EventExit, Region: r})
		},
		StateChanged: func(state int, r *region.Region) {
			send(MonitoringEvent{Kind: EventStateDetermined, Region: r, State: ParseState(state)})
		},
	}
}

// BindState reports the state of the service connection.
func (c *Coordinator) BindState() BindState {
	return c.gate.State()
}

// FeedState reports the lifecycle state of one feed.
func (c *Coordinator) FeedState(k Kind) FeedState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k == KindMonitoring {
		return c.monitoring.state
	}
	return c.ranging.state
}

// Regions returns a copy of the regions stored for one feed.
func (c *Coordinator) Regions(k Kind) []*region.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k == KindMonitoring {
		return c.monitoring.regions.Regions()
	}
	return c.ranging.regions.Regions()
}

// Close cancels both feeds, unbinds the service, and stops the executor if it
// can be closed. Pending readiness checks are answered false; when the
// executor is closed with the coordinator they run on the caller's goroutine.
// Calls after the first are no-ops.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancelFeed(c.ranging)
	cancelFeed(c.monitoring)
	pending := c.takeReadyLocked()
	c.gate.reset()
	c.mu.Unlock()

	err := c.service.Unbind()
	closer, closable := c.exec.(interface{ Close() })
	for _, reply := range pending {
		if closable {
			reply(false)
			continue
		}
		c.exec.Post(func() { reply(false) })
	}
	if closable {
		closer.Close()
	}
	if err != nil {
		return fmt.Errorf("scan: unbind: %w", err)
	}
	return nil
}
