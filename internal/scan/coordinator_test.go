package scan

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
)

var officeUUID = uuid.MustParse("f7826da6-4fa2-4e98-8024-bc5b71e0893e")

func regionArgs(ids ...string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{
			"identifier":    id,
			"proximityUUID": officeUUID.String(),
		})
	}
	return out
}

func newTestCoordinator() (*Coordinator, *fakeService, *manualExecutor) {
	svc := newFakeService()
	exec := &manualExecutor{}
	return NewCoordinator(svc, exec), svc, exec
}

func TestSubscribeThenCancelKeepsBindingAndRegions(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), sink))
	assert.Equal(t, Binding, c.BindState())
	assert.Equal(t, Requested, c.FeedState(KindRanging))

	c.CancelRanging()
	assert.Equal(t, []string{"stopRanging:r1"}, svc.takeCalls(), "stop errors are swallowed")
	assert.Equal(t, Binding, c.BindState(), "cancel does not touch the bind")
	assert.Equal(t, Idle, c.FeedState(KindRanging))
	require.Len(t, c.Regions(KindRanging), 1)
	assert.Equal(t, "r1", c.Regions(KindRanging)[0].Identifier())

	// Connection after cancel starts nothing.
	svc.SimulateConnect(nil)
	assert.Equal(t, Bound, c.BindState())
	assert.Empty(t, svc.takeCalls())
	exec.runAll()
	assert.Empty(t, sink.events)
}

func TestRegionsCountsOnlyAcceptedDescriptors(t *testing.T) {
	c, _, _ := newTestCoordinator()
	args := append(regionArgs("r1", "r2"), map[string]any{"identifier": "bad", "major": 70000})

	require.NoError(t, c.SubscribeRanging(args, &recordingSink[RangingEvent]{}))
	assert.Len(t, args, 3)
	assert.Len(t, c.Regions(KindRanging), 2)
	assert.Empty(t, c.Regions(KindMonitoring))
}

func TestRangingDeliversEachCallback(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), sink))
	assert.Empty(t, svc.takeCalls(), "nothing starts before the service connects")

	svc.SimulateConnect(nil)
	assert.Equal(t, []string{"startRanging:r1"}, svc.takeCalls())
	assert.Equal(t, Active, c.FeedState(KindRanging))

	r1 := c.Regions(KindRanging)[0]
	b1 := &beacon.Beacon{ProximityUUID: officeUUID, Major: 1, Minor: 2, RSSI: -60, TxPower: -59}
	svc.SimulateRange([]*beacon.Beacon{b1}, r1)
	svc.SimulateRange(nil, r1)

	assert.Equal(t, 2, exec.runAll())
	require.Len(t, sink.events, 2)
	assert.Same(t, r1, sink.events[0].Region)
	assert.Equal(t, []*beacon.Beacon{b1}, sink.events[0].Beacons)
	assert.Empty(t, sink.events[1].Beacons, "empty periods are delivered too")

	desc := sink.events[0].Descriptor()
	assert.Equal(t, "r1", desc["region"].(map[string]any)["identifier"])
	assert.Len(t, desc["beacons"], 1)
}

func TestRepeatedSubscribeKeepsSingleNotifier(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	first := &recordingSink[RangingEvent]{}
	second := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), first))
	svc.SimulateConnect(nil)
	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), first))
	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), second))

	assert.Equal(t, 1, svc.rangeRegs)
	assert.Equal(t, 1, svc.bindCount())

	svc.SimulateRange(nil, c.Regions(KindRanging)[0])
	exec.runAll()
	assert.Empty(t, first.events, "replaced sink receives nothing")
	assert.Len(t, second.events, 1)
}

func TestResubscribeStopsPreviousRegions(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("a"), sink))
	svc.SimulateConnect(nil)
	svc.takeCalls()

	require.NoError(t, c.SubscribeRanging(regionArgs("b"), sink))
	assert.Equal(t, []string{"stopRanging:a", "startRanging:b"}, svc.takeCalls())
	assert.Len(t, svc.ranging, 1)
}

func TestDoubleSubscribeBeforeConnectUsesLatestList(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("a"), sink))
	require.NoError(t, c.SubscribeRanging(regionArgs("b", "c"), sink))
	assert.Equal(t, 1, svc.bindCount(), "second subscribe does not re-bind")

	svc.SimulateConnect(nil)
	assert.Equal(t, []string{"startRanging:b", "startRanging:c"}, svc.takeCalls())
}

func TestNoDeliveryAfterCancel(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), sink))
	svc.SimulateConnect(nil)
	r1 := c.Regions(KindRanging)[0]

	svc.SimulateRange(nil, r1)
	require.Equal(t, 1, exec.pending())

	c.CancelRanging()
	assert.Equal(t, []string{"startRanging:r1", "stopRanging:r1"}, svc.takeCalls())
	assert.Equal(t, 0, svc.rangeRegs)

	exec.runAll()
	assert.Empty(t, sink.events, "event scheduled before cancel is dropped")

	c.CancelRanging()
	assert.Empty(t, svc.takeCalls(), "cancel is idempotent")
}

func TestMonitoringIsEdgeTriggered(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	sink := &recordingSink[MonitoringEvent]{}

	require.NoError(t, c.SubscribeMonitoring(regionArgs("office"), sink))
	svc.SimulateConnect(nil)
	assert.Equal(t, []string{"startMonitoring:office"}, svc.takeCalls())

	exec.runAll()
	assert.Empty(t, sink.events, "no delivery without an edge")

	office := c.Regions(KindMonitoring)[0]
	svc.SimulateEnter(office)
	svc.SimulateExit(office)
	exec.runAll()

	require.Len(t, sink.events, 4)
	assert.Equal(t, MonitoringEvent{Kind: EventStateDetermined, Region: office, State: StateInside}, sink.events[0])
	assert.Equal(t, EventEnter, sink.events[1].Kind)
	assert.Equal(t, StateOutside, sink.events[2].State)
	assert.Equal(t, EventExit, sink.events[3].Kind)

	desc := sink.events[0].Descriptor()
	assert.Equal(t, "stateDetermined", desc["event"])
	assert.Equal(t, "INSIDE", desc["state"])
	assert.NotContains(t, sink.events[1].Descriptor(), "state")
}

func TestFeedsStartIndependently(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	ranged := &recordingSink[RangingEvent]{}
	monitored := &recordingSink[MonitoringEvent]{}

	require.NoError(t, c.SubscribeMonitoring(regionArgs("m1"), monitored))
	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), ranged))
	assert.Equal(t, 1, svc.bindCount())

	svc.SimulateConnect(nil)
	assert.ElementsMatch(t, []string{"startRanging:r1", "startMonitoring:m1"}, svc.takeCalls())

	c.CancelRanging()
	assert.Equal(t, 1, svc.monitorRegs, "cancelling ranging leaves monitoring registered")
	assert.Equal(t, Active, c.FeedState(KindMonitoring))

	svc.SimulateEnter(c.Regions(KindMonitoring)[0])
	exec.runAll()
	assert.Len(t, monitored.events, 2)
	assert.Empty(t, ranged.events)
}

func TestEmptyRegionListStartsNothing(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging([]any{}, sink))
	svc.SimulateConnect(nil)

	assert.Empty(t, svc.takeCalls())
	assert.Equal(t, 0, svc.rangeRegs)
	assert.Equal(t, Requested, c.FeedState(KindRanging))

	// A later non-empty subscribe starts immediately.
	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), sink))
	assert.Equal(t, []string{"startRanging:r1"}, svc.takeCalls())
}

func TestInvalidArgumentsReportTerminalError(t *testing.T) {
	tests := []struct {
		name string
		args any
	}{
		{"not a list", "r1"},
		{"nil", nil},
		{"element not a map", []any{map[string]any{"identifier": "r1"}, 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, svc, exec := newTestCoordinator()
			ranged := &recordingSink[RangingEvent]{}
			monitored := &recordingSink[MonitoringEvent]{}

			assert.ErrorIs(t, c.SubscribeRanging(tt.args, ranged), ErrInvalidRegions)
			assert.ErrorIs(t, c.SubscribeMonitoring(tt.args, monitored), ErrInvalidRegions)
			exec.runAll()

			assert.Equal(t, []string{"Beacon: invalid region for ranging"}, ranged.errors)
			assert.Equal(t, []string{"Beacon: invalid region for monitoring"}, monitored.errors)
			assert.Equal(t, Idle, c.FeedState(KindRanging))
			assert.Equal(t, Idle, c.FeedState(KindMonitoring))
			assert.Equal(t, 0, svc.bindCount())
		})
	}
}

func TestInvalidArgumentsLeaveActiveFeedUntouched(t *testing.T) {
	c, svc, exec := newTestCoordinator()
	good := &recordingSink[RangingEvent]{}
	bad := &recordingSink[RangingEvent]{}

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), good))
	svc.SimulateConnect(nil)
	svc.takeCalls()

	assert.ErrorIs(t, c.SubscribeRanging(map[string]any{"identifier": "x"}, bad), ErrInvalidRegions)
	assert.Empty(t, svc.takeCalls())
	assert.Equal(t, Active, c.FeedState(KindRanging))

	svc.SimulateRange(nil, c.Regions(KindRanging)[0])
	exec.runAll()
	assert.Len(t, good.events, 1)
	assert.Len(t, bad.errors, 1)
}

func TestBindRefusedKeepsFeedRequested(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	sink := &recordingSink[RangingEvent]{}
	svc.bindErr = errors.New("no radio")

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), sink))
	assert.Equal(t, Unbound, c.BindState())
	assert.Equal(t, Requested, c.FeedState(KindRanging))

	// Next subscribe retries the bind.
	svc.mu.Lock()
	svc.bindErr = nil
	svc.mu.Unlock()
	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), sink))
	assert.Equal(t, 2, svc.bindCount())
	assert.Equal(t, Binding, c.BindState())

	svc.SimulateConnect(nil)
	assert.Equal(t, []string{"startRanging:r1"}, svc.takeCalls())
}

func TestBindFailureKeepsFeedRequested(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	sink := &recordingSink[MonitoringEvent]{}

	require.NoError(t, c.SubscribeMonitoring(regionArgs("m1"), sink))
	svc.SimulateConnect(errors.New("adapter off"))

	assert.Equal(t, Unbound, c.BindState())
	assert.Equal(t, Requested, c.FeedState(KindMonitoring))
	assert.Empty(t, svc.takeCalls())
}

func TestCheckReady(t *testing.T) {
	t.Run("connect answers true and skips auto-start", func(t *testing.T) {
		c, svc, exec := newTestCoordinator()
		var answers []bool

		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		require.NoError(t, c.SubscribeRanging(regionArgs("r1"), &recordingSink[RangingEvent]{}))
		assert.Equal(t, 1, svc.bindCount())

		svc.SimulateConnect(nil)
		exec.runAll()
		assert.Equal(t, []bool{true}, answers)
		assert.Empty(t, svc.takeCalls())
		assert.Equal(t, Requested, c.FeedState(KindRanging))
	})

	t.Run("bind failure answers false", func(t *testing.T) {
		c, svc, exec := newTestCoordinator()
		var answers []bool

		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		svc.SimulateConnect(errors.New("adapter off"))
		exec.runAll()
		assert.Equal(t, []bool{false}, answers)
	})

	t.Run("refused bind answers false", func(t *testing.T) {
		c, svc, exec := newTestCoordinator()
		svc.bindErr = errors.New("no radio")
		var answers []bool

		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		exec.runAll()
		assert.Equal(t, []bool{false}, answers)
	})

	t.Run("already bound answers true", func(t *testing.T) {
		c, svc, exec := newTestCoordinator()
		require.NoError(t, c.SubscribeRanging(regionArgs("r1"), &recordingSink[RangingEvent]{}))
		svc.SimulateConnect(nil)

		var answers []bool
		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		exec.runAll()
		assert.Equal(t, []bool{true}, answers)
		assert.Equal(t, 1, svc.bindCount())
	})

	t.Run("concurrent checks are all answered", func(t *testing.T) {
		c, svc, exec := newTestCoordinator()
		var first, second []bool

		c.CheckReady(func(ok bool) { first = append(first, ok) })
		c.CheckReady(func(ok bool) { second = append(second, ok) })
		assert.Equal(t, 1, svc.bindCount())

		svc.SimulateConnect(nil)
		exec.runAll()
		assert.Equal(t, []bool{true}, first)
		assert.Equal(t, []bool{true}, second)
	})

	t.Run("concurrent checks all see bind failure", func(t *testing.T) {
		c, svc, exec := newTestCoordinator()
		var answers []bool

		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		svc.SimulateConnect(errors.New("adapter off"))
		exec.runAll()
		assert.Equal(t, []bool{false, false}, answers)
	})

	t.Run("close answers pending check false", func(t *testing.T) {
		c, _, exec := newTestCoordinator()
		var answers []bool

		c.CheckReady(func(ok bool) { answers = append(answers, ok) })
		require.NoError(t, c.Close())
		exec.runAll()
		assert.Equal(t, []bool{false}, answers)
	})

	t.Run("close answers pending check before stopping dispatcher", func(t *testing.T) {
		svc := newFakeService()
		c := NewCoordinator(svc, NewDispatcher())
		answers := make(chan bool, 1)

		c.CheckReady(func(ok bool) { answers <- ok })
		require.NoError(t, c.Close())
		select {
		case ok := <-answers:
			assert.False(t, ok)
		default:
			t.Fatal("pending readiness check was not answered on close")
		}
	})
}

func TestCloseTearsDown(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher()
	c := NewCoordinator(svc, d)

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), &recordingSink[RangingEvent]{}))
	require.NoError(t, c.SubscribeMonitoring(regionArgs("m1"), &recordingSink[MonitoringEvent]{}))
	svc.SimulateConnect(nil)
	svc.takeCalls()

	require.NoError(t, c.Close())
	assert.ElementsMatch(t, []string{"stopRanging:r1", "stopMonitoring:m1"}, svc.takeCalls())
	assert.Equal(t, 1, svc.unbinds)
	assert.Equal(t, Unbound, c.BindState())
	assert.Equal(t, Idle, c.FeedState(KindRanging))
	assert.Equal(t, Idle, c.FeedState(KindMonitoring))

	assert.ErrorIs(t, c.SubscribeRanging(regionArgs("r1"), &recordingSink[RangingEvent]{}), ErrClosed)
	require.NoError(t, c.Close())
	assert.Equal(t, 1, svc.unbinds, "second close is a no-op")
}

func TestCloseIgnoresLateBindResult(t *testing.T) {
	c, svc, _ := newTestCoordinator()

	require.NoError(t, c.SubscribeRanging(regionArgs("r1"), &recordingSink[RangingEvent]{}))
	require.NoError(t, c.Close())
	svc.takeCalls()

	svc.SimulateConnect(nil)
	assert.Equal(t, Unbound, c.BindState())
	assert.Empty(t, svc.takeCalls())
}
