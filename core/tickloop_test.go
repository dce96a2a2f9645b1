package core

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestTickLoopPublishesSnapshotOnEachTick(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	defs := aggregatorTestDefs()
	overrides := NewOverrideRegistry(defs, nil, log)
	clients := NewClientRegistry(0, 1000)
	cf := newClockFixture()
	bus := NewBus(cf.mono, log)
	defer bus.Close()
	agg := NewAggregator(defs, VenueGeometry{Width: 10, Height: 10}, defaultWeighting(), overrides, clients, cf.mono, log)

	sub := bus.Subscribe(EventConsensusSnapshot, 4)
	defer bus.Unsubscribe(sub)

	loop := NewTickLoop(agg, bus, clients, cf.mono, "s1", 100, log)
	go loop.Start()
	defer loop.Stop()

	time.Sleep(20 * time.Millisecond)
	cf.clock.Add(100 * time.Millisecond)

	select {
	case v := <-sub.Events():
		snap := v.(ConsensusSnapshotPayload).Snapshot
		if snap.SessionID != "s1" {
			t.Fatalf("expected session id s1, got %+v", snap)
		}
		if len(snap.Results) != len(defs) {
			t.Fatalf("expected a result per parameter, got %d", len(snap.Results))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a tick to publish a snapshot")
	}
}

func TestTickLoopDefaultPeriod(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	cf := newClockFixture()
	bus := NewBus(cf.mono, log)
	defer bus.Close()
	loop := NewTickLoop(nil, bus, nil, cf.mono, "s1", 0, log)
	if loop.periodMs != 100 {
		t.Fatalf("expected default period 100ms, got %d", loop.periodMs)
	}
}

func TestTickLoopStopIsIdempotentAndBlocksUntilDone(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	defs := aggregatorTestDefs()
	overrides := NewOverrideRegistry(defs, nil, log)
	clients := NewClientRegistry(0, 1000)
	cf := newClockFixture()
	bus := NewBus(cf.mono, log)
	defer bus.Close()
	agg := NewAggregator(defs, VenueGeometry{}, defaultWeighting(), overrides, clients, cf.mono, log)

	loop := NewTickLoop(agg, bus, clients, cf.mono, "s1", 50, log)
	go loop.Start()
	time.Sleep(10 * time.Millisecond)

	loop.Stop()
	loop.Stop() // must not panic or block forever
}
