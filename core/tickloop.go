package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// tickloop.go is the fixed-cadence driver. Each tick computes
// every parameter, publishes the per-parameter updates and the aggregate
// snapshot, and records its own latency for telemetry. A tick that overruns
// its period is never queued behind the next one: the loop always fires on
// the clock's own cadence and simply skips straight to the next due tick,
// recording a miss.
type TickLoop struct {
	aggregator *Aggregator
	bus        *Bus
	clients    *ClientRegistry
	clock      *MonoClock
	sessionID  string
	periodMs   int64
	log        *logrus.Entry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewTickLoop constructs a TickLoop at the given cadence.
func NewTickLoop(aggregator *Aggregator, bus *Bus, clients *ClientRegistry, clock *MonoClock, sessionID string, periodMs int64, log *logrus.Entry) *TickLoop {
	if periodMs <= 0 {
		periodMs = 100
	}
	return &TickLoop{
		aggregator: aggregator,
		bus:        bus,
		clients:    clients,
		clock:      clock,
		sessionID:  sessionID,
		periodMs:   periodMs,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called. It blocks, so callers
// invoke it in its own goroutine.
func (t *TickLoop) Start() {
	defer close(t.done)
	period := time.Duration(t.periodMs) * time.Millisecond
	ticker := t.clock.Underlying().Ticker(period)
	defer ticker.Stop()

	for {
		select {
		case fired := <-ticker.C:
			t.runTick(fired)
		case <-t.stop:
			return
		}
	}
}

// Stop signals the loop to exit and blocks until it has.
func (t *TickLoop) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

func (t *TickLoop) runTick(fired time.Time) {
	start := t.clock.NowMs()
	nowMs := start

	snapshot := t.aggregator.Snapshot(t.sessionID, nowMs)
	for param, result := range snapshot.Results {
		t.bus.Publish(EventConsensusUpdate, ConsensusUpdatePayload{Result: result})
		_ = param
	}
	t.bus.Publish(EventConsensusSnapshot, ConsensusSnapshotPayload{Snapshot: snapshot})

	elapsed := t.clock.NowMs() - start
	t.bus.RecordTickLatency(float64(elapsed))
	if elapsed > t.periodMs {
		t.bus.RecordMissedTick()
		if t.log != nil {
			t.log.WithFields(logrus.Fields{
				"elapsed_ms": elapsed,
				"period_ms":  t.periodMs,
			}).Warn("tick overran its period")
		}
	}
}
