package core

import (
	"sync"
	"time"
)

// batcher.go periodically flushes ingress's accumulated inputs as a single
// audience_input_batch event, separate from each input's individual
// real-time publish. It is driven by the same injectable Clock as the tick
// loop so batch-flush timing is deterministic under test.
type Batcher struct {
	ingress *Ingress
	bus     *Bus
	clock   *MonoClock
	periodMs int64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBatcher constructs a Batcher at the given cadence.
func NewBatcher(ingress *Ingress, bus *Bus, clock *MonoClock, periodMs int64) *Batcher {
	if periodMs <= 0 {
		periodMs = 50
	}
	return &Batcher{ingress: ingress, bus: bus, clock: clock, periodMs: periodMs, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start runs the batcher until Stop is called. It blocks, so callers invoke
// it in its own goroutine.
func (b *Batcher) Start() {
	defer close(b.done)
	ticker := b.clock.Underlying().Ticker(time.Duration(b.periodMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stop:
			return
		}
	}
}

// Stop signals the batcher to exit and blocks until it has, flushing
// whatever remains buffered first.
func (b *Batcher) Stop() {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	b.flush()
}

func (b *Batcher) flush() {
	batch := b.ingress.drainBuffer()
	if len(batch) == 0 {
		return
	}
	b.bus.Publish(EventAudienceInputBatch, AudienceInputBatchPayload{Inputs: batch})
}
