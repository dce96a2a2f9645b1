package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// bus.go is the typed parameter bus: an in-process, single-writer-per-kind
// publish/subscribe hub over Go channels, in the shape of a topic
// broadcast/subscribe API without any actual network transport underneath —
// the engine is one central process, not a peer-to-peer swarm.
//
// Subscriber lists are read-copy-on-write: Publish always iterates an
// immutable snapshot, so a concurrent Subscribe/Unsubscribe never races a
// Publish.

// EventKind is the closed set of event kinds the bus carries.
type EventKind string

const (
	EventAudienceInput       EventKind = "audience_input"
	EventAudienceInputBatch  EventKind = "audience_input_batch"
	EventConsensusUpdate     EventKind = "consensus_update"
	EventConsensusSnapshot   EventKind = "consensus_snapshot"
	EventPerformerOverride   EventKind = "performer_override"
	EventPerformerOverrideClear EventKind = "performer_override_clear"
	EventPerformerCommand    EventKind = "performer_command"
	EventSessionStart        EventKind = "session_start"
	EventSessionPause        EventKind = "session_pause"
	EventSessionResume       EventKind = "session_resume"
	EventSessionEnd          EventKind = "session_end"
	EventParticipantJoin     EventKind = "participant_join"
	EventParticipantLeave    EventKind = "participant_leave"
	EventParticipantUpdate   EventKind = "participant_update"
	EventError               EventKind = "error"
	EventWarning             EventKind = "warning"
	EventStats               EventKind = "stats"
)

// Closed payload shapes for each event kind.

type AudienceInputPayload struct{ Input AudienceInput }
type AudienceInputBatchPayload struct{ Inputs []AudienceInput }
type ConsensusUpdatePayload struct{ Result ConsensusResult }
type ConsensusSnapshotPayload struct{ Snapshot Snapshot }
type PerformerOverridePayload struct{ Override PerformerOverride }
type PerformerOverrideClearPayload struct {
	PerformerID string
	Parameter   string
	ClearedByOther bool
}
type PerformerCommandPayload struct {
	PerformerID string
	Command     string
}
type SessionLifecyclePayload struct{ SessionID string }
type ParticipantPayload struct{ ClientID string }
type ErrorPayload struct {
	Code    string
	Message string
}
type WarningPayload struct {
	Tag     string
	Message string
}
type StatsPayload struct {
	InputsPerSec          float64
	ConsensusUpdatesPerSec float64
	SubscribersByKind     map[EventKind]int
	LastTickLatencyMs     float64
	MissedTicks           int64
}

// Subscription is a single subscriber's handle to one event kind.
type Subscription struct {
	id     uint64
	kind   EventKind
	ch     chan any
	active int32
	closed chan struct{}
	once   sync.Once
}

// Events returns the channel of delivered payloads. Callers that built their
// subscription with SubscribeFunc do not need this; it is for callers that
// want to range over deliveries themselves.
func (s *Subscription) Events() <-chan any { return s.ch }

// Bus is the central typed publish/subscribe hub.
type Bus struct {
	mu   sync.Mutex // guards subs map replacement (the write side of COW)
	subs atomic.Value // map[EventKind][]*Subscription

	nextID uint64

	clock *MonoClock
	log   *logrus.Entry

	countMu       sync.Mutex
	inputCount    int64
	consensusCount int64
	lastTickLatencyMs float64
	missedTicks   int64

	stopStats chan struct{}
	statsWG   sync.WaitGroup
}

// NewBus constructs a Bus and starts its 1 Hz stats producer.
func NewBus(clock *MonoClock, log *logrus.Entry) *Bus {
	b := &Bus{clock: clock, log: log, stopStats: make(chan struct{})}
	b.subs.Store(make(map[EventKind][]*Subscription))
	b.statsWG.Add(1)
	go b.runStats()
	return b
}

// Close stops the stats producer. Safe to call once.
func (b *Bus) Close() {
	close(b.stopStats)
	b.statsWG.Wait()
}

func (b *Bus) snapshot() map[EventKind][]*Subscription {
	return b.subs.Load().(map[EventKind][]*Subscription)
}

// Subscribe registers a new subscription for kind with the given buffered
// channel capacity. The caller drains Events() itself.
func (b *Bus) Subscribe(kind EventKind, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = 256
	}
	sub := &Subscription{
		id:     atomic.AddUint64(&b.nextID, 1),
		kind:   kind,
		ch:     make(chan any, bufSize),
		active: 1,
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	cur := b.snapshot()
	next := make(map[EventKind][]*Subscription, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	next[kind] = append(append([]*Subscription(nil), next[kind]...), sub)
	b.subs.Store(next)
	b.mu.Unlock()
	return sub
}

// SubscribeFunc registers a subscription and spawns a goroutine that calls
// handler for each delivered payload, in publish order, until Unsubscribe is
// called. This is the offloaded handler path so slow handlers never block
// the publisher.
func (b *Bus) SubscribeFunc(kind EventKind, bufSize int, handler func(any)) *Subscription {
	sub := b.Subscribe(kind, bufSize)
	go func() {
		for {
			select {
			case v, ok := <-sub.ch:
				if !ok {
					return
				}
				handler(v)
			case <-sub.closed:
				return
			}
		}
	}()
	return sub
}

// Unsubscribe removes sub synchronously: once it returns, Publish will never
// again enqueue a delivery for sub, and any dispatcher goroutine spawned by
// SubscribeFunc stops without draining whatever is still buffered.
func (b *Bus) Unsubscribe(sub *Subscription) {
	atomic.StoreInt32(&sub.active, 0)
	b.mu.Lock()
	cur := b.snapshot()
	if list, ok := cur[sub.kind]; ok {
		filtered := make([]*Subscription, 0, len(list))
		for _, s := range list {
			if s.id != sub.id {
				filtered = append(filtered, s)
			}
		}
		next := make(map[EventKind][]*Subscription, len(cur))
		for k, v := range cur {
			next[k] = v
		}
		next[sub.kind] = filtered
		b.subs.Store(next)
	}
	b.mu.Unlock()
	sub.once.Do(func() { close(sub.closed) })
}

// Publish delivers payload to every active subscriber of kind, in the order
// Publish is called (the bus assumes a single producer per kind). Delivery
// is always non-blocking: a subscriber whose buffer is full has its oldest
// buffered payload dropped to make room, so the publisher is never stalled
// by a slow subscriber.
func (b *Bus) Publish(kind EventKind, payload any) {
	b.countPublish(kind)
	subs := b.snapshot()[kind]
	for _, sub := range subs {
		if atomic.LoadInt32(&sub.active) == 0 {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			// Drop the oldest buffered payload to make room, preserving a
			// deliver-the-latest semantics for high-frequency kinds, and logging
			// once so slow subscribers are visible without becoming the
			// publisher's problem.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- payload:
			default:
			}
			if b.log != nil {
				b.log.WithField("kind", kind).Warn("slow_subscriber: dropped buffered event")
			}
		}
	}
}

func (b *Bus) countPublish(kind EventKind) {
	switch kind {
	case EventAudienceInput:
		atomic.AddInt64(&b.inputCount, 1)
	case EventConsensusUpdate:
		atomic.AddInt64(&b.consensusCount, 1)
	}
}

// RecordTickLatency lets the tick loop report its most recent wall-clock
// duration for the stats payload.
func (b *Bus) RecordTickLatency(ms float64) {
	b.countMu.Lock()
	b.lastTickLatencyMs = ms
	b.countMu.Unlock()
}

// RecordMissedTick increments the missed-tick counter.
func (b *Bus) RecordMissedTick() {
	atomic.AddInt64(&b.missedTicks, 1)
}

func (b *Bus) runStats() {
	defer b.statsWG.Done()
	ticker := b.clock.Underlying().Ticker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.emitStats()
		case <-b.stopStats:
			return
		}
	}
}

func (b *Bus) emitStats() {
	inputs := atomic.SwapInt64(&b.inputCount, 0)
	consensus := atomic.SwapInt64(&b.consensusCount, 0)

	b.countMu.Lock()
	latency := b.lastTickLatencyMs
	b.countMu.Unlock()

	subs := b.snapshot()
	byKind := make(map[EventKind]int, len(subs))
	for k, v := range subs {
		byKind[k] = len(v)
	}

	b.Publish(EventStats, StatsPayload{
		InputsPerSec:           float64(inputs),
		ConsensusUpdatesPerSec: float64(consensus),
		SubscribersByKind:      byKind,
		LastTickLatencyMs:      latency,
		MissedTicks:            atomic.LoadInt64(&b.missedTicks),
	})
}
