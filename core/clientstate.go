package core

import (
	"hash/fnv"
	"sync"
)

// clientstate.go implements ingress's per-client bookkeeping: rate limiting,
// flood blocking, and idle eviction. The registry is sharded by a hash of
// the client ID so that concurrent ingress workers for unrelated clients
// never contend on the same lock.

const (
	clientShardCount  = 16
	idleEvictMs       = 60_000
	floodBlockMs      = 60_000
	floodResetWindowMs = 60_000
)

type clientRecord struct {
	mu      sync.Mutex
	state   ClientState
	limiter *clientLimiter
}

type clientShard struct {
	mu      sync.Mutex
	clients map[string]*clientRecord
}

// ClientRegistry tracks every audience client's rate-limit and flood-block
// state.
type ClientRegistry struct {
	shards             [clientShardCount]*clientShard
	rateLimitMs        int
	maxInputsPerClient int
}

// NewClientRegistry constructs a registry with the given rate limit interval
// and rolling flood threshold.
func NewClientRegistry(rateLimitMs, maxInputsPerClient int) *ClientRegistry {
	r := &ClientRegistry{rateLimitMs: rateLimitMs, maxInputsPerClient: maxInputsPerClient}
	for i := range r.shards {
		r.shards[i] = &clientShard{clients: make(map[string]*clientRecord)}
	}
	return r
}

func (r *ClientRegistry) shardFor(clientID string) *clientShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return r.shards[h.Sum32()%clientShardCount]
}

func (r *ClientRegistry) recordFor(clientID string) *clientRecord {
	shard := r.shardFor(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	rec, ok := shard.clients[clientID]
	if !ok {
		rec = &clientRecord{
			state:   ClientState{ClientID: clientID},
			limiter: newClientLimiter(r.rateLimitMs),
		}
		shard.clients[clientID] = rec
	}
	return rec
}

// Admit evaluates a would-be input from clientID arriving at nowMs against
// the block, rate-limit, and flood rules, in that priority order. On
// success it records the acceptance and optional location.
func (r *ClientRegistry) Admit(clientID string, nowMs int64, loc Location, hasLocation bool) (bool, RejectReason) {
	rec := r.recordFor(clientID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state.Blocked {
		if nowMs < rec.state.BlockedUntilMs {
			return false, ReasonClientBlocked
		}
		rec.state.Blocked = false
		rec.state.InputCount = 0
	}

	if !rec.limiter.allow(nowMs) {
		return false, ReasonRateLimited
	}

	if nowMs-rec.state.LastInputMs > floodResetWindowMs {
		rec.state.InputCount = 0
	}
	rec.state.InputCount++
	if rec.state.InputCount > r.maxInputsPerClient {
		rec.state.Blocked = true
		rec.state.BlockedUntilMs = nowMs + floodBlockMs
		return false, ReasonFloodBlocked
	}

	rec.state.LastInputMs = nowMs
	if hasLocation {
		rec.state.LastLocation = loc
		rec.state.HasLocation = true
	}
	return true, ""
}

// Snapshot returns a copy of clientID's current state, if known.
func (r *ClientRegistry) Snapshot(clientID string) (ClientState, bool) {
	shard := r.shardFor(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	rec, ok := shard.clients[clientID]
	if !ok {
		return ClientState{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, true
}

// ActiveCount returns the number of clients whose last accepted input is
// within windowMs of nowMs, used for aggregator participation-rate
// calculations.
func (r *ClientRegistry) ActiveCount(nowMs int64, windowMs int64) int {
	count := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for _, rec := range shard.clients {
			rec.mu.Lock()
			if nowMs-rec.state.LastInputMs <= windowMs {
				count++
			}
			rec.mu.Unlock()
		}
		shard.mu.Unlock()
	}
	return count
}

// EvictIdle removes clients that have been idle longer than idleEvictMs,
// releasing their per-connection resources, and returns how many it removed.
// No component of the engine calls it on a schedule; idle clients stay in
// the registry until EvictIdle or Evict is called.
func (r *ClientRegistry) EvictIdle(nowMs int64) int {
	evicted := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for id, rec := range shard.clients {
			rec.mu.Lock()
			idle := nowMs-rec.state.LastInputMs > idleEvictMs
			rec.mu.Unlock()
			if idle {
				delete(shard.clients, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}
	return evicted
}

// Evict removes a single client immediately, e.g. on disconnect.
func (r *ClientRegistry) Evict(clientID string) {
	shard := r.shardFor(clientID)
	shard.mu.Lock()
	delete(shard.clients, clientID)
	shard.mu.Unlock()
}
