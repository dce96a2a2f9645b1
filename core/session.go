package core

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// session.go wires the bus, client registry, override registry, aggregator,
// ingress, tick loop, telemetry, and OSC sink into one explicit-lifecycle
// object. It is the one place in the package that owns construction order
// and shutdown order.

// SessionState is the closed set of lifecycle states a Session moves
// through.
type SessionState string

const (
	SessionCreated SessionState = "created"
	SessionRunning SessionState = "running"
	SessionPaused  SessionState = "paused"
	SessionEnded   SessionState = "ended"
)

// SessionConfig is everything needed to construct a Session.
type SessionConfig struct {
	SessionID          string
	Parameters         map[string]ParameterDefinition
	Venue              VenueGeometry
	Weighting          WeightingConfig
	TickPeriodMs       int64
	BatchPeriodMs      int64
	RateLimitMs        int
	MaxInputsPerClient int
	OSCAddr            string // empty disables the OSC sink
	TelemetryLogPath   string // empty disables telemetry
}

// Session owns one performance's worth of pipeline components end to end.
type Session struct {
	id      string
	cfg     SessionConfig
	clock   *MonoClock
	bus     *Bus
	clients *ClientRegistry
	overrides *OverrideRegistry
	aggregator *Aggregator
	ingress *Ingress
	telemetry *Telemetry
	osc     *OSCSink
	oscSub  *Subscription
	store   Store
	log     *logrus.Entry
	startedAtMs int64

	mu      sync.Mutex
	state   SessionState
	tick    *TickLoop
	batcher *Batcher
}

// NewSession constructs a Session and every component it owns, but does not
// start the tick loop; call Start for that.
func NewSession(cfg SessionConfig, clk Clock, store Store, log *logrus.Entry) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("core: session id required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	mono := NewMonoClock(clk)
	bus := NewBus(mono, log)
	clients := NewClientRegistry(cfg.RateLimitMs, cfg.MaxInputsPerClient)
	overrides := NewOverrideRegistry(cfg.Parameters, bus, log)
	aggregator := NewAggregator(cfg.Parameters, cfg.Venue, cfg.Weighting, overrides, clients, mono, log)
	ingress := NewIngress(cfg.Parameters, cfg.Venue, clients, aggregator, bus, log)

	s := &Session{
		id:         cfg.SessionID,
		cfg:        cfg,
		clock:      mono,
		bus:        bus,
		clients:    clients,
		overrides:  overrides,
		aggregator: aggregator,
		ingress:    ingress,
		store:      store,
		log:        log,
		state:      SessionCreated,
		startedAtMs: mono.NowMs(),
	}

	if cfg.TelemetryLogPath != "" {
		t, err := NewTelemetry(bus, clients, mono, cfg.TelemetryLogPath)
		if err != nil {
			return nil, fmt.Errorf("core: telemetry init: %w", err)
		}
		s.telemetry = t
	}

	if cfg.OSCAddr != "" {
		sink, err := NewOSCSink(cfg.OSCAddr, log)
		if err != nil {
			return nil, fmt.Errorf("core: osc sink init: %w", err)
		}
		s.osc = sink
		s.oscSub = bus.SubscribeFunc(EventConsensusSnapshot, 16, func(v any) {
			if payload, ok := v.(ConsensusSnapshotPayload); ok {
				sink.SendSnapshot(payload.Snapshot)
			}
		})
	}

	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus, for transports to subscribe to.
func (s *Session) Bus() *Bus { return s.bus }

// Ingress returns the session's audience input ingress path.
func (s *Session) Ingress() *Ingress { return s.ingress }

// Overrides returns the session's performer override registry.
func (s *Session) Overrides() *OverrideRegistry { return s.overrides }

// Telemetry returns the session's telemetry collector, or nil if telemetry
// was not configured.
func (s *Session) Telemetry() *Telemetry { return s.telemetry }

// Config returns a copy of the session's configuration, for read-only
// diagnostic surfaces.
func (s *Session) Config() SessionConfig { return s.cfg }

// StartedAt returns the monotonic-ms reading captured when the session was
// constructed, for uptime reporting.
func (s *Session) StartedAt() int64 { return s.startedAtMs }

// Aggregator returns the session's consensus aggregator.
func (s *Session) Aggregator() *Aggregator { return s.aggregator }

// Clients returns the session's client registry.
func (s *Session) Clients() *ClientRegistry { return s.clients }

// Clock returns the session's monotonic clock.
func (s *Session) Clock() *MonoClock { return s.clock }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start transitions a created or paused session to running, launching the
// tick loop goroutine.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionRunning {
		return nil
	}
	if s.state == SessionEnded {
		return fmt.Errorf("core: session %s already ended", s.id)
	}
	s.tick = NewTickLoop(s.aggregator, s.bus, s.clients, s.clock, s.id, s.cfg.TickPeriodMs, s.log)
	s.batcher = NewBatcher(s.ingress, s.bus, s.clock, s.cfg.BatchPeriodMs)
	s.state = SessionRunning
	go s.tick.Start()
	go s.batcher.Start()
	s.bus.Publish(EventSessionStart, SessionLifecyclePayload{SessionID: s.id})
	return nil
}

// Pause halts the tick loop and batcher without tearing down any other
// component: ingress keeps accepting inputs into the aggregator's
// per-parameter queues, but nothing drains or prunes them and no consensus
// updates are published until Resume.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRunning {
		return fmt.Errorf("core: session %s is not running", s.id)
	}
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.batcher != nil {
		s.batcher.Stop()
		s.batcher = nil
	}
	s.state = SessionPaused
	s.bus.Publish(EventSessionPause, SessionLifecyclePayload{SessionID: s.id})
	return nil
}

// Resume restarts the tick loop and batcher after a Pause.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPaused {
		return fmt.Errorf("core: session %s is not paused", s.id)
	}
	s.tick = NewTickLoop(s.aggregator, s.bus, s.clients, s.clock, s.id, s.cfg.TickPeriodMs, s.log)
	s.batcher = NewBatcher(s.ingress, s.bus, s.clock, s.cfg.BatchPeriodMs)
	s.state = SessionRunning
	go s.tick.Start()
	go s.batcher.Start()
	s.bus.Publish(EventSessionResume, SessionLifecyclePayload{SessionID: s.id})
	return nil
}

// End stops the tick loop and batcher, persists a final snapshot if a store
// was configured, and releases every component the session owns. A session
// cannot be restarted after End.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state == SessionEnded {
		s.mu.Unlock()
		return nil
	}
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.batcher != nil {
		s.batcher.Stop()
		s.batcher = nil
	}
	s.state = SessionEnded
	s.mu.Unlock()

	nowMs := s.clock.NowMs()
	final := s.aggregator.Snapshot(s.id, nowMs)
	if s.store != nil {
		if err := PutSnapshot(s.store, s.id, final); err != nil && s.log != nil {
			s.log.WithError(err).Warn("failed to persist final snapshot")
		}
	}

	s.bus.Publish(EventSessionEnd, SessionLifecyclePayload{SessionID: s.id})

	if s.oscSub != nil {
		s.bus.Unsubscribe(s.oscSub)
	}
	if s.osc != nil {
		_ = s.osc.Close()
	}
	if s.telemetry != nil {
		_ = s.telemetry.Close()
	}
	s.bus.Close()
	return nil
}
