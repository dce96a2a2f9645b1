package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// aggregator.go implements the per-parameter consensus aggregator. Each
// parameter owns an MPSC queue fed by any number of ingress goroutines; only
// the tick loop's single goroutine ever touches a parameter's sliding window,
// history, or last-result fields, so no lock is needed on those beyond
// draining the queue itself.

const (
	maxHistoryLength   = 100
	pendingQueueDepth  = 4096
)

type paramState struct {
	def ParameterDefinition

	pending chan AudienceInput // MPSC: many ingress producers, one tick consumer

	window      *inputWindow
	lastResult  *ConsensusResult
	history     []ConsensusResult
	historyHead int
}

func newParamState(def ParameterDefinition) *paramState {
	return &paramState{
		def:     def,
		pending: make(chan AudienceInput, pendingQueueDepth),
		window:  newInputWindow(),
	}
}

func (p *paramState) pushHistory(r ConsensusResult) {
	if len(p.history) < maxHistoryLength {
		p.history = append(p.history, r)
		return
	}
	p.history[p.historyHead] = r
	p.historyHead = (p.historyHead + 1) % maxHistoryLength
}

// Aggregator holds every parameter's sliding window, last consensus value,
// and bounded history, plus a pointer to the override registry it consults
// each tick.
type Aggregator struct {
	params map[string]*paramState

	venueMu sync.RWMutex
	venue   VenueGeometry

	cfgMu sync.RWMutex
	cfg   WeightingConfig

	overrides *OverrideRegistry
	clients   *ClientRegistry
	clock     *MonoClock
	log       *logrus.Entry

	lastTsMu sync.Mutex
	lastTs   map[string]int64
}

// NewAggregator constructs an Aggregator for the given parameter
// definitions, venue geometry, and initial weighting config.
func NewAggregator(defs map[string]ParameterDefinition, venue VenueGeometry, cfg WeightingConfig, overrides *OverrideRegistry, clients *ClientRegistry, clock *MonoClock, log *logrus.Entry) *Aggregator {
	a := &Aggregator{
		params:    make(map[string]*paramState, len(defs)),
		venue:     venue,
		cfg:       cfg,
		overrides: overrides,
		clients:   clients,
		clock:     clock,
		log:       log,
		lastTs:    make(map[string]int64),
	}
	for name, def := range defs {
		a.params[name] = newParamState(def)
	}
	return a
}

// Add enqueues an accepted audience input for its parameter.
// It rejects inputs for unknown or non-audience-controllable parameters; a
// non-finite value is silently discarded, matching ingress's own validation.
func (a *Aggregator) Add(in AudienceInput) error {
	p, ok := a.params[in.Parameter]
	if !ok {
		return ErrUnknownParameter
	}
	if !p.def.AudienceControllable {
		return ErrNotAudienceControllable
	}
	if isNonFinite(in.Value) {
		return nil
	}
	select {
	case p.pending <- in:
		return nil
	default:
		// Queue full: drop the oldest pending input to make room rather than
		// block the producer.
		select {
		case <-p.pending:
		default:
		}
		select {
		case p.pending <- in:
		default:
		}
		if a.log != nil {
			a.log.WithField("parameter", in.Parameter).Warn("ingress queue full: dropped oldest input")
		}
		return nil
	}
}

func (a *Aggregator) drain(p *paramState) {
	for {
		select {
		case in := <-p.pending:
			p.window.push(in)
		default:
			return
		}
	}
}

func (a *Aggregator) currentVenue() VenueGeometry {
	a.venueMu.RLock()
	defer a.venueMu.RUnlock()
	return a.venue
}

func (a *Aggregator) currentConfig() WeightingConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// SetVenue atomically swaps the venue geometry. Callers must only do this
// between ticks.
func (a *Aggregator) SetVenue(v VenueGeometry) {
	a.venueMu.Lock()
	a.venue = v
	a.venueMu.Unlock()
}

// UpdateConfig atomically swaps the weighting config. Callers must only do
// this between ticks.
func (a *Aggregator) UpdateConfig(cfg WeightingConfig) {
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()
}

func (a *Aggregator) monotonicTs(parameter string, nowMs int64) int64 {
	a.lastTsMu.Lock()
	defer a.lastTsMu.Unlock()
	if prev, ok := a.lastTs[parameter]; ok && nowMs <= prev {
		nowMs = prev + 1
	}
	a.lastTs[parameter] = nowMs
	return nowMs
}

// ComputeParameter drains pending inputs, prunes the window, and produces
// this tick's ConsensusResult for a single parameter.
func (a *Aggregator) ComputeParameter(parameter string, nowMs int64) ConsensusResult {
	p, ok := a.params[parameter]
	if !ok {
		return ConsensusResult{Parameter: parameter, TimestampMs: nowMs}
	}

	a.drain(p)
	cfg := a.currentConfig()
	p.window.pruneOlderThan(nowMs - cfg.TemporalWindowMs)

	ts := a.monotonicTs(parameter, nowMs)
	inputs := p.window.snapshot()

	var previous *float64
	if p.lastResult != nil {
		v := p.lastResult.Value
		previous = &v
	}

	var result ConsensusResult
	if len(inputs) == 0 {
		base := p.def.Default
		if previous != nil {
			base = *previous
		}
		result = ConsensusResult{
			Parameter:   parameter,
			Value:       base,
			Confidence:  0,
			InputCount:  0,
			TimestampMs: ts,
			Mode:        ModeDefault,
		}
	} else {
		venue := a.currentVenue()
		values := make([]float64, len(inputs))
		weights := make([]float64, len(inputs))
		for i, in := range inputs {
			values[i] = in.Value
		}
		for i, in := range inputs {
			sw := SpatialWeight(in.Location, in.HasLocation, venue, cfg)
			tw := TemporalWeight(in.TimestampMs, nowMs, cfg)
			cw := ConsensusWeight(in.Value, values, cfg)
			weights[i] = CompositeWeight(sw, tw, cw, cfg)
		}
		weights = NormalizeWeights(weights)

		kept := FilterOutliers(values, cfg.OutlierThreshold)
		keptValues := make([]float64, len(kept))
		keptWeights := make([]float64, len(kept))
		for i, idx := range kept {
			keptValues[i] = values[idx]
			keptWeights[i] = weights[idx]
		}

		rawMean := mean(values)
		weightedMean := WeightedMean(keptValues, keptWeights)
		stddev := StdDev(values)

		smoothed := weightedMean
		if p.def.SmoothingEnabled {
			smoothed = Smooth(previous, weightedMean, cfg.SmoothingFactor)
		}

		participation := 0.0
		if a.clients != nil {
			if active := a.clients.ActiveCount(nowMs, cfg.TemporalWindowMs); active > 0 {
				participation = float64(len(inputs)) / float64(active)
			}
		}

		cluster := AnalyzeClusters(keptValues, cfg.ClusterThreshold, previous)

		result = ConsensusResult{
			Parameter:         parameter,
			Value:             clamp01(smoothed),
			Confidence:        1 / (1 + stddev),
			InputCount:        len(inputs),
			TimestampMs:       ts,
			Mode:              ModeConsensus,
			RawMean:           rawMean,
			WeightedMean:      weightedMean,
			StdDev:            stddev,
			ParticipationRate: participation,
			Cluster:           &cluster,
		}
	}

	if a.overrides != nil {
		if final, overridden := a.overrides.Resolve(parameter, result.Value, nowMs); overridden {
			result.Value = clamp01(final)
			result.Mode = ModeOverride
		}
	}

	p.lastResult = &result
	p.pushHistory(result)
	return result
}

// ComputeAll computes every parameter's consensus result for this tick.
func (a *Aggregator) ComputeAll(nowMs int64) map[string]ConsensusResult {
	out := make(map[string]ConsensusResult, len(a.params))
	for name := range a.params {
		out[name] = a.ComputeParameter(name, nowMs)
	}
	return out
}

// History returns a copy of parameter's bounded history, oldest first.
func (a *Aggregator) History(parameter string) []ConsensusResult {
	p, ok := a.params[parameter]
	if !ok {
		return nil
	}
	if len(p.history) < maxHistoryLength {
		return append([]ConsensusResult(nil), p.history...)
	}
	out := make([]ConsensusResult, 0, maxHistoryLength)
	for i := 0; i < maxHistoryLength; i++ {
		out = append(out, p.history[(p.historyHead+i)%maxHistoryLength])
	}
	return out
}

// Snapshot computes every parameter and assembles the per-tick Snapshot.
func (a *Aggregator) Snapshot(sessionID string, nowMs int64) Snapshot {
	results := a.ComputeAll(nowMs)
	total, active := 0, 0
	if a.clients != nil {
		cfg := a.currentConfig()
		active = a.clients.ActiveCount(nowMs, cfg.TemporalWindowMs)
		total = a.clients.ActiveCount(nowMs, cfg.TemporalWindowMs*100) // generously "ever seen recently"
	}
	return Snapshot{
		SessionID:          sessionID,
		TimestampMs:        nowMs,
		Results:            results,
		TotalParticipants:  total,
		ActiveParticipants: active,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
