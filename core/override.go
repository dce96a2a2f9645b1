package core

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// override.go is the performer override registry. It stores
// at most one active override per parameter; single-writer-per-parameter at
// a time, guarded by a per-parameter mutex rather than one global lock so
// concurrent overrides on different parameters never contend.

// AuthorizationView is the subset of a performer session the registry needs
// to authorize a request. transport/performer constructs this from its own
// PerformerSession record.
type AuthorizationView struct {
	PerformerID     string
	IsAuthenticated bool
	Permissions     PerformerPermissions
}

type overrideSlot struct {
	mu     sync.Mutex
	active *PerformerOverride
}

// OverrideRegistry is the session-wide store of active performer overrides.
type OverrideRegistry struct {
	paramDefs map[string]ParameterDefinition
	bus       *Bus
	log       *logrus.Entry

	slotsMu sync.RWMutex
	slots   map[string]*overrideSlot
}

// NewOverrideRegistry constructs a registry scoped to the given parameter
// definitions.
func NewOverrideRegistry(paramDefs map[string]ParameterDefinition, bus *Bus, log *logrus.Entry) *OverrideRegistry {
	return &OverrideRegistry{paramDefs: paramDefs, bus: bus, log: log, slots: make(map[string]*overrideSlot)}
}

func (o *OverrideRegistry) slotFor(parameter string) *overrideSlot {
	o.slotsMu.RLock()
	s, ok := o.slots[parameter]
	o.slotsMu.RUnlock()
	if ok {
		return s
	}
	o.slotsMu.Lock()
	defer o.slotsMu.Unlock()
	if s, ok := o.slots[parameter]; ok {
		return s
	}
	s = &overrideSlot{}
	o.slots[parameter] = s
	return s
}

// Request validates and installs an override, replacing any existing one for
// the same parameter. It returns the accepted override, or a zero value and a
// RejectReason drawn from the closed set.
func (o *OverrideRegistry) Request(auth AuthorizationView, ov PerformerOverride, nowMs int64) (PerformerOverride, RejectReason) {
	if !auth.IsAuthenticated {
		return PerformerOverride{}, ReasonNotAuthenticated
	}
	if !auth.Permissions.CanOverride {
		return PerformerOverride{}, ReasonNoOverridePermission
	}
	if !auth.Permissions.Allows(ov.Parameter) {
		return PerformerOverride{}, ReasonParameterNotAllowed
	}
	def, known := o.paramDefs[ov.Parameter]
	if !known || !def.PerformerControllable {
		return PerformerOverride{}, ReasonParameterNotPerformerControl
	}
	switch ov.Mode {
	case OverrideAbsolute, OverrideLock:
	case OverrideBlend:
		if ov.BlendFactor == 0 {
			ov.BlendFactor = 0.5
		}
		if ov.BlendFactor < 0 || ov.BlendFactor > 1 {
			return PerformerOverride{}, ReasonInvalidValue
		}
	default:
		return PerformerOverride{}, ReasonInvalidMode
	}
	if isNonFinite(ov.Value) || ov.Value < 0 || ov.Value > 1 {
		return PerformerOverride{}, ReasonInvalidValue
	}

	ov.PerformerID = auth.PerformerID
	slot := o.slotFor(ov.Parameter)
	slot.mu.Lock()
	previous := slot.active
	slot.active = &ov
	slot.mu.Unlock()

	if o.bus != nil {
		o.bus.Publish(EventPerformerOverride, PerformerOverridePayload{Override: ov})
		if previous != nil && previous.PerformerID != ov.PerformerID {
			o.bus.Publish(EventPerformerOverrideClear, PerformerOverrideClearPayload{
				PerformerID:    previous.PerformerID,
				Parameter:      previous.Parameter,
				ClearedByOther: true,
			})
		}
	}
	return ov, ""
}

// Clear removes the active override for parameter if performerID owns it.
// Returns false if there was no override, or it belongs to someone else.
func (o *OverrideRegistry) Clear(performerID, parameter string) bool {
	slot := o.slotFor(parameter)
	slot.mu.Lock()
	if slot.active == nil || slot.active.PerformerID != performerID {
		slot.mu.Unlock()
		return false
	}
	slot.active = nil
	slot.mu.Unlock()
	if o.bus != nil {
		o.bus.Publish(EventPerformerOverrideClear, PerformerOverrideClearPayload{
			PerformerID: performerID,
			Parameter:   parameter,
		})
	}
	return true
}

// Resolve applies the active override (if any and unexpired) to
// consensusValue. Expired overrides are removed as a side
// effect of this call.
func (o *OverrideRegistry) Resolve(parameter string, consensusValue float64, nowMs int64) (float64, bool) {
	slot := o.slotFor(parameter)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.active == nil {
		return consensusValue, false
	}
	if slot.active.Expired(nowMs) {
		slot.active = nil
		return consensusValue, false
	}
	ov := slot.active
	switch ov.Mode {
	case OverrideAbsolute, OverrideLock:
		return ov.Value, true
	case OverrideBlend:
		f := ov.BlendFactor
		if f == 0 {
			f = 0.5
		}
		return ov.Value*f + consensusValue*(1-f), true
	default:
		return consensusValue, false
	}
}

// Active returns the current override for parameter, if any and unexpired.
func (o *OverrideRegistry) Active(parameter string, nowMs int64) (PerformerOverride, bool) {
	slot := o.slotFor(parameter)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.active == nil || slot.active.Expired(nowMs) {
		return PerformerOverride{}, false
	}
	return *slot.active, true
}

func isNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
