package core

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ingress.go is the audience input ingress path: per-client
// admission (rate limit, flood block), structural validation, and handoff
// into the aggregator's per-parameter queues. Every rejection returns one of
// the closed RejectReason values from errors.go rather than a Go error, so
// transport/audience can forward it to the client verbatim.
type Ingress struct {
	defs       map[string]ParameterDefinition
	clients    *ClientRegistry
	aggregator *Aggregator
	bus        *Bus
	log        *logrus.Entry

	venueMu sync.RWMutex
	venue   VenueGeometry

	bufMu sync.Mutex
	buf   []AudienceInput
}

// NewIngress constructs the ingress path for the given parameter
// definitions, shared client registry, aggregator, and bus.
func NewIngress(defs map[string]ParameterDefinition, venue VenueGeometry, clients *ClientRegistry, aggregator *Aggregator, bus *Bus, log *logrus.Entry) *Ingress {
	return &Ingress{defs: defs, venue: venue, clients: clients, aggregator: aggregator, bus: bus, log: log}
}

// SetVenue atomically swaps the venue geometry used for location validation,
// kept in lockstep with the aggregator's own copy.
func (i *Ingress) SetVenue(v VenueGeometry) {
	i.venueMu.Lock()
	i.venue = v
	i.venueMu.Unlock()
}

func (i *Ingress) currentVenue() VenueGeometry {
	i.venueMu.RLock()
	defer i.venueMu.RUnlock()
	return i.venue
}

// Submit validates and admits a single raw audience input arriving at nowMs.
// On success it returns the fully populated AudienceInput (ID and timestamp
// assigned) and publishes EventAudienceInput; on rejection it returns the
// zero value and a RejectReason.
func (i *Ingress) Submit(raw AudienceInput, nowMs int64) (AudienceInput, RejectReason) {
	def, ok := i.defs[raw.Parameter]
	if !ok || !def.AudienceControllable {
		return AudienceInput{}, ReasonInvalidParameter
	}
	if isNonFinite(raw.Value) || raw.Value < 0 || raw.Value > 1 {
		return AudienceInput{}, ReasonInvalidValue
	}

	if raw.HasLocation {
		venue := i.currentVenue()
		if !venue.Contains(raw.Location.X, raw.Location.Y) {
			return AudienceInput{}, ReasonInvalidValue
		}
		if z, ok := venue.ZoneFor(raw.Location.X, raw.Location.Y); ok {
			raw.Location.Zone = z.Name
		}
	}

	if ok, reason := i.clients.Admit(raw.ClientID, nowMs, raw.Location, raw.HasLocation); !ok {
		return AudienceInput{}, reason
	}

	raw.TimestampMs = nowMs
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}

	if err := i.aggregator.Add(raw); err != nil {
		return AudienceInput{}, ReasonInvalidParameter
	}

	if i.bus != nil {
		i.bus.Publish(EventAudienceInput, AudienceInputPayload{Input: raw})
	}
	i.bufMu.Lock()
	i.buf = append(i.buf, raw)
	i.bufMu.Unlock()
	return raw, ""
}

// drainBuffer removes and returns everything accumulated since the last
// flush. Called only by the batcher.
func (i *Ingress) drainBuffer() []AudienceInput {
	i.bufMu.Lock()
	defer i.bufMu.Unlock()
	if len(i.buf) == 0 {
		return nil
	}
	out := i.buf
	i.buf = nil
	return out
}
