package core

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestIngress(t *testing.T) (*Ingress, *Aggregator, *Bus) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	defs := aggregatorTestDefs()
	overrides := NewOverrideRegistry(defs, nil, log)
	clients := NewClientRegistry(0, 1000)
	cf := newClockFixture()
	bus := NewBus(cf.mono, log)
	t.Cleanup(bus.Close)
	agg := NewAggregator(defs, VenueGeometry{Width: 40, Height: 25}, defaultWeighting(), overrides, clients, cf.mono, log)
	ingress := NewIngress(defs, VenueGeometry{Width: 40, Height: 25}, clients, agg, bus, log)
	return ingress, agg, bus
}

func TestIngressSubmitRejectsUnknownParameter(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	_, reason := ingress.Submit(AudienceInput{Parameter: "nope", Value: 0.5}, 0)
	if reason != ReasonInvalidParameter {
		t.Fatalf("expected invalid parameter, got %v", reason)
	}
}

func TestIngressSubmitRejectsNonAudienceControllable(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	_, reason := ingress.Submit(AudienceInput{Parameter: "fixed", Value: 0.5}, 0)
	if reason != ReasonInvalidParameter {
		t.Fatalf("expected invalid parameter for non-audience-controllable, got %v", reason)
	}
}

func TestIngressSubmitRejectsOutOfRangeValue(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	_, reason := ingress.Submit(AudienceInput{Parameter: "brightness", Value: 1.5}, 0)
	if reason != ReasonInvalidValue {
		t.Fatalf("expected invalid value, got %v", reason)
	}
}

func TestIngressSubmitRejectsLocationOutsideVenue(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	_, reason := ingress.Submit(AudienceInput{
		Parameter: "brightness", Value: 0.5, ClientID: "c1",
		HasLocation: true, Location: Location{X: 1000, Y: 1000},
	}, 0)
	if reason != ReasonInvalidValue {
		t.Fatalf("expected invalid value for out-of-bounds location, got %v", reason)
	}
}

func TestIngressSubmitAssignsIDAndTimestamp(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	in, reason := ingress.Submit(AudienceInput{Parameter: "brightness", Value: 0.5, ClientID: "c1"}, 12345)
	if reason != "" {
		t.Fatalf("expected acceptance, got %v", reason)
	}
	if in.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}
	if in.TimestampMs != 12345 {
		t.Fatalf("expected timestamp stamped from nowMs, got %d", in.TimestampMs)
	}
}

func TestIngressSubmitRejectsRateLimitedClient(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	if _, reason := ingress.Submit(AudienceInput{Parameter: "brightness", Value: 0.5, ClientID: "c1"}, 0); reason != "" {
		t.Fatalf("expected first submit accepted, got %v", reason)
	}
	_, reason := ingress.Submit(AudienceInput{Parameter: "brightness", Value: 0.5, ClientID: "c1"}, 0)
	if reason != ReasonRateLimited {
		t.Fatalf("expected rate limited on immediate resubmission, got %v", reason)
	}
}

func TestIngressSubmitPublishesToBus(t *testing.T) {
	ingress, _, bus := newTestIngress(t)
	sub := bus.Subscribe(EventAudienceInput, 4)
	defer bus.Unsubscribe(sub)

	if _, reason := ingress.Submit(AudienceInput{Parameter: "brightness", Value: 0.5, ClientID: "c1"}, 0); reason != "" {
		t.Fatalf("expected acceptance, got %v", reason)
	}

	select {
	case v := <-sub.Events():
		p := v.(AudienceInputPayload)
		if p.Input.Parameter != "brightness" {
			t.Fatalf("unexpected payload %+v", p)
		}
	default:
		t.Fatal("expected a published event")
	}
}

func TestIngressDrainBufferAccumulatesAndClears(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	ingress.Submit(AudienceInput{Parameter: "brightness", Value: 0.5, ClientID: "c1"}, 0)
	ingress.Submit(AudienceInput{Parameter: "tempo", Value: 0.5, ClientID: "c2"}, 0)

	batch := ingress.drainBuffer()
	if len(batch) != 2 {
		t.Fatalf("expected 2 buffered inputs, got %d", len(batch))
	}
	if more := ingress.drainBuffer(); more != nil {
		t.Fatalf("expected nil after drain, got %+v", more)
	}
}

func TestIngressSubmitAssignsZoneFromVenue(t *testing.T) {
	ingress, _, _ := newTestIngress(t)
	ingress.SetVenue(VenueGeometry{
		Width: 40, Height: 25,
		Zones: []Zone{{Name: "front", Bounds: BoundingBox{MinX: 0, MinY: 0, MaxX: 40, MaxY: 10}, SpatialMultiplier: 1}},
	})
	in, reason := ingress.Submit(AudienceInput{
		Parameter: "brightness", Value: 0.5, ClientID: "c1",
		HasLocation: true, Location: Location{X: 5, Y: 5},
	}, 0)
	if reason != "" {
		t.Fatalf("expected acceptance, got %v", reason)
	}
	if in.Location.Zone != "front" {
		t.Fatalf("expected zone assigned from venue, got %+v", in.Location)
	}
}
