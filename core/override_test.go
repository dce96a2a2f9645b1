package core

import "testing"

func overrideTestDefs() map[string]ParameterDefinition {
	return map[string]ParameterDefinition{
		"brightness": {ID: "brightness", PerformerControllable: true, AudienceControllable: true, Min: 0, Max: 1},
		"locked":     {ID: "locked", PerformerControllable: false, AudienceControllable: true, Min: 0, Max: 1},
	}
}

func authenticated(permissions PerformerPermissions) AuthorizationView {
	return AuthorizationView{PerformerID: "p1", IsAuthenticated: true, Permissions: permissions}
}

func TestOverrideRequestRejectsUnauthenticated(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	_, reason := reg.Request(AuthorizationView{}, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute}, 0)
	if reason != ReasonNotAuthenticated {
		t.Fatalf("expected not authenticated, got %v", reason)
	}
}

func TestOverrideRequestRejectsWithoutPermission(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: false})
	_, reason := reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute}, 0)
	if reason != ReasonNoOverridePermission {
		t.Fatalf("expected no override permission, got %v", reason)
	}
}

func TestOverrideRequestRejectsDisallowedParameter(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true, AllowedParameters: []string{"tempo"}})
	_, reason := reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute}, 0)
	if reason != ReasonParameterNotAllowed {
		t.Fatalf("expected parameter not allowed, got %v", reason)
	}
}

func TestOverrideRequestRejectsNonPerformerControllable(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true})
	_, reason := reg.Request(auth, PerformerOverride{Parameter: "locked", Mode: OverrideAbsolute, Value: 0.5}, 0)
	if reason != ReasonParameterNotPerformerControl {
		t.Fatalf("expected parameter not performer controllable, got %v", reason)
	}
}

func TestOverrideRequestRejectsOutOfRangeValue(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true})
	_, reason := reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute, Value: 1.5}, 0)
	if reason != ReasonInvalidValue {
		t.Fatalf("expected invalid value, got %v", reason)
	}
}

func TestOverrideRequestAcceptsAbsolute(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true})
	ov, reason := reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute, Value: 0.8}, 0)
	if reason != "" {
		t.Fatalf("expected acceptance, got reason %v", reason)
	}
	if ov.PerformerID != "p1" {
		t.Fatalf("expected performer id stamped, got %+v", ov)
	}
	value, active := reg.Resolve("brightness", 0.2, 0)
	if !active || value != 0.8 {
		t.Fatalf("expected absolute override to win, got value=%v active=%v", value, active)
	}
}

func TestOverrideResolveBlendsWithConsensus(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true})
	_, reason := reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideBlend, Value: 1.0, BlendFactor: 0.25}, 0)
	if reason != "" {
		t.Fatalf("expected acceptance, got %v", reason)
	}
	value, active := reg.Resolve("brightness", 0.0, 0)
	if !active {
		t.Fatal("expected override active")
	}
	if value != 0.25 {
		t.Fatalf("expected blended value 0.25, got %v", value)
	}
}

func TestOverrideResolveNoActiveOverride(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	value, active := reg.Resolve("brightness", 0.42, 0)
	if active || value != 0.42 {
		t.Fatalf("expected consensus value passed through unchanged, got value=%v active=%v", value, active)
	}
}

func TestOverrideResolveExpiresOverride(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true})
	reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute, Value: 0.9, ExpiresAtMs: 100}, 0)

	value, active := reg.Resolve("brightness", 0.1, 50)
	if !active || value != 0.9 {
		t.Fatalf("expected override still active before expiry, got value=%v active=%v", value, active)
	}

	value, active = reg.Resolve("brightness", 0.1, 200)
	if active || value != 0.1 {
		t.Fatalf("expected override expired and consensus value returned, got value=%v active=%v", value, active)
	}
}

func TestOverrideClearOnlyByOwner(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	auth := authenticated(PerformerPermissions{CanOverride: true})
	reg.Request(auth, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute, Value: 0.9}, 0)

	if reg.Clear("someone-else", "brightness") {
		t.Fatal("expected clear by non-owner to fail")
	}
	if !reg.Clear("p1", "brightness") {
		t.Fatal("expected clear by owner to succeed")
	}
	_, active := reg.Active("brightness", 0)
	if active {
		t.Fatal("expected no active override after clear")
	}
}

func TestOverrideRequestReplacesPreviousOwner(t *testing.T) {
	reg := NewOverrideRegistry(overrideTestDefs(), nil, nil)
	first := authenticated(PerformerPermissions{CanOverride: true})
	first.PerformerID = "p1"
	reg.Request(first, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute, Value: 0.2}, 0)

	second := authenticated(PerformerPermissions{CanOverride: true})
	second.PerformerID = "p2"
	ov, reason := reg.Request(second, PerformerOverride{Parameter: "brightness", Mode: OverrideAbsolute, Value: 0.7}, 0)
	if reason != "" {
		t.Fatalf("expected second override accepted, got %v", reason)
	}
	if ov.PerformerID != "p2" {
		t.Fatalf("expected new owner p2, got %v", ov.PerformerID)
	}
	value, _ := reg.Resolve("brightness", 0, 0)
	if value != 0.7 {
		t.Fatalf("expected latest override value to win, got %v", value)
	}
}
