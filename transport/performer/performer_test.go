package performer

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"net/http/httptest"

	"resonance-engine/core"
	"resonance-engine/transport/wire"
)

func testDefs() map[string]core.ParameterDefinition {
	return map[string]core.ParameterDefinition{
		"brightness": {ID: "brightness", Default: 0.5, Min: 0, Max: 1, AudienceControllable: true, PerformerControllable: true},
	}
}

func newTestSession(t *testing.T) *core.Session {
	t.Helper()
	s, err := core.NewSession(core.SessionConfig{
		SessionID:          "s1",
		Parameters:         testDefs(),
		Venue:              core.VenueGeometry{Width: 10, Height: 10},
		Weighting:          core.WeightingConfig{SpatialAlpha: 0.3, TemporalBeta: 0.5, ConsensusGamma: 0.2, SmoothingFactor: 0.3, OutlierThreshold: 2.5},
		TickPeriodMs:       50,
		BatchPeriodMs:      20,
		MaxInputsPerClient: 1000,
	}, clock.New(), nil, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.End() })
	return s
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func authenticate(t *testing.T, conn *websocket.Conn, secret, performerID string) {
	t.Helper()
	raw, err := wire.Encode(wire.TypeAuth, wire.AuthData{Secret: secret, PerformerID: performerID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error reading message: %v", err)
	}
	env, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error decoding envelope: %v", err)
	}
	return env
}

func TestPerformerAuthSuccess(t *testing.T) {
	session := newTestSession(t)
	h := NewHandler(session, AuthConfig{Secret: "s3cret", AuthTimeoutMs: 1000, Permissions: core.PerformerPermissions{CanOverride: true}}, logrus.NewEntry(logrus.New()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	authenticate(t, conn, "s3cret", "p1")

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeAuthSuccess {
		t.Fatalf("expected auth:success, got %q", env.Type)
	}
}

func TestPerformerAuthFailureWrongSecret(t *testing.T) {
	session := newTestSession(t)
	h := NewHandler(session, AuthConfig{Secret: "s3cret", AuthTimeoutMs: 1000}, logrus.NewEntry(logrus.New()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	authenticate(t, conn, "wrong", "p1")

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeAuthFailed {
		t.Fatalf("expected auth:failed for a wrong secret, got %q", env.Type)
	}
}

func TestPerformerAuthFailureWhenFirstMessageIsNotAuth(t *testing.T) {
	session := newTestSession(t)
	h := NewHandler(session, AuthConfig{Secret: "s3cret", AuthTimeoutMs: 1000}, logrus.NewEntry(logrus.New()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	raw, _ := wire.Encode(wire.TypeOverride, wire.OverrideData{Parameter: "brightness"})
	conn.WriteMessage(websocket.TextMessage, raw)

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeAuthFailed {
		t.Fatalf("expected auth:failed when the first message isn't auth, got %q", env.Type)
	}
}

func TestPerformerOverrideAcceptedAfterAuth(t *testing.T) {
	session := newTestSession(t)
	h := NewHandler(session, AuthConfig{Secret: "s3cret", AuthTimeoutMs: 1000, Permissions: core.PerformerPermissions{CanOverride: true}}, logrus.NewEntry(logrus.New()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	authenticate(t, conn, "s3cret", "p1")
	readEnvelope(t, conn) // auth:success

	raw, _ := wire.Encode(wire.TypeOverride, wire.OverrideData{Parameter: "brightness", Value: 0.9, Mode: "absolute"})
	conn.WriteMessage(websocket.TextMessage, raw)

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeOverrideSuccess {
		t.Fatalf("expected override:success, got %q", env.Type)
	}
}

func TestPerformerOverrideRejectedWithoutPermission(t *testing.T) {
	session := newTestSession(t)
	h := NewHandler(session, AuthConfig{Secret: "s3cret", AuthTimeoutMs: 1000}, logrus.NewEntry(logrus.New()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	authenticate(t, conn, "s3cret", "p1")
	readEnvelope(t, conn) // auth:success

	raw, _ := wire.Encode(wire.TypeOverride, wire.OverrideData{Parameter: "brightness", Value: 0.9, Mode: "absolute"})
	conn.WriteMessage(websocket.TextMessage, raw)

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeError {
		t.Fatalf("expected an error event when the performer lacks override permission, got %q", env.Type)
	}
}

func TestPerformerSessionEndGuardedByPermission(t *testing.T) {
	session := newTestSession(t)
	h := NewHandler(session, AuthConfig{Secret: "s3cret", AuthTimeoutMs: 1000}, logrus.NewEntry(logrus.New()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	authenticate(t, conn, "s3cret", "p1")
	readEnvelope(t, conn) // auth:success

	raw, _ := wire.Encode(wire.TypeSessionEnd, struct{}{})
	conn.WriteMessage(websocket.TextMessage, raw)

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeError {
		t.Fatalf("expected an error event when lacking CanEnd permission, got %q", env.Type)
	}
}
