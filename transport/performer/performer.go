// Package performer implements the performer channel's connection state
// machine: connecting -> awaiting_auth -> authenticated ->
// disconnected.
package performer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"resonance-engine/core"
	"resonance-engine/transport/hub"
	"resonance-engine/transport/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const idleTimeout = 120 * time.Second

// AuthConfig gates performer authentication.
type AuthConfig struct {
	Secret        string
	AuthTimeoutMs int64
	Permissions   core.PerformerPermissions
}

// Handler upgrades incoming HTTP requests to performer websocket
// connections and runs each connection's lifecycle.
type Handler struct {
	session *core.Session
	auth    AuthConfig
	hub     *hub.Hub
	log     *logrus.Entry
}

// NewHandler constructs a performer Handler bound to session.
func NewHandler(session *core.Session, auth AuthConfig, log *logrus.Entry) *Handler {
	h := &Handler{session: session, auth: auth, hub: hub.New(), log: log}
	session.Bus().SubscribeFunc(core.EventConsensusSnapshot, 64, h.onSnapshot)
	session.Bus().SubscribeFunc(core.EventSessionPause, 8, h.onLifecycleEvent("session:pause"))
	session.Bus().SubscribeFunc(core.EventSessionResume, 8, h.onLifecycleEvent("session:resume"))
	session.Bus().SubscribeFunc(core.EventSessionEnd, 8, h.onLifecycleEvent("session:end"))
	session.Bus().SubscribeFunc(core.EventPerformerOverrideClear, 16, h.onOverrideCleared)
	return h
}

func (h *Handler) onSnapshot(v any) {
	payload, ok := v.(core.ConsensusSnapshotPayload)
	if !ok {
		return
	}
	msg, err := wire.Encode(wire.TypeSnapshot, wire.SnapshotData{Snapshot: payload.Snapshot})
	if err != nil {
		return
	}
	h.hub.BroadcastEvent(msg)

	values, err := wire.Encode(wire.TypeValues, wire.ValuesData(payload.Snapshot.Values()))
	if err == nil {
		h.hub.BroadcastValues(values)
	}
}

func (h *Handler) onLifecycleEvent(eventType string) func(any) {
	return func(v any) {
		msg, err := wire.Encode(eventType, struct{}{})
		if err != nil {
			return
		}
		h.hub.BroadcastEvent(msg)
	}
}

func (h *Handler) onOverrideCleared(v any) {
	payload, ok := v.(core.PerformerOverrideClearPayload)
	if !ok || !payload.ClearedByOther {
		return
	}
	conn, ok := h.hub.Get(payload.PerformerID)
	if !ok {
		return
	}
	msg, err := wire.Encode(wire.TypeOverrideClearedByOther, wire.OverrideClearedByOtherData{Parameter: payload.Parameter})
	if err != nil {
		return
	}
	conn.SendEvent(msg)
}

// ServeHTTP upgrades the request and runs the connection until it
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.WithError(err).Warn("performer upgrade failed")
		}
		return
	}

	timeout := time.Duration(h.auth.AuthTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = ws.SetReadDeadline(time.Now().Add(timeout))

	performerID, ok := h.awaitAuth(ws)
	if !ok {
		_ = ws.Close()
		return
	}

	conn := hub.NewConn(performerID, ws, hub.DefaultQueueSize, h.log, func() {
		if h.log != nil {
			h.log.WithField("performer_id", performerID).Warn("slow_subscriber: performer connection")
		}
	})
	h.hub.Add(conn)
	defer h.hub.Remove(performerID)

	c := &connection{performerID: performerID, handler: h, conn: conn}
	c.readLoop(ws)
}

func (h *Handler) awaitAuth(ws *websocket.Conn) (string, bool) {
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return "", false
	}
	env, err := wire.Decode(raw)
	if err != nil || env.Type != wire.TypeAuth {
		h.sendAuthFailed(ws, "not_authenticated")
		return "", false
	}
	var auth wire.AuthData
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		h.sendAuthFailed(ws, "invalid_value")
		return "", false
	}
	if h.auth.Secret == "" || auth.Secret != h.auth.Secret {
		h.sendAuthFailed(ws, "not_authenticated")
		return "", false
	}
	msg, err := wire.Encode(wire.TypeAuthSuccess, wire.AuthSuccessData{PerformerID: auth.PerformerID})
	if err != nil {
		return "", false
	}
	_ = ws.WriteMessage(websocket.TextMessage, msg)
	return auth.PerformerID, true
}

func (h *Handler) sendAuthFailed(ws *websocket.Conn, reason string) {
	msg, err := wire.Encode(wire.TypeAuthFailed, wire.AuthFailedData{Reason: reason})
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, msg)
}

type connection struct {
	performerID string
	handler     *Handler
	conn        *hub.Conn
}

func (c *connection) authView() core.AuthorizationView {
	return core.AuthorizationView{
		PerformerID:     c.performerID,
		IsAuthenticated: true,
		Permissions:     c.handler.auth.Permissions,
	}
}

func (c *connection) readLoop(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(idleTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idleTimeout))
		c.handleMessage(raw)
	}
}

func (c *connection) handleMessage(raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		c.sendError("invalid_envelope", err.Error())
		return
	}
	switch env.Type {
	case wire.TypeOverride:
		c.handleOverride(env.Data)
	case wire.TypeOverrideClear:
		c.handleOverrideClear(env.Data)
	case wire.TypeSessionStart:
		c.guardLifecycle(c.handler.auth.Permissions.CanPause, c.handler.session.Start)
	case wire.TypeSessionPause:
		c.guardLifecycle(c.handler.auth.Permissions.CanPause, c.handler.session.Pause)
	case wire.TypeSessionResume:
		c.guardLifecycle(c.handler.auth.Permissions.CanPause, c.handler.session.Resume)
	case wire.TypeSessionEnd:
		c.guardLifecycle(c.handler.auth.Permissions.CanEnd, c.handler.session.End)
	default:
		c.sendError("unknown_event", "unsupported event type on performer channel: "+env.Type)
	}
}

func (c *connection) guardLifecycle(allowed bool, action func() error) {
	if !allowed {
		c.sendError("no_override_permission", "performer lacks permission for this session command")
		return
	}
	if err := action(); err != nil {
		c.sendError("invalid_command", err.Error())
	}
}

func (c *connection) handleOverride(data json.RawMessage) {
	var req wire.OverrideData
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("invalid_payload", err.Error())
		return
	}
	nowMs := c.handler.session.Clock().NowMs()
	var expiresAt int64
	if req.DurationMs > 0 {
		expiresAt = nowMs + req.DurationMs
	}
	ov := core.PerformerOverride{
		Parameter:   req.Parameter,
		Value:       req.Value,
		Mode:        core.OverrideMode(req.Mode),
		BlendFactor: req.BlendFactor,
		ExpiresAtMs: expiresAt,
		Reason:      req.Reason,
	}
	accepted, reason := c.handler.session.Overrides().Request(c.authView(), ov, nowMs)
	if reason != "" {
		c.sendError(string(reason), "override rejected")
		return
	}
	msg, err := wire.Encode(wire.TypeOverrideSuccess, wire.OverrideSuccessData{Override: accepted})
	if err == nil {
		c.conn.SendEvent(msg)
	}
}

func (c *connection) handleOverrideClear(data json.RawMessage) {
	var req wire.OverrideClearData
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("invalid_payload", err.Error())
		return
	}
	c.handler.session.Overrides().Clear(c.performerID, req.Parameter)
}

func (c *connection) sendError(code, message string) {
	msg, err := wire.Encode(wire.TypeError, wire.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	c.conn.SendEvent(msg)
}
