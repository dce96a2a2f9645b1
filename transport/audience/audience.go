// Package audience implements the audience channel's connection state
// machine: connecting -> session_state_sent -> active ->
// disconnected.
package audience

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"resonance-engine/core"
	"resonance-engine/transport/hub"
	"resonance-engine/transport/wire"
)

const idleTimeout = 120 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades incoming HTTP requests to audience websocket connections
// and runs each connection's lifecycle.
type Handler struct {
	session *core.Session
	defs    map[string]core.ParameterDefinition
	hub     *hub.Hub
	log     *logrus.Entry
}

// NewHandler constructs an audience Handler bound to session.
func NewHandler(session *core.Session, defs map[string]core.ParameterDefinition, log *logrus.Entry) *Handler {
	h := &Handler{session: session, defs: defs, hub: hub.New(), log: log}
	session.Bus().SubscribeFunc(core.EventConsensusSnapshot, 64, h.onSnapshot)
	session.Bus().SubscribeFunc(core.EventSessionPause, 8, h.onLifecycle(wire.StatusPaused))
	session.Bus().SubscribeFunc(core.EventSessionResume, 8, h.onLifecycle(wire.StatusActive))
	session.Bus().SubscribeFunc(core.EventSessionEnd, 8, h.onLifecycle(wire.StatusEnded))
	return h
}

func (h *Handler) onSnapshot(v any) {
	payload, ok := v.(core.ConsensusSnapshotPayload)
	if !ok {
		return
	}
	msg, err := wire.Encode(wire.TypeValues, wire.ValuesData(payload.Snapshot.Values()))
	if err != nil {
		return
	}
	h.hub.BroadcastValues(msg)
}

func (h *Handler) onLifecycle(status wire.SessionStatus) func(any) {
	return func(v any) {
		msg, err := wire.Encode(string(status), struct{}{})
		if err != nil {
			return
		}
		h.hub.BroadcastEvent(msg)
	}
}

// ServeHTTP upgrades the request and runs the connection until it
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id required", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.WithError(err).Warn("audience upgrade failed")
		}
		return
	}

	conn := hub.NewConn(clientID, ws, hub.DefaultQueueSize, h.log, func() {
		if h.log != nil {
			h.log.WithField("client_id", clientID).Warn("slow_subscriber: audience connection")
		}
	})
	h.hub.Add(conn)
	defer func() {
		h.hub.Remove(clientID)
		h.session.Clients().Evict(clientID)
	}()

	c := &connection{clientID: clientID, handler: h, conn: conn}
	c.sendSessionState()
	c.readLoop(ws)
}

// connection tracks the per-connection state a websocket read loop needs:
// the client's most recently reported location, attached to subsequent
// `input` messages since location arrives as its own event.
type connection struct {
	clientID string
	handler  *Handler
	conn     *hub.Conn

	mu          sync.Mutex
	location    core.Location
	hasLocation bool
}

func (c *connection) sendSessionState() {
	nowMs := c.handler.session.Clock().NowMs()
	snap := c.handler.session.Aggregator().Snapshot(c.handler.session.ID(), nowMs)
	defs := make([]core.ParameterDefinition, 0, len(c.handler.defs))
	for _, d := range c.handler.defs {
		defs = append(defs, d)
	}
	msg, err := wire.Encode(wire.TypeSessionState, wire.SessionStateData{
		SessionID:  c.handler.session.ID(),
		Status:     statusFor(c.handler.session.State()),
		Parameters: defs,
		Values:     snap.Values(),
	})
	if err != nil {
		return
	}
	c.conn.SendEvent(msg)
}

func statusFor(s core.SessionState) wire.SessionStatus {
	switch s {
	case core.SessionRunning:
		return wire.StatusActive
	case core.SessionPaused:
		return wire.StatusPaused
	case core.SessionEnded:
		return wire.StatusEnded
	default:
		return wire.StatusPending
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
	case wire.TypeInput:
		c.handleInput(env.Data)
	case wire.TypeLocation:
		c.handleLocation(env.Data)
	default:
		c.sendError("unknown_event", "unsupported event type on audience channel: "+env.Type)
	}
}

func (c *connection) handleLocation(data json.RawMessage) {
	var loc wire.LocationData
	if err := json.Unmarshal(data, &loc); err != nil {
		c.sendError("invalid_payload", err.Error())
		return
	}
	c.mu.Lock()
	c.location = core.Location{X: loc.X, Y: loc.Y, Zone: loc.Zone}
	c.hasLocation = true
	c.mu.Unlock()
}

func (c *connection) handleInput(data json.RawMessage) {
	var in wire.InputData
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendError("invalid_payload", err.Error())
		return
	}

	c.mu.Lock()
	loc, hasLoc := c.location, c.hasLocation
	c.mu.Unlock()

	nowMs := c.handler.session.Clock().NowMs()
	_, reason := c.handler.session.Ingress().Submit(core.AudienceInput{
		ClientID:    c.clientID,
		SessionID:   c.handler.session.ID(),
		Parameter:   in.Parameter,
		Value:       in.Value,
		HasLocation: hasLoc,
		Location:    loc,
	}, nowMs)
	if reason != "" {
		msg, err := wire.Encode(wire.TypeInputRejected, wire.InputRejectedData{Reason: reason})
		if err == nil {
			c.conn.SendEvent(msg)
		}
	}
}

func (c *connection) sendError(code, message string) {
	msg, err := wire.Encode(wire.TypeError, wire.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	c.conn.SendEvent(msg)
}
