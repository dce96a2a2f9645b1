// Package hub implements the per-connection bounded broadcaster shared by
// the audience and performer transports. Values messages go to a single
// slot that each send overwrites; lifecycle and error events go to a bounded
// queue that drops its oldest event when full.
package hub

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultQueueSize is the default bound on a connection's preserved-event
	// queue.
	DefaultQueueSize = 1024
)

// Conn wraps one websocket connection with two outbound lanes: a
// single-slot "latest values" lane (overwritten on every send, so a slow
// client only ever sees the newest tick) and a bounded "events" lane for
// everything that must not be silently superseded (lifecycle, errors,
// rejections, override acks). A writePump goroutine drains both.
type Conn struct {
	ID string

	ws  *websocket.Conn
	log *logrus.Entry

	valuesCh chan []byte
	eventsCh chan []byte

	closeOnce sync.Once
	done      chan struct{}

	onSlowSubscriber func()
}

// NewConn wraps ws for id, starting its write pump. onSlowSubscriber, if
// non-nil, is invoked whenever the events lane must drop a message to make
// room.
func NewConn(id string, ws *websocket.Conn, queueSize int, log *logrus.Entry, onSlowSubscriber func()) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &Conn{
		ID:               id,
		ws:               ws,
		log:              log,
		valuesCh:         make(chan []byte, 1),
		eventsCh:         make(chan []byte, queueSize),
		done:             make(chan struct{}),
		onSlowSubscriber: onSlowSubscriber,
	}
	go c.writePump()
	return c
}

// SendValues enqueues the latest-values payload, overwriting anything not
// yet flushed.
func (c *Conn) SendValues(payload []byte) {
	select {
	case c.valuesCh <- payload:
		return
	default:
	}
	select {
	case <-c.valuesCh:
	default:
	}
	select {
	case c.valuesCh <- payload:
	default:
	}
}

// SendEvent enqueues a preserved event (lifecycle, error, rejection,
// override ack). If the queue is full the oldest buffered event is dropped
// to make room, same as the parameter bus's own backpressure policy, and
// onSlowSubscriber fires.
func (c *Conn) SendEvent(payload []byte) {
	select {
	case c.eventsCh <- payload:
		return
	default:
	}
	select {
	case <-c.eventsCh:
	default:
	}
	select {
	case c.eventsCh <- payload:
	default:
	}
	if c.onSlowSubscriber != nil {
		c.onSlowSubscriber()
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case payload := <-c.eventsCh:
			c.write(payload)
		case payload := <-c.valuesCh:
			c.write(payload)
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(payload []byte) {
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		if c.log != nil {
			c.log.WithError(err).WithField("conn", c.ID).Debug("broadcast write failed")
		}
	}
}

// Close stops the write pump and closes the underlying connection. Safe to
// call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Hub tracks every live connection for one channel (audience or performer)
// and offers a broadcast-to-all helper.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// New constructs an empty Hub.
func New() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Add registers a connection.
func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

// Remove unregisters and closes a connection by ID.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Get returns the connection for id, if still registered.
func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// BroadcastValues sends payload to every connection's values lane.
func (h *Hub) BroadcastValues(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.SendValues(payload)
	}
}

// BroadcastEvent sends payload to every connection's events lane.
func (h *Hub) BroadcastEvent(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.SendEvent(payload)
	}
}
