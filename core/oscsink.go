package core

import (
	"bytes"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// oscsink.go encodes consensus updates as OSC 1.0 messages and fires them at
// an external synthesis engine over UDP. No OSC library
// appears anywhere in the example pack this engine was grounded on, so this
// is the one deliberately hand-rolled wire codec in the module; everything
// else reuses a pack dependency. The encoding follows the OSC 1.0 spec
// directly: an OSC-string address, a ",f" type tag, and one big-endian
// float32 argument, each padded to a 4-byte boundary with NUL bytes.

// OSCSink publishes parameter values to an OSC-speaking synthesis engine.
type OSCSink struct {
	conn *net.UDPConn
	log  *logrus.Entry

	mu       sync.RWMutex
	byParam  map[string]string // parameter -> OSC address override
	fallback string            // default address pattern, must contain "%s"
}

// NewOSCSink dials addr (host:port) over UDP. No handshake occurs; OSC is
// fire-and-forget.
func NewOSCSink(addr string, log *logrus.Entry) (*OSCSink, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &OSCSink{conn: conn, log: log, byParam: make(map[string]string), fallback: "/performance/%s"}, nil
}

// Close releases the underlying UDP socket.
func (s *OSCSink) Close() error {
	return s.conn.Close()
}

// SetAddress overrides the OSC address pattern used for parameter, taking
// precedence over the fallback pattern.
func (s *OSCSink) SetAddress(parameter, address string) {
	s.mu.Lock()
	s.byParam[parameter] = address
	s.mu.Unlock()
}

func (s *OSCSink) addressFor(parameter string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if addr, ok := s.byParam[parameter]; ok && addr != "" {
		return addr
	}
	return fmt.Sprintf(s.fallback, parameter)
}

// SendParameter encodes and sends one parameter's current value as a single
// OSC message with a float32 argument.
func (s *OSCSink) SendParameter(parameter string, value float64) error {
	msg, err := encodeOSCFloat(s.addressFor(parameter), float32(value))
	if err != nil {
		return err
	}
	_, err = s.conn.Write(msg)
	if err != nil && s.log != nil {
		s.log.WithError(err).WithField("parameter", parameter).Warn("osc send failed")
	}
	return err
}

// SendSnapshot sends every value in the snapshot as its own OSC message.
func (s *OSCSink) SendSnapshot(snap Snapshot) {
	for param, result := range snap.Results {
		_ = s.SendParameter(param, result.Value)
	}
}

func padOSCString(s string) []byte {
	b := []byte(s)
	b = append(b, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func encodeOSCFloat(address string, v float32) ([]byte, error) {
	if address == "" || !strings.HasPrefix(address, "/") {
		return nil, fmt.Errorf("osc: address %q must start with '/'", address)
	}
	var buf bytes.Buffer
	buf.Write(padOSCString(address))
	buf.Write(padOSCString(",f"))
	var fbuf [4]byte
	bits := math.Float32bits(v)
	fbuf[0] = byte(bits >> 24)
	fbuf[1] = byte(bits >> 16)
	fbuf[2] = byte(bits >> 8)
	fbuf[3] = byte(bits)
	buf.Write(fbuf[:])
	return buf.Bytes(), nil
}
