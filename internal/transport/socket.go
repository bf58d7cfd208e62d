// Package transport carries the MQTT byte stream to a broker over TCP, TLS or websockets.
package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/RoanBrand/emqc/internal/packet"
	log "github.com/sirupsen/logrus"
)

type EventKind uint8

const (
	Connected EventKind = iota
	Disconnected
	TransmitEmpty
	Received
	FramingError
)

var eventNames = [...]string{"Connected", "Disconnected", "TransmitEmpty", "Received", "FramingError"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "Unknown"
}

// Event is reported by a Socket. Raw is only set for Received.
type Event struct {
	Kind EventKind
	Raw  packet.Raw
	gen  uint64
}

// Connector opens a connection to address.
type Connector interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// Socket is a reconnectable stream with a bounded transmit buffer.
// Each Open starts a new generation, events from an older one are stale.
type Socket struct {
	c         Connector
	maxPacket int
	txSize    int
	events    chan Event

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	conn   net.Conn
	tx     []byte
	wake   chan struct{}

	// writing is set while bytes taken from tx are being written
	writing bool
}

func NewSocket(c Connector, maxPacket, txSize int) *Socket {
	return &Socket{
		c:         c,
		maxPacket: maxPacket,
		txSize:    txSize,
		events:    make(chan Event, 64),
		wake:      make(chan struct{}, 1),
	}
}

func (s *Socket) Events() <-chan Event {
	return s.events
}

// Current reports if ev belongs to the connection opened last.
func (s *Socket) Current(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ev.gen == s.gen
}

// Open connects in the background. Bytes sent meanwhile are written once connected.
func (s *Socket) Open(address string) {
	s.mu.Lock()
	s.stop()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wake = make(chan struct{}, 1)
	if len(s.tx) > 0 {
		s.wake <- struct{}{}
	}
	wake := s.wake
	s.mu.Unlock()

	go s.run(ctx, gen, address, wake)
}

func (s *Socket) Send(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tx)+len(b) > s.txSize {
		return false
	}
	s.tx = append(s.tx, b...)

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Clear drops everything not yet handed to the connection.
func (s *Socket) Clear() {
	s.mu.Lock()
	s.tx = s.tx[:0]
	s.mu.Unlock()
}

func (s *Socket) Close() {
	s.mu.Lock()
	s.stop()
	s.gen++
	s.tx = s.tx[:0]
	s.mu.Unlock()
}

// Empty reports if every byte sent has been written to the connection.
func (s *Socket) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tx) == 0 && !s.writing
}

// stop must be called with mu held.
func (s *Socket) stop() {
	s.writing = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Socket) emit(ctx context.Context, gen uint64, ev Event) {
	ev.gen = gen
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Socket) run(ctx context.Context, gen uint64, address string, wake <-chan struct{}) {
	conn, err := s.c.Dial(ctx, address)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).WithField("address", address).Error("could not connect to broker")
			s.emit(ctx, gen, Event{Kind: Disconnected})
		}
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.emit(ctx, gen, Event{Kind: Connected})
	go s.write(connCtx, gen, conn, wake)
	s.read(ctx, gen, conn)
}

func (s *Socket) read(ctx context.Context, gen uint64, conn net.Conn) {
	a := packet.NewAssembler(s.maxPacket)
	r := bufio.NewReader(conn)

	for {
		n, err := r.Read(a.WritePos())
		a.DataReceived(n)

		if a.IsError() {
			s.emit(ctx, gen, Event{Kind: FramingError})
			// Nothing more can be understood from this stream.
			<-ctx.Done()
			return
		}

		if a.IsComplete() {
			s.emit(ctx, gen, Event{Kind: Received, Raw: a.Packet().Clone()})
			a.Reset()
		}

		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Info("connection to broker lost")
				s.emit(ctx, gen, Event{Kind: Disconnected})
			}
			return
		}
	}
}

func (s *Socket) write(ctx context.Context, gen uint64, conn net.Conn, wake <-chan struct{}) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		out, s.tx = s.tx, out[:0]
		s.writing = len(out) > 0
		s.mu.Unlock()

		if len(out) == 0 {
			continue
		}
		if _, err := conn.Write(out); err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("failed writing to broker")
			}
			// Fails the reader, which reports the disconnect.
			conn.Close()
			return
		}

		s.mu.Lock()
		empty := gen == s.gen && len(s.tx) == 0
		if gen == s.gen {
			s.writing = false
		}
		s.mu.Unlock()
		if empty {
			s.emit(ctx, gen, Event{Kind: TransmitEmpty})
		}
	}
}
