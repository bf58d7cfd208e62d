// Package publication delivers outbound PUBLISH messages, one in flight at a time.
package publication

import (
	"errors"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/packet"
	"github.com/RoanBrand/emqc/internal/queue"
	log "github.com/sirupsen/logrus"
)

var (
	ErrQueueFull    = errors.New("outgoing publication queue full")
	ErrInvalidQoS   = errors.New("invalid QoS")
	ErrInvalidTopic = errors.New("invalid topic name")
	ErrTooLarge     = errors.New("publication too large to transmit")
)

// Sender is the session's send path.
type Sender interface {
	// Send enqueues p for transmission. False means no room, try again next tick.
	Send(p packet.Packet) bool
	// ForceDisconnect drops the connection so it can be recovered by reconnecting.
	ForceDisconnect()
}

type Manager struct {
	q          *queue.Queue
	maxPacket  int
	ids        *packet.IDAllocator
	ackTimeout time.Duration
}

// New makes a Manager queueing up to capacity messages.
// Messages that encode to more than maxPacket bytes are refused, as the transport could never take them. Zero means no limit.
func New(capacity, maxPacket int, ids *packet.IDAllocator, ackTimeout time.Duration) *Manager {
	return &Manager{q: queue.New(capacity), maxPacket: maxPacket, ids: ids, ackTimeout: ackTimeout}
}

// Publish queues a message for delivery. Delivery is not guaranteed on return.
func (m *Manager) Publish(topic string, payload []byte, qos model.QoS, retain bool) error {
	if !qos.Valid() {
		return ErrInvalidQoS
	}
	if err := packet.ValidTopic(topic); err != nil {
		return ErrInvalidTopic
	}
	if m.q.Full() {
		return ErrQueueFull
	}

	p := packet.Publish{Topic: topic, QoS: qos, Retain: retain, Payload: payload}
	if n, ok := p.Size(); !ok || (m.maxPacket > 0 && n > m.maxPacket) {
		return ErrTooLarge
	}
	p.Payload = make([]byte, len(payload))
	copy(p.Payload, payload)
	if qos > model.AtMostOnce {
		p.PacketID = m.ids.Next()
	}

	return m.q.Add(queue.GetItem(&p))
}

// Len is the number of queued messages, including the one in flight.
func (m *Manager) Len() int {
	return m.q.Len()
}

// InFlight returns the head message, or nil.
func (m *Manager) InFlight() (*packet.Publish, model.Type) {
	i := m.q.Front()
	if i == nil {
		return nil, model.Reserved
	}
	return i.P.(*packet.Publish), i.WaitingFor
}

func (m *Manager) pop() {
	i := m.q.PopFront()
	if log.IsLevelEnabled(log.DebugLevel) {
		p := i.P.(*packet.Publish)
		log.WithFields(log.Fields{
			"topic":    p.Topic,
			"QoS":      p.QoS,
			"packetID": p.PacketID,
		}).Debug("publish completed")
	}
	queue.ReturnItem(i)
}

// Progress drives the head of the queue. Called every tick while connected.
func (m *Manager) Progress(now time.Time, s Sender) {
	i := m.q.Front()
	if i == nil {
		return
	}
	p := i.P.(*packet.Publish)

	if p.QoS == model.AtMostOnce {
		// Fire and forget
		if s.Send(p) {
			m.pop()
		}
		return
	}

	if i.Unsent() {
		// only ever a single active in-flight message
		if s.Send(p) {
			if p.QoS == model.AtLeastOnce {
				i.Await(model.PUBACK, now)
			} else {
				i.Await(model.PUBREC, now)
			}
		}
		return
	}

	// Still waiting for a reply...
	if i.Sent.Running() && i.Sent.Elapsed(now) > m.ackTimeout {
		log.WithFields(log.Fields{
			"packetID":   p.PacketID,
			"waitingFor": i.WaitingFor,
		}).Error("too long since a reply was received to a published message, forcing reconnect")
		i.Sent.Stop(now)
		s.ForceDisconnect()
	}
}

func (m *Manager) head(waitingFor model.Type, id uint16) *queue.Item {
	i := m.q.Front()
	if i == nil || i.WaitingFor != waitingFor || i.PId != id {
		if log.IsLevelEnabled(log.DebugLevel) {
			log.WithFields(log.Fields{
				"packetID": id,
				"expected": waitingFor,
			}).Debug("ignoring stale acknowledgement")
		}
		return nil
	}
	return i
}

func (m *Manager) ReceivePubAck(p *packet.PubAck) {
	if m.head(model.PUBACK, p.PacketID) != nil {
		m.pop()
	}
}

// ReceivePubRec answers with PUBREL and then waits for PUBCOMP.
// If PUBREL can not be sent, the PUBREC wait times out and the message is redelivered after reconnect.
func (m *Manager) ReceivePubRec(now time.Time, p *packet.PubRec, s Sender) {
	i := m.head(model.PUBREC, p.PacketID)
	if i == nil {
		return
	}

	i.Sent.Start(now)
	if s.Send(&packet.PubRel{PacketID: p.PacketID}) {
		i.WaitingFor = model.PUBCOMP
	}
}

func (m *Manager) ReceivePubComp(p *packet.PubComp) {
	if m.head(model.PUBCOMP, p.PacketID) != nil {
		m.pop()
	}
}

// HandleDisconnect zeroes the timer of the message being timed,
// so it does not time out before it is resent.
func (m *Manager) HandleDisconnect(now time.Time) {
	if i := m.q.Front(); i != nil && i.Sent.Running() {
		i.Sent.Zero(now)
	}
}

// ResendOutstanding applies the redelivery rule [MQTT-4.4.0-1] right after a reconnect.
func (m *Manager) ResendOutstanding(now time.Time, cleanSession bool, s Sender) {
	i := m.q.Front()
	if i == nil {
		return
	}
	p := i.P.(*packet.Publish)

	if cleanSession {
		switch i.WaitingFor {
		case model.PUBACK, model.PUBREC, model.PUBCOMP:
			// broker has nothing to correlate it with
			log.WithFields(log.Fields{
				"packetID":   p.PacketID,
				"waitingFor": i.WaitingFor,
			}).Info("dropping unacknowledged publication on clean session")
			m.q.PopFront()
			queue.ReturnItem(i)
		}
		return
	}

	switch i.WaitingFor {
	case model.PUBACK:
		p.Dup = true
		i.ClearWait()
	case model.PUBREC:
		i.ClearWait()
	case model.PUBCOMP:
		// TX buffer was cleared on disconnect, so this fits.
		// Should it not, the PUBCOMP wait times out and forces another reconnect.
		s.Send(&packet.PubRel{PacketID: p.PacketID})
		i.Sent.Start(now)
	default:
		if p.QoS > model.AtMostOnce {
			p.Dup = true
		}
	}
}

// Reset drops everything queued.
func (m *Manager) Reset() {
	m.q.Reset()
}
