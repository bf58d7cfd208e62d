// Package subscription handles SUBSCRIBE and UNSUBSCRIBE requests, one in flight each,
// and the reception of PUBLISH messages from the broker.
package subscription

import (
	"errors"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/packet"
	"github.com/RoanBrand/emqc/internal/publication"
	"github.com/RoanBrand/emqc/internal/queue"
	log "github.com/sirupsen/logrus"
)

var (
	ErrQueueFull     = errors.New("subscription request queue full")
	ErrInvalidFilter = errors.New("invalid topic filter")
	ErrTooLarge      = errors.New("request too large to transmit")
)

// grant is an acknowledged subscription. The broker may grant less than requested.
type grant struct {
	requested, granted model.QoS
}

// Delivery is called with every completely received publication.
type Delivery func(model.Message)

type Manager struct {
	subscribing   *queue.Queue
	unsubscribing *queue.Queue
	receiving     *queue.Lookup // inbound QoS 2 waiting for PUBREL

	active    map[string]grant
	maxPacket int

	ids        *packet.IDAllocator
	ackTimeout time.Duration
	deliver    Delivery
}

// New makes a Manager. Requests that encode to more than maxPacket bytes are refused, zero means no limit.
func New(capacity, receiveMax, maxPacket int, ids *packet.IDAllocator, ackTimeout time.Duration, deliver Delivery) *Manager {
	return &Manager{
		subscribing:   queue.New(capacity),
		unsubscribing: queue.New(capacity),
		receiving:     queue.NewLookup(receiveMax),
		active:        make(map[string]grant),
		maxPacket:     maxPacket,
		ids:           ids,
		ackTimeout:    ackTimeout,
		deliver:       deliver,
	}
}

// Subscribe requests a subscription, unless an identical one is already active.
func (m *Manager) Subscribe(filter string, qos model.QoS) error {
	if !qos.Valid() {
		return publication.ErrInvalidQoS
	}
	if err := packet.ValidFilter(filter); err != nil {
		return ErrInvalidFilter
	}

	if g, ok := m.active[filter]; ok && g.requested == qos {
		return nil
	}
	if m.subscribing.Full() {
		return ErrQueueFull
	}
	if !m.fits(&packet.Subscribe{Topics: []packet.TopicQoS{{Filter: filter, QoS: qos}}}) {
		return ErrTooLarge
	}
	return m.subscribing.Add(m.newSubscribe(filter, qos))
}

func (m *Manager) fits(p interface{ Size() (int, bool) }) bool {
	n, ok := p.Size()
	return ok && (m.maxPacket <= 0 || n <= m.maxPacket)
}

func (m *Manager) newSubscribe(filter string, qos model.QoS) *queue.Item {
	return queue.GetItem(&packet.Subscribe{
		PacketID: m.ids.Next(),
		Topics:   []packet.TopicQoS{{Filter: filter, QoS: qos}},
	})
}

// Unsubscribe queues an UNSUBSCRIBE request.
func (m *Manager) Unsubscribe(filter string) error {
	if err := packet.ValidFilter(filter); err != nil {
		return ErrInvalidFilter
	}
	if m.unsubscribing.Full() {
		return ErrQueueFull
	}
	u := packet.Unsubscribe{Topics: []string{filter}}
	if !m.fits(&u) {
		return ErrTooLarge
	}
	u.PacketID = m.ids.Next()
	return m.unsubscribing.Add(queue.GetItem(&u))
}

// Active returns the granted QoS of an active subscription.
func (m *Manager) Active(filter string) (model.QoS, bool) {
	g, ok := m.active[filter]
	return g.granted, ok
}

// ActiveCount is the number of active subscriptions.
func (m *Manager) ActiveCount() int {
	return len(m.active)
}

// Pending is the number of subscribe and unsubscribe requests not yet acknowledged.
func (m *Manager) Pending() (subscribe, unsubscribe int) {
	return m.subscribing.Len(), m.unsubscribing.Len()
}

// sendControlPacket drives the head of q. Returns false if it escalated to a forced disconnect.
func (m *Manager) sendControlPacket(now time.Time, q *queue.Queue, waitFor model.Type, s publication.Sender) bool {
	i := q.Front()
	if i == nil {
		return true
	}

	if i.Unsent() {
		if s.Send(i.P) {
			i.Await(waitFor, now)
		}
		return true
	}

	if i.Sent.Running() && i.Sent.Elapsed(now) > m.ackTimeout {
		log.WithFields(log.Fields{
			"packetID":   i.PId,
			"waitingFor": waitFor,
		}).Error("too long since a reply was received to a request, forcing disconnect")
		i.Sent.Stop(now)
		s.ForceDisconnect()
		return false
	}
	return true
}

// Progress sends the next request and retransmits PUBREC for inbound messages whose PUBREL is overdue.
func (m *Manager) Progress(now time.Time, s publication.Sender) {
	if !m.sendControlPacket(now, m.subscribing, model.SUBACK, s) {
		return
	}
	if !m.sendControlPacket(now, m.unsubscribing, model.UNSUBACK, s) {
		return
	}

	m.receiving.Timeouts(now, m.ackTimeout, func(i *queue.Item) {
		// On failure another try happens next turn.
		if s.Send(&packet.PubRec{PacketID: i.PId}) {
			i.Sent.Start(now)
		}
	})
}

func (m *Manager) ReceiveSubAck(p *packet.SubAck) {
	i := m.subscribing.Front()
	if i == nil || i.WaitingFor != model.SUBACK || i.PId != p.PacketID {
		log.WithField("packetID", p.PacketID).Debug("ignoring stale SUBACK")
		return
	}

	sub := i.P.(*packet.Subscribe)
	for n, t := range sub.Topics {
		if n >= len(p.ReturnCodes) {
			break
		}
		if rc := p.ReturnCodes[n]; rc == model.SubscribeFailure {
			log.WithField("topic", t.Filter).Warn("subscription refused by broker")
		} else {
			log.WithFields(log.Fields{
				"topic":   t.Filter,
				"QoS":     rc,
				"request": t.QoS,
			}).Debug("subscription completed")
			m.active[t.Filter] = grant{requested: t.QoS, granted: model.QoS(rc)}
		}
	}

	queue.ReturnItem(m.subscribing.PopFront())
}

func (m *Manager) ReceiveUnsubAck(p *packet.UnsubAck) {
	i := m.unsubscribing.Front()
	if i == nil || i.WaitingFor != model.UNSUBACK || i.PId != p.PacketID {
		log.WithField("packetID", p.PacketID).Debug("ignoring stale UNSUBACK")
		return
	}

	for _, t := range i.P.(*packet.Unsubscribe).Topics {
		log.WithField("topic", t).Debug("unsubscription completed")
		delete(m.active, t)
	}

	queue.ReturnItem(m.unsubscribing.PopFront())
}

// ReceivePublish may be called before the SUBACK of the matching subscription arrived.
func (m *Manager) ReceivePublish(now time.Time, p *packet.Publish, s publication.Sender) {
	switch p.QoS {
	case model.AtMostOnce:
		m.forward(p)
	case model.AtLeastOnce:
		s.Send(&packet.PubAck{PacketID: p.PacketID})
		m.forward(p)
	case model.ExactlyOnce:
		if !m.receiving.Present(p.PacketID) {
			i := queue.GetItem(p)
			i.Await(model.PUBREL, now)
			if _, err := m.receiving.Add(i); err != nil {
				// Not acknowledged, so the broker will deliver it again.
				log.WithField("packetID", p.PacketID).Warn("too many inbound QoS 2 messages, not acknowledging")
				queue.ReturnItem(i)
				return
			}
		}
		// Always acknowledge with PUBREC.
		s.Send(&packet.PubRec{PacketID: p.PacketID})
	}
}

func (m *Manager) ReceivePubRel(p *packet.PubRel, s publication.Sender) {
	s.Send(&packet.PubComp{PacketID: p.PacketID})

	if i := m.receiving.Remove(p.PacketID); i != nil {
		// A new PUBLISH with this identifier is a new publication from here on.
		m.forward(i.P.(*packet.Publish))
		queue.ReturnItem(i)
	}
}

func (m *Manager) forward(p *packet.Publish) {
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"topic":    p.Topic,
			"QoS":      p.QoS,
			"packetID": p.PacketID,
		}).Debug("reception complete")
	}
	if m.deliver != nil {
		m.deliver(model.Message{Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Retain: p.Retain})
	}
}

func resetControlPacket(q *queue.Queue) {
	if i := q.Front(); i != nil {
		i.ClearWait()
	}
}

// HandleDisconnect resets in-flight requests and moves every active subscription
// back to the pending queue, so all are asserted again on reconnect with the QoS originally asked for.
func (m *Manager) HandleDisconnect() {
	resetControlPacket(m.subscribing)

	for filter, g := range m.active {
		delete(m.active, filter)
		// Bypass capacity, subscriptions are never lost.
		m.subscribing.AddForce(m.newSubscribe(filter, g.requested))
	}

	resetControlPacket(m.unsubscribing)
}

// HandleConnect is called once a session is established.
// The broker keeps no QoS 2 reception state for a new session, so neither may we.
func (m *Manager) HandleConnect(newSession bool) {
	if newSession && m.receiving.Len() > 0 {
		log.WithField("count", m.receiving.Len()).Info("discarding inbound QoS 2 messages from previous session")
		m.receiving.Reset()
	}
}
