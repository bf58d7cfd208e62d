// Package session drives one MQTT connection through its lifecycle.
//
// An Engine is not safe for concurrent use. All events must be delivered from a single task,
// each with the current time.
package session

import (
	"time"

	"github.com/RoanBrand/emqc/internal/clock"
	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/packet"
	"github.com/RoanBrand/emqc/internal/publication"
	"github.com/RoanBrand/emqc/internal/subscription"
	log "github.com/sirupsen/logrus"
)

// Transport is the duplex byte channel to the broker.
// It reports back through Engine.ConnectionStatus, Engine.TransmitEmpty and Engine.Receive.
type Transport interface {
	// Open starts connecting to address in the background.
	Open(address string)
	// Send copies b to the transmit buffer. False means there is no room.
	Send(b []byte) bool
	// Clear drops all buffered transmit and receive data.
	Clear()
	// Empty reports if everything sent so far has been written out.
	Empty() bool
	Close()
}

type Config struct {
	ClientID     string
	KeepAlive    time.Duration // 0 disables
	CleanSession bool
	Username     string
	Password     []byte
	Will         *model.Message

	AckTimeout        time.Duration
	ReconnectInterval time.Duration
	DisconnectTimeout time.Duration

	MaxOutgoing      int
	MaxSubscriptions int
	MaxIncoming      int
	MaxPacketSize    int // largest packet Transport.Send can take, 0 for no limit
}

type Engine struct {
	cfg Config
	t   Transport

	ids packet.IDAllocator
	pub *publication.Manager
	sub *subscription.Manager

	states [numStates]handler
	state  State

	address       string
	autoReconnect bool

	connected         bool // transport up
	sessionPresent    bool
	suppressReconnect bool
	connectAfter      bool
	disconnectPending bool

	receiveTimer    clock.Timer // CONNACK wait, then broker silence
	reconnectTimer  clock.Timer
	keepAliveTimer  clock.Timer
	disconnectTimer clock.Timer

	now time.Time
	tx  []byte
}

// New creates an Engine in the Idle state. deliver is called with every received publication.
func New(cfg Config, t Transport, deliver subscription.Delivery) *Engine {
	e := Engine{cfg: cfg, t: t}
	e.pub = publication.New(cfg.MaxOutgoing, cfg.MaxPacketSize, &e.ids, cfg.AckTimeout)
	e.sub = subscription.New(cfg.MaxSubscriptions, cfg.MaxIncoming, cfg.MaxPacketSize, &e.ids, cfg.AckTimeout, deliver)
	e.initStates()
	e.setState(Startup)
	return &e
}

func (e *Engine) log() *log.Entry {
	return log.WithField("ClientId", e.cfg.ClientID)
}

func (e *Engine) State() State {
	return e.state
}

// IsConnected reports if a session with the broker is established.
func (e *Engine) IsConnected() bool {
	return e.state == Run
}

func (e *Engine) setState(s State) {
	if log.IsLevelEnabled(log.DebugLevel) {
		e.log().WithFields(log.Fields{"from": e.state, "to": s}).Debug("state change")
	}
	e.state = s
	e.states[s].enter()
}

// settle applies a forced disconnect requested while handling an event.
func (e *Engine) settle() {
	if e.disconnectPending {
		e.disconnectPending = false
		if e.state == Connecting || e.state == Run {
			e.setState(Disconnecting)
		}
	}
}

// Send encodes p to the transport. It implements publication.Sender.
func (e *Engine) Send(p packet.Packet) bool {
	e.tx = p.Encode(e.tx[:0])
	ok := e.t.Send(e.tx)

	if log.IsLevelEnabled(log.DebugLevel) {
		f := log.Fields{"type": p.Type(), "len": len(e.tx), "queued": ok}
		if id, has := packet.ID(p); has {
			f["packetID"] = id
		}
		e.log().WithFields(f).Debug("Outgoing")
	}
	return ok
}

// ForceDisconnect implements publication.Sender. Takes effect after the current event.
func (e *Engine) ForceDisconnect() {
	e.disconnectPending = true
}

// ConnectTo sets the broker address and starts connecting.
// If already connected, the session is ended first.
func (e *Engine) ConnectTo(now time.Time, address string, autoReconnect bool) {
	e.now = now
	e.address, e.autoReconnect = address, autoReconnect

	switch e.state {
	case Idle:
		e.connect()
	case Connecting, Run:
		e.connectAfter = true
		e.setState(Disconnecting)
	case Disconnecting:
		e.connectAfter = true
	}
	e.settle()
}

// Disconnect ends the session and stops reconnecting.
func (e *Engine) Disconnect(now time.Time) {
	e.now = now
	e.autoReconnect, e.connectAfter = false, false

	switch e.state {
	case Idle:
		e.reconnectTimer.Stop()
	case Connecting, Run:
		e.setState(Disconnecting)
	}
	e.settle()
}

func (e *Engine) connect() {
	if e.address == "" {
		return
	}
	e.reconnectTimer.Stop()
	e.t.Clear()
	e.log().WithField("address", e.address).Info("connecting to broker")
	e.t.Open(e.address)
	e.setState(Connecting)
}

// Tick services timers and the delivery managers.
func (e *Engine) Tick(now time.Time) {
	e.now = now
	e.states[e.state].tick()
	e.settle()
}

// ConnectionStatus is reported by the transport when it connects or drops.
func (e *Engine) ConnectionStatus(now time.Time, up bool) {
	e.now = now
	e.connected = up
	if up {
		e.log().Info("transport connected")
	} else {
		e.log().Info("transport disconnected")
	}
	e.states[e.state].connectionStatus(up)
	e.settle()
}

// TransmitEmpty is reported by the transport when everything queued has been written.
func (e *Engine) TransmitEmpty(now time.Time) {
	e.now = now
	e.states[e.state].transmitEmpty()
	e.settle()
}

// Receive decodes one complete packet and dispatches it to the current state.
func (e *Engine) Receive(now time.Time, raw packet.Raw) {
	e.now = now

	p, err := packet.Decode(raw)
	if err != nil {
		e.log().WithError(err).Warn("dropping malformed packet")
		return
	}
	if p == nil {
		if raw.TooBig() {
			e.log().Warn("dropping oversized packet")
		}
		return
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		f := log.Fields{"type": p.Type(), "len": raw.Len()}
		if id, has := packet.ID(p); has {
			f["packetID"] = id
		}
		e.log().WithFields(f).Debug("Incoming")
	}

	if e.state == Run && e.receiveTimer.Armed() {
		e.receiveTimer.Restart(now)
	}

	if !packet.Visit(p, e.states[e.state]) {
		e.log().WithField("type", p.Type()).Warn("unexpected packet from broker")
	}
	e.settle()
}

// FramingError is reported by the transport when the byte stream can not be split into packets.
// The connection has to be reset.
func (e *Engine) FramingError(now time.Time) {
	e.now = now
	e.log().Error("framing error on incoming stream, resetting connection")
	e.ForceDisconnect()
	e.settle()
}

// Publish queues a message. False means it could not be accepted.
func (e *Engine) Publish(topic string, payload []byte, qos model.QoS, retain bool) bool {
	if err := e.pub.Publish(topic, payload, qos, retain); err != nil {
		e.log().WithError(err).WithField("topic", topic).Warn("publish not accepted")
		return false
	}
	return true
}

func (e *Engine) Subscribe(filter string, qos model.QoS) bool {
	if err := e.sub.Subscribe(filter, qos); err != nil {
		e.log().WithError(err).WithField("topic", filter).Warn("subscribe not accepted")
		return false
	}
	return true
}

func (e *Engine) Unsubscribe(filter string) bool {
	if err := e.sub.Unsubscribe(filter); err != nil {
		e.log().WithError(err).WithField("topic", filter).Warn("unsubscribe not accepted")
		return false
	}
	return true
}
