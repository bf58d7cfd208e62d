package session

import (
	"github.com/RoanBrand/emqc/internal/packet"
)

type State uint8

const (
	Startup State = iota
	Idle
	Connecting
	Run
	Disconnecting
	numStates
)

var stateNames = [numStates]string{"Startup", "Idle", "Connecting", "Run", "Disconnecting"}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return "Unknown"
}

// handler is the behaviour of one state. All of them live in the Engine for its lifetime.
type handler interface {
	packet.Receiver
	enter()
	tick()
	connectionStatus(up bool)
	transmitEmpty()
}

// base ignores everything.
type base struct {
	packet.NopReceiver
	e *Engine
}

func (base) enter()                {}
func (base) tick()                 {}
func (base) connectionStatus(bool) {}
func (base) transmitEmpty()        {}

type startupState struct{ base }
type idleState struct{ base }
type connectingState struct{ base }
type runState struct{ base }
type disconnectingState struct{ base }

func (e *Engine) initStates() {
	b := base{e: e}
	e.states = [numStates]handler{
		Startup:       &startupState{b},
		Idle:          &idleState{b},
		Connecting:    &connectingState{b},
		Run:           &runState{b},
		Disconnecting: &disconnectingState{b},
	}
}

// Startup only exists so that entering Idle at bring-up does not auto reconnect.
func (s *startupState) enter() {
	s.e.suppressReconnect = true
	s.e.setState(Idle)
}

func (s *idleState) enter() {
	e := s.e
	e.pub.HandleDisconnect(e.now)
	e.sub.HandleDisconnect()
	e.keepAliveTimer.Stop()

	if e.suppressReconnect {
		e.suppressReconnect = false
		return
	}

	if e.connectAfter {
		e.connectAfter = false
		e.connect()
		return
	}

	if e.autoReconnect {
		e.log().WithField("in", e.cfg.ReconnectInterval).Info("reconnect scheduled")
		e.reconnectTimer.Start(e.now, e.cfg.ReconnectInterval)
	}
}

func (s *idleState) tick() {
	if s.e.reconnectTimer.Fire(s.e.now) {
		s.e.connect()
	}
}

func (s *idleState) connectionStatus(up bool) {
	e := s.e
	if !up && e.autoReconnect && !e.reconnectTimer.Armed() {
		e.reconnectTimer.Start(e.now, e.cfg.ReconnectInterval)
	}
}

func (s *connectingState) enter() {
	e := s.e
	e.sessionPresent = false

	c := packet.Connect{
		ClientID:     e.cfg.ClientID,
		KeepAlive:    uint16(e.cfg.KeepAlive.Seconds()),
		CleanSession: e.cfg.CleanSession,
		Username:     e.cfg.Username,
		Password:     e.cfg.Password,
		Will:         e.cfg.Will,
	}
	if !e.Send(&c) {
		e.log().Error("could not queue CONNECT")
	}
	e.receiveTimer.Start(e.now, e.cfg.AckTimeout)
}

func (s *connectingState) tick() {
	if s.e.receiveTimer.Fire(s.e.now) {
		s.e.log().Error("no CONNACK received from broker")
		s.e.ForceDisconnect()
	}
}

func (s *connectingState) connectionStatus(up bool) {
	if !up {
		s.e.setState(Disconnecting)
	}
}

func (s *connectingState) ReceiveConnAck(p *packet.ConnAck) {
	e := s.e
	e.receiveTimer.Stop()

	if !p.Accepted() {
		e.log().WithField("code", p.ReturnCode).Error("connection refused: " + packet.ConnAckReason(p.ReturnCode))
		e.ForceDisconnect()
		return
	}

	e.sessionPresent = p.SessionPresent
	e.log().WithField("sessionPresent", p.SessionPresent).Info("connected to broker")
	e.setState(Run)
}

func (s *runState) enter() {
	e := s.e

	// A session the broker does not know is clean regardless of what was asked for.
	clean := e.cfg.CleanSession || !e.sessionPresent
	e.sub.HandleConnect(!e.sessionPresent)
	e.pub.ResendOutstanding(e.now, clean, e)

	if e.cfg.KeepAlive > 0 {
		e.keepAliveTimer.Start(e.now, e.cfg.KeepAlive/2)
		e.receiveTimer.Start(e.now, e.cfg.KeepAlive*3/2)
	} else {
		e.keepAliveTimer.Stop()
		e.receiveTimer.Stop()
	}
}

func (s *runState) progress() {
	s.e.pub.Progress(s.e.now, s.e)
	s.e.sub.Progress(s.e.now, s.e)
}

func (s *runState) tick() {
	e := s.e
	s.progress()

	if e.keepAliveTimer.Fire(e.now) {
		e.Send(&packet.PingReq{})
		e.keepAliveTimer.Restart(e.now)
	}

	if e.receiveTimer.Fire(e.now) {
		e.log().Error("nothing received from broker within keep alive, forcing disconnect")
		e.ForceDisconnect()
	}
}

func (s *runState) transmitEmpty() {
	s.progress()
}

func (s *runState) connectionStatus(up bool) {
	if !up {
		s.e.setState(Disconnecting)
	}
}

func (s *runState) ReceivePubAck(p *packet.PubAck) {
	s.e.pub.ReceivePubAck(p)
}

func (s *runState) ReceivePubRec(p *packet.PubRec) {
	s.e.pub.ReceivePubRec(s.e.now, p, s.e)
}

func (s *runState) ReceivePubComp(p *packet.PubComp) {
	s.e.pub.ReceivePubComp(p)
}

func (s *runState) ReceivePublish(p *packet.Publish) {
	s.e.sub.ReceivePublish(s.e.now, p, s.e)
}

func (s *runState) ReceivePubRel(p *packet.PubRel) {
	s.e.sub.ReceivePubRel(p, s.e)
}

func (s *runState) ReceiveSubAck(p *packet.SubAck) {
	s.e.sub.ReceiveSubAck(p)
}

func (s *runState) ReceiveUnsubAck(p *packet.UnsubAck) {
	s.e.sub.ReceiveUnsubAck(p)
}

func (s *runState) ReceivePingResp(*packet.PingResp) {
	if s.e.keepAliveTimer.Armed() {
		s.e.keepAliveTimer.Restart(s.e.now)
	}
}

// Disconnecting says goodbye if the transport is still up, then tears the connection down.
func (s *disconnectingState) enter() {
	e := s.e
	e.keepAliveTimer.Stop()
	e.receiveTimer.Stop()

	if !e.connected {
		s.teardown()
		return
	}

	if !e.Send(&packet.Disconnect{}) {
		s.teardown()
		return
	}
	e.disconnectTimer.Start(e.now, e.cfg.DisconnectTimeout)
}

func (s *disconnectingState) teardown() {
	e := s.e
	e.disconnectTimer.Stop()
	e.keepAliveTimer.Stop()
	e.receiveTimer.Stop()
	e.t.Clear()
	e.t.Close()
	e.connected = false
	e.log().Info("disconnected from broker")
	e.setState(Idle)
}

func (s *disconnectingState) tick() {
	if s.e.disconnectTimer.Fire(s.e.now) {
		s.teardown()
	}
}

// transmitEmpty may be left over from a write that finished before DISCONNECT was queued.
func (s *disconnectingState) transmitEmpty() {
	if s.e.t.Empty() {
		s.teardown()
	}
}

func (s *disconnectingState) connectionStatus(up bool) {
	if !up {
		s.teardown()
	}
}
