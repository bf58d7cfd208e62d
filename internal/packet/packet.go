package packet

import (
	"github.com/RoanBrand/emqc/internal/model"
)

// Packet is one of the MQTT 3.1.1 control packets.
type Packet interface {
	Type() model.Type
	// Encode appends the complete wire form of the packet to dst.
	Encode(dst []byte) []byte
}

type Connect struct {
	ClientID     string
	KeepAlive    uint16 // seconds
	CleanSession bool
	Username     string
	Password     []byte
	Will         *model.Message
}

type ConnAck struct {
	SessionPresent bool
	ReturnCode     uint8
}

type Publish struct {
	Topic    string
	Payload  []byte
	QoS      model.QoS
	Retain   bool
	Dup      bool
	PacketID uint16
}

type PubAck struct{ PacketID uint16 }
type PubRec struct{ PacketID uint16 }
type PubRel struct{ PacketID uint16 }
type PubComp struct{ PacketID uint16 }

type TopicQoS struct {
	Filter string
	QoS    model.QoS
}

type Subscribe struct {
	PacketID uint16
	Topics   []TopicQoS
}

type SubAck struct {
	PacketID    uint16
	ReturnCodes []uint8
}

type Unsubscribe struct {
	PacketID uint16
	Topics   []string
}

type UnsubAck struct{ PacketID uint16 }

type PingReq struct{}
type PingResp struct{}
type Disconnect struct{}

func (*Connect) Type() model.Type { return model.CONNECT }
func (*ConnAck) Type() model.Type { return model.CONNACK }
func (*Publish) Type() model.Type { return model.PUBLISH }
func (*PubAck) Type() model.Type { return model.PUBACK }
func (*PubRec) Type() model.Type { return model.PUBREC }
func (*PubRel) Type() model.Type { return model.PUBREL }
func (*PubComp) Type() model.Type { return model.PUBCOMP }
func (*Subscribe) Type() model.Type { return model.SUBSCRIBE }
func (*SubAck) Type() model.Type { return model.SUBACK }
func (*Unsubscribe) Type() model.Type { return model.UNSUBSCRIBE }
func (*UnsubAck) Type() model.Type { return model.UNSUBACK }
func (*PingReq) Type() model.Type { return model.PINGREQ }
func (*PingResp) Type() model.Type { return model.PINGRESP }
func (*Disconnect) Type() model.Type { return model.DISCONNECT }

// Accepted reports if the broker accepted the connection.
func (c *ConnAck) Accepted() bool {
	return c.ReturnCode == model.Accepted
}

// ID returns the packet identifier of p and whether it carries one.
func ID(p Packet) (uint16, bool) {
	switch v := p.(type) {
	case *Publish:
		return v.PacketID, v.QoS > model.AtMostOnce
	case *PubAck:
		return v.PacketID, true
	case *PubRec:
		return v.PacketID, true
	case *PubRel:
		return v.PacketID, true
	case *PubComp:
		return v.PacketID, true
	case *Subscribe:
		return v.PacketID, true
	case *SubAck:
		return v.PacketID, true
	case *Unsubscribe:
		return v.PacketID, true
	case *UnsubAck:
		return v.PacketID, true
	}
	return 0, false
}

// ConnAckReason describes a CONNACK return code.
func ConnAckReason(code uint8) string {
	switch code {
	case model.Accepted:
		return "connection accepted"
	case model.UnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case model.IdentifierRejected:
		return "identifier rejected"
	case model.ServerUnavailable:
		return "server unavailable"
	case model.BadUsernameOrPassword:
		return "bad user name or password"
	case model.NotAuthorized:
		return "not authorized"
	}
	return "unknown return code"
}
