package packet

import (
	"github.com/RoanBrand/emqc/internal/model"
)

const protocolLevel = 4

var protocolName = [...]byte{0, 4, 'M', 'Q', 'T', 'T'}

func appendHeader(dst []byte, t model.Type, flags uint8, rl int) []byte {
	dst = append(dst, t.Header(flags))
	return model.VariableLengthEncode(dst, rl)
}

// size is the full encoded length of a packet with remaining length rl.
// False if rl does not fit the remaining length field.
func size(rl int) (int, bool) {
	return 1 + model.LengthToNumberOfVariableLengthBytes(rl) + rl, rl <= model.MaxRemainingLength
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendString(dst []byte, s string) []byte {
	dst = appendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = appendUint16(dst, uint16(len(b)))
	return append(dst, b...)
}

func appendIDPacket(dst []byte, t model.Type, flags uint8, id uint16) []byte {
	dst = append(dst, t.Header(flags), 2)
	return appendUint16(dst, id)
}

func (c *Connect) Encode(dst []byte) []byte {
	var flags byte
	rl := len(protocolName) + 4 + 2 + len(c.ClientID)

	if c.CleanSession {
		flags |= 0x02
	}
	if c.Will != nil {
		flags |= 0x04 | byte(c.Will.QoS&3)<<3
		if c.Will.Retain {
			flags |= 0x20
		}
		rl += 4 + len(c.Will.Topic) + len(c.Will.Payload)
	}
	if c.Username != "" {
		flags |= 0x80
		rl += 2 + len(c.Username)
		if c.Password != nil {
			flags |= 0x40
			rl += 2 + len(c.Password)
		}
	}

	dst = appendHeader(dst, model.CONNECT, 0, rl)
	dst = append(dst, protocolName[:]...)
	dst = append(dst, protocolLevel, flags)
	dst = appendUint16(dst, c.KeepAlive)
	dst = appendString(dst, c.ClientID)
	if c.Will != nil {
		dst = appendString(dst, c.Will.Topic)
		dst = appendBytes(dst, c.Will.Payload)
	}
	if flags&0x80 != 0 {
		dst = appendString(dst, c.Username)
	}
	if flags&0x40 != 0 {
		dst = appendBytes(dst, c.Password)
	}
	return dst
}

func (c *ConnAck) Encode(dst []byte) []byte {
	var sp byte
	if c.SessionPresent {
		sp = 1
	}
	return append(dst, model.CONNACK.Header(0), 2, sp, c.ReturnCode)
}

func (p *Publish) flags() uint8 {
	f := uint8(p.QoS&3) << 1
	if p.Dup {
		f |= 0x08
	}
	if p.Retain {
		f |= 0x01
	}
	return f
}

func (p *Publish) remainingLength() int {
	rl := 2 + len(p.Topic) + len(p.Payload)
	if p.QoS > model.AtMostOnce {
		rl += 2
	}
	return rl
}

// Size is the number of bytes Encode appends. False if p is too large to encode at all.
func (p *Publish) Size() (int, bool) {
	return size(p.remainingLength())
}

func (p *Publish) Encode(dst []byte) []byte {
	rl := p.remainingLength()
	dst = appendHeader(dst, model.PUBLISH, p.flags(), rl)
	dst = appendString(dst, p.Topic)
	if p.QoS > model.AtMostOnce {
		dst = appendUint16(dst, p.PacketID)
	}
	return append(dst, p.Payload...)
}

func (p *PubAck) Encode(dst []byte) []byte { return appendIDPacket(dst, model.PUBACK, 0, p.PacketID) }
func (p *PubRec) Encode(dst []byte) []byte { return appendIDPacket(dst, model.PUBREC, 0, p.PacketID) }
func (p *PubRel) Encode(dst []byte) []byte { return appendIDPacket(dst, model.PUBREL, 0x02, p.PacketID) }
func (p *PubComp) Encode(dst []byte) []byte { return appendIDPacket(dst, model.PUBCOMP, 0, p.PacketID) }

func (p *UnsubAck) Encode(dst []byte) []byte {
	return appendIDPacket(dst, model.UNSUBACK, 0, p.PacketID)
}

func (s *Subscribe) remainingLength() int {
	rl := 2
	for i := range s.Topics {
		rl += 3 + len(s.Topics[i].Filter)
	}
	return rl
}

func (s *Subscribe) Size() (int, bool) {
	return size(s.remainingLength())
}

func (s *Subscribe) Encode(dst []byte) []byte {
	rl := s.remainingLength()
	dst = appendHeader(dst, model.SUBSCRIBE, 0x02, rl)
	dst = appendUint16(dst, s.PacketID)
	for i := range s.Topics {
		dst = appendString(dst, s.Topics[i].Filter)
		dst = append(dst, byte(s.Topics[i].QoS))
	}
	return dst
}

func (s *SubAck) Encode(dst []byte) []byte {
	dst = appendHeader(dst, model.SUBACK, 0, 2+len(s.ReturnCodes))
	dst = appendUint16(dst, s.PacketID)
	return append(dst, s.ReturnCodes...)
}

func (u *Unsubscribe) remainingLength() int {
	rl := 2
	for _, t := range u.Topics {
		rl += 2 + len(t)
	}
	return rl
}

func (u *Unsubscribe) Size() (int, bool) {
	return size(u.remainingLength())
}

func (u *Unsubscribe) Encode(dst []byte) []byte {
	rl := u.remainingLength()
	dst = appendHeader(dst, model.UNSUBSCRIBE, 0x02, rl)
	dst = appendUint16(dst, u.PacketID)
	for _, t := range u.Topics {
		dst = appendString(dst, t)
	}
	return dst
}

func (*PingReq) Encode(dst []byte) []byte { return append(dst, model.PINGREQ.Header(0), 0) }
func (*PingResp) Encode(dst []byte) []byte { return append(dst, model.PINGRESP.Header(0), 0) }
func (*Disconnect) Encode(dst []byte) []byte { return append(dst, model.DISCONNECT.Header(0), 0) }
