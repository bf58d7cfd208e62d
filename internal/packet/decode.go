package packet

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/RoanBrand/emqc/internal/model"
	pkgerrors "github.com/pkg/errors"
)

// ErrMalformed is the cause of every decode error.
var ErrMalformed = errors.New("malformed packet")

func malformed(t model.Type, msg string) error {
	return pkgerrors.Wrapf(ErrMalformed, "%s: %s", t, msg)
}

func getUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// reader walks a packet body.
type reader struct {
	t   model.Type
	b   []byte
	err error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = malformed(r.t, msg)
	}
}

func (r *reader) uint16() uint16 {
	if r.err != nil {
		return 0
	}
	if len(r.b) < 2 {
		r.fail("truncated")
		return 0
	}
	v := getUint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.b) < 1 {
		r.fail("truncated")
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *reader) bytes() []byte {
	l := int(r.uint16())
	if r.err != nil {
		return nil
	}
	if len(r.b) < l {
		r.fail("truncated string")
		return nil
	}
	v := r.b[:l:l]
	r.b = r.b[l:]
	return v
}

func (r *reader) string(wildcards bool) string {
	b := r.bytes()
	if r.err != nil {
		return ""
	}
	if err := checkUTF8(b, wildcards); err != nil {
		r.fail(err.Error())
		return ""
	}
	return string(b)
}

func (r *reader) rest() []byte {
	v := make([]byte, len(r.b))
	copy(v, r.b)
	r.b = r.b[len(r.b):]
	return v
}

func (r *reader) end() error {
	if r.err == nil && len(r.b) != 0 {
		r.fail("unexpected trailing bytes")
	}
	return r.err
}

// [MQTT-2.2.2-1] [MQTT-2.2.2-2]
func checkFlags(t model.Type, flags uint8) bool {
	switch t {
	case model.PUBLISH:
		q := model.QoS(flags >> 1 & 3)
		return q.Valid() && (q > model.AtMostOnce || flags&0x08 == 0) // [MQTT-3.3.1-2]
	case model.PUBREL, model.SUBSCRIBE, model.UNSUBSCRIBE:
		return flags == 0x02
	}
	return flags == 0
}

// Decode converts a complete raw packet to its typed form, copying all data out of raw.
// Packets that were too big, or of Reserved type, decode to nil without error so they can be dropped.
func Decode(raw Raw) (Packet, error) {
	t := raw.Type()
	if raw.TooBig() || !t.Valid() {
		return nil, nil
	}

	flags := raw.Flags()
	if !checkFlags(t, flags) {
		return nil, malformed(t, "invalid fixed header flags")
	}

	r := reader{t: t, b: raw.Body()}

	switch t {
	case model.CONNECT:
		return decodeConnect(&r)
	case model.CONNACK:
		ack := ConnAck{}
		sp := r.byte()
		if sp&0xFE != 0 { // [MQTT-3.2.2-1]
			r.fail("reserved acknowledge flags set")
		}
		ack.SessionPresent = sp == 1
		ack.ReturnCode = r.byte()
		return &ack, r.end()
	case model.PUBLISH:
		p := Publish{
			QoS:    model.QoS(flags >> 1 & 3),
			Retain: flags&0x01 != 0,
			Dup:    flags&0x08 != 0,
		}
		p.Topic = r.string(true) // [MQTT-3.3.2-2]
		if p.Topic == "" && r.err == nil {
			r.fail("empty topic")
		}
		if p.QoS > model.AtMostOnce {
			if p.PacketID = r.uint16(); p.PacketID == 0 && r.err == nil {
				r.fail("zero packet identifier")
			}
		}
		if r.err != nil {
			return nil, r.err
		}
		p.Payload = r.rest()
		return &p, nil
	case model.PUBACK:
		p := PubAck{PacketID: r.uint16()}
		return &p, r.end()
	case model.PUBREC:
		p := PubRec{PacketID: r.uint16()}
		return &p, r.end()
	case model.PUBREL:
		p := PubRel{PacketID: r.uint16()}
		return &p, r.end()
	case model.PUBCOMP:
		p := PubComp{PacketID: r.uint16()}
		return &p, r.end()
	case model.SUBSCRIBE:
		s := Subscribe{PacketID: r.uint16()}
		for r.err == nil && len(r.b) > 0 {
			f := r.string(false)
			q := r.byte()
			if q&0xFC != 0 { // [MQTT-3.8.3-4]
				r.fail("invalid requested QoS")
			}
			s.Topics = append(s.Topics, TopicQoS{Filter: f, QoS: model.QoS(q)})
		}
		if r.err == nil && len(s.Topics) == 0 { // [MQTT-3.8.3-3]
			r.fail("no topic filters")
		}
		return &s, r.end()
	case model.SUBACK:
		s := SubAck{PacketID: r.uint16()}
		if r.err == nil {
			s.ReturnCodes = r.rest()
			for _, c := range s.ReturnCodes {
				if c != model.SubscribeFailure && !model.QoS(c).Valid() {
					r.fail("invalid return code")
					break
				}
			}
		}
		return &s, r.end()
	case model.UNSUBSCRIBE:
		u := Unsubscribe{PacketID: r.uint16()}
		for r.err == nil && len(r.b) > 0 {
			u.Topics = append(u.Topics, r.string(false))
		}
		if r.err == nil && len(u.Topics) == 0 { // [MQTT-3.10.3-2]
			r.fail("no topic filters")
		}
		return &u, r.end()
	case model.UNSUBACK:
		p := UnsubAck{PacketID: r.uint16()}
		return &p, r.end()
	case model.PINGREQ:
		return &PingReq{}, r.end()
	case model.PINGRESP:
		return &PingResp{}, r.end()
	case model.DISCONNECT:
		return &Disconnect{}, r.end()
	}
	return nil, nil
}

func decodeConnect(r *reader) (Packet, error) {
	c := Connect{}

	if name := r.bytes(); r.err == nil && !bytes.Equal(name, protocolName[2:]) {
		r.fail("unsupported protocol name")
	}
	if lvl := r.byte(); r.err == nil && lvl != protocolLevel {
		r.fail("unsupported protocol level")
	}
	flags := r.byte()
	if r.err == nil && flags&0x01 != 0 { // [MQTT-3.1.2-3]
		r.fail("reserved connect flag set")
	}
	c.CleanSession = flags&0x02 != 0
	c.KeepAlive = r.uint16()
	c.ClientID = r.string(false)

	if flags&0x04 != 0 {
		w := model.Message{QoS: model.QoS(flags >> 3 & 3), Retain: flags&0x20 != 0}
		w.Topic = r.string(true)
		if p := r.bytes(); r.err == nil {
			w.Payload = append([]byte(nil), p...)
		}
		c.Will = &w
	}
	if flags&0x80 != 0 {
		c.Username = r.string(false)
	}
	if flags&0x40 != 0 {
		if p := r.bytes(); r.err == nil {
			c.Password = append([]byte{}, p...)
		}
	}

	if err := r.end(); err != nil {
		return nil, err
	}
	return &c, nil
}
