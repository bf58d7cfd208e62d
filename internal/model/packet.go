package model

import "errors"

// Type is the control packet type carried in the high nibble of the fixed header.
type Type uint8

// Control Packets
const (
	Reserved Type = iota // none/invalid
	CONNECT
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
)

var typeNames = [...]string{
	Reserved:    "Reserved",
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Valid reports if t is one of the 14 defined control packets.
func (t Type) Valid() bool {
	return t >= CONNECT && t <= DISCONNECT
}

// HasPacketID reports if packets of this type carry a packet identifier in their variable header.
// PUBLISH only does when QoS > 0.
func (t Type) HasPacketID() bool {
	switch t {
	case PUBLISH, PUBACK, PUBREC, PUBREL, PUBCOMP, SUBSCRIBE, SUBACK, UNSUBSCRIBE, UNSUBACK:
		return true
	}
	return false
}

// Header builds the fixed header byte.
func (t Type) Header(flags uint8) byte {
	return byte(t)<<4 | flags&0x0F
}

// QoS is the delivery guarantee level.
type QoS uint8

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// Valid reports if q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// CONNACK Return Codes
const (
	Accepted                    = 0
	UnacceptableProtocolVersion = 1
	IdentifierRejected          = 2
	ServerUnavailable           = 3
	BadUsernameOrPassword       = 4
	NotAuthorized               = 5
)

// SUBACK return code for a refused topic filter.
const SubscribeFailure = 0x80

// MaxRemainingLength is the largest value 4 remaining length bytes can hold.
const MaxRemainingLength = 268435455

var ErrRemainingLength = errors.New("malformed remaining length")

func VariableLengthEncode(packet []byte, l int) []byte {
	for {
		eb := l % 128
		l /= 128
		if l > 0 {
			eb |= 128
		}
		packet = append(packet, byte(eb))
		if l <= 0 {
			break
		}
	}
	return packet
}

// VariableLengthDecode reads a remaining length from the start of b.
// Returns the value and number of bytes it occupied.
func VariableLengthDecode(b []byte) (l, n int, err error) {
	mul := 1
	for n < len(b) {
		eb := b[n]
		n++
		l += int(eb&127) * mul
		if eb&128 == 0 {
			return l, n, nil
		}
		if n == 4 {
			return 0, n, ErrRemainingLength
		}
		mul *= 128
	}
	return 0, n, ErrRemainingLength
}

func LengthToNumberOfVariableLengthBytes(l int) int {
	switch {
	case l < 128:
		return 1
	case l < 16384:
		return 2
	case l < 2097152:
		return 3
	default:
		return 4
	}
}
