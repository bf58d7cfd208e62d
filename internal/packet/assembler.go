package packet

import (
	"errors"

	"github.com/RoanBrand/emqc/internal/model"
)

// ErrFraming is returned when the remaining length of a packet is malformed.
// The connection must be reset as the stream can not be resynchronised.
var ErrFraming = errors.New("framing error: " + model.ErrRemainingLength.Error())

type assemblyState uint8

const (
	start assemblyState = iota
	readingRemainingLength
	readingPayload
	oversized
)

// Assembler reconstructs one packet at a time from a byte stream delivered in chunks of any size.
// Ask WantedAmount, write that many bytes or less to WritePos, then report them with DataReceived.
type Assembler struct {
	buf []byte

	maxSize   int // largest remaining length accepted
	received  int // bytes of this packet accepted so far, including drained
	wanted    int // additional bytes needed to complete the next step
	headerLen int // fixed header incl. remaining length bytes
	remaining int // declared remaining length
	left      int // bytes still to drain while oversized
	lenMul    int
	lenBytes  int

	state  assemblyState
	err    bool
	tooBig bool
}

func NewAssembler(maxSize int) *Assembler {
	a := Assembler{maxSize: maxSize}
	a.Reset()
	return &a
}

// Reset prepares for the next packet. Buffer capacity is kept.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.state = start
	a.received, a.headerLen, a.remaining, a.left = 0, 0, 0, 0
	a.lenMul, a.lenBytes = 1, 0
	a.wanted = 1
	a.err, a.tooBig = false, false
}

func (a *Assembler) WantedAmount() int {
	return a.wanted
}

// WritePos returns where the next WantedAmount bytes must be written.
// While draining an oversized packet it is always the single byte after the header.
func (a *Assembler) WritePos() []byte {
	if a.wanted == 0 || a.err {
		return nil
	}

	if a.state == oversized {
		a.grow(a.headerLen + 1)
		return a.buf[a.headerLen : a.headerLen+1]
	}

	end := a.received + a.wanted
	a.grow(end)
	return a.buf[a.received:end]
}

func (a *Assembler) grow(n int) {
	if cap(a.buf) < n {
		nb := make([]byte, n)
		copy(nb, a.buf)
		a.buf = nb
		return
	}
	a.buf = a.buf[:n]
}

// DataReceived reports that n bytes were written to the slice from the last WritePos.
func (a *Assembler) DataReceived(n int) {
	if n <= 0 || a.err {
		return
	}
	if n > a.wanted {
		a.err, a.wanted = true, 0
		return
	}

	a.received += n

	switch a.state {
	case start:
		a.state = readingRemainingLength
		a.wanted = 1
	case readingRemainingLength:
		eb := a.buf[a.received-1]
		a.remaining += int(eb&127) * a.lenMul
		a.lenMul *= 128
		a.lenBytes++

		if eb&128 != 0 {
			if a.lenBytes == 4 {
				a.err, a.wanted = true, 0
				return
			}
			a.wanted = 1
			return
		}

		a.headerLen = a.received
		switch {
		case a.remaining > a.maxSize:
			// Drain without storing. No handler may process it.
			a.state, a.tooBig = oversized, true
			a.buf[0] = model.Reserved.Header(0)
			a.left, a.wanted = a.remaining, 1
		case a.remaining > 0:
			a.state = readingPayload
			a.wanted = a.remaining
		default:
			a.wanted = 0
		}
	case readingPayload:
		a.wanted -= n
	case oversized:
		a.left -= n
		if a.left > 0 {
			a.wanted = 1
		} else {
			a.wanted = 0
		}
	}
}

func (a *Assembler) IsComplete() bool {
	return a.wanted == 0 && !a.err && a.received > 0
}

func (a *Assembler) IsError() bool {
	return a.err
}

// IsTooBig reports if the current packet exceeded the maximum size and is being, or was, discarded.
func (a *Assembler) IsTooBig() bool {
	return a.tooBig
}

// Packet returns the assembled packet. It references the Assembler's buffer, so it is only valid until Reset.
func (a *Assembler) Packet() Raw {
	end := a.received
	if a.tooBig {
		end = a.headerLen
	}
	return Raw{b: a.buf[:end], headerLen: a.headerLen, tooBig: a.tooBig}
}

// Feed pushes a chunk of stream data through the Assembler, calling emit for every completed packet.
// The Raw given to emit is only valid during the call.
func (a *Assembler) Feed(data []byte, emit func(Raw) error) error {
	for len(data) > 0 {
		n := copy(a.WritePos(), data)
		data = data[n:]
		a.DataReceived(n)

		if a.err {
			return ErrFraming
		}

		if a.IsComplete() {
			err := emit(a.Packet())
			a.Reset()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Raw is a complete, not yet decoded packet.
type Raw struct {
	b         []byte
	headerLen int
	tooBig    bool
}

// NewRaw wraps an entire encoded packet.
func NewRaw(b []byte) (Raw, error) {
	if len(b) < 2 {
		return Raw{}, ErrFraming
	}
	l, n, err := model.VariableLengthDecode(b[1:])
	if err != nil {
		return Raw{}, ErrFraming
	}
	if 1+n+l != len(b) {
		return Raw{}, ErrFraming
	}
	return Raw{b: b, headerLen: 1 + n}, nil
}

func (r Raw) Type() model.Type {
	if len(r.b) == 0 {
		return model.Reserved
	}
	return model.Type(r.b[0] >> 4)
}

func (r Raw) Flags() uint8 {
	if len(r.b) == 0 {
		return 0
	}
	return r.b[0] & 0x0F
}

// Body is the variable header and payload.
func (r Raw) Body() []byte {
	return r.b[r.headerLen:]
}

func (r Raw) TooBig() bool {
	return r.tooBig
}

func (r Raw) Len() int {
	return len(r.b)
}

// Clone copies the packet out of the Assembler's buffer.
func (r Raw) Clone() Raw {
	b := make([]byte, len(r.b))
	copy(b, r.b)
	r.b = b
	return r
}
