package packet

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/pkg/errors"
)

func decodeBytes(t *testing.T, b []byte) (Packet, error) {
	t.Helper()
	r, err := NewRaw(b)
	if err != nil {
		t.Fatal(err)
	}
	return Decode(r)
}

func TestConnectEncoding(t *testing.T) {
	t.Parallel()

	c := Connect{ClientID: "dev1", KeepAlive: 60, CleanSession: true}
	exp := []byte{
		0x10, 16,
		0, 4, 'M', 'Q', 'T', 'T', 4, 0x02, 0, 60,
		0, 4, 'd', 'e', 'v', '1',
	}
	if b := c.Encode(nil); !bytes.Equal(b, exp) {
		t.Fatalf("got % x", b)
	}

	full := Connect{
		ClientID:  "dev1",
		KeepAlive: 10,
		Username:  "user",
		Password:  []byte("pass"),
		Will:      &model.Message{Topic: "will/dev1", Payload: []byte("gone"), QoS: model.AtLeastOnce, Retain: true},
	}
	b := full.Encode(nil)
	if b[9] != 0x80|0x40|0x20|0x08|0x04 {
		t.Fatalf("connect flags %08b", b[9])
	}
	p, err := decodeBytes(t, b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p, &full) {
		t.Fatalf("%+v", p)
	}
}

func TestPublishEncoding(t *testing.T) {
	t.Parallel()

	p := Publish{Topic: "a/b", Payload: []byte{1, 2}, QoS: model.AtLeastOnce, PacketID: 0x0102, Retain: true, Dup: true}
	exp := []byte{0x3B, 9, 0, 3, 'a', '/', 'b', 0x01, 0x02, 1, 2}
	if b := p.Encode(nil); !bytes.Equal(b, exp) {
		t.Fatalf("got % x", b)
	}

	p0 := Publish{Topic: "x", Payload: []byte("y")}
	if b := p0.Encode(nil); !bytes.Equal(b, []byte{0x30, 4, 0, 1, 'x', 'y'}) {
		t.Fatalf("QoS 0 publish must not carry an identifier: % x", b)
	}
}

func TestSubscribeEncoding(t *testing.T) {
	t.Parallel()

	s := Subscribe{PacketID: 10, Topics: []TopicQoS{{"a/#", model.ExactlyOnce}}}
	exp := []byte{0x82, 8, 0, 10, 0, 3, 'a', '/', '#', 2}
	if b := s.Encode(nil); !bytes.Equal(b, exp) {
		t.Fatalf("got % x", b)
	}

	u := Unsubscribe{PacketID: 11, Topics: []string{"a/#", "b"}}
	exp = []byte{0xA2, 10, 0, 11, 0, 3, 'a', '/', '#', 0, 1, 'b'}
	if b := u.Encode(nil); !bytes.Equal(b, exp) {
		t.Fatalf("got % x", b)
	}

	for _, p := range []Packet{&s, &u} {
		d, err := decodeBytes(t, p.Encode(nil))
		if err != nil || !reflect.DeepEqual(d, p) {
			t.Fatal(d, err)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	bad := map[string][]byte{
		"pubrel flags":       {0x60, 2, 0, 1},
		"puback flags":       {0x41, 2, 0, 1},
		"publish qos 3":      {0x36, 5, 0, 1, 'a', 0, 1},
		"publish no id":      {0x32, 3, 0, 1, 'a'},
		"publish dup qos 0":  {0x38, 3, 0, 1, 'a'},
		"publish zero id":    {0x32, 5, 0, 1, 'a', 0, 0},
		"publish wildcard":   {0x30, 3, 0, 1, '#'},
		"publish empty":      {0x30, 2, 0, 0},
		"puback long":        {0x40, 3, 0, 1, 0},
		"puback short":       {0x40, 1, 0},
		"connack flags":      {0x20, 2, 2, 0},
		"suback return code": {0x90, 3, 0, 1, 3},
		"pingresp body":      {0xD0, 1, 0},
		"subscribe empty":    {0x82, 2, 0, 1},
		"string overrun":     {0x30, 3, 0, 9, 'a'},
	}

	for name, b := range bad {
		p, err := decodeBytes(t, b)
		if err == nil {
			t.Fatal(name, "decoded as", p)
		}
		if errors.Cause(err) != ErrMalformed {
			t.Fatal(name, err)
		}
	}
}

func TestDecodeReserved(t *testing.T) {
	t.Parallel()

	for _, b := range [][]byte{{0x00, 0}, {0xF0, 0}} {
		if p, err := decodeBytes(t, b); p != nil || err != nil {
			t.Fatal(b, p, err)
		}
	}
}

type recorder struct {
	NopReceiver
	acks []uint16
}

func (r *recorder) ReceivePubAck(p *PubAck) {
	r.acks = append(r.acks, p.PacketID)
}

func TestVisit(t *testing.T) {
	t.Parallel()

	r := recorder{}
	if !Visit(&PubAck{PacketID: 4}, &r) || !Visit(&PingResp{}, &r) {
		t.Fatal("broker packets must be dispatched")
	}
	if Visit(&Connect{}, &r) || Visit(&PingReq{}, &r) || Visit(&Subscribe{}, &r) {
		t.Fatal("client only packets must not be dispatched")
	}
	if len(r.acks) != 1 || r.acks[0] != 4 {
		t.Fatal(r.acks)
	}
}

func TestIDAllocator(t *testing.T) {
	t.Parallel()

	a := IDAllocator{}
	if a.Next() != 1 || a.Next() != 2 {
		t.Fatal("ids must start at 1")
	}

	for i := 3; i <= 65535; i++ {
		if id := a.Next(); int(id) != i {
			t.Fatal(id, i)
		}
	}
	if id := a.Next(); id != 1 {
		t.Fatal("expected wrap to 1, got", id)
	}
}

func TestPacketID(t *testing.T) {
	t.Parallel()

	if _, ok := ID(&Publish{QoS: model.AtMostOnce}); ok {
		t.Fatal("QoS 0 publish has no id")
	}
	if id, ok := ID(&PubRec{PacketID: 5}); !ok || id != 5 {
		t.Fatal(id, ok)
	}
	if _, ok := ID(&PingReq{}); ok {
		t.Fatal("PINGREQ has no id")
	}
}
