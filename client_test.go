package emqc

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/packet"
)

// fakeBroker accepts any client and acknowledges everything, except as told.
type fakeBroker struct {
	l       net.Listener
	packets chan packet.Packet

	mu             sync.Mutex
	sessionPresent bool
	dropPublish    bool // close connection on first QoS>0 PUBLISH, without acknowledging
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	b := fakeBroker{l: l, packets: make(chan packet.Packet, 64)}
	go b.accept()
	return &b
}

func (b *fakeBroker) address() string {
	return "tcp://" + b.l.Addr().String()
}

func (b *fakeBroker) accept() {
	for {
		conn, err := b.l.Accept()
		if err != nil {
			return
		}
		go b.serve(conn)
	}
}

func (b *fakeBroker) serve(conn net.Conn) {
	defer conn.Close()
	a := packet.NewAssembler(1 << 16)
	rx := make([]byte, 512)
	var pubID packet.IDAllocator

	for {
		n, err := conn.Read(rx)
		if err != nil {
			return
		}

		closing := false
		err = a.Feed(rx[:n], func(r packet.Raw) error {
			p, err := packet.Decode(r)
			if err != nil || p == nil {
				return err
			}
			b.packets <- p

			var replies []packet.Packet
			switch p := p.(type) {
			case *packet.Connect:
				b.mu.Lock()
				replies = append(replies, &packet.ConnAck{SessionPresent: b.sessionPresent})
				b.mu.Unlock()
			case *packet.Subscribe:
				sa := packet.SubAck{PacketID: p.PacketID}
				for _, t := range p.Topics {
					sa.ReturnCodes = append(sa.ReturnCodes, uint8(t.QoS))
				}
				replies = append(replies, &sa, &packet.Publish{
					Topic:    "a/b",
					Payload:  []byte("hello"),
					QoS:      model.AtLeastOnce,
					PacketID: pubID.Next(),
				})
			case *packet.Publish:
				b.mu.Lock()
				drop := b.dropPublish && p.QoS > 0
				if drop {
					b.dropPublish, b.sessionPresent = false, true
				}
				b.mu.Unlock()
				if drop {
					closing = true
					return nil
				}
				switch p.QoS {
				case model.AtLeastOnce:
					replies = append(replies, &packet.PubAck{PacketID: p.PacketID})
				case model.ExactlyOnce:
					replies = append(replies, &packet.PubRec{PacketID: p.PacketID})
				}
			case *packet.PubRel:
				replies = append(replies, &packet.PubComp{PacketID: p.PacketID})
			case *packet.PingReq:
				replies = append(replies, &packet.PingResp{})
			case *packet.Disconnect:
				closing = true
			}

			var tx []byte
			for _, r := range replies {
				tx = r.Encode(tx)
			}
			if len(tx) > 0 {
				_, err = conn.Write(tx)
			}
			return err
		})
		if err != nil || closing {
			return
		}
	}
}

// expect waits for the next packet of the same type as like.
func (b *fakeBroker) expect(t *testing.T, like packet.Packet) packet.Packet {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-b.packets:
			if p.Type() == like.Type() {
				return p
			}
		case <-deadline:
			t.Fatal("timed out waiting for", like.Type())
		}
	}
}

func newClient(b *fakeBroker) *Client {
	c := Client{}
	c.Broker.Address = b.address()
	c.ClientID = "e2e"
	c.TickInterval = 10
	c.ReconnectInterval = 1
	return &c
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	for end := time.Now().Add(5 * time.Second); time.Now().Before(end); {
		if c.IsConnected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client did not connect")
}

func TestClient(t *testing.T) {
	b := newFakeBroker(t)
	defer b.l.Close()

	c := newClient(b)
	done := make(chan error)
	go func() { done <- c.Run() }()

	conn := b.expect(t, &packet.Connect{}).(*packet.Connect)
	if conn.ClientID != "e2e" || !conn.CleanSession || conn.KeepAlive != 60 {
		t.Fatal(conn)
	}
	waitConnected(t, c)

	if !c.Subscribe("a/#", AtLeastOnce) {
		t.Fatal("subscribe refused")
	}
	b.expect(t, &packet.Subscribe{})

	select {
	case m := <-c.Messages():
		if m.Topic != "a/b" || string(m.Payload) != "hello" || m.QoS != AtLeastOnce {
			t.Fatal(m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
	b.expect(t, &packet.PubAck{})

	c.Publish("x", []byte("1"), AtLeastOnce, false)
	c.Publish("y", []byte("2"), ExactlyOnce, false)
	if p := b.expect(t, &packet.Publish{}).(*packet.Publish); p.Topic != "x" {
		t.Fatal("publish order", p.Topic)
	}
	if p := b.expect(t, &packet.Publish{}).(*packet.Publish); p.Topic != "y" {
		t.Fatal("publish order", p.Topic)
	}
	b.expect(t, &packet.PubRel{})

	c.Shutdown()
	b.expect(t, &packet.Disconnect{})
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestClientRedelivery(t *testing.T) {
	b := newFakeBroker(t)
	defer b.l.Close()
	b.dropPublish = true

	c := newClient(b)
	c.PersistentSession = true
	go c.Run()
	defer c.Shutdown()

	if conn := b.expect(t, &packet.Connect{}).(*packet.Connect); conn.CleanSession {
		t.Fatal("expected persistent session")
	}
	waitConnected(t, c)

	c.Publish("x", []byte("1"), AtLeastOnce, false)
	first := b.expect(t, &packet.Publish{}).(*packet.Publish)

	// broker dropped the connection, client reconnects and resends
	b.expect(t, &packet.Connect{})
	re := b.expect(t, &packet.Publish{}).(*packet.Publish)
	if !re.Dup || re.PacketID != first.PacketID || string(re.Payload) != "1" {
		t.Fatal("expected duplicate with same identifier", re)
	}
}

func TestClientBadConfig(t *testing.T) {
	c := Client{}
	c.Log.Level = "loud"
	if err := c.Run(); err == nil {
		t.Fatal("expected config error")
	}
	if c.Publish("x", nil, AtMostOnce, false) || c.IsConnected() || c.Messages() != nil {
		t.Fatal("unusable client must refuse everything")
	}
}
