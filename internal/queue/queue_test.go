package queue

import (
	"testing"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/packet"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New(3)
	for id := uint16(1); id <= 3; id++ {
		if err := q.Add(GetItem(&packet.PubAck{PacketID: id})); err != nil {
			t.Fatal(err)
		}
	}

	if err := q.Add(GetItem(&packet.PubAck{PacketID: 4})); err != ErrFull {
		t.Fatal("expected full queue, got", err)
	}
	q.AddForce(GetItem(&packet.PubAck{PacketID: 4}))
	if q.Len() != 4 {
		t.Fatal(q.Len())
	}

	for id := uint16(1); id <= 4; id++ {
		if q.Front().PId != id {
			t.Fatal("front", q.Front().PId, "expected", id)
		}
		i := q.PopFront()
		if i.PId != id {
			t.Fatal(i.PId)
		}
		ReturnItem(i)
	}

	if q.PopFront() != nil || q.Front() != nil || q.Len() != 0 {
		t.Fatal("expected empty queue")
	}
}

func TestQueueEachRemove(t *testing.T) {
	t.Parallel()

	q := New(0)
	for id := uint16(1); id <= 5; id++ {
		q.AddForce(GetItem(&packet.PubAck{PacketID: id}))
	}

	var seen []uint16
	q.Each(func(i *Item) bool {
		seen = append(seen, i.PId)
		if i.PId%2 == 0 {
			q.remove(i)
		}
		return true
	})

	if len(seen) != 5 || q.Len() != 3 {
		t.Fatal(seen, q.Len())
	}
	if q.Front().PId != 1 || q.t.PId != 5 {
		t.Fatal("broken links")
	}

	q.Reset()
	if q.Len() != 0 || q.Front() != nil {
		t.Fatal("reset")
	}
}

func TestItemWait(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	i := GetItem(&packet.Publish{QoS: model.AtLeastOnce, PacketID: 9})
	if i.PId != 9 || !i.Unsent() {
		t.Fatal(i)
	}

	i.Await(model.PUBACK, now)
	if i.Unsent() || i.Sent.Elapsed(now.Add(time.Second)) != time.Second {
		t.Fatal("await")
	}

	i.ClearWait()
	if !i.Unsent() || i.Sent.Running() {
		t.Fatal("clear")
	}
	ReturnItem(i)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	q := NewLookup(2)

	a := GetItem(&packet.Publish{QoS: model.ExactlyOnce, PacketID: 1})
	a.Await(model.PUBREL, now)
	if added, err := q.Add(a); !added || err != nil {
		t.Fatal(added, err)
	}
	if added, err := q.Add(GetItem(&packet.Publish{QoS: model.ExactlyOnce, PacketID: 1})); added || err != nil {
		t.Fatal("duplicate identifier stored", added, err)
	}

	b := GetItem(&packet.Publish{QoS: model.ExactlyOnce, PacketID: 2})
	b.Await(model.PUBREL, now.Add(3*time.Second))
	q.Add(b)

	if _, err := q.Add(GetItem(&packet.Publish{QoS: model.ExactlyOnce, PacketID: 3})); err != ErrFull {
		t.Fatal("expected full", err)
	}

	var timedOut []uint16
	q.Timeouts(now.Add(5*time.Second), 5*time.Second, func(i *Item) {
		timedOut = append(timedOut, i.PId)
	})
	if len(timedOut) != 1 || timedOut[0] != 1 {
		t.Fatal(timedOut)
	}

	if !q.Present(2) || q.Get(2) != b {
		t.Fatal("lookup")
	}
	if q.Remove(2) != b || q.Present(2) || q.Len() != 1 {
		t.Fatal("remove")
	}
	if q.Remove(2) != nil {
		t.Fatal("removed twice")
	}

	q.Reset()
	if q.Present(1) || q.Len() != 0 {
		t.Fatal("reset")
	}
}
