package queue

import (
	"sync"
	"time"

	"github.com/RoanBrand/emqc/internal/clock"
	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/packet"
)

// Item is one In-Flight Entry: a packet and the acknowledgement it waits for.
type Item struct {
	P packet.Packet

	PId        uint16
	WaitingFor model.Type // Reserved until sent
	Sent       clock.Stopwatch

	next, prev *Item
}

var pool = sync.Pool{}

func GetItem(p packet.Packet) (i *Item) {
	if pi := pool.Get(); pi == nil {
		i = new(Item)
	} else {
		i = pi.(*Item)
	}

	i.P = p
	if id, ok := packet.ID(p); ok {
		i.PId = id
	}
	return i
}

func ReturnItem(i *Item) {
	*i = Item{}
	pool.Put(i)
}

// Unsent reports if the item is not waiting for any acknowledgement.
func (i *Item) Unsent() bool {
	return i.WaitingFor == model.Reserved
}

// Await marks the item sent and starts timing its acknowledgement.
func (i *Item) Await(t model.Type, now time.Time) {
	i.WaitingFor = t
	i.Sent.Start(now)
}

// ClearWait returns the item to unsent.
func (i *Item) ClearWait() {
	i.WaitingFor = model.Reserved
	i.Sent = clock.Stopwatch{}
}
