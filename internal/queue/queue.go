package queue

import (
	"errors"
	"time"
)

var ErrFull = errors.New("queue full")

// Queue is a bounded FIFO of items.
// Not safe for concurrent use, it belongs to a single session task.
type Queue struct {
	h, t *Item
	n    int
	max  int // 0 means unbounded
}

func New(max int) *Queue {
	return &Queue{max: max}
}

func (q *Queue) add(i *Item) {
	if q.h == nil {
		q.h = i
		q.t = i
	} else {
		q.t.next = i
		i.prev = q.t
		q.t = i
	}
	q.n++
}

func (q *Queue) remove(i *Item) {
	if i.prev == nil { // is h
		q.h = i.next
	} else {
		i.prev.next = i.next
	}

	if i.next == nil { // is t
		q.t = i.prev
	} else {
		i.next.prev = i.prev
	}

	i.prev, i.next = nil, nil // avoid memory leaks
	q.n--
}

// Add appends i, failing if the queue is at capacity.
func (q *Queue) Add(i *Item) error {
	if q.Full() {
		return ErrFull
	}
	q.add(i)
	return nil
}

// AddForce appends i even past capacity.
func (q *Queue) AddForce(i *Item) {
	q.add(i)
}

func (q *Queue) Front() *Item {
	return q.h
}

// PopFront removes and returns the head, or nil if empty.
func (q *Queue) PopFront() *Item {
	i := q.h
	if i != nil {
		q.remove(i)
	}
	return i
}

func (q *Queue) Len() int {
	return q.n
}

func (q *Queue) Full() bool {
	return q.max > 0 && q.n >= q.max
}

// Each calls f for every item from head to tail, stopping early if f returns false.
// f may not remove items other than the one it is given.
func (q *Queue) Each(f func(*Item) bool) {
	for i := q.h; i != nil; {
		next := i.next
		if !f(i) {
			return
		}
		i = next
	}
}

// Reset drops every item back to the pool.
func (q *Queue) Reset() {
	for i := q.h; i != nil; {
		next := i.next
		ReturnItem(i)
		i = next
	}
	q.h, q.t, q.n = nil, nil, 0
}

// Lookup is a queue that also indexes its items by packet identifier.
// Used for inbound QoS 2 PUBLISH messages waiting for PUBREL.
type Lookup struct {
	Queue
	lookup map[uint16]*Item
}

func NewLookup(max int) *Lookup {
	return &Lookup{Queue: Queue{max: max}, lookup: make(map[uint16]*Item)}
}

// Add stores i under its packet identifier.
// Returns false with i back in the pool if the identifier was already present.
func (q *Lookup) Add(i *Item) (bool, error) {
	if _, ok := q.lookup[i.PId]; ok {
		ReturnItem(i)
		return false, nil
	}
	if err := q.Queue.Add(i); err != nil {
		return false, err
	}
	q.lookup[i.PId] = i
	return true, nil
}

func (q *Lookup) Get(id uint16) *Item {
	return q.lookup[id]
}

// Remove takes out the item with identifier id. The caller owns it after.
func (q *Lookup) Remove(id uint16) *Item {
	if i, ok := q.lookup[id]; ok {
		q.remove(i)
		delete(q.lookup, id)
		return i
	}
	return nil
}

// Present checks if a message with identifier id is held.
func (q *Lookup) Present(id uint16) bool {
	_, ok := q.lookup[id]
	return ok
}

func (q *Lookup) Reset() {
	for id := range q.lookup {
		delete(q.lookup, id)
	}
	q.Queue.Reset()
}

// Timeouts calls timedOut for every item whose acknowledgement has been awaited for at least timeout.
func (q *Lookup) Timeouts(now time.Time, timeout time.Duration, timedOut func(*Item)) {
	for i := q.h; i != nil; i = i.next {
		if i.Sent.Running() && i.Sent.Elapsed(now) >= timeout {
			timedOut(i)
		}
	}
}
