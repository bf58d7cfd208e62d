package packet

// IDAllocator hands out packet identifiers 1..65535, wrapping around and skipping 0.
type IDAllocator struct {
	last uint16
}

func (a *IDAllocator) Next() uint16 {
	a.last++
	if a.last == 0 {
		a.last = 1
	}
	return a.last
}
