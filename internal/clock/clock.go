// Package clock has timers that never read the system clock themselves.
// Every call is given the current time, so behaviour is deterministic under test.
package clock

import "time"

// Stopwatch measures time elapsed since it was started.
type Stopwatch struct {
	start   time.Time
	elapsed time.Duration
	running bool
}

// Start (re)starts measuring from now.
func (s *Stopwatch) Start(now time.Time) {
	s.start, s.elapsed, s.running = now, 0, true
}

// Stop freezes the elapsed time.
func (s *Stopwatch) Stop(now time.Time) {
	if s.running {
		s.elapsed = now.Sub(s.start)
		s.running = false
	}
}

// Zero discards the elapsed time, keeping the running state.
func (s *Stopwatch) Zero(now time.Time) {
	s.start, s.elapsed = now, 0
}

func (s *Stopwatch) Elapsed(now time.Time) time.Duration {
	if s.running {
		return now.Sub(s.start)
	}
	return s.elapsed
}

func (s *Stopwatch) Running() bool {
	return s.running
}

// Timer is a deadline that is either armed or not.
type Timer struct {
	deadline time.Time
	interval time.Duration
	armed    bool
}

// Start arms the timer to expire interval after now.
func (t *Timer) Start(now time.Time, interval time.Duration) {
	t.interval = interval
	t.deadline = now.Add(interval)
	t.armed = true
}

// Restart arms the timer again with its last interval.
func (t *Timer) Restart(now time.Time) {
	t.Start(now, t.interval)
}

func (t *Timer) Stop() {
	t.armed = false
}

func (t *Timer) Armed() bool {
	return t.armed
}

// Expired reports if the timer is armed and its deadline has been reached.
func (t *Timer) Expired(now time.Time) bool {
	return t.armed && !now.Before(t.deadline)
}

// Fire is Expired that also disarms the timer, so each expiry is seen once.
func (t *Timer) Fire(now time.Time) bool {
	if t.Expired(now) {
		t.armed = false
		return true
	}
	return false
}
