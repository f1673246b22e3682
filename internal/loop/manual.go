package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven explicitly by the caller.
// Off-loop work queued with Go runs synchronously during RunPending, and
// timers fire only when Advance moves the virtual clock past them.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	posted  []func()
	offLoop []func()
	timers  []manualTimer

	// Delays records every AfterFunc delay in the order requested.
	Delays []time.Duration
}

type manualTimer struct {
	at  time.Duration
	seq int
	fn  func()
}

// NewManual creates a manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.posted = append(m.posted, fn)
	m.mu.Unlock()
}

func (m *Manual) Go(fn func()) {
	m.mu.Lock()
	m.offLoop = append(m.offLoop, fn)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) {
	m.mu.Lock()
	m.seq++
	m.timers = append(m.timers, manualTimer{at: m.now + d, seq: m.seq, fn: fn})
	m.Delays = append(m.Delays, d)
	m.mu.Unlock()
}

// RunPending runs queued work until nothing but timers remain.
// It returns the number of callbacks run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		fn := m.pop()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

// Advance moves the virtual clock forward by d, firing due timers in
// deadline order, and runs everything they queue.
func (m *Manual) Advance(d time.Duration) {
	m.RunPending()

	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.Slice(m.timers, func(i, j int) bool {
			if m.timers[i].at != m.timers[j].at {
				return m.timers[i].at < m.timers[j].at
			}
			return m.timers[i].seq < m.timers[j].seq
		})
		if len(m.timers) == 0 || m.timers[0].at > target {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.at
		m.mu.Unlock()

		t.fn()
		m.RunPending()
	}
}

// PendingTimers returns the number of timers not yet fired.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// pop prefers off-loop work so a fetch and its posted completion run
// back to back.
func (m *Manual) pop() func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.offLoop) > 0 {
		fn := m.offLoop[0]
		m.offLoop = m.offLoop[1:]
		return fn
	}
	if len(m.posted) > 0 {
		fn := m.posted[0]
		m.posted = m.posted[1:]
		return fn
	}
	return nil
}
