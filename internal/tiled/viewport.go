package tiled

import (
	"sync"

	"github.com/paulmach/orb"
)

// ViewState is a snapshot of a viewport.
type ViewState struct {
	Bounds      orb.Bound
	Zoom        float64
	HighDensity bool
}

// MemViewport is a Viewport held in memory and moved with Set. It is safe
// for concurrent use.
type MemViewport struct {
	mu    sync.RWMutex
	state ViewState
	next  int
	subs  map[int]func()
}

// NewMemViewport creates a viewport at the given state.
func NewMemViewport(state ViewState) *MemViewport {
	return &MemViewport{state: state, subs: make(map[int]func())}
}

func (v *MemViewport) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Zoom
}

func (v *MemViewport) Bounds() orb.Bound {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Bounds
}

func (v *MemViewport) HighDensity() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.HighDensity
}

// State returns the current snapshot.
func (v *MemViewport) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Set moves the viewport and notifies every subscriber.
func (v *MemViewport) Set(state ViewState) {
	v.mu.Lock()
	v.state = state
	subs := make([]func(), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func (v *MemViewport) OnChange(fn func()) func() {
	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

var _ Viewport = (*MemViewport)(nil)
