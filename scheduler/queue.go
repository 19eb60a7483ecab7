package scheduler

import (
	"sync"
	"sync/atomic"

	"maps-harvester/stats"
)

// RunState is the shared state of a run: the running flag and the city queue.
// The harvest worker and the control plane hold the same *RunState.
type RunState struct {
	running  atomic.Bool
	quitting atomic.Bool

	mu         sync.Mutex
	queue      []string
	generation uint64        // bumped on every advancement
	halted     chan struct{} // closed while not running
	changed    chan struct{} // pinged on flag and queue changes

	stats *stats.Stats
}

// NewRunState creates a running state over the ordered localities
func NewRunState(localities []string, st *stats.Stats) *RunState {
	rs := &RunState{
		queue:   append([]string(nil), localities...),
		halted:  make(chan struct{}),
		changed: make(chan struct{}, 1),
		stats:   st,
	}
	if len(rs.queue) > 0 {
		rs.running.Store(true)
	} else {
		close(rs.halted)
	}
	return rs
}

// Current returns the front of the queue and its generation
func (rs *RunState) Current() (locality string, generation uint64, ok bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.queue) == 0 {
		return "", rs.generation, false
	}
	return rs.queue[0], rs.generation, true
}

// Remaining returns a copy of the queue
func (rs *RunState) Remaining() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.queue...)
}

// Advance retires the current locality and returns the next one.
// The per-locality duplicate counter is reset; an empty queue stops the run.
func (rs *RunState) Advance() (next string, ok bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.advanceLocked()
}

// AdvanceIf advances only if no advancement happened since generation was read.
// It reports whether the queue moved.
func (rs *RunState) AdvanceIf(generation uint64) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.generation != generation || len(rs.queue) == 0 {
		return false
	}
	rs.advanceLocked()
	return true
}

func (rs *RunState) advanceLocked() (string, bool) {
	if len(rs.queue) > 0 {
		rs.queue = rs.queue[1:]
	}
	rs.generation++
	rs.stats.ResetDuplicates()
	defer rs.notify()

	if len(rs.queue) == 0 {
		rs.setRunningLocked(false)
		return "", false
	}
	return rs.queue[0], true
}

// RecordDuplicate counts a duplicate against the locality of generation.
// A duplicate found by an extraction that outlived its locality is dropped,
// so the next locality's counter starts from zero.
func (rs *RunState) RecordDuplicate(generation uint64) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.generation != generation {
		return false
	}
	rs.stats.RecordDuplicate()
	return true
}

// Generation returns the advancement counter
func (rs *RunState) Generation() uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.generation
}

// Running reports whether the worker may keep harvesting
func (rs *RunState) Running() bool {
	return rs.running.Load()
}

// Quitting reports whether the operator asked to end the run
func (rs *RunState) Quitting() bool {
	return rs.quitting.Load()
}

// SetRunning sets the running flag. Resuming after quit or with an empty queue is ignored.
func (rs *RunState) SetRunning(running bool) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if running && (rs.quitting.Load() || len(rs.queue) == 0) {
		return false
	}
	rs.setRunningLocked(running)
	rs.notify()
	return true
}

// Quit stops the run at the next suspension point
func (rs *RunState) Quit() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.quitting.Store(true)
	rs.setRunningLocked(false)
	rs.notify()
}

// Halted returns a channel that is closed while the run is not running
func (rs *RunState) Halted() <-chan struct{} {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.halted
}

// Changed is signalled after any flag or queue change
func (rs *RunState) Changed() <-chan struct{} {
	return rs.changed
}

func (rs *RunState) setRunningLocked(running bool) {
	was := rs.running.Swap(running)
	switch {
	case was && !running:
		close(rs.halted)
	case !was && running:
		rs.halted = make(chan struct{})
	}
}

func (rs *RunState) notify() {
	select {
	case rs.changed <- struct{}{}:
	default:
	}
}
