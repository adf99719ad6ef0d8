package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PhaseTiming is the recorded duration of one named phase.
type PhaseTiming struct {
	Name     string
	Duration time.Duration
}

// Timer records sequential phase durations of a single run.
// Starting a phase stops the previous one.
type Timer struct {
	mu      sync.Mutex
	clock   Clock
	started time.Time
	current string
	since   time.Time
	phases  []PhaseTiming
}

// NewTimer creates a Timer using clock, or the real clock when nil.
func NewTimer(clock Clock) *Timer {
	if clock == nil {
		clock = RealClock{}
	}
	now := clock.Now()
	return &Timer{clock: clock, started: now, since: now}
}

// Start begins phase name, closing the running phase if any.
func (t *Timer) Start(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.current = name
	t.since = t.clock.Now()
}

// Stop closes the running phase.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.current == "" {
		return
	}
	t.phases = append(t.phases, PhaseTiming{Name: t.current, Duration: t.clock.Since(t.since)})
	t.current = ""
}

// Phases returns the completed phases in start order.
func (t *Timer) Phases() []PhaseTiming {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PhaseTiming, len(t.phases))
	copy(out, t.phases)
	return out
}

// Total returns the time elapsed since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.started)
}

// Summary renders "name=duration" pairs separated by spaces.
func (t *Timer) Summary() string {
	phases := t.Phases()
	parts := make([]string, 0, len(phases)+1)
	for _, p := range phases {
		parts = append(parts, fmt.Sprintf("%s=%s", p.Name, p.Duration.Round(time.Millisecond)))
	}
	parts = append(parts, fmt.Sprintf("total=%s", t.Total().Round(time.Millisecond)))
	return strings.Join(parts, " ")
}
