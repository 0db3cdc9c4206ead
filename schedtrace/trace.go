// Package schedtrace records which thread ran on which core and when.
package schedtrace

import "sync"
import "time"

import "github.com/Meulengracht/MollenOS-sub017/defs"

// Event_t is one stretch of a thread on a core; times are since the trace
// started.
type Event_t struct {
	Core  int
	Tid   defs.Tid_t
	Name  string
	Start time.Duration
	End   time.Duration
}

type Trace_t struct {
	sync.Mutex
	t0   time.Time
	open []Event_t
	busy []bool
	ring []Event_t
	next int
	full bool
	// dropped events
	Lost int
}

// Mktrace keeps the last max events of ncores cores
func Mktrace(ncores, max int) *Trace_t {
	if max <= 0 {
		panic("bad trace size")
	}
	return &Trace_t{
		t0:   time.Now(),
		open: make([]Event_t, ncores),
		busy: make([]bool, ncores),
		ring: make([]Event_t, max),
	}
}

func (tr *Trace_t) add(ev Event_t) {
	if tr.full {
		tr.Lost++
	}
	tr.ring[tr.next] = ev
	tr.next++
	if tr.next == len(tr.ring) {
		tr.next = 0
		tr.full = true
	}
}

// Switch closes the event open on core and opens one for tid
func (tr *Trace_t) Switch(core int, tid defs.Tid_t, name string) {
	now := time.Since(tr.t0)
	tr.Lock()
	defer tr.Unlock()
	if tr.busy[core] {
		ev := tr.open[core]
		ev.End = now
		tr.add(ev)
	}
	tr.open[core] = Event_t{Core: core, Tid: tid, Name: name, Start: now}
	tr.busy[core] = true
}

// Events returns the recorded events oldest first, followed by the open
// ones cut at the current time.
func (tr *Trace_t) Events() []Event_t {
	now := time.Since(tr.t0)
	tr.Lock()
	defer tr.Unlock()
	var ret []Event_t
	if tr.full {
		ret = append(ret, tr.ring[tr.next:]...)
	}
	ret = append(ret, tr.ring[:tr.next]...)
	for c, b := range tr.busy {
		if b {
			ev := tr.open[c]
			ev.End = now
			ret = append(ret, ev)
		}
	}
	return ret
}

// Span returns the time covered by the trace so far
func (tr *Trace_t) Span() time.Duration {
	return time.Since(tr.t0)
}
