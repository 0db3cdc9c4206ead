// Package tcb holds the per-thread record of the kernel, the thread state
// machine, the intrusive lists threads are queued on and the arena that
// owns every record.
package tcb

import "fmt"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/accnt"
import "github.com/Meulengracht/MollenOS-sub017/arch"
import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"

type State_t uint32

const (
	ST_NEW State_t = iota
	ST_READY
	ST_RUNNING
	// going to sleep: on a wait set, but still executing on its core
	ST_BLOCKING
	ST_BLOCKED
	ST_ZOMBIE
	nstates
)

var statenames = [nstates]string{"new", "ready", "running", "blocking",
	"blocked", "zombie"}

func (s State_t) String() string {
	if s >= nstates {
		return "state?"
	}
	return statenames[s]
}

type Event_t int

const (
	EV_QUEUE Event_t = iota
	EV_DISPATCH
	EV_BLOCK
	// the core switched away from a blocking thread
	EV_SCHEDULE
	EV_WAKE
	EV_EXIT
	nevents
)

var eventnames = [nevents]string{"queue", "dispatch", "block", "schedule",
	"wake", "exit"}

func (e Event_t) String() string {
	if e < 0 || e >= nevents {
		return "event?"
	}
	return eventnames[e]
}

const bad = State_t(^uint32(0))

// transitions[state][event]; bad marks an illegal transition
var transitions = [nstates][nevents]State_t{
	ST_NEW:      {ST_READY, bad, bad, bad, bad, bad},
	ST_READY:    {bad, ST_RUNNING, bad, bad, bad, bad},
	ST_RUNNING:  {ST_READY, bad, ST_BLOCKING, bad, bad, ST_ZOMBIE},
	ST_BLOCKING: {bad, bad, bad, ST_BLOCKED, ST_RUNNING, bad},
	ST_BLOCKED:  {bad, bad, bad, bad, ST_READY, bad},
	ST_ZOMBIE:   {bad, bad, bad, bad, bad, bad},
}

// Tcb_t is a thread control block. scheduling fields are protected by the
// lock of the scheduler that owns the thread; wait fields by the wait
// registry lock; the link by whoever owns the list the thread is on.
type Tcb_t struct {
	Tid    defs.Tid_t
	Parent defs.Tid_t
	Pid    int
	Core   int
	Name   string
	Ref    Tref_t
	// backing memory of the record
	Mem arch.Mem_t

	state uint32
	flags uint32

	Level int
	// remaining slice in ms
	Slice int
	// ms run since the slice was last refilled at the current level
	Atlevel int

	// the wait set the thread is on, or the zero key
	Sleepkey defs.Waitkey_t
	// bumped on every sleep so a stale timeout can be told apart
	Waitseq uint64
	Wakeres defs.Err_t
	// joiners wait here
	Joinkey defs.Waitkey_t
	// key for plain timed sleeps
	Selfkey defs.Waitkey_t

	Ctx   *arch.Context_t
	Entry func(*Tcb_t, interface{})
	Arg   interface{}

	Exitcode int
	// 0, or the kill code shifted left with the low bit set
	killed int64

	Acct accnt.Accnt_t

	next *Tcb_t
	prev *Tcb_t
	list *Tlist_t
}

func (t *Tcb_t) String() string {
	return fmt.Sprintf("%v(%s)", t.Tid, t.Name)
}

func (t *Tcb_t) State() State_t {
	return State_t(atomic.LoadUint32(&t.state))
}

// Event applies ev to the thread's state. it returns the resulting state and
// true, or the current state and false if ev is illegal in that state.
func (t *Tcb_t) Event(ev Event_t) (State_t, bool) {
	for {
		o := atomic.LoadUint32(&t.state)
		n := transitions[o][ev]
		if n == bad {
			return State_t(o), false
		}
		if atomic.CompareAndSwapUint32(&t.state, o, uint32(n)) {
			return n, true
		}
	}
}

// Must applies ev and panics if the transition is illegal
func (t *Tcb_t) Must(ev Event_t) State_t {
	n, ok := t.Event(ev)
	if !ok {
		caller.Kpanic("thread %v: %v on %v", t, ev, n)
	}
	return n
}

func (t *Tcb_t) Setflag(f defs.Tflags_t) {
	for {
		o := atomic.LoadUint32(&t.flags)
		if atomic.CompareAndSwapUint32(&t.flags, o, o|uint32(f)) {
			return
		}
	}
}

func (t *Tcb_t) Clearflag(f defs.Tflags_t) {
	for {
		o := atomic.LoadUint32(&t.flags)
		if atomic.CompareAndSwapUint32(&t.flags, o, o&^uint32(f)) {
			return
		}
	}
}

func (t *Tcb_t) Hasflag(f defs.Tflags_t) bool {
	return atomic.LoadUint32(&t.flags)&uint32(f) != 0
}

func (t *Tcb_t) Flags() defs.Tflags_t {
	return defs.Tflags_t(atomic.LoadUint32(&t.flags))
}

// Kill marks the thread killed with code; the first kill wins.
func (t *Tcb_t) Kill(code int) bool {
	return atomic.CompareAndSwapInt64(&t.killed, 0, int64(code)<<1|1)
}

func (t *Tcb_t) Killed() bool {
	return atomic.LoadInt64(&t.killed) != 0
}

// Killcode returns the code of the first kill
func (t *Tcb_t) Killcode() int {
	return int(atomic.LoadInt64(&t.killed) >> 1)
}

// Onlist reports whether the thread is on any list
func (t *Tcb_t) Onlist() bool {
	return t.list != nil
}

func (t *Tcb_t) Ison(l *Tlist_t) bool {
	return t.list == l
}
