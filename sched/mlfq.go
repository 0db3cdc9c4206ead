// Package sched is the per-core multilevel feedback queue. one Sched_t owns
// the ready queues of one core; it only moves thread records between lists
// and never switches contexts itself.
package sched

import "fmt"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/stats"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

var Verbose = false

// Slicefor returns the time slice in ms of a thread at level
func Slicefor(level int) int {
	caller.Kassert(level >= defs.LEVEL_MIN && level <= defs.LEVEL_MAX,
		"bad level %v", level)
	return defs.SLICE_MIN + (defs.SLICE_MAX-defs.SLICE_MIN)*level/defs.LEVEL_MAX
}

// Timed_t is a thread sleeping with a deadline
type Timed_t struct {
	T   *tcb.Tcb_t
	Seq uint64
	at  int64
}

type Schedstats_t struct {
	Dispatches stats.Counter_t
	Preempts   stats.Counter_t
	Yields     stats.Counter_t
	Demotes    stats.Counter_t
	Boosts     stats.Counter_t
	Idles      stats.Counter_t
	Expired    stats.Counter_t
}

type Sched_t struct {
	Core int
	lk   spinlock.Spinlock_t

	queues [defs.NLEVELS]tcb.Tlist_t
	nready int
	idle   *tcb.Tcb_t
	// running is never on a queue
	running *tcb.Tcb_t
	resched int32
	// set by a boost that moved threads; the running thread yields its
	// place at the next preemption even with slice left
	rotate bool

	// core clock in ms
	now       int64
	boostms   int
	boostleft int
	sleepers  []Timed_t

	// sum of the slices of resident threads; used for placement
	bandwidth int64
	resident  int64

	Stats Schedstats_t
}

// Mksched makes the scheduler of core. idle runs when nothing is ready;
// boostms is the aging period, 0 disables aging.
func Mksched(core int, idle *tcb.Tcb_t, boostms int) *Sched_t {
	caller.Kassert(idle != nil, "core %v has no idle thread", core)
	s := &Sched_t{Core: core, idle: idle, boostms: boostms}
	s.boostleft = boostms
	s.running = idle
	return s
}

func (s *Sched_t) String() string {
	s.lk.Lock()
	defer s.lk.Unlock()
	r := fmt.Sprintf("core %v: running %v, %v ready, bw %v\n", s.Core,
		s.running, s.nready, s.bandwidth)
	for l := defs.LEVEL_MAX; l >= defs.LEVEL_MIN; l-- {
		q := &s.queues[l]
		if q.Empty() {
			continue
		}
		r += fmt.Sprintf("\t%2d:", l)
		q.Iter(func(t *tcb.Tcb_t) bool {
			r += " " + t.String()
			return false
		})
		r += "\n"
	}
	return r
}

func (s *Sched_t) Idle() *tcb.Tcb_t {
	return s.idle
}

func (s *Sched_t) Running() *tcb.Tcb_t {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.running
}

// Takeresched clears and returns the reschedule request
func (s *Sched_t) Takeresched() bool {
	return atomic.SwapInt32(&s.resched, 0) != 0
}

func (s *Sched_t) setresched() {
	atomic.StoreInt32(&s.resched, 1)
}

func (s *Sched_t) Bandwidth() int64 {
	return atomic.LoadInt64(&s.bandwidth)
}

func (s *Sched_t) Resident() int64 {
	return atomic.LoadInt64(&s.resident)
}

// Admit makes t resident on this core
func (s *Sched_t) Admit(t *tcb.Tcb_t) {
	s.lk.Lock()
	t.Core = s.Core
	atomic.AddInt64(&s.bandwidth, int64(Slicefor(t.Level)))
	atomic.AddInt64(&s.resident, 1)
	s.lk.Unlock()
}

func (s *Sched_t) Release(t *tcb.Tcb_t) {
	s.lk.Lock()
	caller.Kassert(t.Core == s.Core, "release of %v on core %v", t, s.Core)
	atomic.AddInt64(&s.bandwidth, -int64(Slicefor(t.Level)))
	atomic.AddInt64(&s.resident, -1)
	s.lk.Unlock()
}

// Qlen returns the number of threads queued at level
func (s *Sched_t) Qlen(level int) int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.queues[level].Len()
}

func (s *Sched_t) Nready() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.nready
}

// Queued reports whether t is on one of this core's ready queues
func (s *Sched_t) Queued(t *tcb.Tcb_t) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return t.Ison(&s.queues[t.Level])
}

// setlevel moves the bandwidth of t to level; t must not be queued
func (s *Sched_t) setlevel(t *tcb.Tcb_t, level int) {
	d := Slicefor(level) - Slicefor(t.Level)
	atomic.AddInt64(&s.bandwidth, int64(d))
	t.Level = level
	t.Atlevel = 0
}

func (s *Sched_t) push(t *tcb.Tcb_t) {
	s.queues[t.Level].Push(t)
	s.nready++
}

// higher reports whether a thread above level is ready
func (s *Sched_t) higher(level int) bool {
	for l := defs.LEVEL_MAX; l > level; l-- {
		if !s.queues[l].Empty() {
			return true
		}
	}
	return false
}

func (s *Sched_t) pop() *tcb.Tcb_t {
	for l := defs.LEVEL_MAX; l >= defs.LEVEL_MIN; l-- {
		if t := s.queues[l].Pop(); t != nil {
			s.nready--
			return t
		}
	}
	return nil
}

// Ready queues t, which must be READY and on no list. it returns true if the
// core is idle and has to be woken.
func (s *Sched_t) Ready(t *tcb.Tcb_t) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	if st := t.State(); st != tcb.ST_READY {
		caller.Kpanic("ready of %v in state %v", t, st)
	}
	caller.Kassert(!t.Onlist(), "ready of queued thread %v", t)
	caller.Kassert(t.Core == s.Core,
		"%v belongs to core %v, not %v", t, t.Core, s.Core)
	s.push(t)
	if s.running == s.idle {
		s.setresched()
		return true
	}
	if t.Level > s.running.Level {
		s.setresched()
	}
	return false
}

// Remove takes t off its ready queue
func (s *Sched_t) Remove(t *tcb.Tcb_t) {
	s.lk.Lock()
	defer s.lk.Unlock()
	caller.Kassert(t.Ison(&s.queues[t.Level]),
		"remove of %v: not queued on core %v", t, s.Core)
	s.queues[t.Level].Remove(t)
	s.nready--
}

// Getnext picks the thread to run after cur, which is the thread running on
// this core. cur is requeued if it is still runnable. preemptive is true when
// the core was asked to reschedule and false when cur gave up the core. the
// returned deadline is the next timer expiry in ms, 0 when none is needed.
//
// only an expired slice demotes cur. a thread preempted with slice left,
// because a higher level became ready or a boost moved threads, keeps its
// level and the rest of its slice and goes to the tail of its queue.
func (s *Sched_t) Getnext(cur *tcb.Tcb_t, preemptive bool) (*tcb.Tcb_t, int) {
	s.lk.Lock()
	defer s.lk.Unlock()

	caller.Kassert(cur == s.running,
		"core %v runs %v, not %v", s.Core, s.running, cur)
	rotate := s.rotate
	s.rotate = false
	if cur != s.idle {
		switch st := cur.State(); st {
		case tcb.ST_RUNNING:
			if preemptive && cur.Slice > 0 && !rotate && !s.higher(cur.Level) {
				return cur, s.deadline()
			}
			if preemptive {
				s.Stats.Preempts.Inc()
			} else {
				s.Stats.Yields.Inc()
			}
			if preemptive && cur.Slice <= 0 {
				if cur.Level > defs.LEVEL_MIN {
					s.setlevel(cur, cur.Level-1)
					s.Stats.Demotes.Inc()
				}
				cur.Slice = Slicefor(cur.Level)
				cur.Atlevel = 0
			}
			cur.Must(tcb.EV_QUEUE)
			s.push(cur)
		case tcb.ST_BLOCKING:
			if _, ok := cur.Event(tcb.EV_SCHEDULE); !ok {
				// woken before it got off the core
				return cur, s.deadline()
			}
		case tcb.ST_ZOMBIE:
		default:
			caller.Kpanic("running thread %v in state %v", cur, st)
		}
	}

	next := s.pop()
	if next == nil {
		s.running = s.idle
		if cur != s.idle {
			s.Stats.Idles.Inc()
		}
		return s.idle, s.deadline()
	}
	next.Must(tcb.EV_DISPATCH)
	if next.Slice <= 0 {
		next.Slice = Slicefor(next.Level)
	}
	s.running = next
	if next != cur {
		s.Stats.Dispatches.Inc()
	}
	if Verbose {
		fmt.Printf("sched: core %v: %v -> %v (level %v)\n", s.Core, cur,
			next, next.Level)
	}
	return next, s.deadline()
}

// Boost moves every queued thread below the top level to the top level,
// higher levels first, keeping FIFO order within a level. the running
// thread is promoted in place. if any thread moved, the running thread is
// asked to give up the core so a boosted thread runs before it resumes.
func (s *Sched_t) Boost() {
	s.lk.Lock()
	s.boost()
	s.lk.Unlock()
}

func (s *Sched_t) boost() {
	top := &s.queues[defs.LEVEL_MAX]
	moved := 0
	for l := defs.LEVEL_MAX - 1; l >= defs.LEVEL_MIN; l-- {
		q := &s.queues[l]
		for t := q.Pop(); t != nil; t = q.Pop() {
			s.setlevel(t, defs.LEVEL_MAX)
			top.Push(t)
			moved++
		}
	}
	if r := s.running; r != s.idle {
		if r.Level < defs.LEVEL_MAX {
			s.setlevel(r, defs.LEVEL_MAX)
		}
		if moved != 0 {
			s.rotate = true
			s.setresched()
		}
	}
	s.boostleft = s.boostms
	s.Stats.Boosts.Inc()
	if Verbose {
		fmt.Printf("sched: core %v: boost, %v at top\n", s.Core, top.Len())
	}
}

// Arm registers t to time out ms from now; seq identifies the sleep.
func (s *Sched_t) Arm(t *tcb.Tcb_t, ms int, seq uint64) {
	caller.Kassert(ms > 0, "arm of %v ms", ms)
	s.lk.Lock()
	s.sleepers = append(s.sleepers, Timed_t{T: t, Seq: seq, at: s.now + int64(ms)})
	s.lk.Unlock()
}

// Disarm drops the timeouts of t
func (s *Sched_t) Disarm(t *tcb.Tcb_t) {
	s.lk.Lock()
	s.disarm(t)
	s.lk.Unlock()
}

func (s *Sched_t) disarm(t *tcb.Tcb_t) {
	n := 0
	for _, e := range s.sleepers {
		if e.T != t {
			s.sleepers[n] = e
			n++
		}
	}
	for i := n; i < len(s.sleepers); i++ {
		s.sleepers[i] = Timed_t{}
	}
	s.sleepers = s.sleepers[:n]
}

func (s *Sched_t) Armed() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.sleepers)
}

// Tick advances the core clock by elapsed ms. it charges the running thread,
// runs the aging pass when due, and returns the sleepers whose deadline
// passed along with the next timer deadline.
func (s *Sched_t) Tick(elapsed int) ([]Timed_t, int) {
	s.lk.Lock()
	defer s.lk.Unlock()

	s.now += int64(elapsed)
	if r := s.running; r != s.idle {
		r.Slice -= elapsed
		r.Atlevel += elapsed
		if r.Slice <= 0 {
			s.setresched()
		}
	}
	if s.boostms > 0 {
		s.boostleft -= elapsed
		if s.boostleft <= 0 {
			s.boost()
			if s.higher(s.running.Level) {
				s.setresched()
			}
		}
	}

	var expired []Timed_t
	n := 0
	for _, e := range s.sleepers {
		if e.at <= s.now {
			expired = append(expired, e)
		} else {
			s.sleepers[n] = e
			n++
		}
	}
	for i := n; i < len(s.sleepers); i++ {
		s.sleepers[i] = Timed_t{}
	}
	s.sleepers = s.sleepers[:n]
	s.Stats.Expired.Add(int64(len(expired)))
	return expired, s.deadline()
}

// Deadline returns the next timer deadline in ms; 0 means the timer may stay
// disarmed until the core is woken.
func (s *Sched_t) Deadline() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.deadline()
}

func (s *Sched_t) deadline() int {
	busy := s.running != s.idle || s.nready != 0
	if !busy && len(s.sleepers) == 0 {
		return 0
	}
	const none = int(^uint(0) >> 1)
	dl := none
	min := func(v int) {
		if v < 1 {
			v = 1
		}
		if v < dl {
			dl = v
		}
	}
	if s.running != s.idle {
		min(s.running.Slice)
	}
	if busy && s.boostms > 0 {
		min(s.boostleft)
	}
	for _, e := range s.sleepers {
		min(int(e.at - s.now))
	}
	if dl == none {
		dl = defs.SLICE_MAX
	}
	return dl
}

// Now returns the core clock in ms
func (s *Sched_t) Now() int64 {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.now
}
