// Package spinlock provides the busy-waiting locks that protect the run
// queues, the wait registry and the internal state of every blocking
// primitive. a spinlock never sleeps and never calls into the scheduler.
//
// holding a spinlock across anything that may sleep is a bug. locks taken
// with Irqlock or Critsect_t disable interrupts on the holder's core, and the
// scheduler refuses to block a thread whose core has interrupts disabled.
package spinlock

import "runtime"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/arch"
import "github.com/Meulengracht/MollenOS-sub017/caller"

// spins before yielding the host thread; kernel cores may outnumber host
// cores
const spins = 64

type Spinlock_t struct {
	v uint32
}

func (l *Spinlock_t) Init() {
	atomic.StoreUint32(&l.v, 0)
}

func spin(n *int) {
	*n++
	if *n%spins == 0 {
		runtime.Gosched()
	}
}

func (l *Spinlock_t) Lock() {
	n := 0
	for !atomic.CompareAndSwapUint32(&l.v, 0, 1) {
		for atomic.LoadUint32(&l.v) != 0 {
			spin(&n)
		}
	}
}

func (l *Spinlock_t) Trylock() bool {
	return atomic.CompareAndSwapUint32(&l.v, 0, 1)
}

func (l *Spinlock_t) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.v, 1, 0) {
		caller.Kpanic("unlock of free spinlock")
	}
}

func (l *Spinlock_t) Held() bool {
	return atomic.LoadUint32(&l.v) != 0
}

// Rspinlock_t is a recursive spinlock. the state word packs the owner in the
// high half and the recursion count in the low half; a zero count is the
// unlocked state regardless of the owner bits.
type Rspinlock_t struct {
	st uint64
}

func rpack(owner int, cnt uint32) uint64 {
	return uint64(uint32(owner))<<32 | uint64(cnt)
}

func runpack(st uint64) (int, uint32) {
	return int(int32(st >> 32)), uint32(st)
}

func (l *Rspinlock_t) Trylock(owner int) bool {
	st := atomic.LoadUint64(&l.st)
	o, c := runpack(st)
	switch {
	case c == 0:
		return atomic.CompareAndSwapUint64(&l.st, st, rpack(owner, 1))
	case o == owner:
		if c == ^uint32(0) {
			caller.Kpanic("recursion overflow")
		}
		// only the owner changes a held lock
		atomic.StoreUint64(&l.st, rpack(owner, c+1))
		return true
	}
	return false
}

func (l *Rspinlock_t) Lock(owner int) {
	n := 0
	for !l.Trylock(owner) {
		spin(&n)
	}
}

// Unlock drops one level of recursion; the lock is free once the count
// reaches zero.
func (l *Rspinlock_t) Unlock(owner int) {
	st := atomic.LoadUint64(&l.st)
	o, c := runpack(st)
	if c == 0 {
		caller.Kpanic("unlock of free recursive spinlock")
	}
	if o != owner {
		caller.Kpanic("recursive spinlock owned by %v unlocked by %v", o, owner)
	}
	atomic.StoreUint64(&l.st, rpack(owner, c-1))
}

// Owner returns the holder and the recursion depth; depth 0 means free.
func (l *Rspinlock_t) Owner() (int, int) {
	o, c := runpack(atomic.LoadUint64(&l.st))
	if c == 0 {
		return 0, 0
	}
	return o, int(c)
}

type Irq_i interface {
	Intr_disable(core int) arch.Irqstate_t
	Intr_restore(core int, st arch.Irqstate_t)
}

// Irqguard_t is an interrupt-disabled section on one core, optionally
// holding a spinlock. Unlock restores the interrupt state saved when the
// guard was made.
type Irqguard_t struct {
	a    Irq_i
	core int
	st   arch.Irqstate_t
	l    *Spinlock_t
	done bool
}

// Irqlock disables interrupts on core, then acquires l
func Irqlock(l *Spinlock_t, a Irq_i, core int) *Irqguard_t {
	g := &Irqguard_t{a: a, core: core, l: l}
	g.st = a.Intr_disable(core)
	l.Lock()
	return g
}

// Irqoff disables interrupts on core without taking a lock
func Irqoff(a Irq_i, core int) *Irqguard_t {
	g := &Irqguard_t{a: a, core: core}
	g.st = a.Intr_disable(core)
	return g
}

func (g *Irqguard_t) Unlock() {
	if g.done {
		caller.Kpanic("irq guard released twice")
	}
	g.done = true
	if g.l != nil {
		g.l.Unlock()
	}
	g.a.Intr_restore(g.core, g.st)
}

// Critsect_t is a recursive spinlock that also disables interrupts on the
// owner's core. each Leave restores the state its Enter saved.
type Critsect_t struct {
	l    Rspinlock_t
	a    Irq_i
	core int
	// saved interrupt states, one per nesting level; owner only
	sts []arch.Irqstate_t
}

func (cs *Critsect_t) Init(a Irq_i) {
	cs.a = a
}

func (cs *Critsect_t) Enter(owner, core int) {
	st := cs.a.Intr_disable(core)
	cs.l.Lock(owner)
	cs.core = core
	cs.sts = append(cs.sts, st)
}

func (cs *Critsect_t) Leave(owner int) {
	if o, d := cs.l.Owner(); d == 0 || o != owner {
		caller.Kpanic("critical section left by %v, held by %v", owner, o)
	}
	n := len(cs.sts) - 1
	st, core := cs.sts[n], cs.core
	cs.sts = cs.sts[:n]
	cs.l.Unlock(owner)
	cs.a.Intr_restore(core, st)
}

func (cs *Critsect_t) Owner() (int, int) {
	return cs.l.Owner()
}
