// Package ksync has the sleeping locks: mutex, counting semaphore and
// condition variable. each guards its own state with a spinlock taken with
// interrupts off and sleeps through the wait registry.
package ksync

import "time"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/tcb"
import "github.com/Meulengracht/MollenOS-sub017/waitq"

// Env_t is what a primitive needs from the kernel
type Env_t struct {
	Reg *waitq.Waitreg_t
	Irq spinlock.Irq_i
	// Exit ends a killed thread that cannot wait any longer; it does not
	// return
	Exit func(*tcb.Tcb_t)
}

// killed ends t if err is the interruption of a kill
func (env *Env_t) killed(t *tcb.Tcb_t, err defs.Err_t) {
	if err == -defs.EINTR && t.Killed() {
		env.Exit(t)
		caller.Kpanic("killed %v returned from exit", t)
	}
}

// left returns what remains of a timeout of ms started at start
func left(start time.Time, ms int) int {
	if ms < 0 {
		return ms
	}
	l := ms - int(time.Since(start)/time.Millisecond)
	if l < 0 {
		l = 0
	}
	return l
}

// Mutex_t is a recursive sleeping lock. cnt == 0 is the unlocked state;
// owner is only meaningful while cnt > 0.
type Mutex_t struct {
	lk    spinlock.Spinlock_t
	env   *Env_t
	owner defs.Tid_t
	cnt   int
	key   defs.Waitkey_t
}

func (m *Mutex_t) Init(env *Env_t) {
	m.env = env
	m.lk.Init()
	m.owner = 0
	m.cnt = 0
	m.key = env.Reg.Mkkey()
}

func (m *Mutex_t) guard(t *tcb.Tcb_t) *spinlock.Irqguard_t {
	if m.env == nil {
		caller.Kpanic("mutex not initialized")
	}
	return spinlock.Irqlock(&m.lk, m.env.Irq, t.Core)
}

// take acquires m for t if possible; the mutex lock is held
func (m *Mutex_t) take(t *tcb.Tcb_t) bool {
	switch {
	case m.cnt == 0:
		m.owner = t.Tid
		m.cnt = 1
	case m.owner == t.Tid:
		m.cnt++
	default:
		return false
	}
	return true
}

// Lock acquires m. a thread killed while it waits exits instead.
func (m *Mutex_t) Lock(t *tcb.Tcb_t) {
	for {
		err := m.Timedlock(t, defs.FOREVER)
		if err == 0 {
			return
		}
		m.env.killed(t, err)
	}
}

// Timedlock acquires m, sleeping at most ms. it returns -ETIMEDOUT when the
// time ran out and -EINTR when t was killed.
func (m *Mutex_t) Timedlock(t *tcb.Tcb_t, ms int) defs.Err_t {
	start := time.Now()
	for {
		g := m.guard(t)
		if m.take(t) {
			g.Unlock()
			return 0
		}
		l := left(start, ms)
		if l == 0 {
			g.Unlock()
			return -defs.ETIMEDOUT
		}
		if err := m.env.Reg.Prepareintr(t, m.key, l, g.Unlock); err != 0 {
			return err
		}
		switch err := m.env.Reg.Commit(t); err {
		case 0, -defs.ETIMEDOUT:
			// retry once more; the unlocker may have released it to us
		default:
			return err
		}
	}
}

func (m *Mutex_t) Trylock(t *tcb.Tcb_t) bool {
	g := m.guard(t)
	ok := m.take(t)
	g.Unlock()
	return ok
}

// Unlock drops one level of recursion. the last one wakes a waiter.
func (m *Mutex_t) Unlock(t *tcb.Tcb_t) {
	g := m.guard(t)
	if m.cnt == 0 {
		g.Unlock()
		caller.Kpanic("unlock of free mutex by %v", t)
	}
	if m.owner != t.Tid {
		o := m.owner
		g.Unlock()
		caller.Kpanic("mutex owned by %v unlocked by %v", o, t)
	}
	m.cnt--
	free := m.cnt == 0
	if free {
		m.owner = 0
	}
	g.Unlock()
	if free {
		m.env.Reg.Wakeone(m.key)
	}
}

// release fully unlocks m for a condition wait and returns the recursion
// depth to restore.
func (m *Mutex_t) release(t *tcb.Tcb_t) int {
	g := m.guard(t)
	if m.cnt == 0 || m.owner != t.Tid {
		g.Unlock()
		caller.Kpanic("condition wait by %v without the mutex", t)
	}
	n := m.cnt
	m.cnt = 0
	m.owner = 0
	g.Unlock()
	m.env.Reg.Wakeone(m.key)
	return n
}

func (m *Mutex_t) reacquire(t *tcb.Tcb_t, n int) {
	m.Lock(t)
	g := m.guard(t)
	m.cnt = n
	g.Unlock()
}

// Waiters returns the number of threads asleep in Lock
func (m *Mutex_t) Waiters() int {
	return m.env.Reg.Waiters(m.key)
}

// Owner returns the holder and recursion depth; depth 0 means free
func (m *Mutex_t) Owner() (defs.Tid_t, int) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.cnt == 0 {
		return 0, 0
	}
	return m.owner, m.cnt
}

// Destroy fails with -EBUSY while the mutex is held or waited on
func (m *Mutex_t) Destroy() defs.Err_t {
	m.lk.Lock()
	busy := m.cnt != 0
	m.lk.Unlock()
	if busy || m.env.Reg.Waiters(m.key) != 0 {
		return -defs.EBUSY
	}
	m.env = nil
	return 0
}
