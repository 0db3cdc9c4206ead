package ksync

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

// Sem_t is a counting semaphore. a negative count is the number of threads
// waiting in P.
type Sem_t struct {
	lk      spinlock.Spinlock_t
	env     *Env_t
	count   int
	Creator defs.Tid_t
	key     defs.Waitkey_t
}

func (s *Sem_t) Init(env *Env_t, n int, creator defs.Tid_t) {
	if n < 0 {
		caller.Kpanic("semaphore with count %v", n)
	}
	s.env = env
	s.lk.Init()
	s.count = n
	s.Creator = creator
	s.key = env.Reg.Mkkey()
}

func (s *Sem_t) guard(t *tcb.Tcb_t) *spinlock.Irqguard_t {
	if s.env == nil {
		caller.Kpanic("semaphore not initialized")
	}
	return spinlock.Irqlock(&s.lk, s.env.Irq, t.Core)
}

// P takes one unit. a thread killed while it waits exits instead.
func (s *Sem_t) P(t *tcb.Tcb_t) {
	for {
		err := s.Ptimed(t, defs.FOREVER)
		if err == 0 {
			return
		}
		s.env.killed(t, err)
	}
}

// Ptimed takes one unit, sleeping at most ms for it. on -ETIMEDOUT or
// -EINTR nothing was taken.
func (s *Sem_t) Ptimed(t *tcb.Tcb_t, ms int) defs.Err_t {
	g := s.guard(t)
	s.count--
	if s.count >= 0 {
		g.Unlock()
		return 0
	}
	if ms == 0 {
		s.count++
		g.Unlock()
		return -defs.ETIMEDOUT
	}
	err := s.env.Reg.Prepareintr(t, s.key, ms, g.Unlock)
	if err == 0 {
		err = s.env.Reg.Commit(t)
	}
	if err != 0 {
		// a V that raced with the timeout found no one to wake; the unit
		// it added stays in the count.
		g = s.guard(t)
		s.count++
		g.Unlock()
	}
	return err
}

// V releases one unit and wakes a waiter if there is one
func (s *Sem_t) V(t *tcb.Tcb_t) {
	g := s.guard(t)
	old := s.count
	s.count++
	g.Unlock()
	if old < 0 {
		s.env.Reg.Wakeone(s.key)
	}
}

func (s *Sem_t) Count() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.count
}

// Waiters returns the number of threads asleep in P
func (s *Sem_t) Waiters() int {
	return s.env.Reg.Waiters(s.key)
}

// Destroy fails with -EBUSY while threads wait in P
func (s *Sem_t) Destroy() defs.Err_t {
	s.lk.Lock()
	busy := s.count < 0
	s.lk.Unlock()
	if busy {
		return -defs.EBUSY
	}
	s.env = nil
	return 0
}
