package ksync_test

import "fmt"
import "sync/atomic"
import "testing"
import "time"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/kernel"
import "github.com/Meulengracht/MollenOS-sub017/ksync"
import "github.com/Meulengracht/MollenOS-sub017/limits"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

func boot(t *testing.T, ncores int) *kernel.Kernel_t {
	conf := kernel.Defconfig()
	conf.Ncores = ncores
	conf.Limits = limits.MkSysLimit()
	k := kernel.Mkkernel(conf)
	if err := k.Boot(); err != 0 {
		t.Fatalf("boot: %v", err)
	}
	return k
}

func spawn(t *testing.T, k *kernel.Kernel_t, f func(*tcb.Tcb_t)) defs.Tid_t {
	tid, err := k.Create(func(th *tcb.Tcb_t, _ interface{}) {
		f(th)
	}, nil, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	return tid
}

func recv(t *testing.T, ch chan string, n int) {
	for i := 0; i < n; i++ {
		select {
		case s := <-ch:
			if s != "" {
				t.Fatalf("%s", s)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out after %v of %v", i, n)
		}
	}
}

func panics(f func()) (p bool) {
	defer func() {
		p = recover() != nil
	}()
	f()
	return false
}

func TestMutex(t *testing.T) {
	k := boot(t, 1)
	defer k.Shutdown()
	var m ksync.Mutex_t
	m.Init(k.Env)
	held := make(chan bool, 1)
	release := make(chan bool, 1)
	ch := make(chan string, 2)
	owner := spawn(t, k, func(th *tcb.Tcb_t) {
		m.Lock(th)
		m.Lock(th)
		held <- true
		for {
			select {
			case <-release:
				m.Unlock(th)
				m.Unlock(th)
				ch <- ""
				return
			default:
				k.Sleep(th, 1)
			}
		}
	})
	<-held
	if o, n := m.Owner(); o != owner || n != 2 {
		t.Fatalf("owner %v depth %v", o, n)
	}
	if m.Destroy() != -defs.EBUSY {
		t.Fatalf("destroyed a held mutex")
	}
	spawn(t, k, func(th *tcb.Tcb_t) {
		if m.Trylock(th) {
			ch <- "trylock of a held mutex"
			return
		}
		start := time.Now()
		if err := m.Timedlock(th, 30); err != -defs.ETIMEDOUT {
			ch <- fmt.Sprintf("timedlock %v", err)
			return
		}
		if time.Since(start) < 20*time.Millisecond {
			ch <- "timedlock gave up early"
			return
		}
		if err := m.Timedlock(th, 0); err != -defs.ETIMEDOUT {
			ch <- fmt.Sprintf("polling timedlock %v", err)
			return
		}
		if !panics(func() { m.Unlock(th) }) {
			ch <- "unlock by a non-owner"
			return
		}
		release <- true
		if err := m.Timedlock(th, 1000); err != 0 {
			ch <- fmt.Sprintf("timedlock after release %v", err)
			return
		}
		m.Unlock(th)
		ch <- ""
	})
	recv(t, ch, 2)
	if _, n := m.Owner(); n != 0 {
		t.Fatalf("mutex held")
	}
	if m.Destroy() != 0 {
		t.Fatalf("destroy")
	}
}

// at most 3 threads hold a semaphore of 3 at once
func TestSemLimit(t *testing.T) {
	k := boot(t, 2)
	defer k.Shutdown()
	var s ksync.Sem_t
	s.Init(k.Env, 3, 0)
	var inside, max int32
	ch := make(chan string, 8)
	for i := 0; i < 8; i++ {
		spawn(t, k, func(th *tcb.Tcb_t) {
			for j := 0; j < 200; j++ {
				s.P(th)
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&max)
					if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
						break
					}
				}
				k.Yield(th)
				atomic.AddInt32(&inside, -1)
				s.V(th)
			}
			ch <- ""
		})
	}
	recv(t, ch, 8)
	if max > 3 || max < 1 {
		t.Fatalf("%v holders at once", max)
	}
	if s.Count() != 3 || s.Waiters() != 0 {
		t.Fatalf("count %v waiters %v", s.Count(), s.Waiters())
	}
	if s.Destroy() != 0 {
		t.Fatalf("destroy")
	}
}

// while threads are parked in P the count is minus the number of waiters
func TestSemWaiters(t *testing.T) {
	k := boot(t, 2)
	defer k.Shutdown()
	var s ksync.Sem_t
	s.Init(k.Env, 0, 0)
	ch := make(chan string, 4)
	for i := 0; i < 3; i++ {
		spawn(t, k, func(th *tcb.Tcb_t) {
			s.P(th)
			ch <- ""
		})
	}
	deadline := time.Now().Add(10 * time.Second)
	for s.Waiters() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("waiters %v", s.Waiters())
		}
		time.Sleep(time.Millisecond)
	}
	if s.Count() != -3 {
		t.Fatalf("count %v with 3 waiters", s.Count())
	}
	if s.Destroy() != -defs.EBUSY {
		t.Fatalf("destroyed with waiters")
	}
	spawn(t, k, func(th *tcb.Tcb_t) {
		for i := 0; i < 3; i++ {
			s.V(th)
		}
		ch <- ""
	})
	recv(t, ch, 4)
	if s.Count() != 0 || s.Waiters() != 0 {
		t.Fatalf("count %v waiters %v", s.Count(), s.Waiters())
	}
}

func TestSemTimeout(t *testing.T) {
	k := boot(t, 1)
	defer k.Shutdown()
	var s ksync.Sem_t
	s.Init(k.Env, 0, 0)
	ch := make(chan string, 1)
	spawn(t, k, func(th *tcb.Tcb_t) {
		if err := s.Ptimed(th, 0); err != -defs.ETIMEDOUT {
			ch <- fmt.Sprintf("poll %v", err)
			return
		}
		if err := s.Ptimed(th, 20); err != -defs.ETIMEDOUT {
			ch <- fmt.Sprintf("timed P %v", err)
			return
		}
		if s.Count() != 0 {
			ch <- fmt.Sprintf("count %v after timeouts", s.Count())
			return
		}
		ch <- ""
	})
	recv(t, ch, 1)
}

func TestCondProducerConsumer(t *testing.T) {
	k := boot(t, 2)
	defer k.Shutdown()
	var m ksync.Mutex_t
	var c ksync.Cond_t
	m.Init(k.Env)
	c.Init(k.Env)
	const n = 500
	var q []int
	ch := make(chan string, 2)
	spawn(t, k, func(th *tcb.Tcb_t) {
		for i := 0; i < n; i++ {
			m.Lock(th)
			for len(q) == 0 {
				c.Wait(th, &m)
			}
			v := q[0]
			q = q[1:]
			m.Unlock(th)
			if v != i {
				ch <- fmt.Sprintf("got %v, want %v", v, i)
				return
			}
		}
		ch <- ""
	})
	spawn(t, k, func(th *tcb.Tcb_t) {
		for i := 0; i < n; i++ {
			m.Lock(th)
			q = append(q, i)
			c.Signal()
			m.Unlock(th)
			k.Preempt(th)
		}
		ch <- ""
	})
	recv(t, ch, 2)
}

func TestCondTimedwait(t *testing.T) {
	k := boot(t, 1)
	defer k.Shutdown()
	var m ksync.Mutex_t
	var c ksync.Cond_t
	m.Init(k.Env)
	c.Init(k.Env)
	ch := make(chan string, 1)
	spawn(t, k, func(th *tcb.Tcb_t) {
		m.Lock(th)
		m.Lock(th)
		err := c.Timedwait(th, &m, 20)
		o, d := m.Owner()
		switch {
		case err != -defs.ETIMEDOUT:
			ch <- fmt.Sprintf("timedwait %v", err)
		case o != th.Tid || d != 2:
			ch <- fmt.Sprintf("mutex %v/%v after wait", o, d)
		case c.Waiters() != 0:
			ch <- "waiter left behind"
		default:
			m.Unlock(th)
			m.Unlock(th)
			ch <- ""
		}
	})
	recv(t, ch, 1)
}

// a waiter releases the mutex while it sleeps
func TestCondReleases(t *testing.T) {
	k := boot(t, 1)
	defer k.Shutdown()
	var m ksync.Mutex_t
	var c ksync.Cond_t
	m.Init(k.Env)
	c.Init(k.Env)
	ready := false
	ch := make(chan string, 2)
	spawn(t, k, func(th *tcb.Tcb_t) {
		m.Lock(th)
		for !ready {
			c.Wait(th, &m)
		}
		m.Unlock(th)
		ch <- ""
	})
	spawn(t, k, func(th *tcb.Tcb_t) {
		for c.Waiters() == 0 {
			k.Sleep(th, 1)
		}
		if !m.Trylock(th) {
			ch <- "mutex held by a waiter"
			return
		}
		ready = true
		c.Broadcast()
		m.Unlock(th)
		ch <- ""
	})
	recv(t, ch, 2)
}
