package accnt

import "sync"
import "sync/atomic"
import "time"

type Accnt_t struct {
	// nanoseconds
	Runns  int64
	Waitns int64
	// number of times the thread was dispatched
	Nrun int64
	// start of the current run or wait interval
	since int64
	// for getting consistent snapshot of both times; not always needed
	sync.Mutex
}

func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

func (a *Accnt_t) runadd(delta int64) {
	atomic.AddInt64(&a.Runns, delta)
}

func (a *Accnt_t) waitadd(delta int64) {
	atomic.AddInt64(&a.Waitns, delta)
}

// Dispatched closes the wait interval and opens a run interval
func (a *Accnt_t) Dispatched() {
	now := a.Now()
	if s := atomic.LoadInt64(&a.since); s != 0 {
		a.waitadd(now - s)
	}
	atomic.AddInt64(&a.Nrun, 1)
	atomic.StoreInt64(&a.since, now)
}

// Descheduled closes the run interval and opens a wait interval
func (a *Accnt_t) Descheduled() {
	now := a.Now()
	if s := atomic.LoadInt64(&a.since); s != 0 {
		a.runadd(now - s)
	}
	atomic.StoreInt64(&a.since, now)
}

// Add folds the totals of n into a
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.runadd(atomic.LoadInt64(&n.Runns))
	a.waitadd(atomic.LoadInt64(&n.Waitns))
	atomic.AddInt64(&a.Nrun, atomic.LoadInt64(&n.Nrun))
	a.Unlock()
}

// Fetch returns run and wait time
func (a *Accnt_t) Fetch() (time.Duration, time.Duration) {
	a.Lock()
	r := atomic.LoadInt64(&a.Runns)
	w := atomic.LoadInt64(&a.Waitns)
	a.Unlock()
	return time.Duration(r), time.Duration(w)
}
