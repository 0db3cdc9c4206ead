// Package waitq is the wait registry: it maps a wait key to the FIFO set of
// threads sleeping on it. every blocking primitive sleeps and wakes through
// it.
//
// a sleep has two phases. Prepare puts the thread on the wait set and marks
// it BLOCKING while the registry lock is held, then drops the caller's own
// lock. Commit switches away. a wake that lands between the two turns the
// thread back into RUNNING and Commit returns at once, so no wake is lost.
//
// lock order: primitive lock, then the registry lock, then a scheduler lock.
package waitq

import "fmt"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/stats"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

var Verbose = false

// Sched_i is what the registry needs from the scheduler
type Sched_i interface {
	// Block switches away from t, which is running and BLOCKING
	Block(t *tcb.Tcb_t)
	// Wakeup readies t, whose wait just ended
	Wakeup(t *tcb.Tcb_t)
	// Arm times out the sleep seq of t after ms
	Arm(t *tcb.Tcb_t, ms int, seq uint64)
	// Atomic reports whether t may not sleep
	Atomic(t *tcb.Tcb_t) bool
}

type Regstats_t struct {
	Sleeps    stats.Counter_t
	Wakes     stats.Counter_t
	Timeouts  stats.Counter_t
	Expedites stats.Counter_t
	Polls     stats.Counter_t
}

type Waitreg_t struct {
	lk      spinlock.Spinlock_t
	sets    map[defs.Waitkey_t]*tcb.Tlist_t
	s       Sched_i
	nextkey uint64
	// futex words with waiters, and the limit
	naddr   int
	maxaddr int
	Stats   Regstats_t
}

// Mkreg makes a registry that sleeps through s. maxaddr bounds the number
// of distinct address keys with waiters.
func Mkreg(s Sched_i, maxaddr int) *Waitreg_t {
	r := &Waitreg_t{s: s, maxaddr: maxaddr}
	r.sets = make(map[defs.Waitkey_t]*tcb.Tlist_t)
	return r
}

// Mkkey returns a fresh object key
func (r *Waitreg_t) Mkkey() defs.Waitkey_t {
	v := atomic.AddUint64(&r.nextkey, 1)
	return defs.Waitkey_t{Kind: defs.KEY_OBJ, V: uintptr(v)}
}

// enqueue puts t on the set for key. ms == 0 polls: t is not queued and the
// sleep reports a timeout. the registry lock is held.
func (r *Waitreg_t) enqueue(t *tcb.Tcb_t, key defs.Waitkey_t, ms int) defs.Err_t {
	caller.Kassert(!key.Isnone(), "sleep on the zero key")
	if !t.Sleepkey.Isnone() {
		caller.Kpanic("%v already sleeps on %v", t, t.Sleepkey)
	}
	t.Waitseq++
	if ms == 0 {
		t.Wakeres = -defs.ETIMEDOUT
		r.Stats.Polls.Inc()
		return 0
	}
	set, ok := r.sets[key]
	if !ok {
		if key.Kind == defs.KEY_ADDR {
			if r.naddr >= r.maxaddr {
				return -defs.ENOMEM
			}
			r.naddr++
		}
		set = &tcb.Tlist_t{}
		r.sets[key] = set
	}
	t.Wakeres = 0
	t.Must(tcb.EV_BLOCK)
	t.Sleepkey = key
	set.Push(t)
	if ms > 0 {
		r.s.Arm(t, ms, t.Waitseq)
	}
	r.Stats.Sleeps.Inc()
	if Verbose {
		fmt.Printf("waitq: %v sleeps on %v\n", t, key)
	}
	return 0
}

// wake1 takes t off its set and readies it with res. the registry lock is
// held.
func (r *Waitreg_t) wake1(t *tcb.Tcb_t, res defs.Err_t) {
	key := t.Sleepkey
	set, ok := r.sets[key]
	if !ok {
		caller.Kpanic("%v sleeps on %v, which has no set", t, key)
	}
	set.Remove(t)
	if set.Empty() {
		delete(r.sets, key)
		if key.Kind == defs.KEY_ADDR {
			r.naddr--
		}
	}
	t.Sleepkey = defs.Waitkey_t{}
	t.Wakeres = res
	r.s.Wakeup(t)
}

func (r *Waitreg_t) wake(key defs.Waitkey_t, n int) int {
	set, ok := r.sets[key]
	if !ok {
		return 0
	}
	woke := 0
	for n < 0 || woke < n {
		t := set.Head()
		if t == nil {
			break
		}
		r.wake1(t, 0)
		woke++
	}
	r.Stats.Wakes.Add(int64(woke))
	return woke
}

// Prepare is the first phase of a sleep: t goes on the set for key, a timer
// is armed if ms > 0, and then unlock runs with the registry lock released.
// ms == FOREVER never times out; ms == 0 only polls. unlock runs even when
// an error is returned.
func (r *Waitreg_t) Prepare(t *tcb.Tcb_t, key defs.Waitkey_t, ms int,
	unlock func()) defs.Err_t {
	r.lk.Lock()
	err := r.enqueue(t, key, ms)
	r.lk.Unlock()
	if unlock != nil {
		unlock()
	}
	return err
}

// Prepareintr is Prepare for a sleep that a kill ends: if t was already
// killed it is not queued and -EINTR is returned. the check is made under
// the registry lock, so a kill either stops the sleep here or finds t on
// its set and wakes it.
func (r *Waitreg_t) Prepareintr(t *tcb.Tcb_t, key defs.Waitkey_t, ms int,
	unlock func()) defs.Err_t {
	r.lk.Lock()
	err := defs.Err_t(-defs.EINTR)
	if !t.Killed() {
		err = r.enqueue(t, key, ms)
	}
	r.lk.Unlock()
	if unlock != nil {
		unlock()
	}
	return err
}

// Held_t is the registry with its lock held
type Held_t struct {
	r *Waitreg_t
}

// Wake wakes up to n threads on key, all of them if n < 0
func (h *Held_t) Wake(key defs.Waitkey_t, n int) int {
	return h.r.wake(key, n)
}

func (h *Held_t) Waiters(key defs.Waitkey_t) int {
	return h.r.waiters(key)
}

// Prepareif runs check under the registry lock and prepares the sleep only
// if check returns 0; otherwise its error is returned and t stays runnable.
func (r *Waitreg_t) Prepareif(t *tcb.Tcb_t, key defs.Waitkey_t, ms int,
	check func(*Held_t) defs.Err_t) defs.Err_t {
	return r.Prepareop(t, key, ms, check, nil)
}

// Prepareop is Prepareif with a second hook: queued runs under the same
// registry lock once t is on the set for key. it does not run for a poll
// or when t could not be queued.
func (r *Waitreg_t) Prepareop(t *tcb.Tcb_t, key defs.Waitkey_t, ms int,
	check func(*Held_t) defs.Err_t, queued func(*Held_t)) defs.Err_t {
	r.lk.Lock()
	defer r.lk.Unlock()
	h := &Held_t{r}
	if err := check(h); err != 0 {
		return err
	}
	err := r.enqueue(t, key, ms)
	if err == 0 && ms != 0 && queued != nil {
		queued(h)
	}
	return err
}

// Locked runs f with the registry lock held
func (r *Waitreg_t) Locked(f func(*Held_t)) {
	r.lk.Lock()
	f(&Held_t{r})
	r.lk.Unlock()
}

// Commit is the second phase of a sleep. it returns 0 when woken,
// -ETIMEDOUT when the timer fired first or the sleep was a poll, and the
// error given to Expedite otherwise.
func (r *Waitreg_t) Commit(t *tcb.Tcb_t) defs.Err_t {
	if r.s.Atomic(t) {
		caller.Kpanic("%v: sleep while atomic", t)
	}
	switch st := t.State(); st {
	case tcb.ST_RUNNING:
	case tcb.ST_BLOCKING:
		r.s.Block(t)
	default:
		caller.Kpanic("commit of %v in state %v", t, st)
	}
	return t.Wakeres
}

// Sleep blocks t on key until woken
func (r *Waitreg_t) Sleep(t *tcb.Tcb_t, key defs.Waitkey_t) defs.Err_t {
	return r.Sleeptimed(t, key, defs.FOREVER)
}

// Sleeptimed blocks t on key for at most ms
func (r *Waitreg_t) Sleeptimed(t *tcb.Tcb_t, key defs.Waitkey_t, ms int) defs.Err_t {
	if r.s.Atomic(t) {
		caller.Kpanic("%v: sleep while atomic", t)
	}
	if err := r.Prepare(t, key, ms, nil); err != 0 {
		return err
	}
	return r.Commit(t)
}

// Wakeone wakes the longest sleeper on key
func (r *Waitreg_t) Wakeone(key defs.Waitkey_t) bool {
	return r.Wake(key, 1) == 1
}

func (r *Waitreg_t) Wakeall(key defs.Waitkey_t) int {
	return r.Wake(key, -1)
}

// Wake wakes up to n sleepers on key in FIFO order, all of them if n < 0,
// and returns how many it woke.
func (r *Waitreg_t) Wake(key defs.Waitkey_t, n int) int {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.wake(key, n)
}

// Timeout ends the sleep seq of t with -ETIMEDOUT. it does nothing if that
// sleep already ended.
func (r *Waitreg_t) Timeout(t *tcb.Tcb_t, seq uint64) bool {
	r.lk.Lock()
	defer r.lk.Unlock()
	if t.Sleepkey.Isnone() || t.Waitseq != seq {
		return false
	}
	r.Stats.Timeouts.Inc()
	r.wake1(t, -defs.ETIMEDOUT)
	return true
}

// Expedite ends the sleep of t, if any, with err
func (r *Waitreg_t) Expedite(t *tcb.Tcb_t, err defs.Err_t) bool {
	r.lk.Lock()
	defer r.lk.Unlock()
	if t.Sleepkey.Isnone() {
		return false
	}
	r.Stats.Expedites.Inc()
	r.wake1(t, err)
	return true
}

func (r *Waitreg_t) waiters(key defs.Waitkey_t) int {
	if set, ok := r.sets[key]; ok {
		return set.Len()
	}
	return 0
}

// Waiters returns the number of threads sleeping on key
func (r *Waitreg_t) Waiters(key defs.Waitkey_t) int {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.waiters(key)
}

// Nsets returns the number of keys with sleepers
func (r *Waitreg_t) Nsets() int {
	r.lk.Lock()
	defer r.lk.Unlock()
	return len(r.sets)
}
