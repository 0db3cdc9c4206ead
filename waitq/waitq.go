package waitq

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

// Waitq_t is a wait queue handle for generic blocking, such as waiting on a
// set of handles: the caller checks its condition under its own spinlock and
// blocks with that lock released atomically.
type Waitq_t struct {
	r   *Waitreg_t
	key defs.Waitkey_t
}

func (r *Waitreg_t) Mkwaitq() *Waitq_t {
	return &Waitq_t{r: r, key: r.Mkkey()}
}

func (q *Waitq_t) Key() defs.Waitkey_t {
	return q.key
}

// Block sleeps on the queue for at most ms. lk must be held and is released
// once t is on the queue; it is not held on return.
func (q *Waitq_t) Block(t *tcb.Tcb_t, lk *spinlock.Spinlock_t, ms int) defs.Err_t {
	var unlock func()
	if lk != nil {
		unlock = lk.Unlock
	}
	if err := q.r.Prepare(t, q.key, ms, unlock); err != 0 {
		return err
	}
	return q.r.Commit(t)
}

// Unblock wakes the longest waiter
func (q *Waitq_t) Unblock() bool {
	return q.r.Wakeone(q.key)
}

func (q *Waitq_t) Unblockall() int {
	return q.r.Wakeall(q.key)
}

func (q *Waitq_t) Waiters() int {
	return q.r.Waiters(q.key)
}
