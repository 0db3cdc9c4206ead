package ksync

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

// Cond_t is a condition variable; it has no state beyond its wait key and
// is always used with a mutex the waiter holds.
type Cond_t struct {
	env *Env_t
	key defs.Waitkey_t
}

func (c *Cond_t) Init(env *Env_t) {
	c.env = env
	c.key = env.Reg.Mkkey()
}

func (c *Cond_t) Wait(t *tcb.Tcb_t, m *Mutex_t) defs.Err_t {
	return c.Timedwait(t, m, defs.FOREVER)
}

// Timedwait releases m, sleeps for at most ms and takes m back before
// returning, whatever the result. the release happens after t is on the
// wait set, so a Signal sent after the caller saw m released wakes it.
func (c *Cond_t) Timedwait(t *tcb.Tcb_t, m *Mutex_t, ms int) defs.Err_t {
	if c.env == nil {
		caller.Kpanic("condition not initialized")
	}
	var n int
	err := c.env.Reg.Prepareintr(t, c.key, ms, func() {
		n = m.release(t)
	})
	if err == 0 {
		err = c.env.Reg.Commit(t)
	}
	m.reacquire(t, n)
	return err
}

func (c *Cond_t) Signal() bool {
	return c.env.Reg.Wakeone(c.key)
}

func (c *Cond_t) Broadcast() int {
	return c.env.Reg.Wakeall(c.key)
}

func (c *Cond_t) Waiters() int {
	return c.env.Reg.Waiters(c.key)
}
