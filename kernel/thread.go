package kernel

import "fmt"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"
import "github.com/Meulengracht/MollenOS-sub017/waitq"

type Attr_t struct {
	Name  string
	Flags defs.Tflags_t
	// -1 picks the level from the flags
	Level int
	// -1 picks the least loaded core
	Core   int
	Parent defs.Tid_t
	Pid    int
}

// mkthread allocates a thread record and its memory and enters it in the
// thread table. nothing is left allocated on failure.
func (k *Kernel_t) mkthread(name string, flags defs.Tflags_t, level int,
	parent defs.Tid_t) (*tcb.Tcb_t, defs.Err_t) {
	lim := k.conf.Limits
	if !lim.Systhreads.Take() {
		k.Stats.Nomem.Inc()
		return nil, -defs.ENOMEM
	}
	mem, err := k.arch.Alloc(TCBSZ)
	if err != 0 {
		lim.Systhreads.Give()
		k.Stats.Nomem.Inc()
		return nil, err
	}
	t, err := k.arena.Alloc()
	if err != 0 {
		k.arch.Free(mem)
		lim.Systhreads.Give()
		k.Stats.Nomem.Inc()
		return nil, err
	}
	t.Mem = mem
	t.Tid = defs.Tid_t(atomic.AddInt64(&k.nexttid, 1))
	t.Name = name
	t.Parent = parent
	t.Level = level
	t.Setflag(flags)
	t.Joinkey = k.Reg.Mkkey()
	t.Selfkey = k.Reg.Mkkey()
	if _, ok := k.threads.Set(t); !ok {
		caller.Kpanic("tid %v reused", t.Tid)
	}
	return t, 0
}

// unmkthread undoes mkthread
func (k *Kernel_t) unmkthread(t *tcb.Tcb_t) {
	k.threads.Del(t.Tid)
	mem := t.Mem
	k.arena.Free(t.Ref)
	k.arch.Free(mem)
	k.conf.Limits.Systhreads.Give()
}

// place returns the core with the least bandwidth, lowest id first
func (k *Kernel_t) place() int {
	best := 0
	for i, c := range k.Cpus {
		if c.Sched.Bandwidth() < k.Cpus[best].Sched.Bandwidth() {
			best = i
		}
	}
	return best
}

// Spawn creates a thread that runs entry(t, arg) and makes it ready
func (k *Kernel_t) Spawn(attr Attr_t, entry func(*tcb.Tcb_t, interface{}),
	arg interface{}) (defs.Tid_t, defs.Err_t) {
	if entry == nil {
		return 0, -defs.EINVAL
	}
	if atomic.LoadInt32(&k.booted) == 0 {
		caller.Kpanic("spawn before boot")
	}
	level := attr.Level
	switch {
	case level == -1 && attr.Flags&defs.TF_SYSTEM != 0:
		level = defs.LEVEL_MAX
	case level == -1:
		level = k.conf.Deflevel
	case level < defs.LEVEL_MIN || level > defs.LEVEL_MAX:
		return 0, -defs.EINVAL
	}
	if attr.Core < -1 || attr.Core >= len(k.Cpus) {
		return 0, -defs.EINVAL
	}
	if attr.Flags&defs.TF_IDLE != 0 {
		return 0, -defs.EINVAL
	}
	name := attr.Name
	if name == "" {
		name = "thread"
	}

	t, err := k.mkthread(name, attr.Flags, level, attr.Parent)
	if err != 0 {
		return 0, err
	}
	t.Pid = attr.Pid
	t.Entry = entry
	t.Arg = arg
	t.Ctx, err = k.arch.Mkcontext(func() { k.trampoline(t) })
	if err != 0 {
		k.unmkthread(t)
		k.Stats.Nomem.Inc()
		return 0, err
	}

	core := attr.Core
	if core == -1 {
		core = k.place()
	}
	c := k.Cpus[core]
	c.Sched.Admit(t)
	t.Must(tcb.EV_QUEUE)
	tid := t.Tid
	if c.Sched.Ready(t) {
		k.arch.Wakecore(core)
	}
	k.Stats.Creates.Inc()
	if Verbose {
		fmt.Printf("kernel: spawned %v on core %v at %v\n", t, core, level)
	}
	return tid, 0
}

// Create spawns an unnamed thread with the default placement; system
// threads start at the top level, others at the configured level.
func (k *Kernel_t) Create(entry func(*tcb.Tcb_t, interface{}), arg interface{},
	flags defs.Tflags_t) (defs.Tid_t, defs.Err_t) {
	return k.Spawn(Attr_t{Flags: flags, Level: -1, Core: -1}, entry, arg)
}

// the first code a thread runs
func (k *Kernel_t) trampoline(t *tcb.Tcb_t) {
	k.arch.Intr_restore(t.Core, 0)
	entry, arg := t.Entry, t.Arg
	t.Entry, t.Arg = nil, nil
	entry(t, arg)
	k.Exit(t, 0)
}

// Exit ends the calling thread t. the record stays on the zombie list until
// the reaper frees it.
func (k *Kernel_t) Exit(t *tcb.Tcb_t, code int) {
	if t.Hasflag(defs.TF_IDLE) {
		caller.Kpanic("idle thread exits")
	}
	if k.Atomic(t) {
		caller.Kpanic("%v exits with interrupts off", t)
	}
	t.Exitcode = code
	t.Setflag(defs.TF_FINISHED)
	t.Acct.Descheduled()

	k.zlk.Lock()
	t.Must(tcb.EV_EXIT)
	k.zombies.Push(t)
	k.zlk.Unlock()

	k.Reg.Wakeall(t.Joinkey)
	k.reapsem.V(t)
	k.Stats.Exits.Inc()
	if Verbose {
		fmt.Printf("kernel: %v exits %v\n", t, code)
	}
	k.schedule(k.cpu(t.Core), t, false)
	caller.Kpanic("zombie %v scheduled", t)
}

// Yield gives up the core; t keeps its level
func (k *Kernel_t) Yield(t *tcb.Tcb_t) {
	k.Preemptcheck(t)
	k.schedule(k.cpu(t.Core), t, false)
}

// Preempt is a preemption point: it switches away from t if its core asked
// for a reschedule, and exits t if it was killed.
func (k *Kernel_t) Preempt(t *tcb.Tcb_t) {
	k.Preemptcheck(t)
	c := k.cpu(t.Core)
	if c.Sched.Takeresched() {
		k.schedule(c, t, true)
	}
}

// Preemptcheck exits t if it was killed
func (k *Kernel_t) Preemptcheck(t *tcb.Tcb_t) {
	if t.Killed() && k.arch.Intr_enabled(t.Core) {
		k.Exit(t, t.Killcode())
	}
}

// Sleep puts t to sleep for ms. it returns early with -EINTR if t is
// killed.
func (k *Kernel_t) Sleep(t *tcb.Tcb_t, ms int) defs.Err_t {
	if ms <= 0 {
		k.Yield(t)
		return 0
	}
	err := k.Reg.Sleeptimed(t, t.Selfkey, ms)
	if err == -defs.ETIMEDOUT {
		err = 0
	}
	return err
}

// Join waits for tid to exit and returns its exit code
func (k *Kernel_t) Join(t *tcb.Tcb_t, tid defs.Tid_t) (int, defs.Err_t) {
	target, ok := k.Lookup(tid)
	if !ok {
		return 0, -defs.ESRCH
	}
	if target == t {
		return 0, -defs.EDEADLK
	}
	if target.Hasflag(defs.TF_DETACHED) || target.Hasflag(defs.TF_IDLE) {
		return 0, -defs.EINVAL
	}
	for {
		err := k.Reg.Prepareif(t, target.Joinkey, defs.FOREVER,
			func(*waitq.Held_t) defs.Err_t {
				switch {
				case target.Hasflag(defs.TF_FINISHED):
					return -defs.EAGAIN
				case target.Hasflag(defs.TF_DETACHED):
					return -defs.EINVAL
				case t.Killed():
					return -defs.EINTR
				}
				return 0
			})
		if err == -defs.EAGAIN {
			return target.Exitcode, 0
		}
		if err != 0 {
			return 0, err
		}
		if err := k.Reg.Commit(t); err != 0 {
			return 0, err
		}
	}
}

// Detach marks tid as not joinable
func (k *Kernel_t) Detach(tid defs.Tid_t) defs.Err_t {
	t, ok := k.Lookup(tid)
	if !ok {
		return -defs.ESRCH
	}
	t.Setflag(defs.TF_DETACHED)
	k.Reg.Wakeall(t.Joinkey)
	return 0
}

// Kill marks tid killed with code. a sleeping target wakes with -EINTR;
// the target exits at its next preemption point.
func (k *Kernel_t) Kill(tid defs.Tid_t, code int) defs.Err_t {
	t, ok := k.Lookup(tid)
	if !ok {
		return -defs.ESRCH
	}
	if t.Hasflag(defs.TF_IDLE) || tid == k.Reaper {
		return -defs.EPERM
	}
	if t.Hasflag(defs.TF_FINISHED) {
		return -defs.ESRCH
	}
	if !t.Kill(code) {
		return 0
	}
	k.Stats.Kills.Inc()
	k.Reg.Expedite(t, -defs.EINTR)
	return 0
}
