// Package kernel ties the per-core schedulers, the wait registry and the
// architecture layer together: it boots the cores, dispatches threads, runs
// the idle loops and the reaper, and owns the thread table.
package kernel

import "fmt"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/accnt"
import "github.com/Meulengracht/MollenOS-sub017/arch"
import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/futex"
import "github.com/Meulengracht/MollenOS-sub017/hashtable"
import "github.com/Meulengracht/MollenOS-sub017/ksync"
import "github.com/Meulengracht/MollenOS-sub017/limits"
import "github.com/Meulengracht/MollenOS-sub017/sched"
import "github.com/Meulengracht/MollenOS-sub017/schedtrace"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/stats"
import "github.com/Meulengracht/MollenOS-sub017/tcb"
import "github.com/Meulengracht/MollenOS-sub017/waitq"

var Verbose = false

// bytes charged to the allocator per thread control block
const TCBSZ = 1 << 10

type Config_t struct {
	Ncores int
	// level of threads that are not system threads
	Deflevel int
	Tickms   int
	// aging period; 0 disables aging
	Boostms int
	// the reaper's fallback poll period
	Reaperms int
	// arena size
	Maxthreads int
	Limits     *limits.Syslimit_t
	// nil selects a hosted machine with Ncores cores
	Arch arch.Arch_i
	// optional dispatch trace
	Trace *schedtrace.Trace_t
	// called when a thread that owns a process is reaped
	Procreclaim func(pid int)
}

func Defconfig() Config_t {
	return Config_t{
		Ncores:     1,
		Deflevel:   defs.LEVEL_DEFAULT,
		Tickms:     defs.TICK_MS,
		Boostms:    defs.BOOST_MS,
		Reaperms:   defs.REAP_MS,
		Maxthreads: 1 << 14,
		Limits:     limits.Syslimit,
	}
}

type Cpu_t struct {
	Id    int
	Sched *sched.Sched_t
	idle  *tcb.Tcb_t
}

type Kstats_t struct {
	Creates stats.Counter_t
	Exits   stats.Counter_t
	Reaped  stats.Counter_t
	Defers  stats.Counter_t
	Kills   stats.Counter_t
	Nomem   stats.Counter_t
}

type Kernel_t struct {
	conf  Config_t
	arch  arch.Arch_i
	Cpus  []*Cpu_t
	Reg   *waitq.Waitreg_t
	Futex *futex.Futex_t
	Env   *ksync.Env_t

	threads *hashtable.Hashtable_t
	arena   *tcb.Arena_t
	nexttid int64

	zlk     spinlock.Spinlock_t
	zombies tcb.Tlist_t
	reapsem ksync.Sem_t
	Reaper  defs.Tid_t

	booted  int32
	stopped int32
	Stats   Kstats_t
	// run and wait time of reaped threads
	Dead accnt.Accnt_t
}

func Mkkernel(conf Config_t) *Kernel_t {
	if conf.Ncores <= 0 {
		conf.Ncores = 1
	}
	if conf.Deflevel < defs.LEVEL_MIN || conf.Deflevel > defs.LEVEL_MAX {
		caller.Kpanic("bad default level %v", conf.Deflevel)
	}
	if conf.Tickms <= 0 {
		conf.Tickms = defs.TICK_MS
	}
	if conf.Reaperms <= 0 {
		conf.Reaperms = defs.REAP_MS
	}
	if conf.Maxthreads <= 0 {
		conf.Maxthreads = 1 << 14
	}
	if conf.Limits == nil {
		conf.Limits = limits.Syslimit
	}
	k := &Kernel_t{conf: conf}
	k.arch = conf.Arch
	if k.arch == nil {
		k.arch = arch.Mkhosted(conf.Ncores, conf.Tickms)
	}
	if k.arch.Ncores() != conf.Ncores {
		caller.Kpanic("machine has %v cores, config %v", k.arch.Ncores(),
			conf.Ncores)
	}
	k.Reg = waitq.Mkreg(k, conf.Limits.Futexes)
	k.Futex = futex.Mkfutex(k.Reg)
	k.Env = &ksync.Env_t{Reg: k.Reg, Irq: k.arch, Exit: func(t *tcb.Tcb_t) {
		k.Exit(t, t.Killcode())
	}}
	k.threads = hashtable.MkHash(256)
	k.arena = tcb.Mkarena(conf.Maxthreads)
	k.reapsem.Init(k.Env, 0, 0)
	return k
}

func (k *Kernel_t) Arch() arch.Arch_i {
	return k.arch
}

func (k *Kernel_t) Config() Config_t {
	return k.conf
}

// Boot makes an idle thread and a scheduler per core, starts the reaper
// and the core timers, and brings every core up in its idle loop.
func (k *Kernel_t) Boot() defs.Err_t {
	if !atomic.CompareAndSwapInt32(&k.booted, 0, 1) {
		caller.Kpanic("booted twice")
	}
	for i := 0; i < k.conf.Ncores; i++ {
		c := &Cpu_t{Id: i}
		idle, err := k.mkthread("idle", defs.TF_IDLE|defs.TF_SYSTEM, 0, 0)
		if err != 0 {
			return err
		}
		idle.Core = i
		idle.Ctx, err = k.arch.Mkcontext(func() { k.idleloop(c) })
		if err != 0 {
			return err
		}
		// idle threads are never queued; they count as always running
		idle.Must(tcb.EV_QUEUE)
		idle.Must(tcb.EV_DISPATCH)
		c.idle = idle
		c.Sched = sched.Mksched(i, idle, k.conf.Boostms)
		k.Cpus = append(k.Cpus, c)
	}
	attr := Attr_t{Name: "reaper", Flags: defs.TF_SYSTEM, Level: defs.LEVEL_MIN,
		Core: -1}
	tid, err := k.Spawn(attr, k.reaper, nil)
	if err != 0 {
		return err
	}
	k.Reaper = tid
	for _, c := range k.Cpus {
		c := c
		k.arch.Timerstart(c.Id, func(el int) int {
			return k.Tick(c.Id, el)
		})
		k.arch.Startcore(c.Id, c.idle.Ctx)
	}
	if Verbose {
		fmt.Printf("kernel: %v cores up\n", len(k.Cpus))
	}
	return 0
}

// Shutdown stops the machine. threads that are not parked keep their
// goroutines until they next enter the scheduler.
func (k *Kernel_t) Shutdown() {
	if atomic.CompareAndSwapInt32(&k.stopped, 0, 1) {
		k.arch.Stop()
	}
}

func (k *Kernel_t) cpu(core int) *Cpu_t {
	if core < 0 || core >= len(k.Cpus) {
		caller.Kpanic("no core %v", core)
	}
	return k.Cpus[core]
}

// schedule gives up the core of cur. it returns false if cur keeps running.
func (k *Kernel_t) schedule(c *Cpu_t, cur *tcb.Tcb_t, preemptive bool) bool {
	g := spinlock.Irqoff(k.arch, c.Id)
	next, _ := c.Sched.Getnext(cur, preemptive)
	if next == cur {
		g.Unlock()
		return false
	}
	zombie := cur.State() == tcb.ST_ZOMBIE
	if !zombie {
		cur.Acct.Descheduled()
	}
	next.Acct.Dispatched()
	if k.conf.Trace != nil {
		k.conf.Trace.Switch(c.Id, next.Tid, next.Name)
	}
	if zombie {
		k.arch.Exitswitch(next.Ctx)
		caller.Kpanic("exited thread %v resumed", cur)
	}
	k.arch.Switch(cur.Ctx, next.Ctx)
	// the interrupt state saved above is restored by whichever context
	// resumes next on this core; here it is ours again.
	g.Unlock()
	return true
}

func (k *Kernel_t) idleloop(c *Cpu_t) {
	k.arch.Intr_restore(c.Id, 0)
	for {
		if !k.schedule(c, c.idle, false) {
			k.arch.Halt(c.Id)
		}
	}
}

// Tick is the timer handler of core
func (k *Kernel_t) Tick(core int, elapsed int) int {
	c := k.cpu(core)
	expired, dl := c.Sched.Tick(elapsed)
	if len(expired) == 0 {
		return dl
	}
	for _, e := range expired {
		k.Reg.Timeout(e.T, e.Seq)
	}
	return c.Sched.Deadline()
}

// Block implements waitq.Sched_i
func (k *Kernel_t) Block(t *tcb.Tcb_t) {
	k.schedule(k.cpu(t.Core), t, false)
}

// Wakeup implements waitq.Sched_i
func (k *Kernel_t) Wakeup(t *tcb.Tcb_t) {
	c := k.cpu(t.Core)
	st := t.Must(tcb.EV_WAKE)
	c.Sched.Disarm(t)
	if st == tcb.ST_READY && c.Sched.Ready(t) {
		k.arch.Wakecore(c.Id)
	}
}

// Arm implements waitq.Sched_i
func (k *Kernel_t) Arm(t *tcb.Tcb_t, ms int, seq uint64) {
	k.cpu(t.Core).Sched.Arm(t, ms, seq)
}

// Atomic implements waitq.Sched_i
func (k *Kernel_t) Atomic(t *tcb.Tcb_t) bool {
	return !k.arch.Intr_enabled(t.Core)
}

// Current returns the thread running on core
func (k *Kernel_t) Current(core int) *tcb.Tcb_t {
	return k.cpu(core).Sched.Running()
}

func (k *Kernel_t) Curtid(core int) defs.Tid_t {
	return k.Current(core).Tid
}

// Lookup returns the live thread tid
func (k *Kernel_t) Lookup(tid defs.Tid_t) (*tcb.Tcb_t, bool) {
	return k.threads.Get(tid)
}

// Nthreads returns the number of thread records, idle threads and zombies
// included
func (k *Kernel_t) Nthreads() int {
	return k.arena.Live()
}

// Dump prints the thread table and the run queues
func (k *Kernel_t) Dump() {
	fmt.Printf("%6s %-12s %4s %5s %-9s %-20s %s\n", "tid", "name", "core",
		"level", "state", "flags", "run/wait")
	k.threads.Iter(func(t *tcb.Tcb_t) bool {
		run, wait := t.Acct.Fetch()
		fmt.Printf("%6v %-12s %4v %5v %-9v %-20v %v/%v\n", t.Tid, t.Name,
			t.Core, t.Level, t.State(), t.Flags(), run, wait)
		return false
	})
	for _, c := range k.Cpus {
		fmt.Printf("%v", c.Sched)
	}
}

// Statstr renders the kernel, scheduler and registry counters
func (k *Kernel_t) Statstr() string {
	s := "kernel:" + stats.Stats2String(&k.Stats)
	for _, c := range k.Cpus {
		s += fmt.Sprintf("core %v:", c.Id) + stats.Stats2String(&c.Sched.Stats)
	}
	s += "registry:" + stats.Stats2String(&k.Reg.Stats)
	run, wait := k.Dead.Fetch()
	s += fmt.Sprintf("reaped: run %v wait %v\n", run, wait)
	return s
}
