package arch

import "runtime"
import "sync/atomic"
import "time"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/limits"
import "github.com/Meulengracht/MollenOS-sub017/stats"

// Hosted_t runs the kernel on top of the Go runtime. every context is a
// goroutine that only executes while it is switched to; a switch hands a
// run token to the next context and parks the current one. a core is the
// chain of contexts passing its token around, so at most one goroutine per
// core runs kernel code at a time.
//
// the timer runs on its own goroutine. it behaves like a local APIC timer:
// while a core has interrupts disabled, its tick stays pending.

const STACKSZ = 16 << 10

type Context_t struct {
	run     chan bool
	entry   func()
	started int32
	dead    int32
}

type hcore_t struct {
	noirq int32
	wake  chan bool
	rearm chan bool
}

type Hosted_t struct {
	Tickms  int
	cores   []hcore_t
	mem     limits.Sysatomic_t
	stop    chan bool
	stopped int32
	Nswitch stats.Counter_t
	Nhalt   stats.Counter_t
	Nticks  stats.Counter_t
}

func Mkhosted(ncores, tickms int) *Hosted_t {
	if ncores <= 0 {
		panic("no cores")
	}
	if tickms <= 0 {
		tickms = defs.TICK_MS
	}
	h := &Hosted_t{Tickms: tickms}
	h.cores = make([]hcore_t, ncores)
	for i := range h.cores {
		h.cores[i].wake = make(chan bool, 1)
		h.cores[i].rearm = make(chan bool, 1)
	}
	h.mem = 1 << 40
	h.stop = make(chan bool)
	return h
}

// Setmem sets the number of bytes Alloc may hand out
func (h *Hosted_t) Setmem(bytes int64) {
	atomic.StoreInt64((*int64)(&h.mem), bytes)
}

func (h *Hosted_t) Ncores() int {
	return len(h.cores)
}

func (h *Hosted_t) Intr_disable(core int) Irqstate_t {
	old := atomic.AddInt32(&h.cores[core].noirq, 1) - 1
	return Irqstate_t(old)
}

func (h *Hosted_t) Intr_restore(core int, st Irqstate_t) {
	atomic.StoreInt32(&h.cores[core].noirq, int32(st))
}

func (h *Hosted_t) Intr_enabled(core int) bool {
	return atomic.LoadInt32(&h.cores[core].noirq) == 0
}

func (h *Hosted_t) Mkcontext(entry func()) (*Context_t, defs.Err_t) {
	if !h.mem.Taken(STACKSZ) {
		return nil, -defs.ENOMEM
	}
	c := &Context_t{run: make(chan bool, 1), entry: entry}
	return c, 0
}

func (h *Hosted_t) Freecontext(c *Context_t) {
	if !atomic.CompareAndSwapInt32(&c.dead, 0, 1) {
		caller.Kpanic("context freed twice")
	}
	h.mem.Given(STACKSZ)
}

func (h *Hosted_t) isstopped() bool {
	return atomic.LoadInt32(&h.stopped) != 0
}

func (h *Hosted_t) start(c *Context_t) {
	c.entry()
	if !h.isstopped() {
		caller.Kpanic("context entry returned")
	}
}

// a resumed context that has not parked yet finds the token waiting.
func (h *Hosted_t) resume(c *Context_t) {
	if atomic.LoadInt32(&c.dead) != 0 {
		caller.Kpanic("switch to dead context")
	}
	h.Nswitch.Inc()
	if atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		go h.start(c)
		return
	}
	c.run <- true
}

func (h *Hosted_t) park(c *Context_t) {
	select {
	case <-c.run:
	case <-h.stop:
		runtime.Goexit()
	}
}

func (h *Hosted_t) Switch(from, to *Context_t) {
	if from == to {
		caller.Kpanic("switch to self")
	}
	if h.isstopped() {
		runtime.Goexit()
	}
	h.resume(to)
	h.park(from)
}

func (h *Hosted_t) Exitswitch(to *Context_t) {
	if h.isstopped() {
		runtime.Goexit()
	}
	h.resume(to)
	runtime.Goexit()
}

func (h *Hosted_t) Startcore(core int, ctx *Context_t) {
	if core < 0 || core >= len(h.cores) {
		caller.Kpanic("no core %v", core)
	}
	h.resume(ctx)
}

func (h *Hosted_t) Halt(core int) {
	h.Nhalt.Inc()
	select {
	case <-h.cores[core].wake:
	case <-h.stop:
		runtime.Goexit()
	}
}

func (h *Hosted_t) Wakecore(core int) {
	c := &h.cores[core]
	select {
	case c.wake <- true:
	default:
	}
	select {
	case c.rearm <- true:
	default:
	}
}

func (h *Hosted_t) Alloc(sz int) (Mem_t, defs.Err_t) {
	if sz < 0 {
		panic("negative alloc")
	}
	if !h.mem.Taken(uint(sz)) {
		return Mem_t{}, -defs.ENOMEM
	}
	return Mem_t{Sz: sz}, 0
}

func (h *Hosted_t) Free(m Mem_t) {
	h.mem.Given(uint(m.Sz))
}

func (h *Hosted_t) Timerstart(core int, tick func(elapsed int) int) {
	go h.timer(core, tick)
}

func (h *Hosted_t) timer(core int, tick func(int) int) {
	c := &h.cores[core]
	period := time.Duration(h.Tickms) * time.Millisecond
	last := time.Now()
	tm := time.NewTimer(period)
	defer tm.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-tm.C:
		}
		el := int(time.Since(last) / time.Millisecond)
		if el == 0 || !h.Intr_enabled(core) {
			tm.Reset(period)
			continue
		}
		last = last.Add(time.Duration(el) * time.Millisecond)
		h.Nticks.Inc()
		if tick(el) == 0 {
			select {
			case <-h.stop:
				return
			case <-c.rearm:
			}
			last = time.Now()
		}
		tm.Reset(period)
	}
}

func (h *Hosted_t) Stop() {
	if atomic.CompareAndSwapInt32(&h.stopped, 0, 1) {
		close(h.stop)
	}
}
