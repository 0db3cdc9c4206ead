// Package arch is the machine layer the scheduler consumes: interrupt
// masking, context switching, halting and waking cores, memory for thread
// control blocks, and the per-core timer. The scheduler never looks inside a
// Context_t.
package arch

import "github.com/Meulengracht/MollenOS-sub017/defs"

// Irqstate_t is the interrupt state returned by Intr_disable, to be handed
// back to Intr_restore.
type Irqstate_t int32

type Mem_t struct {
	Sz int
}

type Arch_i interface {
	Ncores() int
	Intr_disable(core int) Irqstate_t
	Intr_restore(core int, st Irqstate_t)
	Intr_enabled(core int) bool
	// Mkcontext makes a register/stack context that runs entry on its
	// first dispatch.
	Mkcontext(entry func()) (*Context_t, defs.Err_t)
	Freecontext(*Context_t)
	// Switch runs to and suspends from until from is switched to again.
	Switch(from, to *Context_t)
	// Exitswitch runs to and never returns; the calling context is dead.
	Exitswitch(to *Context_t)
	// Startcore runs ctx as the boot context of core.
	Startcore(core int, ctx *Context_t)
	Halt(core int)
	Wakecore(core int)
	Alloc(sz int) (Mem_t, defs.Err_t)
	Free(Mem_t)
	// Timerstart calls tick on core at the timer frequency with the
	// milliseconds elapsed since the previous call. tick returns the next
	// deadline in milliseconds; 0 disarms the timer until Wakecore.
	Timerstart(core int, tick func(elapsed int) int)
	Stop()
}
