package tcb

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"

// Tref_t names an arena slot. the generation changes every time the slot is
// freed, so a handle kept past the free no longer resolves.
type Tref_t struct {
	Idx int
	Gen uint32
}

type slot_t struct {
	t   *Tcb_t
	gen uint32
}

// Arena_t owns every thread control block
type Arena_t struct {
	lk    spinlock.Spinlock_t
	slots []slot_t
	free  []int
	max   int
	live  int
}

// Mkarena makes an arena of at most max records
func Mkarena(max int) *Arena_t {
	return &Arena_t{max: max}
}

// Alloc returns a zeroed record with its Ref set
func (a *Arena_t) Alloc() (*Tcb_t, defs.Err_t) {
	a.lk.Lock()
	defer a.lk.Unlock()

	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if len(a.slots) >= a.max {
			return nil, -defs.ENOMEM
		}
		a.slots = append(a.slots, slot_t{gen: 1})
		idx = len(a.slots) - 1
	}
	s := &a.slots[idx]
	t := &Tcb_t{}
	t.Ref = Tref_t{Idx: idx, Gen: s.gen}
	s.t = t
	a.live++
	return t, 0
}

// Get resolves ref; stale or free handles fail
func (a *Arena_t) Get(ref Tref_t) (*Tcb_t, bool) {
	a.lk.Lock()
	defer a.lk.Unlock()
	if ref.Idx < 0 || ref.Idx >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[ref.Idx]
	if s.t == nil || s.gen != ref.Gen {
		return nil, false
	}
	return s.t, true
}

func (a *Arena_t) Free(ref Tref_t) {
	a.lk.Lock()
	defer a.lk.Unlock()
	if ref.Idx < 0 || ref.Idx >= len(a.slots) {
		caller.Kpanic("free of bad thread handle %v", ref)
	}
	s := &a.slots[ref.Idx]
	if s.t == nil || s.gen != ref.Gen {
		caller.Kpanic("double free of thread handle %v", ref)
	}
	if s.t.list != nil {
		caller.Kpanic("free of queued thread %v", s.t)
	}
	s.t = nil
	s.gen++
	a.free = append(a.free, ref.Idx)
	a.live--
}

// Live returns the number of allocated records
func (a *Arena_t) Live() int {
	a.lk.Lock()
	defer a.lk.Unlock()
	return a.live
}
