// Package futex blocks threads on the value of a 32-bit word. the address of
// the word is the wait key; nothing is allocated per word beyond the wait
// set the registry keeps while someone sleeps on it.
package futex

import "sync/atomic"
import "unsafe"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"
import "github.com/Meulengracht/MollenOS-sub017/waitq"

type Futex_t struct {
	r *waitq.Waitreg_t
}

func Mkfutex(r *waitq.Waitreg_t) *Futex_t {
	return &Futex_t{r: r}
}

func Key(addr *int32) defs.Waitkey_t {
	return defs.Waitkey_t{Kind: defs.KEY_ADDR, V: uintptr(unsafe.Pointer(addr))}
}

func decode(op int) (int, int32, int, int32) {
	return (op >> 28) & 0xf, int32((op >> 12) & 0xfff), (op >> 24) & 0xf,
		int32(op & 0xfff)
}

func valid(op int) bool {
	o, _, c, _ := decode(op)
	return o <= defs.FUTEX_OP_XOR && c <= defs.FUTEX_OP_CMP_GE
}

// Perform applies the operation half of op to addr and returns the old value
func Perform(addr *int32, op int) int32 {
	o, arg, _, _ := decode(op)
	for {
		old := atomic.LoadInt32(addr)
		var n int32
		switch o {
		case defs.FUTEX_OP_SET:
			n = arg
		case defs.FUTEX_OP_ADD:
			n = old + arg
		case defs.FUTEX_OP_OR:
			n = old | arg
		case defs.FUTEX_OP_ANDN:
			n = old &^ arg
		case defs.FUTEX_OP_XOR:
			n = old ^ arg
		default:
			return old
		}
		if atomic.CompareAndSwapInt32(addr, old, n) {
			return old
		}
	}
}

// Compare evaluates the comparison half of op against v
func Compare(v int32, op int) bool {
	_, _, c, arg := decode(op)
	switch c {
	case defs.FUTEX_OP_CMP_EQ:
		return v == arg
	case defs.FUTEX_OP_CMP_NE:
		return v != arg
	case defs.FUTEX_OP_CMP_LT:
		return v < arg
	case defs.FUTEX_OP_CMP_LE:
		return v <= arg
	case defs.FUTEX_OP_CMP_GT:
		return v > arg
	case defs.FUTEX_OP_CMP_GE:
		return v >= arg
	}
	return false
}

// Wait sleeps on addr for at most ms if *addr == val. the compare and the
// enqueue happen under the registry lock, so a Wake after a store to *addr
// is never missed. it returns -EAGAIN on a mismatch and -ETIMEDOUT when
// polling (ms == 0) a matching word.
func (f *Futex_t) Wait(t *tcb.Tcb_t, addr *int32, val int32, ms int) defs.Err_t {
	if addr == nil {
		return -defs.EINVAL
	}
	err := f.r.Prepareif(t, Key(addr), ms, func(*waitq.Held_t) defs.Err_t {
		if atomic.LoadInt32(addr) != val {
			return -defs.EAGAIN
		}
		return 0
	})
	if err != 0 {
		return err
	}
	return f.r.Commit(t)
}

// Waitop is Wait that, once t is queued on addr, applies op to addr2 and
// wakes up to n2 sleepers on addr2 in the same step.
func (f *Futex_t) Waitop(t *tcb.Tcb_t, addr *int32, val int32, addr2 *int32,
	n2 int, op int, ms int) defs.Err_t {
	if addr == nil || addr2 == nil || addr == addr2 || !valid(op) {
		return -defs.EINVAL
	}
	check := func(*waitq.Held_t) defs.Err_t {
		if atomic.LoadInt32(addr) != val {
			return -defs.EAGAIN
		}
		return 0
	}
	err := f.r.Prepareop(t, Key(addr), ms, check, func(h *waitq.Held_t) {
		Perform(addr2, op)
		h.Wake(Key(addr2), n2)
	})
	if err != 0 {
		return err
	}
	return f.r.Commit(t)
}

// Wake wakes up to n sleepers on addr, all of them if n < 0
func (f *Futex_t) Wake(addr *int32, n int) int {
	if addr == nil {
		return 0
	}
	return f.r.Wake(Key(addr), n)
}

// Wakeop applies op to addr2, wakes up to n sleepers on addr and, if the
// old value of addr2 passes the comparison in op, up to n2 sleepers on
// addr2. it returns the total woken.
func (f *Futex_t) Wakeop(addr *int32, n int, addr2 *int32, n2 int,
	op int) (int, defs.Err_t) {
	if addr == nil || addr2 == nil || !valid(op) {
		return 0, -defs.EINVAL
	}
	woke := 0
	f.r.Locked(func(h *waitq.Held_t) {
		old := Perform(addr2, op)
		woke = h.Wake(Key(addr), n)
		if Compare(old, op) {
			woke += h.Wake(Key(addr2), n2)
		}
	})
	return woke, 0
}

func (f *Futex_t) Waiters(addr *int32) int {
	return f.r.Waiters(Key(addr))
}
