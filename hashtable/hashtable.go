// Package hashtable is the thread table: a tid-keyed hashtable of TCBs.
// Get and Iter take no locks; Set and Del lock one bucket. chains are kept
// sorted by tid so a miss can stop early.
package hashtable

import "fmt"
import "sync"
import "sync/atomic"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

type elem_t struct {
	tid  defs.Tid_t
	t    *tcb.Tcb_t
	next atomic.Pointer[elem_t]
}

type bucket_t struct {
	sync.Mutex
	first atomic.Pointer[elem_t]
}

type Hashtable_t struct {
	table []bucket_t
	n     int64
}

func MkHash(size int) *Hashtable_t {
	if size <= 0 {
		caller.Kpanic("hashtable of size %v", size)
	}
	return &Hashtable_t{table: make([]bucket_t, size)}
}

func (ht *Hashtable_t) String() string {
	s := ""
	for i := range ht.table {
		b := &ht.table[i]
		if b.first.Load() == nil {
			continue
		}
		s += fmt.Sprintf("b %d:", i)
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			s += fmt.Sprintf(" %v", e.tid)
		}
		s += "\n"
	}
	return s
}

func (ht *Hashtable_t) Size() int {
	return int(atomic.LoadInt64(&ht.n))
}

// Fibonacci hashing spreads the sequential tids over the buckets
func (ht *Hashtable_t) bucket(tid defs.Tid_t) *bucket_t {
	h := uint32(tid) * 2654435761
	return &ht.table[h%uint32(len(ht.table))]
}

func (ht *Hashtable_t) Get(tid defs.Tid_t) (*tcb.Tcb_t, bool) {
	b := ht.bucket(tid)
	for e := b.first.Load(); e != nil && e.tid <= tid; e = e.next.Load() {
		if e.tid == tid {
			return e.t, true
		}
	}
	return nil, false
}

// Set enters t under its tid. if the tid is taken, Set returns the thread
// holding it and false.
func (ht *Hashtable_t) Set(t *tcb.Tcb_t) (*tcb.Tcb_t, bool) {
	b := ht.bucket(t.Tid)
	b.Lock()
	defer b.Unlock()

	link := &b.first
	for e := link.Load(); e != nil; e = link.Load() {
		if e.tid == t.Tid {
			return e.t, false
		}
		if e.tid > t.Tid {
			break
		}
		link = &e.next
	}
	n := &elem_t{tid: t.Tid, t: t}
	n.next.Store(link.Load())
	link.Store(n)
	atomic.AddInt64(&ht.n, 1)
	return t, true
}

// Del removes tid; removing a tid that is not present is fatal
func (ht *Hashtable_t) Del(tid defs.Tid_t) {
	b := ht.bucket(tid)
	b.Lock()
	defer b.Unlock()

	link := &b.first
	for e := link.Load(); e != nil && e.tid <= tid; e = link.Load() {
		if e.tid == tid {
			link.Store(e.next.Load())
			atomic.AddInt64(&ht.n, -1)
			return
		}
		link = &e.next
	}
	caller.Kpanic("del of missing tid %v", tid)
}

// Iter may run concurrently with Get, Set and Del; it stops when f returns
// true and reports whether it was stopped.
func (ht *Hashtable_t) Iter(f func(*tcb.Tcb_t) bool) bool {
	for i := range ht.table {
		b := &ht.table[i]
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			if f(e.t) {
				return true
			}
		}
	}
	return false
}
