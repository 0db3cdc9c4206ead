package tcb

import "github.com/Meulengracht/MollenOS-sub017/caller"

// Tlist_t is a FIFO of threads linked through the threads themselves. a
// thread is on at most one list at a time.
type Tlist_t struct {
	head *Tcb_t
	tail *Tcb_t
	n    int
}

func (l *Tlist_t) Len() int {
	return l.n
}

func (l *Tlist_t) Empty() bool {
	return l.n == 0
}

func (l *Tlist_t) Head() *Tcb_t {
	return l.head
}

// Push appends t to the tail
func (l *Tlist_t) Push(t *Tcb_t) {
	caller.Kassert(t.list == nil, "thread %v already queued", t)
	t.list = l
	t.next = nil
	t.prev = l.tail
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
	l.n++
}

// Pop removes and returns the head, or nil
func (l *Tlist_t) Pop() *Tcb_t {
	t := l.head
	if t == nil {
		return nil
	}
	l.Remove(t)
	return t
}

func (l *Tlist_t) Remove(t *Tcb_t) {
	caller.Kassert(t.list == l, "thread %v not on this list", t)
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next, t.prev, t.list = nil, nil, nil
	l.n--
	caller.Kassert(l.n >= 0, "list underflow")
}

// Iter calls f on each thread from head to tail until f returns true. f must
// not modify the list.
func (l *Tlist_t) Iter(f func(*Tcb_t) bool) bool {
	for t := l.head; t != nil; t = t.next {
		if f(t) {
			return true
		}
	}
	return false
}
