package sched

import "testing"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

func mustpanic(t *testing.T, what string, f func()) {
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: no panic", what)
		}
	}()
	f()
}

func mks(boostms int) *Sched_t {
	idle := &tcb.Tcb_t{Name: "idle"}
	idle.Setflag(defs.TF_IDLE)
	return Mksched(0, idle, boostms)
}

func mkt(s *Sched_t, tid, level int) *tcb.Tcb_t {
	th := &tcb.Tcb_t{Tid: defs.Tid_t(tid), Name: "t", Level: level}
	s.Admit(th)
	th.Must(tcb.EV_QUEUE)
	s.Ready(th)
	return th
}

func next(t *testing.T, s *Sched_t, cur *tcb.Tcb_t, pre bool, want *tcb.Tcb_t) {
	got, _ := s.Getnext(cur, pre)
	if got != want {
		t.Fatalf("next after %v: got %v want %v", cur, got, want)
	}
	if s.Running() != want {
		t.Fatalf("running %v", s.Running())
	}
}

func TestSlicefor(t *testing.T) {
	if Slicefor(0) != defs.SLICE_MIN || Slicefor(60) != defs.SLICE_MAX {
		t.Fatalf("ends %v %v", Slicefor(0), Slicefor(60))
	}
	for l := 1; l <= defs.LEVEL_MAX; l++ {
		if Slicefor(l) < Slicefor(l-1) {
			t.Fatalf("slice shrinks at %v", l)
		}
	}
	mustpanic(t, "level 61", func() { Slicefor(61) })
}

func TestFifo(t *testing.T) {
	s := mks(0)
	a := mkt(s, 1, 30)
	b := mkt(s, 2, 30)
	c := mkt(s, 3, 30)
	next(t, s, s.Idle(), false, a)
	next(t, s, a, false, b)
	next(t, s, b, false, c)
	next(t, s, c, false, a)
	if a.Level != 30 || b.Level != 30 || c.Level != 30 {
		t.Fatalf("yield changed level")
	}
	if s.Stats.Yields.Load() != 3 {
		t.Fatalf("yields %v", s.Stats.Yields.Load())
	}
}

func TestHighestFirst(t *testing.T) {
	s := mks(0)
	lo := mkt(s, 1, 10)
	hi := mkt(s, 2, 40)
	sys := mkt(s, 3, 60)
	next(t, s, s.Idle(), false, sys)
	next(t, s, sys, false, sys)
	if !s.Queued(hi) || !s.Queued(lo) {
		t.Fatalf("not queued")
	}
	if s.Nready() != 2 {
		t.Fatalf("nready %v", s.Nready())
	}
}

func TestFastpath(t *testing.T) {
	s := mks(0)
	u := mkt(s, 1, 40)
	next(t, s, s.Idle(), false, u)
	s.Takeresched()
	slice := u.Slice
	next(t, s, u, true, u)
	if u.Slice != slice || u.Onlist() {
		t.Fatalf("fast path touched the thread")
	}
	// same level does not preempt a thread with slice left
	v := mkt(s, 2, 40)
	if s.Takeresched() {
		t.Fatalf("resched for equal level")
	}
	next(t, s, u, true, u)

	h := mkt(s, 3, 50)
	if !s.Takeresched() {
		t.Fatalf("no resched for higher level")
	}
	next(t, s, u, true, h)
	if u.Level != 40 || !s.Queued(u) {
		t.Fatalf("preempted thread demoted or lost: %v", u.Level)
	}
	if s.Stats.Demotes.Load() != 0 {
		t.Fatalf("demoted")
	}
	// u kept its place behind v
	next(t, s, h, false, h)
	h.Must(tcb.EV_EXIT)
	next(t, s, h, false, v)
}

func TestDemotion(t *testing.T) {
	s := mks(0)
	th := mkt(s, 1, 30)
	next(t, s, s.Idle(), false, th)
	for want := 29; want >= -1; want-- {
		exp, _ := s.Tick(th.Slice)
		if len(exp) != 0 {
			t.Fatalf("expired sleepers")
		}
		if !s.Takeresched() {
			t.Fatalf("slice expiry did not ask for resched")
		}
		next(t, s, th, true, th)
		lv := want
		if lv < 0 {
			lv = 0
		}
		if th.Level != lv {
			t.Fatalf("level %v want %v", th.Level, lv)
		}
		if th.Slice != Slicefor(lv) || th.Atlevel != 0 {
			t.Fatalf("slice %v atlevel %v", th.Slice, th.Atlevel)
		}
	}
	if s.Stats.Demotes.Load() != 30 {
		t.Fatalf("demotes %v", s.Stats.Demotes.Load())
	}
	if s.Bandwidth() != int64(Slicefor(0)) {
		t.Fatalf("bandwidth %v", s.Bandwidth())
	}
}

func TestBoost(t *testing.T) {
	s := mks(0)
	sys := mkt(s, 1, 60)
	l0 := mkt(s, 2, 0)
	l20a := mkt(s, 3, 20)
	l10 := mkt(s, 4, 10)
	l20b := mkt(s, 5, 20)
	s.Boost()
	if s.Qlen(60) != 5 {
		t.Fatalf("top has %v", s.Qlen(60))
	}
	order := []*tcb.Tcb_t{sys, l20a, l20b, l10, l0}
	cur := s.Idle()
	for _, w := range order {
		next(t, s, cur, false, w)
		if w.Level != 60 {
			t.Fatalf("%v at %v", w, w.Level)
		}
		w.Must(tcb.EV_EXIT)
		cur = w
	}
	next(t, s, cur, false, s.Idle())
}

func TestBoostTimer(t *testing.T) {
	s := mks(200)
	sys := mkt(s, 1, 60)
	lo := mkt(s, 2, 0)
	next(t, s, s.Idle(), false, sys)
	s.Tick(199)
	if lo.Level != 0 {
		t.Fatalf("boosted early")
	}
	s.Tick(1)
	if lo.Level != 60 || s.Stats.Boosts.Load() != 1 {
		t.Fatalf("no boost: level %v", lo.Level)
	}
	// the boosted thread runs before the system thread resumes
	if !s.Takeresched() {
		t.Fatalf("no resched after boost")
	}
	left := sys.Slice
	next(t, s, sys, true, lo)
	if sys.Level != 60 || sys.Slice != left || !s.Queued(sys) {
		t.Fatalf("sys level %v slice %v", sys.Level, sys.Slice)
	}
	if s.Stats.Demotes.Load() != 0 {
		t.Fatalf("demoted")
	}
	// with nothing moved a boost leaves the running thread alone
	s.Tick(200)
	if s.Stats.Boosts.Load() != 2 || s.Takeresched() {
		t.Fatalf("boost of an empty core asked for resched")
	}
	next(t, s, lo, true, lo)
}

func TestIdle(t *testing.T) {
	s := mks(2000)
	got, dl := s.Getnext(s.Idle(), false)
	if got != s.Idle() || dl != 0 {
		t.Fatalf("empty core: %v %v", got, dl)
	}
	if _, dl := s.Tick(5); dl != 0 {
		t.Fatalf("idle tick deadline %v", dl)
	}
	th := &tcb.Tcb_t{Tid: 1, Level: 30}
	s.Admit(th)
	th.Must(tcb.EV_QUEUE)
	if !s.Ready(th) {
		t.Fatalf("idle core not kicked")
	}
	got, dl = s.Getnext(s.Idle(), false)
	if got != th || dl != Slicefor(30) {
		t.Fatalf("dispatch %v %v", got, dl)
	}
	if s.Ready(mkthread(s, 2, 10)) {
		t.Fatalf("busy core kicked")
	}
}

func mkthread(s *Sched_t, tid, level int) *tcb.Tcb_t {
	th := &tcb.Tcb_t{Tid: defs.Tid_t(tid), Level: level}
	s.Admit(th)
	th.Must(tcb.EV_QUEUE)
	return th
}

func TestBlockWake(t *testing.T) {
	s := mks(0)
	th := mkt(s, 1, 30)
	next(t, s, s.Idle(), false, th)
	th.Must(tcb.EV_BLOCK)
	next(t, s, th, false, s.Idle())
	if th.State() != tcb.ST_BLOCKED || th.Onlist() {
		t.Fatalf("blocked thread %v", th.State())
	}
	if st := th.Must(tcb.EV_WAKE); st != tcb.ST_READY {
		t.Fatalf("wake gave %v", st)
	}
	if !s.Ready(th) {
		t.Fatalf("no kick")
	}
	next(t, s, s.Idle(), false, th)

	// a wake that lands before the switch keeps the thread on the core
	th.Must(tcb.EV_BLOCK)
	th.Must(tcb.EV_WAKE)
	next(t, s, th, false, th)
	if th.State() != tcb.ST_RUNNING {
		t.Fatalf("state %v", th.State())
	}
}

func TestZombie(t *testing.T) {
	s := mks(0)
	a := mkt(s, 1, 30)
	next(t, s, s.Idle(), false, a)
	a.Must(tcb.EV_EXIT)
	next(t, s, a, false, s.Idle())
	if a.Onlist() || s.Nready() != 0 {
		t.Fatalf("zombie queued")
	}
}

func TestSleepers(t *testing.T) {
	s := mks(0)
	a := mkt(s, 1, 30)
	b := mkt(s, 2, 30)
	s.Arm(a, 50, 7)
	s.Arm(b, 80, 3)
	exp, _ := s.Tick(49)
	if len(exp) != 0 {
		t.Fatalf("early expiry")
	}
	exp, dl := s.Tick(1)
	if len(exp) != 1 || exp[0].T != a || exp[0].Seq != 7 {
		t.Fatalf("expired %v", exp)
	}
	if dl != 30 {
		t.Fatalf("deadline %v", dl)
	}
	s.Disarm(b)
	if s.Armed() != 0 {
		t.Fatalf("armed %v", s.Armed())
	}
}

func TestCorrupt(t *testing.T) {
	s := mks(0)
	a := mkt(s, 1, 30)
	mustpanic(t, "double ready", func() { s.Ready(a) })
	s.Remove(a)
	mustpanic(t, "remove unqueued", func() { s.Remove(a) })
	next(t, s, s.Idle(), false, s.Idle())
	mustpanic(t, "getnext of wrong thread", func() { s.Getnext(a, false) })
}
