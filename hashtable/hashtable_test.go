package hashtable

import "fmt"
import "math/rand"
import "sync"
import "sync/atomic"
import "testing"
import "time"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

const SZ = 10

func mkt(tid int) *tcb.Tcb_t {
	return &tcb.Tcb_t{Tid: defs.Tid_t(tid)}
}

func fill(t *testing.T, ht *Hashtable_t, lo, hi int) {
	for i := lo; i < hi; i++ {
		th := mkt(i)
		if _, ok := ht.Set(th); !ok {
			t.Fatalf("tid %v exists", i)
		}
		if r, ok := ht.Get(th.Tid); !ok || r != th {
			t.Fatalf("tid %v lookup", i)
		}
	}
}

func TestSimple(t *testing.T) {
	ht := MkHash(SZ)
	fill(t, ht, 0, 3*SZ)
	for i := 1; i < 3*SZ; i++ {
		ht.Del(defs.Tid_t(i))
		if r, ok := ht.Get(0); !ok || r.Tid != 0 {
			t.Fatalf("tid 0 lost")
		}
		if _, ok := ht.Get(defs.Tid_t(i)); ok {
			t.Fatalf("tid %v still present", i)
		}
	}
	if ht.Size() != 1 {
		t.Fatalf("size %v", ht.Size())
	}
}

func TestDup(t *testing.T) {
	ht := MkHash(SZ)
	first := mkt(7)
	ht.Set(first)
	if r, ok := ht.Set(mkt(7)); ok || r != first {
		t.Fatalf("dup set %v %v", r, ok)
	}
	if ht.Size() != 1 {
		t.Fatalf("size %v", ht.Size())
	}
}

func TestIter(t *testing.T) {
	ht := MkHash(SZ)
	// out of order inserts keep the chains sorted
	for _, i := range rand.Perm(100) {
		ht.Set(mkt(i + 1))
	}
	for i := 1; i <= 100; i++ {
		if _, ok := ht.Get(defs.Tid_t(i)); !ok {
			t.Fatalf("tid %v missing", i)
		}
	}
	seen := make(map[defs.Tid_t]bool)
	ht.Iter(func(th *tcb.Tcb_t) bool {
		if seen[th.Tid] {
			t.Fatalf("tid %v twice", th.Tid)
		}
		seen[th.Tid] = true
		return false
	})
	if len(seen) != 100 {
		t.Fatalf("iter saw %v", len(seen))
	}
	stopped := ht.Iter(func(th *tcb.Tcb_t) bool {
		return th.Tid == 50
	})
	if !stopped {
		t.Fatalf("iter did not stop")
	}
	if ht.String() == "" {
		t.Fatalf("empty dump")
	}
}

func TestDelMissing(t *testing.T) {
	ht := MkHash(SZ)
	ht.Set(mkt(4))
	defer func() {
		if recover() == nil {
			t.Fatalf("no panic")
		}
	}()
	ht.Del(defs.Tid_t(3))
}

const NPROC = 4

// writers use tids above the ones the readers look up
func writer(t *testing.T, ht *Hashtable_t, id int, done *int32) int {
	n := 0
	for atomic.LoadInt32(done) == 0 {
		th := mkt(SZ + id*SZ + rand.Intn(SZ))
		if _, ok := ht.Set(th); !ok {
			t.Errorf("tid %v exists", th.Tid)
			return n
		}
		if r, ok := ht.Get(th.Tid); !ok || r != th {
			t.Errorf("tid %v lookup", th.Tid)
			return n
		}
		ht.Del(th.Tid)
		if _, ok := ht.Get(th.Tid); ok {
			t.Errorf("tid %v after del", th.Tid)
			return n
		}
		n++
	}
	return n
}

func reader(t *testing.T, ht *Hashtable_t, done *int32) int {
	n := 0
	for atomic.LoadInt32(done) == 0 {
		tid := defs.Tid_t(rand.Intn(SZ))
		r, ok := ht.Get(tid)
		if !ok || r.Tid != tid {
			t.Errorf("tid %v lookup", tid)
			return n
		}
		n++
	}
	return n
}

func TestManyReadersWriters(t *testing.T) {
	ht := MkHash(SZ)
	fill(t, ht, 0, SZ)

	var wg sync.WaitGroup
	done := int32(0)
	var nreads, nwrites int64
	for p := 0; p < NPROC; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if id%2 == 0 {
				atomic.AddInt64(&nwrites, int64(writer(t, ht, id, &done)))
			} else {
				atomic.AddInt64(&nreads, int64(reader(t, ht, &done)))
			}
		}(p)
	}
	time.Sleep(200 * time.Millisecond)
	atomic.StoreInt32(&done, 1)
	wg.Wait()
	if ht.Size() != SZ {
		t.Fatalf("size %v", ht.Size())
	}
	fmt.Printf("TestManyReadersWriters: reads %d writes %d\n", nreads, nwrites)
}
