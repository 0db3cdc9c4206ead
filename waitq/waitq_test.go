package waitq_test

import "fmt"
import "testing"
import "time"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/kernel"
import "github.com/Meulengracht/MollenOS-sub017/limits"
import "github.com/Meulengracht/MollenOS-sub017/spinlock"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

func boot(t *testing.T) *kernel.Kernel_t {
	conf := kernel.Defconfig()
	conf.Limits = limits.MkSysLimit()
	k := kernel.Mkkernel(conf)
	if err := k.Boot(); err != 0 {
		t.Fatalf("boot: %v", err)
	}
	return k
}

func spawn(t *testing.T, k *kernel.Kernel_t, f func(*tcb.Tcb_t)) {
	_, err := k.Create(func(th *tcb.Tcb_t, _ interface{}) {
		f(th)
	}, nil, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
}

func recv(t *testing.T, ch chan string, n int) {
	for i := 0; i < n; i++ {
		select {
		case s := <-ch:
			if s != "" {
				t.Fatalf("%s", s)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out after %v of %v", i, n)
		}
	}
}

// a consumer checks a flag under its own spinlock and blocks with the lock
// released; a producer sets the flag under the same lock and unblocks it.
func TestBlockUnblock(t *testing.T) {
	k := boot(t)
	defer k.Shutdown()
	q := k.Reg.Mkwaitq()
	var lk spinlock.Spinlock_t
	lk.Init()
	items := 0
	ch := make(chan string, 2)
	spawn(t, k, func(th *tcb.Tcb_t) {
		for got := 0; got < 10; {
			lk.Lock()
			if items == 0 {
				if err := q.Block(th, &lk, defs.FOREVER); err != 0 {
					ch <- fmt.Sprintf("block %v", err)
					return
				}
				continue
			}
			items--
			got++
			lk.Unlock()
		}
		ch <- ""
	})
	spawn(t, k, func(th *tcb.Tcb_t) {
		for i := 0; i < 10; i++ {
			lk.Lock()
			items++
			lk.Unlock()
			q.Unblock()
			k.Yield(th)
		}
		ch <- ""
	})
	recv(t, ch, 2)
	if q.Waiters() != 0 || q.Unblockall() != 0 {
		t.Fatalf("waiters left")
	}
}

func TestBlockTimeout(t *testing.T) {
	k := boot(t)
	defer k.Shutdown()
	q := k.Reg.Mkwaitq()
	ch := make(chan string, 1)
	spawn(t, k, func(th *tcb.Tcb_t) {
		if err := q.Block(th, nil, 0); err != -defs.ETIMEDOUT {
			ch <- fmt.Sprintf("poll %v", err)
			return
		}
		start := time.Now()
		if err := q.Block(th, nil, 25); err != -defs.ETIMEDOUT {
			ch <- fmt.Sprintf("timed block %v", err)
			return
		}
		if time.Since(start) < 20*time.Millisecond {
			ch <- "woke early"
			return
		}
		ch <- ""
	})
	recv(t, ch, 1)
	if k.Reg.Stats.Polls.Load() != 1 || k.Reg.Stats.Timeouts.Load() < 1 {
		t.Fatalf("stats %v", k.Statstr())
	}
}
