// Command schedsim boots a hosted kernel, runs a mixed workload on it and
// prints what the scheduler did. with -png it also draws the dispatch
// timeline.
package main

import "flag"
import "fmt"
import "os"
import "sync/atomic"
import "time"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/kernel"
import "github.com/Meulengracht/MollenOS-sub017/ksync"
import "github.com/Meulengracht/MollenOS-sub017/limits"
import "github.com/Meulengracht/MollenOS-sub017/sched"
import "github.com/Meulengracht/MollenOS-sub017/schedtrace"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

type report_t struct {
	tid   defs.Tid_t
	name  string
	core  int
	level int
	iters int
	nrun  int64
	run   time.Duration
	wait  time.Duration
}

func (r report_t) String() string {
	return fmt.Sprintf("%6v %-10s %4v %5v %8v %6v %12v %12v", r.tid, r.name,
		r.core, r.level, r.iters, r.nrun, r.run, r.wait)
}

func report(t *tcb.Tcb_t, iters int) report_t {
	run, wait := t.Acct.Fetch()
	return report_t{tid: t.Tid, name: t.Name, core: t.Core, level: t.Level,
		iters: iters, nrun: atomic.LoadInt64(&t.Acct.Nrun), run: run,
		wait: wait}
}

// burn spins for about ms
func burn(ms int) {
	end := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for time.Now().Before(end) {
	}
}

func main() {
	ncores := flag.Int("cores", 2, "number of cores")
	nworkers := flag.Int("workers", 4, "cpu-bound threads")
	ninter := flag.Int("interactive", 2, "threads that mostly sleep")
	runms := flag.Int("ms", 2000, "run time")
	boostms := flag.Int("boost", defs.BOOST_MS, "aging period, 0 disables aging")
	tickms := flag.Int("tick", defs.TICK_MS, "timer period")
	level := flag.Int("level", defs.LEVEL_DEFAULT, "initial level of new threads")
	png := flag.String("png", "", "write the dispatch timeline to this file")
	verbose := flag.Bool("v", false, "print scheduler events")
	flag.Parse()

	if *level < defs.LEVEL_MIN || *level > defs.LEVEL_MAX {
		fmt.Printf("level must be in [%v, %v]\n", defs.LEVEL_MIN, defs.LEVEL_MAX)
		os.Exit(1)
	}
	kernel.Verbose = *verbose
	sched.Verbose = *verbose

	tr := schedtrace.Mktrace(*ncores, 1<<16)
	conf := kernel.Defconfig()
	conf.Ncores = *ncores
	conf.Boostms = *boostms
	conf.Tickms = *tickms
	conf.Deflevel = *level
	conf.Limits = limits.MkSysLimit()
	conf.Trace = tr
	k := kernel.Mkkernel(conf)
	if err := k.Boot(); err != 0 {
		fmt.Printf("boot failed: %v\n", err)
		os.Exit(1)
	}

	var stop int32
	stopped := func() bool {
		return atomic.LoadInt32(&stop) != 0
	}
	nthreads := *nworkers + *ninter + 2
	done := make(chan report_t, nthreads)
	spawn := func(name string, f func(*tcb.Tcb_t) int) {
		a := kernel.Attr_t{Name: name, Level: -1, Core: -1}
		_, err := k.Spawn(a, func(t *tcb.Tcb_t, _ interface{}) {
			n := f(t)
			done <- report(t, n)
		}, nil)
		if err != 0 {
			fmt.Printf("spawn %v: %v\n", name, err)
			os.Exit(1)
		}
	}

	for i := 0; i < *nworkers; i++ {
		spawn(fmt.Sprintf("cpu%d", i), func(t *tcb.Tcb_t) int {
			n := 0
			for !stopped() {
				burn(1)
				n++
				k.Preempt(t)
			}
			return n
		})
	}
	for i := 0; i < *ninter; i++ {
		spawn(fmt.Sprintf("inter%d", i), func(t *tcb.Tcb_t) int {
			n := 0
			for !stopped() {
				burn(1)
				k.Sleep(t, 10)
				n++
			}
			return n
		})
	}

	var sem ksync.Sem_t
	sem.Init(k.Env, 0, 0)
	var produced int32
	spawn("producer", func(t *tcb.Tcb_t) int {
		n := 0
		for !stopped() {
			sem.V(t)
			atomic.AddInt32(&produced, 1)
			n++
			k.Sleep(t, 5)
		}
		// let the consumer see the stop
		sem.V(t)
		return n
	})
	spawn("consumer", func(t *tcb.Tcb_t) int {
		n := 0
		for !stopped() {
			sem.P(t)
			n++
		}
		return n
	})

	time.Sleep(time.Duration(*runms) * time.Millisecond)
	atomic.StoreInt32(&stop, 1)
	var reps []report_t
	timeout := time.After(10 * time.Second)
	for len(reps) < nthreads {
		select {
		case r := <-done:
			reps = append(reps, r)
		case <-timeout:
			fmt.Printf("%v threads did not stop\n", nthreads-len(reps))
			k.Dump()
			os.Exit(1)
		}
	}
	// the trace is cut here; the reaper may still be busy
	evs := tr.Events()
	span := tr.Span()

	fmt.Printf("%6s %-10s %4s %5s %8s %6s %12s %12s\n", "tid", "name", "core",
		"level", "iters", "runs", "run", "wait")
	for _, r := range reps {
		fmt.Printf("%v\n", r)
	}
	fmt.Printf("produced %v, semaphore %v\n", atomic.LoadInt32(&produced),
		sem.Count())
	fmt.Printf("%s", k.Statstr())
	tr.Lock()
	lost := tr.Lost
	tr.Unlock()
	if lost != 0 {
		fmt.Printf("trace: %v events lost\n", lost)
	}
	k.Shutdown()

	if *png != "" {
		if err := render(*png, evs, *ncores, span); err != nil {
			fmt.Printf("png: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %v\n", *png)
	}
}
