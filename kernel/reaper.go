package kernel

import "fmt"

import "github.com/Meulengracht/MollenOS-sub017/caller"
import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/tcb"

// the reaper sleeps on reapsem, which every Exit signals, and polls every
// Reaperms in case a signal went missing. a zombie still running on its
// core is left for a later pass.
func (k *Kernel_t) reaper(t *tcb.Tcb_t, _ interface{}) {
	for {
		k.reapsem.Ptimed(t, k.conf.Reaperms)
		for k.Reapzombies() != 0 {
			k.Sleep(t, 1)
		}
	}
}

// Reapzombies frees every zombie that no core is running and returns the
// number left for later
func (k *Kernel_t) Reapzombies() int {
	var dead []*tcb.Tcb_t
	deferred := 0
	k.zlk.Lock()
	k.zombies.Iter(func(z *tcb.Tcb_t) bool {
		if k.cpu(z.Core).Sched.Running() == z {
			deferred++
		} else {
			dead = append(dead, z)
		}
		return false
	})
	for _, z := range dead {
		k.zombies.Remove(z)
	}
	k.zlk.Unlock()

	for _, z := range dead {
		k.destroy(z)
	}
	k.Stats.Defers.Add(int64(deferred))
	return deferred
}

func (k *Kernel_t) destroy(t *tcb.Tcb_t) {
	if !t.Hasflag(defs.TF_FINISHED) || t.State() != tcb.ST_ZOMBIE {
		caller.Kpanic("reaping live thread %v", t)
	}
	pid := t.Pid
	proc := t.Hasflag(defs.TF_PROCESS)
	if Verbose {
		fmt.Printf("reaper: %v\n", t)
	}
	k.Dead.Add(&t.Acct)
	k.cpu(t.Core).Sched.Release(t)
	k.arch.Freecontext(t.Ctx)
	t.Ctx = nil
	k.unmkthread(t)
	k.Stats.Reaped.Inc()
	if proc && k.conf.Procreclaim != nil {
		k.conf.Procreclaim(pid)
	}
}

// Iszombie reports whether t is on the zombie list
func (k *Kernel_t) Iszombie(t *tcb.Tcb_t) bool {
	k.zlk.Lock()
	defer k.zlk.Unlock()
	return t.Ison(&k.zombies)
}

// Nzombies returns the length of the zombie list
func (k *Kernel_t) Nzombies() int {
	k.zlk.Lock()
	defer k.zlk.Unlock()
	return k.zombies.Len()
}
