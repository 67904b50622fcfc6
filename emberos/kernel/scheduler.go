package kernel

import (
	"ember/emberos/abi"
	"ember/emberos/arch"
)

// core is the per-CPU scheduling state. IPC wakeups are served before plain
// ready threads; both queues are FIFO.
type core struct {
	id int
	hw arch.Core

	ipc   []*Thread
	ready []*Thread

	current *Thread
	quantum int
	resched bool
}

// makeReady queues t on its core. ipc marks a wakeup caused by a message or
// reply.
func (k *Kernel) makeReady(t *Thread, ipc bool) {
	c := k.cores[t.core]
	if c.current == t {
		c.current = nil
	}
	t.state = ThreadReady
	if ipc {
		c.ipc = append(c.ipc, t)
	} else {
		c.ready = append(c.ready, t)
	}
}

// block suspends t. Its core picks another thread at the end of the entry point.
func (k *Kernel) block(t *Thread, state ThreadState) {
	if !state.blocked() {
		k.fatal(t.ref, "block into %s", state)
	}
	t.state = state
}

// wake resumes a blocked thread with res attached.
func (k *Kernel) wake(t *Thread, res abi.Result) {
	if !t.state.blocked() {
		k.fatal(t.ref, "wake of %s thread", t.state)
	}
	t.setPending(res)
	k.makeReady(t, true)
}

// vacate removes a freed thread from its core.
func (k *Kernel) vacate(t *Thread) {
	if c := k.cores[t.core]; c.current == t {
		c.current = nil
	}
}

func (k *Kernel) live(t *Thread) bool {
	return t != nil && k.thread(t.ref) == t
}

// pick takes the oldest schedulable thread, IPC wakeups first. Threads of a
// process held for debugging stay queued in order.
func (k *Kernel) pick(c *core) *Thread {
	for _, q := range []*[]*Thread{&c.ipc, &c.ready} {
		n := len(*q)
		for i := 0; i < n; i++ {
			t := (*q)[0]
			*q = (*q)[1:]
			if !k.live(t) || t.state != ThreadReady {
				continue
			}
			if k.procs[t.ref.pid-1].debug {
				*q = append(*q, t)
				continue
			}
			return t
		}
	}
	return nil
}

// switchIn loads the next thread onto an idle core and applies the result
// it was woken with.
func (k *Kernel) switchIn(c *core) {
	t := k.pick(c)
	if t == nil {
		return
	}
	t.state = ThreadRunning
	k.procs[t.ref.pid-1].started = true
	if t.hasPending {
		t.ctx.SetSyscallResult(t.pending.Registers())
		t.pending = abi.Result{}
		t.hasPending = false
	}
	t.ctx.Restore(c.hw)
	c.current = t
	c.quantum = k.cfg.QuantumTicks
	k.obs.ContextSwitch(c.id)
}

// reschedule runs at the end of a trap on c. The current thread keeps the
// core unless it blocked, yielded, exhausted its quantum or was suspended.
func (k *Kernel) reschedule(c *core) {
	t := c.current
	if t != nil && k.live(t) && t.state == ThreadRunning {
		if !c.resched && !k.procs[t.ref.pid-1].debug {
			t.ctx.Restore(c.hw)
			return
		}
		k.makeReady(t, false)
	}
	c.current = nil
	c.resched = false
	k.switchIn(c)
}

// scheduleIdle fills every idle core. Every entry point ends with it.
func (k *Kernel) scheduleIdle() {
	for _, c := range k.cores {
		if c.current != nil && !k.live(c.current) {
			c.current = nil
		}
		if c.current == nil {
			k.switchIn(c)
		}
	}
}

func (k *Kernel) yield(t *Thread) abi.Result {
	k.makeReady(t, false)
	return abi.Ok()
}

// Tick advances time by n ticks. A thread that used up its quantum is
// switched out at its next trap.
func (k *Kernel) Tick(n int) {
	k.now += uint64(n)
	for _, c := range k.cores {
		if c.current == nil {
			continue
		}
		c.quantum -= n
		if c.quantum <= 0 {
			c.resched = true
		}
	}
	k.scheduleIdle()
}

// Current returns the thread running on core, if any.
func (k *Kernel) Current(coreID int) (abi.PID, abi.TID, bool) {
	if coreID < 0 || coreID >= len(k.cores) {
		return 0, 0, false
	}
	t := k.cores[coreID].current
	if !k.live(t) {
		return 0, 0, false
	}
	return t.ref.pid, t.ref.tid, true
}

// Cores returns the number of cores.
func (k *Kernel) Cores() int { return len(k.cores) }
