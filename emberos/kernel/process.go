package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"ember/emberos/abi"
	"ember/emberos/mem"
)

// ProcessState is the lifecycle state of a process slot.
type ProcessState uint8

const (
	ProcessFree ProcessState = iota
	// ProcessSetup has threads that have never been scheduled.
	ProcessSetup
	ProcessRunning
	// ProcessSleeping has every thread blocked.
	ProcessSleeping
	// ProcessDebug is suspended for a debugger; its threads are not scheduled.
	ProcessDebug
	// ProcessZombie has terminated. The slot keeps the exit code until reused.
	ProcessZombie
)

func (s ProcessState) String() string {
	switch s {
	case ProcessFree:
		return "free"
	case ProcessSetup:
		return "setup"
	case ProcessRunning:
		return "running"
	case ProcessSleeping:
		return "sleeping"
	case ProcessDebug:
		return "debug"
	case ProcessZombie:
		return "zombie"
	default:
		return fmt.Sprintf("{ProcessState %d}", uint8(s))
	}
}

// Process owns an address space, threads, connections and servers.
type Process struct {
	pid  abi.PID
	ppid abi.PID
	name string

	started bool
	debug   bool
	zombie  bool
	dying   bool
	code    uintptr

	space   *mem.Space
	threads []*Thread
	exited  map[abi.TID]uintptr
	conns   connTable
}

// State derives the process state from its threads.
func (p *Process) State() ProcessState {
	switch {
	case p == nil:
		return ProcessFree
	case p.zombie:
		return ProcessZombie
	case p.debug:
		return ProcessDebug
	case !p.started:
		return ProcessSetup
	}
	for _, t := range p.threads {
		if t != nil && (t.state == ThreadReady || t.state == ThreadRunning) {
			return ProcessRunning
		}
	}
	return ProcessSleeping
}

func (p *Process) liveThreads() int {
	n := 0
	for _, t := range p.threads {
		if t != nil {
			n++
		}
	}
	return n
}

// process returns the live process pid, or nil.
func (k *Kernel) process(pid abi.PID) *Process {
	if pid == 0 || int(pid) > len(k.procs) {
		return nil
	}
	p := k.procs[pid-1]
	if p == nil || p.zombie {
		return nil
	}
	return p
}

func (k *Kernel) allocPID() (abi.PID, bool) {
	for i, p := range k.procs {
		if p == nil {
			return abi.PID(i + 1), true
		}
	}
	for i, p := range k.procs {
		if p.zombie {
			return abi.PID(i + 1), true
		}
	}
	return 0, false
}

// CreateProcess starts a process whose main thread enters entry with arg in
// the first argument register. A zero parent marks a boot process.
func (k *Kernel) CreateProcess(parent abi.PID, name string, entry, arg uintptr) (abi.PID, error) {
	defer k.scheduleIdle()
	return k.createProcess(parent, name, entry, arg)
}

func (k *Kernel) createProcess(parent abi.PID, name string, entry, arg uintptr) (abi.PID, error) {
	pid, ok := k.allocPID()
	if !ok {
		return 0, abi.ErrOutOfMemory
	}
	p := &Process{
		pid:     pid,
		ppid:    parent,
		name:    name,
		space:   k.mem.NewSpace(pid, k.cfg.Layout),
		threads: make([]*Thread, k.cfg.MaxThreads),
		exited:  make(map[abi.TID]uintptr),
		conns:   newConnTable(k.cfg.MaxConnections),
	}
	k.procs[pid-1] = p
	if _, err := k.spawn(p, entry, 0, [4]uintptr{arg}); err != nil {
		k.procs[pid-1] = nil
		return 0, err
	}

	k.log.Info("process created",
		zap.Uint8("pid", uint8(pid)),
		zap.Uint8("ppid", uint8(parent)),
		zap.String("name", name),
	)
	k.obs.Processes(k.LiveProcesses())
	return pid, nil
}

// Terminate ends pid from outside any process, as a supervisor would.
func (k *Kernel) Terminate(pid abi.PID, code uintptr) error {
	p := k.process(pid)
	if p == nil {
		return abi.ErrProcessNotFound
	}
	k.terminate(p, code)
	k.scheduleIdle()
	return nil
}

// ExitCode returns the code of a terminated process whose slot is not yet reused.
func (k *Kernel) ExitCode(pid abi.PID) (uintptr, bool) {
	if pid == 0 || int(pid) > len(k.procs) {
		return 0, false
	}
	p := k.procs[pid-1]
	if p == nil || !p.zombie {
		return 0, false
	}
	return p.code, true
}

// ProcessState reports the state of pid.
func (k *Kernel) ProcessState(pid abi.PID) ProcessState {
	if pid == 0 || int(pid) > len(k.procs) {
		return ProcessFree
	}
	return k.procs[pid-1].State()
}

// LiveProcesses counts processes that have not terminated.
func (k *Kernel) LiveProcesses() int {
	n := 0
	for _, p := range k.procs {
		if p != nil && !p.zombie {
			n++
		}
	}
	return n
}

func (k *Kernel) terminateSyscall(p *Process, target abi.PID, code uintptr) abi.Result {
	if target == 0 || target == p.pid {
		k.terminate(p, code)
		return blockedResult
	}
	victim := k.process(target)
	if victim == nil {
		return abi.ErrorResult(abi.ErrProcessNotFound)
	}
	if victim.ppid != p.pid {
		return abi.ErrorResult(abi.ErrProcessNotChild)
	}
	k.terminate(victim, code)
	return abi.Ok()
}

// terminate tears p down. Peers blocked on p's servers are woken with
// ServerNotFound and every lend involving p is undone before its pages are
// released.
func (k *Kernel) terminate(p *Process, code uintptr) {
	if p.dying {
		return
	}
	p.dying = true

	for _, s := range k.servers {
		if s != nil && s.owner == p.pid {
			k.destroyServer(s)
		}
	}
	for _, s := range k.servers {
		if s != nil {
			k.dropSender(s, p)
		}
	}
	for _, t := range p.threads {
		if t != nil {
			t.stack = abi.Range{}
			k.freeThread(p, t)
		}
	}
	if leaked := k.mem.Release(p.space); leaked > 0 {
		k.fatal(threadRef{pid: p.pid}, "process %d released %d pages still lent", p.pid, leaked)
	}

	p.space = nil
	p.conns = connTable{}
	p.exited = nil
	p.zombie = true
	p.debug = false
	p.code = code

	k.log.Info("process terminated",
		zap.Uint8("pid", uint8(p.pid)),
		zap.String("name", p.name),
		zap.Uintptr("code", code),
	)
	k.obs.Processes(k.LiveProcesses())
}

// SetName labels pid in logs and snapshots.
func (k *Kernel) SetName(pid abi.PID, name string) error {
	p := k.process(pid)
	if p == nil {
		return abi.ErrProcessNotFound
	}
	p.name = name
	return nil
}
