package kernel

import (
	"go.uber.org/zap"

	"ember/emberos/abi"
	"ember/emberos/arch"
)

// SuspendForDebug stops scheduling pid's threads. Running threads are
// switched out at their next trap.
func (k *Kernel) SuspendForDebug(pid abi.PID) error {
	p := k.process(pid)
	if p == nil {
		return abi.ErrProcessNotFound
	}
	if p.debug {
		return abi.ErrDebugInProgress
	}
	p.debug = true
	for _, c := range k.cores {
		if t := c.current; k.live(t) && t.ref.pid == pid {
			c.resched = true
		}
	}
	k.log.Info("process suspended for debug", zap.Uint8("pid", uint8(pid)))
	return nil
}

// ResumeFromDebug lets pid's threads run again, in their original queue order.
func (k *Kernel) ResumeFromDebug(pid abi.PID) error {
	p := k.process(pid)
	if p == nil {
		return abi.ErrProcessNotFound
	}
	if !p.debug {
		return abi.ErrInvalidPID
	}
	p.debug = false
	k.log.Info("process resumed", zap.Uint8("pid", uint8(pid)))
	k.scheduleIdle()
	return nil
}

// Threads lists pid's live threads in TID order.
func (k *Kernel) Threads(pid abi.PID) ([]ThreadInfo, error) {
	p := k.process(pid)
	if p == nil {
		return nil, abi.ErrProcessNotFound
	}
	var out []ThreadInfo
	for _, t := range p.threads {
		if t != nil {
			out = append(out, t.info())
		}
	}
	return out, nil
}

// ThreadState reports the state of one thread; ThreadFree if it does not exist.
func (k *Kernel) ThreadState(pid abi.PID, tid abi.TID) ThreadState {
	t := k.thread(threadRef{pid: pid, tid: tid})
	if t == nil {
		return ThreadFree
	}
	return t.state
}

// Context returns the saved register record of a thread. The hosted backend
// uses it to pass syscall words; the pointer identifies the thread for its
// whole lifetime.
func (k *Kernel) Context(pid abi.PID, tid abi.TID) (arch.ThreadContext, bool) {
	t := k.thread(threadRef{pid: pid, tid: tid})
	if t == nil {
		return nil, false
	}
	return t.ctx, true
}

func (k *Kernel) debugThread(pid abi.PID, tid abi.TID) (*Thread, error) {
	p := k.process(pid)
	if p == nil {
		return nil, abi.ErrProcessNotFound
	}
	if !p.debug {
		return nil, abi.ErrAccessDenied
	}
	t := k.thread(threadRef{pid: pid, tid: tid})
	if t == nil {
		return nil, abi.ErrInvalidThread
	}
	if t.state == ThreadRunning {
		return nil, abi.ErrDebugInProgress
	}
	return t, nil
}

// ReadRegister reads register i of a thread in a process held for debugging.
func (k *Kernel) ReadRegister(pid abi.PID, tid abi.TID, i int) (uintptr, error) {
	t, err := k.debugThread(pid, tid)
	if err != nil {
		return 0, err
	}
	v, ok := t.ctx.Register(i)
	if !ok {
		return 0, abi.ErrInvalidLimit
	}
	return v, nil
}

// WriteRegister writes register i of a thread in a process held for debugging.
func (k *Kernel) WriteRegister(pid abi.PID, tid abi.TID, i int, v uintptr) error {
	t, err := k.debugThread(pid, tid)
	if err != nil {
		return err
	}
	if !t.ctx.SetRegister(i, v) {
		return abi.ErrInvalidLimit
	}
	return nil
}

// ReadMemory copies pid's memory at addr into p.
func (k *Kernel) ReadMemory(pid abi.PID, addr uintptr, p []byte) error {
	proc := k.process(pid)
	if proc == nil {
		return abi.ErrProcessNotFound
	}
	return k.mem.Read(proc.space, addr, p)
}

// WriteMemory copies p into pid's memory at addr.
func (k *Kernel) WriteMemory(pid abi.PID, addr uintptr, p []byte) error {
	proc := k.process(pid)
	if proc == nil {
		return abi.ErrProcessNotFound
	}
	return k.mem.Write(proc.space, addr, p)
}

// ProcessInfo is a read-only view of a process.
type ProcessInfo struct {
	PID         abi.PID
	PPID        abi.PID
	Name        string
	State       ProcessState
	Threads     []ThreadInfo
	Connections int
	Pages       int
}

// Snapshot is a comparable view of every kernel table.
type Snapshot struct {
	FreePages int
	Processes []ProcessInfo
	Servers   []ServerInfo
}

// Snapshot captures the live tables.
func (k *Kernel) Snapshot() Snapshot {
	s := Snapshot{FreePages: k.mem.FreePages()}
	for _, p := range k.procs {
		if p == nil || p.zombie {
			continue
		}
		in := ProcessInfo{
			PID:         p.pid,
			PPID:        p.ppid,
			Name:        p.name,
			State:       p.State(),
			Connections: p.conns.live(),
			Pages:       p.space.Pages(),
		}
		for _, t := range p.threads {
			if t != nil {
				in.Threads = append(in.Threads, t.info())
			}
		}
		s.Processes = append(s.Processes, in)
	}
	for _, srv := range k.servers {
		if srv != nil {
			s.Servers = append(s.Servers, srv.info())
		}
	}
	return s
}

// ThreadCore returns the core a thread is bound to.
func (k *Kernel) ThreadCore(pid abi.PID, tid abi.TID) (int, bool) {
	t := k.thread(threadRef{pid: pid, tid: tid})
	if t == nil {
		return 0, false
	}
	return t.core, true
}
