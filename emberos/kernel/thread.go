package kernel

import (
	"fmt"

	"ember/emberos/abi"
	"ember/emberos/arch"
)

// ThreadState is the scheduling state of one thread.
type ThreadState uint8

const (
	ThreadFree ThreadState = iota
	ThreadReady
	ThreadRunning
	// ThreadSleepingOnServer waits in a server's receiver list.
	ThreadSleepingOnServer
	// ThreadBlockedOnReturn waits for the reply to a blocking message.
	ThreadBlockedOnReturn
	// ThreadBlockedOnQueue waits for a free slot in a full server queue.
	ThreadBlockedOnQueue
	// ThreadBlockedOnJoin waits for a sibling thread to exit.
	ThreadBlockedOnJoin
)

func (s ThreadState) String() string {
	switch s {
	case ThreadFree:
		return "free"
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadSleepingOnServer:
		return "sleeping_on_server"
	case ThreadBlockedOnReturn:
		return "blocked_on_return"
	case ThreadBlockedOnQueue:
		return "blocked_on_queue"
	case ThreadBlockedOnJoin:
		return "blocked_on_join"
	default:
		return fmt.Sprintf("{ThreadState %d}", uint8(s))
	}
}

func (s ThreadState) blocked() bool {
	return s >= ThreadSleepingOnServer
}

type threadRef struct {
	pid abi.PID
	tid abi.TID
}

func (r threadRef) valid() bool { return r.pid != 0 && r.tid != 0 }

type queuedSend struct {
	server uint8
	msg    abi.Message
}

// Thread is one schedulable context inside a process.
type Thread struct {
	ref   threadRef
	state ThreadState
	ctx   arch.ThreadContext
	core  int

	// pending is written into the context on the next switch-in.
	pending    abi.Result
	hasPending bool

	waitServer uint8
	send       *queuedSend
	joinTID    abi.TID

	// stack is the range the kernel mapped for this thread, if any.
	stack abi.Range
}

func (t *Thread) setPending(r abi.Result) {
	t.pending = r
	t.hasPending = true
}

// ThreadInfo is a read-only view of a thread.
type ThreadInfo struct {
	TID   abi.TID
	State ThreadState
	Core  int
}

func (t *Thread) info() ThreadInfo {
	return ThreadInfo{TID: t.ref.tid, State: t.state, Core: t.core}
}

func (k *Kernel) thread(ref threadRef) *Thread {
	p := k.process(ref.pid)
	if p == nil || ref.tid == 0 || int(ref.tid) > len(p.threads) {
		return nil
	}
	return p.threads[ref.tid-1]
}

// spawn allocates a thread slot in p and queues it on a core.
func (k *Kernel) spawn(p *Process, entry, stack uintptr, args [4]uintptr) (*Thread, error) {
	slot := -1
	for i, t := range p.threads {
		if t == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, abi.ErrThreadNotAvailable
	}

	t := &Thread{
		ref:  threadRef{pid: p.pid, tid: abi.TID(slot + 1)},
		ctx:  k.arch.NewContext(),
		core: k.nextCore,
	}
	if stack == 0 && k.cfg.StackPages > 0 {
		r, err := k.mem.MapStack(p.space, uintptr(k.cfg.StackPages)*abi.PageSize)
		if err != nil {
			return nil, err
		}
		t.stack = r
		stack = r.End()
	}
	k.nextCore = (k.nextCore + 1) % len(k.cores)
	t.ctx.SetEntry(entry, stack, args)

	p.threads[slot] = t
	delete(p.exited, t.ref.tid)
	k.makeReady(t, false)
	return t, nil
}

// exitThread frees t. Joiners are woken with code; the process ends with its
// last thread.
func (k *Kernel) exitThread(p *Process, t *Thread, code uintptr) {
	woke := false
	for _, o := range p.threads {
		if o != nil && o.state == ThreadBlockedOnJoin && o.joinTID == t.ref.tid {
			o.joinTID = 0
			k.wake(o, abi.Scalar1Result(code))
			woke = true
		}
	}
	if !woke {
		p.exited[t.ref.tid] = code
	}
	k.freeThread(p, t)

	if p.liveThreads() == 0 {
		k.terminate(p, code)
	}
}

func (k *Kernel) freeThread(p *Process, t *Thread) {
	i := int(t.ref.tid) - 1
	if p.threads[i] != t {
		k.fatal(t.ref, "double free of thread slot %d", t.ref.tid)
	}
	if !t.stack.IsZero() && p.space != nil {
		if err := k.mem.UnmapStack(p.space, t.stack); err != nil {
			k.fatal(t.ref, "unmap thread stack %s: %v", t.stack, err)
		}
	}
	for _, s := range k.servers {
		if s != nil && s.owner == p.pid && s.preferred == t.ref.tid {
			s.preferred = 0
		}
	}
	t.state = ThreadFree
	p.threads[i] = nil
	k.vacate(t)
}

func (k *Kernel) join(p *Process, t *Thread, tid abi.TID) abi.Result {
	if tid == t.ref.tid || int(tid) > len(p.threads) {
		return abi.ErrorResult(abi.ErrInvalidThread)
	}
	if code, ok := p.exited[tid]; ok {
		delete(p.exited, tid)
		return abi.Scalar1Result(code)
	}
	if p.threads[tid-1] == nil {
		return abi.ErrorResult(abi.ErrInvalidThread)
	}
	t.joinTID = tid
	k.block(t, ThreadBlockedOnJoin)
	return blockedResult
}
