package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"ember/emberos/abi"
)

// Trap handles a syscall from the thread running on coreID. The thread's
// argument registers are read through its context and the typed result is
// written back verbatim, now or when the thread is woken.
func (k *Kernel) Trap(coreID int) error {
	if coreID < 0 || coreID >= len(k.cores) {
		return fmt.Errorf("kernel: no core %d", coreID)
	}
	c := k.cores[coreID]
	t := c.current
	if !k.live(t) {
		return fmt.Errorf("kernel: trap on idle core %d", coreID)
	}
	p := k.procs[t.ref.pid-1]

	t.ctx.Save(c.hw)
	args := t.ctx.SyscallArgs()
	res := k.dispatch(p, t, args)

	code := abi.ErrNone
	if res.Kind == abi.ResultError {
		code = abi.Error(res.Words[0])
		k.log.Debug("syscall failed",
			zap.Uint8("pid", uint8(t.ref.pid)),
			zap.Uint8("tid", uint8(t.ref.tid)),
			zap.Stringer("call", abi.SysCallNumber(args[0])),
			zap.Stringer("err", code),
		)
	}
	k.obs.Syscall(abi.SysCallNumber(args[0]), res.Kind, code)

	if k.live(t) && res.Kind != abi.ResultBlockedProcess {
		switch t.state {
		case ThreadRunning:
			t.ctx.SetSyscallResult(res.Registers())
		case ThreadReady:
			t.setPending(res)
		}
	}
	k.reschedule(c)
	k.scheduleIdle()
	return nil
}

// dispatch runs exactly one handler for the decoded call.
func (k *Kernel) dispatch(p *Process, t *Thread, args [8]uintptr) abi.Result {
	call, err := abi.Decode(args)
	if err != nil {
		return abi.ErrorResult(err)
	}

	switch c := call.(type) {
	case abi.MapMemory:
		r, err := k.mem.Map(p.space, c.Virt, c.Size, c.Flags)
		if err != nil {
			return abi.ErrorResult(err)
		}
		return abi.MemoryRangeResult(r)
	case abi.UnmapMemory:
		return k.returnResult(k.mem.Unmap(p.space, c.Range))
	case abi.UpdateMemoryFlags:
		return k.returnResult(k.mem.Protect(p.space, c.Range, c.Flags))
	case abi.Yield:
		return k.yield(t)

	case abi.CreateServer:
		sid, err := k.newSID()
		if err != nil {
			return abi.ErrorResult(abi.ErrInternalError)
		}
		return k.createServer(p, sid)
	case abi.CreateServerWithAddress:
		return k.createServer(p, c.SID)
	case abi.CreateServerID:
		sid, err := k.newSID()
		if err != nil {
			return abi.ErrorResult(abi.ErrInternalError)
		}
		return abi.ServerIDResult(sid)
	case abi.DestroyServer:
		return k.destroyServerSyscall(p, c.SID)
	case abi.Connect:
		return k.connect(p, c.SID)
	case abi.TryConnect:
		return k.connect(p, c.SID)
	case abi.Disconnect:
		return k.disconnect(p, c.CID)

	case abi.SendMessage:
		return k.send(p, t, c.CID, c.Message, false)
	case abi.TrySendMessage:
		return k.send(p, t, c.CID, c.Message, true)
	case abi.ReceiveMessage:
		return k.receive(p, t, c.SID, false)
	case abi.TryReceiveMessage:
		return k.receive(p, t, c.SID, true)
	case abi.ReturnScalar1:
		return k.returnResult(k.returnScalar(p, c.Sender, abi.Scalar1Result(c.Arg)))
	case abi.ReturnScalar2:
		return k.returnResult(k.returnScalar(p, c.Sender, abi.Scalar2Result(c.Arg1, c.Arg2)))
	case abi.ReturnScalar5:
		return k.returnResult(k.returnScalar(p, c.Sender, abi.Scalar5Result(c.Args)))
	case abi.ReturnMemory:
		return k.returnResult(k.returnMemory(p, c.Sender, c.Range, c.Offset, c.Valid))
	case abi.ReplyAndReceiveNext:
		return k.replyAndReceiveNext(p, t, c)
	case abi.PreferReceiver:
		return k.preferReceiver(p, c.SID, c.TID)

	case abi.CreateThread:
		nt, err := k.spawn(p, c.Entry, c.Stack, c.Args)
		if err != nil {
			return abi.ErrorResult(err)
		}
		return abi.ThreadIDResult(nt.ref.tid)
	case abi.ExitThread:
		k.exitThread(p, t, c.Code)
		return blockedResult
	case abi.JoinThread:
		return k.join(p, t, c.TID)
	case abi.GetThreadID:
		return abi.ThreadIDResult(t.ref.tid)
	case abi.GetProcessID:
		return abi.ProcessIDResult(p.pid)
	case abi.CreateProcess:
		pid, err := k.createProcess(p.pid, "", c.Entry, c.Arg)
		if err != nil {
			return abi.ErrorResult(err)
		}
		return abi.ProcessIDResult(pid)
	case abi.TerminateProcess:
		return k.terminateSyscall(p, c.PID, c.Code)
	case abi.Shutdown:
		k.shutdown = true
		k.log.Info("shutdown requested", zap.Uint8("pid", uint8(p.pid)))
		return abi.Ok()
	}
	return abi.ErrorResult(abi.ErrUnhandledSyscall)
}
