package hosted

import (
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"

	"ember/emberos/abi"
	hostarch "ember/emberos/arch/hosted"
)

// connectBackoff is how long Connect sleeps between attempts while the
// server does not exist yet.
const connectBackoff = time.Millisecond

// Thread is the userland view of one simulated thread. Its methods may only
// be called from the goroutine the machine started for it.
type Thread struct {
	m    *Machine
	pid  abi.PID
	tid  abi.TID
	core int
	ctx  *hostarch.Context
}

func (th *Thread) PID() abi.PID { return th.pid }
func (th *Thread) TID() abi.TID { return th.tid }

// alive reports whether the kernel still knows this exact thread and the
// machine has not halted. Callers hold m.mu.
func (th *Thread) alive() bool {
	if th.m.panic != nil {
		return false
	}
	ctx, ok := th.m.k.Context(th.pid, th.tid)
	return ok && ctx == th.ctx
}

// await waits until the thread holds its core with a result ready. It
// returns false once the thread no longer exists. Callers hold m.mu.
func (th *Thread) await() bool {
	for {
		if !th.alive() {
			return false
		}
		if pid, tid, ok := th.m.k.Current(th.core); ok && pid == th.pid && tid == th.tid {
			if _, ready := th.ctx.Result(); ready {
				return true
			}
		}
		th.m.cores[th.core].Wait()
	}
}

// syscall traps into the kernel. A thread that the kernel frees while it
// waits never returns.
func (th *Thread) syscall(c abi.Call) abi.Result {
	m := th.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !th.await() {
		runtime.Goexit()
	}
	th.ctx.Trap(c.Encode())
	if err := m.trap(th.core); err != nil {
		if !errors.Is(err, ErrKernelPanic) {
			m.log.Error("trap", zap.Error(err), zap.Uint8("pid", uint8(th.pid)))
		}
		runtime.Goexit()
	}
	m.settle()
	if !th.await() {
		runtime.Goexit()
	}
	w, _ := th.ctx.Result()
	return abi.DecodeResult(w)
}

// trap enters the kernel for the thread on core. Callers hold m.mu.
func (m *Machine) trap(core int) (err error) {
	defer m.recoverKernel(&err)
	return m.k.Trap(core)
}

// Yield gives the core to the next ready thread.
func (th *Thread) Yield() {
	th.syscall(abi.Yield{})
}

// ProcessID asks the kernel for the caller's PID.
func (th *Thread) ProcessID() (abi.PID, error) {
	r := th.syscall(abi.GetProcessID{})
	if err := r.Expect(abi.ResultProcessID); err != nil {
		return 0, err
	}
	return r.PID(), nil
}

// ThreadID asks the kernel for the caller's TID.
func (th *Thread) ThreadID() (abi.TID, error) {
	r := th.syscall(abi.GetThreadID{})
	if err := r.Expect(abi.ResultThreadID); err != nil {
		return 0, err
	}
	return r.TID(), nil
}

// CreateServer creates a server with a kernel-chosen SID.
func (th *Thread) CreateServer() (abi.SID, error) {
	r := th.syscall(abi.CreateServer{})
	if err := r.Expect(abi.ResultServerID); err != nil {
		return abi.SID{}, err
	}
	return r.SID(), nil
}

// CreateServerWithAddress creates a server at a well-known SID.
func (th *Thread) CreateServerWithAddress(sid abi.SID) error {
	return th.syscall(abi.CreateServerWithAddress{SID: sid}).Expect(abi.ResultServerID)
}

// NewServerID draws a fresh unguessable SID without creating a server.
func (th *Thread) NewServerID() (abi.SID, error) {
	r := th.syscall(abi.CreateServerID{})
	if err := r.Expect(abi.ResultServerID); err != nil {
		return abi.SID{}, err
	}
	return r.SID(), nil
}

func (th *Thread) DestroyServer(sid abi.SID) error {
	return th.syscall(abi.DestroyServer{SID: sid}).Err()
}

// PreferReceiver asks that tid be woken first for messages to sid.
func (th *Thread) PreferReceiver(sid abi.SID, tid abi.TID) error {
	return th.syscall(abi.PreferReceiver{SID: sid, TID: tid}).Err()
}

// Connect returns a connection to sid, waiting for the server to appear.
func (th *Thread) Connect(sid abi.SID) (abi.CID, error) {
	for {
		cid, err := th.TryConnect(sid)
		if !errors.Is(err, abi.ErrServerNotFound) {
			return cid, err
		}
		th.Yield()
		time.Sleep(connectBackoff)
	}
}

// TryConnect returns a connection to sid or ErrServerNotFound.
func (th *Thread) TryConnect(sid abi.SID) (abi.CID, error) {
	r := th.syscall(abi.TryConnect{SID: sid})
	if err := r.Expect(abi.ResultConnectionID); err != nil {
		return 0, err
	}
	return r.CID(), nil
}

func (th *Thread) Disconnect(cid abi.CID) error {
	return th.syscall(abi.Disconnect{CID: cid}).Err()
}

// Send delivers msg, blocking while the server queue is full. Blocking
// kinds return the reply.
func (th *Thread) Send(cid abi.CID, msg abi.Message) (abi.Result, error) {
	r := th.syscall(abi.SendMessage{CID: cid, Message: msg})
	return r, r.Err()
}

// TrySend is Send failing with ErrServerQueueFull instead of waiting for
// a free slot.
func (th *Thread) TrySend(cid abi.CID, msg abi.Message) (abi.Result, error) {
	r := th.syscall(abi.TrySendMessage{CID: cid, Message: msg})
	return r, r.Err()
}

// SendScalar posts a scalar that needs no reply.
func (th *Thread) SendScalar(cid abi.CID, id uintptr, args ...uintptr) error {
	var a [4]uintptr
	copy(a[:], args)
	_, err := th.Send(cid, abi.Scalar(id, a[0], a[1], a[2], a[3]))
	return err
}

// BlockingScalar sends a scalar and waits for the reply words.
func (th *Thread) BlockingScalar(cid abi.CID, id uintptr, args ...uintptr) ([5]uintptr, error) {
	var a [4]uintptr
	copy(a[:], args)
	r, err := th.Send(cid, abi.BlockingScalar(id, a[0], a[1], a[2], a[3]))
	if err != nil {
		return [5]uintptr{}, err
	}
	switch r.Kind {
	case abi.ResultScalar1, abi.ResultScalar2, abi.ResultScalar5:
		return r.Scalars(), nil
	}
	return [5]uintptr{}, r.Expect(abi.ResultScalar1)
}

// Lend shares buf read-only until the server replies.
func (th *Thread) Lend(cid abi.CID, id uintptr, buf abi.Range, offset, valid uintptr) (abi.Result, error) {
	return th.Send(cid, abi.Borrow(id, buf, offset, valid))
}

// LendMut shares buf writable until the server replies.
func (th *Thread) LendMut(cid abi.CID, id uintptr, buf abi.Range, offset, valid uintptr) (abi.Result, error) {
	return th.Send(cid, abi.MutableBorrow(id, buf, offset, valid))
}

// Move gives buf to the server for good.
func (th *Thread) Move(cid abi.CID, id uintptr, buf abi.Range, offset, valid uintptr) error {
	_, err := th.Send(cid, abi.Move(id, buf, offset, valid))
	return err
}

// Receive waits for the next message on a server the caller owns.
func (th *Thread) Receive(sid abi.SID) (abi.Envelope, error) {
	r := th.syscall(abi.ReceiveMessage{SID: sid})
	if err := r.Expect(abi.ResultMessage); err != nil {
		return abi.Envelope{}, err
	}
	return r.Envelope(), nil
}

// TryReceive returns false when no message is queued.
func (th *Thread) TryReceive(sid abi.SID) (abi.Envelope, bool, error) {
	r := th.syscall(abi.TryReceiveMessage{SID: sid})
	switch {
	case r.Kind == abi.ResultOk:
		return abi.Envelope{}, false, nil
	case r.Kind == abi.ResultMessage:
		return r.Envelope(), true, nil
	}
	return abi.Envelope{}, false, r.Expect(abi.ResultMessage)
}

func (th *Thread) ReturnScalar1(s abi.MessageSender, a uintptr) error {
	return th.syscall(abi.ReturnScalar1{Sender: s, Arg: a}).Err()
}

func (th *Thread) ReturnScalar2(s abi.MessageSender, a, b uintptr) error {
	return th.syscall(abi.ReturnScalar2{Sender: s, Arg1: a, Arg2: b}).Err()
}

func (th *Thread) ReturnScalar5(s abi.MessageSender, args [5]uintptr) error {
	return th.syscall(abi.ReturnScalar5{Sender: s, Args: args}).Err()
}

// ReturnMemory hands a lent buffer back with the reply offset and length.
func (th *Thread) ReturnMemory(s abi.MessageSender, buf abi.Range, offset, valid uintptr) error {
	return th.syscall(abi.ReturnMemory{Sender: s, Range: buf, Offset: offset, Valid: valid}).Err()
}

// ReplyAndReceiveNext replies to s and waits for the next message on the
// same server.
func (th *Thread) ReplyAndReceiveNext(s abi.MessageSender, kind abi.ReplyKind, args [5]uintptr) (abi.Envelope, error) {
	r := th.syscall(abi.ReplyAndReceiveNext{Sender: s, Reply: kind, Args: args})
	if err := r.Expect(abi.ResultMessage); err != nil {
		return abi.Envelope{}, err
	}
	return r.Envelope(), nil
}

// MapMemory maps size bytes; a zero virt lets the kernel choose.
func (th *Thread) MapMemory(virt, size uintptr, flags abi.MemoryFlags) (abi.Range, error) {
	r := th.syscall(abi.MapMemory{Virt: virt, Size: size, Flags: flags})
	if err := r.Expect(abi.ResultMemoryRange); err != nil {
		return abi.Range{}, err
	}
	return r.Range(), nil
}

func (th *Thread) UnmapMemory(r abi.Range) error {
	return th.syscall(abi.UnmapMemory{Range: r}).Err()
}

func (th *Thread) Protect(r abi.Range, flags abi.MemoryFlags) error {
	return th.syscall(abi.UpdateMemoryFlags{Range: r, Flags: flags}).Err()
}

// Load copies simulated memory at addr into p, as a run of loads would.
func (th *Thread) Load(addr uintptr, p []byte) error {
	th.m.mu.Lock()
	defer th.m.mu.Unlock()
	if th.m.panic != nil {
		return ErrKernelPanic
	}
	return th.m.k.ReadMemory(th.pid, addr, p)
}

// Store copies p into simulated memory at addr.
func (th *Thread) Store(addr uintptr, p []byte) error {
	th.m.mu.Lock()
	defer th.m.mu.Unlock()
	if th.m.panic != nil {
		return ErrKernelPanic
	}
	return th.m.k.WriteMemory(th.pid, addr, p)
}

// CreateThread starts fn as a new thread of the caller's process.
func (th *Thread) CreateThread(name string, fn Entry, args [4]uintptr) (abi.TID, error) {
	th.m.mu.Lock()
	pc := th.m.register(name, fn)
	th.m.mu.Unlock()

	r := th.syscall(abi.CreateThread{Entry: pc, Args: args})
	if err := r.Expect(abi.ResultThreadID); err != nil {
		th.m.mu.Lock()
		th.m.take(pc)
		th.m.mu.Unlock()
		return 0, err
	}
	th.m.launch(th.pid, r.TID(), pc)
	return r.TID(), nil
}

// JoinThread waits for tid to exit and returns its code.
func (th *Thread) JoinThread(tid abi.TID) (uintptr, error) {
	r := th.syscall(abi.JoinThread{TID: tid})
	if err := r.Expect(abi.ResultScalar1); err != nil {
		return 0, err
	}
	return r.Words[0], nil
}

// Exit ends the calling thread. It does not return.
func (th *Thread) Exit(code uintptr) {
	th.syscall(abi.ExitThread{Code: code})
	runtime.Goexit()
}

// CreateProcess starts a child process running fn.
func (th *Thread) CreateProcess(name string, fn Entry, arg uintptr) (abi.PID, error) {
	m := th.m
	m.mu.Lock()
	pc := m.register(name, fn)
	m.mu.Unlock()

	r := th.syscall(abi.CreateProcess{Entry: pc, Arg: arg})
	if err := r.Expect(abi.ResultProcessID); err != nil {
		m.mu.Lock()
		m.take(pc)
		m.mu.Unlock()
		return 0, err
	}
	pid := r.PID()
	m.mu.Lock()
	_ = m.k.SetName(pid, name)
	m.mu.Unlock()
	m.launch(pid, 1, pc)
	return pid, nil
}

// TerminateProcess ends a child, or the caller when pid is zero.
func (th *Thread) TerminateProcess(pid abi.PID, code uintptr) error {
	return th.syscall(abi.TerminateProcess{PID: pid, Code: code}).Err()
}

// Shutdown asks the machine to stop.
func (th *Thread) Shutdown() error {
	return th.syscall(abi.Shutdown{}).Err()
}
