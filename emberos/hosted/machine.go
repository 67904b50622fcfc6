// Package hosted runs the kernel on a development machine. Every simulated
// thread is a goroutine locked to its own OS thread; one mutex serializes
// all kernel entry, and one condition variable per virtual core hands that
// core from goroutine to goroutine.
package hosted

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"ember/emberos/abi"
	hostarch "ember/emberos/arch/hosted"
	"ember/emberos/kernel"
)

// Entry is the body of a simulated thread. Returning from it exits the
// thread with code zero.
type Entry func(th *Thread, args [4]uintptr)

// FaultCode is the exit code of a process whose thread panicked.
const FaultCode = ^uintptr(0)

// ErrKernelPanic reports that the kernel hit a fatal inconsistency and the
// machine stopped running threads.
var ErrKernelPanic = errors.New("hosted: kernel panic")

const (
	entryBase   = 0x1000_0000
	entryStride = 0x100
)

// Config configures a Machine.
type Config struct {
	Kernel   kernel.Config
	Logger   *zap.Logger
	Observer kernel.Observer
	// Entropy overrides the source of server IDs.
	Entropy io.Reader
}

// Machine owns one kernel and the goroutines that play its threads.
type Machine struct {
	mu    sync.Mutex
	k     *kernel.Kernel
	cores []*sync.Cond
	log   *zap.Logger

	// entries holds thread bodies between registration and launch.
	entries map[uintptr]Entry
	names   map[uintptr]string
	nextPC  uintptr

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
	booted   bool
	panic    *kernel.PanicInfo
}

// New builds a machine with an idle kernel.
func New(cfg Config) (*Machine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	k, err := kernel.New(cfg.Kernel, hostarch.Arch{},
		kernel.WithLogger(log.Named("kernel")),
		kernel.WithObserver(cfg.Observer),
		kernel.WithEntropy(cfg.Entropy),
	)
	if err != nil {
		return nil, fmt.Errorf("hosted: %w", err)
	}
	m := &Machine{
		k:       k,
		log:     log,
		entries: make(map[uintptr]Entry),
		names:   make(map[uintptr]string),
		done:    make(chan struct{}),
	}
	m.cores = make([]*sync.Cond, cfg.Kernel.Cores)
	for i := range m.cores {
		m.cores[i] = sync.NewCond(&m.mu)
	}
	return m, nil
}

// register records fn and returns the program counter that names it until
// the thread launches. Callers hold m.mu.
func (m *Machine) register(name string, fn Entry) uintptr {
	pc := entryBase + m.nextPC*entryStride
	m.nextPC++
	m.entries[pc] = fn
	m.names[pc] = name
	return pc
}

// take removes the entry registered at pc. Callers hold m.mu.
func (m *Machine) take(pc uintptr) (Entry, string) {
	fn, name := m.entries[pc], m.names[pc]
	delete(m.entries, pc)
	delete(m.names, pc)
	return fn, name
}

// Spawn starts a boot process running fn with arg.
func (m *Machine) Spawn(name string, fn Entry, arg uintptr) (abi.PID, error) {
	var (
		pc  uintptr
		pid abi.PID
	)
	err := m.enter(func() error {
		pc = m.register(name, fn)
		var err error
		if pid, err = m.k.CreateProcess(0, name, pc, arg); err != nil {
			m.take(pc)
			return err
		}
		m.booted = true
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("spawn %s: %w", name, err)
	}
	m.launch(pid, 1, pc)
	return pid, nil
}

// launch starts the goroutine for a thread the kernel just created from the
// entry registered at pc.
func (m *Machine) launch(pid abi.PID, tid abi.TID, pc uintptr) {
	m.mu.Lock()
	fn, name := m.take(pc)
	ctx, ok := m.k.Context(pid, tid)
	core, _ := m.k.ThreadCore(pid, tid)
	var th *Thread
	var args [4]uintptr
	if ok {
		hctx := ctx.(*hostarch.Context)
		th = &Thread{m: m, pid: pid, tid: tid, core: core, ctx: hctx}
		args = hctx.EntryArgs()
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if fn == nil {
		m.log.Error("no entry point", zap.Uintptr("pc", pc), zap.Uint8("pid", uint8(pid)))
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		m.mu.Lock()
		alive := th.await()
		m.mu.Unlock()
		if !alive {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				m.fault(th, name, r)
			}
		}()
		fn(th, args)
		th.Exit(0)
	}()
}

// fault ends a process whose thread panicked, as a trap on an illegal
// instruction would. A kernel panic that escaped a trap halts the machine.
func (m *Machine) fault(th *Thread, name string, r any) {
	m.mu.Lock()
	info, ok := r.(kernel.PanicInfo)
	if !ok && m.k.InPanicMode() {
		info, ok = kernel.PanicInfo{Value: r}, true
	}
	if ok {
		m.halt(info)
	}
	m.mu.Unlock()
	if ok {
		return
	}
	_ = m.enter(func() error {
		m.log.Error("thread fault",
			zap.Uint8("pid", uint8(th.pid)),
			zap.Uint8("tid", uint8(th.tid)),
			zap.String("entry", name),
			zap.Any("panic", r),
		)
		if th.alive() {
			_ = m.k.Terminate(th.pid, FaultCode)
		}
		return nil
	})
}

// enter runs fn as one kernel entry with m.mu held and settles afterwards.
// A kernel panic raised by fn halts the machine and yields ErrKernelPanic.
func (m *Machine) enter(fn func() error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panic != nil {
		return ErrKernelPanic
	}
	defer m.recoverKernel(&err)
	err = fn()
	m.settle()
	return err
}

// recoverKernel turns a kernel panic in flight into ErrKernelPanic. Any other
// panic keeps unwinding. Callers hold m.mu.
func (m *Machine) recoverKernel(err *error) {
	r := recover()
	if r == nil {
		return
	}
	info, ok := r.(kernel.PanicInfo)
	if !ok {
		if !m.k.InPanicMode() {
			panic(r)
		}
		info = kernel.PanicInfo{Value: r}
	}
	m.halt(info)
	*err = ErrKernelPanic
}

// halt stops the machine for good after a kernel panic. Every thread leaves
// at its next kernel entry. Callers hold m.mu.
func (m *Machine) halt(info kernel.PanicInfo) {
	if m.panic != nil {
		return
	}
	m.panic = &info
	m.log.Error("kernel panic, machine halted",
		zap.Uint8("pid", uint8(info.PID)),
		zap.Uint8("tid", uint8(info.TID)),
		zap.Any("value", info.Value),
	)
	m.broadcast()
	m.doneOnce.Do(func() { close(m.done) })
}

// Err returns ErrKernelPanic once the kernel has panicked.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panic != nil {
		return ErrKernelPanic
	}
	return nil
}

// broadcast wakes every goroutine waiting for a core. Callers hold m.mu.
func (m *Machine) broadcast() {
	for _, c := range m.cores {
		c.Broadcast()
	}
}

// settle runs after every kernel entry. Callers hold m.mu.
func (m *Machine) settle() {
	m.broadcast()
	if m.k.ShutdownRequested() || (m.booted && m.k.LiveProcesses() == 0) {
		m.doneOnce.Do(func() { close(m.done) })
	}
}

// Tick forwards n timer ticks to the scheduler. It does nothing once the
// machine has halted.
func (m *Machine) Tick(n int) {
	_ = m.enter(func() error {
		m.k.Tick(n)
		return nil
	})
}

// Terminate ends pid from outside the simulation.
func (m *Machine) Terminate(pid abi.PID, code uintptr) error {
	return m.enter(func() error { return m.k.Terminate(pid, code) })
}

// Post delivers a kernel scalar to sid, as a device interrupt would.
func (m *Machine) Post(sid abi.SID, msg abi.Message) error {
	return m.enter(func() error { return m.k.Post(sid, msg) })
}

// Done is closed once a process requests shutdown, no process is left or
// the kernel panics.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Wait blocks until Done or ctx ends. It returns ErrKernelPanic when the
// machine stopped because of a kernel panic.
func (m *Machine) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates every process and waits for their goroutines. A thread
// busy outside the kernel is reaped at its next syscall.
func (m *Machine) Stop() {
	_ = m.enter(func() error {
		for _, p := range m.k.Snapshot().Processes {
			_ = m.k.Terminate(p.PID, 0)
		}
		return nil
	})
	m.wg.Wait()
}

// Snapshot returns a consistent view of the kernel tables.
func (m *Machine) Snapshot() kernel.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.k.Snapshot()
}

// ThreadState reports a thread's scheduling state.
func (m *Machine) ThreadState(pid abi.PID, tid abi.TID) kernel.ThreadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.k.ThreadState(pid, tid)
}

// ProcessState reports a process's state.
func (m *Machine) ProcessState(pid abi.PID) kernel.ProcessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.k.ProcessState(pid)
}

// ExitCode returns the exit code of a terminated process.
func (m *Machine) ExitCode(pid abi.PID) (uintptr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.k.ExitCode(pid)
}

// Inspect runs fn with the kernel locked. It is meant for debug tooling.
func (m *Machine) Inspect(fn func(k *kernel.Kernel)) error {
	return m.enter(func() error {
		fn(m.k)
		return nil
	})
}
