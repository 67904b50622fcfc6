// Package kernel is the process/thread table, server directory, IPC
// dispatcher and scheduler of the Ember microkernel.
//
// A Kernel is a plain object: it holds no locks and has no package-level
// state. The caller serializes every entry point, either by running with
// interrupts masked or, in the hosted backend, under one mutex.
package kernel

import (
	"crypto/rand"
	"fmt"
	"io"

	"go.uber.org/zap"

	"ember/emberos/abi"
	"ember/emberos/arch"
	"ember/emberos/mem"
)

// Config bounds every kernel table.
type Config struct {
	Cores          int
	MaxProcesses   int
	MaxThreads     int
	MaxServers     int
	MaxConnections int
	QueueDepth     int
	Pages          int
	// StackPages is the stack the kernel maps for new threads. Zero leaves
	// stacks to the caller, which is what the hosted backend wants.
	StackPages   int
	QuantumTicks int
	Layout       mem.Layout
}

// DefaultConfig returns limits sized for a small device.
func DefaultConfig() Config {
	return Config{
		Cores:          1,
		MaxProcesses:   32,
		MaxThreads:     16,
		MaxServers:     64,
		MaxConnections: 32,
		QueueDepth:     8,
		Pages:          1024,
		StackPages:     0,
		QuantumTicks:   10,
		Layout:         mem.DefaultLayout,
	}
}

// Validate reports limits the table encodings cannot represent.
func (c Config) Validate() error {
	switch {
	case c.Cores < 1:
		return fmt.Errorf("kernel config: cores %d < 1", c.Cores)
	case c.MaxProcesses < 1 || c.MaxProcesses > 255:
		return fmt.Errorf("kernel config: max processes %d not in 1..255", c.MaxProcesses)
	case c.MaxThreads < 1 || c.MaxThreads > 255:
		return fmt.Errorf("kernel config: max threads %d not in 1..255", c.MaxThreads)
	case c.MaxServers < 1 || c.MaxServers > 255:
		return fmt.Errorf("kernel config: max servers %d not in 1..255", c.MaxServers)
	case c.MaxConnections < 2 || c.MaxConnections > 256:
		return fmt.Errorf("kernel config: max connections %d not in 2..256", c.MaxConnections)
	case c.QueueDepth < 1 || c.QueueDepth >= int(noSlot):
		return fmt.Errorf("kernel config: queue depth %d not in 1..%d", c.QueueDepth, noSlot-1)
	case c.Pages < 1:
		return fmt.Errorf("kernel config: pages %d < 1", c.Pages)
	case c.StackPages < 0:
		return fmt.Errorf("kernel config: stack pages %d < 0", c.StackPages)
	case c.QuantumTicks < 1:
		return fmt.Errorf("kernel config: quantum %d < 1", c.QuantumTicks)
	}
	return nil
}

// Option customizes a Kernel.
type Option func(*Kernel)

// WithLogger routes kernel diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.log = l
		}
	}
}

// WithObserver reports kernel events to o.
func WithObserver(o Observer) Option {
	return func(k *Kernel) {
		if o != nil {
			k.obs = o
		}
	}
}

// WithEntropy sets the source of server IDs.
func WithEntropy(r io.Reader) Option {
	return func(k *Kernel) {
		if r != nil {
			k.entropy = r
		}
	}
}

// Kernel is the whole kernel state.
type Kernel struct {
	cfg  Config
	arch arch.Arch
	mem  *mem.Memory

	procs   []*Process // index pid-1
	servers []*server  // index is the server index carried in MessageSender
	bySID   map[abi.SID]uint8

	cores    []*core
	nextCore int

	now      uint64
	shutdown bool

	entropy io.Reader
	log     *zap.Logger
	obs     Observer
	panics  panicState
}

// New builds a kernel for target a.
func New(cfg Config, a arch.Arch, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("kernel: nil arch")
	}
	k := &Kernel{
		cfg:     cfg,
		arch:    a,
		mem:     mem.New(cfg.Pages),
		procs:   make([]*Process, cfg.MaxProcesses),
		servers: make([]*server, cfg.MaxServers),
		bySID:   make(map[abi.SID]uint8),
		entropy: rand.Reader,
		log:     zap.NewNop(),
		obs:     nopObserver{},
	}
	for _, opt := range opts {
		opt(k)
	}
	k.cores = make([]*core, cfg.Cores)
	for i := range k.cores {
		k.cores[i] = &core{id: i, hw: a.NewCore(i)}
	}
	k.log.Debug("kernel initialized",
		zap.String("arch", a.Name()),
		zap.Int("cores", cfg.Cores),
		zap.Int("pages", cfg.Pages),
	)
	return k, nil
}

// Config returns the limits the kernel was built with.
func (k *Kernel) Config() Config { return k.cfg }

// Arch returns the target the kernel runs on.
func (k *Kernel) Arch() arch.Arch { return k.arch }

// Now returns the tick count.
func (k *Kernel) Now() uint64 { return k.now }

// ShutdownRequested reports whether a process issued Shutdown.
func (k *Kernel) ShutdownRequested() bool { return k.shutdown }

// FreePages returns the unallocated physical page count.
func (k *Kernel) FreePages() int { return k.mem.FreePages() }

func (k *Kernel) newSID() (abi.SID, error) {
	for {
		var b [16]byte
		if _, err := io.ReadFull(k.entropy, b[:]); err != nil {
			return abi.SID{}, fmt.Errorf("read entropy: %w", err)
		}
		sid := abi.SIDFromBytes(b)
		if sid.IsZero() {
			continue
		}
		if _, taken := k.bySID[sid]; !taken {
			return sid, nil
		}
	}
}
