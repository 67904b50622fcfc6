// Package hosted is the register model used when threads are goroutines. The
// goroutine stack holds the real state, so save and restore only move the
// syscall words.
package hosted

import "ember/emberos/arch"

// Register numbering exposed to debuggers.
const (
	RegPC = 0
	RegSP = 1
	RegA0 = 2

	NumRegisters = 10
)

type core struct{ id int }

func (c core) ID() int { return c.id }

// Context holds pc, sp and the eight syscall words.
type Context struct {
	regs    [NumRegisters]uintptr
	pending bool
}

func (c *Context) Save(arch.Core)    {}
func (c *Context) Restore(arch.Core) {}

func (c *Context) SetEntry(pc, sp uintptr, args [4]uintptr) {
	c.regs = [NumRegisters]uintptr{}
	c.regs[RegPC] = pc
	c.regs[RegSP] = sp
	copy(c.regs[RegA0:], args[:])
	c.pending = false
}

// Trap loads syscall arguments on behalf of the calling goroutine.
func (c *Context) Trap(args [8]uintptr) {
	copy(c.regs[RegA0:], args[:])
	c.pending = true
}

// Result reports the syscall result once the kernel has written it.
func (c *Context) Result() ([8]uintptr, bool) {
	var r [8]uintptr
	if c.pending {
		return r, false
	}
	copy(r[:], c.regs[RegA0:])
	return r, true
}

// EntryArgs returns the four arguments set by SetEntry.
func (c *Context) EntryArgs() [4]uintptr {
	var a [4]uintptr
	copy(a[:], c.regs[RegA0:])
	return a
}

func (c *Context) SyscallArgs() [8]uintptr {
	var a [8]uintptr
	copy(a[:], c.regs[RegA0:])
	return a
}

func (c *Context) SetSyscallResult(r [8]uintptr) {
	copy(c.regs[RegA0:], r[:])
	c.pending = false
}

func (c *Context) PC() uintptr       { return c.regs[RegPC] }
func (c *Context) NumRegisters() int { return NumRegisters }

func (c *Context) Register(i int) (uintptr, bool) {
	if i < 0 || i >= NumRegisters {
		return 0, false
	}
	return c.regs[i], true
}

func (c *Context) SetRegister(i int, v uintptr) bool {
	if i < 0 || i >= NumRegisters {
		return false
	}
	c.regs[i] = v
	return true
}

// Arch is the hosted target.
type Arch struct{}

func (Arch) Name() string                   { return "hosted" }
func (Arch) NewContext() arch.ThreadContext { return &Context{} }
func (Arch) NewCore(id int) arch.Core       { return core{id: id} }
