// Package riscv is the reference target: a RISC-V hart whose syscall
// arguments and results travel in a0..a7.
package riscv

import "ember/emberos/arch"

const (
	// NumRegisters counts x0..x31 plus sepc.
	NumRegisters = 33

	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegSEPC = 32

	ecallSize = 4
)

// Hart is one core's live register file.
type Hart struct {
	id   int
	Regs [32]uintptr
	PC   uintptr
}

func (h *Hart) ID() int { return h.id }

// Context is the saved register record of one thread.
type Context struct {
	regs [32]uintptr
	sepc uintptr
}

func (c *Context) Save(core arch.Core) {
	h := core.(*Hart)
	c.regs = h.Regs
	c.regs[0] = 0
	c.sepc = h.PC
}

func (c *Context) Restore(core arch.Core) {
	h := core.(*Hart)
	h.Regs = c.regs
	h.PC = c.sepc
}

func (c *Context) SetEntry(pc, sp uintptr, args [4]uintptr) {
	c.regs = [32]uintptr{}
	c.sepc = pc
	c.regs[RegSP] = sp
	copy(c.regs[RegA0:], args[:])
}

func (c *Context) SyscallArgs() [8]uintptr {
	var a [8]uintptr
	copy(a[:], c.regs[RegA0:RegA0+8])
	return a
}

func (c *Context) SetSyscallResult(r [8]uintptr) {
	copy(c.regs[RegA0:RegA0+8], r[:])
	c.sepc += ecallSize
}

func (c *Context) PC() uintptr { return c.sepc }

func (c *Context) NumRegisters() int { return NumRegisters }

func (c *Context) Register(i int) (uintptr, bool) {
	switch {
	case i == RegSEPC:
		return c.sepc, true
	case i >= 0 && i < 32:
		return c.regs[i], true
	}
	return 0, false
}

func (c *Context) SetRegister(i int, v uintptr) bool {
	switch {
	case i == RegSEPC:
		c.sepc = v
	case i > 0 && i < 32:
		c.regs[i] = v
	default:
		return false
	}
	return true
}

// Arch is the riscv target.
type Arch struct{}

func (Arch) Name() string                   { return "riscv" }
func (Arch) NewContext() arch.ThreadContext { return &Context{} }
func (Arch) NewCore(id int) arch.Core       { return &Hart{id: id} }
