// Package arch defines the boundary between the register-layout-agnostic
// kernel and a target's saved thread state.
package arch

// Core is one CPU's live register file.
type Core interface {
	ID() int
}

// ThreadContext is a thread's saved register record. A thread's whole live
// state is this record: the kernel resumes it by restoring it onto a core.
type ThreadContext interface {
	// Save copies the live registers of core into the record.
	Save(core Core)
	// Restore loads the record onto core.
	Restore(core Core)
	// SetEntry prepares a fresh thread to start at pc with stack sp.
	SetEntry(pc, sp uintptr, args [4]uintptr)
	// SyscallArgs returns the eight syscall argument registers.
	SyscallArgs() [8]uintptr
	// SetSyscallResult writes the eight result registers and completes the
	// pending syscall, so it must be called exactly once per trap.
	SetSyscallResult(r [8]uintptr)
	PC() uintptr
	NumRegisters() int
	Register(i int) (uintptr, bool)
	SetRegister(i int, v uintptr) bool
}

// Arch creates contexts and cores for one target.
type Arch interface {
	Name() string
	NewContext() ThreadContext
	NewCore(id int) Core
}
