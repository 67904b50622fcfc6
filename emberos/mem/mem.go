// Package mem owns physical pages and per-process page tables, and implements
// the lend/move/return operations used for zero-copy IPC.
//
// Every operation validates its whole range before it edits a page table, so a
// failed call leaves all tables untouched.
package mem

import (
	"ember/emberos/abi"
)

// Layout declares the regions of a process address space.
type Layout struct {
	// MapBase..MapTop receives MapMemory allocations.
	MapBase, MapTop uintptr
	// LendBase..LendTop receives borrowed and moved ranges.
	LendBase, LendTop uintptr
}

// DefaultLayout is used for every process unless the kernel is told otherwise.
var DefaultLayout = Layout{
	MapBase:  0x2000_0000,
	MapTop:   0x4000_0000,
	LendBase: 0x4000_0000,
	LendTop:  0x6000_0000,
}

func (l Layout) contains(r abi.Range) bool {
	return (r.Base >= l.MapBase && r.End() <= l.MapTop) || (r.Base >= l.LendBase && r.End() <= l.LendTop)
}

type pte struct {
	ppn   int
	flags abi.MemoryFlags
	// borrowed marks a page that belongs to another process for the duration of a lend.
	borrowed bool
	// lent marks an owned page that is currently mapped into a borrower.
	lent bool
	// reserved marks a kernel-managed page, such as a thread stack. The
	// process may use and lend it but cannot unmap, move or reprotect it.
	reserved bool
}

// Space is one process's page table.
type Space struct {
	pid    abi.PID
	layout Layout
	pages  map[uintptr]pte // keyed by virtual page number

	mapHint  uintptr
	lendHint uintptr
}

// PID returns the owning process.
func (s *Space) PID() abi.PID { return s.pid }

// Pages returns the number of mapped pages, owned or borrowed.
func (s *Space) Pages() int { return len(s.pages) }

// Translate returns the physical page and flags for addr.
func (s *Space) Translate(addr uintptr) (ppn int, flags abi.MemoryFlags, ok bool) {
	e, ok := s.pages[addr/abi.PageSize]
	if !ok {
		return 0, 0, false
	}
	return e.ppn, e.flags, true
}

// Borrowed reports whether addr is mapped from another process's lend.
func (s *Space) Borrowed(addr uintptr) bool {
	return s.pages[addr/abi.PageSize].borrowed
}

// Memory is the physical page pool.
type Memory struct {
	ram   []byte
	owner []abi.PID
	free  []int
}

// New returns a pool of n zeroed pages.
func New(n int) *Memory {
	m := &Memory{
		ram:   make([]byte, n*abi.PageSize),
		owner: make([]abi.PID, n),
		free:  make([]int, 0, n),
	}
	for i := n - 1; i >= 0; i-- {
		m.free = append(m.free, i)
	}
	return m
}

// NewSpace returns an empty address space for pid.
func (m *Memory) NewSpace(pid abi.PID, layout Layout) *Space {
	return &Space{
		pid:      pid,
		layout:   layout,
		pages:    make(map[uintptr]pte),
		mapHint:  layout.MapBase,
		lendHint: layout.LendBase,
	}
}

// FreePages returns the number of unallocated physical pages.
func (m *Memory) FreePages() int { return len(m.free) }

// Owner returns the process owning physical page ppn, or zero.
func (m *Memory) Owner(ppn int) abi.PID {
	if ppn < 0 || ppn >= len(m.owner) {
		return 0
	}
	return m.owner[ppn]
}

func (m *Memory) page(ppn int) []byte {
	return m.ram[ppn*abi.PageSize : (ppn+1)*abi.PageSize]
}

// findFree returns the first unmapped run of n pages in [lo, hi), starting at hint.
func (s *Space) findFree(lo, hi, hint uintptr, n int) (uintptr, bool) {
	size := uintptr(n) * abi.PageSize
	if hint < lo || hint >= hi {
		hint = lo
	}
	try := func(from, to uintptr) (uintptr, bool) {
		run := 0
		start := from
		for va := from; va+abi.PageSize <= to; va += abi.PageSize {
			if _, used := s.pages[va/abi.PageSize]; used {
				run = 0
				start = va + abi.PageSize
				continue
			}
			run++
			if run == n {
				return start, true
			}
		}
		return 0, false
	}
	if va, ok := try(hint, hi); ok {
		return va, true
	}
	if hint > lo {
		return try(lo, min(hint+size, hi))
	}
	return 0, false
}

func (s *Space) rangeFree(r abi.Range) bool {
	for va := r.Base; va < r.End(); va += abi.PageSize {
		if _, used := s.pages[va/abi.PageSize]; used {
			return false
		}
	}
	return true
}

// owned checks that every page of r is owned by s, not lent, and carries want.
func (s *Space) owned(r abi.Range, want abi.MemoryFlags) error {
	if !s.layout.contains(r) {
		return abi.ErrBadAddress
	}
	for va := r.Base; va < r.End(); va += abi.PageSize {
		e, ok := s.pages[va/abi.PageSize]
		if !ok || e.borrowed {
			return abi.ErrBadAddress
		}
		if e.lent {
			return abi.ErrMemoryInUse
		}
		if !e.flags.Has(want) {
			return abi.ErrShareViolation
		}
	}
	return nil
}

// disposable is owned for ranges the process may give up: no page of r may
// be reserved by the kernel.
func (s *Space) disposable(r abi.Range) error {
	if err := s.owned(r, 0); err != nil {
		return err
	}
	for va := r.Base; va < r.End(); va += abi.PageSize {
		if s.pages[va/abi.PageSize].reserved {
			return abi.ErrAccessDenied
		}
	}
	return nil
}
